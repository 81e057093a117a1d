package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"github.com/meditransport/medride/internal/models"
)

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

var ErrWrongTokenUse = errors.New("token used for the wrong purpose")

// Claims represents the JWT claims of both halves of a token pair
type Claims struct {
	UserID string      `json:"user_id"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
	Use    string      `json:"use"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and checks access and refresh tokens. The two halves are
// signed with different secrets so one can never stand in for the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// IssuedPair is a freshly minted pair plus the refresh session it opens
type IssuedPair struct {
	Tokens           models.TokenPair
	RefreshID        string
	RefreshExpiresAt time.Time
}

// NewTokenIssuer creates an issuer
func NewTokenIssuer(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, fmt.Errorf("JWT secrets not initialized")
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("access and refresh secrets must differ")
	}
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

// Issue creates a new pair for account
func (i *TokenIssuer) Issue(account *Account) (*IssuedPair, error) {
	now := i.now()

	access, err := i.sign(account, useAccess, ulid.Make().String(), now, now.Add(i.accessTTL), i.accessSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshID := ulid.Make().String()
	refreshExpiry := now.Add(i.refreshTTL)
	refresh, err := i.sign(account, useRefresh, refreshID, now, refreshExpiry, i.refreshSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &IssuedPair{
		Tokens:           models.TokenPair{AccessToken: access, RefreshToken: refresh},
		RefreshID:        refreshID,
		RefreshExpiresAt: refreshExpiry.UTC(),
	}, nil
}

// ParseAccess validates an access token and returns its claims
func (i *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return i.parse(token, useAccess, i.accessSecret)
}

// ParseRefresh validates a refresh token and returns its claims. The ID claim
// names the refresh session.
func (i *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return i.parse(token, useRefresh, i.refreshSecret)
}

func (i *TokenIssuer) sign(account *Account, use, id string, issued, expires time.Time, secret []byte) (string, error) {
	claims := Claims{
		UserID: account.ID,
		Email:  account.Email,
		Role:   account.Role,
		Use:    use,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (i *TokenIssuer) parse(tokenString, use string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Use != use {
		return nil, ErrWrongTokenUse
	}
	return claims, nil
}
