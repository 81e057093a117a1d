package devserver

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/meditransport/medride/internal/models"
)

const (
	bearerPrefix    = "Bearer "
	requestIDHeader = "X-Request-ID"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
	ErrInvalidToken      = errors.New("invalid token")
	ErrUserNotFound      = errors.New("user not found")
)

// Principal is the authenticated account behind a request
type Principal struct {
	Account *Account
	Claims  *Claims
}

func setPrincipal(c *gin.Context, p *Principal) {
	c.Set("principal", p)
}

// GetPrincipal returns the principal set by JWTAuthMiddleware
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get("principal")
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Str("request_id", c.GetString("request_id")).Msg(message)
	c.AbortWithStatusJSON(statusCode, gin.H{"error": message})
}

// JWTAuthMiddleware validates the access token and loads its account
func JWTAuthMiddleware(db *gorm.DB, issuer *TokenIssuer, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := extractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			var message string
			switch err {
			case ErrMissingAuthHeader:
				message = "Missing authorization header"
			case ErrInvalidAuthFormat:
				message = "Invalid authorization header format"
			case ErrEmptyToken:
				message = "Empty token"
			}
			respondWithError(c, log, http.StatusUnauthorized, err, message)
			return
		}

		claims, err := issuer.ParseAccess(token)
		if err != nil {
			respondWithError(c, log, http.StatusUnauthorized, err, "Invalid or expired token")
			return
		}

		var account Account
		if err := db.Where("id = ?", claims.UserID).First(&account).Error; err != nil {
			respondWithError(c, log, http.StatusUnauthorized, ErrUserNotFound, "User not found")
			return
		}

		setPrincipal(c, &Principal{Account: &account, Claims: claims})
		c.Next()
	}
}

// RoleMiddleware admits only the given roles
func RoleMiddleware(log zerolog.Logger, roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, exists := GetPrincipal(c)
		if !exists {
			respondWithError(c, log, http.StatusUnauthorized, errors.New("no principal"), "Unauthorized")
			return
		}

		for _, role := range roles {
			if p.Account.Role == role {
				c.Next()
				return
			}
		}
		respondWithError(c, log, http.StatusForbidden, errors.New("role not permitted"), "Access denied")
	}
}

// requestIDMiddleware propagates the caller's request ID or assigns one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// loggingMiddleware logs every request with zerolog
func loggingMiddleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// loginLimiter throttles login attempts per client IP
type loginLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	if burst < 1 {
		burst = 1
	}
	return &loginLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastAccess = time.Now()
	return e.limiter.Allow()
}

// sweep forgets clients idle since before cutoff
func (l *loginLimiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		if e.lastAccess.Before(cutoff) {
			delete(l.entries, key)
		}
	}
}

func (l *loginLimiter) middleware(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.limit <= 0 {
			c.Next()
			return
		}
		if !l.allow(c.ClientIP()) {
			retryAfter := int(math.Ceil(1 / float64(l.limit)))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			respondWithError(c, log, http.StatusTooManyRequests, errors.New("rate limited"), "Too many login attempts, try again later")
			return
		}
		c.Next()
	}
}
