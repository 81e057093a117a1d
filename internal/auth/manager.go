// Package auth orchestrates the client session: login, registration, logout,
// startup token verification and token refresh against the remote API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/meditransport/medride/internal/apierr"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/session"
	"github.com/meditransport/medride/internal/tokenstore"
)

var (
	// ErrNoRefreshToken is returned by RefreshToken when nothing is stored
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrSessionEnded is returned when a refresh resolves after the session was
	// logged out or replaced by a new login; its result is discarded
	ErrSessionEnded = errors.New("session ended during token refresh")
)

// refreshTimeout bounds a shared refresh once it no longer follows any caller
const refreshTimeout = 30 * time.Second

// API is the remote auth surface the manager drives
type API interface {
	Login(ctx context.Context, email, password string) (*models.AuthResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error)
	Verify(ctx context.Context, accessToken string) (*models.VerifyResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*models.RefreshResponse, error)
}

// Navigator performs navigation side effects
type Navigator interface {
	Navigate(path string) error
}

// Manager owns the token store and the session state. It is the only writer
// of either.
type Manager struct {
	api      API
	tokens   *tokenstore.Tokens
	state    *session.State
	nav      Navigator
	validate *validator.Validate
	logger   zerolog.Logger

	refreshGroup singleflight.Group
}

// NewManager wires the manager to its collaborators
func NewManager(api API, tokens *tokenstore.Tokens, state *session.State, nav Navigator, logger zerolog.Logger) *Manager {
	return &Manager{
		api:      api,
		tokens:   tokens,
		state:    state,
		nav:      nav,
		validate: newValidator(),
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

// InitializeAuth restores the session from a stored access token. It makes at
// most one verification call; any failure logs the session out.
func (m *Manager) InitializeAuth(ctx context.Context) error {
	access, err := m.tokens.AccessToken(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load stored token: %w", err)
	}

	resp, err := m.api.Verify(ctx, access)
	if err != nil {
		err = apierr.Normalize(err)
		m.logger.Warn().Err(err).Msg("Stored session could not be verified")
		if logoutErr := m.Logout(ctx); logoutErr != nil {
			m.logger.Error().Err(logoutErr).Msg("Failed to clear unverified session")
		}
		return err
	}

	m.state.Authenticate(resp.User, session.Restored)
	m.logger.Debug().Str("user_id", resp.User.ID).Msg("Session restored")
	return nil
}

// Login authenticates with email and password. On failure the session is left
// unchanged and the normalized error is returned.
func (m *Manager) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	form := models.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := validateForm(m.validate, form); err != nil {
		return nil, err
	}

	resp, err := m.api.Login(ctx, form.Email, form.Password)
	if err != nil {
		err = apierr.Normalize(err)
		m.logger.Error().Err(err).Str("email", form.Email).Msg("Login failed")
		return nil, err
	}

	if err := m.establish(ctx, resp, session.LoggedIn); err != nil {
		return nil, err
	}
	m.logger.Info().Str("user_id", resp.User.ID).Str("role", string(resp.User.Role)).Msg("Logged in")
	return resp, nil
}

// Register creates an account and signs it in. Driver fields are dropped for
// every other role.
func (m *Manager) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Role != models.RoleDriver {
		req.LicenseNumber = ""
		req.VehicleType = ""
	}

	if err := validateForm(m.validate, req); err != nil {
		return nil, err
	}

	resp, err := m.api.Register(ctx, req)
	if err != nil {
		err = apierr.Normalize(err)
		m.logger.Error().Err(err).Str("email", req.Email).Msg("Registration failed")
		return nil, err
	}

	if err := m.establish(ctx, resp, session.Registered); err != nil {
		return nil, err
	}
	m.logger.Info().Str("user_id", resp.User.ID).Str("role", string(resp.User.Role)).Msg("Registered")
	return resp, nil
}

// establish stores the pair, then publishes the new user
func (m *Manager) establish(ctx context.Context, resp *models.AuthResponse, kind session.EventKind) error {
	if err := m.tokens.SavePair(ctx, resp.Tokens); err != nil {
		return fmt.Errorf("failed to save authentication tokens: %w", err)
	}
	m.state.Authenticate(resp.User, kind)
	return nil
}

// Logout clears the tokens and the session and navigates to the landing
// screen. Safe to call when already logged out.
func (m *Manager) Logout(ctx context.Context) error {
	return m.logout(ctx, session.LoggedOut)
}

// ForceLogout ends a session whose tokens can no longer be refreshed
func (m *Manager) ForceLogout(ctx context.Context) error {
	return m.logout(ctx, session.RefreshLoggedOut)
}

func (m *Manager) logout(ctx context.Context, kind session.EventKind) error {
	clearErr := m.tokens.Clear(ctx)
	if clearErr != nil {
		m.logger.Error().Err(clearErr).Msg("Failed to clear stored tokens")
	}

	m.state.Reset(kind)

	if m.nav != nil {
		if err := m.nav.Navigate(routes.Welcome); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to navigate after logout")
		}
	}

	m.logger.Debug().Str("reason", kind.String()).Msg("Logged out")
	return clearErr
}

// RefreshToken exchanges the stored refresh token for a new pair. It fails
// with ErrNoRefreshToken, without a network call, when none is stored.
// currentUser is never touched. Concurrent callers share one remote call,
// which outlives a caller whose ctx ends first; that caller gets ctx.Err().
func (m *Manager) RefreshToken(ctx context.Context) error {
	gen := m.tokens.Generation()

	refresh, err := m.tokens.RefreshToken(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return ErrNoRefreshToken
	}
	if err != nil {
		return fmt.Errorf("failed to load refresh token: %w", err)
	}

	ch := m.refreshGroup.DoChan(refresh, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, m.refresh(rctx, gen, refresh)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

func (m *Manager) refresh(ctx context.Context, gen uint64, refresh string) error {
	resp, err := m.api.Refresh(ctx, refresh)
	if err != nil {
		err = apierr.Normalize(err)
		m.logger.Warn().Err(err).Msg("Token refresh failed")
		return err
	}

	pair := resp.Tokens
	if pair.RefreshToken == "" {
		// refresh token did not rotate
		pair.RefreshToken = refresh
	}
	if pair.AccessToken == "" {
		return &apierr.Error{Kind: apierr.ServerFailure, Message: "refresh response carried no access token"}
	}

	written, err := m.tokens.SavePairIf(ctx, gen, pair)
	if err != nil {
		return fmt.Errorf("failed to save refreshed tokens: %w", err)
	}
	if !written {
		m.logger.Debug().Msg("Discarding refresh result from an ended session")
		return ErrSessionEnded
	}

	m.logger.Debug().Msg("Access token refreshed")
	return nil
}

// HasRole reports whether the signed-in user holds one of roles
func (m *Manager) HasRole(roles ...models.Role) bool {
	return m.state.HasRole(roles...)
}

// CurrentUser returns a copy of the signed-in user, or nil
func (m *Manager) CurrentUser() *models.User {
	return m.state.CurrentUser()
}

// IsAuthenticated reports the session flag
func (m *Manager) IsAuthenticated() bool {
	return m.state.IsAuthenticated()
}

// AccessToken returns the stored access token
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	return m.tokens.AccessToken(ctx)
}

// DashboardRoute returns the dashboard for the signed-in user's role
func (m *Manager) DashboardRoute() (string, bool) {
	snap := m.state.Snapshot()
	if !snap.IsAuthenticated || snap.User == nil {
		return "", false
	}
	return routes.DashboardFor(snap.User.Role), true
}

// NavigateToRoleDashboard sends the signed-in user to their dashboard. It does
// nothing when unauthenticated.
func (m *Manager) NavigateToRoleDashboard() (string, bool) {
	route, ok := m.DashboardRoute()
	if !ok {
		return "", false
	}
	if m.nav != nil {
		if err := m.nav.Navigate(route); err != nil {
			m.logger.Warn().Err(err).Str("route", route).Msg("Failed to navigate to dashboard")
		}
	}
	return route, true
}

// RememberEmail stores email for pre-filling the login form
func (m *Manager) RememberEmail(ctx context.Context, email string) error {
	return m.tokens.Store().Set(ctx, tokenstore.RememberedEmailKey, email)
}

// ForgetEmail removes the remembered email
func (m *Manager) ForgetEmail(ctx context.Context) error {
	return m.tokens.Store().Clear(ctx, tokenstore.RememberedEmailKey)
}

// RememberedEmail returns the remembered email, or "" when none is stored
func (m *Manager) RememberedEmail(ctx context.Context) (string, error) {
	email, err := m.tokens.Store().Get(ctx, tokenstore.RememberedEmailKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", nil
	}
	return email, err
}
