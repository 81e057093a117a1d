package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditransport/medride/internal/apierr"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/session"
	"github.com/meditransport/medride/internal/tokenstore"
)

type fakeAPI struct {
	loginCalls    atomic.Int32
	registerCalls atomic.Int32
	verifyCalls   atomic.Int32
	refreshCalls  atomic.Int32

	login    func(email, password string) (*models.AuthResponse, error)
	register func(req models.RegisterRequest) (*models.AuthResponse, error)
	verify   func(token string) (*models.VerifyResponse, error)
	refresh  func(token string) (*models.RefreshResponse, error)
}

func (f *fakeAPI) Login(_ context.Context, email, password string) (*models.AuthResponse, error) {
	f.loginCalls.Add(1)
	return f.login(email, password)
}

func (f *fakeAPI) Register(_ context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	f.registerCalls.Add(1)
	return f.register(req)
}

func (f *fakeAPI) Verify(_ context.Context, token string) (*models.VerifyResponse, error) {
	f.verifyCalls.Add(1)
	return f.verify(token)
}

func (f *fakeAPI) Refresh(_ context.Context, token string) (*models.RefreshResponse, error) {
	f.refreshCalls.Add(1)
	return f.refresh(token)
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Navigate(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

func (n *recordingNavigator) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.paths) == 0 {
		return ""
	}
	return n.paths[len(n.paths)-1]
}

type fixture struct {
	api    *fakeAPI
	store  *tokenstore.Memory
	tokens *tokenstore.Tokens
	state  *session.State
	nav    *recordingNavigator
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:   &fakeAPI{},
		store: tokenstore.NewMemory(),
		state: session.NewState(),
		nav:   &recordingNavigator{},
	}
	f.tokens = tokenstore.NewTokens(f.store)
	f.mgr = NewManager(f.api, f.tokens, f.state, f.nav, zerolog.Nop())
	return f
}

func (f *fixture) seed(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, f.tokens.SavePair(context.Background(), models.TokenPair{AccessToken: access, RefreshToken: refresh}))
}

var patient = models.User{ID: "u-1", Email: "patient@demo.com", Name: "Pat Ient", Role: models.RolePatient}

func TestLogin_EstablishesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.api.login = func(email, password string) (*models.AuthResponse, error) {
		assert.Equal(t, "patient@demo.com", email)
		return &models.AuthResponse{
			User:   patient,
			Tokens: models.TokenPair{AccessToken: "A1", RefreshToken: "R1"},
		}, nil
	}

	var events []session.EventKind
	f.state.Subscribe(func(ev session.Event) { events = append(events, ev.Kind) })

	_, err := f.mgr.Login(ctx, " patient@demo.com ", "password123")
	require.NoError(t, err)

	pair, err := f.tokens.Pair(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}, pair)
	assert.True(t, f.mgr.IsAuthenticated())
	assert.Equal(t, models.RolePatient, f.mgr.CurrentUser().Role)
	assert.Equal(t, []session.EventKind{session.LoggedIn}, events)

	route, ok := f.mgr.NavigateToRoleDashboard()
	assert.True(t, ok)
	assert.Equal(t, routes.PatientDashboard, route)
	assert.Equal(t, routes.PatientDashboard, f.nav.last())
}

func TestLogin_FailureLeavesSessionUnchanged(t *testing.T) {
	f := newFixture(t)
	f.api.login = func(string, string) (*models.AuthResponse, error) {
		return nil, &apierr.Error{Kind: apierr.Unauthorized, StatusCode: http.StatusUnauthorized, Message: "Invalid email or password"}
	}

	_, err := f.mgr.Login(context.Background(), "patient@demo.com", "wrongpassword")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", apierr.Message(err))
	assert.False(t, f.mgr.IsAuthenticated())
	assert.Nil(t, f.mgr.CurrentUser())

	_, err = f.tokens.AccessToken(context.Background())
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}

func TestLogin_IncompletePairIsRejected(t *testing.T) {
	f := newFixture(t)
	f.api.login = func(string, string) (*models.AuthResponse, error) {
		return &models.AuthResponse{User: patient, Tokens: models.TokenPair{AccessToken: "A1"}}, nil
	}

	_, err := f.mgr.Login(context.Background(), "patient@demo.com", "password123")
	require.ErrorIs(t, err, tokenstore.ErrIncompletePair)
	assert.False(t, f.mgr.IsAuthenticated())
}

func TestLogin_ValidationMakesNoCall(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Login(context.Background(), "not-an-email", "short")
	require.Error(t, err)

	var fields *apierr.FieldErrors
	require.True(t, errors.As(err, &fields))
	assert.Contains(t, *fields, "email")
	assert.Contains(t, *fields, "password")
	assert.Zero(t, f.api.loginCalls.Load())
}

func TestRegister(t *testing.T) {
	valid := models.RegisterRequest{
		Name:            "Pat Ient",
		Email:           "new@demo.com",
		Password:        "Passw0rd!",
		ConfirmPassword: "Passw0rd!",
		Phone:           "+15551234567",
		Role:            models.RolePatient,
	}

	t.Run("strips driver fields for patients", func(t *testing.T) {
		f := newFixture(t)
		f.api.register = func(req models.RegisterRequest) (*models.AuthResponse, error) {
			assert.Empty(t, req.LicenseNumber)
			assert.Empty(t, req.VehicleType)
			return &models.AuthResponse{User: patient, Tokens: models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}}, nil
		}

		req := valid
		req.LicenseNumber = "DL123456"
		req.VehicleType = "sedan"
		_, err := f.mgr.Register(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, f.mgr.IsAuthenticated())
	})

	t.Run("driver requires license", func(t *testing.T) {
		f := newFixture(t)
		req := valid
		req.Role = models.RoleDriver

		_, err := f.mgr.Register(context.Background(), req)
		var fields *apierr.FieldErrors
		require.True(t, errors.As(err, &fields))
		assert.Contains(t, *fields, "licenseNumber")
		assert.Contains(t, *fields, "vehicleType")
		assert.Zero(t, f.api.registerCalls.Load())
	})

	t.Run("rejects weak and mismatched passwords", func(t *testing.T) {
		f := newFixture(t)
		req := valid
		req.Password = "password123"
		req.ConfirmPassword = "password124"

		_, err := f.mgr.Register(context.Background(), req)
		var fields *apierr.FieldErrors
		require.True(t, errors.As(err, &fields))
		assert.Equal(t, "Password must contain uppercase, lowercase, number and special character", (*fields)["password"])
		assert.Equal(t, "Passwords do not match", (*fields)["confirmPassword"])
	})
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "A1", "R1")
	f.state.Authenticate(patient, session.LoggedIn)

	var events []session.EventKind
	f.state.Subscribe(func(ev session.Event) { events = append(events, ev.Kind) })

	require.NoError(t, f.mgr.Logout(ctx))
	require.NoError(t, f.mgr.Logout(ctx))

	assert.False(t, f.mgr.IsAuthenticated())
	assert.Nil(t, f.mgr.CurrentUser())
	_, err := f.tokens.RefreshToken(ctx)
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
	assert.Equal(t, routes.Welcome, f.nav.last())
	assert.Equal(t, []session.EventKind{session.LoggedOut, session.LoggedOut}, events)

	_, ok := f.mgr.NavigateToRoleDashboard()
	assert.False(t, ok)
}

func TestLogout_KeepsRememberedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.RememberEmail(ctx, "patient@demo.com"))
	f.seed(t, "A1", "R1")

	require.NoError(t, f.mgr.Logout(ctx))

	email, err := f.mgr.RememberedEmail(ctx)
	require.NoError(t, err)
	assert.Equal(t, "patient@demo.com", email)

	require.NoError(t, f.mgr.ForgetEmail(ctx))
	email, err = f.mgr.RememberedEmail(ctx)
	require.NoError(t, err)
	assert.Empty(t, email)
}

func TestRefreshToken(t *testing.T) {
	t.Run("no stored token makes no call", func(t *testing.T) {
		f := newFixture(t)
		err := f.mgr.RefreshToken(context.Background())
		assert.ErrorIs(t, err, ErrNoRefreshToken)
		assert.EqualError(t, err, "no refresh token available")
		assert.Zero(t, f.api.refreshCalls.Load())
	})

	t.Run("stores rotated pair without touching user", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seed(t, "A1", "R1")
		f.state.Authenticate(patient, session.LoggedIn)
		f.api.refresh = func(token string) (*models.RefreshResponse, error) {
			assert.Equal(t, "R1", token)
			return &models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}}, nil
		}

		var events int
		f.state.Subscribe(func(session.Event) { events++ })

		require.NoError(t, f.mgr.RefreshToken(ctx))
		pair, err := f.tokens.Pair(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, pair)
		assert.Equal(t, patient, *f.mgr.CurrentUser())
		assert.Zero(t, events)
	})

	t.Run("keeps refresh token when not rotated", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seed(t, "A1", "R1")
		f.api.refresh = func(string) (*models.RefreshResponse, error) {
			return &models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A2"}}, nil
		}

		require.NoError(t, f.mgr.RefreshToken(ctx))
		pair, err := f.tokens.Pair(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.TokenPair{AccessToken: "A2", RefreshToken: "R1"}, pair)
	})

	t.Run("failure leaves tokens in place", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seed(t, "A1", "R1")
		f.api.refresh = func(string) (*models.RefreshResponse, error) {
			return nil, &apierr.Error{Kind: apierr.Unauthorized, StatusCode: http.StatusUnauthorized, Message: "Invalid refresh token"}
		}

		err := f.mgr.RefreshToken(ctx)
		assert.True(t, apierr.IsKind(err, apierr.Unauthorized))
		access, err := f.tokens.AccessToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "A1", access)
	})

	t.Run("result discarded after logout", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seed(t, "A1", "R1")

		started := make(chan struct{})
		release := make(chan struct{})
		f.api.refresh = func(string) (*models.RefreshResponse, error) {
			close(started)
			<-release
			return &models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}}, nil
		}

		errCh := make(chan error, 1)
		go func() { errCh <- f.mgr.RefreshToken(ctx) }()

		<-started
		require.NoError(t, f.mgr.Logout(ctx))
		close(release)

		assert.ErrorIs(t, <-errCh, ErrSessionEnded)
		_, err := f.tokens.AccessToken(ctx)
		assert.ErrorIs(t, err, tokenstore.ErrNotFound)
		assert.False(t, f.mgr.IsAuthenticated())
	})

	t.Run("result discarded after a new login", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seed(t, "A-old", "R-old")
		f.state.Authenticate(patient, session.LoggedIn)

		started := make(chan struct{})
		release := make(chan struct{})
		f.api.refresh = func(string) (*models.RefreshResponse, error) {
			close(started)
			<-release
			return &models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A-stale", RefreshToken: "R-stale"}}, nil
		}
		driver := models.User{ID: "u-2", Email: "driver@demo.com", Name: "Dee River", Role: models.RoleDriver}
		f.api.login = func(string, string) (*models.AuthResponse, error) {
			return &models.AuthResponse{User: driver, Tokens: models.TokenPair{AccessToken: "A-new", RefreshToken: "R-new"}}, nil
		}

		errCh := make(chan error, 1)
		go func() { errCh <- f.mgr.RefreshToken(ctx) }()

		<-started
		_, err := f.mgr.Login(ctx, "driver@demo.com", "password123")
		require.NoError(t, err)
		close(release)

		assert.ErrorIs(t, <-errCh, ErrSessionEnded)
		pair, err := f.tokens.Pair(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.TokenPair{AccessToken: "A-new", RefreshToken: "R-new"}, pair)
		assert.Equal(t, driver, *f.mgr.CurrentUser())
	})

	t.Run("caller cancel leaves the shared call running", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "A1", "R1")

		started := make(chan struct{})
		release := make(chan struct{})
		f.api.refresh = func(string) (*models.RefreshResponse, error) {
			close(started)
			<-release
			return &models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}}, nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- f.mgr.RefreshToken(ctx) }()

		<-started
		cancel()
		assert.ErrorIs(t, <-errCh, context.Canceled)

		close(release)
		require.Eventually(t, func() bool {
			pair, err := f.tokens.Pair(context.Background())
			return err == nil && pair.AccessToken == "A2" && pair.RefreshToken == "R2"
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, int32(1), f.api.refreshCalls.Load())
	})

	t.Run("concurrent callers share one call", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.seed(t, "A1", "R1")

		release := make(chan struct{})
		f.api.refresh = func(string) (*models.RefreshResponse, error) {
			<-release
			return &models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}}, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, f.mgr.RefreshToken(ctx))
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), f.api.refreshCalls.Load())
	})
}

func TestInitializeAuth(t *testing.T) {
	t.Run("no token makes no call", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.mgr.InitializeAuth(context.Background()))
		assert.Zero(t, f.api.verifyCalls.Load())
		assert.False(t, f.mgr.IsAuthenticated())
	})

	t.Run("valid token restores the user", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "A1", "R1")
		f.api.verify = func(token string) (*models.VerifyResponse, error) {
			assert.Equal(t, "A1", token)
			return &models.VerifyResponse{User: patient}, nil
		}

		var kinds []session.EventKind
		f.state.Subscribe(func(ev session.Event) { kinds = append(kinds, ev.Kind) })

		require.NoError(t, f.mgr.InitializeAuth(context.Background()))
		assert.True(t, f.mgr.IsAuthenticated())
		assert.Equal(t, "u-1", f.mgr.CurrentUser().ID)
		assert.Equal(t, []session.EventKind{session.Restored}, kinds)
		assert.Equal(t, int32(1), f.api.verifyCalls.Load())
	})

	t.Run("rejected token logs out", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, "stale", "R1")
		f.api.verify = func(string) (*models.VerifyResponse, error) {
			return nil, &apierr.Error{Kind: apierr.Unauthorized, StatusCode: http.StatusUnauthorized, Message: "Token expired"}
		}

		err := f.mgr.InitializeAuth(context.Background())
		require.Error(t, err)
		assert.False(t, f.mgr.IsAuthenticated())
		_, err = f.tokens.RefreshToken(context.Background())
		assert.ErrorIs(t, err, tokenstore.ErrNotFound)
		assert.Equal(t, int32(1), f.api.verifyCalls.Load())
		assert.Zero(t, f.api.refreshCalls.Load())
	})
}

func TestHasRole(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.mgr.HasRole(models.RolePatient))

	f.state.Authenticate(patient, session.LoggedIn)
	assert.True(t, f.mgr.HasRole(models.RolePatient))
	assert.True(t, f.mgr.HasRole(models.RoleAdmin, models.RolePatient))
	assert.False(t, f.mgr.HasRole(models.RoleDriver))
	assert.False(t, f.mgr.HasRole())
}
