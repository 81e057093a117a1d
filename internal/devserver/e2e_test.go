package devserver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditransport/medride/internal/app"
	"github.com/meditransport/medride/internal/config"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/tokenstore"
)

func newClientSession(t *testing.T, httpURL, socketURL string, store tokenstore.Store) *app.Session {
	t.Helper()
	cfg := &config.Config{
		API:    config.APIConfig{URL: httpURL + "/api", Timeout: 5 * time.Second},
		Tokens: config.TokensConfig{Backend: "memory"},
		Socket: config.SocketConfig{URL: socketURL, ReconnectAttempts: 1, ReconnectDelay: 10 * time.Millisecond},
	}
	s, err := app.New(context.Background(), cfg, zerolog.Nop(), app.WithStore(store), app.WithRealtime())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_AgainstDevServer(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	httpURL, socketURL := startHTTP(t, ts)

	store := tokenstore.NewMemory()
	s := newClientSession(t, httpURL, socketURL, store)
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, routes.Welcome, s.Router.Current().Path)

	_, err := s.Auth.Login(ctx, "patient@demo.com", DemoPassword)
	require.NoError(t, err)
	assert.Equal(t, routes.PatientDashboard, s.Router.Current().Path)
	require.Eventually(t, s.Realtime.IsConnected, hubWait, 10*time.Millisecond)

	ride, err := s.API.CreateRide(ctx, bookingRequest())
	require.NoError(t, err)

	before, err := s.Tokens.Pair(ctx)
	require.NoError(t, err)

	// the access token expires; the next call refreshes and retries once
	ts.advance(16 * time.Minute)

	rides, err := s.API.ListRides(ctx)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, ride.ID, rides[0].ID)

	after, err := s.Tokens.Pair(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
	assert.True(t, s.State.IsAuthenticated())

	t.Run("stored session restores", func(t *testing.T) {
		restored := newClientSession(t, httpURL, socketURL, store)
		require.NoError(t, restored.Start(ctx))
		assert.True(t, restored.State.IsAuthenticated())
		assert.Equal(t, routes.PatientDashboard, restored.Router.Current().Path)
	})

	require.NoError(t, s.Auth.Logout(ctx))
	assert.False(t, s.Realtime.IsConnected())
	assert.Equal(t, routes.Welcome, s.Router.Current().Path)

	_, err = store.Get(ctx, tokenstore.AccessTokenKey)
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}

func TestSession_RefreshFailureLogsOut(t *testing.T) {
	ctx := context.Background()
	ts := newTestServer(t)
	httpURL, socketURL := startHTTP(t, ts)

	s := newClientSession(t, httpURL, socketURL, tokenstore.NewMemory())
	_, err := s.Auth.Login(ctx, "driver@demo.com", DemoPassword)
	require.NoError(t, err)
	assert.Equal(t, routes.DriverDashboard, s.Router.Current().Path)

	// both halves expire
	ts.advance(48 * time.Hour)

	_, err = s.API.ListRides(ctx)
	require.Error(t, err)
	assert.False(t, s.State.IsAuthenticated())
	assert.Equal(t, routes.Welcome, s.Router.Current().Path)

	_, err = s.Tokens.AccessToken(ctx)
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}
