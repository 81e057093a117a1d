package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditransport/medride/internal/config"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/tokenstore"
)

func newTestSession(t *testing.T, handler http.Handler, store tokenstore.Store) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{
		API:    config.APIConfig{URL: server.URL + "/api", Timeout: 5 * time.Second},
		Tokens: config.TokensConfig{Backend: "memory"},
		Socket: config.SocketConfig{URL: "ws://127.0.0.1:1/socket"},
	}
	s, err := New(context.Background(), cfg, zerolog.Nop(), WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStart_NoStoredSession(t *testing.T) {
	var calls atomic.Int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), tokenstore.NewMemory())

	require.NoError(t, s.Start(context.Background()))
	assert.Zero(t, calls.Load())
	assert.False(t, s.State.IsAuthenticated())
	assert.Equal(t, routes.Welcome, s.Router.Current().Path)
}

func TestStart_RestoresSession(t *testing.T) {
	store := tokenstore.NewMemory()
	require.NoError(t, tokenstore.NewTokens(store).SavePair(context.Background(), models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}))

	var verifies atomic.Int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifies.Add(1)
		assert.Equal(t, "/api/auth/verify", r.URL.Path)
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.VerifyResponse{User: models.User{ID: "u-3", Role: models.RoleDriver}})
	}), store)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, int32(1), verifies.Load())
	assert.True(t, s.State.IsAuthenticated())
	assert.Equal(t, routes.DriverDashboard, s.Router.Current().Path)

	// guarded navigation follows the role
	require.NoError(t, s.Router.Navigate(routes.BookRide))
	assert.Equal(t, routes.DriverDashboard, s.Router.Current().Path)
}

func TestStart_RejectedTokenStartsLoggedOut(t *testing.T) {
	store := tokenstore.NewMemory()
	require.NoError(t, tokenstore.NewTokens(store).SavePair(context.Background(), models.TokenPair{AccessToken: "stale", RefreshToken: "R1"}))

	var calls atomic.Int32
	s := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Token expired"}`))
	}), store)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, int32(1), calls.Load(), "verification must not go through the refresh pipeline")
	assert.False(t, s.State.IsAuthenticated())
	assert.Equal(t, routes.Welcome, s.Router.Current().Path)

	_, err := s.Tokens.RefreshToken(context.Background())
	assert.ErrorIs(t, err, tokenstore.ErrNotFound)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, closer, err := OpenStore(ctx, &config.Config{Tokens: config.TokensConfig{Backend: "memory"}})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.IsType(t, &tokenstore.Memory{}, store)

	path := t.TempDir() + "/session.json"
	store, _, err = OpenStore(ctx, &config.Config{Tokens: config.TokensConfig{Backend: "file", Path: path}})
	require.NoError(t, err)
	assert.Equal(t, path, store.(*tokenstore.File).Path())

	_, _, err = OpenStore(ctx, &config.Config{Tokens: config.TokensConfig{Backend: "cookie"}})
	assert.Error(t, err)
}
