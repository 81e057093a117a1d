// Package app wires the session components together in dependency order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/meditransport/medride/internal/apierr"
	"github.com/meditransport/medride/internal/auth"
	"github.com/meditransport/medride/internal/authtransport"
	"github.com/meditransport/medride/internal/client"
	"github.com/meditransport/medride/internal/config"
	"github.com/meditransport/medride/internal/metrics"
	"github.com/meditransport/medride/internal/realtime"
	"github.com/meditransport/medride/internal/router"
	"github.com/meditransport/medride/internal/routes"
	"github.com/meditransport/medride/internal/session"
	"github.com/meditransport/medride/internal/tokenstore"
)

// Session is the client context: one token store, one session state and the
// components that read or drive them
type Session struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Tokens   *tokenstore.Tokens
	State    *session.State
	Router   *router.Router
	API      *client.Client
	Auth     *auth.Manager
	Realtime *realtime.Channel
	Registry *prometheus.Registry

	closers []func() error
}

type options struct {
	store     tokenstore.Store
	transport http.RoundTripper
	realtime  bool
}

// Option customises New
type Option func(*options)

// WithStore replaces the configured token backend
func WithStore(store tokenstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithTransport sets the base HTTP transport under the auth pipeline
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRealtime binds the realtime channel to the session state
func WithRealtime() Option {
	return func(o *options) { o.realtime = true }
}

// New builds the session context. Nothing touches the network until Start.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		Config:   cfg,
		Logger:   logger,
		State:    session.NewState(),
		Registry: prometheus.NewRegistry(),
	}

	store := o.store
	if store == nil {
		var closer func() error
		var err error
		store, closer, err = OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			s.closers = append(s.closers, closer)
		}
	}
	s.Tokens = tokenstore.NewTokens(store)

	recorder := metrics.NewSessionCollector(s.Registry)

	s.Router = router.New(s.State, logger)

	s.API = client.New(cfg.API.URL)
	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.API.SetHTTPClient(&http.Client{Timeout: timeout, Transport: o.transport})

	s.Auth = auth.NewManager(s.API, s.Tokens, s.State, s.Router, logger)

	pipeline := authtransport.New(o.transport, s.Auth, recorder, logger)
	s.API.SetAuthorizedHTTPClient(&http.Client{Timeout: timeout, Transport: pipeline})

	s.Realtime = realtime.New(realtime.Config{
		URL:               cfg.Socket.URL,
		ReconnectAttempts: cfg.Socket.ReconnectAttempts,
		ReconnectDelay:    cfg.Socket.ReconnectDelay,
	}, s.Tokens, s.State, recorder, logger)
	if o.realtime {
		unbind := s.Realtime.Bind(s.State)
		s.closers = append(s.closers, func() error {
			unbind()
			s.Realtime.Disconnect()
			return nil
		})
	}

	return s, nil
}

// OpenStore opens the token backend named by cfg.Tokens.Backend
func OpenStore(ctx context.Context, cfg *config.Config) (tokenstore.Store, func() error, error) {
	switch cfg.Tokens.Backend {
	case "memory":
		return tokenstore.NewMemory(), nil, nil
	case "file":
		path := cfg.Tokens.Path
		if path == "" {
			var err error
			path, err = tokenstore.DefaultFilePath()
			if err != nil {
				return nil, nil, err
			}
		}
		return tokenstore.NewFile(path), nil, nil
	case "keyring":
		return tokenstore.NewKeyring(cfg.API.URL), nil, nil
	case "redis":
		r, err := tokenstore.NewRedis(ctx, tokenstore.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown token backend %q", cfg.Tokens.Backend)
	}
}

// Start restores a stored session and lands on the matching screen. A stored
// token the backend rejects is not an error: the session starts logged out.
func (s *Session) Start(ctx context.Context) error {
	err := s.Auth.InitializeAuth(ctx)

	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		s.Logger.Warn().Err(err).Str("kind", apiErr.Kind.String()).Msg("Stored session could not be restored")
		err = nil
	}
	if err != nil {
		return err
	}

	if _, ok := s.Auth.NavigateToRoleDashboard(); !ok {
		_ = s.Router.Navigate(routes.Welcome)
	}
	return nil
}

// ServeMetrics exposes the session metrics on cfg.Metrics.Addr until ctx ends.
// It returns at once when no address is configured.
func (s *Session) ServeMetrics(ctx context.Context) error {
	if s.Config.Metrics.Addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:              s.Config.Metrics.Addr,
		Handler:           metrics.Handler(s.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.Logger.Info().Str("addr", srv.Addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Close releases the token backend and the realtime connection
func (s *Session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
