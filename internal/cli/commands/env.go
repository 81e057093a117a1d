package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/meditransport/medride/internal/app"
	"github.com/meditransport/medride/internal/config"
	"github.com/meditransport/medride/internal/logger"
)

// ErrNotLoggedIn is returned by commands that need a stored session
var ErrNotLoggedIn = errors.New("not logged in. Run 'medride login' first")

// Env is what every command runs against. Tests build one with fakes.
type Env struct {
	Out io.Writer
	Err io.Writer

	// Flags shared by all commands
	ConfigPath  string
	APIURL      string
	Output      string
	MetricsAddr string
	Verbose     bool

	Prompter Prompter
	// LoadConfig replaces the file and environment lookup
	LoadConfig func() (*config.Config, error)
	// Options are passed to every session
	Options []app.Option
	Logger  *zerolog.Logger
}

// NewEnv returns an Env wired to the terminal
func NewEnv() *Env {
	return &Env{
		Out:      os.Stdout,
		Err:      os.Stderr,
		Output:   formatTable,
		Prompter: terminalPrompter{},
	}
}

// Config loads configuration and applies flag overrides
func (e *Env) Config() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case e.LoadConfig != nil:
		cfg, err = e.LoadConfig()
	case e.ConfigPath != "":
		cfg, err = config.LoadFile(e.ConfigPath)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if e.APIURL != "" {
		cfg.API.URL = e.APIURL
	}
	if e.MetricsAddr != "" {
		cfg.Metrics.Addr = e.MetricsAddr
	}
	if e.Verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// Open builds the session and restores any stored login. The caller closes
// the session.
func (e *Env) Open(ctx context.Context, opts ...app.Option) (*app.Session, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}

	log := e.logger(cfg)
	s, err := app.New(ctx, cfg, log, append(append([]app.Option{}, e.Options...), opts...)...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenAuthenticated is Open for commands that need a signed-in user
func (e *Env) OpenAuthenticated(ctx context.Context, opts ...app.Option) (*app.Session, error) {
	s, err := e.Open(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if !s.Auth.IsAuthenticated() {
		s.Close()
		return nil, ErrNotLoggedIn
	}
	return s, nil
}

func (e *Env) logger(cfg *config.Config) zerolog.Logger {
	if e.Logger != nil {
		return *e.Logger
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return logger.GetLogger()
}
