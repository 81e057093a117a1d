// Package realtime keeps a websocket connection to the notification server
// open for as long as the session is authenticated.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/meditransport/medride/internal/metrics"
	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/session"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = time.Second
	defaultDialTimeout       = 20 * time.Second
	writeTimeout             = 5 * time.Second
	maxFrameBytes            = 1 << 20
)

var (
	// ErrNotConnected is returned by emits while the socket is down. The
	// event is dropped.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrForbidden is returned by role-restricted emits
	ErrForbidden = errors.New("not permitted for current role")
	// ErrNoToken is returned when there is no access token to connect with
	ErrNoToken = errors.New("no authentication token available")
	// ErrRejected is reported to OnClosed listeners when the server ends the
	// session with a policy violation
	ErrRejected = errors.New("realtime server rejected the session")
)

// Config controls the connection
type Config struct {
	URL               string
	ReconnectAttempts uint64
	ReconnectDelay    time.Duration
	DialTimeout       time.Duration
}

// TokenSource provides the access token sent in the auth frame
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// UserSource provides the signed-in user for role checks and sender IDs
type UserSource interface {
	CurrentUser() *models.User
}

// Channel is a session-scoped realtime connection. It connects when the
// session becomes authenticated and disconnects when it ends.
type Channel struct {
	cfg      Config
	tokens   TokenSource
	users    UserSource
	recorder metrics.SessionRecorder
	logger   zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	closedErr error

	connection    listeners[bool]
	closed        listeners[error]
	rideUpdates   listeners[RideUpdate]
	locations     listeners[LocationUpdate]
	driverStatus  listeners[DriverStatus]
	notifications listeners[Notification]
	systemStatus  listeners[SystemStatus]
}

// New creates a disconnected channel
func New(cfg Config, tokens TokenSource, users UserSource, recorder metrics.SessionRecorder, logger zerolog.Logger) *Channel {
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = defaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Channel{
		cfg:      cfg,
		tokens:   tokens,
		users:    users,
		recorder: recorder,
		logger:   logger.With().Str("component", "realtime").Logger(),
	}
}

// Bind ties the channel lifecycle to state transitions
func (c *Channel) Bind(state *session.State) (unsubscribe func()) {
	return state.Subscribe(c.HandleSessionEvent)
}

// HandleSessionEvent connects on authenticated transitions and disconnects on
// every other one
func (c *Channel) HandleSessionEvent(ev session.Event) {
	if ev.Kind.Authenticated() {
		c.Connect()
		return
	}
	c.Disconnect()
}

// Connect starts the connection loop. It returns at once and is a no-op while
// a loop is already running.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.closedErr = nil

	go c.run(ctx, done)
}

// Disconnect closes the connection and waits for the loop to exit. Safe to
// call when not connected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	if cancel != nil {
		cancel()
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	<-done
}

// IsConnected reports whether the socket is up and authenticated
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Err returns why the last connection loop stopped on its own. It is nil
// while a loop runs and after Disconnect.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedErr
}

// ConnectionID returns the server-assigned session ID, or "" when down
func (c *Channel) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// run owns one connection loop. When it stops for any reason other than
// Disconnect, the reason goes to OnClosed listeners after the loop is gone.
func (c *Channel) run(ctx context.Context, done chan struct{}) {
	var gaveUp error
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.cancel = nil
			c.done = nil
			c.closedErr = gaveUp
		}
		c.mu.Unlock()
		close(done)

		if gaveUp != nil {
			c.closed.emit(gaveUp)
		}
	}()

	for {
		conn, sessionID, err := c.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("Giving up on realtime connection")
				gaveUp = err
			}
			return
		}

		if !c.attach(ctx, conn, sessionID) {
			_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
			return
		}
		c.logger.Info().Str("session_id", sessionID).Msg("Connected to realtime server")

		err = c.readLoop(conn)
		c.detach()

		conn.CloseNow()
		if ctx.Err() != nil {
			c.logger.Info().Msg("Disconnected from realtime server")
			return
		}

		if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
			c.logger.Warn().Err(err).Msg("Realtime server rejected the session")
			gaveUp = fmt.Errorf("%w: %w", ErrRejected, err)
			return
		}
		c.recorder.RecordReconnect()
		c.logger.Warn().Err(err).Msg("Realtime connection lost, reconnecting")
	}
}

// attach publishes conn unless Disconnect already ran. Both sides hold mu so
// Disconnect either sees the conn or the loop sees the cancellation.
func (c *Channel) attach(ctx context.Context, conn *websocket.Conn, sessionID string) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.sessionID = sessionID
	c.mu.Unlock()

	c.connection.emit(true)
	return true
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	c.sessionID = ""
	c.mu.Unlock()

	c.connection.emit(false)
}

func (c *Channel) dialWithRetry(ctx context.Context) (*websocket.Conn, string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.ReconnectDelay
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.cfg.ReconnectAttempts), ctx)

	type dialed struct {
		conn      *websocket.Conn
		sessionID string
	}

	result, err := backoff.RetryNotifyWithData(func() (dialed, error) {
		conn, sessionID, err := c.dial(ctx)
		if err != nil {
			return dialed{}, err
		}
		return dialed{conn: conn, sessionID: sessionID}, nil
	}, policy, func(err error, wait time.Duration) {
		c.recorder.RecordReconnect()
		c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("Realtime connection error")
	})
	return result.conn, result.sessionID, err
}

// dial opens the socket and performs the auth handshake
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, string, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		return nil, "", backoff.Permanent(ErrNoToken)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}
	conn.SetReadLimit(maxFrameBytes)

	auth, err := newEnvelope(EventAuth, AuthPayload{Token: token})
	if err != nil {
		conn.CloseNow()
		return nil, "", backoff.Permanent(err)
	}
	if err := wsjson.Write(dialCtx, conn, auth); err != nil {
		conn.CloseNow()
		return nil, "", fmt.Errorf("failed to send auth frame: %w", err)
	}

	var ack Envelope
	if err := wsjson.Read(dialCtx, conn, &ack); err != nil {
		conn.CloseNow()
		if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
			return nil, "", backoff.Permanent(fmt.Errorf("auth rejected: %w", err))
		}
		return nil, "", fmt.Errorf("failed to read auth acknowledgement: %w", err)
	}
	if ack.Event != EventConnected {
		conn.CloseNow()
		return nil, "", fmt.Errorf("unexpected handshake event %q", ack.Event)
	}

	var payload ConnectedPayload
	if len(ack.Data) > 0 {
		_ = json.Unmarshal(ack.Data, &payload)
	}
	return conn, payload.SessionID, nil
}

// readLoop runs until the connection fails or is closed by Disconnect
func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		var env Envelope
		if err := wsjson.Read(context.Background(), conn, &env); err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	log := c.logger.With().Str("event", env.Event).Logger()

	switch env.Event {
	case EventRideStatusUpdate:
		var v RideUpdate
		if decode(log, env, &v) {
			c.rideUpdates.emit(v)
		}
	case EventLocationUpdate:
		var v LocationUpdate
		if decode(log, env, &v) {
			c.locations.emit(v)
		}
	case EventDriverStatusUpdate:
		var v DriverStatus
		if decode(log, env, &v) {
			c.driverStatus.emit(v)
		}
	case EventRideNotification:
		var v Notification
		if decode(log, env, &v) {
			c.notifications.emit(v)
		}
	case EventEmergencyAlert:
		var v Notification
		if decode(log, env, &v) {
			v.Type = NotificationEmergency
			v.Priority = PriorityUrgent
			c.notifications.emit(v)
		}
	case EventSystemStatus:
		var v SystemStatus
		if decode(log, env, &v) {
			c.systemStatus.emit(v)
		}
	case EventError:
		log.Warn().RawJSON("data", env.Data).Msg("Realtime server reported an error")
	default:
		log.Debug().Msg("Ignoring unknown realtime event")
	}
}

func decode(log zerolog.Logger, env Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed realtime event")
		return false
	}
	return true
}

func newEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event, TS: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", event, err)
		}
		env.Data = raw
	}
	return env, nil
}
