package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/realtime"
)

const (
	authTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// hubClient is one authenticated socket
type hubClient struct {
	conn      *websocket.Conn
	claims    *Claims
	sessionID string

	mu    sync.Mutex
	rooms map[string]struct{}
}

func (c *hubClient) join(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *hubClient) leave(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *hubClient) in(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Hub is the realtime endpoint. Every connection must open with an auth frame
// carrying a valid access token; anything else is closed with a policy
// violation.
type Hub struct {
	db             *gorm.DB
	issuer         *TokenIssuer
	logger         zerolog.Logger
	originPatterns []string

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
}

// NewHub creates a hub. allowedOrigins are full origins such as
// http://localhost:4200.
func NewHub(db *gorm.DB, issuer *TokenIssuer, allowedOrigins []string, logger zerolog.Logger) *Hub {
	var patterns []string
	for _, origin := range allowedOrigins {
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return &Hub{
		db:             db,
		issuer:         issuer,
		logger:         logger.With().Str("component", "hub").Logger(),
		originPatterns: patterns,
		clients:        make(map[*hubClient]struct{}),
	}
}

// ServeHTTP accepts a websocket and serves it until either side closes
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.CloseNow()

	client, err := h.authenticate(r.Context(), conn)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Rejected realtime connection")
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	h.add(client)
	defer h.remove(client)

	log := h.logger.With().Str("user_id", client.claims.UserID).Str("session_id", client.sessionID).Logger()
	log.Info().Msg("Realtime client connected")

	if err := h.send(r.Context(), client, realtime.EventConnected, realtime.ConnectedPayload{SessionID: client.sessionID}); err != nil {
		return
	}

	for {
		var env realtime.Envelope
		if err := wsjson.Read(r.Context(), conn, &env); err != nil {
			log.Info().Int("status", int(websocket.CloseStatus(err))).Msg("Realtime client disconnected")
			return
		}
		h.handle(r.Context(), client, env, log)
	}
}

func (h *Hub) authenticate(ctx context.Context, conn *websocket.Conn) (*hubClient, error) {
	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	var env realtime.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return nil, err
	}
	if env.Event != realtime.EventAuth {
		return nil, ErrMissingAuthHeader
	}

	var payload realtime.AuthPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Token == "" {
		return nil, ErrEmptyToken
	}
	claims, err := h.issuer.ParseAccess(payload.Token)
	if err != nil {
		return nil, err
	}

	return &hubClient{
		conn:      conn,
		claims:    claims,
		sessionID: ulid.Make().String(),
		rooms:     make(map[string]struct{}),
	}, nil
}

func (h *Hub) handle(ctx context.Context, from *hubClient, env realtime.Envelope, log zerolog.Logger) {
	switch env.Event {
	case realtime.EventJoinRide, realtime.EventLeaveRide:
		var rideID string
		if err := json.Unmarshal(env.Data, &rideID); err != nil || rideID == "" {
			h.sendError(ctx, from, "ride id required")
			return
		}
		if env.Event == realtime.EventJoinRide {
			from.join(rideID)
		} else {
			from.leave(rideID)
		}

	case realtime.EventRideStatusUpdate:
		var update realtime.RideUpdate
		if !h.decode(ctx, from, env, &update) {
			return
		}
		if update.Status != "" {
			err := h.db.Model(&RideRecord{}).Where("id = ?", update.RideID).Update("status", update.Status).Error
			if err != nil {
				log.Warn().Err(err).Str("ride_id", update.RideID).Msg("Failed to persist ride status")
			}
		}
		h.broadcast(ctx, realtime.EventRideStatusUpdate, update, func(c *hubClient) bool {
			return c.in(update.RideID)
		})

	case realtime.EventDriverLocationUpdate:
		var loc realtime.LocationUpdate
		if !h.decode(ctx, from, env, &loc) {
			return
		}
		h.broadcast(ctx, realtime.EventLocationUpdate, loc, func(c *hubClient) bool {
			return c != from && c.in(loc.RideID)
		})

	case realtime.EventDriverAvailabilityUpdate:
		if from.claims.Role != models.RoleDriver {
			h.sendError(ctx, from, "only drivers can update availability")
			return
		}
		var status realtime.DriverStatus
		if !h.decode(ctx, from, env, &status) {
			return
		}
		status.DriverID = from.claims.UserID
		h.broadcast(ctx, realtime.EventDriverStatusUpdate, status, hasRole(models.RoleAdmin))

	case realtime.EventEmergencyAlert:
		var alert realtime.EmergencyAlert
		if !h.decode(ctx, from, env, &alert) {
			return
		}
		log.Warn().Str("ride_id", alert.RideID).Msg("Emergency alert raised")
		notification := realtime.Notification{
			Type:      realtime.NotificationEmergency,
			RideID:    alert.RideID,
			Title:     "Emergency alert",
			Message:   alert.Message,
			Timestamp: time.Now().UTC(),
			Priority:  realtime.PriorityUrgent,
		}
		h.broadcast(ctx, realtime.EventEmergencyAlert, notification, func(c *hubClient) bool {
			return c.claims.Role == models.RoleAdmin || (c != from && c.in(alert.RideID))
		})

	case realtime.EventRideMessage:
		var msg realtime.RideMessage
		if !h.decode(ctx, from, env, &msg) {
			return
		}
		notification := realtime.Notification{
			Type:      realtime.EventRideMessage,
			RideID:    msg.RideID,
			Title:     "New message",
			Message:   msg.Message,
			Timestamp: time.Now().UTC(),
			Priority:  realtime.PriorityMedium,
		}
		h.broadcast(ctx, realtime.EventRideNotification, notification, func(c *hubClient) bool {
			return c != from && c.claims.Role == msg.RecipientRole && c.in(msg.RideID)
		})

	case realtime.EventAdminAnnouncement:
		if from.claims.Role != models.RoleAdmin {
			h.sendError(ctx, from, "only admins can broadcast announcements")
			return
		}
		var announcement realtime.Announcement
		if !h.decode(ctx, from, env, &announcement) {
			return
		}
		notification := realtime.Notification{
			Type:      realtime.EventAdminAnnouncement,
			Title:     "Announcement",
			Message:   announcement.Message,
			Timestamp: time.Now().UTC(),
			Priority:  realtime.PriorityHigh,
		}
		h.broadcast(ctx, realtime.EventRideNotification, notification, func(c *hubClient) bool {
			return announcement.TargetRole == "" || c.claims.Role == announcement.TargetRole
		})

	case realtime.EventRequestSystemStatus:
		_ = h.send(ctx, from, realtime.EventSystemStatus, h.systemStatus(ctx))

	default:
		h.sendError(ctx, from, "unknown event "+env.Event)
	}
}

// systemStatus reports the health of the backend's parts
func (h *Hub) systemStatus(ctx context.Context) realtime.SystemStatus {
	database := "up"
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		database = "down"
	}

	status := "operational"
	if database != "up" {
		status = "degraded"
	}

	h.mu.RLock()
	connected := len(h.clients)
	h.mu.RUnlock()

	return realtime.SystemStatus{
		Status: status,
		Services: map[string]string{
			"api":      "up",
			"database": database,
			"realtime": "up",
			"clients":  strconv.Itoa(connected),
		},
		Timestamp: time.Now().UTC(),
	}
}

func (h *Hub) decode(ctx context.Context, from *hubClient, env realtime.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.sendError(ctx, from, "malformed "+env.Event+" payload")
		return false
	}
	return true
}

func (h *Hub) sendError(ctx context.Context, to *hubClient, message string) {
	_ = h.send(ctx, to, realtime.EventError, map[string]string{"message": message})
}

func (h *Hub) send(ctx context.Context, to *hubClient, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, to.conn, realtime.Envelope{Event: event, Data: raw, TS: time.Now().UTC()})
}

// broadcast sends to every client matching filter. A failed write is logged
// and left for that client's read loop to clean up.
func (h *Hub) broadcast(ctx context.Context, event string, data any, filter func(*hubClient) bool) {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if filter(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := h.send(ctx, c, event, data); err != nil {
			h.logger.Debug().Err(err).Str("event", event).Str("session_id", c.sessionID).Msg("Failed to deliver event")
		}
	}
}

// Connected returns the number of authenticated clients
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (h *Hub) add(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func hasRole(role models.Role) func(*hubClient) bool {
	return func(c *hubClient) bool { return c.claims.Role == role }
}
