package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/meditransport/medride/internal/models"
)

// Inbound event names
const (
	EventConnected          = "connected"
	EventRideStatusUpdate   = "ride-status-update"
	EventLocationUpdate     = "location-update"
	EventDriverStatusUpdate = "driver-status-update"
	EventRideNotification   = "ride-notification"
	EventEmergencyAlert     = "emergency-alert"
	EventSystemStatus       = "system-status"
	EventError              = "error"
)

// Outbound event names
const (
	EventAuth                     = "auth"
	EventJoinRide                 = "join-ride"
	EventLeaveRide                = "leave-ride"
	EventDriverLocationUpdate     = "driver-location-update"
	EventDriverAvailabilityUpdate = "driver-availability-update"
	EventRideMessage              = "ride-message"
	EventAdminAnnouncement        = "admin-announcement"
	EventRequestSystemStatus      = "request-system-status"
)

// Notification types and priorities
const (
	NotificationRideRequested = "ride-requested"
	NotificationRideAssigned  = "ride-assigned"
	NotificationRideStarted   = "ride-started"
	NotificationRideCompleted = "ride-completed"
	NotificationDriverArrived = "driver-arrived"
	NotificationEmergency     = "emergency"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Envelope is the frame exchanged over the socket
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	TS    time.Time       `json:"ts"`
}

// AuthPayload is the data of the first frame sent on every connection
type AuthPayload struct {
	Token string `json:"token"`
}

// ConnectedPayload acknowledges a successful auth frame
type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
}

// Coordinates is a bare position
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RideUpdate reports a ride status transition
type RideUpdate struct {
	RideID    string            `json:"rideId"`
	Status    models.RideStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
}

// LocationUpdate is a driver position for a ride
type LocationUpdate struct {
	RideID    string    `json:"rideId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverStatus reports driver availability
type DriverStatus struct {
	DriverID        string       `json:"driverId,omitempty"`
	Available       bool         `json:"available"`
	CurrentLocation *Coordinates `json:"currentLocation,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Notification is a user-facing ride notification
type Notification struct {
	Type      string    `json:"type"`
	RideID    string    `json:"rideId"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Priority  string    `json:"priority"`
}

// SystemStatus answers a system status request
type SystemStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// EmergencyAlert is sent by a rider or driver in distress
type EmergencyAlert struct {
	RideID    string       `json:"rideId"`
	Message   string       `json:"message"`
	Location  *Coordinates `json:"location,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	UserID    string       `json:"userId,omitempty"`
}

// RideMessage is a chat line between rider and driver
type RideMessage struct {
	RideID        string      `json:"rideId"`
	Message       string      `json:"message"`
	RecipientRole models.Role `json:"recipientRole"`
	Timestamp     time.Time   `json:"timestamp"`
	SenderID      string      `json:"senderId,omitempty"`
}

// Announcement is an admin broadcast
type Announcement struct {
	Message    string      `json:"message"`
	TargetRole models.Role `json:"targetRole,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// listeners is a set of callbacks for one event type
type listeners[T any] struct {
	mu   sync.Mutex
	next uint64
	fns  map[uint64]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fns == nil {
		l.fns = make(map[uint64]func(T))
	}
	l.next++
	id := l.next
	l.fns[id] = fn

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
