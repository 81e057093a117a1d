package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/websocket/wsjson"

	"github.com/meditransport/medride/internal/models"
)

// OnConnectionChange is called with true after each successful handshake and
// false after each disconnect
func (c *Channel) OnConnectionChange(fn func(connected bool)) (unsubscribe func()) {
	return c.connection.add(fn)
}

// OnClosed is called when the connection loop stops on its own: reconnects
// ran out, no token was available or the server rejected the session. It is
// not called after Disconnect.
func (c *Channel) OnClosed(fn func(err error)) (unsubscribe func()) {
	return c.closed.add(fn)
}

// OnRideUpdate registers fn for every ride status update
func (c *Channel) OnRideUpdate(fn func(RideUpdate)) (unsubscribe func()) {
	return c.rideUpdates.add(fn)
}

// OnRideUpdatesFor registers fn for status updates of one ride
func (c *Channel) OnRideUpdatesFor(rideID string, fn func(RideUpdate)) (unsubscribe func()) {
	return c.rideUpdates.add(func(u RideUpdate) {
		if u.RideID == rideID {
			fn(u)
		}
	})
}

// OnLocationUpdate registers fn for every driver location update
func (c *Channel) OnLocationUpdate(fn func(LocationUpdate)) (unsubscribe func()) {
	return c.locations.add(fn)
}

// OnLocationUpdatesFor registers fn for location updates of one ride
func (c *Channel) OnLocationUpdatesFor(rideID string, fn func(LocationUpdate)) (unsubscribe func()) {
	return c.locations.add(func(u LocationUpdate) {
		if u.RideID == rideID {
			fn(u)
		}
	})
}

func (c *Channel) OnDriverStatus(fn func(DriverStatus)) (unsubscribe func()) {
	return c.driverStatus.add(fn)
}

// OnNotification registers fn for ride notifications and emergency alerts
func (c *Channel) OnNotification(fn func(Notification)) (unsubscribe func()) {
	return c.notifications.add(fn)
}

func (c *Channel) OnSystemStatus(fn func(SystemStatus)) (unsubscribe func()) {
	return c.systemStatus.add(fn)
}

// JoinRideRoom subscribes to the events of one ride
func (c *Channel) JoinRideRoom(ctx context.Context, rideID string) error {
	return c.emit(ctx, EventJoinRide, rideID)
}

func (c *Channel) LeaveRideRoom(ctx context.Context, rideID string) error {
	return c.emit(ctx, EventLeaveRide, rideID)
}

// UpdateRideStatus publishes a status transition for a ride
func (c *Channel) UpdateRideStatus(ctx context.Context, rideID string, status models.RideStatus, message string) error {
	return c.emit(ctx, EventRideStatusUpdate, RideUpdate{
		RideID:    rideID,
		Status:    status,
		Message:   message,
		Timestamp: now(),
	})
}

// SendLocationUpdate publishes the driver position for a ride
func (c *Channel) SendLocationUpdate(ctx context.Context, rideID string, loc LocationUpdate) error {
	loc.RideID = rideID
	loc.Timestamp = now()
	return c.emit(ctx, EventDriverLocationUpdate, loc)
}

// UpdateDriverAvailability is restricted to drivers
func (c *Channel) UpdateDriverAvailability(ctx context.Context, available bool, location *Coordinates) error {
	if err := c.requireRole(models.RoleDriver); err != nil {
		return err
	}
	return c.emit(ctx, EventDriverAvailabilityUpdate, DriverStatus{
		Available:       available,
		CurrentLocation: location,
		Timestamp:       now(),
	})
}

// SendEmergencyAlert raises an alert for a ride
func (c *Channel) SendEmergencyAlert(ctx context.Context, rideID, message string, location *Coordinates) error {
	return c.emit(ctx, EventEmergencyAlert, EmergencyAlert{
		RideID:    rideID,
		Message:   message,
		Location:  location,
		Timestamp: now(),
		UserID:    c.currentUserID(),
	})
}

// SendMessage sends a chat line to the other party of a ride
func (c *Channel) SendMessage(ctx context.Context, rideID, message string, recipient models.Role) error {
	if recipient != models.RoleDriver && recipient != models.RolePatient {
		return fmt.Errorf("invalid recipient role %q", recipient)
	}
	return c.emit(ctx, EventRideMessage, RideMessage{
		RideID:        rideID,
		Message:       message,
		RecipientRole: recipient,
		Timestamp:     now(),
		SenderID:      c.currentUserID(),
	})
}

// BroadcastAnnouncement is restricted to admins. An empty target reaches
// every role.
func (c *Channel) BroadcastAnnouncement(ctx context.Context, message string, target models.Role) error {
	if err := c.requireRole(models.RoleAdmin); err != nil {
		return err
	}
	return c.emit(ctx, EventAdminAnnouncement, Announcement{
		Message:    message,
		TargetRole: target,
		Timestamp:  now(),
	})
}

// RequestSystemStatus asks the server for a system-status event
func (c *Channel) RequestSystemStatus(ctx context.Context) error {
	return c.emit(ctx, EventRequestSystemStatus, nil)
}

func (c *Channel) emit(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.logger.Debug().Str("event", event).Msg("Dropping event while disconnected")
		return ErrNotConnected
	}

	env, err := newEnvelope(event, data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

func (c *Channel) requireRole(role models.Role) error {
	var user *models.User
	if c.users != nil {
		user = c.users.CurrentUser()
	}
	if user == nil || user.Role != role {
		return ErrForbidden
	}
	return nil
}

func (c *Channel) currentUserID() string {
	if c.users == nil {
		return ""
	}
	if user := c.users.CurrentUser(); user != nil {
		return user.ID
	}
	return ""
}

func now() time.Time {
	return time.Now().UTC()
}
