package devserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/meditransport/medride/internal/models"
	"github.com/meditransport/medride/internal/realtime"
)

// createRide books a ride for the calling patient
func (s *Server) createRide(c *gin.Context) {
	p, _ := GetPrincipal(c)

	var req models.RideBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record := &RideRecord{
		AccountID:           p.Account.ID,
		PickupLocation:      req.PickupLocation,
		DropoffLocation:     req.DropoffLocation,
		ScheduledTime:       req.ScheduledTime.UTC(),
		VehicleType:         req.VehicleType,
		PassengerCount:      req.PassengerCount,
		SpecialRequirements: req.SpecialRequirements,
		EmergencyContact:    req.EmergencyContact,
		PaymentMethod:       req.PaymentMethod,
		EstimatedFare:       req.EstimatedFare,
		Status:              models.RideStatusPending,
	}
	if err := s.db.Create(record).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create ride")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create ride"})
		return
	}

	s.logger.Info().Str("ride_id", record.ID).Str("user_id", p.Account.ID).Msg("Ride booked")

	s.hub.broadcast(c.Request.Context(), realtime.EventRideNotification, realtime.Notification{
		Type:      realtime.NotificationRideRequested,
		RideID:    record.ID,
		Title:     "New ride request",
		Message:   record.PickupLocation.Address + " to " + record.DropoffLocation.Address,
		Timestamp: time.Now().UTC(),
		Priority:  realtime.PriorityMedium,
	}, hasRole(models.RoleDriver))

	c.JSON(http.StatusCreated, record.Ride())
}

// listRides returns the caller's rides, newest first. Admins see every ride.
func (s *Server) listRides(c *gin.Context) {
	p, _ := GetPrincipal(c)

	query := s.db.Order("created_at DESC")
	if p.Account.Role != models.RoleAdmin {
		query = query.Where("account_id = ?", p.Account.ID)
	}

	var records []RideRecord
	if err := query.Find(&records).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to list rides")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list rides"})
		return
	}

	rides := make([]models.Ride, 0, len(records))
	for i := range records {
		rides = append(rides, records[i].Ride())
	}
	c.JSON(http.StatusOK, rides)
}

func (s *Server) getRide(c *gin.Context) {
	p, _ := GetPrincipal(c)

	record, err := s.findRide(p, c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ride not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get ride")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, record.Ride())
}

// findRide loads a ride visible to p
func (s *Server) findRide(p *Principal, id string) (*RideRecord, error) {
	query := s.db.Where("id = ?", id)
	if p.Account.Role != models.RoleAdmin {
		query = query.Where("account_id = ?", p.Account.ID)
	}

	var record RideRecord
	if err := query.First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// createPaymentIntent opens a payment intent for one of the caller's rides
func (s *Server) createPaymentIntent(c *gin.Context) {
	p, _ := GetPrincipal(c)

	var req models.CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := s.findRide(p, req.RideID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Ride not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get ride")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	record := &PaymentRecord{
		AccountID: p.Account.ID,
		RideID:    req.RideID,
		Amount:    req.Amount,
		Currency:  currency,
		Status:    paymentRequiresConfirmation,
	}
	if err := s.db.Create(record).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create payment intent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment intent"})
		return
	}

	record.ClientSecret = record.ID + "_secret"
	if err := s.db.Model(record).Update("client_secret", record.ClientSecret).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to store client secret")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create payment intent"})
		return
	}

	c.JSON(http.StatusOK, record.Intent())
}

func (s *Server) confirmPayment(c *gin.Context) {
	p, _ := GetPrincipal(c)

	var record PaymentRecord
	err := s.db.Where("id = ? AND account_id = ?", c.Param("id"), p.Account.ID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Payment intent not found"})
			return
		}
		s.logger.Error().Err(err).Msg("Failed to get payment intent")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if record.Status != paymentSucceeded {
		record.Status = paymentSucceeded
		if err := s.db.Model(&record).Update("status", record.Status).Error; err != nil {
			s.logger.Error().Err(err).Msg("Failed to confirm payment")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to confirm payment"})
			return
		}
	}

	c.JSON(http.StatusOK, record.Intent())
}

// paymentHistory returns one page of the caller's payments, newest first
func (s *Server) paymentHistory(c *gin.Context) {
	p, _ := GetPrincipal(c)

	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 10)
	if limit > 100 {
		limit = 100
	}

	var records []PaymentRecord
	err := s.db.Where("account_id = ?", p.Account.ID).
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&records).Error
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list payments")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list payments"})
		return
	}

	payments := make([]models.Payment, 0, len(records))
	for i := range records {
		payments = append(payments, records[i].Payment())
	}
	c.JSON(http.StatusOK, payments)
}

// queryInt parses a positive integer query parameter
func queryInt(c *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
