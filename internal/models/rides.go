package models

import "time"

// RideStatus is the lifecycle state of a ride
type RideStatus string

const (
	RideStatusPending    RideStatus = "pending"
	RideStatusAccepted   RideStatus = "accepted"
	RideStatusInProgress RideStatus = "in-progress"
	RideStatusCompleted  RideStatus = "completed"
	RideStatusCanceled   RideStatus = "canceled"
)

// Location is a resolved pickup or dropoff point
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
	PlaceID string  `json:"placeId,omitempty"`
}

// Ride is a booked trip as returned by the rides API
type Ride struct {
	ID                  string     `json:"id"`
	PickupLocation      Location   `json:"pickupLocation"`
	DropoffLocation     Location   `json:"dropoffLocation"`
	ScheduledTime       time.Time  `json:"scheduledTime"`
	VehicleType         string     `json:"vehicleType"`
	PassengerCount      int        `json:"passengerCount"`
	SpecialRequirements string     `json:"specialRequirements,omitempty"`
	EmergencyContact    string     `json:"emergencyContact,omitempty"`
	PaymentMethod       string     `json:"paymentMethod"`
	EstimatedFare       float64    `json:"estimatedFare"`
	Status              RideStatus `json:"status"`
}

// RideBookingRequest is the body of POST /rides
type RideBookingRequest struct {
	PickupLocation      Location  `json:"pickupLocation" binding:"required"`
	DropoffLocation     Location  `json:"dropoffLocation" binding:"required"`
	ScheduledTime       time.Time `json:"scheduledTime" binding:"required"`
	VehicleType         string    `json:"vehicleType" binding:"required"`
	PassengerCount      int       `json:"passengerCount" binding:"required,min=1,max=8"`
	SpecialRequirements string    `json:"specialRequirements,omitempty"`
	EmergencyContact    string    `json:"emergencyContact,omitempty"`
	PaymentMethod       string    `json:"paymentMethod" binding:"required"`
	EstimatedFare       float64   `json:"estimatedFare" binding:"min=0"`
}

// PaymentIntent mirrors the processor intent created by the backend
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

// CreatePaymentIntentRequest is the body of POST /payments/create-intent
type CreatePaymentIntentRequest struct {
	RideID          string `json:"rideId" binding:"required"`
	Amount          int64  `json:"amount" binding:"required,min=1"`
	Currency        string `json:"currency,omitempty"`
	PaymentMethodID string `json:"paymentMethodId,omitempty"`
}

// Payment is one entry of the payment history
type Payment struct {
	ID        string    `json:"id"`
	RideID    string    `json:"rideId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
