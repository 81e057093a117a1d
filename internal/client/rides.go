package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/meditransport/medride/internal/models"
)

// CreateRide books a new ride
func (c *Client) CreateRide(ctx context.Context, req models.RideBookingRequest) (*models.Ride, error) {
	var ride models.Ride
	if err := c.do(ctx, c.authorized, http.MethodPost, "/rides", req, nil, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// ListRides returns the rides of the current user
func (c *Client) ListRides(ctx context.Context) ([]models.Ride, error) {
	var rides []models.Ride
	if err := c.do(ctx, c.authorized, http.MethodGet, "/rides", nil, nil, &rides); err != nil {
		return nil, err
	}
	return rides, nil
}

// GetRide returns a single ride by ID
func (c *Client) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var ride models.Ride
	if err := c.do(ctx, c.authorized, http.MethodGet, "/rides/"+url.PathEscape(id), nil, nil, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// CreatePaymentIntent asks the backend to open a payment intent for a ride
func (c *Client) CreatePaymentIntent(ctx context.Context, req models.CreatePaymentIntentRequest) (*models.PaymentIntent, error) {
	if req.Currency == "" {
		req.Currency = "usd"
	}
	var intent models.PaymentIntent
	if err := c.do(ctx, c.authorized, http.MethodPost, "/payments/create-intent", req, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmPayment confirms a previously created intent
func (c *Client) ConfirmPayment(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	path := "/payments/confirm/" + url.PathEscape(intentID)
	if err := c.do(ctx, c.authorized, http.MethodPost, path, struct{}{}, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// PaymentHistory returns one page of past payments
func (c *Client) PaymentHistory(ctx context.Context, page, limit int) ([]models.Payment, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/payments/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var payments []models.Payment
	if err := c.do(ctx, c.authorized, http.MethodGet, path, nil, nil, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}
