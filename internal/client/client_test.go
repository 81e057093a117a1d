package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meditransport/medride/internal/apierr"
	"github.com/meditransport/medride/internal/models"
)

func TestLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Password != "password123" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "Invalid email or password"}`))
			return
		}

		json.NewEncoder(w).Encode(models.AuthResponse{
			Message: "Login successful",
			User:    models.User{ID: "u-1", Email: req.Email, Role: models.RolePatient},
			Tokens:  models.TokenPair{AccessToken: "A1", RefreshToken: "R1"},
		})
	}))
	defer server.Close()

	c := New(server.URL + "/api/")
	ctx := context.Background()

	resp, err := c.Login(ctx, "patient@demo.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "A1", resp.Tokens.AccessToken)
	assert.Equal(t, models.RolePatient, resp.User.Role)

	_, err = c.Login(ctx, "patient@demo.com", "wrong-password")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.Unauthorized))
	assert.Equal(t, "Invalid email or password", err.Error())
}

func TestVerify_SendsBearer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/verify", r.URL.Path)
		assert.Equal(t, "Bearer A1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(models.VerifyResponse{User: models.User{ID: "u-1"}})
	}))
	defer server.Close()

	resp, err := New(server.URL+"/api").Verify(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", resp.User.ID)
}

func TestRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.RefreshRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "R1", req.RefreshToken)
		json.NewEncoder(w).Encode(models.RefreshResponse{Tokens: models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}})
	}))
	defer server.Close()

	resp, err := New(server.URL+"/api").Refresh(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, models.TokenPair{AccessToken: "A2", RefreshToken: "R2"}, resp.Tokens)
}

func TestNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := New(url+"/api").Login(context.Background(), "a@b.co", "password123")
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.NetworkFailure))
}

func TestRides_UseAuthorizedClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rides":
			json.NewEncoder(w).Encode([]models.Ride{{ID: "r-1", Status: models.RideStatusPending}})
		case "/api/payments/history":
			assert.Equal(t, "2", r.URL.Query().Get("page"))
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode([]models.Payment{{ID: "p-1", Amount: 2500}})
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"message":"Ride not found"}`))
		}
	}))
	defer server.Close()

	var calls int
	c := New(server.URL + "/api")
	c.SetAuthorizedHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return http.DefaultTransport.RoundTrip(r)
	})})
	ctx := context.Background()

	rides, err := c.ListRides(ctx)
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Equal(t, "r-1", rides[0].ID)

	payments, err := c.PaymentHistory(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), payments[0].Amount)

	_, err = c.GetRide(ctx, "missing")
	assert.True(t, apierr.IsKind(err, apierr.ValidationFailure))
	assert.Equal(t, "Ride not found", apierr.Message(err))

	assert.Equal(t, 3, calls)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
