package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meditransport/medride/internal/apierr"
	"github.com/meditransport/medride/internal/models"
)

const defaultTimeout = 30 * time.Second

// Client represents an HTTP client for the MediTransport API.
//
// Auth endpoints go out on the public client. Everything else goes out on the
// authenticated client, whose transport is expected to attach the bearer token
// and recover from expired tokens.
type Client struct {
	baseURL    string
	public     *http.Client
	authorized *http.Client
}

// New creates a new API client. baseURL includes the /api prefix.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		public:     &http.Client{Timeout: defaultTimeout},
		authorized: &http.Client{Timeout: defaultTimeout},
	}
}

// BaseURL returns the API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHTTPClient sets the client used for unauthenticated auth endpoints
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.public = httpClient
}

// SetAuthorizedHTTPClient sets the client used for authenticated endpoints
func (c *Client) SetAuthorizedHTTPClient(httpClient *http.Client) {
	c.authorized = httpClient
}

// Login authenticates the user and returns the user record and a token pair
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.do(ctx, c.public, http.MethodPost, "/auth/login", models.LoginRequest{
		Email:    email,
		Password: password,
	}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and returns the user record and a token pair
func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	var resp models.AuthResponse
	if err := c.do(ctx, c.public, http.MethodPost, "/auth/register", req, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify checks accessToken and returns the user it belongs to
func (c *Client) Verify(ctx context.Context, accessToken string) (*models.VerifyResponse, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	var resp models.VerifyResponse
	if err := c.do(ctx, c.public, http.MethodGet, "/auth/verify", nil, header, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh exchanges refreshToken for a new token pair
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*models.RefreshResponse, error) {
	var resp models.RefreshResponse
	err := c.do(ctx, c.public, http.MethodPost, "/auth/refresh", models.RefreshRequest{
		RefreshToken: refreshToken,
	}, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// do sends a JSON request and decodes a JSON response into out. Non-2xx
// responses come back as *apierr.Error.
func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path string, body any, header http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := httpClient.Do(req)
	if err != nil {
		return apierr.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apierr.FromResponse(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
