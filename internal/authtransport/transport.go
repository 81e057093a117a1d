// Package authtransport attaches the session's bearer token to outgoing
// requests and recovers once from an expired access token.
package authtransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/meditransport/medride/internal/auth"
	"github.com/meditransport/medride/internal/metrics"
	"github.com/meditransport/medride/internal/tokenstore"
)

// Session is the part of the auth manager the transport drives
type Session interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) error
	ForceLogout(ctx context.Context) error
}

type retriedKey struct{}

// markRetried flags ctx as carrying a request that was already re-issued
func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey{}, true)
}

// Retried reports whether ctx belongs to a re-issued request
func Retried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Transport is an http.RoundTripper that injects the bearer token. A 401
// triggers exactly one refresh followed by one retry; a 401 on the retry is
// returned to the caller.
type Transport struct {
	base     http.RoundTripper
	session  Session
	recorder metrics.SessionRecorder
	logger   zerolog.Logger
}

// New wraps base. A nil base means http.DefaultTransport.
func New(base http.RoundTripper, session Session, recorder metrics.SessionRecorder, logger zerolog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Transport{
		base:     base,
		session:  session,
		recorder: recorder,
		logger:   logger.With().Str("component", "authtransport").Logger(),
	}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	first, err := t.authorize(ctx, req, false)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err := t.base.RoundTrip(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || Retried(ctx) {
		return resp, err
	}

	return t.refreshAndRetry(req, resp)
}

// refreshAndRetry handles a 401 on a first attempt
func (t *Transport) refreshAndRetry(req *http.Request, unauthorized *http.Response) (*http.Response, error) {
	ctx := req.Context()
	log := t.logger.With().Str("method", req.Method).Str("path", req.URL.Path).Logger()

	err := t.session.RefreshToken(ctx)
	switch {
	case errors.Is(err, auth.ErrNoRefreshToken):
		t.recorder.RecordRefresh(metrics.OutcomeNoToken)
		log.Debug().Msg("Unauthorized with no refresh token, logging out")
		t.forceLogout(ctx)
		return unauthorized, nil
	case ctx.Err() != nil:
		// the refresh keeps running detached; the session is not at fault
		t.recorder.RecordRefresh(metrics.OutcomeCanceled)
		log.Debug().Err(err).Msg("Request ended while waiting for token refresh")
		return unauthorized, nil
	case errors.Is(err, auth.ErrSessionEnded):
		// logout or a new login already settled the session
		t.recorder.RecordRefresh(metrics.OutcomeFailure)
		log.Debug().Msg("Session changed during token refresh")
		return unauthorized, nil
	case err != nil:
		t.recorder.RecordRefresh(metrics.OutcomeFailure)
		log.Warn().Err(err).Msg("Token refresh failed, logging out")
		t.forceLogout(ctx)
		return unauthorized, nil
	}
	t.recorder.RecordRefresh(metrics.OutcomeSuccess)

	retryCtx := markRetried(ctx)
	retry, err := t.authorize(retryCtx, req, true)
	if err != nil {
		return unauthorized, nil
	}
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return unauthorized, nil
		}
		retry.Body = body
	}

	drain(unauthorized)

	resp, err := t.base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}
	t.recorder.RecordRetry(resp.StatusCode)
	log.Debug().Int("status", resp.StatusCode).Msg("Retried request after token refresh")
	return resp, nil
}

// authorize returns a copy of req bound to ctx and carrying the stored access
// token. Unless replace is set, an existing Authorization header is kept.
func (t *Transport) authorize(ctx context.Context, req *http.Request, replace bool) (*http.Request, error) {
	out := req.Clone(ctx)
	if !replace && req.Header.Get("Authorization") != "" {
		return out, nil
	}

	token, err := t.session.AccessToken(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		out.Header.Del("Authorization")
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	out.Header.Set("Authorization", "Bearer "+token)
	return out, nil
}

func (t *Transport) forceLogout(ctx context.Context) {
	t.recorder.RecordForcedLogout()
	if err := t.session.ForceLogout(context.WithoutCancel(ctx)); err != nil {
		t.logger.Error().Err(err).Msg("Failed to log out after refresh failure")
	}
}

// replayable makes sure the body of req can be produced a second time
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.ContentLength = int64(len(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
