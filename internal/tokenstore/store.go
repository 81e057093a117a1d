// Package tokenstore persists the access/refresh token pair in durable
// key-value storage.
package tokenstore

import (
	"context"
	"errors"
)

// Fixed storage keys
const (
	AccessTokenKey     = "access_token"
	RefreshTokenKey    = "refresh_token"
	RememberedEmailKey = "rememberedEmail"
)

// ErrNotFound is returned by Get when the key holds no value
var ErrNotFound = errors.New("token not found")

// Store is durable storage for named opaque strings. Stored values are
// sensitive; no backend encrypts them on its own.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Clear removes key. Clearing an absent key is not an error.
	Clear(ctx context.Context, key string) error
}

// BatchStore is implemented by backends that can write several keys in one step
type BatchStore interface {
	SetMany(ctx context.Context, values map[string]string) error
}

// ClearAll is implemented by backends that can remove several keys in one step
type ClearAll interface {
	ClearMany(ctx context.Context, keys ...string) error
}
