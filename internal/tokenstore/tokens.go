package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/meditransport/medride/internal/models"
)

// ErrIncompletePair is returned when saving a pair with a missing half
var ErrIncompletePair = errors.New("token pair must contain both an access and a refresh token")

// Tokens owns the TokenPair on top of a Store. Pair writes and clears are
// serialised so no reader observes one token updated and the other stale.
type Tokens struct {
	store Store

	mu         sync.RWMutex
	generation uint64
}

// NewTokens wraps store
func NewTokens(store Store) *Tokens {
	return &Tokens{store: store}
}

// Store returns the underlying key-value store
func (t *Tokens) Store() Store {
	return t.store
}

// Generation identifies the current session epoch. It changes on every Clear
// and every SavePair.
func (t *Tokens) Generation() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.generation
}

// AccessToken returns the stored access token or ErrNotFound
func (t *Tokens) AccessToken(ctx context.Context) (string, error) {
	pair, err := t.Pair(ctx)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// RefreshToken returns the stored refresh token or ErrNotFound
func (t *Tokens) RefreshToken(ctx context.Context) (string, error) {
	pair, err := t.Pair(ctx)
	if err != nil {
		return "", err
	}
	return pair.RefreshToken, nil
}

// Pair loads both tokens. A store holding only one half reads as ErrNotFound.
func (t *Tokens) Pair(ctx context.Context) (models.TokenPair, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	access, err := t.store.Get(ctx, AccessTokenKey)
	if err != nil {
		return models.TokenPair{}, err
	}
	refresh, err := t.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		return models.TokenPair{}, err
	}

	pair := models.TokenPair{AccessToken: access, RefreshToken: refresh}
	if !pair.Complete() {
		return models.TokenPair{}, ErrNotFound
	}
	return pair, nil
}

// SavePair stores both tokens as a single step and starts a new generation,
// so a write prepared against the previous session is dropped.
func (t *Tokens) SavePair(ctx context.Context, pair models.TokenPair) error {
	if !pair.Complete() {
		return ErrIncompletePair
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	return t.write(ctx, pair)
}

// SavePairIf stores the pair only if no Clear or SavePair happened since
// generation was observed. It reports whether the write happened.
func (t *Tokens) SavePairIf(ctx context.Context, generation uint64, pair models.TokenPair) (bool, error) {
	if !pair.Complete() {
		return false, ErrIncompletePair
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.generation != generation {
		return false, nil
	}
	if err := t.write(ctx, pair); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes both tokens and starts a new generation
func (t *Tokens) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++

	if batch, ok := t.store.(ClearAll); ok {
		if err := batch.ClearMany(ctx, AccessTokenKey, RefreshTokenKey); err != nil {
			return fmt.Errorf("failed to clear tokens: %w", err)
		}
		return nil
	}

	var errs []error
	if err := t.store.Clear(ctx, AccessTokenKey); err != nil {
		errs = append(errs, err)
	}
	if err := t.store.Clear(ctx, RefreshTokenKey); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	return nil
}

func (t *Tokens) write(ctx context.Context, pair models.TokenPair) error {
	if batch, ok := t.store.(BatchStore); ok {
		if err := batch.SetMany(ctx, map[string]string{
			AccessTokenKey:  pair.AccessToken,
			RefreshTokenKey: pair.RefreshToken,
		}); err != nil {
			return fmt.Errorf("failed to store tokens: %w", err)
		}
		return nil
	}

	if err := t.store.Set(ctx, AccessTokenKey, pair.AccessToken); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	if err := t.store.Set(ctx, RefreshTokenKey, pair.RefreshToken); err != nil {
		// don't leave a half pair behind
		_ = t.store.Clear(ctx, AccessTokenKey)
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}
