package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/zalando/go-keyring"
)

const keyringService = "medride-cli"

// Keyring stores values in the OS keychain/credential manager. Entries are
// namespaced per API host so sessions against different backends don't collide.
type Keyring struct {
	namespace string
}

// NewKeyring creates a keyring store scoped to the host of apiURL
func NewKeyring(apiURL string) *Keyring {
	ns := apiURL
	if u, err := url.Parse(apiURL); err == nil && u.Host != "" {
		ns = u.Host
	}
	return &Keyring{namespace: ns}
}

// keyFor returns a unique keyring user for key within the namespace
func (k *Keyring) keyFor(key string) string {
	return fmt.Sprintf("%s-%s", key, k.namespace)
}

func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(keyringService, k.keyFor(key))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to load %s: %w", key, err)
	}
	return v, nil
}

func (k *Keyring) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(keyringService, k.keyFor(key), value); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (k *Keyring) Clear(_ context.Context, key string) error {
	if err := keyring.Delete(keyringService, k.keyFor(key)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
