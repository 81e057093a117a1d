package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/meditransport/medride/internal/models"
)

// storeUnderTest runs the shared Store contract against each backend
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	keyring.MockInit()

	return map[string]Store{
		"memory":  NewMemory(),
		"file":    NewFile(filepath.Join(t.TempDir(), "medride", "session.json")),
		"keyring": NewKeyring("http://localhost:3000/api"),
	}
}

func TestStore_Contract(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, AccessTokenKey)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Set(ctx, AccessTokenKey, "A1"))
			got, err := store.Get(ctx, AccessTokenKey)
			require.NoError(t, err)
			assert.Equal(t, "A1", got)

			require.NoError(t, store.Set(ctx, AccessTokenKey, "A2"))
			got, err = store.Get(ctx, AccessTokenKey)
			require.NoError(t, err)
			assert.Equal(t, "A2", got)

			require.NoError(t, store.Clear(ctx, AccessTokenKey))
			_, err = store.Get(ctx, AccessTokenKey)
			assert.ErrorIs(t, err, ErrNotFound)

			// clearing an absent key is fine
			require.NoError(t, store.Clear(ctx, AccessTokenKey))
		})
	}
}

func TestTokens_PairRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			tokens := NewTokens(store)

			pair := models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}
			require.NoError(t, tokens.SavePair(ctx, pair))

			access, err := tokens.AccessToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, "A1", access)

			refresh, err := tokens.RefreshToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, "R1", refresh)

			require.NoError(t, tokens.Clear(ctx))
			_, err = tokens.Pair(ctx)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTokens_RejectsIncompletePair(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens(NewMemory())

	err := tokens.SavePair(ctx, models.TokenPair{AccessToken: "A1"})
	assert.ErrorIs(t, err, ErrIncompletePair)

	_, err = tokens.Pair(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokens_HalfPairReadsAsAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.Set(ctx, AccessTokenKey, "orphan"))

	tokens := NewTokens(store)
	_, err := tokens.AccessToken(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokens_SavePairIfDropsWritesAfterClear(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens(NewMemory())
	require.NoError(t, tokens.SavePair(ctx, models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}))

	gen := tokens.Generation()

	// logout lands while a refresh is in flight
	require.NoError(t, tokens.Clear(ctx))

	written, err := tokens.SavePairIf(ctx, gen, models.TokenPair{AccessToken: "A2", RefreshToken: "R2"})
	require.NoError(t, err)
	assert.False(t, written)

	_, err = tokens.Pair(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	written, err = tokens.SavePairIf(ctx, tokens.Generation(), models.TokenPair{AccessToken: "A3", RefreshToken: "R3"})
	require.NoError(t, err)
	assert.True(t, written)
}

func TestTokens_SavePairIfDropsWritesAfterSavePair(t *testing.T) {
	ctx := context.Background()
	tokens := NewTokens(NewMemory())
	require.NoError(t, tokens.SavePair(ctx, models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}))

	gen := tokens.Generation()
	require.NoError(t, tokens.SavePair(ctx, models.TokenPair{AccessToken: "B1", RefreshToken: "S1"}))
	assert.NotEqual(t, gen, tokens.Generation())

	written, err := tokens.SavePairIf(ctx, gen, models.TokenPair{AccessToken: "A2", RefreshToken: "R2"})
	require.NoError(t, err)
	assert.False(t, written)

	pair, err := tokens.Pair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "B1", pair.AccessToken)
}

func TestFile_WritesPrivateFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	store := NewFile(path)

	require.NoError(t, store.SetMany(ctx, map[string]string{
		AccessTokenKey:  "A1",
		RefreshTokenKey: "R1",
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// a second instance sees the same document
	other := NewFile(path)
	got, err := other.Get(ctx, RefreshTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "R1", got)
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewFile(path).Get(context.Background(), AccessTokenKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestKeyring_NamespacedByHost(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()

	a := NewKeyring("https://api.one.example/api")
	b := NewKeyring("https://api.two.example/api")

	require.NoError(t, a.Set(ctx, AccessTokenKey, "one"))

	_, err := b.Get(ctx, AccessTokenKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedis_Contract(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}

	ctx := context.Background()
	store, err := NewRedis(ctx, RedisConfig{Addr: addr, Prefix: "medride-test:" + t.Name()})
	require.NoError(t, err)
	defer store.Close()

	tokens := NewTokens(store)
	require.NoError(t, tokens.SavePair(ctx, models.TokenPair{AccessToken: "A1", RefreshToken: "R1"}))

	pair, err := tokens.Pair(ctx)
	require.NoError(t, err)
	assert.Equal(t, "R1", pair.RefreshToken)

	require.NoError(t, tokens.Clear(ctx))
	_, err = tokens.Pair(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}
