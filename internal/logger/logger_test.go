package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, zerolog.Disabled, parseLogLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("nonsense"))
}

func TestNew_JSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	l := New(&buf, "info", "json")

	l.Debug().Msg("hidden")
	l.Info().Str("user_id", "u-1").Msg("Logged in")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Logged in", entry["message"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "caller")
}

func TestNew_Console(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	l := New(&buf, "debug", "console")
	l.Debug().Msg("Token refreshed")
	assert.Contains(t, buf.String(), "Token refreshed")
	assert.Contains(t, buf.String(), "DBG")
}
