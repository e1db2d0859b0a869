package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING "))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: "json"})

	log.Debug("hidden")
	log.With(Component("xp_engine")).Info("xp awarded", UserID("u1"), XPAmount(15), LevelValue(3))
	log.Sync()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "xp awarded", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "xp_engine", entry["component"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, 15.0, entry["xp_amount"])
	assert.Equal(t, 3.0, entry["xp_level"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Output: &buf, Level: LevelDebug, Format: "console"}).Warn("shield spent")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "shield spent")
}

func TestFromContext(t *testing.T) {
	fallback := Nop()
	assert.Same(t, fallback, FromContext(context.Background(), fallback))

	attached := Nop()
	ctx := WithContext(context.Background(), attached)
	assert.Same(t, attached, FromContext(ctx, fallback))
}
