// ABOUTME: Tests for logger construction
// ABOUTME: Checks level parsing, color handler output and file fanout

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mulchat-gateway/internal/config"
)

func init() {
	color.NoColor = true
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestColorHandler(t *testing.T) {
	var console bytes.Buffer
	logger := NewWithWriters(config.LoggingConfig{Level: "info", Format: "text"}, &console, nil)

	logger.Debug("hidden")
	logger.With("component", "chat").WithGroup("msg").Info("=== USER ONLINE ===", "user_id", "u1")
	logger.Error("boom")

	out := console.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF === USER ONLINE ===")
	assert.Contains(t, out, " component=chat")
	assert.Contains(t, out, " msg.user_id=u1")
	assert.Contains(t, out, "ERR boom")
}

func TestFanoutToFile(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewWithWriters(config.LoggingConfig{Level: "debug", Format: "json"}, &console, &file)

	logger.Warn("queue full", "conn_id", "c1")

	for _, out := range []*bytes.Buffer{&console, &file} {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
		assert.Equal(t, "queue full", rec["msg"])
		assert.Equal(t, "WARN", rec["level"])
		assert.Equal(t, "c1", rec["conn_id"])
	}
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	logger, cleanup, err := Setup(config.LoggingConfig{Level: "info", Format: "json", File: path})
	require.NoError(t, err)

	logger.Info("started")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"started"`)

	_, _, err = Setup(config.LoggingConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
