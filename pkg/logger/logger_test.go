package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "prod", "info")

	l.Info("ws.connected", "room_id", 7)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ws.connected", entry["msg"])
	assert.Equal(t, float64(7), entry["room_id"])
}

func TestNew_LevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "dev", "info")

	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.True(t, strings.Contains(buf.String(), "shown"))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestSetReplacesGlobal(t *testing.T) {
	prev := L()
	t.Cleanup(func() { Set(prev) })

	var buf bytes.Buffer
	Set(New(&buf, "dev", "debug"))
	Info("hello", "k", "v")

	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "k=v")
}
