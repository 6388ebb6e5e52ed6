package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(DefaultConfig(), &buf)

	log.WithField("component", "alerts").Info("Alert raised", "alert_id", "a-1", "error", errors.New("boom"), 42, "dropped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "Alert raised", lines[0]["msg"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "alerts", lines[0]["component"])
	assert.Equal(t, "a-1", lines[0]["alert_id"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: LevelWarn, Format: FormatJSON}, &buf)

	log.Info("hidden")
	log.Warn("shown")
	assert.Len(t, decodeLines(t, &buf), 1)

	child := log.WithFields(map[string]interface{}{"loop": "metrics"})
	log.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, child.GetLevel())
	child.Debug("now visible")
	assert.Len(t, decodeLines(t, &buf), 2)

	log.SetLevel("nonsense")
	assert.Equal(t, LevelDebug, log.GetLevel())
}

func TestLoggerFallsBackToInfo(t *testing.T) {
	log := NewWithWriter(Config{Level: "verbose"}, &bytes.Buffer{})
	assert.Equal(t, LevelInfo, log.GetLevel())
}

func TestLoggerWithContextAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(DefaultConfig(), &buf)

	ctx := context.WithValue(context.Background(), ContextKeyRequestID, "req-7")
	log.WithContext(ctx).Info("handled")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-7", lines[0]["request_id"])
}

func TestPerformanceLogger(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Level: LevelDebug, Format: FormatJSON}, &buf)
	pl := NewPerformanceLogger(log, 100*time.Millisecond)

	pl.LogDuration("health_tick", 10*time.Millisecond)
	pl.LogDuration("persist", 2*time.Second, "alerts", 3)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "debug", lines[0]["level"])
	assert.Equal(t, "warning", lines[1]["level"])
	assert.Equal(t, "persist", lines[1]["operation"])
	assert.Equal(t, float64(2000), lines[1]["duration_ms"])
}
