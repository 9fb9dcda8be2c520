package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_JSONWithServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf, Service: "late-ledger", Version: "1.2.0"})

	log.Info("dropped")
	log.Warn("ledger contention", "roll_no", "22B81A0501", "attempt", 5)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ledger contention", rec["msg"])
	assert.Equal(t, "late-ledger", rec["service"])
	assert.Equal(t, "1.2.0", rec["version"])
	assert.Equal(t, "22B81A0501", rec["roll_no"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Format: "text", Output: &buf}).Info("started", "jobs", 3)
	assert.Contains(t, buf.String(), "msg=started jobs=3")
}

func TestContextLogger(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer
	ctx := WithContext(context.Background(), New(Options{Format: "text", Output: &buf}))
	ctx = WithOperation(ctx, "settle_fine", "22B81A0501")
	FromContext(ctx).Info("settled")

	assert.Contains(t, buf.String(), "operation=settle_fine")
	assert.Contains(t, buf.String(), "roll_no=22B81A0501")
}
