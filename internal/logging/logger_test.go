package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	buf.Reset()
	return out
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel).With("component", "control")

	l.Warn("Request failed", "node", "n1", "error", errors.New("boom"), "elapsed", 2*time.Second)
	line := decodeLine(t, &buf)
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "Request failed", line["message"])
	assert.Equal(t, "control", line["component"])
	assert.Equal(t, "n1", line["node"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "2s", line["elapsed"])
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.InfoLevel)
	l.Debug("hidden")
	assert.Zero(t, buf.Len())
	l.Info("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_WithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, zerolog.DebugLevel)

	ctx := WithOperationID(WithRequestID(context.Background(), "req-1"), "op-9")
	l.WithContext(ctx).Info("scoped")
	line := decodeLine(t, &buf)
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "op-9", line["op_id"])

	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestFromContext(t *testing.T) {
	l := NewNop()
	assert.Same(t, l, FromContext(WithLogger(context.Background(), l)))
	assert.Same(t, Global(), FromContext(context.Background()))
}
