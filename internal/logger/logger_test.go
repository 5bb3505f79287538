package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(&Config{Level: "debug", Format: "json", Output: buf, ServiceName: "conveyor-test"})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	return line
}

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := newBufferLogger(&buf)

	log.WithField(FieldProductID, "42").Info("advance finished")

	line := decodeLine(t, &buf)
	assert.Equal(t, "advance finished", line["message"])
	assert.Equal(t, "conveyor-test", line["service"])
	assert.Equal(t, "42", line[FieldProductID])
	assert.Contains(t, line, "timestamp")
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, FromContext(nil)) //nolint:staticcheck
	assert.False(t, HasLogger(context.Background()))
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())

	ctx = SetProductID(ctx, "43")
	ctx = SetStage(ctx, "stock")
	ctx = SetRequestID(ctx, "req-1")

	assert.True(t, HasLogger(ctx))
	assert.Equal(t, "43", GetProductID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))

	CtxWarn(ctx, "stage failed: %s", "timeout")
	line := decodeLine(t, &buf)
	assert.Equal(t, "stock", line[FieldStage])
	assert.Equal(t, "stage failed: timeout", line["message"])
	assert.Equal(t, "warning", line["level"])
}

func TestEntry_MetricFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())

	With(Fields{FieldCount: 3}).WithDuration(120).WithOutcome("done").Info(ctx, "batch done")

	line := decodeLine(t, &buf)
	assert.EqualValues(t, 3, line[FieldCount])
	assert.EqualValues(t, 120, line[FieldDurationMs])
	assert.Equal(t, "done", line[FieldOutcome])
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("LOG_MAX_SIZE", "not-a-number")

	cfg := LoadFromEnv("conveyor-api")
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "conveyor-api", cfg.ServiceName)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, "local", cfg.Environment)
}
