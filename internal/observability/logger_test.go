package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "output: %s", buf.String())
	return entry
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		level string
		log   func(Logger)
		want  bool
	}{
		{"info logs info", "info", func(l Logger) { l.Info("hello") }, true},
		{"info drops debug", "info", func(l Logger) { l.Debug("hello") }, false},
		{"debug logs debug", "debug", func(l Logger) { l.Debug("hello") }, true},
		{"error drops warn", "error", func(l Logger) { l.Warn("hello") }, false},
		{"warning alias", "warning", func(l Logger) { l.Warn("hello") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.log(NewLogger(Config{Level: tt.level, Format: "json", Output: buf}))
			assert.Equal(t, tt.want, strings.Contains(buf.String(), "hello"))
		})
	}
}

func TestLoggerFormats(t *testing.T) {
	buf := &bytes.Buffer{}
	NewLogger(Config{Format: "json", Output: buf}).Info("turn completed", "mode", "create")
	entry := decodeEntry(t, buf)
	assert.Equal(t, "turn completed", entry["msg"])
	assert.Equal(t, "create", entry["mode"])

	buf.Reset()
	NewLogger(Config{Format: "TEXT", Output: buf}).Info("turn completed", "mode", "create")
	assert.Contains(t, buf.String(), "mode=create")
}

func TestLoggerWithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	NewLogger(Config{Output: buf}).WithComponent("engine").With("trip", "t1").Info("x")
	entry := decodeEntry(t, buf)
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "t1", entry["trip"])
}

func TestLoggerContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Level: "debug", Output: buf})

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = WithUserID(ctx, "user-9")
	ctx = WithComponent(ctx, "jobs")
	logger.InfoContext(ctx, "claimed")

	entry := decodeEntry(t, buf)
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-9", entry["user_id"])
	assert.Equal(t, "jobs", entry["component"])
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, ctx, WithRequestID(ctx, ""), "empty values leave ctx untouched")
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, UserIDFromContext(nil)) //nolint:staticcheck // nil ctx is tolerated
	assert.Equal(t, "u", UserIDFromContext(WithUserID(ctx, "u")))
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewLogger(Config{Output: buf})
	FromContext(WithRequestID(context.Background(), "r1"), base).Info("x")
	assert.Equal(t, "r1", decodeEntry(t, buf)["request_id"])

	assert.Same(t, base, FromContext(context.Background(), base))
	assert.NotNil(t, FromContext(context.Background(), nil))
}

func TestNewLoggerFromSlog(t *testing.T) {
	buf := &bytes.Buffer{}
	sl := slog.New(slog.NewJSONHandler(buf, nil))
	l := NewLoggerFromSlog(sl)
	assert.Same(t, sl, l.Slog())
	assert.NotNil(t, NewLoggerFromSlog(nil).Slog())
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	l.Error("dropped")
	l.WithComponent("x").InfoContext(context.Background(), "dropped")
}
