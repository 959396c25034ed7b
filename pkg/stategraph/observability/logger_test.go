package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records as JSON lines for assertions.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &testHandler{buf: h.buf, level: h.level, attrs: merged}
}

func (h *testHandler) WithGroup(name string) slog.Handler {
	return h
}

// records decodes every captured line.
func (h *testHandler) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(h.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	handler := newTestHandler()
	logger := slog.New(handler)

	enriched := EnrichLogger(logger, "thread-123", "process", 2)
	require.NotNil(t, enriched)

	enriched.Info("doing work")

	records := handler.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "thread-123", records[0]["thread_id"])
	assert.Equal(t, "process", records[0]["node_id"])
	assert.Equal(t, float64(2), records[0]["step"])
}

func TestEnrichLoggerNil(t *testing.T) {
	assert.Nil(t, EnrichLogger(nil, "thread-1", "node", 0))
}

func TestLogRunLifecycle(t *testing.T) {
	handler := newTestHandler()
	logger := slog.New(handler)

	LogRunStart(logger, "pipeline", "thread-1")
	LogRunComplete(logger, "thread-1", 123.4, 3)
	LogRunError(logger, "thread-1", errors.New("boom"), 50.0, 2)

	records := handler.records(t)
	require.Len(t, records, 3)

	assert.Equal(t, "run starting", records[0]["msg"])
	assert.Equal(t, "pipeline", records[0]["graph"])
	assert.Equal(t, "thread-1", records[0]["thread_id"])

	assert.Equal(t, "run completed", records[1]["msg"])
	assert.Equal(t, float64(3), records[1]["steps"])

	assert.Equal(t, "run failed", records[2]["msg"])
	assert.Equal(t, "ERROR", records[2]["level"])
	assert.Equal(t, "boom", records[2]["error"])
	assert.Equal(t, float64(2), records[2]["step"])
}

func TestLogRunSuspended(t *testing.T) {
	handler := newTestHandler()
	logger := slog.New(handler)

	LogRunSuspended(logger, "thread-1", "cp-42", []string{"review", "approve"})

	records := handler.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "run suspended", records[0]["msg"])
	assert.Equal(t, "cp-42", records[0]["checkpoint_id"])
	assert.Equal(t, []any{"review", "approve"}, records[0]["next_nodes"])
}

func TestLogStepAndNode(t *testing.T) {
	handler := newTestHandler()
	logger := slog.New(handler)

	LogStepStart(logger, 1, []string{"a", "b"})
	LogStepComplete(logger, 1, 12.0)
	LogNodeStart(logger, "a")
	LogNodeComplete(logger, "a", 5.0)
	LogNodeError(logger, "b", errors.New("node blew up"))

	records := handler.records(t)
	require.Len(t, records, 5)

	assert.Equal(t, "superstep starting", records[0]["msg"])
	assert.Equal(t, []any{"a", "b"}, records[0]["nodes"])
	assert.Equal(t, "superstep committed", records[1]["msg"])
	assert.Equal(t, "DEBUG", records[2]["level"])
	assert.Equal(t, "node completed", records[3]["msg"])
	assert.Equal(t, "node blew up", records[4]["error"])
}

func TestLogCheckpoint(t *testing.T) {
	handler := newTestHandler()
	logger := slog.New(handler)

	LogCheckpoint(logger, "thread-1", "cp-1", 2, 512)
	LogCheckpointError(logger, "thread-1", "save", errors.New("disk full"))

	records := handler.records(t)
	require.Len(t, records, 2)

	assert.Equal(t, "checkpoint saved", records[0]["msg"])
	assert.Equal(t, float64(512), records[0]["size_bytes"])

	assert.Equal(t, "WARN", records[1]["level"])
	assert.Equal(t, "save", records[1]["operation"])
}

func TestLogHelpersNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "g", "t")
		LogRunComplete(nil, "t", 0, 0)
		LogRunSuspended(nil, "t", "cp", nil)
		LogRunError(nil, "t", errors.New("x"), 0, 0)
		LogStepStart(nil, 0, nil)
		LogStepComplete(nil, 0, 0)
		LogNodeStart(nil, "n")
		LogNodeComplete(nil, "n", 0)
		LogNodeError(nil, "n", errors.New("x"))
		LogCheckpoint(nil, "t", "cp", 0, 0)
		LogCheckpointError(nil, "t", "save", errors.New("x"))
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	elapsed := done()

	assert.GreaterOrEqual(t, elapsed, float64(4))
	assert.Less(t, elapsed, float64(5000))
}
