package stategraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testLogHandler captures log records for testing.
type testLogHandler struct {
	buf   *bytes.Buffer
	level slog.Level
}

func newTestLogHandler() *testLogHandler {
	return &testLogHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	enc := json.NewEncoder(h.buf)
	return enc.Encode(data)
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *testLogHandler) getRecords() []map[string]any {
	var records []map[string]any
	lines := bytes.Split(h.buf.Bytes(), []byte("\n"))
	for _, line := range lines {
		if len(line) > 0 {
			var m map[string]any
			if err := json.Unmarshal(line, &m); err == nil {
				records = append(records, m)
			}
		}
	}
	return records
}

func (h *testLogHandler) countMsg(msg string) int {
	n := 0
	for _, r := range h.getRecords() {
		if r["msg"] == msg {
			n++
		}
	}
	return n
}

func TestInvoke_WithLogger(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	engine := newTestEngine(t, compile(t, counterGraph()), WithLogger(logger))
	_, err := engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)

	records := h.getRecords()
	require.NotEmpty(t, records, "expected log records")

	var foundStart, foundComplete bool
	for _, r := range records {
		switch r["msg"] {
		case "run starting":
			foundStart = true
			assert.Equal(t, "counter", r["graph"])
			assert.Equal(t, "t1", r["thread_id"])
		case "run completed":
			foundComplete = true
			assert.Equal(t, "t1", r["thread_id"])
			assert.EqualValues(t, 3, r["steps"])
		}
	}
	assert.True(t, foundStart, "expected 'run starting' log")
	assert.True(t, foundComplete, "expected 'run completed' log")

	assert.Equal(t, 3, h.countMsg("superstep starting"))
	assert.Equal(t, 3, h.countMsg("superstep committed"))
	assert.Equal(t, 3, h.countMsg("node starting"))
	assert.Equal(t, 3, h.countMsg("node completed"))
}

func TestInvoke_WithLogger_Nodefailure(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	boom := errors.New("boom")
	g := New("g").
		AddNode("ok", noopNode).
		AddNode("fail", failNode(boom)).
		AddEdge("ok", "fail").
		AddEdge("fail", END).
		SetEntry("ok")

	engine := newTestEngine(t, compile(t, g), WithLogger(logger))
	_, err := engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.Error(t, err)

	var foundNodeError, foundRunError bool
	for _, r := range h.getRecords() {
		switch r["msg"] {
		case "node failed":
			foundNodeError = true
			assert.Equal(t, "fail", r["node_id"])
			assert.Contains(t, r["error"], "boom")
		case "run failed":
			foundRunError = true
			assert.Equal(t, "t1", r["thread_id"])
		}
	}
	assert.True(t, foundNodeError, "expected 'node failed' log")
	assert.True(t, foundRunError, "expected 'run failed' log")
}

func TestInvoke_WithLogger_Checkpoints(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	engine := newTestEngine(t, compile(t, counterGraph()),
		WithLogger(logger),
		WithCheckpointSaver(memorySaver()))
	_, err := engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)

	saved := 0
	for _, r := range h.getRecords() {
		if r["msg"] != "checkpoint saved" {
			continue
		}
		saved++
		assert.Equal(t, "t1", r["thread_id"])
		assert.NotEmpty(t, r["checkpoint_id"])
		assert.NotZero(t, r["size_bytes"])
	}
	assert.Equal(t, 3, saved)
}

func TestInvoke_WithLogger_Suspension(t *testing.T) {
	h := newTestLogHandler()
	logger := slog.New(h)

	engine := newTestEngine(t, compile(t, counterGraph()),
		WithLogger(logger),
		WithCheckpointSaver(memorySaver()),
		WithInterruptBefore("b"))
	result, err := engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, result.Status)

	var found bool
	for _, r := range h.getRecords() {
		if r["msg"] == "run suspended" {
			found = true
			assert.Equal(t, "t1", r["thread_id"])
			assert.NotEmpty(t, r["checkpoint_id"])
			assert.Equal(t, []any{"b"}, r["next_nodes"])
		}
	}
	assert.True(t, found, "expected 'run suspended' log")
}

// TestInvoke_TracingRecordsSpans tests the run/step/node span tree
// against an in-memory exporter registered as the global provider.
func TestInvoke_TracingRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("tracer provider shutdown: %v", err)
		}
	})

	engine := newTestEngine(t, compile(t, counterGraph()), WithTracing(true))
	_, err := engine.Invoke(context.Background(), nil, WithThreadID("t1"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 7, "1 run + 3 steps + 3 nodes")

	byName := make(map[string]tracetest.SpanStub, len(spans))
	for _, s := range spans {
		byName[s.Name] = s
	}
	for _, name := range []string{
		"stategraph.run",
		"stategraph.step.0", "stategraph.step.1", "stategraph.step.2",
		"stategraph.node.a", "stategraph.node.b", "stategraph.node.c",
	} {
		assert.Contains(t, byName, name)
	}

	run := byName["stategraph.run"]
	step0 := byName["stategraph.step.0"]
	nodeA := byName["stategraph.node.a"]
	assert.Equal(t, run.SpanContext.SpanID(), step0.Parent.SpanID())
	assert.Equal(t, step0.SpanContext.SpanID(), nodeA.Parent.SpanID())
}

func TestInvoke_WithMetricsEnabled(t *testing.T) {
	// No meter provider registered: recording must be a safe no-op.
	engine := newTestEngine(t, compile(t, counterGraph()), WithMetrics(true))
	result, err := engine.Invoke(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
}
