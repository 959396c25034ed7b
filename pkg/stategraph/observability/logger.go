// Package observability provides structured logging, metrics, and
// distributed tracing for graph execution.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds execution context to a logger.
// Returns a new logger with thread_id, node_id, and step fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "thread-123", "process", 2)
//	enriched.Info("doing work") // includes thread_id, node_id, step
func EnrichLogger(logger *slog.Logger, threadID, nodeID string, step int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("thread_id", threadID),
		slog.String("node_id", nodeID),
		slog.Int("step", step),
	)
}

// LogRunStart logs the start of a graph run.
func LogRunStart(logger *slog.Logger, graphName, threadID string) {
	if logger == nil {
		return
	}
	logger.Info("run starting",
		slog.String("graph", graphName),
		slog.String("thread_id", threadID),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, threadID string, durationMs float64, steps int) {
	if logger == nil {
		return
	}
	logger.Info("run completed",
		slog.String("thread_id", threadID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("steps", steps),
	)
}

// LogRunSuspended logs a run pausing at an interrupt point.
func LogRunSuspended(logger *slog.Logger, threadID, checkpointID string, nextNodes []string) {
	if logger == nil {
		return
	}
	logger.Info("run suspended",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.Any("next_nodes", nextNodes),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, threadID string, err error, durationMs float64, step int) {
	if logger == nil {
		return
	}
	logger.Error("run failed",
		slog.String("thread_id", threadID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.Int("step", step),
	)
}

// LogStepStart logs the start of a superstep.
func LogStepStart(logger *slog.Logger, step int, nodes []string) {
	if logger == nil {
		return
	}
	logger.Debug("superstep starting",
		slog.Int("step", step),
		slog.Any("nodes", nodes),
	)
}

// LogStepComplete logs a committed superstep.
func LogStepComplete(logger *slog.Logger, step int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("superstep committed",
		slog.Int("step", step),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs node execution error.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogCheckpoint logs checkpoint creation.
func LogCheckpoint(logger *slog.Logger, threadID, checkpointID string, step, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint saved",
		slog.String("thread_id", threadID),
		slog.String("checkpoint_id", checkpointID),
		slog.Int("step", step),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCheckpointError logs checkpoint failure.
func LogCheckpointError(logger *slog.Logger, threadID string, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint failed",
		slog.String("thread_id", threadID),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
