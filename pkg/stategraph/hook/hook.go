// Package hook lets callers attach named callbacks to engine lifecycle
// points: compilation, run start and end, superstep boundaries, and
// engine teardown. Hooks run in priority order, optionally gated by a
// predicate, with a per-hook failure policy.
package hook

import (
	"context"
	"errors"

	"github.com/randalmurphal/stategraph/pkg/stategraph/expr"
)

// Point identifies a lifecycle moment hooks can attach to.
type Point string

// Lifecycle points, in the order they occur.
const (
	BeforeCompile   Point = "before_compile"
	AfterCompile    Point = "after_compile"
	BeforeExecution Point = "before_execution"
	AfterExecution  Point = "after_execution"
	BeforeStep      Point = "before_step"
	AfterStep       Point = "after_step"
	BeforeDestroy   Point = "before_destroy"
)

// Mode selects how the hooks of one point run.
type Mode int

const (
	// Sequence runs hooks one at a time in priority order. A hook
	// returning ErrHalt stops the remaining hooks without failing.
	Sequence Mode = iota
	// Parallel runs all matching hooks concurrently and aggregates
	// their aborting errors. ErrHalt has no effect in this mode.
	Parallel
)

// Policy decides what a hook error does to the execution.
type Policy int

const (
	// LogAndContinue logs the hook error and keeps going.
	LogAndContinue Policy = iota
	// AbortExecution propagates the hook error to the engine.
	AbortExecution
)

// ErrHalt stops the remaining hooks of a Sequence chain.
// It is a control signal, not a failure.
var ErrHalt = errors.New("hook chain halted")

// Info describes the lifecycle moment a hook fires at.
type Info struct {
	Point    Point
	Graph    string
	ThreadID string
	// Step is the current superstep index for points fired during a
	// run, -1 for compile and destroy points.
	Step int
	// Status is the run status at after-execution points
	// (completed, suspended, failed), empty otherwise.
	Status string
	// Err is the execution error at after-execution points, if any.
	Err error
}

// Fn is a hook callback.
type Fn func(ctx context.Context, info Info) error

// Predicate gates whether a hook fires for a given Info.
type Predicate func(info Info) bool

// Hook is a named callback bound to a lifecycle point.
type Hook struct {
	Name  string
	Point Point
	// Priority orders hooks within a point; lower runs first. Hooks
	// with equal priority run in registration order.
	Priority  int
	Predicate Predicate
	Fn        Fn
	Policy    Policy
}

// ExprPredicate builds a Predicate from a boolean expression evaluated
// against the Info fields: point, graph, thread_id, step, status, and
// error (the error message, empty when nil). Evaluation errors gate the
// hook off.
//
//	hook.ExprPredicate("status == 'failed'")
//	hook.ExprPredicate("step > 10 and graph == 'ingest'")
func ExprPredicate(predicate string) Predicate {
	return func(info Info) bool {
		errMsg := ""
		if info.Err != nil {
			errMsg = info.Err.Error()
		}
		vars := map[string]any{
			"point":     string(info.Point),
			"graph":     info.Graph,
			"thread_id": info.ThreadID,
			"step":      info.Step,
			"status":    info.Status,
			"error":     errMsg,
		}
		ok, err := expr.Eval(predicate, vars)
		if err != nil {
			return false
		}
		return ok
	}
}
