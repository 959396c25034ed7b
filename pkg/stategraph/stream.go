package stategraph

import (
	"context"
)

// Delta is one superstep's observable outcome: the nodes that ran and
// the post-barrier value of every channel the step wrote.
type Delta struct {
	Step   int
	Nodes  []string
	Writes map[string]any
}

// Stream is a handle on an in-flight run. The delta channel is
// unbuffered, so the run pauses after each barrier until the consumer
// receives; an abandoned stream should be closed to release the run.
type Stream struct {
	deltas chan Delta

	result *Result
	err    error

	done   chan struct{}
	cancel context.CancelFunc
}

// Stream runs the graph like Invoke while delivering a Delta after
// each committed superstep. The run executes in a background
// goroutine; read Deltas until it closes, then collect the outcome
// from Result.
func (e *Engine) Stream(ctx context.Context, input map[string]any, opts ...RunOption) (*Stream, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	rc := defaultRunConfig()
	for _, opt := range opts {
		opt(&rc)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		deltas: make(chan Delta),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	r := e.newRun(runCtx, rc, s)

	go func() {
		defer close(s.done)
		defer close(s.deltas)
		defer cancel()
		if err := r.seed(input); err != nil {
			s.err = err
			return
		}
		s.result, s.err = r.loop()
	}()

	return s, nil
}

// ResumeStream continues a thread from its checkpoint like Resume
// while delivering a Delta after each committed superstep.
func (e *Engine) ResumeStream(ctx context.Context, opts ...RunOption) (*Stream, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	rc := defaultRunConfig()
	for _, opt := range opts {
		opt(&rc)
	}
	if rc.threadID == "" {
		return nil, ErrThreadIDRequired
	}
	if e.config.saver == nil {
		return nil, ErrNoCheckpointSaver
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		deltas: make(chan Delta),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	r := e.newRun(runCtx, rc, s)

	go func() {
		defer close(s.done)
		defer close(s.deltas)
		defer cancel()
		if err := r.restore(); err != nil {
			s.err = err
			return
		}
		s.result, s.err = r.loop()
	}()

	return s, nil
}

// Deltas returns the per-superstep delta channel. It is closed once
// the run reaches a terminal status.
func (s *Stream) Deltas() <-chan Delta {
	return s.deltas
}

// Result blocks until the run finishes and returns its outcome, with
// the same semantics as Invoke's return values.
func (s *Stream) Result() (*Result, error) {
	<-s.done
	return s.result, s.err
}

// Close abandons the stream. The run observes the cancellation at its
// next superstep boundary and fails with a CancellationError; Result
// still reports that outcome. Close is idempotent and never blocks.
func (s *Stream) Close() {
	s.cancel()
}
