package stategraph

import (
	"context"
	"fmt"
)

// Resume continues a thread from its checkpoint: the frontier the
// checkpoint recorded runs next, and new checkpoints chain onto the
// one resumed from. By default the thread's latest checkpoint is used;
// FromCheckpoint resumes an earlier one instead, branching the
// thread's history. WithStateUpdate merges values into the restored
// state before the first superstep.
//
// Resuming a thread suspended by an interrupt executes the
// interrupted nodes; the interrupt does not re-fire for them. Resuming
// a thread that failed under the Isolate policy re-runs only the
// failed nodes and replays the successful nodes' buffered writes.
// Resuming a completed thread returns a completed Result without
// running anything.
func (e *Engine) Resume(ctx context.Context, opts ...RunOption) (*Result, error) {
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

	r := e.newRun(ctx, rc, nil)
	if err := r.restore(); err != nil {
		return nil, err
	}
	return r.loop()
}

// restore rebuilds the run's position from a persisted checkpoint:
// channel values, frontier, pending writes, and the chain position for
// subsequent saves. A checkpoint naming a channel the graph no longer
// declares is an error; re-seed the thread instead of resuming it.
func (r *run) restore() error {
	loaded, err := r.cfg.saver.Load(r.ctx, r.threadID, r.rc.fromCheckpoint)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	for name, value := range loaded.Values {
		ch, ok := r.channels[name]
		if !ok {
			return fmt.Errorf("%w: checkpoint references %q", ErrUnknownChannel, name)
		}
		if err := ch.Restore(value); err != nil {
			return fmt.Errorf("restore channel %q: %w", name, err)
		}
	}

	cp := loaded.Checkpoint
	r.active = append([]string(nil), cp.NextNodes...)
	r.step = cp.Step + 1
	r.parentID = cp.ID
	r.checkpointID = cp.ID
	r.hasCheckpoint = true
	r.pendingReplay = loaded.Pending
	r.skipInterrupt = true

	if len(r.rc.stateUpdate) > 0 {
		writes := make(map[string][]any, len(r.rc.stateUpdate))
		for name, value := range r.rc.stateUpdate {
			writes[name] = []any{value}
		}
		if err := r.applyBarrier(writes); err != nil {
			return fmt.Errorf("apply state update: %w", err)
		}
	}
	return nil
}
