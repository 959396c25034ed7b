package stategraph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
)

// StateSnapshot describes a thread's position at one checkpoint:
// channel values, the pending frontier, and the chain coordinates.
type StateSnapshot struct {
	Values       map[string]any
	NextNodes    []string
	CheckpointID string
	ParentID     string
	Step         int
	Status       Status
	Metadata     map[string]any
	CreatedAt    time.Time
}

// GetState returns the thread's latest checkpoint as a snapshot.
func (e *Engine) GetState(ctx context.Context, threadID string) (*StateSnapshot, error) {
	if err := e.requireThread(ctx, threadID); err != nil {
		return nil, err
	}
	loaded, err := e.config.saver.Load(ctx, threadID, "")
	if err != nil {
		return nil, err
	}
	return snapshotFromLoaded(loaded), nil
}

// GetStateHistory returns every checkpoint of the thread as snapshots,
// newest first.
func (e *Engine) GetStateHistory(ctx context.Context, threadID string) ([]*StateSnapshot, error) {
	if err := e.requireThread(ctx, threadID); err != nil {
		return nil, err
	}
	infos, err := e.config.saver.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	snapshots := make([]*StateSnapshot, 0, len(infos))
	for _, info := range infos {
		loaded, err := e.config.saver.Load(ctx, threadID, info.ID)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", info.ID, err)
		}
		snapshots = append(snapshots, snapshotFromLoaded(loaded))
	}
	return snapshots, nil
}

// UpdateState applies the given values to the thread's latest
// checkpointed state through the channels' merge semantics and
// persists the outcome as a new checkpoint tagged with metadata
// source=update. The thread's frontier and pending writes carry over
// unchanged, so a later Resume picks up right where the thread was,
// with the repaired state. Returns the new checkpoint's ID.
//
// An empty update map is allowed; it forks the checkpoint without
// changing any values.
func (e *Engine) UpdateState(ctx context.Context, threadID string, updates map[string]any) (string, error) {
	if err := e.requireThread(ctx, threadID); err != nil {
		return "", err
	}

	loaded, err := e.config.saver.Load(ctx, threadID, "")
	if err != nil {
		return "", fmt.Errorf("load checkpoint: %w", err)
	}

	channels := e.graph.newChannels()
	for name, value := range loaded.Values {
		ch, ok := channels[name]
		if !ok {
			return "", fmt.Errorf("%w: checkpoint references %q", ErrUnknownChannel, name)
		}
		if err := ch.Restore(value); err != nil {
			return "", fmt.Errorf("restore channel %q: %w", name, err)
		}
	}

	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch, ok := channels[name]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownChannel, name)
		}
		if _, err := ch.Update([]any{updates[name]}); err != nil {
			var iue *channel.InvalidUpdateError
			if errors.As(err, &iue) && iue.Channel == "" {
				iue.Channel = name
			}
			return "", err
		}
	}

	values := make(map[string]any, len(channels))
	for name, ch := range channels {
		if v, err := ch.Checkpoint(); err == nil {
			values[name] = v
		}
	}

	cp := loaded.Checkpoint
	meta := make(map[string]any, len(cp.Metadata)+1)
	for k, v := range cp.Metadata {
		meta[k] = v
	}
	meta["source"] = "update"

	saved, err := e.config.saver.Save(ctx, threadID, cp.Step, checkpoint.Snapshot{
		Values:    values,
		NextNodes: cp.NextNodes,
		Pending:   loaded.Pending,
		Parent:    cp.ID,
		Metadata:  meta,
	})
	if err != nil {
		return "", fmt.Errorf("save checkpoint: %w", err)
	}
	return saved.ID, nil
}

func (e *Engine) requireThread(ctx context.Context, threadID string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if threadID == "" {
		return ErrThreadIDRequired
	}
	if e.config.saver == nil {
		return ErrNoCheckpointSaver
	}
	return nil
}

// snapshotFromLoaded derives the thread status from the checkpoint's
// shape: an empty frontier means the run completed, pending writes
// mean it failed with isolated nodes, anything else is suspended.
func snapshotFromLoaded(loaded *checkpoint.Loaded) *StateSnapshot {
	cp := loaded.Checkpoint
	status := StatusSuspended
	switch {
	case len(cp.NextNodes) == 0:
		status = StatusCompleted
	case len(loaded.Pending) > 0:
		status = StatusFailed
	}
	return &StateSnapshot{
		Values:       loaded.Values,
		NextNodes:    append([]string(nil), cp.NextNodes...),
		CheckpointID: cp.ID,
		ParentID:     cp.Parent,
		Step:         cp.Step,
		Status:       status,
		Metadata:     cp.Metadata,
		CreatedAt:    cp.CreatedAt,
	}
}
