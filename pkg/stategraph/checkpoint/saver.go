package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/stategraph/pkg/stategraph/registry"
)

// Saver turns in-memory execution snapshots into durable checkpoints and
// back. It owns value serialization (pluggable via WithSerializer, JSON
// by default), assigns time-ordered UUIDv7 checkpoint IDs, and strictly
// serializes all operations per thread so concurrent runs on the same
// thread cannot interleave partial saves.
type Saver struct {
	store Store
	serde Serializer
	locks *registry.Registry[string, *sync.Mutex]
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithSerializer replaces the default JSONSerializer for channel values.
func WithSerializer(serde Serializer) SaverOption {
	return func(s *Saver) { s.serde = serde }
}

// NewSaver creates a Saver on top of the given store.
func NewSaver(store Store, opts ...SaverOption) *Saver {
	s := &Saver{
		store: store,
		serde: JSONSerializer{},
		locks: registry.New[string, *sync.Mutex](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Saver) threadLock(threadID string) *sync.Mutex {
	return s.locks.GetOrCreate(threadID, func() *sync.Mutex { return new(sync.Mutex) })
}

// Snapshot is the in-memory state handed to Save: live channel values,
// the frontier for the next superstep, any uncommitted node writes, and
// the parent checkpoint this one extends.
type Snapshot struct {
	Values    map[string]any
	NextNodes []string
	Pending   []NodeWrites
	Parent    string
	Metadata  map[string]any
}

// NodeWrites is the unserialized form of one node's buffered result:
// its channel updates and any explicit routing targets it returned.
type NodeWrites struct {
	NodeID  string
	Updates map[string]any
	Goto    []string
}

// Loaded is a checkpoint restored to usable form: the envelope as
// persisted plus deserialized channel values and pending writes.
type Loaded struct {
	Checkpoint *Checkpoint
	Values     map[string]any
	Pending    []NodeWrites
}

// Policy bounds checkpoint retention per thread. Zero fields mean
// unlimited on that dimension. The newest checkpoint is always kept
// regardless of policy, so a thread never loses its resume point.
type Policy struct {
	// MaxCount keeps at most this many checkpoints, newest first.
	MaxCount int
	// MaxAge removes checkpoints older than this.
	MaxAge time.Duration
}

// CorruptedError indicates a stored checkpoint could not be decoded.
// ID may be empty when the envelope itself failed to parse during a
// latest-checkpoint load.
type CorruptedError struct {
	ThreadID string
	ID       string
	Err      error
}

func (e *CorruptedError) Error() string {
	return fmt.Sprintf("checkpoint %s/%s corrupted: %v", e.ThreadID, e.ID, e.Err)
}

func (e *CorruptedError) Unwrap() error { return e.Err }

// Save serializes the snapshot and persists it as a new checkpoint,
// returning the stored envelope. Serialization failures abort the save
// before anything is written, so the store never holds a partial
// checkpoint.
func (s *Saver) Save(ctx context.Context, threadID string, step int, snap Snapshot) (*Checkpoint, error) {
	mu := s.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	channels := make(map[string][]byte, len(snap.Values))
	for name, value := range snap.Values {
		data, err := s.serde.Serialize(value)
		if err != nil {
			return nil, fmt.Errorf("serialize channel %q: %w", name, err)
		}
		channels[name] = data
	}

	var pending []PendingWrite
	for _, nw := range snap.Pending {
		pw := PendingWrite{NodeID: nw.NodeID, Goto: nw.Goto}
		if len(nw.Updates) > 0 {
			pw.Writes = make(map[string][]byte, len(nw.Updates))
			for name, value := range nw.Updates {
				data, err := s.serde.Serialize(value)
				if err != nil {
					return nil, fmt.Errorf("serialize pending write %s/%s: %w", nw.NodeID, name, err)
				}
				pw.Writes[name] = data
			}
		}
		pending = append(pending, pw)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate checkpoint id: %w", err)
	}

	cp := &Checkpoint{
		Version:   Version,
		ID:        id.String(),
		ThreadID:  threadID,
		Step:      step,
		Channels:  channels,
		NextNodes: snap.NextNodes,
		Pending:   pending,
		Parent:    snap.Parent,
		Metadata:  snap.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	data, err := cp.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}

	info := Info{
		ThreadID:  threadID,
		ID:        cp.ID,
		Step:      cp.Step,
		Parent:    cp.Parent,
		CreatedAt: cp.CreatedAt,
		Size:      int64(len(data)),
	}
	if err := s.store.Put(ctx, info, data); err != nil {
		return nil, fmt.Errorf("store checkpoint: %w", err)
	}
	cp.Size = len(data)
	return cp, nil
}

// Load retrieves and deserializes a checkpoint. An empty id loads the
// thread's latest. Undecodable envelopes or values surface as
// *CorruptedError; a missing checkpoint surfaces ErrNotFound from the
// store.
func (s *Saver) Load(ctx context.Context, threadID, id string) (*Loaded, error) {
	mu := s.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	var (
		data []byte
		err  error
	)
	if id == "" {
		data, err = s.store.Latest(ctx, threadID)
	} else {
		data, err = s.store.Get(ctx, threadID, id)
	}
	if err != nil {
		return nil, err
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return nil, &CorruptedError{ThreadID: threadID, ID: id, Err: err}
	}
	cp.Size = len(data)
	if cp.Version != Version {
		return nil, &CorruptedError{
			ThreadID: threadID,
			ID:       cp.ID,
			Err:      fmt.Errorf("unsupported checkpoint version %d", cp.Version),
		}
	}

	values := make(map[string]any, len(cp.Channels))
	for name, raw := range cp.Channels {
		v, err := s.serde.Deserialize(raw)
		if err != nil {
			return nil, &CorruptedError{
				ThreadID: threadID,
				ID:       cp.ID,
				Err:      fmt.Errorf("channel %q: %w", name, err),
			}
		}
		values[name] = v
	}

	var pending []NodeWrites
	for _, pw := range cp.Pending {
		nw := NodeWrites{NodeID: pw.NodeID, Goto: pw.Goto}
		if len(pw.Writes) > 0 {
			nw.Updates = make(map[string]any, len(pw.Writes))
			for name, raw := range pw.Writes {
				v, err := s.serde.Deserialize(raw)
				if err != nil {
					return nil, &CorruptedError{
						ThreadID: threadID,
						ID:       cp.ID,
						Err:      fmt.Errorf("pending write %s/%s: %w", pw.NodeID, name, err),
					}
				}
				nw.Updates[name] = v
			}
		}
		pending = append(pending, nw)
	}

	return &Loaded{Checkpoint: cp, Values: values, Pending: pending}, nil
}

// List returns checkpoint metadata for a thread, newest first.
func (s *Saver) List(ctx context.Context, threadID string) ([]Info, error) {
	mu := s.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	return s.store.List(ctx, threadID)
}

// Prune applies the retention policy to a thread and returns how many
// checkpoints it removed. The newest checkpoint survives any policy.
func (s *Saver) Prune(ctx context.Context, threadID string, policy Policy) (int, error) {
	if policy.MaxCount <= 0 && policy.MaxAge <= 0 {
		return 0, nil
	}

	mu := s.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	infos, err := s.store.List(ctx, threadID)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-policy.MaxAge)
	removed := 0
	for i, info := range infos {
		if i == 0 {
			continue
		}
		drop := policy.MaxCount > 0 && i >= policy.MaxCount
		if policy.MaxAge > 0 && info.CreatedAt.Before(cutoff) {
			drop = true
		}
		if !drop {
			continue
		}
		if err := s.store.Delete(ctx, threadID, info.ID); err != nil {
			return removed, fmt.Errorf("prune checkpoint %s: %w", info.ID, err)
		}
		removed++
	}
	return removed, nil
}

// DeleteThread removes every checkpoint for a thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	mu := s.threadLock(threadID)
	mu.Lock()
	defer mu.Unlock()

	return s.store.DeleteThread(ctx, threadID)
}

// Close closes the underlying store.
func (s *Saver) Close() error {
	return s.store.Close()
}
