package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to the checkpoint structure.
const Version = 1

// Checkpoint is the persisted snapshot of one thread's execution state,
// taken at a superstep barrier. It contains everything needed to restore
// the thread and continue execution: the serialized value of every
// written channel, the frontier of nodes due to run next, and any writes
// buffered by nodes that completed before the run stopped.
//
// Checkpoints are immutable once written and form a parent-linked chain
// per thread. Resuming from an older checkpoint forks a new branch; the
// original chain is never rewritten.
type Checkpoint struct {
	Version  int    `json:"version"`
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Step     int    `json:"step"`

	// Channels maps channel name to its serialized snapshot. Channels
	// that held no value at save time are absent.
	Channels map[string][]byte `json:"channels"`

	// NextNodes is the frontier: nodes scheduled for the next superstep.
	// Empty means the run had completed.
	NextNodes []string `json:"next_nodes,omitempty"`

	// Pending holds writes from nodes that finished successfully in a
	// superstep that did not commit because sibling nodes failed. They
	// are replayed on resume instead of re-running the nodes.
	Pending []PendingWrite `json:"pending,omitempty"`

	// Parent is the ID of the previous checkpoint in this thread's
	// chain, empty for the first.
	Parent string `json:"parent,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	// Size is the stored envelope size in bytes. The Saver fills it on
	// Save and Load; it is not part of the envelope itself.
	Size int `json:"-"`
}

// PendingWrite is the buffered result of one node whose writes were not
// yet applied to the channels. Writes maps channel name to the node's
// serialized update for it; Goto carries the node's explicit routing
// targets, if any.
type PendingWrite struct {
	NodeID string            `json:"node_id"`
	Writes map[string][]byte `json:"writes,omitempty"`
	Goto   []string          `json:"goto,omitempty"`
}

// Marshal serializes the checkpoint envelope to JSON. Channel payloads
// inside it are opaque bytes produced by the configured Serializer.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint envelope from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
