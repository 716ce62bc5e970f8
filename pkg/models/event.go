package models

import (
	"encoding/json"
	"time"
)

// EventType classifies entries in the coordination event log.
type EventType string

const (
	// Node lifecycle events
	EventNodeRegistered EventType = "node_registered"
	EventNodeFailed     EventType = "node_failed"
	EventNodeRecovered  EventType = "node_recovered"

	// Task intake events
	EventTaskSubmitted EventType = "task_submitted"
	EventTaskRejected  EventType = "task_rejected"
	EventTaskDuplicate EventType = "task_duplicate"

	// Task lifecycle events
	EventTaskAssigned  EventType = "task_assigned"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskUncertain EventType = "task_uncertain"
	EventTaskBlocked   EventType = "task_blocked"
	EventTaskRequeued  EventType = "task_requeued"
)

// Event is one immutable record of an engine decision. Events form a hash
// chain: each entry's PrevHash equals the predecessor's Hash, and Hash is
// recomputable from the stored fields.
type Event struct {
	ID        int64     `json:"event_id" db:"event_id"`   // Monotonic, gap-free, starts at 1
	Hash      string    `json:"hash" db:"hash"`           // Digest over (ID, PrevHash, Timestamp, Type, Payload)
	PrevHash  string    `json:"prev_hash" db:"prev_hash"` // Predecessor's hash, empty for genesis
	Timestamp time.Time `json:"timestamp" db:"timestamp"` // Time of the decision
	Type      EventType `json:"event_type" db:"event_type"`
	Payload   string    `json:"payload" db:"payload"` // Serialized EventPayload
}

// Anchor is an aggregate checkpoint over a fixed-size contiguous block of
// events, letting an auditor verify a whole block with a single comparison.
type Anchor struct {
	BlockStart    int    `json:"block_start"`    // Inclusive index into the event list
	BlockEnd      int    `json:"block_end"`      // Exclusive index
	AggregateHash string `json:"aggregate_hash"` // Digest over the block's event hashes in order
}

// EventPayload carries the task/node references a decision touched. It is
// serialized into Event.Payload and is sufficient to replay the decision's
// effect on task and node state.
type EventPayload struct {
	TaskID  string   `json:"task_id,omitempty"`
	NodeID  string   `json:"node_id,omitempty"`
	Backups []string `json:"backups,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Note    string   `json:"note,omitempty"`
}

// Encode serializes the payload for logging. Marshaling a flat struct of
// strings cannot fail, so encoding errors are swallowed here.
func (p EventPayload) Encode() string {
	b, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// DecodePayload parses a stored payload back into its structured form.
func DecodePayload(s string) (EventPayload, error) {
	var p EventPayload
	if s == "" {
		return p, nil
	}
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}
