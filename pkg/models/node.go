package models

import "time"

type NodeState string

const (
	AliveNodeState   NodeState = "alive"
	FailedNodeState  NodeState = "failed"
	UnknownNodeState NodeState = "unknown"
)

// Node represents a worker that can hold primary or backup assignments.
// The counters are observability aids only; correctness never depends on them.
type Node struct {
	ID             string    `json:"id" db:"id"`                           // Unique identifier (e.g., "node-1")
	State          NodeState `json:"state" db:"state"`                     // "alive", "failed" or "unknown"
	LastSeen       time.Time `json:"last_seen" db:"last_seen"`             // Timestamp of last state change
	TasksProcessed int       `json:"tasks_processed" db:"tasks_processed"` // Completed tasks attributed to this node
	TasksBlocked   int       `json:"tasks_blocked" db:"tasks_blocked"`     // Tasks blocked by this node's failures
}
