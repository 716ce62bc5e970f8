package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "PENDING"
	AssignedTaskStatus  TaskStatus = "ASSIGNED"
	RunningTaskStatus   TaskStatus = "RUNNING"
	CompletedTaskStatus TaskStatus = "COMPLETED"
	BlockedTaskStatus   TaskStatus = "BLOCKED"
	UncertainTaskStatus TaskStatus = "UNCERTAIN"
)

// Task represents a unit of work tracked by the coordination engine
type Task struct {
	ID            string     `json:"id" db:"id"`                                   // Unique identifier (caller intent ID or generated UUID)
	Status        TaskStatus `json:"status" db:"status"`                           // One of the six lifecycle states
	AssignedNode  string     `json:"assigned_node,omitempty" db:"assigned_node"`   // Node holding primary responsibility, empty if none
	BackupNodes   []string   `json:"backup_nodes,omitempty"`                       // Pre-selected failover candidates, disjoint from AssignedNode
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`                   // Submission timestamp
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`         // Nullable start time
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`     // Nullable completion time
	LatencyMs     int64      `json:"latency_ms" db:"latency_ms"`                   // CompletedAt - StartedAt in milliseconds
	IsUncertain   bool       `json:"is_uncertain" db:"is_uncertain"`               // Set when a completion ack could not be confirmed
	BlockedReason string     `json:"blocked_reason,omitempty" db:"blocked_reason"` // Only set while Status is BLOCKED
}
