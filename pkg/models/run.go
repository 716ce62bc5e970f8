package models

import "time"

// Run is an archived engine session: a labeled snapshot of the event log and
// the final task/node state, persisted for offline audit. The live engine
// never reads runs back; archival is a one-way export.
type Run struct {
	ID          int64     `json:"id" db:"id"`                     // PostgreSQL auto-increment
	Label       string    `json:"label" db:"label"`               // Operator-supplied description
	ArchivedAt  time.Time `json:"archived_at" db:"archived_at"`   // When the export happened
	EventsTotal int       `json:"events_total" db:"events_total"` // Chain length at archival time
	ChainValid  bool      `json:"chain_valid" db:"chain_valid"`   // Result of chain verification at archival time
}
