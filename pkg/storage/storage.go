// Package storage defines the archive contract for persisting finished
// engine runs. The engine core never reads archived data back; archival is
// an external collaborator consuming the engine's exports.
package storage

import (
	"github.com/chainward/chainward/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("not found")

// Archive defines the persistence operations for engine run snapshots.
type Archive interface {
	// Transaction control. Begin returns a transactional view; Commit and
	// Rollback are only meaningful on that view.
	Begin() (Archive, error)
	Commit() error
	Rollback() error
	Close() error

	// Run operations
	SaveRun(r models.Run) (int64, error)
	GetRun(id int64) (models.Run, error)
	ListRuns() ([]models.Run, error)

	// Snapshot operations, all scoped to a run
	SaveEvents(runID int64, events []models.Event) error
	SaveTasks(runID int64, tasks []models.Task) error
	SaveNodes(runID int64, nodes []models.Node) error
	GetEvents(runID int64) ([]models.Event, error)
}
