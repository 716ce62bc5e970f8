package storage

import (
	"time"

	"github.com/chainward/chainward/pkg/models"
	"github.com/pkg/errors"
)

// Logger is the minimal logging surface the archiver needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Archiver persists engine run snapshots through an Archive, wrapping each
// run in a single transaction.
type Archiver struct {
	archive Archive
	logger  Logger
}

func NewArchiver(archive Archive, logger Logger) *Archiver {
	return &Archiver{
		archive: archive,
		logger:  logger,
	}
}

// ArchiveRun stores a labeled snapshot of an engine session and returns the
// run ID. The whole snapshot commits or none of it does.
func (a *Archiver) ArchiveRun(label string, events []models.Event, tasks []models.Task, nodes []models.Node, chainValid bool) (id int64, err error) {
	if label == "" {
		return 0, errors.New("run label cannot be empty")
	}
	tx, err := a.archive.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				a.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			a.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	run := models.Run{
		Label:       label,
		ArchivedAt:  time.Now(),
		EventsTotal: len(events),
		ChainValid:  chainValid,
	}
	id, err = tx.SaveRun(run)
	if err != nil {
		return 0, errors.Wrap(err, "failed to save run")
	}
	if err = tx.SaveEvents(id, events); err != nil {
		return 0, errors.Wrapf(err, "failed to save events for run %d", id)
	}
	if err = tx.SaveTasks(id, tasks); err != nil {
		return 0, errors.Wrapf(err, "failed to save tasks for run %d", id)
	}
	if err = tx.SaveNodes(id, nodes); err != nil {
		return 0, errors.Wrapf(err, "failed to save nodes for run %d", id)
	}
	a.logger.Infof("Archived run '%s' with ID %d (%d events)", label, id, len(events))
	return id, nil
}
