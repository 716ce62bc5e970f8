package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/chainward/chainward/pkg/models"
	"github.com/chainward/chainward/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresArchive implements storage.Archive on PostgreSQL.
type PostgresArchive struct {
	db DBInterface
}

func NewPostgresArchive(connStr string) (*PostgresArchive, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (s *PostgresArchive) Begin() (storage.Archive, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresArchive{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresArchive) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresArchive) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresArchive) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveRun creates a new archived run and returns its ID
func (s *PostgresArchive) SaveRun(r models.Run) (int64, error) {
	var runID int64
	err := s.db.QueryRowx("INSERT INTO runs (label, archived_at, events_total, chain_valid) VALUES ($1, $2, $3, $4) RETURNING id",
		r.Label, r.ArchivedAt, r.EventsTotal, r.ChainValid).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("save run: %w", err)
	}
	return runID, nil
}

// GetRun retrieves an archived run by ID
func (s *PostgresArchive) GetRun(id int64) (models.Run, error) {
	var run models.Run
	err := s.db.Get(&run, "SELECT id, label, archived_at, events_total, chain_valid FROM runs WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Run{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Run{}, err
	}
	return run, nil
}

func (s *PostgresArchive) ListRuns() ([]models.Run, error) {
	runs := []models.Run{}
	query := "SELECT id, label, archived_at, events_total, chain_valid FROM runs ORDER BY archived_at DESC"
	err := s.db.Select(&runs, query)
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// SaveEvents stores the event log of a run
func (s *PostgresArchive) SaveEvents(runID int64, events []models.Event) error {
	for _, ev := range events {
		_, err := s.db.Exec("INSERT INTO events (run_id, event_id, hash, prev_hash, timestamp, event_type, payload) VALUES ($1, $2, $3, $4, $5, $6, $7)",
			runID, ev.ID, ev.Hash, ev.PrevHash, ev.Timestamp, ev.Type, ev.Payload)
		if err != nil {
			return fmt.Errorf("save event %d of run %d: %w", ev.ID, runID, err)
		}
	}
	return nil
}

// SaveTasks stores the final task state of a run
func (s *PostgresArchive) SaveTasks(runID int64, tasks []models.Task) error {
	for _, t := range tasks {
		_, err := s.db.Exec(`INSERT INTO tasks (run_id, id, status, assigned_node, backup_nodes, created_at, started_at, completed_at, latency_ms, is_uncertain, blocked_reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			runID, t.ID, t.Status, t.AssignedNode, strings.Join(t.BackupNodes, ";"),
			t.CreatedAt, t.StartedAt, t.CompletedAt, t.LatencyMs, t.IsUncertain, t.BlockedReason)
		if err != nil {
			return fmt.Errorf("save task %s of run %d: %w", t.ID, runID, err)
		}
	}
	return nil
}

// SaveNodes stores the final node state of a run
func (s *PostgresArchive) SaveNodes(runID int64, nodes []models.Node) error {
	for _, n := range nodes {
		_, err := s.db.Exec("INSERT INTO nodes (run_id, id, state, last_seen, tasks_processed, tasks_blocked) VALUES ($1, $2, $3, $4, $5, $6)",
			runID, n.ID, n.State, n.LastSeen, n.TasksProcessed, n.TasksBlocked)
		if err != nil {
			return fmt.Errorf("save node %s of run %d: %w", n.ID, runID, err)
		}
	}
	return nil
}

// GetEvents retrieves the archived event log of a run in chain order
func (s *PostgresArchive) GetEvents(runID int64) ([]models.Event, error) {
	var events []models.Event
	err := s.db.Select(&events, "SELECT event_id, hash, prev_hash, timestamp, event_type, payload FROM events WHERE run_id = $1 ORDER BY event_id", runID)
	if err != nil {
		return nil, err
	}
	return events, nil
}
