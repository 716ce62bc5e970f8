package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chainward/chainward/pkg/models"
)

// WriteTasksCSV exports all tasks as flat CSV with a header row. Backup
// nodes are ";"-joined; unset timestamps render empty.
func (e *Engine) WriteTasksCSV(w io.Writer) error {
	tasks := e.Tasks()

	cw := csv.NewWriter(w)
	header := []string{"task_id", "status", "assigned_node", "backup_nodes", "created_at", "started_at", "completed_at", "latency_ms", "is_uncertain"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write tasks csv header: %w", err)
	}
	for _, t := range tasks {
		latency := ""
		if t.CompletedAt != nil {
			latency = strconv.FormatInt(t.LatencyMs, 10)
		}
		row := []string{
			t.ID,
			string(t.Status),
			t.AssignedNode,
			strings.Join(t.BackupNodes, ";"),
			t.CreatedAt.Format(time.RFC3339Nano),
			formatNullableTime(t.StartedAt),
			formatNullableTime(t.CompletedAt),
			latency,
			strconv.FormatBool(t.IsUncertain),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write tasks csv row %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteNodesCSV exports all nodes as flat CSV with a header row.
func (e *Engine) WriteNodesCSV(w io.Writer) error {
	nodes := e.Nodes()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"node_id", "state", "last_seen", "tasks_processed", "tasks_blocked"}); err != nil {
		return fmt.Errorf("write nodes csv header: %w", err)
	}
	for _, n := range nodes {
		row := []string{
			n.ID,
			string(n.State),
			n.LastSeen.Format(time.RFC3339Nano),
			strconv.Itoa(n.TasksProcessed),
			strconv.Itoa(n.TasksBlocked),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write nodes csv row %s: %w", n.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEventsCSV exports the event log as flat CSV with a header row. The
// task and node references are lifted out of the payload; the metadata
// column carries the raw payload, quoted by the CSV writer with internal
// quotes doubled.
func (e *Engine) WriteEventsCSV(w io.Writer) error {
	events := e.Events()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_id", "hash", "timestamp", "event_type", "task_id", "node_id", "metadata"}); err != nil {
		return fmt.Errorf("write events csv header: %w", err)
	}
	for _, ev := range events {
		p, err := models.DecodePayload(ev.Payload)
		if err != nil {
			return fmt.Errorf("decode payload of event %d: %w", ev.ID, err)
		}
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Hash,
			ev.Timestamp.Format(time.RFC3339Nano),
			string(ev.Type),
			p.TaskID,
			p.NodeID,
			ev.Payload,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write events csv row %d: %w", ev.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteChainCSV exports the audit view of the chain itself.
func (e *Engine) WriteChainCSV(w io.Writer) error {
	return e.log.WriteCSV(w)
}

func formatNullableTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
