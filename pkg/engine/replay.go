package engine

import (
	"fmt"

	"github.com/chainward/chainward/pkg/models"
)

// Rebuild is the task/node state reconstructed by folding an event log from
// genesis. For a log produced by a live engine the rebuild matches the
// engine's own state exactly; the contract is that in-memory state is fully
// reconstructible from the log alone.
type Rebuild struct {
	Tasks map[string]*models.Task
	Nodes map[string]*models.Node
}

// ReplayEvents reapplies each event's effect in order. Events referencing
// unknown tasks or nodes indicate a log produced by a diverged engine and
// fail the replay.
func ReplayEvents(events []models.Event) (*Rebuild, error) {
	r := &Rebuild{
		Tasks: make(map[string]*models.Task),
		Nodes: make(map[string]*models.Node),
	}
	for _, ev := range events {
		p, err := models.DecodePayload(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("replay: decode payload of event %d: %w", ev.ID, err)
		}
		if err := r.apply(ev, p); err != nil {
			return nil, fmt.Errorf("replay: event %d (%s): %w", ev.ID, ev.Type, err)
		}
	}
	return r, nil
}

func (r *Rebuild) apply(ev models.Event, p models.EventPayload) error {
	switch ev.Type {
	case models.EventNodeRegistered:
		r.Nodes[p.NodeID] = &models.Node{
			ID:       p.NodeID,
			State:    models.AliveNodeState,
			LastSeen: ev.Timestamp,
		}

	case models.EventNodeFailed:
		node, err := r.node(p.NodeID)
		if err != nil {
			return err
		}
		node.State = models.FailedNodeState
		node.LastSeen = ev.Timestamp

	case models.EventNodeRecovered:
		node, err := r.node(p.NodeID)
		if err != nil {
			return err
		}
		node.State = models.AliveNodeState
		node.LastSeen = ev.Timestamp

	case models.EventTaskSubmitted:
		r.Tasks[p.TaskID] = &models.Task{
			ID:        p.TaskID,
			Status:    models.PendingTaskStatus,
			CreatedAt: ev.Timestamp,
		}

	case models.EventTaskRejected, models.EventTaskDuplicate:
		// Intake rejections change no state; they exist for the audit trail.

	case models.EventTaskAssigned:
		task, err := r.task(p.TaskID)
		if err != nil {
			return err
		}
		task.Status = models.AssignedTaskStatus
		task.AssignedNode = p.NodeID
		task.BackupNodes = p.Backups

	case models.EventTaskStarted:
		task, err := r.task(p.TaskID)
		if err != nil {
			return err
		}
		task.Status = models.RunningTaskStatus
		started := ev.Timestamp
		task.StartedAt = &started

	case models.EventTaskCompleted:
		task, err := r.task(p.TaskID)
		if err != nil {
			return err
		}
		task.Status = models.CompletedTaskStatus
		completed := ev.Timestamp
		task.CompletedAt = &completed
		if task.StartedAt != nil {
			task.LatencyMs = completed.Sub(*task.StartedAt).Milliseconds()
		}
		task.IsUncertain = false
		task.AssignedNode = ""
		if node, ok := r.Nodes[p.NodeID]; ok {
			node.TasksProcessed++
		}

	case models.EventTaskUncertain:
		task, err := r.task(p.TaskID)
		if err != nil {
			return err
		}
		task.Status = models.UncertainTaskStatus
		task.IsUncertain = true

	case models.EventTaskBlocked:
		task, err := r.task(p.TaskID)
		if err != nil {
			return err
		}
		task.Status = models.BlockedTaskStatus
		task.BlockedReason = p.Reason
		task.AssignedNode = ""
		if p.Note == "liveness re-check" {
			if node, ok := r.Nodes[p.NodeID]; ok {
				node.TasksBlocked++
			}
		}

	case models.EventTaskRequeued:
		task, err := r.task(p.TaskID)
		if err != nil {
			return err
		}
		task.Status = models.PendingTaskStatus
		task.AssignedNode = ""
		task.BackupNodes = nil
		task.StartedAt = nil
		task.CompletedAt = nil
		task.LatencyMs = 0
		task.IsUncertain = false
		task.BlockedReason = ""

	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

func (r *Rebuild) task(id string) (*models.Task, error) {
	t, ok := r.Tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", id)
	}
	return t, nil
}

func (r *Rebuild) node(id string) (*models.Node, error) {
	n, ok := r.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown node %q", id)
	}
	return n, nil
}
