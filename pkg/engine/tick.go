package engine

import (
	"fmt"
	"time"

	"github.com/chainward/chainward/pkg/lifecycle"
	"github.com/chainward/chainward/pkg/models"
)

// ProcessTick runs the coordinator's heartbeat: four ordered phases that
// never interleave within one call. Tasks are visited in submission order in
// every phase, so a given input state always produces the same decisions.
func (e *Engine) ProcessTick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()

	// Phase 1: assign pending tasks to the least-loaded alive node. With no
	// alive node a task simply stays PENDING; absence of resources is a
	// wait condition, not a failure.
	alive := e.aliveNodesLocked()
	for _, id := range e.taskOrder {
		task := e.tasks[id]
		if task.Status != models.PendingTaskStatus || len(alive) == 0 {
			continue
		}
		nodeID, ok := e.mat.SelectLeastLoaded(alive)
		if !ok {
			continue
		}
		if !e.mat.AssignPrimary(id, nodeID) {
			// A pending task can never hold a primary; hitting the
			// duplicate guard here means bookkeeping diverged.
			if e.logger != nil {
				e.logger.Errorf("Primary assignment refused for pending task %s", id)
			}
			continue
		}
		var backups []string
		if e.cfg.AutoBackup {
			backups = e.assignBackupsLocked(id, nodeID, alive)
		}
		e.life.Transition(id, lifecycle.TriggerAllocate, nil)
		task.Status = models.AssignedTaskStatus
		task.AssignedNode = nodeID
		task.BackupNodes = backups
		e.record(models.EventTaskAssigned, models.EventPayload{TaskID: id, NodeID: nodeID, Backups: backups})
	}

	// Phase 2: start assigned tasks, re-checking liveness first. The
	// assigned node may have failed between phases or between ticks.
	for _, id := range e.taskOrder {
		task := e.tasks[id]
		if task.Status != models.AssignedTaskStatus {
			continue
		}
		if !e.nodeAliveLocked(task.AssignedNode) {
			e.failTaskLocked(task, task.AssignedNode)
			continue
		}
		e.life.Transition(id, lifecycle.TriggerStart, nil)
		task.Status = models.RunningTaskStatus
		started := now
		task.StartedAt = &started
		e.record(models.EventTaskStarted, models.EventPayload{TaskID: id, NodeID: task.AssignedNode})
	}

	// Phase 3: complete running tasks whose execution window has elapsed.
	// Under ack-drop simulation the outcome cannot be proven, so the task
	// goes UNCERTAIN instead of COMPLETED: when in doubt, block.
	window := e.cfg.ExecDuration + e.sim.NetworkDelay
	for _, id := range e.taskOrder {
		task := e.tasks[id]
		if task.Status != models.RunningTaskStatus || task.IsUncertain {
			continue
		}
		if !e.nodeAliveLocked(task.AssignedNode) {
			e.failTaskLocked(task, task.AssignedNode)
			continue
		}
		if elapsedSince(now, task.StartedAt) < window {
			continue
		}
		if e.sim.DropAcks {
			e.life.Transition(id, lifecycle.TriggerAckTimeout, nil)
			task.Status = models.UncertainTaskStatus
			task.IsUncertain = true
			e.record(models.EventTaskUncertain, models.EventPayload{
				TaskID: id,
				NodeID: task.AssignedNode,
				Reason: "completion ack not received within execution window",
			})
			continue
		}
		e.completeTaskLocked(task, now, "")
	}

	// Phase 4: give up on tasks stuck UNCERTAIN past twice the uncertainty
	// timeout, converting indecision into an explicit, visible fault state.
	for _, id := range e.taskOrder {
		task := e.tasks[id]
		if task.Status != models.UncertainTaskStatus {
			continue
		}
		if elapsedSince(now, task.StartedAt) <= 2*e.cfg.UncertaintyTimeout {
			continue
		}
		e.life.Transition(id, lifecycle.TriggerOperatorConfirmFail, map[string]string{"auto": "uncertainty timeout"})
		task.Status = models.BlockedTaskStatus
		task.BlockedReason = "uncertainty timeout expired without confirmation"
		nodeID, _ := e.mat.ReleasePrimary(id)
		e.mat.ReleaseBackups(id)
		task.AssignedNode = ""
		e.record(models.EventTaskBlocked, models.EventPayload{
			TaskID: id,
			NodeID: nodeID,
			Reason: task.BlockedReason,
			Note:   "uncertainty bound",
		})
	}
}

// assignBackupsLocked picks up to BackupCount alive nodes, excluding the
// primary and already-chosen backups, least-loaded first.
func (e *Engine) assignBackupsLocked(taskID, primary string, alive []string) []string {
	var backups []string
	remaining := make([]string, 0, len(alive))
	for _, n := range alive {
		if n != primary {
			remaining = append(remaining, n)
		}
	}
	for len(backups) < e.cfg.BackupCount && len(remaining) > 0 {
		nodeID, ok := e.mat.SelectLeastLoaded(remaining)
		if !ok || !e.mat.AssignBackup(taskID, nodeID) {
			break
		}
		backups = append(backups, nodeID)
		next := remaining[:0]
		for _, n := range remaining {
			if n != nodeID {
				next = append(next, n)
			}
		}
		remaining = next
	}
	return backups
}

func (e *Engine) nodeAliveLocked(id string) bool {
	node, ok := e.nodes[id]
	return ok && node.State == models.AliveNodeState
}

// failTaskLocked drives a task through NODE_FAIL. Only ASSIGNED and RUNNING
// tasks are affected; the lifecycle table rejects the trigger elsewhere and
// the guard below keeps bookkeeping out of that path entirely.
func (e *Engine) failTaskLocked(task *models.Task, nodeID string) {
	if task.Status != models.AssignedTaskStatus && task.Status != models.RunningTaskStatus {
		return
	}
	if !e.life.Transition(task.ID, lifecycle.TriggerNodeFail, map[string]string{"node": nodeID}) {
		if e.logger != nil {
			e.logger.Errorf("NODE_FAIL rejected for task %s in state %s", task.ID, task.Status)
		}
		return
	}
	task.Status = models.BlockedTaskStatus
	task.BlockedReason = fmt.Sprintf("node %s failed", nodeID)
	e.mat.ReleasePrimary(task.ID)
	e.mat.ReleaseBackups(task.ID)
	task.AssignedNode = ""
	if node, ok := e.nodes[nodeID]; ok {
		node.TasksBlocked++
	}
	e.record(models.EventTaskBlocked, models.EventPayload{
		TaskID: task.ID,
		NodeID: nodeID,
		Reason: task.BlockedReason,
		Note:   "liveness re-check",
	})
	if e.logger != nil {
		e.logger.Infof("Blocked task %s: %s", task.ID, task.BlockedReason)
	}
}

// completeTaskLocked finishes a running task, stamping latency and crediting
// the node. note distinguishes normal completion from operator confirmation.
func (e *Engine) completeTaskLocked(task *models.Task, now time.Time, note string) {
	trigger := lifecycle.TriggerComplete
	if task.Status == models.UncertainTaskStatus {
		trigger = lifecycle.TriggerOperatorConfirmOK
	}
	if !e.life.Transition(task.ID, trigger, nil) {
		if e.logger != nil {
			e.logger.Errorf("%s rejected for task %s in state %s", trigger, task.ID, task.Status)
		}
		return
	}
	task.Status = models.CompletedTaskStatus
	completed := now
	task.CompletedAt = &completed
	if task.StartedAt != nil {
		task.LatencyMs = completed.Sub(*task.StartedAt).Milliseconds()
	}
	task.IsUncertain = false
	nodeID, _ := e.mat.ReleasePrimary(task.ID)
	e.mat.ReleaseBackups(task.ID)
	if nodeID == "" {
		nodeID = task.AssignedNode
	}
	task.AssignedNode = ""
	if node, ok := e.nodes[nodeID]; ok {
		node.TasksProcessed++
	}
	e.record(models.EventTaskCompleted, models.EventPayload{TaskID: task.ID, NodeID: nodeID, Note: note})
	if e.logger != nil {
		e.logger.Infof("Completed task %s on node %s", task.ID, nodeID)
	}
}
