package engine

import (
	"github.com/chainward/chainward/pkg/lifecycle"
	"github.com/chainward/chainward/pkg/models"
)

// OperatorRequeue returns a BLOCKED or UNCERTAIN task to PENDING, clearing
// its assignment, backups and uncertainty flag. An UNCERTAIN task is first
// driven through OPERATOR_CONFIRM_FAIL so every step stays inside the
// transition table. There is no automatic equivalent of this call.
func (e *Engine) OperatorRequeue(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return false
	}
	if task.Status != models.BlockedTaskStatus && task.Status != models.UncertainTaskStatus {
		return false
	}
	if task.Status == models.UncertainTaskStatus {
		if !e.life.Transition(taskID, lifecycle.TriggerOperatorConfirmFail, map[string]string{"operator": "requeue"}) {
			return false
		}
		task.Status = models.BlockedTaskStatus
	}
	if !e.life.Transition(taskID, lifecycle.TriggerOperatorRequeue, nil) {
		return false
	}
	e.mat.ReleasePrimary(taskID)
	e.mat.ReleaseBackups(taskID)
	task.Status = models.PendingTaskStatus
	task.AssignedNode = ""
	task.BackupNodes = nil
	task.StartedAt = nil
	task.CompletedAt = nil
	task.LatencyMs = 0
	task.IsUncertain = false
	task.BlockedReason = ""
	e.record(models.EventTaskRequeued, models.EventPayload{TaskID: taskID})
	if e.logger != nil {
		e.logger.Infof("Operator requeued task %s", taskID)
	}
	return true
}

// OperatorConfirmSuccess resolves an UNCERTAIN task as COMPLETED. This is
// the sanctioned path when out-of-band evidence proves the task finished.
func (e *Engine) OperatorConfirmSuccess(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok || task.Status != models.UncertainTaskStatus {
		return false
	}
	e.completeTaskLocked(task, e.cfg.Now(), "operator confirmed")
	return task.Status == models.CompletedTaskStatus
}
