// Package engine drives the coordination core: task intake with
// deduplication and backpressure, tick-driven scheduling, fault and
// uncertainty handling, operator interventions and integrity verification.
// Every state-changing decision appends to the hash chain inside the same
// critical section as the mutation it records.
package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/chainward/chainward/pkg/chain"
	"github.com/chainward/chainward/pkg/lifecycle"
	"github.com/chainward/chainward/pkg/matrix"
	"github.com/chainward/chainward/pkg/models"
	"github.com/google/uuid"
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Engine is the sole owner and mutator of task and node records. The
// lifecycle machine, matrix and chain it holds are never handed to external
// callers; all interaction goes through the exported methods, which
// serialize on a single mutex so ticks are atomic with respect to each
// other and to every other command.
type Engine struct {
	mu  sync.Mutex
	cfg Config
	sim Simulation

	tasks     map[string]*models.Task
	taskOrder []string // submission order, drives tick iteration
	nodes     map[string]*models.Node
	nodeOrder []string // registration order

	life *lifecycle.Machine
	mat  *matrix.Matrix
	log  *chain.Chain

	submitted int
	logger    Logger
}

// New constructs an engine and registers the configured default nodes.
func New(cfg Config, logger Logger) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		logger: logger,
	}
	e.initState()
	return e
}

// initState builds fresh bookkeeping structures. Callers hold e.mu or own
// the engine exclusively.
func (e *Engine) initState() {
	e.tasks = make(map[string]*models.Task)
	e.taskOrder = nil
	e.nodes = make(map[string]*models.Node)
	e.nodeOrder = nil
	e.life = lifecycle.NewMachine(e.cfg.Now, e.logger)
	e.mat = matrix.NewWithClock(e.cfg.Now)
	e.log = chain.NewWithClock(e.cfg.Now)
	e.submitted = 0
	for _, id := range e.cfg.DefaultNodes {
		e.registerNodeLocked(id)
	}
}

// record appends a decision to the hash chain. It runs while e.mu is held,
// so the log entry commits before the triggering mutation becomes visible.
func (e *Engine) record(t models.EventType, p models.EventPayload) models.Event {
	return e.log.Append(t, p.Encode())
}

// RegisterNode creates an alive node. Re-registering an existing node is a
// no-op.
func (e *Engine) RegisterNode(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registerNodeLocked(id)
}

func (e *Engine) registerNodeLocked(id string) {
	if _, ok := e.nodes[id]; ok {
		return
	}
	e.nodes[id] = &models.Node{
		ID:       id,
		State:    models.AliveNodeState,
		LastSeen: e.cfg.Now(),
	}
	e.nodeOrder = append(e.nodeOrder, id)
	e.record(models.EventNodeRegistered, models.EventPayload{NodeID: id})
	if e.logger != nil {
		e.logger.Infof("Registered node %s", id)
	}
}

// InjectNodeFailure marks a node failed and blocks every ASSIGNED or
// RUNNING task whose primary it holds. Tasks in other states are untouched:
// a failure never retroactively changes a completed task.
func (e *Engine) InjectNodeFailure(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[id]
	if !ok {
		return false
	}
	node.State = models.FailedNodeState
	node.LastSeen = e.cfg.Now()
	e.record(models.EventNodeFailed, models.EventPayload{NodeID: id})
	if e.logger != nil {
		e.logger.Infof("Injected failure on node %s", id)
	}

	for _, taskID := range e.taskOrder {
		if primary, ok := e.mat.Primary(taskID); ok && primary == id {
			e.failTaskLocked(e.tasks[taskID], id)
		}
	}
	return true
}

// RecoverNode marks a failed node alive again. Recovery does not resume
// tasks blocked by the earlier failure; requeueing is an operator decision.
func (e *Engine) RecoverNode(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	node, ok := e.nodes[id]
	if !ok {
		return false
	}
	node.State = models.AliveNodeState
	node.LastSeen = e.cfg.Now()
	e.record(models.EventNodeRecovered, models.EventPayload{NodeID: id})
	if e.logger != nil {
		e.logger.Infof("Recovered node %s", id)
	}
	return true
}

// SubmitTask admits a new task. Admission control runs first: at or above
// the pending ceiling, or under resource-exhaustion simulation, the
// submission is rejected and logged without creating a record. A colliding
// intent ID is likewise rejected, preventing double execution. The returned
// ID is the intent ID, or a generated UUID when none was supplied.
func (e *Engine) SubmitTask(intentID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pending := 0
	for _, t := range e.tasks {
		if t.Status == models.PendingTaskStatus {
			pending++
		}
	}
	if e.sim.ExhaustResources || pending >= e.cfg.MaxPending {
		reason := "pending queue full"
		if e.sim.ExhaustResources {
			reason = "resources exhausted"
		}
		e.record(models.EventTaskRejected, models.EventPayload{TaskID: intentID, Reason: reason})
		if e.logger != nil {
			e.logger.Infof("Rejected task submission %q: %s", intentID, reason)
		}
		return "", false
	}

	id := intentID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := e.tasks[id]; ok {
		e.record(models.EventTaskDuplicate, models.EventPayload{TaskID: id, Reason: "intent ID already submitted"})
		if e.logger != nil {
			e.logger.Infof("Rejected duplicate task %s", id)
		}
		return "", false
	}

	if err := e.life.Init(id); err != nil {
		// The lifecycle machine and the task map are updated in lockstep;
		// divergence means the engine broke its own invariant.
		if e.logger != nil {
			e.logger.Errorf("Lifecycle init failed for %s: %v", id, err)
		}
		return "", false
	}
	e.tasks[id] = &models.Task{
		ID:        id,
		Status:    models.PendingTaskStatus,
		CreatedAt: e.cfg.Now(),
	}
	e.taskOrder = append(e.taskOrder, id)
	e.submitted++
	e.record(models.EventTaskSubmitted, models.EventPayload{TaskID: id})
	if e.logger != nil {
		e.logger.Infof("Submitted task %s", id)
	}
	return id, true
}

// SetSimulation replaces the active simulation toggles.
func (e *Engine) SetSimulation(sim Simulation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim = sim
}

// Reset clears all in-memory state and re-registers the default node set.
// Only intended for re-running experiments.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sim = Simulation{}
	e.initState()
	if e.logger != nil {
		e.logger.Infof("Engine reset")
	}
}

// Tasks returns copies of all tasks in submission order.
func (e *Engine) Tasks() []models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Task, 0, len(e.taskOrder))
	for _, id := range e.taskOrder {
		out = append(out, copyTask(e.tasks[id]))
	}
	return out
}

// Task returns a copy of one task.
func (e *Engine) Task(id string) (models.Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return copyTask(t), true
}

// Nodes returns copies of all nodes in registration order.
func (e *Engine) Nodes() []models.Node {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Node, 0, len(e.nodeOrder))
	for _, id := range e.nodeOrder {
		out = append(out, *e.nodes[id])
	}
	return out
}

// Events returns the full event log.
func (e *Engine) Events() []models.Event {
	return e.log.Events()
}

// RecentEvents returns up to n most recent events, oldest first.
func (e *Engine) RecentEvents(n int) []models.Event {
	return e.log.Recent(n)
}

// Anchors returns all generated integrity anchors.
func (e *Engine) Anchors() []models.Anchor {
	return e.log.Anchors()
}

// Flow exposes the lifecycle machine's derived aggregate view.
func (e *Engine) Flow() lifecycle.FlowView {
	return e.life.Flow()
}

// MatrixSnapshot exposes a deep copy of the placement state.
func (e *Engine) MatrixSnapshot() matrix.Snapshot {
	return e.mat.TakeSnapshot()
}

// aliveNodesLocked lists alive node IDs in lexicographic order. Sorting
// fixes the placement tie-break so scheduling is reproducible.
func (e *Engine) aliveNodesLocked() []string {
	var out []string
	for _, id := range e.nodeOrder {
		if e.nodes[id].State == models.AliveNodeState {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func copyTask(t *models.Task) models.Task {
	cp := *t
	if t.BackupNodes != nil {
		cp.BackupNodes = make([]string, len(t.BackupNodes))
		copy(cp.BackupNodes, t.BackupNodes)
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		cp.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}

func elapsedSince(now time.Time, started *time.Time) time.Duration {
	if started == nil {
		return 0
	}
	return now.Sub(*started)
}
