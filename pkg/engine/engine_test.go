package engine_test

import (
	"testing"
	"time"

	"github.com/chainward/chainward/pkg/engine"
	"github.com/chainward/chainward/pkg/models"
	"github.com/stretchr/testify/assert"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

// fakeClock drives data-driven timeouts deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

const (
	execDuration       = 100 * time.Millisecond
	uncertaintyTimeout = 500 * time.Millisecond
)

func newTestEngine(clock *fakeClock, nodes ...string) *engine.Engine {
	cfg := engine.Config{
		UncertaintyTimeout: uncertaintyTimeout,
		ExecDuration:       execDuration,
		MaxPending:         100,
		AutoBackup:         true,
		BackupCount:        2,
		DefaultNodes:       nodes,
		Now:                clock.Now,
	}
	return engine.New(cfg, logger{})
}

func eventsOfType(eng *engine.Engine, t models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range eng.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestSubmitDuplicateIntentID(t *testing.T) {
	eng := newTestEngine(newFakeClock(), "node-1")

	id, ok := eng.SubmitTask("ORDER-123")
	assert.True(t, ok)
	assert.Equal(t, "ORDER-123", id)

	id, ok = eng.SubmitTask("ORDER-123")
	assert.False(t, ok)
	assert.Equal(t, "", id)

	assert.Len(t, eng.Tasks(), 1)
	assert.Len(t, eventsOfType(eng, models.EventTaskSubmitted), 1)
	assert.Len(t, eventsOfType(eng, models.EventTaskDuplicate), 1)
}

func TestSubmitGeneratesIDWhenIntentMissing(t *testing.T) {
	eng := newTestEngine(newFakeClock(), "node-1")

	id, ok := eng.SubmitTask("")
	assert.True(t, ok)
	assert.NotEmpty(t, id)

	task, found := eng.Task(id)
	assert.True(t, found)
	assert.Equal(t, models.PendingTaskStatus, task.Status)
}

func TestAdmissionControlCeiling(t *testing.T) {
	clock := newFakeClock()
	cfg := engine.Config{
		UncertaintyTimeout: uncertaintyTimeout,
		ExecDuration:       execDuration,
		MaxPending:         2,
		BackupCount:        1,
		DefaultNodes:       []string{"node-1"},
		Now:                clock.Now,
	}
	eng := engine.New(cfg, logger{})

	_, ok := eng.SubmitTask("t1")
	assert.True(t, ok)
	_, ok = eng.SubmitTask("t2")
	assert.True(t, ok)
	_, ok = eng.SubmitTask("t3")
	assert.False(t, ok, "submission at the ceiling must be rejected")

	assert.Len(t, eng.Tasks(), 2)
	rejected := eventsOfType(eng, models.EventTaskRejected)
	assert.Len(t, rejected, 1)
	payload, err := models.DecodePayload(rejected[0].Payload)
	assert.NoError(t, err)
	assert.Equal(t, "t3", payload.TaskID)
	assert.Equal(t, "pending queue full", payload.Reason)
}

func TestResourceExhaustionSimulation(t *testing.T) {
	eng := newTestEngine(newFakeClock(), "node-1")
	eng.SetSimulation(engine.Simulation{ExhaustResources: true})

	_, ok := eng.SubmitTask("t1")
	assert.False(t, ok)
	assert.Empty(t, eng.Tasks())
	assert.Len(t, eventsOfType(eng, models.EventTaskRejected), 1)
}

func TestTickWithZeroNodesLeavesTasksPending(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock)

	id, ok := eng.SubmitTask("t1")
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		eng.ProcessTick()
		clock.Advance(execDuration)
	}

	task, _ := eng.Task(id)
	assert.Equal(t, models.PendingTaskStatus, task.Status)
	assert.Empty(t, task.AssignedNode)

	integrity := eng.VerifyIntegrity()
	assert.True(t, integrity.ChainValid)
	assert.True(t, integrity.MatrixValid)
}

func TestFailedOnlyNodeLeavesTaskPending(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")

	assert.True(t, eng.InjectNodeFailure("node-1"))
	id, ok := eng.SubmitTask("t1")
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		eng.ProcessTick()
		clock.Advance(execDuration)
	}

	task, _ := eng.Task(id)
	assert.Equal(t, models.PendingTaskStatus, task.Status)
	assert.Empty(t, task.AssignedNode)
	assert.Empty(t, eventsOfType(eng, models.EventTaskBlocked))
}

func TestHappyPathCompletion(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1", "node-2", "node-3")

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()

	task, _ := eng.Task(id)
	assert.Equal(t, models.RunningTaskStatus, task.Status)
	assert.Equal(t, "node-1", task.AssignedNode, "lexicographically first of the equally loaded nodes")
	assert.Equal(t, []string{"node-2", "node-3"}, task.BackupNodes)
	assert.NotNil(t, task.StartedAt)

	clock.Advance(execDuration)
	eng.ProcessTick()

	task, _ = eng.Task(id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, execDuration.Milliseconds(), task.LatencyMs)
	assert.Empty(t, task.AssignedNode)

	nodes := eng.Nodes()
	assert.Equal(t, 1, nodes[0].TasksProcessed)

	snap := eng.MatrixSnapshot()
	assert.Empty(t, snap.Primary)
}

func TestBackupsExcludePrimary(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1", "node-2", "node-3")

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()

	task, _ := eng.Task(id)
	assert.NotContains(t, task.BackupNodes, task.AssignedNode)
	assert.Len(t, task.BackupNodes, 2)

	integrity := eng.VerifyIntegrity()
	assert.True(t, integrity.MatrixValid)
}

func TestNodeFailureMidRunBlocksTask(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()

	task, _ := eng.Task(id)
	assert.Equal(t, models.RunningTaskStatus, task.Status)

	assert.True(t, eng.InjectNodeFailure("node-1"))

	task, _ = eng.Task(id)
	assert.Equal(t, models.BlockedTaskStatus, task.Status)
	assert.Contains(t, task.BlockedReason, "node-1")
	assert.Empty(t, task.AssignedNode)

	snap := eng.MatrixSnapshot()
	_, held := snap.Primary[id]
	assert.False(t, held, "matrix must not hold a primary for a blocked task")

	nodes := eng.Nodes()
	assert.Equal(t, models.FailedNodeState, nodes[0].State)
	assert.Equal(t, 1, nodes[0].TasksBlocked)
}

func TestLivenessRecheckBetweenPhases(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")

	// Fail the node after assignment but before any start: next tick's
	// start phase must route through fault handling instead of starting.
	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()
	clock.Advance(execDuration)

	assert.True(t, eng.InjectNodeFailure("node-1"))
	eng.ProcessTick()

	task, _ := eng.Task(id)
	assert.Equal(t, models.BlockedTaskStatus, task.Status)
}

func TestAckDropUncertainThenBlocked(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")
	eng.SetSimulation(engine.Simulation{DropAcks: true})

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()

	clock.Advance(execDuration)
	eng.ProcessTick()

	task, _ := eng.Task(id)
	assert.Equal(t, models.UncertainTaskStatus, task.Status)
	assert.True(t, task.IsUncertain)
	assert.Len(t, eventsOfType(eng, models.EventTaskUncertain), 1)

	// Within the uncertainty bound nothing changes.
	clock.Advance(uncertaintyTimeout)
	eng.ProcessTick()
	task, _ = eng.Task(id)
	assert.Equal(t, models.UncertainTaskStatus, task.Status)

	// Past twice the timeout the engine gives up waiting for evidence.
	clock.Advance(uncertaintyTimeout + time.Millisecond)
	eng.ProcessTick()

	task, _ = eng.Task(id)
	assert.Equal(t, models.BlockedTaskStatus, task.Status)
	assert.Contains(t, task.BlockedReason, "uncertainty timeout")
}

func TestOperatorConfirmSuccess(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")
	eng.SetSimulation(engine.Simulation{DropAcks: true})

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()
	clock.Advance(execDuration)
	eng.ProcessTick()

	assert.False(t, eng.OperatorConfirmSuccess("unknown"))
	assert.True(t, eng.OperatorConfirmSuccess(id))

	task, _ := eng.Task(id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
	assert.False(t, task.IsUncertain)
	assert.NotNil(t, task.CompletedAt)

	completed := eventsOfType(eng, models.EventTaskCompleted)
	assert.Len(t, completed, 1)
	payload, err := models.DecodePayload(completed[0].Payload)
	assert.NoError(t, err)
	assert.Equal(t, "operator confirmed", payload.Note)

	// Confirming twice is rejected; COMPLETED is terminal.
	assert.False(t, eng.OperatorConfirmSuccess(id))
}

func TestOperatorRequeue(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")

	t.Run("FromBlocked", func(t *testing.T) {
		id, _ := eng.SubmitTask("b1")
		eng.ProcessTick()
		eng.InjectNodeFailure("node-1")

		assert.True(t, eng.OperatorRequeue(id))
		task, _ := eng.Task(id)
		assert.Equal(t, models.PendingTaskStatus, task.Status)
		assert.Empty(t, task.AssignedNode)
		assert.Empty(t, task.BackupNodes)
		assert.Empty(t, task.BlockedReason)
		assert.Nil(t, task.StartedAt)

		// The recovered node can pick the task back up on a later tick.
		assert.True(t, eng.RecoverNode("node-1"))
		eng.ProcessTick()
		task, _ = eng.Task(id)
		assert.Equal(t, models.RunningTaskStatus, task.Status)
	})

	t.Run("FromUncertain", func(t *testing.T) {
		eng.SetSimulation(engine.Simulation{DropAcks: true})
		id, _ := eng.SubmitTask("u1")
		eng.ProcessTick()
		clock.Advance(execDuration)
		eng.ProcessTick()

		task, _ := eng.Task(id)
		assert.Equal(t, models.UncertainTaskStatus, task.Status)

		assert.True(t, eng.OperatorRequeue(id))
		task, _ = eng.Task(id)
		assert.Equal(t, models.PendingTaskStatus, task.Status)
		assert.False(t, task.IsUncertain)
	})

	t.Run("RejectedElsewhere", func(t *testing.T) {
		eng.SetSimulation(engine.Simulation{})
		id, _ := eng.SubmitTask("p1")
		assert.False(t, eng.OperatorRequeue(id), "requeue only applies to BLOCKED or UNCERTAIN")
		assert.False(t, eng.OperatorRequeue("unknown"))
	})
}

func TestRecoverNodeDoesNotResumeBlockedTasks(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()
	eng.InjectNodeFailure("node-1")
	assert.True(t, eng.RecoverNode("node-1"))

	for i := 0; i < 3; i++ {
		eng.ProcessTick()
		clock.Advance(execDuration)
	}

	task, _ := eng.Task(id)
	assert.Equal(t, models.BlockedTaskStatus, task.Status, "no automatic retry without operator action")
}

func TestCompletedTaskUnaffectedByLaterNodeFailure(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()
	clock.Advance(execDuration)
	eng.ProcessTick()

	eng.InjectNodeFailure("node-1")

	task, _ := eng.Task(id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
	assert.Empty(t, task.BlockedReason)
}

func TestRegisterNodeIdempotent(t *testing.T) {
	eng := newTestEngine(newFakeClock(), "node-1")
	eng.RegisterNode("node-1")
	eng.RegisterNode("node-1")

	assert.Len(t, eng.Nodes(), 1)
	assert.Len(t, eventsOfType(eng, models.EventNodeRegistered), 1)
}

func TestLeastLoadedPlacementSpreadsTasks(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1", "node-2")

	a, _ := eng.SubmitTask("a")
	b, _ := eng.SubmitTask("b")
	eng.ProcessTick()

	taskA, _ := eng.Task(a)
	taskB, _ := eng.Task(b)
	assert.Equal(t, "node-1", taskA.AssignedNode)
	assert.Equal(t, "node-2", taskB.AssignedNode)
}

func TestMetrics(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1", "node-2")

	eng.SubmitTask("done")
	eng.ProcessTick()
	clock.Advance(execDuration)
	eng.ProcessTick()

	eng.SubmitTask("stuck")
	eng.ProcessTick()
	eng.InjectNodeFailure("node-1")
	eng.SubmitTask("waiting")

	m := eng.Metrics()
	assert.Equal(t, 3, m.Submitted)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.Blocked)
	assert.Equal(t, 1, m.Pending)
	assert.Equal(t, 0, m.Running)
	assert.Equal(t, 1, m.NodeFailures)
	assert.True(t, m.ChainValid)
	assert.Equal(t, float64(execDuration.Milliseconds()), m.AvgLatencyMs)
	assert.Equal(t, len(eng.Events()), m.EventsTotal)
}

func TestVerifyIntegrityAfterArbitrarySequence(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1", "node-2", "node-3")

	for i := 0; i < 8; i++ {
		eng.SubmitTask("")
	}
	eng.ProcessTick()
	eng.InjectNodeFailure("node-2")
	clock.Advance(execDuration)
	eng.ProcessTick()
	eng.RecoverNode("node-2")
	eng.SetSimulation(engine.Simulation{DropAcks: true})
	eng.SubmitTask("late")
	eng.ProcessTick()
	clock.Advance(execDuration)
	eng.ProcessTick()

	integrity := eng.VerifyIntegrity()
	assert.True(t, integrity.MatrixValid)
	assert.True(t, integrity.ChainValid)
	assert.True(t, integrity.AnchorsValid)
	assert.Greater(t, len(eng.Anchors()), 0)
}

func TestReset(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1", "node-2")

	eng.SubmitTask("t1")
	eng.ProcessTick()
	eng.SetSimulation(engine.Simulation{DropAcks: true})
	eng.Reset()

	assert.Empty(t, eng.Tasks())
	nodes := eng.Nodes()
	assert.Len(t, nodes, 2)
	assert.Equal(t, models.AliveNodeState, nodes[0].State)

	// Only the default node registrations survive in the fresh chain.
	assert.Len(t, eng.Events(), 2)
	for _, ev := range eng.Events() {
		assert.Equal(t, models.EventNodeRegistered, ev.Type)
	}

	// Simulation toggles are cleared: tasks complete normally again.
	id, _ := eng.SubmitTask("t2")
	eng.ProcessTick()
	clock.Advance(execDuration)
	eng.ProcessTick()
	task, _ := eng.Task(id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
}

func TestNetworkDelayStretchesExecutionWindow(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(clock, "node-1")
	eng.SetSimulation(engine.Simulation{NetworkDelay: execDuration})

	id, _ := eng.SubmitTask("t1")
	eng.ProcessTick()
	clock.Advance(execDuration)
	eng.ProcessTick()

	task, _ := eng.Task(id)
	assert.Equal(t, models.RunningTaskStatus, task.Status, "delay keeps the task in flight")

	clock.Advance(execDuration)
	eng.ProcessTick()
	task, _ = eng.Task(id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
}
