package engine

import "github.com/chainward/chainward/pkg/models"

// Integrity summarizes the read-only audit of every subsystem. A false
// field means the corresponding invariant was violated, which should never
// happen in a correct engine; callers should halt further mutation and
// surface the failure to the operator.
type Integrity struct {
	MatrixValid  bool `json:"matrix_valid"`
	ChainValid   bool `json:"chain_valid"`
	AnchorsValid bool `json:"anchors_valid"`
}

// Metrics is the aggregate snapshot consumed by dashboards and the CLI.
type Metrics struct {
	Submitted    int     `json:"submitted"`
	Completed    int     `json:"completed"`
	Blocked      int     `json:"blocked"`
	Uncertain    int     `json:"uncertain"`
	Pending      int     `json:"pending"`
	Running      int     `json:"running"`
	NodeFailures int     `json:"node_failures"`
	EventsTotal  int     `json:"events_total"`
	ChainValid   bool    `json:"chain_valid"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// VerifyIntegrity audits the matrix invariants, the chain linkage and all
// anchors without mutating any state. Callable at any time.
func (e *Engine) VerifyIntegrity() Integrity {
	e.mu.Lock()
	defer e.mu.Unlock()

	chainValid, _ := e.log.Verify()
	anchorsValid, _ := e.log.VerifyAllAnchors()
	return Integrity{
		MatrixValid:  e.mat.VerifySingleAssignment() && e.mat.VerifyBackupExclusion(),
		ChainValid:   chainValid,
		AnchorsValid: anchorsValid,
	}
}

// Metrics derives the current aggregate counters. Node failures are counted
// from the event log rather than a live counter, so the number survives
// node recovery.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := Metrics{
		Submitted:   e.submitted,
		EventsTotal: e.log.Len(),
	}
	counts := e.life.CountByState()
	m.Completed = counts[models.CompletedTaskStatus]
	m.Blocked = counts[models.BlockedTaskStatus]
	m.Uncertain = counts[models.UncertainTaskStatus]
	m.Pending = counts[models.PendingTaskStatus]
	m.Running = counts[models.RunningTaskStatus]

	for _, ev := range e.log.Events() {
		if ev.Type == models.EventNodeFailed {
			m.NodeFailures++
		}
	}
	m.ChainValid, _ = e.log.Verify()

	var totalMs int64
	var completed int
	for _, t := range e.tasks {
		if t.Status == models.CompletedTaskStatus && t.CompletedAt != nil && t.StartedAt != nil {
			totalMs += t.LatencyMs
			completed++
		}
	}
	if completed > 0 {
		m.AvgLatencyMs = float64(totalMs) / float64(completed)
	}
	return m
}
