// Package lifecycle implements the formal per-task state machine. A fixed
// transition table maps (state, trigger) pairs to successor states; anything
// outside the table is rejected without mutating state.
package lifecycle

import (
	"sort"
	"sync"
	"time"

	"github.com/chainward/chainward/pkg/models"
	"github.com/pkg/errors"
)

// Trigger names an input to the state machine.
type Trigger string

const (
	TriggerAllocate            Trigger = "ALLOCATE"
	TriggerStart               Trigger = "START"
	TriggerComplete            Trigger = "COMPLETE"
	TriggerNodeFail            Trigger = "NODE_FAIL"
	TriggerAckTimeout          Trigger = "ACK_TIMEOUT"
	TriggerOperatorRequeue     Trigger = "OPERATOR_REQUEUE"
	TriggerOperatorConfirmFail Trigger = "OPERATOR_CONFIRM_FAIL"
	TriggerOperatorConfirmOK   Trigger = "OPERATOR_CONFIRM_SUCCESS"
)

// ErrTaskExists is returned by Init for an already-registered task ID.
// Double initialization indicates a defect in the caller, not a recoverable
// condition.
var ErrTaskExists = errors.New("task already initialized")

// transitions is the authoritative table. COMPLETED is terminal; BLOCKED and
// UNCERTAIN leave only via explicit operator triggers.
var transitions = map[models.TaskStatus]map[Trigger]models.TaskStatus{
	models.PendingTaskStatus: {
		TriggerAllocate: models.AssignedTaskStatus,
	},
	models.AssignedTaskStatus: {
		TriggerStart:    models.RunningTaskStatus,
		TriggerNodeFail: models.BlockedTaskStatus,
	},
	models.RunningTaskStatus: {
		TriggerComplete:   models.CompletedTaskStatus,
		TriggerNodeFail:   models.BlockedTaskStatus,
		TriggerAckTimeout: models.UncertainTaskStatus,
	},
	models.BlockedTaskStatus: {
		TriggerOperatorRequeue: models.PendingTaskStatus,
	},
	models.UncertainTaskStatus: {
		TriggerOperatorConfirmFail: models.BlockedTaskStatus,
		TriggerOperatorConfirmOK:   models.CompletedTaskStatus,
	},
}

// Transition is one applied state change, kept in the append-only history.
type Transition struct {
	TaskID   string            `json:"task_id"`
	From     models.TaskStatus `json:"from"`
	To       models.TaskStatus `json:"to"`
	Trigger  Trigger           `json:"trigger"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Observer is notified after a transition has been applied. A panicking
// observer is recovered and logged; it never corrupts machine state.
type Observer func(Transition)

// Logger is the minimal logging surface the machine needs.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Machine tracks the current state of every task plus the full transition
// history.
type Machine struct {
	mu        sync.RWMutex
	states    map[string]models.TaskStatus
	history   []Transition
	observers []Observer
	now       func() time.Time
	logger    Logger
}

// FlowView is a derived aggregate for visualization consumers: how many
// tasks sit in each state and how often each table edge has fired.
type FlowView struct {
	StateCounts map[models.TaskStatus]int `json:"state_counts"`
	EdgeCounts  map[string]int            `json:"edge_counts"` // keyed "FROM:TRIGGER:TO"
}

// NewMachine returns an empty machine using the given clock and logger.
func NewMachine(now func() time.Time, logger Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		states: make(map[string]models.TaskStatus),
		now:    now,
		logger: logger,
	}
}

// Subscribe registers an observer for applied transitions.
func (m *Machine) Subscribe(obs Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Init registers a new task in PENDING. This is the structural enforcement
// point for task uniqueness.
func (m *Machine) Init(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[id]; ok {
		return errors.Wrapf(ErrTaskExists, "task %s", id)
	}
	m.states[id] = models.PendingTaskStatus
	return nil
}

// State returns the current state of a task.
func (m *Machine) State(id string) (models.TaskStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[id]
	return s, ok
}

// Transition applies a trigger to a task. It returns false, with no state
// change, when the task is unknown or the (state, trigger) pair is not in
// the table. This is a deliberate safety stop, not an error path.
func (m *Machine) Transition(id string, trigger Trigger, metadata map[string]string) bool {
	m.mu.Lock()
	from, ok := m.states[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	to, ok := transitions[from][trigger]
	if !ok {
		m.mu.Unlock()
		return false
	}
	m.states[id] = to
	tr := Transition{
		TaskID:   id,
		From:     from,
		To:       to,
		Trigger:  trigger,
		At:       m.now(),
		Metadata: metadata,
	}
	m.history = append(m.history, tr)
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	// Listeners run strictly after the mutation is committed.
	for _, obs := range observers {
		m.notify(obs, tr)
	}
	return true
}

func (m *Machine) notify(obs Observer, tr Transition) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Errorf("Observer panicked on transition %s %s->%s: %v", tr.TaskID, tr.From, tr.To, r)
		}
	}()
	obs(tr)
}

// CanTransition reports whether a trigger would be accepted, without
// mutating anything.
func (m *Machine) CanTransition(id string, trigger Trigger) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, ok := m.states[id]
	if !ok {
		return false
	}
	_, ok = transitions[from][trigger]
	return ok
}

// AvailableTransitions lists the triggers currently accepted for a task,
// sorted for deterministic output.
func (m *Machine) AvailableTransitions(id string) []Trigger {
	m.mu.RLock()
	defer m.mu.RUnlock()

	from, ok := m.states[id]
	if !ok {
		return nil
	}
	out := make([]Trigger, 0, len(transitions[from]))
	for t := range transitions[from] {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CountByState returns the number of tasks in each state.
func (m *Machine) CountByState() map[models.TaskStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.TaskStatus]int)
	for _, s := range m.states {
		counts[s]++
	}
	return counts
}

// TasksInState lists the IDs of all tasks currently in the given state,
// sorted lexicographically.
func (m *Machine) TasksInState(s models.TaskStatus) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id, st := range m.states {
		if st == s {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// History returns a copy of the full transition history.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// RecentHistory returns up to n most recent transitions, oldest first.
func (m *Machine) RecentHistory(n int) []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(m.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Transition, len(m.history)-start)
	copy(out, m.history[start:])
	return out
}

// Flow derives the aggregate view consumed by visualizations.
func (m *Machine) Flow() FlowView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	view := FlowView{
		StateCounts: make(map[models.TaskStatus]int),
		EdgeCounts:  make(map[string]int),
	}
	for _, s := range m.states {
		view.StateCounts[s]++
	}
	for _, tr := range m.history {
		key := string(tr.From) + ":" + string(tr.Trigger) + ":" + string(tr.To)
		view.EdgeCounts[key]++
	}
	return view
}
