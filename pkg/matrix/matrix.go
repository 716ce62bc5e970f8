// Package matrix is the structural placement bookkeeping for the engine.
// It enforces two invariants: a task has at most one primary node at any
// time, and a node is never simultaneously a task's primary and one of its
// backups.
package matrix

import (
	"sort"
	"sync"
	"time"
)

// maxAuditEntries bounds the in-memory assignment log. This log is a
// lightweight visualization aid, separate from the hash chain.
const maxAuditEntries = 1000

// Assignment is one entry in the matrix's own audit log.
type Assignment struct {
	Op     string    `json:"op"` // "assign_primary", "assign_backup", "release_primary", "promote_backup"
	TaskID string    `json:"task_id"`
	NodeID string    `json:"node_id"`
	At     time.Time `json:"at"`
}

// Snapshot is a point-in-time deep copy of the matrix for logging.
type Snapshot struct {
	Primary map[string]string   `json:"primary"`
	Backups map[string][]string `json:"backups"`
	Load    map[string]int      `json:"load"`
}

// Matrix holds the sparse task-to-node assignment mappings plus per-node
// primary load used by placement.
type Matrix struct {
	mu      sync.RWMutex
	primary map[string]string   // task -> primary node
	backups map[string][]string // task -> ordered backup set
	load    map[string]int      // node -> primary assignment count
	audit   []Assignment
	now     func() time.Time
}

// New returns an empty matrix stamping audit entries with the wall clock.
func New() *Matrix {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty matrix using the given clock.
func NewWithClock(now func() time.Time) *Matrix {
	return &Matrix{
		primary: make(map[string]string),
		backups: make(map[string][]string),
		load:    make(map[string]int),
		now:     now,
	}
}

func (m *Matrix) record(op, taskID, nodeID string) {
	m.audit = append(m.audit, Assignment{Op: op, TaskID: taskID, NodeID: nodeID, At: m.now()})
	if len(m.audit) > maxAuditEntries {
		m.audit = m.audit[len(m.audit)-maxAuditEntries:]
	}
}

// AssignPrimary gives a task its primary node. It fails when the task
// already has a primary. A node currently in the task's backup set is
// promoted: it leaves the backups before taking the primary slot, so the
// exclusion invariant holds at every observable instant.
func (m *Matrix) AssignPrimary(taskID, nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.primary[taskID]; ok {
		return false
	}
	m.removeBackupLocked(taskID, nodeID)
	m.primary[taskID] = nodeID
	m.load[nodeID]++
	m.record("assign_primary", taskID, nodeID)
	return true
}

// AssignBackup adds a node to a task's backup set. It fails when the node is
// the task's current primary. Adding an existing backup is a no-op success.
func (m *Matrix) AssignBackup(taskID, nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.primary[taskID] == nodeID {
		return false
	}
	for _, b := range m.backups[taskID] {
		if b == nodeID {
			return true
		}
	}
	m.backups[taskID] = append(m.backups[taskID], nodeID)
	m.record("assign_backup", taskID, nodeID)
	return true
}

// ReleasePrimary clears a task's primary assignment, decrementing the node's
// load. It returns the released node, or "" with false when none was held.
func (m *Matrix) ReleasePrimary(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releasePrimaryLocked(taskID)
}

func (m *Matrix) releasePrimaryLocked(taskID string) (string, bool) {
	nodeID, ok := m.primary[taskID]
	if !ok {
		return "", false
	}
	delete(m.primary, taskID)
	if m.load[nodeID] > 0 {
		m.load[nodeID]--
	}
	m.record("release_primary", taskID, nodeID)
	return nodeID, true
}

// ReleaseBackups clears a task's backup set and returns the removed nodes.
func (m *Matrix) ReleaseBackups(taskID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.backups[taskID]
	delete(m.backups, taskID)
	return out
}

// PromoteBackup moves one of a task's backups into the primary slot,
// releasing any existing primary first. The least-loaded backup wins, ties
// broken by lexicographic node ID so the choice is reproducible.
func (m *Matrix) PromoteBackup(taskID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.backups[taskID]
	if len(candidates) == 0 {
		return "", false
	}
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)
	chosen := sorted[0]
	for _, c := range sorted[1:] {
		if m.load[c] < m.load[chosen] {
			chosen = c
		}
	}

	m.removeBackupLocked(taskID, chosen)
	m.releasePrimaryLocked(taskID)
	m.primary[taskID] = chosen
	m.load[chosen]++
	m.record("promote_backup", taskID, chosen)
	return chosen, true
}

func (m *Matrix) removeBackupLocked(taskID, nodeID string) {
	set := m.backups[taskID]
	for i, b := range set {
		if b == nodeID {
			m.backups[taskID] = append(set[:i], set[i+1:]...)
			return
		}
	}
}

// SelectLeastLoaded returns the candidate with the smallest primary load.
// Ties go to the earliest candidate in the given order, so callers control
// the tie-break by how they order candidates.
func (m *Matrix) SelectLeastLoaded(candidates []string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(candidates) == 0 {
		return "", false
	}
	chosen := candidates[0]
	for _, c := range candidates[1:] {
		if m.load[c] < m.load[chosen] {
			chosen = c
		}
	}
	return chosen, true
}

// Load reports the number of primary assignments a node currently holds.
func (m *Matrix) Load(nodeID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load[nodeID]
}

// Primary returns the primary node for a task, if any.
func (m *Matrix) Primary(taskID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.primary[taskID]
	return n, ok
}

// Backups returns a copy of a task's backup set in assignment order.
func (m *Matrix) Backups(taskID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.backups[taskID]))
	copy(out, m.backups[taskID])
	return out
}

// TasksFor lists all tasks for which the node is primary, sorted.
func (m *Matrix) TasksFor(nodeID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for t, n := range m.primary {
		if n == nodeID {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Grid renders the full task x node view: "primary", "backup" or absent.
func (m *Matrix) Grid() map[string]map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grid := make(map[string]map[string]string)
	cell := func(taskID, nodeID, role string) {
		if grid[taskID] == nil {
			grid[taskID] = make(map[string]string)
		}
		grid[taskID][nodeID] = role
	}
	for t, n := range m.primary {
		cell(t, n, "primary")
	}
	for t, set := range m.backups {
		for _, n := range set {
			cell(t, n, "backup")
		}
	}
	return grid
}

// TakeSnapshot deep-copies the current assignment state.
func (m *Matrix) TakeSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Primary: make(map[string]string, len(m.primary)),
		Backups: make(map[string][]string, len(m.backups)),
		Load:    make(map[string]int, len(m.load)),
	}
	for t, n := range m.primary {
		snap.Primary[t] = n
	}
	for t, set := range m.backups {
		cp := make([]string, len(set))
		copy(cp, set)
		snap.Backups[t] = cp
	}
	for n, l := range m.load {
		snap.Load[n] = l
	}
	return snap
}

// AuditLog returns a copy of the matrix's own assignment log.
func (m *Matrix) AuditLog() []Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Assignment, len(m.audit))
	copy(out, m.audit)
	return out
}

// VerifySingleAssignment audits that no task holds more than one primary.
// Held trivially by construction (the primary map admits one value per
// task), and that every load counter matches the primary map.
func (m *Matrix) VerifySingleAssignment() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counted := make(map[string]int)
	for _, n := range m.primary {
		counted[n]++
	}
	for n, l := range m.load {
		if counted[n] != l {
			return false
		}
	}
	for n, c := range counted {
		if m.load[n] != c {
			return false
		}
	}
	return true
}

// VerifyBackupExclusion audits that no node appears as both primary and
// backup for the same task.
func (m *Matrix) VerifyBackupExclusion() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for t, n := range m.primary {
		for _, b := range m.backups[t] {
			if b == n {
				return false
			}
		}
	}
	return true
}
