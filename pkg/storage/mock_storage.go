package storage

import (
	"sort"

	"github.com/chainward/chainward/pkg/models"
	"github.com/pkg/errors"
)

// mockArchive implements Archive with in-memory storage
type mockArchive struct {
	runs      []models.Run
	events    map[int64][]models.Event
	tasks     map[int64][]models.Task
	nodes     map[int64][]models.Node
	nextID    int64
	committed bool // Transaction state
}

// NewMockArchive returns an in-memory Archive for tests.
func NewMockArchive() Archive {
	return &mockArchive{
		events: make(map[int64][]models.Event),
		tasks:  make(map[int64][]models.Task),
		nodes:  make(map[int64][]models.Node),
	}
}

func (m *mockArchive) Begin() (Archive, error) {
	return m, nil
}

func (m *mockArchive) Commit() error {
	return nil
}

func (m *mockArchive) Rollback() error {
	return nil
}

func (m *mockArchive) Close() error {
	return nil
}

func (m *mockArchive) SaveRun(r models.Run) (int64, error) {
	if m.committed {
		return 0, errors.New("transaction already committed")
	}
	m.nextID++
	r.ID = m.nextID
	m.runs = append(m.runs, r)
	return r.ID, nil
}

func (m *mockArchive) GetRun(id int64) (models.Run, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Run{}, ErrNotFound
}

func (m *mockArchive) ListRuns() ([]models.Run, error) {
	out := make([]models.Run, len(m.runs))
	copy(out, m.runs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockArchive) SaveEvents(runID int64, events []models.Event) error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	m.events[runID] = append(m.events[runID], events...)
	return nil
}

func (m *mockArchive) SaveTasks(runID int64, tasks []models.Task) error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	m.tasks[runID] = append(m.tasks[runID], tasks...)
	return nil
}

func (m *mockArchive) SaveNodes(runID int64, nodes []models.Node) error {
	if m.committed {
		return errors.New("transaction already committed")
	}
	m.nodes[runID] = append(m.nodes[runID], nodes...)
	return nil
}

func (m *mockArchive) GetEvents(runID int64) ([]models.Event, error) {
	events, ok := m.events[runID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Event, len(events))
	copy(out, events)
	return out, nil
}
