package storage_test

import (
	"testing"

	"github.com/chainward/chainward/pkg/models"
	"github.com/chainward/chainward/pkg/storage"
	"github.com/stretchr/testify/assert"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func sampleRunData() ([]models.Event, []models.Task, []models.Node) {
	events := []models.Event{
		{ID: 1, Hash: "aaa", PrevHash: "", Type: models.EventNodeRegistered, Payload: models.EventPayload{NodeID: "node-1"}.Encode()},
		{ID: 2, Hash: "bbb", PrevHash: "aaa", Type: models.EventTaskSubmitted, Payload: models.EventPayload{TaskID: "t1"}.Encode()},
	}
	tasks := []models.Task{
		{ID: "t1", Status: models.PendingTaskStatus},
	}
	nodes := []models.Node{
		{ID: "node-1", State: models.AliveNodeState},
	}
	return events, tasks, nodes
}

func TestArchiveRun(t *testing.T) {
	archive := storage.NewMockArchive()
	archiver := storage.NewArchiver(archive, logger{})
	events, tasks, nodes := sampleRunData()

	id, err := archiver.ArchiveRun("experiment-1", events, tasks, nodes, true)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), id)

	run, err := archive.GetRun(id)
	assert.NoError(t, err)
	assert.Equal(t, "experiment-1", run.Label)
	assert.Equal(t, 2, run.EventsTotal)
	assert.True(t, run.ChainValid)

	stored, err := archive.GetEvents(id)
	assert.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.Equal(t, "bbb", stored[1].Hash)
}

func TestArchiveRunRejectsEmptyLabel(t *testing.T) {
	archiver := storage.NewArchiver(storage.NewMockArchive(), logger{})

	_, err := archiver.ArchiveRun("", nil, nil, nil, true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "label")
}

func TestArchiveRunsAreIndependent(t *testing.T) {
	archive := storage.NewMockArchive()
	archiver := storage.NewArchiver(archive, logger{})
	events, tasks, nodes := sampleRunData()

	first, err := archiver.ArchiveRun("run-a", events, tasks, nodes, true)
	assert.NoError(t, err)
	second, err := archiver.ArchiveRun("run-b", events[:1], tasks, nodes, false)
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)

	runs, err := archive.ListRuns()
	assert.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].Label)
	assert.False(t, runs[1].ChainValid)

	firstEvents, err := archive.GetEvents(first)
	assert.NoError(t, err)
	secondEvents, err := archive.GetEvents(second)
	assert.NoError(t, err)
	assert.Len(t, firstEvents, 2)
	assert.Len(t, secondEvents, 1)
}

func TestGetRunNotFound(t *testing.T) {
	archive := storage.NewMockArchive()

	_, err := archive.GetRun(42)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = archive.GetEvents(42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
