package storage_test

import (
	"testing"
	"time"

	internalstorage "github.com/chainward/chainward/internal/storage"
	"github.com/chainward/chainward/internal/testutil"
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

func setupArchive(t *testing.T) (*testutil.TestDB, storage.Archive) {
	t.Helper()
	td := testutil.SetupTestDB(t)
	archive, err := internalstorage.NewPostgresArchive(td.ConnStr)
	if err != nil {
		td.Teardown(t)
		t.Fatalf("Failed to connect archive: %v", err)
	}
	return td, archive
}

func sampleSnapshot() ([]models.Event, []models.Task, []models.Node) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	started := base.Add(time.Second)
	completed := base.Add(3 * time.Second)
	events := []models.Event{
		{ID: 1, Hash: "h1", PrevHash: "", Timestamp: base, Type: models.EventNodeRegistered, Payload: models.EventPayload{NodeID: "node-1"}.Encode()},
		{ID: 2, Hash: "h2", PrevHash: "h1", Timestamp: base, Type: models.EventTaskSubmitted, Payload: models.EventPayload{TaskID: "t1"}.Encode()},
		{ID: 3, Hash: "h3", PrevHash: "h2", Timestamp: completed, Type: models.EventTaskCompleted, Payload: models.EventPayload{TaskID: "t1", NodeID: "node-1"}.Encode()},
	}
	tasks := []models.Task{
		{ID: "t1", Status: models.CompletedTaskStatus, BackupNodes: []string{"node-2", "node-3"}, CreatedAt: base, StartedAt: &started, CompletedAt: &completed, LatencyMs: 2000},
		{ID: "t2", Status: models.BlockedTaskStatus, CreatedAt: base, BlockedReason: "node node-2 failed"},
	}
	nodes := []models.Node{
		{ID: "node-1", State: models.AliveNodeState, LastSeen: base, TasksProcessed: 1},
		{ID: "node-2", State: models.FailedNodeState, LastSeen: completed, TasksBlocked: 1},
	}
	return events, tasks, nodes
}

func TestArchiveRoundTrip(t *testing.T) {
	td, archive := setupArchive(t)
	defer td.Teardown(t)
	defer archive.Close()

	archiver := storage.NewArchiver(archive, logger{})
	events, tasks, nodes := sampleSnapshot()

	id, err := archiver.ArchiveRun("integration-run", events, tasks, nodes, true)
	assert.NoError(t, err)
	assert.Greater(t, id, int64(0))

	run, err := archive.GetRun(id)
	assert.NoError(t, err)
	assert.Equal(t, "integration-run", run.Label)
	assert.Equal(t, 3, run.EventsTotal)
	assert.True(t, run.ChainValid)

	stored, err := archive.GetEvents(id)
	assert.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, "h1", stored[0].Hash)
	assert.Equal(t, "h2", stored[1].PrevHash, "chain linkage survives the round trip")
	assert.Equal(t, models.EventTaskCompleted, stored[2].Type)

	payload, err := models.DecodePayload(stored[2].Payload)
	assert.NoError(t, err)
	assert.Equal(t, "t1", payload.TaskID)
	assert.Equal(t, "node-1", payload.NodeID)
}

func TestGetRunNotFoundOnPostgres(t *testing.T) {
	td, archive := setupArchive(t)
	defer td.Teardown(t)
	defer archive.Close()

	_, err := archive.GetRun(999999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	td, archive := setupArchive(t)
	defer td.Teardown(t)
	defer archive.Close()

	archiver := storage.NewArchiver(archive, logger{})
	events, tasks, nodes := sampleSnapshot()

	_, err := archiver.ArchiveRun("older", events, tasks, nodes, true)
	assert.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = archiver.ArchiveRun("newer", events, tasks, nodes, false)
	assert.NoError(t, err)

	runs, err := archive.ListRuns()
	assert.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].Label)
	assert.Equal(t, "older", runs[1].Label)
	assert.False(t, runs[0].ChainValid)
}

func TestSaveEventsRollsBackWithRun(t *testing.T) {
	td, archive := setupArchive(t)
	defer td.Teardown(t)
	defer archive.Close()

	events, tasks, nodes := sampleSnapshot()

	tx, err := archive.Begin()
	assert.NoError(t, err)
	run := models.Run{Label: "abandoned", ArchivedAt: time.Now(), EventsTotal: len(events)}
	id, err := tx.SaveRun(run)
	assert.NoError(t, err)
	assert.NoError(t, tx.SaveEvents(id, events))
	assert.NoError(t, tx.SaveTasks(id, tasks))
	assert.NoError(t, tx.SaveNodes(id, nodes))
	assert.NoError(t, tx.Rollback())

	_, err = archive.GetRun(id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	runs, err := archive.ListRuns()
	assert.NoError(t, err)
	assert.Empty(t, runs)
}
