package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/fleetd/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := newTestStore(t)

	version, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening an up-to-date database applies nothing and must not fail.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	version, err := s2.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestTaskCRUD(t *testing.T) {
	s := newTestStore(t)

	task := &models.Task{
		TaskID:         "TASK-aaaa1111",
		Name:           "Pick order 7",
		Type:           models.TaskPicking,
		AssignedDevice: "AMR-01",
		MapID:          "M1",
		StartZone:      "Z1",
		GoalZone:       "Z4",
	}
	pk, err := s.CreateTask(task)
	require.NoError(t, err)
	assert.Positive(t, pk)

	got, err := s.GetTask(pk)
	require.NoError(t, err)
	assert.Equal(t, "TASK-aaaa1111", got.TaskID)
	assert.Equal(t, models.StatusCreated, got.Status)
	assert.Nil(t, got.StartedAt)

	byID, err := s.GetTaskByID("TASK-aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, pk, byID.PK)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err = s.UpdateTask(pk, map[string]interface{}{
		"status":     models.StatusRunning,
		"started_at": started,
	})
	require.NoError(t, err)

	got, err = s.GetTask(pk)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	byDevice, err := s.ListTasksByDevice("AMR-01")
	require.NoError(t, err)
	assert.Len(t, byDevice, 1)

	running, err := s.ListTasksByStatus(models.StatusRunning)
	require.NoError(t, err)
	assert.Len(t, running, 1)
}

func TestUpdateTask_RejectsUnknownColumn(t *testing.T) {
	s := newTestStore(t)

	task := &models.Task{TaskID: "TASK-bbbb2222", Name: "x", Type: models.TaskStoring, MapID: "M1"}
	pk, err := s.CreateTask(task)
	require.NoError(t, err)

	err = s.UpdateTask(pk, map[string]interface{}{"task_id": "TASK-evil"})
	assert.Error(t, err)

	err = s.UpdateTask(pk, map[string]interface{}{"secret": 1})
	assert.Error(t, err)
}

func TestUpdateTask_MissingRow(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateTask(999, map[string]interface{}{"status": models.StatusFailed})
	assert.Error(t, err)
}

func TestDeviceCRUD(t *testing.T) {
	s := newTestStore(t)

	dev := &models.Device{
		ID:           "AMR-01",
		Name:         "Aisle runner",
		MapID:        "M1",
		CurrentZone:  "Z1",
		Direction:    "north",
		ForwardSpeed: 300,
		TurningSpeed: 100,
	}
	require.NoError(t, s.UpsertDevice(dev))

	got, err := s.GetDevice("AMR-01")
	require.NoError(t, err)
	assert.Equal(t, "Z1", got.CurrentZone)

	at := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateDeviceLocation("AMR-01", "Z3", "east", at))

	got, err = s.GetDevice("AMR-01")
	require.NoError(t, err)
	assert.Equal(t, "Z3", got.CurrentZone)
	assert.Equal(t, "east", got.Direction)

	assert.Error(t, s.UpdateDeviceLocation("AMR-99", "Z1", "north", at))

	devices, err := s.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestWarehouseRecords(t *testing.T) {
	s := newTestStore(t)

	edgeID, err := s.AddZoneEdge(&models.ZoneEdge{MapID: "M1", FromZone: "Z1", ToZone: "Z2", DistanceM: 4.5, Direction: "north"})
	require.NoError(t, err)

	require.NoError(t, s.SetZoneNode(&models.ZoneNode{MapID: "M1", Zone: "Z1", X: 0, Y: 0}))
	require.NoError(t, s.SetZoneNode(&models.ZoneNode{MapID: "M1", Zone: "Z2", X: 0, Y: 4.5}))

	_, err = s.AddStop(&models.Stop{MapID: "M1", ConnectionID: edgeID, StopID: "S-A1", DistFromStartM: 2.0, RightBinsCount: 3, RightBinsDistM: 0.4})
	require.NoError(t, err)
	_, err = s.AddStop(&models.Stop{MapID: "M1", ConnectionID: edgeID, StopID: "S-A0", DistFromStartM: 1.0})
	require.NoError(t, err)

	edges, err := s.ListZoneEdges("M1")
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	nodes, err := s.ListZoneNodes("M1")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	stops, err := s.ListStops("M1")
	require.NoError(t, err)
	require.Len(t, stops, 2)
	// Ordered by longitudinal position along the edge
	assert.Equal(t, "S-A0", stops[0].StopID)

	_, err = s.AddRack(&models.Rack{RackID: "R1", MapID: "M1", StopID: "S-A1", Level: 2, HeightMM: 1200})
	require.NoError(t, err)
	_, err = s.AddProduct(&models.Product{SKU: "SKU-1", Name: "Widget", RackID: "R1", Quantity: 10})
	require.NoError(t, err)
	_, err = s.AddUser(&models.User{Username: "ops", Role: "operator"})
	require.NoError(t, err)
}

func TestBackup(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "fleet.db"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateTask(&models.Task{TaskID: "TASK-cccc3333", Name: "x", Type: models.TaskAuditing, MapID: "M1"})
	require.NoError(t, err)

	backupPath := filepath.Join(dir, "backups", "fleet.bak")
	require.NoError(t, s.Backup(backupPath))

	restored, err := Open(backupPath)
	require.NoError(t, err)
	defer restored.Close()

	tasks, err := restored.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
