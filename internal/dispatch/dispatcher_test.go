package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/fleetd/internal/config"
	"github.com/harrison/fleetd/internal/models"
)

// fakeStore is an in-memory TaskStore safe for concurrent use.
type fakeStore struct {
	mu      sync.Mutex
	tasks   map[int64]*models.Task
	updates []map[string]interface{}

	updateErr error
	listErr   error
}

func newFakeStore(tasks ...*models.Task) *fakeStore {
	s := &fakeStore{tasks: make(map[int64]*models.Task)}
	for _, t := range tasks {
		s.tasks[t.PK] = t
	}
	return s
}

func (s *fakeStore) GetTask(pk int64) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pk]
	if !ok {
		return nil, fmt.Errorf("task %d not found", pk)
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) UpdateTask(pk int64, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	t, ok := s.tasks[pk]
	if !ok {
		return fmt.Errorf("task %d not found", pk)
	}
	for k, v := range fields {
		switch k {
		case "status":
			t.Status = v.(models.TaskStatus)
		case "started_at":
			ts := v.(time.Time)
			t.StartedAt = &ts
		case "completed_at":
			ts := v.(time.Time)
			t.CompletedAt = &ts
		case "actual_duration":
			t.ActualDuration = v.(int)
		}
	}
	s.updates = append(s.updates, fields)
	return nil
}

func (s *fakeStore) ListTasksByDevice(deviceID string) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Task
	for _, t := range s.tasks {
		if t.AssignedDevice == deviceID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) ListTasksByStatus(status models.TaskStatus) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) status(pk int64) models.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[pk].Status
}

func (s *fakeStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// fakeChannel scripts device status responses. Each Read pops the next
// scripted status; the last one repeats.
type fakeChannel struct {
	mu       sync.Mutex
	statuses []string
	readErr  error
	writeErr error

	writes       []string
	commandCalls int
	commands     [][][]string
}

func (c *fakeChannel) Write(deviceID, taskID, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, fmt.Sprintf("%s/%s/%s", deviceID, taskID, status))
	return nil
}

func (c *fakeChannel) Read(deviceID, taskID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return "", c.readErr
	}
	if len(c.statuses) == 0 {
		return "", nil
	}
	status := c.statuses[0]
	if len(c.statuses) > 1 {
		c.statuses = c.statuses[1:]
	}
	return status, nil
}

func (c *fakeChannel) WriteCommands(deviceID string, rows [][]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commandCalls++
	c.commands = append(c.commands, rows)
	return nil
}

func (c *fakeChannel) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeChannel) commandCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandCalls
}

// fakePlanner returns a canned command program.
type fakePlanner struct {
	rows [][]string
	err  error
}

func (p *fakePlanner) Plan(task *models.Task) ([][]string, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.rows, nil
}

// recordingNotifier captures progress messages for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	opened []string
	msgs   []string
	closed int
}

func (n *recordingNotifier) OpenProgress(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, message)
}

func (n *recordingNotifier) UpdateProgress(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
}

func (n *recordingNotifier) CloseProgress() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed++
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type testLogger struct{}

func (testLogger) Debugf(string, ...interface{}) {}
func (testLogger) Infof(string, ...interface{})  {}
func (testLogger) Warnf(string, ...interface{})  {}
func (testLogger) Errorf(string, ...interface{}) {}

func testOpts() Options {
	return Options{
		PollInterval:     2 * time.Millisecond,
		HandshakeTimeout: 40 * time.Millisecond,
		OnTimeout:        config.OnTimeoutFail,
	}
}

func testTask(pk int64, device string) *models.Task {
	return &models.Task{
		PK:             pk,
		TaskID:         fmt.Sprintf("TASK-%08d", pk),
		Name:           "pick order",
		Type:           models.TaskPicking,
		AssignedDevice: device,
		MapID:          "floor-1",
		StartZone:      "A1",
		GoalZone:       "B3",
		Status:         models.StatusCreated,
		CreatedAt:      time.Now(),
	}
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}

func TestStartRejectsTaskWithoutDevice(t *testing.T) {
	task := testTask(1, "")
	store := newFakeStore(task)
	ch := &fakeChannel{}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())

	err := d.Start(context.Background(), task)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))

	// Precondition failures leave no trace: no channel write, no record
	// transition.
	assert.Equal(t, 0, ch.writeCount())
	assert.Equal(t, 0, store.updateCount())
	assert.Equal(t, models.StatusCreated, store.status(1))
}

func TestStartRejectsBusyDevice(t *testing.T) {
	running := testTask(1, "amr-01")
	running.Status = models.StatusRunning
	task := testTask(2, "amr-01")
	store := newFakeStore(running, task)
	ch := &fakeChannel{}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())

	err := d.Start(context.Background(), task)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, 0, ch.writeCount())
	assert.Equal(t, models.StatusCreated, store.status(2))
}

func TestStartRejectsLiveHandshakeOnDevice(t *testing.T) {
	first := testTask(1, "amr-01")
	second := testTask(2, "amr-01")
	store := newFakeStore(first, second)
	ch := &fakeChannel{statuses: []string{""}} // never acknowledges
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), first))
	// The busy-device check spans live handshakes too, before the record
	// ever reaches awaiting_handshake.
	err := d.Start(context.Background(), second)
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
}

func TestHandshakeAcknowledged(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{"", "executing_task", "task_completed"}}
	planner := &fakePlanner{rows: [][]string{{"PVTR", "90"}, {"F", "6000"}}}
	notifier := &recordingNotifier{}
	d := New(store, ch, planner, nil, notifier, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	assert.Equal(t, models.StatusAwaitingHandshake, store.status(1))

	waitFor(t, func() bool {
		return store.status(1) == models.StatusCompleted
	}, "task runs to completion")

	final, err := store.GetTask(1)
	require.NoError(t, err)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	assert.Equal(t, 1, ch.commandCount())
	assert.Contains(t, notifier.messages(), "Executing the task...")

	d.Shutdown()
	assert.Equal(t, 0, d.WatcherCount())
}

func TestHandshakeFastPathCompletion(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	// Device jumps straight to task_completed without ever reporting
	// executing_task.
	ch := &fakeChannel{statuses: []string{"task_completed"}}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return store.status(1) == models.StatusCompleted
	}, "fast path completes task")

	// No route handed over and no watcher spawned on the fast path.
	assert.Equal(t, 0, ch.commandCount())
	assert.Equal(t, 0, d.WatcherCount())
	final, _ := store.GetTask(1)
	assert.Nil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
}

func TestHandshakeTimeoutFailPolicy(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{"idle"}}
	notifier := &recordingNotifier{}
	d := New(store, ch, &fakePlanner{}, nil, notifier, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return store.status(1) == models.StatusFailed
	}, "timeout fails task")

	assert.Equal(t, 0, d.WatcherCount())
	assert.Contains(t, notifier.messages(), "Device did not acknowledge execution in time.")
	assert.False(t, d.HandshakeInProgress("amr-01"))
}

func TestHandshakeTimeoutHoldPolicy(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{""}}
	opts := testOpts()
	opts.OnTimeout = config.OnTimeoutHold
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, opts)
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return !d.HandshakeInProgress("amr-01")
	}, "handshake resolves")

	// Hold policy leaves the record awaiting manual intervention.
	assert.Equal(t, models.StatusAwaitingHandshake, store.status(1))
	assert.Equal(t, 0, d.WatcherCount())
}

func TestHandshakeReadErrorTerminatesPoll(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{readErr: errors.New("disk gone")}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return !d.HandshakeInProgress("amr-01")
	}, "poll terminates on read error")

	// A read error ends the poll without forcing a lifecycle transition.
	assert.Equal(t, models.StatusAwaitingHandshake, store.status(1))
	assert.Equal(t, 0, d.WatcherCount())
}

func TestWriteErrorDoesNotAbortHandshake(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{writeErr: errors.New("mailbox locked"), statuses: []string{"executing_task", "task_completed"}}
	planner := &fakePlanner{rows: [][]string{{"F", "1000"}}}
	d := New(store, ch, planner, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	// The run_task send is best effort; the handshake still runs and the
	// device's acknowledgment is honored.
	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return store.status(1) == models.StatusCompleted
	}, "task completes despite write failure")
}

func TestUnplannableRouteFailsTask(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{"executing_task"}}
	planner := &fakePlanner{err: errors.New("no route between zones")}
	d := New(store, ch, planner, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return store.status(1) == models.StatusFailed
	}, "unroutable task fails")

	assert.Equal(t, 0, ch.commandCount())
	assert.Equal(t, 0, d.WatcherCount())
}

func TestCancelRunningTask(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{"executing_task", "still_moving"}}
	planner := &fakePlanner{rows: [][]string{{"F", "1000"}}}
	d := New(store, ch, planner, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	waitFor(t, func() bool {
		return store.status(1) == models.StatusRunning
	}, "task reaches running")
	waitFor(t, func() bool {
		return d.WatcherCount() == 1
	}, "watcher registered")

	require.NoError(t, d.Cancel(task.TaskID))
	assert.Equal(t, models.StatusCanceled, store.status(1))
	assert.Equal(t, 0, d.WatcherCount())
}

func TestCancelDuringHandshake(t *testing.T) {
	task := testTask(1, "amr-01")
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{""}}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Start(context.Background(), task))
	require.NoError(t, d.Cancel(task.TaskID))

	assert.Equal(t, models.StatusCanceled, store.status(1))
	waitFor(t, func() bool {
		return !d.HandshakeInProgress("amr-01")
	}, "handshake context destroyed")
}

func TestCancelUnknownTaskIsNoop(t *testing.T) {
	store := newFakeStore()
	d := New(store, &fakeChannel{}, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	require.NoError(t, d.Cancel("TASK-nothere"))
	assert.Equal(t, 0, store.updateCount())
}

func TestWatcherFinalizesAtMostOnce(t *testing.T) {
	task := testTask(1, "amr-01")
	task.Status = models.StatusRunning
	now := time.Now()
	task.StartedAt = &now
	store := newFakeStore(task)
	ch := &fakeChannel{statuses: []string{"task_completed"}}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	// Registering a second watcher for the same task cancels the first; only
	// the surviving entry may finalize.
	d.startWatcher(context.Background(), task.TaskID, "amr-01", task.PK)
	d.startWatcher(context.Background(), task.TaskID, "amr-01", task.PK)

	waitFor(t, func() bool {
		return store.status(1) == models.StatusCompleted
	}, "watcher completes task")
	d.Shutdown()

	completions := 0
	store.mu.Lock()
	for _, u := range store.updates {
		if st, ok := u["status"]; ok && st == models.StatusCompleted {
			completions++
		}
	}
	store.mu.Unlock()
	assert.Equal(t, 1, completions)

	final, _ := store.GetTask(1)
	assert.GreaterOrEqual(t, final.ActualDuration, 0)
}

func TestWatcherRetriesOnReadError(t *testing.T) {
	task := testTask(1, "amr-01")
	task.Status = models.StatusRunning
	store := newFakeStore(task)
	ch := &fakeChannel{readErr: errors.New("transient")}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	d.startWatcher(context.Background(), task.TaskID, "amr-01", task.PK)
	time.Sleep(20 * time.Millisecond)

	// Completion watchers never give up on read errors.
	assert.Equal(t, 1, d.WatcherCount())

	ch.mu.Lock()
	ch.readErr = nil
	ch.statuses = []string{"task_completed"}
	ch.mu.Unlock()

	waitFor(t, func() bool {
		return store.status(1) == models.StatusCompleted
	}, "watcher recovers and completes task")
}

func TestResumeReattachesWatchers(t *testing.T) {
	running := testTask(1, "amr-01")
	running.Status = models.StatusRunning
	now := time.Now()
	running.StartedAt = &now
	idle := testTask(2, "amr-02") // still created, no watcher expected
	store := newFakeStore(running, idle)
	ch := &fakeChannel{statuses: []string{"", "task_completed"}}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())
	defer d.Shutdown()

	require.NoError(t, d.Resume(context.Background()))
	assert.Equal(t, 1, d.WatcherCount())

	waitFor(t, func() bool {
		return store.status(1) == models.StatusCompleted
	}, "resumed watcher completes task")
	assert.Equal(t, models.StatusCreated, store.status(2))
}

func TestShutdownStopsEverything(t *testing.T) {
	first := testTask(1, "amr-01")
	second := testTask(2, "amr-02")
	second.Status = models.StatusRunning
	store := newFakeStore(first, second)
	ch := &fakeChannel{statuses: []string{""}}
	d := New(store, ch, &fakePlanner{}, nil, nil, testLogger{}, testOpts())

	require.NoError(t, d.Start(context.Background(), first))
	d.startWatcher(context.Background(), second.TaskID, "amr-02", second.PK)

	d.Shutdown()
	assert.False(t, d.HandshakeInProgress("amr-01"))
	assert.Equal(t, 0, d.WatcherCount())
}
