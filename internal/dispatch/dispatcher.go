// Package dispatch drives the task-device handshake protocol: it starts
// tasks on devices, confirms execution through a bounded polling handshake,
// and watches running tasks to completion.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/fleetd/internal/channel"
	"github.com/harrison/fleetd/internal/config"
	"github.com/harrison/fleetd/internal/models"
)

// progressCloseDelay is how long the timeout notification stays visible
// before the progress indicator is closed.
const progressCloseDelay = 1500 * time.Millisecond

// Logger is the logging surface the dispatcher needs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// TaskStore is the record-store surface the dispatcher consumes.
type TaskStore interface {
	GetTask(pk int64) (*models.Task, error)
	UpdateTask(pk int64, fields map[string]interface{}) error
	ListTasksByDevice(deviceID string) ([]models.Task, error)
	ListTasksByStatus(status models.TaskStatus) ([]models.Task, error)
}

// DeviceChannel is the per-device mailbox the dispatcher writes commands to
// and reads status tokens from.
type DeviceChannel interface {
	Write(deviceID, taskID, status string) error
	Read(deviceID, taskID string) (string, error)
	WriteCommands(deviceID string, rows [][]string) error
}

// RoutePlanner computes the serialized command program for a task.
type RoutePlanner interface {
	Plan(task *models.Task) ([][]string, error)
}

// RemoteSync mirrors task transitions to the optional remote service.
// Failures are logged and never block the offline path.
type RemoteSync interface {
	StartTask(ctx context.Context, pk int64) error
	CompleteTask(ctx context.Context, pk int64) error
	UpdateTask(ctx context.Context, pk int64, fields map[string]interface{}) error
}

// Options holds the dispatcher timing parameters and timeout policy.
type Options struct {
	PollInterval     time.Duration
	HandshakeTimeout time.Duration

	// OnTimeout is config.OnTimeoutFail or config.OnTimeoutHold.
	OnTimeout string
}

// DefaultOptions returns the fixed system defaults: 1 s poll cadence,
// 30 s handshake timeout, fail on timeout.
func DefaultOptions() Options {
	return Options{
		PollInterval:     time.Second,
		HandshakeTimeout: 30 * time.Second,
		OnTimeout:        config.OnTimeoutFail,
	}
}

// handshake is the live context of one task's start attempt. Exactly one
// exists per task; it is destroyed when the handshake resolves.
type handshake struct {
	taskPK   int64
	taskID   string
	deviceID string
	deadline time.Time
	parent   context.Context
	cancel   context.CancelFunc
}

// Dispatcher is the per-task lifecycle controller. It owns the outstanding
// handshake contexts and the completion-watcher pool.
type Dispatcher struct {
	store    TaskStore
	channel  DeviceChannel
	planner  RoutePlanner
	remote   RemoteSync // may be nil when remote sync is disabled
	notifier ProgressNotifier
	logger   Logger
	opts     Options

	mu         sync.Mutex
	handshakes map[string]*handshake // keyed by device id

	wmu      sync.Mutex
	watchers map[string]*watcherEntry // keyed by task id

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a Dispatcher. remote may be nil; notifier and logger fall back
// to no-ops when nil.
func New(store TaskStore, ch DeviceChannel, planner RoutePlanner, remote RemoteSync, notifier ProgressNotifier, logger Logger, opts Options) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 30 * time.Second
	}
	if opts.OnTimeout == "" {
		opts.OnTimeout = config.OnTimeoutFail
	}
	return &Dispatcher{
		store:      store,
		channel:    ch,
		planner:    planner,
		remote:     remote,
		notifier:   notifier,
		logger:     logger,
		opts:       opts,
		handshakes: make(map[string]*handshake),
		watchers:   make(map[string]*watcherEntry),
		now:        time.Now,
	}
}

// Start begins the handshake for a task. Preconditions are checked first;
// a violation returns PreconditionError with no side effects. On success the
// task transitions to awaiting_handshake and a poll goroutine runs until the
// handshake resolves.
func (d *Dispatcher) Start(ctx context.Context, task *models.Task) error {
	if task.AssignedDevice == "" {
		return &PreconditionError{TaskID: task.TaskID, Reason: "no device assigned"}
	}

	d.mu.Lock()
	if _, busy := d.handshakes[task.AssignedDevice]; busy {
		d.mu.Unlock()
		return &PreconditionError{TaskID: task.TaskID, Reason: fmt.Sprintf("device %s has a handshake in progress", task.AssignedDevice)}
	}
	if err := d.deviceBusy(task); err != nil {
		d.mu.Unlock()
		return err
	}

	hs := &handshake{
		taskPK:   task.PK,
		taskID:   task.TaskID,
		deviceID: task.AssignedDevice,
		deadline: d.now().Add(d.opts.HandshakeTimeout),
		parent:   ctx,
	}
	d.handshakes[task.AssignedDevice] = hs
	d.mu.Unlock()

	d.notifier.OpenProgress("Please wait, we are checking robot's current status...")

	// Best-effort send: the device may still pick up a stale or out-of-band
	// command, so a failed write does not abort the handshake.
	if err := d.channel.Write(hs.deviceID, hs.taskID, string(models.CommandRunTask)); err != nil {
		werr := &ChannelWriteError{DeviceID: hs.deviceID, Err: err}
		d.logf("failed to write run_task command for %s: %v", hs.taskID, werr)
	}

	if err := d.store.UpdateTask(task.PK, map[string]interface{}{
		"status": models.StatusAwaitingHandshake,
	}); err != nil {
		d.removeHandshake(hs)
		d.notifier.CloseProgress()
		return fmt.Errorf("transition task %s to awaiting_handshake: %w", task.TaskID, err)
	}

	hctx, cancel := context.WithCancel(ctx)
	hs.cancel = cancel

	d.wg.Add(1)
	go d.pollHandshake(hctx, hs)
	return nil
}

// deviceBusy rejects a start when the device is already bound to another
// task that is awaiting handshake or running. Caller holds d.mu.
func (d *Dispatcher) deviceBusy(task *models.Task) error {
	tasks, err := d.store.ListTasksByDevice(task.AssignedDevice)
	if err != nil {
		return fmt.Errorf("check device availability: %w", err)
	}
	for _, t := range tasks {
		if t.PK == task.PK {
			continue
		}
		if t.Status == models.StatusAwaitingHandshake || t.Status == models.StatusRunning {
			return &PreconditionError{
				TaskID: task.TaskID,
				Reason: fmt.Sprintf("device %s is running task %s", task.AssignedDevice, t.TaskID),
			}
		}
	}
	return nil
}

// pollHandshake runs the bounded handshake poll. Exactly one of four
// terminations occurs: acknowledgment, fast-path completion, timeout, or
// read error. All terminate this poll; none are retried.
func (d *Dispatcher) pollHandshake(ctx context.Context, hs *handshake) {
	defer d.wg.Done()
	defer d.removeHandshake(hs)

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.notifier.CloseProgress()
			return
		case <-ticker.C:
		}

		status, err := d.channel.Read(hs.deviceID, hs.taskID)
		if err != nil {
			rerr := &ChannelReadError{DeviceID: hs.deviceID, Err: err}
			d.logf("handshake polling failed for %s: %v", hs.taskID, rerr)
			d.notifier.CloseProgress()
			return
		}

		switch {
		case channel.StatusMatches(status, models.DeviceStatusExecuting):
			d.notifier.UpdateProgress("Executing the task...")
			d.notifier.CloseProgress()
			d.onAcknowledged(hs)
			return

		case channel.StatusMatches(status, models.DeviceStatusCompleted):
			// Fast path: the device completed without ever reporting
			// executing_task. Valid; no completion watcher is spawned.
			d.notifier.CloseProgress()
			d.finalizeCompleted(hs.taskPK, hs.taskID)
			return

		default:
			// Unrecognized tokens are inert; keep polling until the deadline.
			if d.now().After(hs.deadline) {
				d.onTimeout(hs)
				return
			}
		}
	}
}

// onAcknowledged handles the executing_task observation: plan the route,
// hand the command program to the device, transition to running, and spawn
// the completion watcher.
func (d *Dispatcher) onAcknowledged(hs *handshake) {
	task, err := d.store.GetTask(hs.taskPK)
	if err != nil {
		d.logf("load task %s after acknowledgment: %v", hs.taskID, err)
		return
	}

	rows, err := d.planner.Plan(task)
	if err != nil {
		// No path means the run transition is aborted; the task fails
		// rather than running without a route.
		d.logf("route planning failed for %s: %v", hs.taskID, err)
		d.failTask(hs.taskPK, hs.taskID)
		return
	}

	if err := d.channel.WriteCommands(hs.deviceID, rows); err != nil {
		werr := &ChannelWriteError{DeviceID: hs.deviceID, Err: err}
		d.logf("failed to hand route to device for %s: %v", hs.taskID, werr)
	}

	startedAt := d.now()
	if err := d.store.UpdateTask(hs.taskPK, map[string]interface{}{
		"status":     models.StatusRunning,
		"started_at": startedAt,
	}); err != nil {
		d.logf("transition task %s to running: %v", hs.taskID, err)
		return
	}
	d.remoteCall(hs.taskID, "start", func(ctx context.Context) error {
		return d.remote.StartTask(ctx, hs.taskPK)
	})

	d.startWatcher(hs.parent, hs.taskID, hs.deviceID, hs.taskPK)
}

// onTimeout applies the configured timeout policy. The poll terminates
// either way; no completion watcher is spawned.
func (d *Dispatcher) onTimeout(hs *handshake) {
	terr := &HandshakeTimeoutError{TaskID: hs.taskID, Deadline: hs.deadline}
	d.logf("%v", terr)

	d.notifier.UpdateProgress("Device did not acknowledge execution in time.")
	time.AfterFunc(progressCloseDelay, d.notifier.CloseProgress)

	if d.opts.OnTimeout == config.OnTimeoutHold {
		// Legacy policy: leave the task in awaiting_handshake for manual
		// intervention.
		return
	}
	d.failTask(hs.taskPK, hs.taskID)
}

// failTask transitions a task to failed.
func (d *Dispatcher) failTask(pk int64, taskID string) {
	if err := d.store.UpdateTask(pk, map[string]interface{}{
		"status": models.StatusFailed,
	}); err != nil {
		d.logf("transition task %s to failed: %v", taskID, err)
		return
	}
	d.remoteCall(taskID, "update", func(ctx context.Context) error {
		return d.remote.UpdateTask(ctx, pk, map[string]interface{}{"status": string(models.StatusFailed)})
	})
}

// finalizeCompleted marks a task completed, deriving actual_duration when
// started_at is known. Shared by the fast path and the completion watcher.
func (d *Dispatcher) finalizeCompleted(pk int64, taskID string) {
	completedAt := d.now()
	fields := map[string]interface{}{
		"status":       models.StatusCompleted,
		"completed_at": completedAt,
	}

	task, err := d.store.GetTask(pk)
	if err != nil {
		d.logf("load task %s for completion: %v", taskID, err)
	} else if task.StartedAt != nil {
		fields["actual_duration"] = models.DurationMinutes(*task.StartedAt, completedAt)
	}

	if err := d.store.UpdateTask(pk, fields); err != nil {
		d.logf("finalize task %s: %v", taskID, err)
		return
	}
	d.remoteCall(taskID, "complete", func(ctx context.Context) error {
		return d.remote.CompleteTask(ctx, pk)
	})
}

// Cancel stops any live handshake or completion watcher for a task and
// transitions it to canceled if it was not terminal yet.
func (d *Dispatcher) Cancel(taskID string) error {
	var pk int64 = -1

	d.mu.Lock()
	for device, hs := range d.handshakes {
		if hs.taskID == taskID {
			if hs.cancel != nil {
				hs.cancel()
			}
			delete(d.handshakes, device)
			pk = hs.taskPK
			break
		}
	}
	d.mu.Unlock()

	if wpk, ok := d.stopWatcher(taskID); ok && pk < 0 {
		pk = wpk
	}
	if pk < 0 {
		return nil
	}

	task, err := d.store.GetTask(pk)
	if err != nil {
		return err
	}
	if task == nil || task.IsTerminal() {
		return nil
	}
	if err := d.store.UpdateTask(task.PK, map[string]interface{}{
		"status": models.StatusCanceled,
	}); err != nil {
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	}
	d.remoteCall(taskID, "update", func(ctx context.Context) error {
		return d.remote.UpdateTask(ctx, task.PK, map[string]interface{}{"status": string(models.StatusCanceled)})
	})
	return nil
}

// Shutdown cancels all outstanding polls and watchers and waits for their
// goroutines to exit.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	for device, hs := range d.handshakes {
		if hs.cancel != nil {
			hs.cancel()
		}
		delete(d.handshakes, device)
	}
	d.mu.Unlock()

	d.wmu.Lock()
	for taskID, entry := range d.watchers {
		entry.cancel()
		delete(d.watchers, taskID)
	}
	d.wmu.Unlock()

	d.wg.Wait()
}

// Resume spawns completion watchers for tasks that were already running when
// the coordinator started, so a restart never orphans an in-flight task.
func (d *Dispatcher) Resume(ctx context.Context) error {
	tasks, err := d.store.ListTasksByStatus(models.StatusRunning)
	if err != nil {
		return fmt.Errorf("list running tasks: %w", err)
	}
	for _, t := range tasks {
		if t.AssignedDevice == "" {
			continue
		}
		d.startWatcher(ctx, t.TaskID, t.AssignedDevice, t.PK)
	}
	return nil
}

// ActiveHandshakes reports the number of outstanding handshake polls.
func (d *Dispatcher) ActiveHandshakes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handshakes)
}

// HandshakeInProgress reports whether a device currently has an outstanding
// handshake.
func (d *Dispatcher) HandshakeInProgress(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handshakes[deviceID]
	return ok
}

// removeHandshake destroys a handshake context, releasing its cancel func.
func (d *Dispatcher) removeHandshake(hs *handshake) {
	d.mu.Lock()
	if cur, ok := d.handshakes[hs.deviceID]; ok && cur == hs {
		delete(d.handshakes, hs.deviceID)
	}
	d.mu.Unlock()
	if hs.cancel != nil {
		hs.cancel()
	}
}

// remoteCall mirrors a transition to the remote service when one is
// configured. Failures are logged and otherwise swallowed; the client keeps
// its own health snapshot for observability.
func (d *Dispatcher) remoteCall(taskID, op string, call func(ctx context.Context) error) {
	if d.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := call(ctx); err != nil {
		d.logf("remote %s for task %s failed: %v", op, taskID, err)
	}
}

func (d *Dispatcher) logf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Errorf(format, args...)
	}
}
