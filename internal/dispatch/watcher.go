package dispatch

import (
	"context"
	"time"

	"github.com/harrison/fleetd/internal/channel"
	"github.com/harrison/fleetd/internal/models"
)

// watcherEntry tracks one running completion watcher. The pool holds at most
// one entry per task id; starting a new watcher for the same task cancels
// the previous one first.
type watcherEntry struct {
	taskPK int64
	cancel context.CancelFunc
}

// startWatcher registers and launches a completion watcher for a running
// task. It derives its context from the handshake's parent so the watcher
// outlives the handshake context itself.
func (d *Dispatcher) startWatcher(parent context.Context, taskID, deviceID string, taskPK int64) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	entry := &watcherEntry{taskPK: taskPK, cancel: cancel}

	d.wmu.Lock()
	if prev, ok := d.watchers[taskID]; ok {
		prev.cancel()
	}
	d.watchers[taskID] = entry
	d.wmu.Unlock()

	d.wg.Add(1)
	go d.watchCompletion(ctx, entry, taskID, deviceID)
}

// stopWatcher cancels and removes a task's watcher if one exists, returning
// the task's primary key.
func (d *Dispatcher) stopWatcher(taskID string) (int64, bool) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	entry, ok := d.watchers[taskID]
	if !ok {
		return 0, false
	}
	entry.cancel()
	delete(d.watchers, taskID)
	return entry.taskPK, true
}

// watchCompletion polls the device channel until task_completed appears.
// Unlike the handshake poll it has no deadline, and read errors only skip
// the cycle: a running task stays watched until it completes or is canceled.
func (d *Dispatcher) watchCompletion(ctx context.Context, entry *watcherEntry, taskID, deviceID string) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := d.channel.Read(deviceID, taskID)
		if err != nil {
			d.logf("completion polling failed for %s: %v", taskID, err)
			continue
		}
		if !channel.StatusMatches(status, models.DeviceStatusCompleted) {
			continue
		}

		// At-most-once: only the watcher still registered for this task may
		// finalize it. A replaced or canceled watcher exits without touching
		// the record.
		d.wmu.Lock()
		cur, ok := d.watchers[taskID]
		if !ok || cur != entry {
			d.wmu.Unlock()
			return
		}
		delete(d.watchers, taskID)
		d.wmu.Unlock()

		d.finalizeCompleted(entry.taskPK, taskID)
		return
	}
}

// WatcherCount reports the number of live completion watchers.
func (d *Dispatcher) WatcherCount() int {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return len(d.watchers)
}
