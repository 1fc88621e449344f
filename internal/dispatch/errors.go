package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// PreconditionError indicates a task start was rejected before any side
// effect occurred: no channel write, no state transition. It is user-visible
// and never retried automatically.
type PreconditionError struct {
	TaskID string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot start task %s: %s", e.TaskID, e.Reason)
}

// ChannelWriteError wraps a failed best-effort command send. It is logged
// and non-fatal; the handshake proceeds regardless.
type ChannelWriteError struct {
	DeviceID string
	Err      error
}

func (e *ChannelWriteError) Error() string {
	return fmt.Sprintf("channel write to device %s failed: %v", e.DeviceID, e.Err)
}

func (e *ChannelWriteError) Unwrap() error { return e.Err }

// ChannelReadError wraps a failed poll-cycle read. A handshake poll
// terminates on it without changing task state; a completion watcher logs
// it and keeps polling.
type ChannelReadError struct {
	DeviceID string
	Err      error
}

func (e *ChannelReadError) Error() string {
	return fmt.Sprintf("channel read from device %s failed: %v", e.DeviceID, e.Err)
}

func (e *ChannelReadError) Unwrap() error { return e.Err }

// HandshakeTimeoutError indicates the device did not acknowledge execution
// before the deadline.
type HandshakeTimeoutError struct {
	TaskID   string
	Deadline time.Time
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("device did not acknowledge task %s before %s", e.TaskID, e.Deadline.Format(time.RFC3339))
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
