package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a warehouse task.
type TaskStatus string

// Task lifecycle states. A task moves created -> awaiting_handshake -> running
// -> completed; canceled and failed are reachable from awaiting_handshake or
// running.
const (
	StatusCreated           TaskStatus = "created"
	StatusAwaitingHandshake TaskStatus = "awaiting_handshake"
	StatusRunning           TaskStatus = "running"
	StatusCompleted         TaskStatus = "completed"
	StatusCanceled          TaskStatus = "canceled"
	StatusFailed            TaskStatus = "failed"
)

// TaskType identifies what the robot does at each stop on the route.
type TaskType string

const (
	TaskPicking  TaskType = "picking"
	TaskStoring  TaskType = "storing"
	TaskAuditing TaskType = "auditing"
	TaskCharging TaskType = "charging"
)

// Task represents a single warehouse task assigned to a device
type Task struct {
	PK             int64      // Row primary key in the record store
	TaskID         string     // Human task identifier (TASK-xxxxxxxx)
	Name           string     // Task name/title
	Type           TaskType   // picking, storing, auditing, charging
	AssignedDevice string     // Device this task is bound to (empty if unassigned)
	MapID          string     // Warehouse map the route is planned on
	StartZone      string     // Zone the device departs from
	GoalZone       string     // Zone the route ends at
	DropZone       string     // Drop-off zone for picking tasks (optional)
	Status         TaskStatus // Current lifecycle state
	CreatedAt      time.Time
	StartedAt      *time.Time // Set when the device acknowledges execution
	CompletedAt    *time.Time // Set when terminal device status is observed
	ActualDuration int        // Whole minutes between started and completed
}

// Validate checks if the task has all required fields
func (t *Task) Validate() error {
	if t.TaskID == "" {
		return errors.New("task id is required")
	}
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.MapID == "" {
		return errors.New("task map id is required")
	}
	switch t.Type {
	case TaskPicking, TaskStoring, TaskAuditing, TaskCharging:
	default:
		return errors.New("unknown task type " + string(t.Type))
	}
	return nil
}

// IsTerminal returns true if the task is in a state no transition leaves.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusCanceled || t.Status == StatusFailed
}

// validTransitions lists the allowed status changes. Self-transitions are not
// allowed; terminal states have no outgoing edges.
var validTransitions = map[TaskStatus][]TaskStatus{
	StatusCreated:           {StatusAwaitingHandshake, StatusCanceled},
	StatusAwaitingHandshake: {StatusRunning, StatusCompleted, StatusCanceled, StatusFailed},
	StatusRunning:           {StatusCompleted, StatusCanceled, StatusFailed},
}

// CanTransition reports whether moving from one status to another is a legal
// lifecycle transition.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseTaskStatus normalizes a stored status string. Unknown values are
// returned as-is so callers can surface them rather than mask them.
func ParseTaskStatus(s string) TaskStatus {
	return TaskStatus(strings.ToLower(strings.TrimSpace(s)))
}

// NewTaskID generates a human-facing task identifier.
func NewTaskID() string {
	return "TASK-" + uuid.NewString()[:8]
}

// DurationMinutes computes the actual task duration in whole minutes,
// truncated, matching the record store's actual_duration column.
func DurationMinutes(started, completed time.Time) int {
	if completed.Before(started) {
		return 0
	}
	return int(completed.Sub(started).Seconds() / 60)
}
