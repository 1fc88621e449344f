package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/harrison/fleetd/internal/models"
)

// taskColumns is the column list used by all task queries, kept in one place
// so scans stay in sync.
const taskColumns = `id, task_id, name, type, assigned_device, map_id, start_zone, goal_zone, drop_zone,
	status, created_at, started_at, completed_at, actual_duration`

// taskUpdateColumns whitelists the columns UpdateTask may set.
var taskUpdateColumns = map[string]bool{
	"name":            true,
	"type":            true,
	"assigned_device": true,
	"map_id":          true,
	"start_zone":      true,
	"goal_zone":       true,
	"drop_zone":       true,
	"status":          true,
	"started_at":      true,
	"completed_at":    true,
	"actual_duration": true,
}

// CreateTask inserts a task record and returns its primary key.
func (s *Store) CreateTask(t *models.Task) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, fmt.Errorf("invalid task: %w", err)
	}
	if t.Status == "" {
		t.Status = models.StatusCreated
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	res, err := s.db.Exec(`
		INSERT INTO tasks (task_id, name, type, assigned_device, map_id, start_zone, goal_zone, drop_zone, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Name, string(t.Type), t.AssignedDevice, t.MapID, t.StartZone, t.GoalZone, t.DropZone,
		string(t.Status), formatTime(t.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}

	pk, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("task insert id: %w", err)
	}
	t.PK = pk
	return pk, nil
}

// GetTask fetches a task by primary key.
func (s *Store) GetTask(pk int64) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, pk)
	return scanTask(row)
}

// GetTaskByID fetches a task by its human task identifier.
func (s *Store) GetTaskByID(taskID string) (*models.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// ListTasks returns all task records ordered by creation.
func (s *Store) ListTasks() ([]models.Task, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByStatus returns tasks in the given status, ordered by creation.
func (s *Store) ListTasksByStatus(status models.TaskStatus) ([]models.Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByDevice returns all tasks bound to a device.
func (s *Store) ListTasksByDevice(deviceID string) ([]models.Task, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE assigned_device = ? ORDER BY id`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by device: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// UpdateTask sets the given columns on a task record. Unknown columns are
// rejected rather than silently ignored. Timestamp values may be passed as
// time.Time or *time.Time.
func (s *Store) UpdateTask(pk int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClause := ""
	args := make([]interface{}, 0, len(fields)+1)
	for col, val := range fields {
		if !taskUpdateColumns[col] {
			return fmt.Errorf("update task: column %q not updatable", col)
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += col + " = ?"
		args = append(args, normalizeValue(val))
	}
	args = append(args, pk)

	res, err := s.db.Exec("UPDATE tasks SET "+setClause+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update task %d: %w", pk, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %d: %w", pk, err)
	}
	if n == 0 {
		return fmt.Errorf("update task %d: %w", pk, sql.ErrNoRows)
	}
	return nil
}

// normalizeValue converts Go values into SQLite-friendly representations.
func normalizeValue(val interface{}) interface{} {
	switch v := val.(type) {
	case time.Time:
		return formatTime(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return formatTime(*v)
	case models.TaskStatus:
		return string(v)
	case models.TaskType:
		return string(v)
	default:
		return val
	}
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t         models.Task
		taskType  string
		status    string
		createdAt string
		startedAt sql.NullString
		doneAt    sql.NullString
	)
	err := row.Scan(&t.PK, &t.TaskID, &t.Name, &taskType, &t.AssignedDevice, &t.MapID,
		&t.StartZone, &t.GoalZone, &t.DropZone, &status, &createdAt, &startedAt, &doneAt, &t.ActualDuration)
	if err != nil {
		return nil, err
	}

	t.Type = models.TaskType(taskType)
	t.Status = models.ParseTaskStatus(status)
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if t.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if t.CompletedAt, err = parseNullTime(doneAt); err != nil {
		return nil, fmt.Errorf("parse completed_at: %w", err)
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]models.Task, error) {
	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
