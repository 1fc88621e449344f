// Package channel implements the per-device mailbox used to exchange
// commands and status tokens with robots.
//
// Each device owns two files under the data directory:
//
//	<device>_task.csv    append-only rows of (task_id, task_status); the
//	                     latest row for a task is its current status
//	<device>_command.csv the full movement-command program for the
//	                     device's current task, replaced atomically
//
// Writes are best-effort: a device may pick up a command late or not at all,
// so callers must never assume delivery.
package channel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Mailbox coordinates file-based command/status exchange with devices.
type Mailbox struct {
	dataDir string
}

// New creates a Mailbox rooted at dataDir. The directory is created on first
// write, not here.
func New(dataDir string) *Mailbox {
	return &Mailbox{dataDir: dataDir}
}

// taskFile returns the status mailbox path for a device.
func (m *Mailbox) taskFile(deviceID string) string {
	return filepath.Join(m.dataDir, deviceID+"_task.csv")
}

// commandFile returns the movement-command file path for a device.
func (m *Mailbox) commandFile(deviceID string) string {
	return filepath.Join(m.dataDir, deviceID+"_command.csv")
}

// lockFile returns the flock path guarding a device's mailbox files.
func (m *Mailbox) lockFile(deviceID string) string {
	return filepath.Join(m.dataDir, deviceID+".lock")
}

// Write appends a status row for (task, status) to the device's mailbox.
// Overwrite semantics: readers only ever see the latest row per task, so an
// append supersedes everything before it. No acknowledgment is implied.
func (m *Mailbox) Write(deviceID, taskID, status string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if err := os.MkdirAll(m.dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(m.lockFile(deviceID))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock mailbox for %s: %w", deviceID, err)
	}
	defer lock.Unlock()

	path := m.taskFile(deviceID)
	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open mailbox for %s: %w", deviceID, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write([]string{"task_id", "task_status"}); err != nil {
			return fmt.Errorf("write mailbox header: %w", err)
		}
	}
	if err := w.Write([]string{taskID, status}); err != nil {
		return fmt.Errorf("write mailbox row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush mailbox for %s: %w", deviceID, err)
	}
	return nil
}

// Read returns the most recent status token reported for (device, task), or
// an empty string if none exists. A missing mailbox file is not an error.
func (m *Mailbox) Read(deviceID, taskID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device id is required")
	}

	path := m.taskFile(deviceID)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open mailbox for %s: %w", deviceID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read mailbox for %s: %w", deviceID, err)
	}

	latest := ""
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == "task_id" {
			continue
		}
		if len(rec) < 2 {
			continue
		}
		if rec[0] == taskID {
			latest = rec[1]
		}
	}
	return latest, nil
}

// WriteCommands replaces the device's movement-command file with the given
// rows. The write is atomic so the device never observes a partial program.
func (m *Mailbox) WriteCommands(deviceID string, rows [][]string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	for _, row := range rows {
		if len(row) == 0 {
			// Blank separator line between command sections.
			sb.WriteString("\n")
			continue
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("encode command row: %w", err)
		}
		w.Flush()
	}
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode commands for %s: %w", deviceID, err)
	}

	if err := atomicWrite(m.commandFile(deviceID), []byte(sb.String())); err != nil {
		return fmt.Errorf("write commands for %s: %w", deviceID, err)
	}
	return nil
}

// StatusMatches reports whether a raw device status token equals the expected
// one. Tokens are compared case-insensitively with surrounding space ignored.
func StatusMatches(raw, expected string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), expected)
}
