package models

import "time"

// DeviceCommand is the latest command written to a device mailbox.
type DeviceCommand string

const (
	CommandNone    DeviceCommand = ""
	CommandRunTask DeviceCommand = "run_task"
)

// Recognized device status tokens. Comparison is case-insensitive; any other
// token is inert and leaves polling state unchanged.
const (
	DeviceStatusExecuting = "executing_task"
	DeviceStatusCompleted = "task_completed"
)

// Device represents an autonomous mobile robot known to the coordinator.
type Device struct {
	ID            string // Device identifier, also the mailbox file prefix
	Name          string
	MapID         string // Map the device operates on
	CurrentZone   string // Last synced location zone
	Direction     string // Facing direction: north, south, east, west
	BatteryLevel  float64
	ForwardSpeed  int // Speed parameter appended to F commands
	TurningSpeed  int // Speed parameter appended to PVTR/PVTL/SR/SL commands
	VerticalSpeed int // Lift speed for VMOV commands
	UpdatedAt     time.Time
}

// DeviceStatusRecord is the per-device mailbox snapshot: the latest command
// sent and the latest status the device reported. Last-writer-wins.
type DeviceStatusRecord struct {
	DeviceID           string
	LastCommand        DeviceCommand
	LastReportedStatus string
	UpdatedAt          time.Time
}
