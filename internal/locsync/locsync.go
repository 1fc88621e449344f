// Package locsync keeps device location records current. Devices report
// their position through per-device telemetry files; the sync loop folds the
// latest reading into the record store and optionally mirrors it to the
// fleet service.
package locsync

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/fleetd/internal/models"
)

// Logger is the logging surface the sync loop needs.
type Logger interface {
	Debugf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// DeviceStore is the record-store surface the sync loop consumes.
type DeviceStore interface {
	ListDevices() ([]models.Device, error)
	UpdateDeviceLocation(id, zone, direction string, at time.Time) error
}

// TelemetrySource yields a device's most recent reported position.
type TelemetrySource interface {
	LastLocation(deviceID string) (zone, direction string, err error)
}

// LocationReporter mirrors a position to the fleet service.
type LocationReporter interface {
	ReportLocation(ctx context.Context, deviceID, zone, direction string) error
}

// Stats summarizes the most recent sync cycle.
type Stats struct {
	LastRun time.Time
	Synced  int
	Skipped int
	Errors  int
}

// Service runs the periodic location sync.
type Service struct {
	store     DeviceStore
	telemetry TelemetrySource
	reporter  LocationReporter // may be nil
	logger    Logger
	interval  time.Duration

	mu    sync.Mutex
	stats Stats

	now func() time.Time
}

// NewService creates a sync Service. reporter may be nil when remote sync is
// disabled.
func NewService(store DeviceStore, telemetry TelemetrySource, reporter LocationReporter, logger Logger, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Service{
		store:     store,
		telemetry: telemetry,
		reporter:  reporter,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
	}
}

// Run syncs immediately, then on every interval tick until the context is
// canceled.
func (s *Service) Run(ctx context.Context) {
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sync cycle over all known devices. Per-device
// failures are counted and logged; the cycle always completes.
func (s *Service) RunOnce(ctx context.Context) Stats {
	stats := Stats{LastRun: s.now()}

	devices, err := s.store.ListDevices()
	if err != nil {
		s.warnf("location sync: list devices: %v", err)
		stats.Errors++
		s.setStats(stats)
		return stats
	}

	for _, device := range devices {
		zone, direction, err := s.telemetry.LastLocation(device.ID)
		if err != nil {
			s.warnf("location sync: read telemetry for %s: %v", device.ID, err)
			stats.Errors++
			continue
		}
		if zone == "" {
			stats.Skipped++
			continue
		}
		if zone == device.CurrentZone && direction == device.Direction {
			stats.Skipped++
			continue
		}

		if err := s.store.UpdateDeviceLocation(device.ID, zone, direction, stats.LastRun); err != nil {
			s.warnf("location sync: update %s: %v", device.ID, err)
			stats.Errors++
			continue
		}
		if s.logger != nil {
			s.logger.Debugf("location sync: %s now at %s facing %s", device.ID, zone, direction)
		}
		stats.Synced++

		if s.reporter != nil {
			if err := s.reporter.ReportLocation(ctx, device.ID, zone, direction); err != nil {
				s.warnf("location sync: report %s upstream: %v", device.ID, err)
			}
		}
	}

	s.setStats(stats)
	return stats
}

// Stats returns the most recent cycle's summary.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) setStats(stats Stats) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

func (s *Service) warnf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warnf(format, args...)
	}
}

// FileTelemetry reads device positions from per-device CSV files in the
// data directory. Each device appends rows of zone,direction; the last row
// is the current position.
type FileTelemetry struct {
	dataDir string
}

// NewFileTelemetry creates a FileTelemetry rooted at dataDir.
func NewFileTelemetry(dataDir string) *FileTelemetry {
	return &FileTelemetry{dataDir: dataDir}
}

// LastLocation returns the latest position for a device. A missing
// telemetry file is not an error: the device simply has not reported yet.
func (t *FileTelemetry) LastLocation(deviceID string) (string, string, error) {
	path := filepath.Join(t.dataDir, deviceID+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("open telemetry for %s: %w", deviceID, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var zone, direction string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", fmt.Errorf("read telemetry for %s: %w", deviceID, err)
		}
		if len(record) < 2 {
			continue
		}
		z := strings.TrimSpace(record[0])
		if z == "" || strings.EqualFold(z, "zone") {
			continue
		}
		zone = z
		direction = strings.ToLower(strings.TrimSpace(record[1]))
	}
	return zone, direction, nil
}
