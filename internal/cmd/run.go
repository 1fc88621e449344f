package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/fleetd/internal/channel"
	"github.com/harrison/fleetd/internal/config"
	"github.com/harrison/fleetd/internal/dispatch"
	"github.com/harrison/fleetd/internal/locsync"
	"github.com/harrison/fleetd/internal/models"
	"github.com/harrison/fleetd/internal/planner"
	"github.com/harrison/fleetd/internal/store"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fleet coordinator",
		Long: `Run the fleet coordinator loop.

The coordinator picks up created tasks that have a device assigned,
dispatches each through the device's mailbox, and drives the handshake
and completion protocol. Device locations are refreshed from telemetry
on the configured interval.

Configuration is loaded from .fleetd/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  fleetd run
  fleetd run --data-dir /srv/amr --poll-interval 2s
  fleetd run --once            # Dispatch pending tasks and exit`,
		Args: cobra.NoArgs,
		RunE: runCommand,
	}

	cmd.Flags().String("data-dir", "", "Directory for device mailbox and telemetry files")
	cmd.Flags().String("db", "", "Path to the record store database")
	cmd.Flags().String("log-level", "", "Logging verbosity (trace, debug, info, warn, error)")
	cmd.Flags().Duration("poll-interval", 0, "Handshake and completion polling cadence")
	cmd.Flags().Duration("handshake-timeout", 0, "How long a device may take to acknowledge a task")
	cmd.Flags().Bool("once", false, "Dispatch pending tasks, wait for their handshakes, and exit")

	return cmd
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mergeRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg)

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	mailbox := channel.New(cfg.DataDir)
	plannerSvc := planner.NewService(s)
	client := newRemoteClient(cfg)

	d := dispatch.New(s, mailbox, plannerSvc, remoteSync(client), &dispatch.LogNotifier{Logger: log}, log, dispatch.Options{
		PollInterval:     cfg.PollInterval,
		HandshakeTimeout: cfg.HandshakeTimeout,
		OnTimeout:        cfg.OnTimeout,
	})
	defer d.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry := locsync.NewFileTelemetry(cfg.DataDir)
	var reporter locsync.LocationReporter
	if client != nil {
		reporter = client
	}
	sync := locsync.NewService(s, telemetry, reporter, log, cfg.LocationSyncInterval)
	go sync.Run(ctx)

	// Re-attach completion watchers to tasks that were running when a
	// previous coordinator stopped.
	if err := d.Resume(ctx); err != nil {
		return err
	}

	once, _ := cmd.Flags().GetBool("once")
	if once {
		dispatchPending(ctx, d, s, log)
		waitForHandshakes(ctx, d, cfg.PollInterval)
		return nil
	}

	log.Infof("fleet coordinator started (poll %s, handshake timeout %s)", cfg.PollInterval, cfg.HandshakeTimeout)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Infof("shutting down")
			return nil
		case <-ticker.C:
			dispatchPending(ctx, d, s, log)
		}
	}
}

// dispatchPending starts every created task that has a device assigned.
// Precondition rejections are expected while devices are busy and are only
// logged at debug level.
func dispatchPending(ctx context.Context, d *dispatch.Dispatcher, s *store.Store, log dispatch.Logger) {
	tasks, err := s.ListTasksByStatus(models.StatusCreated)
	if err != nil {
		log.Errorf("list pending tasks: %v", err)
		return
	}
	for i := range tasks {
		task := tasks[i]
		if task.AssignedDevice == "" {
			continue
		}
		if err := d.Start(ctx, &task); err != nil {
			if dispatch.IsPrecondition(err) {
				log.Debugf("task %s not started: %v", task.TaskID, err)
				continue
			}
			log.Errorf("start task %s: %v", task.TaskID, err)
		} else {
			log.Infof("dispatched task %s to %s", task.TaskID, task.AssignedDevice)
		}
	}
}

// waitForHandshakes blocks until every outstanding handshake has resolved,
// so a one-shot run does not cancel the polls it just started.
func waitForHandshakes(ctx context.Context, d *dispatch.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for d.ActiveHandshakes() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// mergeRunFlags folds explicitly set run flags into the config. Unset flags
// leave the file and default values alone.
func mergeRunFlags(cmd *cobra.Command, cfg *config.Config) {
	var dataDir, dbPath, logLevel *string
	var pollInterval, handshakeTimeout *time.Duration

	if cmd.Flags().Changed("data-dir") {
		v, _ := cmd.Flags().GetString("data-dir")
		dataDir = &v
	}
	if cmd.Flags().Changed("db") {
		v, _ := cmd.Flags().GetString("db")
		dbPath = &v
	}
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevel = &v
	}
	if cmd.Flags().Changed("poll-interval") {
		v, _ := cmd.Flags().GetDuration("poll-interval")
		pollInterval = &v
	}
	if cmd.Flags().Changed("handshake-timeout") {
		v, _ := cmd.Flags().GetDuration("handshake-timeout")
		handshakeTimeout = &v
	}

	cfg.MergeWithFlags(dataDir, dbPath, logLevel, pollInterval, handshakeTimeout)
}
