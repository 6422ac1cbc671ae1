package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"assemblyline/internal/api"
	"assemblyline/internal/config"
	"assemblyline/internal/daemon"
	"assemblyline/internal/logging"
	"assemblyline/internal/preflight"
	"assemblyline/internal/reaper"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Logger replaces the configured logger. Used by tests.
	Logger *slog.Logger
	// Runtime replaces Open. Used by tests.
	Runtime *Runtime
	// Ready, when set, receives the API address once the daemon is running.
	Ready chan<- string
}

// Run starts the assemblyline daemon and blocks until cmdCtx is cancelled or
// the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := opts.Logger
	if logger == nil {
		switch {
		case opts.LogLevel != "":
			cfg.Logging.Level = opts.LogLevel
		case opts.Development:
			// Debug level also turns on source locations.
			cfg.Logging.Level = "debug"
		}
		var err error
		logger, err = logging.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	rt := opts.Runtime
	if rt == nil {
		var err error
		rt, err = Open(signalCtx, cfg, OpenOptions{Logger: logger, RequireQueue: true})
		if err != nil {
			logging.ErrorWithContext(logger, "open runtime", "runtime_open_failed", logging.Error(err))
			return err
		}
		defer rt.Close()
	}
	if rt.Queue == nil {
		return fmt.Errorf("daemon requires a queue connection")
	}

	logPreflight(logger, rt.Preflight(signalCtx))

	pidPath := filepath.Join(cfg.Paths.StateDir, "assemblyline.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	apiServer := api.New(cfg.API.Bind, api.Dependencies{
		Status:    rt.Status,
		Queue:     rt.Queue,
		Templates: rt.Templates,
		Events:    rt.Processor,
		Logger:    logger,
	})
	housekeeping := reaper.New(cfg, rt.Queue, rt.Status, logger)

	d, err := daemon.New(cfg, daemon.Dependencies{
		Queue:     rt.Queue,
		Processor: rt.Processor,
		Services:  []daemon.Service{apiServer, housekeeping},
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running instance and the api bind address"),
		)
		return err
	}
	defer d.Stop()

	logger.Info("assemblyline daemon ready",
		logging.String(logging.FieldEventType, "daemon_ready"),
		logging.String("worker_id", rt.Processor.WorkerID()),
		logging.String("api", apiServer.Addr()),
		logging.String("queue", rt.Queue.Name()),
	)
	if opts.Ready != nil {
		opts.Ready <- apiServer.Addr()
	}

	<-signalCtx.Done()
	logger.Info("assemblyline daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("optional", r.Optional),
			logging.String(logging.FieldImpact, "jobs depending on this check will fail"),
		)
	}
}

func writePIDFile(path string) error {
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
