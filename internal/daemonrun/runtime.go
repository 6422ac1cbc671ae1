package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"assemblyline/internal/bridge"
	"assemblyline/internal/config"
	"assemblyline/internal/ingest"
	"assemblyline/internal/logging"
	"assemblyline/internal/preflight"
	"assemblyline/internal/processor"
	"assemblyline/internal/queue"
	"assemblyline/internal/status"
	"assemblyline/internal/storage"
	"assemblyline/internal/templates"
	"assemblyline/internal/webhook"
)

// Runtime holds the wired collaborators shared by the daemon and the CLI.
type Runtime struct {
	Config    *config.Config
	Logger    *slog.Logger
	Status    *status.Store
	Objects   storage.ObjectStore
	Queue     *queue.Queue
	Templates *templates.Resolver
	Processor *processor.Processor

	queueErr   error
	objectsErr error
}

// OpenOptions customizes Open.
type OpenOptions struct {
	Logger *slog.Logger
	// Objects replaces the configured storage backend.
	Objects storage.ObjectStore
	// Queue replaces the configured Redis connection.
	Queue *queue.Queue
	// RequireQueue fails Open when Redis is unreachable. Without it the
	// runtime is still usable for inline processing and status reads.
	RequireQueue bool
}

// Open connects every collaborator named in cfg and wires the processor.
func Open(ctx context.Context, cfg *config.Config, opts OpenOptions) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Logger: logger}
	store, err := status.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open status store: %w", err)
	}
	rt.Status = store

	rt.Objects = opts.Objects
	if rt.Objects == nil {
		rt.Objects, rt.objectsErr = storage.Open(ctx, cfg)
		if rt.objectsErr != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("open object storage: %w", rt.objectsErr)
		}
	}

	rt.Queue = opts.Queue
	if rt.Queue == nil {
		rt.Queue, rt.queueErr = queue.Open(ctx, cfg)
		if rt.queueErr != nil {
			if opts.RequireQueue {
				_ = rt.Close()
				return nil, fmt.Errorf("open queue: %w", rt.queueErr)
			}
			logging.WarnWithContext(logger, "queue unavailable", "queue_unavailable",
				logging.Error(rt.queueErr),
				logging.String(logging.FieldImpact, "notifications cannot be enqueued"),
				logging.String(logging.FieldErrorHint, "check queue.redis_addr"),
			)
		}
	}

	rt.Templates, err = templates.Load(cfg)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	deps := processor.Dependencies{
		Objects:   rt.Objects,
		Status:    rt.Status,
		Templates: rt.Templates,
		Notifier:  webhook.New(cfg, logger),
		Grouper:   ingest.NewGrouper(rt.Objects, cfg.Queue.DefaultBranch, logger),
		Logger:    logger,
	}
	if rt.Queue != nil {
		deps.Bridge = bridge.New(rt.Queue, cfg.Queue.SendBatchSize, cfg.Queue.DefaultBranch, logger)
	}
	rt.Processor, err = processor.New(cfg, deps)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

// Preflight runs every readiness check against the live collaborators.
func (rt *Runtime) Preflight(ctx context.Context) []preflight.Result {
	probes := preflight.Probes{
		Status:     rt.Status,
		ObjectsErr: rt.objectsErr,
		QueueErr:   rt.queueErr,
	}
	if rt.Objects != nil {
		probes.Objects = rt.Objects
	}
	if rt.Queue != nil {
		probes.Queue = rt.Queue
	}
	return preflight.RunAll(ctx, rt.Config, probes)
}

// Close releases every opened collaborator.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Queue != nil {
		errs = append(errs, rt.Queue.Close())
	}
	if closer, ok := rt.Objects.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if rt.Status != nil {
		errs = append(errs, rt.Status.Close())
	}
	return errors.Join(errs...)
}
