package processor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"assemblyline/internal/assembly"
	"assemblyline/internal/bridge"
	"assemblyline/internal/config"
	"assemblyline/internal/ingest"
	"assemblyline/internal/logging"
	"assemblyline/internal/pipeline"
	"assemblyline/internal/services"
	"assemblyline/internal/status"
	"assemblyline/internal/storage"
	"assemblyline/internal/webhook"
)

// StatusStore is the status surface the processor writes through.
type StatusStore interface {
	Get(ctx context.Context, id string) (*assembly.Assembly, error)
	Begin(ctx context.Context, id string, start status.Start, owner string, ttl time.Duration) error
	Update(ctx context.Context, id string, patch status.Patch) error
}

// TemplateResolver resolves template ids.
type TemplateResolver interface {
	Resolve(id string) (pipeline.Template, error)
}

// Grouper turns notifications into jobs.
type Grouper interface {
	Group(ctx context.Context, objects []ingest.ObjectCreated) ingest.Grouping
}

// Enqueuer hands jobs to the durable queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs []assembly.Job) bridge.Report
}

// Dependencies are the collaborators injected into a Processor. Grouper and
// Bridge are only needed to handle raw notifications.
type Dependencies struct {
	Objects   storage.ObjectStore
	Status    StatusStore
	Templates TemplateResolver
	Notifier  webhook.Notifier
	Grouper   Grouper
	Bridge    Enqueuer
	Logger    *slog.Logger
}

// Option customizes a Processor.
type Option func(*Processor)

// WithWorkerID fixes the worker id that prefixes every claim token.
func WithWorkerID(id string) Option {
	return func(p *Processor) { p.workerID = id }
}

// WithClock overrides the time source used for durations and leases.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// Processor runs queue batches and individual jobs.
type Processor struct {
	objects   storage.ObjectStore
	status    StatusStore
	templates TemplateResolver
	notifier  webhook.Notifier
	grouper   Grouper
	bridge    Enqueuer
	logger    *slog.Logger

	allowed        mapset.Set[string]
	tempBucket     string
	outputBucket   string
	scratchRoot    string
	width          int
	claimTTL       time.Duration
	webhookRetries int
	workerID       string
	now            func() time.Time
}

// New wires a Processor from configuration and collaborators.
func New(cfg *config.Config, deps Dependencies, opts ...Option) (*Processor, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "processor", "init", "config is required", nil)
	}
	if deps.Objects == nil || deps.Status == nil || deps.Templates == nil {
		return nil, services.Wrap(services.ErrConfiguration, "processor", "init", "object store, status store and templates are required", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = webhook.NewNoop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	width := cfg.Processor.MaxConcurrency
	if width <= 0 {
		width = 1
	}
	p := &Processor{
		objects:        deps.Objects,
		status:         deps.Status,
		templates:      deps.Templates,
		notifier:       deps.Notifier,
		grouper:        deps.Grouper,
		bridge:         deps.Bridge,
		logger:         logging.NewComponentLogger(logger, "processor"),
		allowed:        mapset.NewSet(cfg.Storage.AllowedBuckets...),
		tempBucket:     cfg.Storage.TempBucket,
		outputBucket:   cfg.Storage.OutputBucket,
		scratchRoot:    cfg.Paths.ScratchDir,
		width:          width,
		claimTTL:       cfg.ClaimTTL(),
		webhookRetries: cfg.Webhook.MaxRetries,
		workerID:       defaultWorkerID(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// WorkerID identifies this processor. Claim tokens are WorkerID followed by
// a per-attempt suffix.
func (p *Processor) WorkerID() string { return p.workerID }

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
