package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"assemblyline/internal/config"
	"assemblyline/internal/logging"
	"assemblyline/internal/processor"
	"assemblyline/internal/queue"
)

const ackTimeout = 10 * time.Second

// Consumer is the queue surface the consumer loop needs.
type Consumer interface {
	Receive(ctx context.Context, max int) ([]queue.Delivery, error)
	Ack(ctx context.Context, id string) (bool, error)
}

// BatchProcessor processes one received batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msgs []processor.Message) processor.BatchReport
}

// Service is an auxiliary component whose lifecycle follows the daemon.
type Service interface {
	Start(ctx context.Context) error
	Stop()
}

// Dependencies are the collaborators of a Daemon. Services are started in
// order and stopped in reverse.
type Dependencies struct {
	Queue     Consumer
	Processor BatchProcessor
	Services  []Service
	Logger    *slog.Logger
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	Batches      int64
	Acked        int64
	Unacked      int64
	LastError    string
}

// Daemon runs the queue consumer and auxiliary services under a single-instance
// lock.
type Daemon struct {
	consumer     Consumer
	processor    BatchProcessor
	services     []Service
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started []Service

	batches   atomic.Int64
	acked     atomic.Int64
	unacked   atomic.Int64
	lastError atomic.Value
}

// New constructs a daemon.
func New(cfg *config.Config, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Queue == nil || deps.Processor == nil {
		return nil, errors.New("daemon requires config, queue, and processor")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	batch := cfg.Queue.ReceiveBatchSize
	if batch <= 0 {
		batch = queue.MaxBatchSize
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		consumer:     deps.Queue,
		processor:    deps.Processor,
		services:     deps.Services,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		batchSize:    batch,
		pollInterval: cfg.PollInterval(),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, starts auxiliary services and launches the
// consumer loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another assemblyline daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, svc := range d.services {
		if err := svc.Start(runCtx); err != nil {
			cancel()
			stopAll(d.started)
			d.started = nil
			_ = d.lock.Unlock()
			return fmt.Errorf("start service: %w", err)
		}
		d.started = append(d.started, svc)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.wg.Add(1)
	go d.run(runCtx)

	d.logger.Info("assemblyline daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("batch_size", d.batchSize),
	)
	return nil
}

// Stop halts the consumer loop, waits for the in-flight batch, stops services
// and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	stopAll(d.started)
	d.started = nil
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("assemblyline daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Status reports runtime counters.
func (d *Daemon) Status() Status {
	st := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Batches:      d.batches.Load(),
		Acked:        d.acked.Load(),
		Unacked:      d.unacked.Load(),
	}
	if v, ok := d.lastError.Load().(string); ok {
		st.LastError = v
	}
	return st
}

// Poll runs one receive, process, acknowledge cycle and returns the number of
// messages received.
func (d *Daemon) Poll(ctx context.Context) (int, error) {
	deliveries, err := d.consumer.Receive(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(deliveries) == 0 {
		return 0, nil
	}
	msgs := make([]processor.Message, len(deliveries))
	for i, dlv := range deliveries {
		msgs[i] = processor.Message{ID: dlv.ID, Body: dlv.Body}
	}
	report := d.processor.ProcessBatch(ctx, msgs)
	d.batches.Add(1)

	// Acks outlive shutdown so finished work is not redelivered.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()
	for _, res := range report.Results {
		if !res.Ack() {
			d.unacked.Add(1)
			continue
		}
		if _, err := d.consumer.Ack(ackCtx, res.MessageID); err != nil {
			d.unacked.Add(1)
			logging.WarnWithContext(d.logger, "queue ack failed", "queue_ack_failed",
				logging.String("message_id", res.MessageID),
				logging.String(logging.FieldAssemblyID, res.AssemblyID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "message will be redelivered after its visibility timeout"),
			)
			continue
		}
		d.acked.Add(1)
	}
	return len(deliveries), nil
}

func (d *Daemon) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := d.Poll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			d.lastError.Store(err.Error())
			logging.ErrorWithContext(d.logger, "failed to receive queue batch", "queue_receive_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check redis connectivity"),
			)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.pollInterval):
		}
	}
}

func stopAll(services []Service) {
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}
}
