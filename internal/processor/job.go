package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"assemblyline/internal/assembly"
	"assemblyline/internal/fileutil"
	"assemblyline/internal/logging"
	"assemblyline/internal/pipeline"
	"assemblyline/internal/services"
	"assemblyline/internal/status"
)

// attempt carries the state of one ProcessJob call.
type attempt struct {
	job assembly.Job
	// owner is the claim token of this attempt. Concurrent attempts in one
	// worker never share it.
	owner    string
	logger   *slog.Logger
	scratch  string
	template *pipeline.Template
	inputs   []pipeline.Input
}

// ProcessJob runs one job to a terminal state, or reports why it did not.
func (p *Processor) ProcessJob(ctx context.Context, job assembly.Job) Result {
	ctx = services.WithAssemblyID(ctx, job.AssemblyID)
	a := &attempt{
		job:    job,
		owner:  p.workerID + "/" + uuid.NewString(),
		logger: logging.WithContext(ctx, p.logger),
	}
	a.logger = a.logger.With(logging.String(logging.FieldTemplateID, job.TemplateID))

	scratch, err := os.MkdirTemp(p.scratchRoot, "assembly-"+fileutil.SafeName(job.AssemblyID)+"-")
	if err != nil {
		return p.retry(a, services.Wrap(services.ErrTransient, "processor", "scratch", p.scratchRoot, err))
	}
	a.scratch = scratch
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			a.logger.Warn("scratch cleanup failed", logging.String("path", scratch), logging.Error(err))
		}
	}()

	if err := job.Validate(); err != nil {
		return p.reject(ctx, a, services.Wrap(services.ErrValidation, "processor", "validate", "", err))
	}
	if err := p.checkBuckets(job); err != nil {
		return p.reject(ctx, a, err)
	}

	existing, err := p.status.Get(ctx, job.AssemblyID)
	switch {
	case err == nil && existing.Terminal():
		a.logger.Info("assembly already finished; ignoring redelivery", logging.String("state", string(existing.State())))
		return Result{AssemblyID: job.AssemblyID, Outcome: OutcomeSkipped}
	case err != nil && !errors.Is(err, services.ErrNotFound):
		return p.retry(a, err)
	}

	tpl, err := p.templates.Resolve(job.TemplateID)
	if err != nil {
		return p.failBeforeStart(ctx, a, err)
	}
	a.template = &tpl

	uploads, expected, received, err := p.download(ctx, a)
	if err != nil {
		if services.Retryable(err) {
			return p.retry(a, err)
		}
		return p.failBeforeStart(ctx, a, err)
	}

	userID := ""
	if job.User != nil {
		userID = job.User.ID
	}
	started := p.now()
	err = p.status.Begin(ctx, job.AssemblyID, status.Start{
		TemplateID:    job.TemplateID,
		Branch:        job.Branch,
		UploadID:      job.UploadID,
		UserID:        userID,
		Uploads:       uploads,
		BytesExpected: expected,
		BytesReceived: received,
		StepsTotal:    len(tpl.Steps),
		StartedAt:     started,
	}, a.owner, p.claimTTL)
	if res, done := p.claimOutcome(a, err); done {
		return res
	}

	outputBucket := tpl.OutputBucket
	if outputBucket == "" {
		outputBucket = p.outputBucket
	}
	sc := pipeline.NewStepContext(pipeline.Params{
		AssemblyID: job.AssemblyID,
		UploadID:   job.UploadID,
		TemplateID: job.TemplateID,
		Inputs:     a.inputs,
		Output: pipeline.Output{
			Bucket: outputBucket,
			Prefix: pipeline.OutputPrefix(job.Branch, job.AssemblyID, job.TemplateID, userID),
		},
		ScratchDir: scratch,
		Fields:     job.Fields,
		User:       job.User,
		Store:      p.objects,
		Logger:     a.logger,
	})

	a.logger.Info("processing started",
		logging.Int("steps", len(tpl.Steps)),
		logging.Int("inputs", len(a.inputs)),
		logging.Int64("bytes", received),
		logging.String(logging.FieldBucket, outputBucket),
	)

	stepErr := p.runSteps(ctx, a, sc)
	if stepErr != nil && (errors.Is(stepErr, status.ErrClaimed) || errors.Is(stepErr, status.ErrTerminal)) {
		a.logger.Warn("claim lost during processing; abandoning attempt", logging.Error(stepErr))
		return Result{AssemblyID: job.AssemblyID, Outcome: OutcomeSkipped, Err: stepErr}
	}
	if stepErr != nil && ctx.Err() != nil {
		return p.retry(a, services.Wrap(services.ErrTransient, "processor", "run", "interrupted", stepErr))
	}

	duration := p.now().Sub(started).Seconds()
	patch := status.Patch{
		Owner:             a.owner,
		ProgressPct:       status.Ptr(100),
		ExecutionDuration: status.Ptr(duration),
	}
	outcome := OutcomeCompleted
	if stepErr == nil {
		patch.Message = status.Ptr(assembly.MessageCompleted)
		patch.OK = assembly.Completed
		patch.Results = sc.Results()
		patch.StepsCompleted = status.Ptr(len(tpl.Steps))
	} else {
		outcome = OutcomeFailed
		patch.Message = status.Ptr(assembly.MessageFailed)
		patch.Error = failure(stepErr)
	}
	if err := p.status.Update(ctx, job.AssemblyID, patch); err != nil {
		return p.terminalWriteFailed(a, err)
	}

	if outcome == OutcomeCompleted {
		a.logger.Info("processing completed",
			logging.Float64("duration_seconds", duration),
			logging.Any("artifacts", sc.ArtifactNames()),
		)
	} else {
		logging.ErrorWithContext(a.logger, "processing failed", "assembly_failed",
			logging.String("error_kind", patch.Error.Kind),
			logging.Error(stepErr),
		)
	}

	p.cleanupInputs(ctx, a)
	p.notify(ctx, a)
	return Result{AssemblyID: job.AssemblyID, Outcome: outcome, Err: stepErr}
}

// runSteps executes the template in order, recording progress at each step
// boundary. It returns the first step error.
func (p *Processor) runSteps(ctx context.Context, a *attempt, sc *pipeline.StepContext) error {
	steps := a.template.Steps
	total := len(steps)
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := step.Name()
		if err := p.progress(ctx, a, status.Patch{
			StepsCompleted:  status.Ptr(i),
			CurrentStep:     status.Ptr(i),
			CurrentStepName: status.Ptr(name),
			ProgressPct:     status.Ptr(assembly.Progress(i, total)),
		}); err != nil {
			return err
		}

		sc.EnterStep(name)
		stepCtx := services.WithStep(ctx, name)
		stepLogger := logging.WithContext(stepCtx, a.logger)
		stepLogger.Debug("step started", logging.Int("index", i), logging.Int("total", total))
		if err := step.Run(stepCtx, sc); err != nil {
			return fmt.Errorf("step %s: %w", name, err)
		}
		stepLogger.Debug("step finished", logging.Int("index", i))

		if err := p.progress(ctx, a, status.Patch{
			StepsCompleted: status.Ptr(i + 1),
			ProgressPct:    status.Ptr(assembly.Progress(i+1, total)),
		}); err != nil {
			return err
		}
	}
	return nil
}

// progress writes a step-boundary patch and renews the claim. Losing the
// claim aborts the attempt; other write failures are logged and tolerated.
func (p *Processor) progress(ctx context.Context, a *attempt, patch status.Patch) error {
	patch.Owner = a.owner
	patch.LeaseUntil = status.Ptr(p.now().Add(p.claimTTL))
	err := p.status.Update(ctx, a.job.AssemblyID, patch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, status.ErrClaimed), errors.Is(err, status.ErrTerminal):
		return err
	default:
		a.logger.Warn("progress update failed", logging.Error(err))
		return nil
	}
}

// download fetches every input into the scratch directory and builds the
// uploads ledger.
func (p *Processor) download(ctx context.Context, a *attempt) ([]assembly.Upload, int64, int64, error) {
	uploads := make([]assembly.Upload, 0, len(a.job.Inputs))
	used := make(map[string]struct{}, len(a.job.Inputs))
	var expected, received int64
	sizesKnown := true
	for i, ref := range a.job.Inputs {
		name := fileutil.SafeName(ref.Key)
		if _, dup := used[name]; dup {
			name = fmt.Sprintf("%d-%s", i, name)
		}
		used[name] = struct{}{}
		dst := filepath.Join(a.scratch, name)

		n, err := p.objects.Download(ctx, ref.Bucket, ref.Key, dst)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return nil, 0, 0, services.Wrap(services.ErrValidation, "processor", "download", ref.Bucket+"/"+ref.Key+" does not exist", err)
			}
			return nil, 0, 0, err
		}
		sum, size, err := fileutil.HashFile(dst)
		if err != nil {
			return nil, 0, 0, services.Wrap(services.ErrTransient, "processor", "hash", name, err)
		}
		if n == 0 {
			n = size
		}
		upload := assembly.Upload{
			ID:       fmt.Sprintf("%s-%d", a.job.UploadID, i),
			Name:     name,
			Bucket:   ref.Bucket,
			Key:      ref.Key,
			Size:     size,
			MIME:     fileutil.DetectMIME(dst, ref.ContentType),
			SHA256:   sum,
			Received: n,
		}
		uploads = append(uploads, upload)
		a.inputs = append(a.inputs, pipeline.Input{Path: dst, Name: name, Object: ref, Upload: upload})
		received += n
		if ref.Size > 0 {
			expected += ref.Size
		} else {
			sizesKnown = false
		}
		a.logger.Debug("input downloaded",
			logging.String(logging.FieldBucket, ref.Bucket),
			logging.String(logging.FieldKey, ref.Key),
			logging.Int64("size", size),
			logging.String("mime", upload.MIME),
		)
	}
	if !sizesKnown {
		expected = received
	}
	return uploads, expected, received, nil
}

// checkBuckets enforces the input bucket allow-list.
func (p *Processor) checkBuckets(job assembly.Job) error {
	for _, ref := range job.Inputs {
		if !p.allowed.Contains(ref.Bucket) {
			return services.Wrap(services.ErrValidation, "processor", "allow-list",
				fmt.Sprintf("input bucket %q is not allowed", ref.Bucket), nil)
		}
	}
	return nil
}

// failBeforeStart records a terminal error for a job that could not reach
// its first step, then runs the usual cleanup and notification.
func (p *Processor) failBeforeStart(ctx context.Context, a *attempt, cause error) Result {
	steps := 0
	if a.template != nil {
		steps = len(a.template.Steps)
	}
	userID := ""
	if a.job.User != nil {
		userID = a.job.User.ID
	}
	err := p.status.Begin(ctx, a.job.AssemblyID, status.Start{
		TemplateID: a.job.TemplateID,
		Branch:     a.job.Branch,
		UploadID:   a.job.UploadID,
		UserID:     userID,
		StepsTotal: steps,
	}, a.owner, p.claimTTL)
	if res, done := p.claimOutcome(a, err); done {
		return res
	}

	fail := failure(cause)
	err = p.status.Update(ctx, a.job.AssemblyID, status.Patch{
		Owner:       a.owner,
		Message:     status.Ptr(assembly.MessageFailed),
		ProgressPct: status.Ptr(100),
		Error:       fail,
	})
	if err != nil {
		return p.terminalWriteFailed(a, err)
	}
	logging.ErrorWithContext(a.logger, "processing failed before first step", "assembly_failed",
		logging.String("error_kind", fail.Kind),
		logging.Error(cause),
	)
	p.cleanupInputs(ctx, a)
	p.notify(ctx, a)
	return Result{AssemblyID: a.job.AssemblyID, Outcome: OutcomeFailed, Err: cause}
}

// claimOutcome maps a Begin error onto a finished Result.
func (p *Processor) claimOutcome(a *attempt, err error) (Result, bool) {
	switch {
	case err == nil:
		return Result{}, false
	case errors.Is(err, status.ErrTerminal):
		a.logger.Info("assembly already finished; ignoring redelivery")
		return Result{AssemblyID: a.job.AssemblyID, Outcome: OutcomeSkipped}, true
	case errors.Is(err, status.ErrClaimed):
		a.logger.Info("assembly claimed by another worker; leaving message for redelivery")
		return Result{AssemblyID: a.job.AssemblyID, Outcome: OutcomeRetry, Err: err}, true
	default:
		return p.retry(a, err), true
	}
}

// reject drops a job that failed validation. No status record is written,
// but inputs in the temp bucket are still deleted.
func (p *Processor) reject(ctx context.Context, a *attempt, err error) Result {
	logging.WarnWithContext(a.logger, "job rejected", "job_rejected",
		logging.Error(err),
		logging.String(logging.FieldImpact, "job dropped without a status record"),
		logging.String(logging.FieldErrorHint, "check storage.allowed_buckets and the job payload"),
	)
	p.cleanupInputs(ctx, a)
	return Result{AssemblyID: a.job.AssemblyID, Outcome: OutcomeRejected, Err: err}
}

func (p *Processor) retry(a *attempt, err error) Result {
	logging.WarnWithContext(a.logger, "transient failure; leaving job for redelivery", "job_retry",
		logging.Error(err),
		logging.String(logging.FieldImpact, "job will be retried after the visibility timeout"),
	)
	return Result{AssemblyID: a.job.AssemblyID, Outcome: OutcomeRetry, Err: err}
}

// terminalWriteFailed handles a failed terminal write. Inputs are kept so the
// redelivered message can run again.
func (p *Processor) terminalWriteFailed(a *attempt, err error) Result {
	if errors.Is(err, status.ErrTerminal) || errors.Is(err, status.ErrClaimed) {
		a.logger.Warn("terminal write rejected; another attempt owns the assembly", logging.Error(err))
		return Result{AssemblyID: a.job.AssemblyID, Outcome: OutcomeSkipped, Err: err}
	}
	return p.retry(a, err)
}

func failure(err error) *assembly.Failure {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = "processing failed"
	}
	return &assembly.Failure{Kind: services.Kind(err), Message: message}
}
