package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"assemblyline/internal/assembly"
	"assemblyline/internal/fileutil"
	"assemblyline/internal/logging"
	"assemblyline/internal/services"
	"assemblyline/internal/storage"
)

// Input is a downloaded input object.
type Input struct {
	Path   string
	Name   string
	Object assembly.ObjectRef
	Upload assembly.Upload
}

// Output is where a job's artifacts are written.
type Output struct {
	Bucket string
	Prefix string
}

// Params carries everything NewStepContext needs.
type Params struct {
	AssemblyID string
	UploadID   string
	TemplateID string
	Inputs     []Input
	Output     Output
	ScratchDir string
	Fields     map[string]any
	User       *assembly.UserContext
	Store      storage.ObjectStore
	Logger     *slog.Logger
}

// StepContext is handed to every step of one job.
type StepContext struct {
	AssemblyID string
	UploadID   string
	TemplateID string
	Inputs     []Input
	Output     Output
	ScratchDir string
	Fields     map[string]any
	User       *assembly.UserContext
	Logger     *slog.Logger

	store storage.ObjectStore

	mu      sync.Mutex
	step    string
	results map[string][]assembly.Artifact
	values  map[string]any
}

// NewStepContext builds the context for one job.
func NewStepContext(p Params) *StepContext {
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &StepContext{
		AssemblyID: p.AssemblyID,
		UploadID:   p.UploadID,
		TemplateID: p.TemplateID,
		Inputs:     p.Inputs,
		Output:     p.Output,
		ScratchDir: p.ScratchDir,
		Fields:     p.Fields,
		User:       p.User,
		Logger:     logger,
		store:      p.Store,
		results:    map[string][]assembly.Artifact{},
		values:     map[string]any{},
	}
}

// EnterStep marks name as the running step. Artifacts uploaded afterwards are
// recorded under it.
func (c *StepContext) EnterStep(name string) {
	c.mu.Lock()
	c.step = name
	c.mu.Unlock()
}

// Step returns the running step name.
func (c *StepContext) Step() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// OutputKey derives the object key for an artifact name.
func (c *StepContext) OutputKey(name string) string {
	return path.Join(c.Output.Prefix, name)
}

// ScratchPath returns a path inside the job's scratch directory.
func (c *StepContext) ScratchPath(name string) string {
	return filepath.Join(c.ScratchDir, fileutil.SafeName(name))
}

// Upload stores a local file as an artifact of the running step.
func (c *StepContext) Upload(ctx context.Context, localPath, name string) (assembly.Artifact, error) {
	if c.store == nil {
		return assembly.Artifact{}, fmt.Errorf("upload %s: no object store configured", name)
	}
	if _, err := os.Stat(localPath); err != nil {
		return assembly.Artifact{}, fmt.Errorf("upload %s: %w", name, err)
	}
	sum, size, err := fileutil.HashFile(localPath)
	if err != nil {
		return assembly.Artifact{}, err
	}
	mime := fileutil.DetectMIME(localPath, "")
	key := c.OutputKey(name)
	info, err := c.store.Upload(ctx, c.Output.Bucket, key, localPath, mime)
	if err != nil {
		return assembly.Artifact{}, services.Wrap(services.ErrTransient, "step", "upload", name, err)
	}
	if info.Size > 0 {
		size = info.Size
	}
	artifact := assembly.Artifact{
		Name:   name,
		Bucket: c.Output.Bucket,
		Key:    key,
		Size:   size,
		MIME:   mime,
		SHA256: sum,
	}

	c.mu.Lock()
	step := c.step
	c.results[step] = append(c.results[step], artifact)
	c.mu.Unlock()

	c.Logger.Debug("artifact uploaded",
		logging.String(logging.FieldStep, step),
		logging.String(logging.FieldBucket, artifact.Bucket),
		logging.String(logging.FieldKey, artifact.Key),
		logging.Int64("size", artifact.Size),
	)
	return artifact, nil
}

// Progress publishes intra-step progress. Only step boundaries are persisted,
// so this is logged and otherwise dropped.
func (c *StepContext) Progress(pct int) {
	c.Logger.Debug("step progress", logging.String(logging.FieldStep, c.Step()), logging.Int("percent", pct))
}

// Set stores a value for later steps of the same job.
func (c *StepContext) Set(key string, value any) {
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Value returns a value stored by an earlier step.
func (c *StepContext) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Results returns a copy of the artifacts recorded so far, keyed by step.
func (c *StepContext) Results() map[string][]assembly.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]assembly.Artifact, len(c.results))
	for step, artifacts := range c.results {
		out[step] = append([]assembly.Artifact(nil), artifacts...)
	}
	return out
}

// ArtifactNames lists recorded artifact names, sorted. Used for logging.
func (c *StepContext) ArtifactNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, artifacts := range c.results {
		for _, a := range artifacts {
			names = append(names, a.Name)
		}
	}
	sort.Strings(names)
	return names
}
