package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Step is one unit of a template pipeline. Returning an error aborts the job.
type Step interface {
	Name() string
	Run(ctx context.Context, sc *StepContext) error
}

// HealthChecker is implemented by steps that depend on external tools.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, sc *StepContext) error
}

func (s StepFunc) Name() string { return s.StepName }

func (s StepFunc) Run(ctx context.Context, sc *StepContext) error {
	if s.Fn == nil {
		return nil
	}
	return s.Fn(ctx, sc)
}

// NewStep builds a Step from a name and function.
func NewStep(name string, fn func(ctx context.Context, sc *StepContext) error) Step {
	return StepFunc{StepName: name, Fn: fn}
}

// Webhook is a template's completion callback.
type Webhook struct {
	URL    string
	Secret string
}

// Template is an immutable, ordered step pipeline.
type Template struct {
	ID           string
	Description  string
	OutputBucket string
	Steps        []Step
	Webhook      *Webhook
}

// StepNames lists the step names in execution order.
func (t Template) StepNames() []string {
	names := make([]string, len(t.Steps))
	for i, s := range t.Steps {
		names[i] = s.Name()
	}
	return names
}

// Validate checks the template has an id and uniquely named steps.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("template id is required")
	}
	if len(t.Steps) == 0 {
		return fmt.Errorf("template %s has no steps", t.ID)
	}
	seen := make(map[string]struct{}, len(t.Steps))
	for i, s := range t.Steps {
		if s == nil || strings.TrimSpace(s.Name()) == "" {
			return fmt.Errorf("template %s: step %d has no name", t.ID, i)
		}
		if _, ok := seen[s.Name()]; ok {
			return fmt.Errorf("template %s: duplicate step %q", t.ID, s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	if t.Webhook != nil && strings.TrimSpace(t.Webhook.URL) == "" {
		return fmt.Errorf("template %s: webhook url is empty", t.ID)
	}
	return nil
}

// OutputPrefix derives the key prefix results are written under.
func OutputPrefix(branch, assemblyID, templateID, userID string) string {
	parts := make([]string, 0, 5)
	if userID = strings.TrimSpace(userID); userID != "" {
		parts = append(parts, "users", userID)
	}
	if branch = strings.Trim(branch, "/ "); branch != "" {
		parts = append(parts, branch)
	}
	parts = append(parts, assemblyID, templateID)
	return strings.Join(parts, "/")
}
