package assembly

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ObjectRef identifies an input object in storage.
type ObjectRef struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Size        int64  `json:"size,omitempty"`
	ETag        string `json:"etag,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// UserContext is a pass-through caller identity used to namespace outputs.
type UserContext struct {
	ID          string   `json:"id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Job is the unit of work enqueued for the processor.
type Job struct {
	AssemblyID string         `json:"assemblyId"`
	UploadID   string         `json:"uploadId"`
	TemplateID string         `json:"templateId"`
	Inputs     []ObjectRef    `json:"inputs"`
	Branch     string         `json:"branch"`
	Fields     map[string]any `json:"fields,omitempty"`
	User       *UserContext   `json:"user,omitempty"`
}

// Validate checks the structural requirements of a job message.
func (j Job) Validate() error {
	var problems []string
	if strings.TrimSpace(j.AssemblyID) == "" {
		problems = append(problems, "assemblyId is required")
	}
	if strings.TrimSpace(j.TemplateID) == "" {
		problems = append(problems, "templateId is required")
	}
	if len(j.Inputs) == 0 {
		problems = append(problems, "at least one input is required")
	}
	for i, in := range j.Inputs {
		if in.Bucket == "" || in.Key == "" {
			problems = append(problems, fmt.Sprintf("inputs[%d] needs bucket and key", i))
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// DedupKey is the queue deduplication key for this job.
func (j Job) DedupKey() string {
	return j.AssemblyID + "/" + j.UploadID
}

// Encode serialises a job as a queue message body.
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob parses and validates a queue message body.
func DecodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return Job{}, fmt.Errorf("invalid job: %w", err)
	}
	return job, nil
}
