package api

import (
	"assemblyline/internal/assembly"
	"assemblyline/internal/pipeline"
	"assemblyline/internal/queue"
	"assemblyline/internal/templates"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AssemblyResponse wraps one status record with its derived state.
type AssemblyResponse struct {
	State    assembly.State     `json:"state"`
	Assembly *assembly.Assembly `json:"assembly"`
}

// AssemblyListResponse lists recent status records.
type AssemblyListResponse struct {
	Assemblies []AssemblyResponse `json:"assemblies"`
}

// TemplatesResponse lists the resolved template catalogue.
type TemplatesResponse struct {
	Templates []templates.Entry `json:"templates"`
}

// QueueResponse reports queue depth next to assembly counts.
type QueueResponse struct {
	Queue      queue.Stats            `json:"queue"`
	Assemblies map[assembly.State]int `json:"assemblies"`
}

// IngestFailure names a job the bridge could not enqueue.
type IngestFailure struct {
	AssemblyID string `json:"assembly_id"`
	Error      string `json:"error"`
}

// IngestResponse summarizes a notification accepted through POST /api/events.
type IngestResponse struct {
	Objects    int             `json:"objects"`
	Skipped    int             `json:"skipped"`
	Malformed  []string        `json:"malformed,omitempty"`
	Jobs       int             `json:"jobs"`
	Enqueued   int             `json:"enqueued"`
	Duplicates int             `json:"duplicates"`
	Failed     []IngestFailure `json:"failed,omitempty"`
}

// HealthResponse reports readiness of the daemon's dependencies.
type HealthResponse struct {
	Ready  bool          `json:"ready"`
	Checks []HealthCheck `json:"checks"`
}

// HealthCheck is one dependency probe.
type HealthCheck struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

func fromHealth(h pipeline.Health) HealthCheck {
	return HealthCheck{Name: h.Name, Ready: h.Ready, Detail: h.Detail}
}

func newAssemblyResponse(rec *assembly.Assembly) AssemblyResponse {
	return AssemblyResponse{State: rec.State(), Assembly: rec}
}
