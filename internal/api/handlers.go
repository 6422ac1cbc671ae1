package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"assemblyline/internal/logging"
	"assemblyline/internal/processor"
	"assemblyline/internal/services"
)

func (s *Server) handleAssembly(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["id"])
	rec, err := s.deps.Status.Get(services.WithAssemblyID(r.Context(), id), id)
	if errors.Is(err, services.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "assembly not found")
		return
	}
	if err != nil {
		logging.ErrorWithContext(s.requestLogger(r), "assembly lookup failed", "api_assembly_failed",
			logging.String(logging.FieldAssemblyID, id),
			logging.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, newAssemblyResponse(rec))
}

func (s *Server) handleListAssemblies(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return
	}
	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxListLimit)
	}
	records, err := s.deps.Status.List(r.Context(), limit)
	if err != nil {
		logging.ErrorWithContext(s.requestLogger(r), "assembly list failed", "api_list_failed", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	resp := AssemblyListResponse{Assemblies: make([]AssemblyResponse, 0, len(records))}
	for _, rec := range records {
		resp.Assemblies = append(resp.Assemblies, newAssemblyResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ingestion unavailable")
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "notification document too large")
		return
	}
	inv, err := processor.DecodeInvocation(raw)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !inv.IsNotification() {
		// Queue batches only come from the consumer loop.
		s.writeError(w, http.StatusBadRequest, "expected an object-created notification document")
		return
	}

	report, err := s.deps.Events.Handle(r.Context(), inv)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrValidation) {
			status = http.StatusBadRequest
		}
		logging.WarnWithContext(s.requestLogger(r), "notification rejected", "api_ingest_failed",
			logging.Error(err),
			logging.Int("status", status),
		)
		s.writeError(w, status, err.Error())
		return
	}

	resp := IngestResponse{}
	if report.Ingest != nil {
		resp.Objects = report.Ingest.Objects
		resp.Skipped = report.Ingest.Skipped
		for _, m := range report.Ingest.Malformed {
			resp.Malformed = append(resp.Malformed, m.Reason)
		}
		resp.Jobs = report.Ingest.Jobs
		resp.Enqueued = report.Ingest.Enqueue.Enqueued
		resp.Duplicates = report.Ingest.Enqueue.Duplicates
		for _, failure := range report.Ingest.Enqueue.Failed {
			resp.Failed = append(resp.Failed, IngestFailure{AssemblyID: failure.AssemblyID, Error: failure.Err.Error()})
		}
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Templates == nil {
		s.writeJSON(w, http.StatusOK, TemplatesResponse{Templates: nil})
		return
	}
	s.writeJSON(w, http.StatusOK, TemplatesResponse{Templates: s.deps.Templates.List()})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	resp := QueueResponse{}
	if s.deps.Queue != nil {
		stats, err := s.deps.Queue.Stats(r.Context())
		if err != nil {
			logging.ErrorWithContext(s.requestLogger(r), "queue stats failed", "api_queue_failed", logging.Error(err))
			s.writeError(w, http.StatusInternalServerError, "queue stats unavailable")
			return
		}
		resp.Queue = stats
	}
	if s.deps.Status != nil {
		counts, err := s.deps.Status.Stats(r.Context())
		if err != nil {
			logging.ErrorWithContext(s.requestLogger(r), "assembly stats failed", "api_queue_failed", logging.Error(err))
			s.writeError(w, http.StatusInternalServerError, "status stats unavailable")
			return
		}
		resp.Assemblies = counts
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{Ready: true}
	add := func(check HealthCheck) {
		resp.Checks = append(resp.Checks, check)
		if !check.Ready {
			resp.Ready = false
		}
	}
	if s.deps.Status != nil {
		add(pingCheck("status-store", s.deps.Status.Ping(ctx)))
	}
	if s.deps.Queue != nil {
		add(pingCheck("queue", s.deps.Queue.Ping(ctx)))
	}
	if s.deps.Templates != nil {
		for _, h := range s.deps.Templates.HealthCheck(ctx) {
			add(fromHealth(h))
		}
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func pingCheck(name string, err error) HealthCheck {
	if err != nil {
		return HealthCheck{Name: name, Ready: false, Detail: err.Error()}
	}
	return HealthCheck{Name: name, Ready: true}
}
