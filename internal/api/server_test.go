package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"assemblyline/internal/api"
	"assemblyline/internal/assembly"
	"assemblyline/internal/bridge"
	"assemblyline/internal/processor"
	"assemblyline/internal/queue"
	"assemblyline/internal/services"
	"assemblyline/internal/status"
	"assemblyline/internal/templates"
	"assemblyline/internal/testsupport"
)

type eventRecorder struct {
	calls  []processor.Invocation
	report processor.HandleReport
	err    error
}

func (r *eventRecorder) Handle(_ context.Context, inv processor.Invocation) (processor.HandleReport, error) {
	r.calls = append(r.calls, inv)
	return r.report, r.err
}

type fixture struct {
	status *status.Store
	queue  *queue.Queue
	events *eventRecorder
	server *api.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	store := testsupport.MustOpenStatus(t, cfg)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, queue.Options{Name: "test"})
	t.Cleanup(func() { _ = q.Close() })

	resolver, err := templates.Load(cfg)
	if err != nil {
		t.Fatalf("templates.Load: %v", err)
	}
	events := &eventRecorder{}
	srv := api.New(cfg.API.Bind, api.Dependencies{
		Status:    store,
		Queue:     q,
		Templates: resolver,
		Events:    events,
	})
	return &fixture{status: store, queue: q, events: events, server: srv}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestGetAssembly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.status.Create(ctx, &assembly.Assembly{ID: "A1", TemplateID: "preview"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/assemblies/A1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.AssemblyResponse](t, w)
	if resp.Assembly == nil || resp.Assembly.ID != "A1" {
		t.Fatalf("unexpected assembly: %+v", resp.Assembly)
	}
	if resp.State != assembly.StatePending {
		t.Fatalf("expected pending state, got %q", resp.State)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id header")
	}

	missing := f.do(t, http.MethodGet, "/api/assemblies/nope", "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
	if got := decode[api.ErrorResponse](t, missing); got.Error == "" {
		t.Fatal("expected error envelope")
	}
}

func TestGetAssemblyStoreFailure(t *testing.T) {
	f := newFixture(t)
	_ = f.status.Close()

	w := f.do(t, http.MethodGet, "/api/assemblies/A1", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after store close, got %d", w.Code)
	}
}

func TestListAssembliesLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"A1", "A2", "A3"} {
		if err := f.status.Create(ctx, &assembly.Assembly{ID: id}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	w := f.do(t, http.MethodGet, "/api/assemblies?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decode[api.AssemblyListResponse](t, w); len(resp.Assemblies) != 2 {
		t.Fatalf("expected 2 assemblies, got %d", len(resp.Assemblies))
	}

	if bad := f.do(t, http.MethodGet, "/api/assemblies?limit=zero", ""); bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", bad.Code)
	}
}

func TestPostEvents(t *testing.T) {
	f := newFixture(t)
	f.events.report = processor.HandleReport{Ingest: &processor.IngestReport{
		Objects: 2,
		Jobs:    1,
		Enqueue: bridge.Report{Enqueued: 1},
	}}
	doc := `{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"a.mp3","size":3,"eTag":"e1"}}},
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"b.mp3","size":3,"eTag":"e2"}}}
	]}`

	w := f.do(t, http.MethodPost, "/api/events", doc)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.IngestResponse](t, w)
	if resp.Objects != 2 || resp.Jobs != 1 || resp.Enqueued != 1 {
		t.Fatalf("unexpected ingest response: %+v", resp)
	}
	if len(f.events.calls) != 1 || len(f.events.calls[0].Events) != 2 {
		t.Fatalf("expected one invocation with two events, got %+v", f.events.calls)
	}
}

func TestPostEventsRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"empty records", `{"Records":[]}`},
		{"queue batch", `{"Records":[{"messageId":"m1","body":"{}"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			w := f.do(t, http.MethodPost, "/api/events", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			if len(f.events.calls) != 0 {
				t.Fatal("handler must not run for rejected documents")
			}
		})
	}
}

func TestPostEventsHandlerErrors(t *testing.T) {
	f := newFixture(t)
	f.events.err = services.Wrap(services.ErrTransient, "bridge", "enqueue", "redis down", nil)
	doc := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":"a.mp3"}}}]}`

	w := f.do(t, http.MethodPost, "/api/events", doc)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestTemplatesAndQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.queue.Send(ctx, queue.Message{Body: []byte(`{}`), Group: "main", DedupKey: "A1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := f.status.Create(ctx, &assembly.Assembly{ID: "A1"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	tw := f.do(t, http.MethodGet, "/api/templates", "")
	if tw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", tw.Code)
	}
	ids := map[string]bool{}
	for _, entry := range decode[api.TemplatesResponse](t, tw).Templates {
		ids[entry.ID] = true
	}
	for _, want := range []string{"preview", "thumbnail", "passthrough"} {
		if !ids[want] {
			t.Fatalf("expected template %q in %v", want, ids)
		}
	}

	qw := f.do(t, http.MethodGet, "/api/queue", "")
	if qw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", qw.Code)
	}
	resp := decode[api.QueueResponse](t, qw)
	if resp.Queue.Pending != 1 {
		t.Fatalf("expected one pending message, got %+v", resp.Queue)
	}
	if resp.Assemblies[assembly.StatePending] != 1 {
		t.Fatalf("expected one pending assembly, got %+v", resp.Assemblies)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.HealthResponse](t, w)
	if !resp.Ready || len(resp.Checks) < 2 {
		t.Fatalf("unexpected health response: %+v", resp)
	}

	_ = f.queue.Close()
	down := f.do(t, http.MethodGet, "/healthz", "")
	if down.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once the queue is closed, got %d", down.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodDelete, "/api/templates", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestStartServesOnEphemeralPort(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := f.server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.server.Stop()

	resp, err := http.Get("http://" + f.server.Addr() + "/api/templates")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
