package daemonrun_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"assemblyline/internal/api"
	"assemblyline/internal/assembly"
	"assemblyline/internal/config"
	"assemblyline/internal/daemonrun"
	"assemblyline/internal/logging"
	"assemblyline/internal/queue"
	"assemblyline/internal/testsupport"
)

func openRuntime(t *testing.T) (*config.Config, *daemonrun.Runtime, *testsupport.ObjectStore) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Queue.PollIntervalSeconds = 1

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(client, queue.Options{Name: cfg.Queue.Name, VisibilityTimeout: time.Minute, MaxReceives: 3})
	objects := testsupport.NewObjectStore()

	rt, err := daemonrun.Open(context.Background(), cfg, daemonrun.OpenOptions{Objects: objects, Queue: q})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return cfg, rt, objects
}

func TestOpenWiresRuntime(t *testing.T) {
	_, rt, _ := openRuntime(t)
	if rt.Processor == nil || rt.Templates == nil || rt.Status == nil {
		t.Fatalf("expected wired runtime, got %+v", rt)
	}
	if _, err := rt.Templates.Resolve("passthrough"); err != nil {
		t.Fatalf("expected built-in templates: %v", err)
	}

	results := rt.Preflight(context.Background())
	if len(results) == 0 {
		t.Fatal("expected preflight results")
	}
	for _, r := range results {
		if !r.Passed {
			t.Fatalf("expected %s to pass, got %q", r.Name, r.Detail)
		}
	}
}

func TestRunProcessesIngestedUpload(t *testing.T) {
	cfg, rt, objects := openRuntime(t)
	objects.Put(cfg.Storage.TempBucket, "clip.mp3", []byte("audio"), "audio/mpeg",
		map[string]string{"X-Amz-Meta-Assembly-Id": "E1", "X-Amz-Meta-Template-Id": "passthrough"})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{Logger: logging.NewNop(), Runtime: rt, Ready: ready})
	}()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("Run exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for daemon")
	}

	doc := fmt.Sprintf(`{"Records":[{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":%q},"object":{"key":"clip.mp3","size":5,"eTag":"e1"}}}]}`,
		cfg.Storage.TempBucket)
	resp, err := http.Post("http://"+addr+"/api/events", "application/json", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("POST events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := fetchAssembly(t, addr, "E1")
		if rec != nil && rec.State == assembly.StateCompleted {
			if rec.Assembly.OK != assembly.Completed {
				t.Fatalf("unexpected ok marker: %q", rec.Assembly.OK)
			}
			break
		}
		if rec != nil && rec.State == assembly.StateFailed {
			t.Fatalf("assembly failed: %+v", rec.Assembly.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for completion, last record %+v", rec)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if _, ok := objects.Get(cfg.Storage.TempBucket, "clip.mp3"); ok {
		t.Fatal("expected temp input to be cleaned up")
	}
}

func fetchAssembly(t *testing.T, addr, id string) *api.AssemblyResponse {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/api/assemblies/" + id)
	if err != nil {
		t.Fatalf("GET assembly: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var out api.AssemblyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode assembly: %v", err)
	}
	return &out
}
