package preflight

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assemblyline/internal/config"
	"assemblyline/internal/testsupport"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type bucketProbe struct {
	missing map[string]bool
	seen    []string
}

func (b *bucketProbe) Ping(_ context.Context, bucket string) error {
	b.seen = append(b.seen, bucket)
	if b.missing[bucket] {
		return errors.New("bucket does not exist")
	}
	return nil
}

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckPingHonoursCancellation(t *testing.T) {
	slow := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := CheckPing(ctx, "Redis queue", slow)
	if result.Passed {
		t.Fatal("expected failure")
	}
}

func TestBucketsDeduplicatesAndSorts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Storage.TempBucket = "uploads"
	cfg.Storage.OutputBucket = "results"
	cfg.Storage.AllowedBuckets = []string{"uploads", "archive"}
	cfg.Templates = []config.TemplateOverride{
		{ID: "podcast", Base: "preview", OutputBucket: "archive"},
		{ID: "clips", Base: "thumbnail", OutputBucket: "previews"},
	}

	got := strings.Join(Buckets(cfg), ",")
	if got != "archive,previews,results,uploads" {
		t.Fatalf("unexpected buckets: %s", got)
	}
}

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Storage.TempBucket = "uploads"
	cfg.Storage.OutputBucket = "results"
	cfg.Storage.AllowedBuckets = []string{"uploads"}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	objects := &bucketProbe{missing: map[string]bool{"results": true}}

	results := RunAll(context.Background(), cfg, Probes{
		Queue:   pingFunc(func(context.Context) error { return nil }),
		Status:  pingFunc(func(context.Context) error { return nil }),
		Objects: objects,
	})

	byName := make(map[string]Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Scratch directory", "State directory", "FFmpeg", "FFprobe", "Redis queue", "Status store", "Bucket uploads"} {
		if !byName[name].Passed {
			t.Fatalf("expected %s to pass, got %+v", name, byName[name])
		}
	}
	if byName["Bucket results"].Passed {
		t.Fatal("expected missing output bucket to fail")
	}
	if !Failed(results) {
		t.Fatal("expected Failed to report the missing bucket")
	}
}

func TestRunAllReportsConstructionErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	results := RunAll(context.Background(), cfg, Probes{
		QueueErr:   errors.New("dial tcp: connection refused"),
		ObjectsErr: errors.New("missing credentials"),
	})

	var queue, objects *Result
	for i := range results {
		switch results[i].Name {
		case "Redis queue":
			queue = &results[i]
		case "Object storage":
			objects = &results[i]
		case "Status store":
			t.Fatal("status store check must be skipped without a client or error")
		}
	}
	if queue == nil || queue.Passed || !strings.Contains(queue.Detail, "refused") {
		t.Fatalf("unexpected queue result: %+v", queue)
	}
	if objects == nil || objects.Passed {
		t.Fatalf("unexpected object storage result: %+v", objects)
	}
}
