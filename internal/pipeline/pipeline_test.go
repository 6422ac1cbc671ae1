package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assemblyline/internal/pipeline"
	"assemblyline/internal/services"
	"assemblyline/internal/testsupport"
)

func TestOutputPrefix(t *testing.T) {
	tests := []struct {
		name   string
		branch string
		user   string
		want   string
	}{
		{"anonymous", "main", "", "main/A1/preview"},
		{"user scoped", "main", "u-7", "users/u-7/main/A1/preview"},
		{"trimmed branch", "/feature/x/", "", "feature/x/A1/preview"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := pipeline.OutputPrefix(tc.branch, "A1", "preview", tc.user); got != tc.want {
				t.Fatalf("OutputPrefix = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTemplateValidate(t *testing.T) {
	noop := func(context.Context, *pipeline.StepContext) error { return nil }
	valid := pipeline.Template{ID: "t", Steps: []pipeline.Step{pipeline.NewStep("a", noop), pipeline.NewStep("b", noop)}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if got := strings.Join(valid.StepNames(), ","); got != "a,b" {
		t.Fatalf("unexpected step names: %q", got)
	}

	dup := pipeline.Template{ID: "t", Steps: []pipeline.Step{pipeline.NewStep("a", noop), pipeline.NewStep("a", noop)}}
	if err := dup.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate step error, got %v", err)
	}
	if err := (pipeline.Template{ID: "t"}).Validate(); err == nil {
		t.Fatal("expected error for template without steps")
	}
}

func TestUploadRecordsArtifactUnderRunningStep(t *testing.T) {
	store := testsupport.NewObjectStore()
	scratch := t.TempDir()
	sc := pipeline.NewStepContext(pipeline.Params{
		AssemblyID: "A1",
		Output:     pipeline.Output{Bucket: "results", Prefix: "main/A1/preview"},
		ScratchDir: scratch,
		Store:      store,
	})

	local := sc.ScratchPath("preview.mp3")
	if err := os.WriteFile(local, []byte("audio"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	sc.EnterStep("makePreview")
	artifact, err := sc.Upload(context.Background(), local, "preview.mp3")
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if artifact.Key != "main/A1/preview/preview.mp3" || artifact.Size != 5 || artifact.SHA256 == "" {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if data, ok := store.Get("results", artifact.Key); !ok || string(data) != "audio" {
		t.Fatalf("expected uploaded object, got %q (ok=%v)", data, ok)
	}
	results := sc.Results()
	if len(results["makePreview"]) != 1 {
		t.Fatalf("expected artifact recorded under makePreview, got %+v", results)
	}

	// Results returns a copy.
	results["makePreview"] = nil
	if len(sc.Results()["makePreview"]) != 1 {
		t.Fatal("expected Results to be detached from internal state")
	}
}

func TestExecCapturesOutputAndFailures(t *testing.T) {
	binDir := filepath.Join(t.TempDir(), "bin")
	testsupport.StubBinaries(t, binDir, "ffprobe", "fail-ffmpeg")
	sc := pipeline.NewStepContext(pipeline.Params{ScratchDir: t.TempDir()})
	sc.EnterStep("probe")

	res, err := sc.Exec(context.Background(), "ffprobe", "-show_format", "in.mp3")
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if !strings.Contains(string(res.Stdout), "format_name") {
		t.Fatalf("expected buffered stdout, got %q", res.Stdout)
	}

	_, err = sc.Exec(context.Background(), "fail-ffmpeg", "-i", "in.mp3")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ffmpeg: invalid input") {
		t.Fatalf("expected stderr in error message, got %v", err)
	}

	_, err = sc.Exec(context.Background(), "definitely-not-installed-tool")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error for missing binary, got %v", err)
	}
}

func TestValuesShareStateBetweenSteps(t *testing.T) {
	sc := pipeline.NewStepContext(pipeline.Params{})
	sc.Set("duration", 12.5)
	v, ok := sc.Value("duration")
	if !ok || v.(float64) != 12.5 {
		t.Fatalf("unexpected value %v (ok=%v)", v, ok)
	}
	if _, ok := sc.Value("missing"); ok {
		t.Fatal("expected missing value")
	}
}
