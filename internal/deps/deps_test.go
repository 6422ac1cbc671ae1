package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"assemblyline/internal/config"
	"assemblyline/internal/deps"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  "},
	}

	results := deps.CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("expected blank command to be reported, got %#v", results[2])
	}
}

func TestMediaToolsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Processor.FFmpegBinary = "/opt/ffmpeg/bin/ffmpeg"
	cfg.Processor.FFprobeBinary = ""

	reqs := deps.MediaTools(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected two requirements, got %d", len(reqs))
	}
	if reqs[0].Command != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg command: %q", reqs[0].Command)
	}
	if reqs[1].Command != "ffprobe" {
		t.Fatalf("expected ffprobe default, got %q", reqs[1].Command)
	}
}
