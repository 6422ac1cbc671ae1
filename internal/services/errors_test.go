package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"assemblyline/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "step", "ffmpeg", "exit status 1", base)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"step", "ffmpeg", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrValidation, "processor", "bucket", "not allowed", nil), services.KindValidation},
		{services.Wrap(services.ErrTemplateNotFound, "templates", "resolve", "missing", nil), services.KindTemplateNotFound},
		{services.Wrap(services.ErrExternalTool, "step", "ffmpeg", "bad input", nil), services.KindExternalTool},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrTransient, "storage", "get", "", nil)), services.KindTransient},
		{errors.New("author step failed"), services.KindStep},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !services.Retryable(services.Wrap(services.ErrTransient, "status", "begin", "", errors.New("locked"))) {
		t.Fatal("expected transient error to be retryable")
	}
	if services.Retryable(services.Wrap(services.ErrExternalTool, "step", "ffmpeg", "", nil)) {
		t.Fatal("expected tool error to be terminal")
	}
}
