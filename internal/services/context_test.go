package services_test

import (
	"context"
	"testing"

	"assemblyline/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithAssemblyID(ctx, "asm-1")
	ctx = services.WithStep(ctx, "makePreview")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.AssemblyIDFromContext(ctx); !ok || id != "asm-1" {
		t.Fatalf("unexpected assembly id: %v %v", id, ok)
	}
	if step, ok := services.StepFromContext(ctx); !ok || step != "makePreview" {
		t.Fatalf("unexpected step: %v %v", step, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStep(ctx, "")
	ctx = services.WithAssemblyID(ctx, "")
	if _, ok := services.StepFromContext(ctx); ok {
		t.Fatal("expected no step value")
	}
	if _, ok := services.AssemblyIDFromContext(ctx); ok {
		t.Fatal("expected no assembly id value")
	}
}
