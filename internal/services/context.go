package services

import "context"

type contextKey string

const (
	assemblyIDKey contextKey = "assembly_id"
	stepKey       contextKey = "step"
	requestIDKey  contextKey = "request_id"
)

// WithAssemblyID annotates context with the assembly identifier.
func WithAssemblyID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, assemblyIDKey, id)
}

// AssemblyIDFromContext extracts the assembly identifier if present.
func AssemblyIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(assemblyIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStep annotates context with the running step name.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext returns the step name if present.
func StepFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stepKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
