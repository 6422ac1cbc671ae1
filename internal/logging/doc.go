// Package logging assembles structured slog loggers and formatting helpers used
// across assemblyline.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so processor code can tag log
// lines with assembly IDs, step names, and correlation IDs automatically. A
// no-op logger is provided for tests and wiring code that cannot fail.
package logging
