// Package services defines shared utilities consumed by ingestion, the queue
// bridge and the job processor.
//
// Key responsibilities:
//   - Context helpers that stamp assembly IDs, step names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the error kinds persisted on assembly records, and tell transient
//     infrastructure faults apart from terminal job failures.
package services
