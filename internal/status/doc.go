// Package status persists assembly status records in SQLite.
//
// The store is the single source of truth polled by clients. Writes are
// field-scoped: the processor sends only the fields that changed, and a record
// that reached a terminal state (ok or error) is never modified again. The
// initial processing write is a conditional claim so a redelivered job cannot
// re-run the steps of an assembly another worker is executing or has finished.
package status
