// Package preflight provides readiness checks for the external services and
// filesystem paths assemblyline depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll at startup and logs every failing check before
//     consuming the queue.
//   - The CLI "assemblyline preflight" command renders the same results as a
//     table and exits non-zero when a required check fails.
//
// Probes that need a live client (Redis, object storage) are skipped when the
// caller could not construct that client; the construction error is reported
// in its place.
package preflight
