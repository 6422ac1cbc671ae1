// Package webhook delivers signed assembly notifications.
//
// Payloads are serialised once and, when a secret is configured, signed with
// HMAC-SHA256 over the exact bytes sent. A 4xx response is final; 5xx
// responses and transport errors are retried with exponential backoff. Callers
// only log delivery failures: a webhook never changes an assembly's status.
package webhook
