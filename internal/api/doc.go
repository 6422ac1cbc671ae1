// Package api serves the daemon's HTTP surface.
//
// Routes are registered on a gorilla/mux router:
//
//	GET  /api/assemblies/{id}  status record of one assembly
//	GET  /api/assemblies       most recently updated records (?limit=N)
//	POST /api/events           raw object-created notification document
//	GET  /api/templates        resolved template catalogue
//	GET  /api/queue            queue depth and assembly counts per state
//	GET  /healthz              dependency health
//
// Every request is tagged with a request id (X-Request-ID, generated when the
// caller does not send one) that flows into the log context. Responses are
// JSON; errors use the {"error": "..."} envelope.
package api
