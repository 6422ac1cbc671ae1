// Package ingest turns object-created notifications into processing jobs.
//
// ParseEvent reads S3 and MinIO notification documents. Grouper fetches the
// user metadata of each object, groups objects that share an assembly id and
// emits one assembly.Job per group. Objects without an assembly id become a
// job of their own with a deterministic id, so a redelivered notification
// maps onto the same assembly.
package ingest
