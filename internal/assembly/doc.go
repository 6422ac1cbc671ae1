// Package assembly defines the records that flow between ingestion, the queue
// and the processor: the durable Assembly status record, the ProcessingJob
// handed to a worker, and the upload and artifact ledgers they carry.
package assembly
