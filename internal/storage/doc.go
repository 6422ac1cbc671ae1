// Package storage abstracts the object store holding uploads and results.
//
// Two backends are provided: an S3-compatible backend built on minio-go (used
// for MinIO and AWS S3 alike) and a Google Cloud Storage backend. Both expose
// user metadata, which carries the assembly, upload and template identifiers
// written when the upload URL was issued; DecodeMetadata turns that raw map
// into UploadMetadata.
package storage
