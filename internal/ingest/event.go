package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// ObjectCreated is one object-created notification.
type ObjectCreated struct {
	EventName string
	Bucket    string
	Key       string
	Size      int64
	ETag      string
}

type eventDocument struct {
	Records []eventRecord `json:"Records"`
}

type eventRecord struct {
	EventName string `json:"eventName"`
	S3        *struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
			ETag string `json:"eTag"`
		} `json:"object"`
	} `json:"s3"`
}

// IsEventDocument reports whether raw looks like a storage notification
// document rather than a queue batch.
func IsEventDocument(raw []byte) bool {
	var shape struct {
		Records []struct {
			S3 json.RawMessage `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil || len(shape.Records) == 0 {
		return false
	}
	for _, r := range shape.Records {
		if len(r.S3) == 0 {
			return false
		}
	}
	return true
}

// ParseEvent extracts object-created records from a notification document.
// Keys arrive URL-encoded and are decoded here. Records for other event types
// are ignored. A record that cannot be used is returned in malformed and does
// not affect its siblings; only a document that is not JSON fails as a whole.
func ParseEvent(raw []byte) (objects []ObjectCreated, malformed []Skipped, err error) {
	var doc eventDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse event: %w", err)
	}
	objects = make([]ObjectCreated, 0, len(doc.Records))
	for i, rec := range doc.Records {
		if rec.S3 == nil {
			malformed = append(malformed, Skipped{Reason: fmt.Sprintf("record %d has no s3 section", i)})
			continue
		}
		if !isObjectCreated(rec.EventName) {
			continue
		}
		bucket, rawKey := rec.S3.Bucket.Name, rec.S3.Object.Key
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			malformed = append(malformed, Skipped{Bucket: bucket, Key: rawKey, Reason: fmt.Sprintf("record %d key is not URL-encoded: %v", i, err)})
			continue
		}
		if bucket == "" || key == "" {
			malformed = append(malformed, Skipped{Bucket: bucket, Key: key, Reason: fmt.Sprintf("record %d needs bucket and key", i)})
			continue
		}
		objects = append(objects, ObjectCreated{
			EventName: rec.EventName,
			Bucket:    bucket,
			Key:       key,
			Size:      rec.S3.Object.Size,
			ETag:      strings.Trim(rec.S3.Object.ETag, `"`),
		})
	}
	return objects, malformed, nil
}

// isObjectCreated accepts AWS ("ObjectCreated:Put") and MinIO
// ("s3:ObjectCreated:Put") spellings. Records without a name are accepted.
func isObjectCreated(name string) bool {
	if name == "" {
		return true
	}
	name = strings.TrimPrefix(name, "s3:")
	return strings.HasPrefix(name, "ObjectCreated:")
}
