package ingest_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"assemblyline/internal/ingest"
	"assemblyline/internal/services"
	"assemblyline/internal/testsupport"
)

const sampleEvent = `{
  "Records": [
    {"eventName": "ObjectCreated:Put", "s3": {"bucket": {"name": "assembly-uploads"}, "object": {"key": "uploads/main/my+song%281%29.mp3", "size": 42, "eTag": "\"abc\""}}},
    {"eventName": "s3:ObjectCreated:CompleteMultipartUpload", "s3": {"bucket": {"name": "assembly-uploads"}, "object": {"key": "b.wav"}}},
    {"eventName": "ObjectRemoved:Delete", "s3": {"bucket": {"name": "assembly-uploads"}, "object": {"key": "gone.mp3"}}}
  ]
}`

func TestParseEventDecodesKeysAndFilters(t *testing.T) {
	objects, malformed, err := ingest.ParseEvent([]byte(sampleEvent))
	if err != nil {
		t.Fatalf("ParseEvent returned error: %v", err)
	}
	if len(malformed) != 0 {
		t.Fatalf("expected no malformed records, got %+v", malformed)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 created objects, got %d: %+v", len(objects), objects)
	}
	if objects[0].Key != "uploads/main/my song(1).mp3" {
		t.Fatalf("unexpected decoded key %q", objects[0].Key)
	}
	if objects[0].ETag != "abc" || objects[0].Size != 42 {
		t.Fatalf("unexpected object fields: %+v", objects[0])
	}
	if objects[1].Key != "b.wav" {
		t.Fatalf("unexpected second key %q", objects[1].Key)
	}
}

func TestParseEventSkipsUnusableRecords(t *testing.T) {
	raw := `{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"assembly-uploads"},"object":{"key":"bad%zzkey.mp3"}}},
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":""},"object":{"key":"orphan.mp3"}}},
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"assembly-uploads"},"object":{"key":"good.mp3"}}}
	]}`
	objects, malformed, err := ingest.ParseEvent([]byte(raw))
	if err != nil {
		t.Fatalf("one bad record must not fail the document: %v", err)
	}
	if len(objects) != 1 || objects[0].Key != "good.mp3" {
		t.Fatalf("expected only the good record, got %+v", objects)
	}
	if len(malformed) != 2 {
		t.Fatalf("expected two malformed records, got %+v", malformed)
	}
	if malformed[0].Key != "bad%zzkey.mp3" || malformed[0].Reason == "" {
		t.Fatalf("unexpected first malformed record: %+v", malformed[0])
	}
	if malformed[1].Key != "orphan.mp3" || malformed[1].Bucket != "" {
		t.Fatalf("unexpected second malformed record: %+v", malformed[1])
	}

	if _, _, err := ingest.ParseEvent([]byte(`{"Records":`)); err == nil {
		t.Fatal("expected a truncated document to fail")
	}
}

func TestIsEventDocument(t *testing.T) {
	if !ingest.IsEventDocument([]byte(sampleEvent)) {
		t.Fatal("expected sample to be recognised as an event document")
	}
	for _, raw := range []string{`{"Records":[]}`, `{"Records":[{"body":"{}"}]}`, `[]`, `not json`} {
		if ingest.IsEventDocument([]byte(raw)) {
			t.Fatalf("did not expect %q to be an event document", raw)
		}
	}
}

func TestGroupSharesAssemblyID(t *testing.T) {
	store := testsupport.NewObjectStore()
	meta := map[string]string{
		"X-Amz-Meta-Assembly-Id": "A1",
		"X-Amz-Meta-Upload-Id":   "U1",
		"X-Amz-Meta-Template-Id": "preview",
	}
	store.Put("assembly-uploads", "a.mp3", []byte("a"), "audio/mpeg", meta)
	store.Put("assembly-uploads", "b.mp3", []byte("b"), "audio/mpeg", meta)

	grouper := ingest.NewGrouper(store, "main", nil)
	out := grouper.Group(context.Background(), []ingest.ObjectCreated{
		{Bucket: "assembly-uploads", Key: "a.mp3"},
		{Bucket: "assembly-uploads", Key: "b.mp3"},
	})
	if len(out.Jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(out.Jobs))
	}
	job := out.Jobs[0]
	if job.AssemblyID != "A1" || job.UploadID != "U1" || job.TemplateID != "preview" || job.Branch != "main" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if len(job.Inputs) != 2 || job.Inputs[0].Key != "a.mp3" || job.Inputs[1].Key != "b.mp3" {
		t.Fatalf("unexpected inputs: %+v", job.Inputs)
	}
}

func TestGroupSeparatesDistinctAndMissingIDs(t *testing.T) {
	store := testsupport.NewObjectStore()
	store.Put("assembly-uploads", "a.mp3", []byte("a"), "", map[string]string{"assemblyId": "A1", "templateId": "preview"})
	store.Put("assembly-uploads", "b.mp3", []byte("b"), "", map[string]string{"assemblyId": "A2", "templateId": "preview"})
	store.Put("assembly-uploads", "uploads/staging/c.mp3", []byte("c"), "", map[string]string{"templateId": "preview"})

	grouper := ingest.NewGrouper(store, "main", nil)
	objects := []ingest.ObjectCreated{
		{Bucket: "assembly-uploads", Key: "a.mp3"},
		{Bucket: "assembly-uploads", Key: "b.mp3"},
		{Bucket: "assembly-uploads", Key: "uploads/staging/c.mp3"},
	}
	out := grouper.Group(context.Background(), objects)
	if len(out.Jobs) != 3 {
		t.Fatalf("expected three jobs, got %d", len(out.Jobs))
	}
	solo := out.Jobs[2]
	if solo.AssemblyID == "" || solo.AssemblyID == "A1" || solo.Branch != "staging" {
		t.Fatalf("unexpected solo job: %+v", solo)
	}

	again := grouper.Group(context.Background(), objects[2:])
	if again.Jobs[0].AssemblyID != solo.AssemblyID {
		t.Fatalf("expected deterministic solo id, got %q and %q", solo.AssemblyID, again.Jobs[0].AssemblyID)
	}
}

func TestGroupDropsObjectsWithMetadataFailures(t *testing.T) {
	store := testsupport.NewObjectStore()
	store.Put("assembly-uploads", "ok.mp3", []byte("a"), "", map[string]string{"assemblyId": "A1", "templateId": "preview"})
	store.Put("assembly-uploads", "broken.mp3", []byte("b"), "", map[string]string{"assemblyId": "A1", "templateId": "preview"})
	store.StatErr["broken.mp3"] = services.Wrap(services.ErrTransient, "storage", "stat", "boom", errors.New("timeout"))
	store.Put("assembly-uploads", "orphan.mp3", []byte("c"), "", nil)

	grouper := ingest.NewGrouper(store, "main", nil)
	out := grouper.Group(context.Background(), []ingest.ObjectCreated{
		{Bucket: "assembly-uploads", Key: "ok.mp3"},
		{Bucket: "assembly-uploads", Key: "broken.mp3"},
		{Bucket: "assembly-uploads", Key: "missing.mp3"},
		{Bucket: "assembly-uploads", Key: "orphan.mp3"},
	})
	if len(out.Jobs) != 1 || len(out.Jobs[0].Inputs) != 1 {
		t.Fatalf("expected one job with one input, got %+v", out.Jobs)
	}
	if len(out.Skipped) != 3 {
		t.Fatalf("expected three skipped objects, got %+v", out.Skipped)
	}
	if out.Skipped[2].Reason != "missing templateId" {
		t.Fatalf("unexpected skip reason %q", out.Skipped[2].Reason)
	}
}

func TestGroupDecodesFieldsAndUser(t *testing.T) {
	store := testsupport.NewObjectStore()
	fields := base64.StdEncoding.EncodeToString([]byte(`{"title":"demo"}`))
	store.Put("assembly-uploads", "a.mp3", []byte("a"), "", map[string]string{
		"assemblyId":      "A1",
		"templateId":      "preview",
		"fields":          fields,
		"userId":          "u-9",
		"userPermissions": "read, write",
		"branch":          "dev",
	})
	out := ingest.NewGrouper(store, "main", nil).Group(context.Background(), []ingest.ObjectCreated{{Bucket: "assembly-uploads", Key: "a.mp3"}})
	if len(out.Jobs) != 1 {
		t.Fatalf("expected one job, got %+v", out)
	}
	job := out.Jobs[0]
	if job.Fields["title"] != "demo" || job.Branch != "dev" {
		t.Fatalf("unexpected fields/branch: %+v", job)
	}
	if job.User == nil || job.User.ID != "u-9" || len(job.User.Permissions) != 2 {
		t.Fatalf("unexpected user: %+v", job.User)
	}
	if job.UploadID != job.AssemblyID {
		t.Fatalf("expected upload id fallback to assembly id, got %q", job.UploadID)
	}
}
