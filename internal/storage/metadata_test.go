package storage_test

import (
	"encoding/base64"
	"testing"

	"assemblyline/internal/storage"
)

func TestDecodeMetadataNormalizesKeys(t *testing.T) {
	raw := map[string]string{
		"X-Amz-Meta-Assembly-Id": "A1",
		"Uploadid":               "U1",
		"template_id":            " preview ",
		"x-goog-meta-branch":     "feature",
		"User-Permissions":       "read, write,,",
		"Unrelated":              "ignored",
	}
	meta, err := storage.DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if meta.AssemblyID != "A1" || meta.UploadID != "U1" || meta.TemplateID != "preview" || meta.Branch != "feature" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	perms := meta.Permissions()
	if len(perms) != 2 || perms[0] != "read" || perms[1] != "write" {
		t.Fatalf("unexpected permissions: %v", perms)
	}
}

func TestFieldBag(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"title":"Episode 1","rate":44100}`))
	meta := storage.UploadMetadata{Fields: encoded}
	bag, err := meta.FieldBag()
	if err != nil {
		t.Fatalf("FieldBag: %v", err)
	}
	if bag["title"] != "Episode 1" || bag["rate"] != float64(44100) {
		t.Fatalf("unexpected bag: %v", bag)
	}

	urlSafe := base64.RawURLEncoding.EncodeToString([]byte(`{"k":"v"}`))
	bag, err = storage.UploadMetadata{Fields: urlSafe}.FieldBag()
	if err != nil || bag["k"] != "v" {
		t.Fatalf("expected url-safe decoding, got %v (%v)", bag, err)
	}

	if bag, err := (storage.UploadMetadata{}).FieldBag(); err != nil || bag != nil {
		t.Fatalf("expected nil bag for empty field, got %v (%v)", bag, err)
	}
	if _, err := (storage.UploadMetadata{Fields: "%%%"}).FieldBag(); err == nil {
		t.Fatal("expected error for garbage field bag")
	}
}
