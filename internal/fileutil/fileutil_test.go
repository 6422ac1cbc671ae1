package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"assemblyline/internal/fileutil"
)

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, size, err := fileutil.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	if size != 5 {
		t.Fatalf("unexpected size %d", size)
	}
	if sum != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Fatalf("unexpected digest %s", sum)
	}
}

func TestDetectMIME(t *testing.T) {
	dir := t.TempDir()

	png := filepath.Join(dir, "image.bin")
	header := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	if err := os.WriteFile(png, header, 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
	if got := fileutil.DetectMIME(png, "application/octet-stream"); got != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", got)
	}

	plain := filepath.Join(dir, "notes")
	if err := os.WriteFile(plain, []byte("just text"), 0o644); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if got := fileutil.DetectMIME(plain, "text/markdown"); got != "text/markdown" {
		t.Fatalf("expected declared type, got %q", got)
	}
	if got := fileutil.DetectMIME(plain, ""); got != "application/octet-stream" {
		t.Fatalf("expected octet-stream fallback, got %q", got)
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"uploads/main/a.mp3": "a.mp3",
		"a.mp3":              "a.mp3",
		"":                   "input",
		"dir/":               "dir",
	}
	for in, want := range cases {
		if got := fileutil.SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
	}
}
