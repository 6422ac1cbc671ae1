package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

// sniffLen is the number of header bytes filetype needs to match every
// registered matcher.
const sniffLen = 262

// HashFile returns the hex SHA-256 digest and size of a file.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// DetectMIME sniffs the file header. When the content is not recognised the
// declared type is used, then the extension, then application/octet-stream.
func DetectMIME(path, declared string) string {
	if f, err := os.Open(path); err == nil {
		header := make([]byte, sniffLen)
		n, _ := io.ReadFull(f, header)
		_ = f.Close()
		if kind, err := filetype.Match(header[:n]); err == nil && kind != filetype.Unknown {
			return kind.MIME.Value
		}
	}
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// SafeName reduces an object key to a file name usable inside a scratch dir.
func SafeName(key string) string {
	name := filepath.Base(filepath.FromSlash(key))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return "input"
	}
	return name
}
