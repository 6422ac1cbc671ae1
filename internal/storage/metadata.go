package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// UploadMetadata is the user metadata attached to an uploaded object.
type UploadMetadata struct {
	AssemblyID      string `mapstructure:"assemblyid"`
	UploadID        string `mapstructure:"uploadid"`
	TemplateID      string `mapstructure:"templateid"`
	ContentType     string `mapstructure:"contenttype"`
	Branch          string `mapstructure:"branch"`
	Filename        string `mapstructure:"filename"`
	Fields          string `mapstructure:"fields"`
	UserID          string `mapstructure:"userid"`
	UserPermissions string `mapstructure:"userpermissions"`
}

var metadataPrefixes = []string{"x-amz-meta-", "x-goog-meta-"}

// normalizeKey folds provider spellings such as X-Amz-Meta-Assembly-Id,
// assembly_id and assemblyId onto one key.
func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, prefix := range metadataPrefixes {
		key = strings.TrimPrefix(key, prefix)
	}
	return strings.NewReplacer("-", "", "_", "").Replace(key)
}

// DecodeMetadata maps raw object metadata onto UploadMetadata. Unknown keys
// are ignored.
func DecodeMetadata(raw map[string]string) (UploadMetadata, error) {
	normalized := make(map[string]any, len(raw))
	for key, value := range raw {
		normalized[normalizeKey(key)] = strings.TrimSpace(value)
	}

	var meta UploadMetadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return UploadMetadata{}, fmt.Errorf("metadata decoder: %w", err)
	}
	if err := decoder.Decode(normalized); err != nil {
		return UploadMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// FieldBag decodes the base64-encoded JSON field bag. An empty value yields nil.
func (m UploadMetadata) FieldBag() (map[string]any, error) {
	encoded := strings.TrimSpace(m.Fields)
	if encoded == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
	}
	var bag map[string]any
	if err := json.Unmarshal(raw, &bag); err != nil {
		return nil, fmt.Errorf("parse fields: %w", err)
	}
	return bag, nil
}

// Permissions splits the comma-separated permission list.
func (m UploadMetadata) Permissions() []string {
	if strings.TrimSpace(m.UserPermissions) == "" {
		return nil
	}
	parts := strings.Split(m.UserPermissions, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
