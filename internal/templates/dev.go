package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"assemblyline/internal/pipeline"
)

// DevFallback returns templates meant for local development. They need no
// external tools and sit behind overrides and built-ins.
func DevFallback() *Registry {
	reg := NewRegistry(SourceDev)
	reg.mustRegister(pipeline.Template{
		ID:          "dev-manifest",
		Description: "Write a JSON manifest describing the inputs",
		Steps:       []pipeline.Step{pipeline.NewStep("manifest", writeManifest)},
	})
	return reg
}

func writeManifest(ctx context.Context, sc *pipeline.StepContext) error {
	manifest := struct {
		AssemblyID string         `json:"assembly_id"`
		TemplateID string         `json:"template_id"`
		Fields     map[string]any `json:"fields,omitempty"`
		Inputs     []any          `json:"inputs"`
	}{AssemblyID: sc.AssemblyID, TemplateID: sc.TemplateID, Fields: sc.Fields}
	for _, in := range sc.Inputs {
		manifest.Inputs = append(manifest.Inputs, in.Upload)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	local := sc.ScratchPath("manifest.json")
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	_, err = sc.Upload(ctx, local, "manifest.json")
	return err
}
