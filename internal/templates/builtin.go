package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"assemblyline/internal/deps"
	"assemblyline/internal/pipeline"
	"assemblyline/internal/services"
)

// Tools names the external binaries used by built-in steps.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

const (
	previewSeconds   = 30.0
	thumbnailSeconds = 1.0
)

// Builtin returns the built-in templates.
//
//	preview      probe, makePreview
//	thumbnail    probe, thumbnail
//	passthrough  store
func Builtin(tools Tools) *Registry {
	if tools.FFmpeg == "" {
		tools.FFmpeg = "ffmpeg"
	}
	if tools.FFprobe == "" {
		tools.FFprobe = "ffprobe"
	}
	reg := NewRegistry(SourceBuiltin)
	reg.mustRegister(pipeline.Template{
		ID:          "preview",
		Description: "Probe inputs and cut a 30 second MP3 preview",
		Steps:       []pipeline.Step{probeStep{binary: tools.FFprobe}, previewStep{binary: tools.FFmpeg}},
	})
	reg.mustRegister(pipeline.Template{
		ID:          "thumbnail",
		Description: "Probe inputs and grab a JPEG frame",
		Steps:       []pipeline.Step{probeStep{binary: tools.FFprobe}, thumbnailStep{binary: tools.FFmpeg}},
	})
	reg.mustRegister(pipeline.Template{
		ID:          "passthrough",
		Description: "Copy inputs to the output location unchanged",
		Steps:       []pipeline.Step{pipeline.NewStep("store", storeInputs)},
	})
	return reg
}

// probeResult is the subset of ffprobe's JSON output the pipeline reads.
type probeResult struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

func (p probeResult) duration() float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(p.Format.Duration), 64)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func durationKey(input pipeline.Input) string { return "duration:" + input.Name }

type probeStep struct{ binary string }

func (probeStep) Name() string { return "probe" }

func (s probeStep) HealthCheck(context.Context) pipeline.Health {
	return binaryHealth(s.binary)
}

func (s probeStep) Run(ctx context.Context, sc *pipeline.StepContext) error {
	for i, input := range sc.Inputs {
		res, err := sc.Exec(ctx, s.binary, "-v", "error", "-print_format", "json", "-show_format", "-show_streams", input.Path)
		if err != nil {
			return err
		}
		var probe probeResult
		if err := json.Unmarshal(res.Stdout, &probe); err != nil {
			return services.Wrap(services.ErrExternalTool, "probe", s.binary, "unparseable probe output for "+input.Name, err)
		}
		sc.Set(durationKey(input), probe.duration())

		name := artifactName(sc.Inputs, i, "probe.json")
		local := sc.ScratchPath(name)
		if err := os.WriteFile(local, res.Stdout, 0o644); err != nil {
			return fmt.Errorf("write probe output: %w", err)
		}
		if _, err := sc.Upload(ctx, local, name); err != nil {
			return err
		}
	}
	return nil
}

type previewStep struct{ binary string }

func (previewStep) Name() string { return "makePreview" }

func (s previewStep) HealthCheck(context.Context) pipeline.Health {
	return binaryHealth(s.binary)
}

func (s previewStep) Run(ctx context.Context, sc *pipeline.StepContext) error {
	for i, input := range sc.Inputs {
		length := previewSeconds
		if d := probedDuration(sc, input); d > 0 && d < length {
			length = d
		}
		name := artifactName(sc.Inputs, i, "preview.mp3")
		local := sc.ScratchPath(name)
		args := []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-i", input.Path,
			"-t", formatSeconds(length),
			"-vn", "-codec:a", "libmp3lame", "-b:a", "128k",
			local,
		}
		if _, err := sc.Exec(ctx, s.binary, args...); err != nil {
			return err
		}
		if _, err := sc.Upload(ctx, local, name); err != nil {
			return err
		}
	}
	return nil
}

type thumbnailStep struct{ binary string }

func (thumbnailStep) Name() string { return "thumbnail" }

func (s thumbnailStep) HealthCheck(context.Context) pipeline.Health {
	return binaryHealth(s.binary)
}

func (s thumbnailStep) Run(ctx context.Context, sc *pipeline.StepContext) error {
	for i, input := range sc.Inputs {
		offset := thumbnailSeconds
		if d := probedDuration(sc, input); d > 0 && d/2 < offset {
			offset = d / 2
		}
		name := artifactName(sc.Inputs, i, "thumbnail.jpg")
		local := sc.ScratchPath(name)
		args := []string{
			"-hide_banner", "-loglevel", "error", "-y",
			"-ss", formatSeconds(offset),
			"-i", input.Path,
			"-frames:v", "1",
			local,
		}
		if _, err := sc.Exec(ctx, s.binary, args...); err != nil {
			return err
		}
		if _, err := sc.Upload(ctx, local, name); err != nil {
			return err
		}
	}
	return nil
}

func storeInputs(ctx context.Context, sc *pipeline.StepContext) error {
	for _, input := range sc.Inputs {
		if _, err := sc.Upload(ctx, input.Path, input.Name); err != nil {
			return err
		}
	}
	return nil
}

func probedDuration(sc *pipeline.StepContext, input pipeline.Input) float64 {
	v, ok := sc.Value(durationKey(input))
	if !ok {
		return 0
	}
	d, _ := v.(float64)
	return d
}

// artifactName returns suffix for single-input jobs and <stem>.<suffix>
// otherwise, so outputs of multi-input assemblies do not collide.
func artifactName(inputs []pipeline.Input, index int, suffix string) string {
	if len(inputs) <= 1 {
		return suffix
	}
	name := inputs[index].Name
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		stem = fmt.Sprintf("input-%d", index)
	}
	return stem + "." + suffix
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func binaryHealth(binary string) pipeline.Health {
	status := deps.Check(deps.Requirement{Name: binary, Command: binary})
	if !status.Available {
		return pipeline.Unhealthy(binary, status.Detail)
	}
	return pipeline.Healthy(binary)
}
