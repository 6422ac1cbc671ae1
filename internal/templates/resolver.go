package templates

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"assemblyline/internal/config"
	"assemblyline/internal/pipeline"
	"assemblyline/internal/services"
)

// Source names used in listings.
const (
	SourceOverrides = "overrides"
	SourceBuiltin   = "builtin"
	SourceDev       = "dev"
)

// Resolver resolves template ids against an ordered list of sources.
type Resolver struct {
	sources []Source
}

// Entry describes one resolvable template.
type Entry struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Description  string   `json:"description,omitempty"`
	Steps        []string `json:"steps"`
	OutputBucket string   `json:"output_bucket,omitempty"`
	Webhook      bool     `json:"webhook"`
}

// NewResolver searches sources in the given order.
func NewResolver(sources ...Source) *Resolver {
	return &Resolver{sources: sources}
}

// Load builds the standard resolver: config overrides, built-ins, then dev
// fallbacks.
func Load(cfg *config.Config) (*Resolver, error) {
	builtin := Builtin(Tools{FFmpeg: cfg.FFmpegBinary(), FFprobe: cfg.FFprobeBinary()})
	overrides, err := Overrides(cfg.Templates, builtin)
	if err != nil {
		return nil, err
	}
	return NewResolver(overrides, builtin, DevFallback()), nil
}

// Overrides builds a registry of deployment overrides. Each override rebinds
// a template from base under a new id, optionally replacing its output bucket
// and webhook.
func Overrides(overrides []config.TemplateOverride, base Source) (*Registry, error) {
	reg := NewRegistry(SourceOverrides)
	for _, o := range overrides {
		baseID := o.Base
		if baseID == "" {
			baseID = o.ID
		}
		tpl, ok := base.Lookup(baseID)
		if !ok {
			return nil, services.Wrap(services.ErrConfiguration, "templates", "override "+o.ID,
				fmt.Sprintf("base template %q is not defined", baseID), nil)
		}
		tpl.ID = o.ID
		if o.OutputBucket != "" {
			tpl.OutputBucket = o.OutputBucket
		}
		if o.WebhookURL != "" {
			tpl.Webhook = &pipeline.Webhook{URL: o.WebhookURL, Secret: o.WebhookSecret}
		}
		if err := reg.Register(tpl); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "templates", "override "+o.ID, "", err)
		}
	}
	return reg, nil
}

// Resolve returns the first template registered under id.
func (r *Resolver) Resolve(id string) (pipeline.Template, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return pipeline.Template{}, services.Wrap(services.ErrValidation, "templates", "resolve", "template id is empty", nil)
	}
	for _, src := range r.sources {
		if tpl, ok := src.Lookup(id); ok {
			return tpl, nil
		}
	}
	return pipeline.Template{}, services.Wrap(services.ErrTemplateNotFound, "templates", "resolve", fmt.Sprintf("no template with id %q", id), nil)
}

// List returns every resolvable template. Ids shadowed by an earlier source
// are reported once, under the source that wins.
func (r *Resolver) List() []Entry {
	seen := map[string]struct{}{}
	var entries []Entry
	for _, src := range r.sources {
		for _, id := range src.IDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			tpl, _ := src.Lookup(id)
			entries = append(entries, Entry{
				ID:           id,
				Source:       src.Name(),
				Description:  tpl.Description,
				Steps:        tpl.StepNames(),
				OutputBucket: tpl.OutputBucket,
				Webhook:      tpl.Webhook != nil,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// HealthCheck reports the readiness of every step that depends on an
// external tool, deduplicated by name.
func (r *Resolver) HealthCheck(ctx context.Context) []pipeline.Health {
	seen := map[string]struct{}{}
	var results []pipeline.Health
	for _, src := range r.sources {
		for _, id := range src.IDs() {
			tpl, _ := src.Lookup(id)
			for _, step := range tpl.Steps {
				checker, ok := step.(pipeline.HealthChecker)
				if !ok {
					continue
				}
				health := checker.HealthCheck(ctx)
				if _, dup := seen[health.Name]; dup {
					continue
				}
				seen[health.Name] = struct{}{}
				results = append(results, health)
			}
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results
}
