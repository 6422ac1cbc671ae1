// Package templates maps template ids to step pipelines.
//
// Lookups walk an ordered list of sources: deployment overrides declared in
// the config file, then the built-in registry, then local development
// fallbacks. The first source that knows an id wins. An id no source knows
// resolves to services.ErrTemplateNotFound.
package templates
