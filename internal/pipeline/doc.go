// Package pipeline defines the step contract shared by templates and the job
// processor.
//
// A Template is an ordered list of Steps. Each Step receives a StepContext
// that owns the job's scratch directory, exposes the downloaded inputs, and
// offers the utilities steps need: running an external tool, uploading an
// artifact to the job's output location, and deriving output keys. Artifacts
// uploaded through the context are recorded under the name of the step that
// produced them.
package pipeline
