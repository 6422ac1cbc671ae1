// Package processor executes assemblies end to end.
//
// Handle is the single entry point for both kinds of invocation: raw
// object-created notifications are grouped and handed to the queue bridge
// without processing anything inline, while queue batches are processed
// here. Jobs in a batch run concurrently in sub-batches no wider than
// processor.max_concurrency; sub-batches run one after another so scratch
// disk and child processes stay bounded.
//
// ProcessJob owns the whole life of one job: it checks the bucket
// allow-list, claims the assembly in the status store, downloads inputs into
// a scratch directory that is removed on every exit path, runs the template
// steps in order while recording progress, writes exactly one terminal
// marker, removes temp-bucket inputs and finally delivers the template
// webhook. Every job yields a Result; nothing a single job does can fail its
// siblings.
package processor
