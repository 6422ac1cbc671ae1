// Package daemon coordinates the long-running assemblyline process.
//
// A Daemon holds a flock-based lock on the state directory so only one
// instance consumes the queue, runs the consumer loop (receive a batch, hand
// it to the processor, acknowledge every message whose result allows it), and
// owns the lifecycle of auxiliary services such as the HTTP API and the
// reaper. Messages left unacknowledged become visible again once their
// visibility timeout expires and are redelivered.
//
// Keep orchestration here: grouping, step execution and status writes belong
// to their own packages.
package daemon
