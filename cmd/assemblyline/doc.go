// Command assemblyline runs and inspects the assembly processing pipeline.
//
// "assemblyline serve" starts the daemon: the queue consumer, the HTTP API
// and the reaper. The remaining subcommands work directly against the status
// store, the queue and object storage named in the configuration file, so
// they are usable whether or not a daemon is running.
package main
