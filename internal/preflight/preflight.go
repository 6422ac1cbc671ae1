package preflight

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"assemblyline/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Pinger is anything with a connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketPinger probes a single bucket.
type BucketPinger interface {
	Ping(ctx context.Context, bucket string) error
}

// Probes carries the live clients used by connectivity checks. A nil client
// is reported with the matching *Err field, or skipped when that is nil too.
type Probes struct {
	Queue      Pinger
	QueueErr   error
	Objects    BucketPinger
	ObjectsErr error
	Status     Pinger
	StatusErr  error
}

// RunAll executes every applicable preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config, probes Probes) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	for _, dep := range CheckSystemDeps(cfg) {
		detail := dep.Detail
		if dep.Available {
			detail = dep.Path
		}
		results = append(results, Result{Name: dep.Name, Passed: dep.Available, Optional: dep.Optional, Detail: detail})
	}

	if r, ok := checkClient(ctx, "Status store", probes.Status, probes.StatusErr); ok {
		results = append(results, r)
	}
	if r, ok := checkClient(ctx, "Redis queue", probes.Queue, probes.QueueErr); ok {
		results = append(results, r)
	}
	switch {
	case probes.Objects != nil:
		for _, bucket := range Buckets(cfg) {
			results = append(results, CheckBucket(ctx, probes.Objects, bucket))
		}
	case probes.ObjectsErr != nil:
		results = append(results, Result{Name: "Object storage", Detail: probes.ObjectsErr.Error()})
	}
	return results
}

// Failed reports whether any required check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}

// Buckets returns every bucket the daemon reads or writes, sorted: the temp
// bucket, the allow-list, the default output bucket and template overrides'
// output buckets.
func Buckets(cfg *config.Config) []string {
	set := mapset.NewSet[string]()
	add := func(b string) {
		if b != "" {
			set.Add(b)
		}
	}
	add(cfg.Storage.TempBucket)
	add(cfg.Storage.OutputBucket)
	for _, b := range cfg.Storage.AllowedBuckets {
		add(b)
	}
	for _, tpl := range cfg.Templates {
		add(tpl.OutputBucket)
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out
}

func checkClient(ctx context.Context, name string, client Pinger, constructErr error) (Result, bool) {
	switch {
	case client != nil:
		return CheckPing(ctx, name, client), true
	case constructErr != nil:
		return Result{Name: name, Detail: constructErr.Error()}, true
	default:
		return Result{}, false
	}
}
