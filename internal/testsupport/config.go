package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"assemblyline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Storage.AllowedBuckets = []string{cfgVal.Storage.TempBucket}
	cfgVal.Webhook.InitialBackoffSeconds = 0

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithRedisAddr points the queue at a test server.
func WithRedisAddr(addr string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.RedisAddr = addr
	}
}

// WithMaxConcurrency sets the processor sub-batch width.
func WithMaxConcurrency(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processor.MaxConcurrency = n
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
//
// The ffmpeg stub writes its last argument as a small file so steps that
// expect an output artifact succeed; the ffprobe stub prints a minimal probe
// document. A stub named "fail-<tool>" exits 1 after writing to stderr.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		StubBinaries(b.t, binDir, names...)
		b.cfg.Processor.FFmpegBinary = "ffmpeg"
		b.cfg.Processor.FFprobeBinary = "ffprobe"
	}
}

// StubBinaries writes stub tools into dir and prepends dir to PATH for the test.
func StubBinaries(t testing.TB, dir string, names ...string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	for _, name := range names {
		target := filepath.Join(dir, name)
		if err := os.WriteFile(target, []byte(stubScript(name)), 0o755); err != nil {
			t.Fatalf("write stub %s: %v", name, err)
		}
	}

	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

func stubScript(name string) string {
	switch {
	case name == "ffmpeg":
		return "#!/bin/sh\nfor last; do :; done\nprintf 'stub-output' > \"$last\"\n"
	case name == "ffprobe":
		return "#!/bin/sh\nprintf '{\"format\":{\"duration\":\"12.5\",\"format_name\":\"mp3\"},\"streams\":[]}'\n"
	case len(name) > 5 && name[:5] == "fail-":
		return "#!/bin/sh\necho \"" + name[5:] + ": invalid input\" >&2\nexit 1\n"
	default:
		return "#!/bin/sh\nexit 0\n"
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.ScratchDir)
}
