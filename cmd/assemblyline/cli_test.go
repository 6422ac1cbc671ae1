package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/redis/go-redis/v9"

	"assemblyline/internal/assembly"
	"assemblyline/internal/config"
	"assemblyline/internal/queue"
	"assemblyline/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	redis      *miniredis.Miniredis
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := testsupport.NewConfig(t, testsupport.WithRedisAddr(mr.Addr()))
	t.Setenv("HOME", testsupport.BaseDir(cfg))

	configPath := filepath.Join(testsupport.BaseDir(cfg), "assemblyline.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, configPath: configPath, redis: mr}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, args []string, configPath, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)
	requireContains(t, out, "Effective settings")
	requireContains(t, out, env.cfg.Storage.TempBucket)
	requireContains(t, out, env.cfg.Queue.Name+" on "+env.cfg.Queue.RedisAddr)

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	requireContains(t, out, "config validate --config "+target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, "", ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, "", ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}

	// The sample must load as-is.
	if _, _, _, err := config.Load(target); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
}

func TestInvalidConfigIsReported(t *testing.T) {
	env := setupCLITestEnv(t)
	bad := *env.cfg
	bad.Logging.Level = "chatty"
	writeTestConfig(t, env.configPath, &bad)

	_, _, err := runCLI(t, []string{"templates"}, env.configPath, "")
	if err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("expected logging.level validation error, got %v", err)
	}
}

func TestTemplatesCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	cfg := *env.cfg
	cfg.Templates = []config.TemplateOverride{{ID: "podcast", Base: "preview", OutputBucket: "podcasts"}}
	writeTestConfig(t, env.configPath, &cfg)

	out, _, err := runCLI(t, []string{"templates"}, env.configPath, "")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	for _, want := range []string{"passthrough", "preview", "thumbnail", "podcast", "podcasts", "Make Preview"} {
		requireContains(t, out, want)
	}

	out, _, err = runCLI(t, []string{"templates", "--json"}, env.configPath, "")
	if err != nil {
		t.Fatalf("templates --json: %v", err)
	}
	requireContains(t, out, `"id": "podcast"`)
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStatus(t, env.cfg)
	if err := store.Create(context.Background(), &assembly.Assembly{
		ID:            "A1",
		TemplateID:    "preview",
		BytesExpected: 2048,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, _, err := runCLI(t, []string{"status"}, env.configPath, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "A1")
	requireContains(t, out, "PENDING")

	out, _, err = runCLI(t, []string{"status", "A1"}, env.configPath, "")
	if err != nil {
		t.Fatalf("status A1: %v", err)
	}
	requireContains(t, out, assembly.MessageUploadPending)
	requireContains(t, out, "2.0 KiB")

	out, _, err = runCLI(t, []string{"status", "A1", "--json"}, env.configPath, "")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	requireContains(t, out, `"assembly_id": "A1"`)

	if _, _, err := runCLI(t, []string{"status", "missing"}, env.configPath, ""); err == nil {
		t.Fatal("expected error for unknown assembly")
	}
}

func TestStatusCommandEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"status"}, env.configPath, "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "No assemblies recorded")
}

func TestQueueCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	client := redis.NewClient(&redis.Options{Addr: env.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.New(client, queue.Options{Name: env.cfg.Queue.Name, VisibilityTimeout: time.Minute, MaxReceives: 1})
	ctx := context.Background()

	body, err := assembly.Job{
		AssemblyID: "DL1",
		TemplateID: "preview",
		Inputs:     []assembly.ObjectRef{{Bucket: env.cfg.Storage.TempBucket, Key: "clip.mp3"}},
	}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := q.Send(ctx, queue.Message{Body: body, Group: "main"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "stats"}, env.configPath, "")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	requireContains(t, out, env.cfg.Queue.Name)
	requireContains(t, out, "main")

	// Exhaust the receive budget of the first message.
	if _, err := q.Receive(ctx, 1); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	q.SetClock(func() time.Time { return time.Now().Add(2 * time.Minute) })
	res, err := q.Reap(ctx)
	if err != nil || res.DeadLettered != 1 {
		t.Fatalf("expected one dead letter, got %+v, %v", res, err)
	}

	out, _, err = runCLI(t, []string{"queue", "dead-letters"}, env.configPath, "")
	if err != nil {
		t.Fatalf("queue dead-letters: %v", err)
	}
	requireContains(t, out, "DL1")

	out, _, err = runCLI(t, []string{"queue", "redrive"}, env.configPath, "")
	if err != nil {
		t.Fatalf("queue redrive: %v", err)
	}
	requireContains(t, out, "Redrove 1 message(s)")

	out, _, err = runCLI(t, []string{"queue", "dead-letters"}, env.configPath, "")
	if err != nil {
		t.Fatalf("queue dead-letters: %v", err)
	}
	requireContains(t, out, "Dead-letter queue is empty")

	if _, _, err := runCLI(t, []string{"queue", "redrive", "--limit", "0"}, env.configPath, ""); err == nil {
		t.Fatal("expected non-positive limit to be rejected")
	}
}

func TestQueueUnreachable(t *testing.T) {
	env := setupCLITestEnv(t)
	env.redis.Close()
	if _, _, err := runCLI(t, []string{"queue", "stats"}, env.configPath, ""); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestIngestRejectsQueueBatch(t *testing.T) {
	env := setupCLITestEnv(t)
	batch := `{"Records":[{"messageId":"m1","body":"{}"}]}`
	_, _, err := runCLI(t, []string{"ingest", "-"}, env.configPath, batch)
	if err == nil || !strings.Contains(err.Error(), "queue batch") {
		t.Fatalf("expected queue batch rejection, got %v", err)
	}
	if _, _, err := runCLI(t, []string{"process", filepath.Join(t.TempDir(), "missing.json")}, env.configPath, ""); err == nil {
		t.Fatal("expected error for a missing document")
	}
}

func TestHumanizeStep(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"makePreview", "Make Preview"},
		{"make_preview", "Make Preview"},
		{"probe", "Probe"},
		{"storeHLS", "Store Hls"},
		{"", "-"},
	}
	for _, tt := range tests {
		if got := humanizeStep(tt.in); got != tt.want {
			t.Errorf("humanizeStep(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	if got := formatBytes(1536); got != "1.5 KiB" {
		t.Fatalf("formatBytes(1536) = %q", got)
	}
	if got := formatBytes(-4); got != "0 B" {
		t.Fatalf("formatBytes(-4) = %q", got)
	}
}
