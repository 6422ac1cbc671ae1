package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directories used by the daemon and CLI.
type Paths struct {
	ScratchDir string `toml:"scratch_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
}

// API contains the HTTP surface configuration.
type API struct {
	Bind string `toml:"bind"`
}

// Storage contains object storage settings shared by ingestion and processing.
type Storage struct {
	Backend         string   `toml:"backend"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	CredentialsFile string   `toml:"credentials_file"`
	TempBucket      string   `toml:"temp_bucket"`
	OutputBucket    string   `toml:"output_bucket"`
	AllowedBuckets  []string `toml:"allowed_buckets"`
}

// Queue contains the durable job queue settings.
type Queue struct {
	RedisAddr                string `toml:"redis_addr"`
	RedisPassword            string `toml:"redis_password"`
	RedisDB                  int    `toml:"redis_db"`
	Name                     string `toml:"name"`
	VisibilityTimeoutSeconds int    `toml:"visibility_timeout_seconds"`
	MaxReceives              int    `toml:"max_receives"`
	DedupWindowSeconds       int    `toml:"dedup_window_seconds"`
	ReceiveBatchSize         int    `toml:"receive_batch_size"`
	SendBatchSize            int    `toml:"send_batch_size"`
	PollIntervalSeconds      int    `toml:"poll_interval_seconds"`
	DefaultBranch            string `toml:"default_branch"`
}

// Processor contains job runtime settings.
type Processor struct {
	MaxConcurrency  int    `toml:"max_concurrency"`
	ClaimTTLSeconds int    `toml:"claim_ttl_seconds"`
	FFmpegBinary    string `toml:"ffmpeg_binary"`
	FFprobeBinary   string `toml:"ffprobe_binary"`
}

// Webhook contains delivery policy for completion callbacks.
type Webhook struct {
	TimeoutSeconds        int `toml:"timeout_seconds"`
	MaxRetries            int `toml:"max_retries"`
	InitialBackoffSeconds int `toml:"initial_backoff_seconds"`
}

// Reaper contains the periodic maintenance schedule.
type Reaper struct {
	Schedule      string `toml:"schedule"`
	RetentionDays int    `toml:"retention_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// TemplateOverride rebinds a built-in pipeline under a deployment-specific id,
// optionally redirecting its output bucket or webhook.
type TemplateOverride struct {
	ID            string `toml:"id"`
	Base          string `toml:"base"`
	OutputBucket  string `toml:"output_bucket"`
	WebhookURL    string `toml:"webhook_url"`
	WebhookSecret string `toml:"webhook_secret"`
}

// Config encapsulates all configuration values for assemblyline.
//
// Configuration sections by subsystem:
//   - Paths: scratch, state and log directories
//   - API: HTTP bind address
//   - Storage: object storage backend and bucket layout
//   - Queue: Redis-backed job queue
//   - Processor: job runtime concurrency and tool binaries
//   - Webhook: completion callback delivery policy
//   - Reaper: periodic queue and status maintenance
//   - Logging: log format and level
//   - Templates: deployment overrides for built-in templates
type Config struct {
	Paths     Paths              `toml:"paths"`
	API       API                `toml:"api"`
	Storage   Storage            `toml:"storage"`
	Queue     Queue              `toml:"queue"`
	Processor Processor          `toml:"processor"`
	Webhook   Webhook            `toml:"webhook"`
	Reaper    Reaper             `toml:"reaper"`
	Logging   Logging            `toml:"logging"`
	Templates []TemplateOverride `toml:"templates"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("assemblyline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ScratchDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatusDBPath returns the location of the assembly status database.
func (c *Config) StatusDBPath() string {
	return filepath.Join(c.Paths.StateDir, "assemblies.db")
}

// LockPath returns the single-instance lock file for the daemon.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "assemblyline.lock")
}

// VisibilityTimeout returns the queue visibility timeout as a duration.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Queue.VisibilityTimeoutSeconds) * time.Second
}

// DedupWindow returns the queue deduplication window as a duration.
func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.Queue.DedupWindowSeconds) * time.Second
}

// PollInterval returns the idle delay between empty queue receives.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalSeconds) * time.Second
}

// ClaimTTL returns how long a processing claim stays valid without renewal.
func (c *Config) ClaimTTL() time.Duration {
	return time.Duration(c.Processor.ClaimTTLSeconds) * time.Second
}

// WebhookTimeout returns the per-attempt webhook timeout.
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

// WebhookBackoff returns the delay before the first webhook retry.
func (c *Config) WebhookBackoff() time.Duration {
	return time.Duration(c.Webhook.InitialBackoffSeconds) * time.Second
}

// Retention returns how long terminal assembly records are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Reaper.RetentionDays) * 24 * time.Hour
}

// FFmpegBinary returns the ffmpeg executable used by built-in steps.
func (c *Config) FFmpegBinary() string {
	if v := strings.TrimSpace(c.Processor.FFmpegBinary); v != "" {
		return v
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable used by built-in steps.
func (c *Config) FFprobeBinary() string {
	if v := strings.TrimSpace(c.Processor.FFprobeBinary); v != "" {
		return v
	}
	return defaultFFprobeBinary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
