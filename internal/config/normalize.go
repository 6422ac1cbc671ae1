package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStorage()
	c.normalizeQueue()
	c.normalizeTemplates()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.ScratchDir) == "" {
		c.Paths.ScratchDir = defaultScratchDir
	}
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeStorage() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultStorageBackend
	}
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	if c.Storage.AccessKey == "" {
		if value, ok := os.LookupEnv("MINIO_ACCESS_KEY"); ok {
			c.Storage.AccessKey = value
		}
	}
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("MINIO_SECRET_KEY"); ok {
			c.Storage.SecretKey = value
		}
	}
	if c.Storage.CredentialsFile == "" {
		if value, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS"); ok {
			c.Storage.CredentialsFile = value
		}
	}
	c.Storage.TempBucket = strings.TrimSpace(c.Storage.TempBucket)
	c.Storage.OutputBucket = strings.TrimSpace(c.Storage.OutputBucket)

	seen := make(map[string]struct{}, len(c.Storage.AllowedBuckets)+1)
	allowed := make([]string, 0, len(c.Storage.AllowedBuckets)+1)
	for _, bucket := range c.Storage.AllowedBuckets {
		bucket = strings.TrimSpace(bucket)
		if bucket == "" {
			continue
		}
		if _, ok := seen[bucket]; ok {
			continue
		}
		seen[bucket] = struct{}{}
		allowed = append(allowed, bucket)
	}
	// The temp bucket is always an accepted ingestion source.
	if c.Storage.TempBucket != "" {
		if _, ok := seen[c.Storage.TempBucket]; !ok {
			allowed = append(allowed, c.Storage.TempBucket)
		}
	}
	c.Storage.AllowedBuckets = allowed
}

func (c *Config) normalizeQueue() {
	c.Queue.RedisAddr = strings.TrimSpace(c.Queue.RedisAddr)
	if c.Queue.RedisPassword == "" {
		if value, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
			c.Queue.RedisPassword = value
		}
	}
	c.Queue.Name = strings.TrimSpace(c.Queue.Name)
	if c.Queue.Name == "" {
		c.Queue.Name = defaultQueueName
	}
	c.Queue.DefaultBranch = strings.TrimSpace(c.Queue.DefaultBranch)
	if c.Queue.DefaultBranch == "" {
		c.Queue.DefaultBranch = defaultBranch
	}
	if c.Queue.SendBatchSize <= 0 {
		c.Queue.SendBatchSize = defaultSendBatchSize
	}
	if c.Queue.ReceiveBatchSize <= 0 {
		c.Queue.ReceiveBatchSize = defaultReceiveBatchSize
	}
}

func (c *Config) normalizeTemplates() {
	for i := range c.Templates {
		tpl := &c.Templates[i]
		tpl.ID = strings.TrimSpace(tpl.ID)
		tpl.Base = strings.TrimSpace(tpl.Base)
		tpl.OutputBucket = strings.TrimSpace(tpl.OutputBucket)
		tpl.WebhookURL = strings.TrimSpace(tpl.WebhookURL)
		if tpl.Base == "" {
			tpl.Base = tpl.ID
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
