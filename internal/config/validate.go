package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateProcessor(); err != nil {
		return err
	}
	if err := c.validateWebhook(); err != nil {
		return err
	}
	if err := c.validateReaper(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateTemplates()
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "minio":
		if c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint must be set for the minio backend")
		}
	case "gcs":
	default:
		return fmt.Errorf("storage.backend: unsupported value %q (want minio or gcs)", c.Storage.Backend)
	}
	if c.Storage.TempBucket == "" {
		return errors.New("storage.temp_bucket must be set")
	}
	if c.Storage.OutputBucket == "" {
		return errors.New("storage.output_bucket must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.RedisAddr == "" {
		return errors.New("queue.redis_addr must be set")
	}
	if c.Queue.VisibilityTimeoutSeconds <= 0 {
		return errors.New("queue.visibility_timeout_seconds must be positive")
	}
	if c.Queue.MaxReceives <= 0 {
		return errors.New("queue.max_receives must be positive")
	}
	if c.Queue.DedupWindowSeconds < 0 {
		return errors.New("queue.dedup_window_seconds must be zero or positive")
	}
	if c.Queue.SendBatchSize > maxSendBatchSize {
		return fmt.Errorf("queue.send_batch_size must not exceed %d", maxSendBatchSize)
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		return errors.New("queue.poll_interval_seconds must be positive")
	}
	return nil
}

func (c *Config) validateProcessor() error {
	if c.Processor.MaxConcurrency <= 0 {
		return errors.New("processor.max_concurrency must be positive")
	}
	if c.Processor.ClaimTTLSeconds <= 0 {
		return errors.New("processor.claim_ttl_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWebhook() error {
	if c.Webhook.TimeoutSeconds <= 0 {
		return errors.New("webhook.timeout_seconds must be positive")
	}
	if c.Webhook.MaxRetries < 0 {
		return errors.New("webhook.max_retries must be zero or positive")
	}
	if c.Webhook.InitialBackoffSeconds < 0 {
		return errors.New("webhook.initial_backoff_seconds must be zero or positive")
	}
	return nil
}

func (c *Config) validateReaper() error {
	if strings.TrimSpace(c.Reaper.Schedule) == "" {
		return errors.New("reaper.schedule must be set")
	}
	if c.Reaper.RetentionDays < 0 {
		return errors.New("reaper.retention_days must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateTemplates() error {
	seen := make(map[string]struct{}, len(c.Templates))
	for i, tpl := range c.Templates {
		if tpl.ID == "" {
			return fmt.Errorf("templates[%d].id must be set", i)
		}
		if _, ok := seen[tpl.ID]; ok {
			return fmt.Errorf("templates[%d]: duplicate id %q", i, tpl.ID)
		}
		seen[tpl.ID] = struct{}{}
		if tpl.WebhookURL != "" {
			parsed, err := url.Parse(tpl.WebhookURL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return fmt.Errorf("templates[%d].webhook_url: invalid url %q", i, tpl.WebhookURL)
			}
		}
		if tpl.WebhookSecret != "" && tpl.WebhookURL == "" {
			return fmt.Errorf("templates[%d].webhook_secret requires webhook_url", i)
		}
	}
	return nil
}
