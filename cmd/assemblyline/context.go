package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"assemblyline/internal/config"
	"assemblyline/internal/daemonrun"
	"assemblyline/internal/logging"
	"assemblyline/internal/queue"
	"assemblyline/internal/status"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// cliLogger writes warnings and errors to stderr so tables on stdout stay clean.
func (c *commandContext) cliLogger(cmd *cobra.Command) *slog.Logger {
	level := c.logLevel()
	if level == "" {
		level = "warn"
	}
	var w io.Writer = os.Stderr
	if cmd != nil {
		w = cmd.ErrOrStderr()
	}
	logger, err := logging.New(logging.Options{Level: level, Format: "console", Writer: w})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

func (c *commandContext) withStatus(fn func(*status.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := status.Open(cfg)
	if err != nil {
		return fmt.Errorf("open status store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) withQueue(ctx context.Context, fn func(*queue.Queue) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	q, err := queue.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to queue at %s: %w", cfg.Queue.RedisAddr, err)
	}
	defer q.Close()
	return fn(q)
}

func (c *commandContext) withRuntime(cmd *cobra.Command, requireQueue bool, fn func(*daemonrun.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	rt, err := daemonrun.Open(cmd.Context(), cfg, daemonrun.OpenOptions{
		Logger:       c.cliLogger(cmd),
		RequireQueue: requireQueue,
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
