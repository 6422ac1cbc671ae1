package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"assemblyline/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold the daemon configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration with bucket and queue placeholders",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			switch _, err := os.Stat(target); {
			case err == nil && !overwrite:
				return fmt.Errorf("%s already exists; pass --overwrite to replace it", target)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return fmt.Errorf("inspect %s: %w", target, err)
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Next: set storage.temp_bucket, storage.output_bucket and queue.redis_addr,")
			fmt.Fprintf(out, "then run `assemblyline config validate --config %s`.\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Where to write the file (default: the standard config location)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

// initTarget resolves the --path flag, falling back to the standard location.
func initTarget(flag string) (string, error) {
	if flag = strings.TrimSpace(flag); flag != "" {
		path, err := config.ExpandPath(flag)
		if err != nil {
			return "", fmt.Errorf("resolve --path: %w", err)
		}
		return path, nil
	}
	path, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("locate default config: %w", err)
	}
	return path, nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			source := ctx.configPath
			if !ctx.configExists {
				source += " (not found, built-in defaults)"
			}
			fmt.Fprintf(out, "Config path: %s\n", source)
			printEffectiveConfig(out, cfg)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func printEffectiveConfig(out io.Writer, cfg *config.Config) {
	storage := cfg.Storage.Backend
	if cfg.Storage.Endpoint != "" {
		storage += " @ " + cfg.Storage.Endpoint
	}
	fmt.Fprintln(out, renderFields("Effective settings", [][2]string{
		{"Storage", storage},
		{"Temp bucket", cfg.Storage.TempBucket},
		{"Output bucket", cfg.Storage.OutputBucket},
		{"Allowed buckets", strings.Join(cfg.Storage.AllowedBuckets, ", ")},
		{"Queue", cfg.Queue.Name + " on " + cfg.Queue.RedisAddr},
		{"Visibility timeout", cfg.VisibilityTimeout().String()},
		{"Max receives", strconv.Itoa(cfg.Queue.MaxReceives)},
		{"Concurrency", strconv.Itoa(cfg.Processor.MaxConcurrency)},
		{"Claim TTL", cfg.ClaimTTL().String()},
		{"Webhook retries", fmt.Sprintf("%d (backoff from %s)", cfg.Webhook.MaxRetries, cfg.WebhookBackoff())},
		{"Status database", cfg.StatusDBPath()},
		{"Template overrides", strconv.Itoa(len(cfg.Templates))},
	}))
}
