package config

const (
	defaultConfigPath            = "~/.config/assemblyline/config.toml"
	defaultScratchDir            = "~/.local/share/assemblyline/scratch"
	defaultStateDir              = "~/.local/share/assemblyline"
	defaultLogDir                = "~/.local/share/assemblyline/logs"
	defaultAPIBind               = "127.0.0.1:7490"
	defaultStorageBackend        = "minio"
	defaultStorageEndpoint       = "localhost:9000"
	defaultStorageRegion         = "us-east-1"
	defaultTempBucket            = "assembly-uploads"
	defaultOutputBucket          = "assembly-results"
	defaultRedisAddr             = "localhost:6379"
	defaultQueueName             = "assemblyline:jobs"
	defaultVisibilityTimeout     = 900
	defaultMaxReceives           = 5
	defaultDedupWindowSeconds    = 300
	defaultReceiveBatchSize      = 10
	defaultSendBatchSize         = 10
	maxSendBatchSize             = 10
	defaultPollIntervalSeconds   = 2
	defaultBranch                = "main"
	defaultMaxConcurrency        = 4
	defaultClaimTTLSeconds       = 900
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultWebhookTimeout        = 30
	defaultWebhookMaxRetries     = 3
	defaultWebhookInitialBackoff = 1
	defaultReaperSchedule        = "@every 15s"
	defaultRetentionDays         = 30
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchDir: defaultScratchDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Storage: Storage{
			Backend:      defaultStorageBackend,
			Endpoint:     defaultStorageEndpoint,
			Region:       defaultStorageRegion,
			TempBucket:   defaultTempBucket,
			OutputBucket: defaultOutputBucket,
		},
		Queue: Queue{
			RedisAddr:                defaultRedisAddr,
			Name:                     defaultQueueName,
			VisibilityTimeoutSeconds: defaultVisibilityTimeout,
			MaxReceives:              defaultMaxReceives,
			DedupWindowSeconds:       defaultDedupWindowSeconds,
			ReceiveBatchSize:         defaultReceiveBatchSize,
			SendBatchSize:            defaultSendBatchSize,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			DefaultBranch:            defaultBranch,
		},
		Processor: Processor{
			MaxConcurrency:  defaultMaxConcurrency,
			ClaimTTLSeconds: defaultClaimTTLSeconds,
			FFmpegBinary:    defaultFFmpegBinary,
			FFprobeBinary:   defaultFFprobeBinary,
		},
		Webhook: Webhook{
			TimeoutSeconds:        defaultWebhookTimeout,
			MaxRetries:            defaultWebhookMaxRetries,
			InitialBackoffSeconds: defaultWebhookInitialBackoff,
		},
		Reaper: Reaper{
			Schedule:      defaultReaperSchedule,
			RetentionDays: defaultRetentionDays,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
