package config

const (
	defaultDataDir             = "~/.local/share/lectern"
	defaultStagingDir          = "~/.local/share/lectern/staging"
	defaultLogDir              = "~/.local/share/lectern/logs"
	defaultLogFormat           = "auto"
	defaultLogLevel            = "info"
	defaultWorkers             = 4
	defaultQueuePollInterval   = 5
	defaultErrorRetryInterval  = 10
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultExpirySweepInterval = 300
	defaultStageTimeout        = 3600
	defaultRetryMaxAttempts    = 3
	defaultRetryBaseDelay      = 30
	defaultRetryMaxDelay       = 1800
	defaultRetryJitterFraction = 0.2
	defaultQuotaMaxWait        = 1800
	defaultQuotaRetryInterval  = 30
	defaultPublishPolicy       = "all_required"
	defaultStorageBackend      = "local"
	defaultSourcePollInterval  = 60
	defaultFFmpegBinary        = "ffmpeg"
	defaultTranscriberBinary   = "whisper-cli"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Workflow: Workflow{
			Workers:             defaultWorkers,
			QueuePollInterval:   defaultQueuePollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			HeartbeatTimeout:    defaultHeartbeatTimeout,
			ExpirySweepInterval: defaultExpirySweepInterval,
			StageTimeout:        defaultStageTimeout,
		},
		Retry: Retry{
			MaxAttempts:    defaultRetryMaxAttempts,
			BaseDelay:      defaultRetryBaseDelay,
			MaxDelay:       defaultRetryMaxDelay,
			JitterFraction: defaultRetryJitterFraction,
		},
		Quota: Quota{
			MaxWait:       defaultQuotaMaxWait,
			RetryInterval: defaultQuotaRetryInterval,
		},
		Publish: Publish{
			DefaultPolicy: defaultPublishPolicy,
		},
		Storage: Storage{
			Backend: defaultStorageBackend,
		},
		Source: Source{
			PollInterval: defaultSourcePollInterval,
		},
		Tools: Tools{
			FFmpeg:      defaultFFmpegBinary,
			Transcriber: defaultTranscriberBinary,
		},
	}
}
