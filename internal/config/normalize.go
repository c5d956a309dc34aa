package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeWorkflow()
	c.normalizeRetry()
	c.normalizeQuota()
	c.normalizePublish()
	c.normalizeStorage()
	c.normalizeSource()
	c.normalizeTools()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaultLogFormat
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkers
	}
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollInterval
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		c.Workflow.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		c.Workflow.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		c.Workflow.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Workflow.ExpirySweepInterval <= 0 {
		c.Workflow.ExpirySweepInterval = defaultExpirySweepInterval
	}
	if c.Workflow.StageTimeout <= 0 {
		c.Workflow.StageTimeout = defaultStageTimeout
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = defaultRetryBaseDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaultRetryMaxDelay
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		c.Retry.JitterFraction = defaultRetryJitterFraction
	}
}

func (c *Config) normalizeQuota() {
	if c.Quota.MaxWait <= 0 {
		c.Quota.MaxWait = defaultQuotaMaxWait
	}
	if c.Quota.RetryInterval <= 0 {
		c.Quota.RetryInterval = defaultQuotaRetryInterval
	}
}

func (c *Config) normalizePublish() {
	policy := strings.ToLower(strings.TrimSpace(c.Publish.DefaultPolicy))
	if policy == "" {
		policy = defaultPublishPolicy
	}
	c.Publish.DefaultPolicy = policy
}

func (c *Config) normalizeStorage() {
	backend := strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if backend == "" {
		backend = defaultStorageBackend
	}
	c.Storage.Backend = backend
}

func (c *Config) normalizeSource() {
	if c.Source.PollInterval <= 0 {
		c.Source.PollInterval = defaultSourcePollInterval
	}
}

func (c *Config) normalizeTools() {
	if strings.TrimSpace(c.Tools.FFmpeg) == "" {
		c.Tools.FFmpeg = defaultFFmpegBinary
	}
	if strings.TrimSpace(c.Tools.Transcriber) == "" {
		c.Tools.Transcriber = defaultTranscriberBinary
	}
}
