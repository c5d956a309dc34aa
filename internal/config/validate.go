package config

import (
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePublish(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validatePlatforms(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return fmt.Errorf("paths.staging_dir is required")
	}
	return nil
}

func (c *Config) validatePublish() error {
	switch c.Publish.DefaultPolicy {
	case "all_required", "best_effort":
		return nil
	default:
		return fmt.Errorf("publish.default_policy must be %q or %q, got %q", "all_required", "best_effort", c.Publish.DefaultPolicy)
	}
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case "local":
		return nil
	case "s3":
		if strings.TrimSpace(c.Storage.S3Bucket) == "" {
			return fmt.Errorf("storage.s3_bucket is required when storage.backend is %q", "s3")
		}
		if strings.TrimSpace(c.Storage.S3Region) == "" {
			return fmt.Errorf("storage.s3_region is required when storage.backend is %q", "s3")
		}
		return nil
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", "local", "s3", c.Storage.Backend)
	}
}

func (c *Config) validatePlatforms() error {
	for name, platform := range c.Platforms {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("platforms: platform name must not be empty")
		}
		if strings.TrimSpace(platform.Endpoint) == "" {
			return fmt.Errorf("platforms.%s.endpoint is required", name)
		}
	}
	return nil
}
