package config

import (
	"encoding/json"
	"fmt"
	"os"

	"chatpush/internal/constants"
	"chatpush/internal/models"
	"chatpush/internal/security"
)

var (
	ErrMissingPushURL = models.ConfigError{Message: "missing push gateway API URL"}
	ErrMissingDBPath  = models.ConfigError{Message: "missing database path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Push.APIBaseURL == "" {
		return ErrMissingPushURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Push.TimeoutSec <= 0 {
		c.Push.TimeoutSec = constants.DefaultPushTimeoutSec
	}

	if c.Sweep.IntervalSec <= 0 {
		c.Sweep.IntervalSec = constants.DefaultSweepIntervalSec
	}
	if c.Sweep.BatchSize <= 0 {
		c.Sweep.BatchSize = constants.DefaultSweepBatchSize
	}
	if c.Sweep.MonitorIntervalSec <= 0 {
		c.Sweep.MonitorIntervalSec = constants.DefaultMonitorIntervalSec
	}
	if c.Sweep.OverdueThresholdSec <= 0 {
		c.Sweep.OverdueThresholdSec = constants.DefaultOverdueThresholdSec
	}

	if c.Tracing.Enabled {
		if c.Tracing.ServiceName == "" {
			c.Tracing.ServiceName = "chatpush"
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			c.Tracing.SampleRate = 1.0
		}
		if c.Tracing.OTLPEndpoint == "" && !c.Tracing.UseStdout {
			return models.ConfigError{Message: "tracing enabled but no OTLP endpoint configured (set otlp_endpoint or use_stdout)"}
		}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("PUSH_API_URL"); url != "" {
		c.Push.APIBaseURL = url
	}

	// SECURITY: credentials are only ever taken from environment variables
	if key := os.Getenv("CHATPUSH_PUSH_API_KEY"); key != "" {
		c.Push.APIKey = key
	}
	if secret := os.Getenv("CHATPUSH_WEBHOOK_SECRET"); secret != "" {
		c.Server.WebhookSecret = secret
	}

	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	// Check if we're in production mode
	isProduction := os.Getenv("CHATPUSH_ENV") == "production"

	if isProduction {
		// In production, webhook secrets are mandatory
		if c.Server.WebhookSecret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set CHATPUSH_WEBHOOK_SECRET environment variable)"}
		}

		// Validate webhook secret strength
		if len(c.Server.WebhookSecret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}

		if c.Push.APIKey == "" {
			return models.ConfigError{Message: "push gateway API key is required in production (set CHATPUSH_PUSH_API_KEY environment variable)"}
		}

		// Warn about debug logging in production
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		// In development, warn if secrets are missing
		if c.Server.WebhookSecret == "" {
			fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Set CHATPUSH_WEBHOOK_SECRET environment variable for security.\n")
		}
	}

	return nil
}
