package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Push     PushConfig     `json:"push"`
	Database DatabaseConfig `json:"database"`
	Sweep    SweepConfig    `json:"sweep"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds the event webhook server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	ReadTimeoutSec  int    `json:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec"`
	WebhookSecret   string `json:"webhook_secret"`
}

// PushConfig holds push gateway related configuration. The API key is only
// ever taken from the environment, never from the config file.
type PushConfig struct {
	APIBaseURL string `json:"api_base_url"`
	APIKey     string `json:"-"`
	TimeoutSec int    `json:"timeoutSec"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SweepConfig controls the retry sweep cycle. The redelivery backoff schedule
// itself is fixed and not configurable.
type SweepConfig struct {
	IntervalSec         int `json:"intervalSec"`
	BatchSize           int `json:"batchSize"`
	MonitorIntervalSec  int `json:"monitorIntervalSec"`
	OverdueThresholdSec int `json:"overdueThresholdSec"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
