// Package config loads the process configuration once at startup.
//
// Values resolve in priority order: OS environment, then a .env file, then
// AWS SSM parameters referenced by <NAME>_SSM_PARAM variables. Any missing or
// malformed value fails startup.
package config

import (
	"time"

	"batchexports/internal/types"
)

// SecretString is the redacted secret type used for credentials.
type SecretString = types.SecretString

// Config is the top-level configuration. Components receive only the
// sub-config they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"batch-exports"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Engine        EngineConfig
	Encryption    EncryptionConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	Build BuildInfo `ignored:"true"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"20s"`
}

// DatabaseConfig holds the Postgres connection and pool tuning.
type DatabaseConfig struct {
	URL               SecretString  `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns          int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int32         `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// EngineConfig points at the workflow engine that runs export schedules.
type EngineConfig struct {
	BaseURL    string        `envconfig:"ENGINE_URL" validate:"required,url"`
	Namespace  string        `envconfig:"ENGINE_NAMESPACE" default:"default"`
	TaskQueue  string        `envconfig:"ENGINE_TASK_QUEUE" default:"batch-exports-task-queue"`
	APIKey     SecretString  `envconfig:"ENGINE_API_KEY"`
	RPCTimeout time.Duration `envconfig:"ENGINE_RPC_TIMEOUT" default:"10s" validate:"gt=0"`
	MaxRetries uint64        `envconfig:"ENGINE_MAX_RETRIES" default:"3" validate:"max=10"`
}

// EncryptionConfig holds the server-wide key used for destination secrets and
// workflow arguments. Keys are zero-padded or truncated to 32 bytes.
type EncryptionConfig struct {
	SecretKey SecretString `envconfig:"ENCRYPTION_SECRET_KEY" validate:"required,min=16"`
}

// AWSConfig holds AWS resources used for lifecycle events and metrics.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	EventQueueURL string `envconfig:"SQS_EXPORT_EVENTS" validate:"omitempty,url"`
	CallbackQueue string `envconfig:"SQS_ENGINE_CALLBACKS" validate:"omitempty,url"`
	// EndpointURL targets LocalStack; empty in deployed environments.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// SecurityConfig holds credentials for internal endpoints.
type SecurityConfig struct {
	AdminAPIKey SecretString `envconfig:"ADMIN_API_KEY" validate:"required"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"BatchExports"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo is build metadata injected with -ldflags, e.g.
//
//	go build -ldflags "-X batchexports/internal/config.version=1.2.3"
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// ConfigErrorType categorizes configuration failures.
type ConfigErrorType string

const (
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
