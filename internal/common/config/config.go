// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Registry      RegistryConfig          `mapstructure:"registry"`
	Queue         QueueConfig             `mapstructure:"queue"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Scheduler     SchedulerConfig         `mapstructure:"scheduler"`
	Completeness  CompletenessConfig      `mapstructure:"completeness"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Audit         AuditConfig             `mapstructure:"audit"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig is the ops listener serving health, metrics and manual triggers.
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RegistryConfig holds the external case registry settings.
type RegistryConfig struct {
	BaseURL         string   `mapstructure:"base_url"`
	TokenURL        string   `mapstructure:"token_url"`
	ClientID        string   `mapstructure:"client_id"`
	ClientSecret    string   `mapstructure:"client_secret"`
	Scopes          []string `mapstructure:"scopes"`
	Timeout         int      `mapstructure:"timeout"` // milliseconds
	SearchBatchSize int      `mapstructure:"search_batch_size"`
	ReferralStage   string   `mapstructure:"referral_stage"`
	SubmissionStage string   `mapstructure:"submission_stage"`
}

// QueueConfig holds the Redis job queue settings.
type QueueConfig struct {
	Prefix          string `mapstructure:"prefix"`
	PollInterval    int    `mapstructure:"poll_interval"`     // milliseconds
	RetainCompleted bool   `mapstructure:"retain_completed"`  // keep completed jobs for audit
	RetentionPeriod int    `mapstructure:"retention_period"`  // milliseconds, completed/failed sets are trimmed past it
	ValidatePayload bool   `mapstructure:"validate_payloads"` // check payloads against the job catalog on enqueue
}

// WorkerConfig holds the core settings applicable to every job type.
type WorkerConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxJobsActive int    `mapstructure:"max_jobs_active"`
	Timeout       int    `mapstructure:"timeout"`      // milliseconds
	MaxRetries    int    `mapstructure:"max_retries"`  // total attempts
	BackoffType   string `mapstructure:"backoff_type"` // fixed | exponential
	BackoffDelay  int    `mapstructure:"backoff_delay"`
	BackoffMax    int    `mapstructure:"backoff_max"`
}

// SchedulerConfig holds the periodic trigger intervals.
type SchedulerConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	ScanInterval       int  `mapstructure:"scan_interval"`        // milliseconds
	StageCheckInterval int  `mapstructure:"stage_check_interval"` // milliseconds
}

type CompletenessConfig struct {
	ScreeningAge    int `mapstructure:"screening_age"`
	SubmissionDelay int `mapstructure:"submission_delay"`
}

// NotificationConfig holds settings for the notification collaborator.
type NotificationConfig struct {
	Email struct {
		Enabled       bool   `mapstructure:"enabled"`
		FromEmail     string `mapstructure:"from_email"`
		OperatorEmail string `mapstructure:"operator_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
	Timeout int `mapstructure:"timeout"` // milliseconds
}

// AuditConfig controls the Elasticsearch audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
