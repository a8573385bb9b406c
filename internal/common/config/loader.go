// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Job type names, duplicated here so config stays free of domain imports.
const (
	workerCompletenessCheck = "completeness-check"
	workerSubmission        = "submission"
	workerSubmitReferral    = "submit-referral"
	workerPeriodicScan      = "periodic-scan"
	workerStageCheck        = "stage-check"
)

// DefaultWorkerConfigs are the per-job-type defaults. Checks are cheap and retried a few
// times on a fixed delay; registry submissions get many attempts on a capped exponential backoff.
var DefaultWorkerConfigs = map[string]WorkerConfig{
	workerCompletenessCheck: {Enabled: true, MaxJobsActive: 5, Timeout: 30000, MaxRetries: 3, BackoffType: "fixed", BackoffDelay: 5000},
	workerSubmission:        {Enabled: true, MaxJobsActive: 3, Timeout: 120000, MaxRetries: 16, BackoffType: "exponential", BackoffDelay: 2000, BackoffMax: 3600000},
	workerSubmitReferral:    {Enabled: true, MaxJobsActive: 3, Timeout: 120000, MaxRetries: 16, BackoffType: "exponential", BackoffDelay: 2000, BackoffMax: 3600000},
	workerPeriodicScan:      {Enabled: true, MaxJobsActive: 1, Timeout: 300000, MaxRetries: 1, BackoffType: "fixed"},
	workerStageCheck:        {Enabled: true, MaxJobsActive: 1, Timeout: 300000, MaxRetries: 1, BackoffType: "fixed"},
}

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like REGISTRY_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // environment overlay is optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from the first candidate location that exists.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env", // tests in test/e2e/
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				fmt.Printf("✅ Loaded .env from: %s\n", path)
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.Database.Postgres.Host, "DB_HOST")
	setIfEmpty(&cfg.Database.Postgres.User, "DB_USER")
	setIfEmpty(&cfg.Database.Postgres.Password, "DB_PASSWORD")
	setIfEmpty(&cfg.Database.Postgres.Database, "DB_NAME")
	setIfEmpty(&cfg.Database.Redis.Address, "REDIS_ADDRESS")
	setIfEmpty(&cfg.Database.Redis.Password, "REDIS_PASSWORD")

	setIfEmpty(&cfg.Registry.BaseURL, "REGISTRY_BASE_URL")
	setIfEmpty(&cfg.Registry.TokenURL, "REGISTRY_TOKEN_URL")
	setIfEmpty(&cfg.Registry.ClientID, "REGISTRY_CLIENT_ID")
	setIfEmpty(&cfg.Registry.ClientSecret, "REGISTRY_CLIENT_SECRET")
}

func setIfEmpty(field *string, envKey string) {
	if *field != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "package-orchestrator"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30000
	}

	// Database defaults
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	// Registry defaults
	if cfg.Registry.Timeout == 0 {
		cfg.Registry.Timeout = 30000
	}
	if cfg.Registry.SearchBatchSize == 0 {
		cfg.Registry.SearchBatchSize = 10
	}
	if cfg.Registry.ReferralStage == "" {
		cfg.Registry.ReferralStage = "Referral"
	}
	if cfg.Registry.SubmissionStage == "" {
		cfg.Registry.SubmissionStage = "Application"
	}

	// Queue defaults
	if cfg.Queue.Prefix == "" {
		cfg.Queue.Prefix = "orchestrator"
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = 1000
	}
	if cfg.Queue.RetentionPeriod == 0 {
		cfg.Queue.RetentionPeriod = 7 * 24 * 3600 * 1000
	}

	// Worker defaults, per job type
	if cfg.Workers == nil {
		cfg.Workers = make(map[string]WorkerConfig)
	}
	for key, def := range DefaultWorkerConfigs {
		worker, exists := cfg.Workers[key]
		if !exists {
			cfg.Workers[key] = def
			continue
		}
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = def.MaxJobsActive
		}
		if worker.Timeout == 0 {
			worker.Timeout = def.Timeout
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = def.MaxRetries
		}
		if worker.BackoffType == "" {
			worker.BackoffType = def.BackoffType
		}
		if worker.BackoffDelay == 0 {
			worker.BackoffDelay = def.BackoffDelay
		}
		if worker.BackoffMax == 0 {
			worker.BackoffMax = def.BackoffMax
		}
		cfg.Workers[key] = worker
	}

	// Scheduler defaults
	if cfg.Scheduler.ScanInterval == 0 {
		cfg.Scheduler.ScanInterval = 300000
	}
	if cfg.Scheduler.StageCheckInterval == 0 {
		cfg.Scheduler.StageCheckInterval = 30000
	}

	if cfg.Completeness.ScreeningAge == 0 {
		cfg.Completeness.ScreeningAge = 18
	}
	if cfg.Completeness.SubmissionDelay == 0 {
		cfg.Completeness.SubmissionDelay = 5000
	}

	if cfg.Notifications.Timeout == 0 {
		cfg.Notifications.Timeout = 10000
	}
	if cfg.Notifications.AWS.Region == "" {
		cfg.Notifications.AWS.Region = "us-east-1"
	}

	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "package-events"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required")
	}

	if cfg.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	if cfg.Registry.ClientID != "" && cfg.Registry.TokenURL == "" {
		return fmt.Errorf("registry.token_url is required when registry.client_id is set")
	}
	if cfg.Registry.SearchBatchSize < 1 {
		return fmt.Errorf("registry.search_batch_size must be positive")
	}

	if cfg.Audit.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when audit is enabled")
	}

	for name, worker := range cfg.Workers {
		if worker.MaxRetries < 1 {
			return fmt.Errorf("workers.%s.max_retries must be at least 1", name)
		}
		if worker.BackoffType != "fixed" && worker.BackoffType != "exponential" {
			return fmt.Errorf("workers.%s.backoff_type must be fixed or exponential, got %q", name, worker.BackoffType)
		}
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	if def, exists := DefaultWorkerConfigs[workerName]; exists {
		return def
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
		BackoffType:   "fixed",
		BackoffDelay:  5000,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
