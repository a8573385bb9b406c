package completenesscheck

import (
	"fmt"
	"time"

	"package-orchestrator/internal/common/config"
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ScreeningAge  int           `mapstructure:"screening_age"`
	// SubmissionDelay holds the submission job back until the Ready
	// transition has committed.
	SubmissionDelay time.Duration `mapstructure:"submission_delay"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30 * time.Second,
		ScreeningAge:  18,

		SubmissionDelay: 5 * time.Second,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.ScreeningAge <= 0 {
		return fmt.Errorf("screening_age must be positive")
	}
	if c.SubmissionDelay < 0 {
		return fmt.Errorf("submission_delay must not be negative")
	}
	return nil
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if workerCfg, exists := appConfig.Workers[TaskType]; exists {
		cfg.Enabled = workerCfg.Enabled
		if workerCfg.MaxJobsActive > 0 {
			cfg.MaxJobsActive = workerCfg.MaxJobsActive
		}
		if workerCfg.Timeout > 0 {
			cfg.Timeout = config.GetDuration(workerCfg.Timeout)
		}
	}
	if appConfig.Completeness.ScreeningAge > 0 {
		cfg.ScreeningAge = appConfig.Completeness.ScreeningAge
	}
	if appConfig.Completeness.SubmissionDelay > 0 {
		cfg.SubmissionDelay = config.GetDuration(appConfig.Completeness.SubmissionDelay)
	}
	return cfg
}
