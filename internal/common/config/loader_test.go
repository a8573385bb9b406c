package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseYAML = `
app:
  name: package-orchestrator
database:
  postgres:
    host: localhost
    database: portal
    user: orchestrator
    password: ${TEST_DB_PASSWORD}
  redis:
    address: localhost:6379
registry:
  base_url: https://registry.example.test/api
workers:
  submission:
    enabled: true
    max_retries: 20
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_DefaultsAndExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, baseYAML))
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Postgres.Password)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, 10, cfg.Registry.SearchBatchSize)
	assert.Equal(t, "Referral", cfg.Registry.ReferralStage)
	assert.Equal(t, "Application", cfg.Registry.SubmissionStage)
	assert.Equal(t, 30000, cfg.Scheduler.StageCheckInterval)
	assert.Equal(t, 18, cfg.Completeness.ScreeningAge)
	assert.Equal(t, 5000, cfg.Completeness.SubmissionDelay)
	assert.Equal(t, "orchestrator", cfg.Queue.Prefix)

	sub := cfg.Workers["submission"]
	assert.Equal(t, 20, sub.MaxRetries, "explicit value wins")
	assert.Equal(t, "exponential", sub.BackoffType)
	assert.Equal(t, 3600000, sub.BackoffMax)

	check := cfg.Workers["completeness-check"]
	assert.True(t, check.Enabled)
	assert.Equal(t, 3, check.MaxRetries)
	assert.Equal(t, "fixed", check.BackoffType)
	assert.Equal(t, 5*time.Second, GetDuration(check.BackoffDelay))
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing registry",
			yaml:    "database:\n  postgres:\n    host: h\n    database: d\n    user: u\n  redis:\n    address: a\n",
			wantErr: "registry.base_url is required",
		},
		{
			name:    "missing redis",
			yaml:    "database:\n  postgres:\n    host: h\n    database: d\n    user: u\nregistry:\n  base_url: http://r\n",
			wantErr: "database.redis.address is required",
		},
		{
			name:    "bad backoff",
			yaml:    baseYAML + "  stage-check:\n    enabled: true\n    backoff_type: linear\n",
			wantErr: "backoff_type must be fixed or exponential",
		},
		{
			name:    "audit without elasticsearch",
			yaml:    baseYAML + "audit:\n  enabled: true\n",
			wantErr: "elasticsearch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_HOST", "")
			t.Setenv("REDIS_ADDRESS", "")
			t.Setenv("REGISTRY_BASE_URL", "")
			_, err := LoadFromFile(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOverrideEmptyConfig(t *testing.T) {
	t.Setenv("REGISTRY_CLIENT_SECRET", "from-env")
	cfg := &Config{}
	cfg.Registry.ClientSecret = ""
	overrideEmptyConfig(cfg)
	assert.Equal(t, "from-env", cfg.Registry.ClientSecret)

	cfg.Registry.ClientSecret = "explicit"
	overrideEmptyConfig(cfg)
	assert.Equal(t, "explicit", cfg.Registry.ClientSecret)
}

func TestGetWorkerConfig_Fallbacks(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{}}

	assert.Equal(t, 16, GetWorkerConfig(cfg, "submit-referral").MaxRetries)
	assert.Equal(t, 3, GetWorkerConfig(cfg, "unknown").MaxRetries)
	assert.True(t, IsWorkerEnabled(cfg, "unknown"))

	cfg.Workers["stage-check"] = WorkerConfig{Enabled: false}
	assert.False(t, IsWorkerEnabled(cfg, "stage-check"))
}
