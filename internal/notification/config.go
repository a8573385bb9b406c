// internal/notification/config.go
package notification

import (
	"time"

	"package-orchestrator/internal/common/config"
)

type Config struct {
	EmailEnabled  bool
	SMSEnabled    bool
	FromEmail     string
	OperatorEmail string
	Timeout       time.Duration
}

func ConfigFrom(cfg config.NotificationConfig) *Config {
	return &Config{
		EmailEnabled:  cfg.Email.Enabled,
		SMSEnabled:    cfg.SMS.Enabled,
		FromEmail:     cfg.Email.FromEmail,
		OperatorEmail: cfg.Email.OperatorEmail,
		Timeout:       config.GetDuration(cfg.Timeout),
	}
}
