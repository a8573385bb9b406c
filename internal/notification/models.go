// internal/notification/models.go
package notification

import "package-orchestrator/internal/models"

// Request asks for one notification about a package.
type Request struct {
	Type      string                 `json:"type"`
	PackageID string                 `json:"packageId"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notification types
const (
	TypeSubmissionReceived = "submission_received"
	TypeStageChanged       = "stage_changed"
	TypeSubmissionFailed   = "submission_failed"
)

// Statuses
const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

var defaultTemplates = map[string]models.NotificationTemplate{
	TypeSubmissionReceived: {
		Type:    TypeSubmissionReceived,
		Subject: "Your application has been submitted",
		Body:    "Hello {{name}}, your application {{packageId}} was submitted to the registry as case {{caseId}}.",
	},
	TypeStageChanged: {
		Type:    TypeStageChanged,
		Subject: "Your application has moved to {{stage}}",
		Body:    "Hello {{name}}, your application {{packageId}} is now at stage {{stage}} (previously {{previousStage}}).",
	},
	TypeSubmissionFailed: {
		Type:    TypeSubmissionFailed,
		Subject: "Package submission failed: {{packageId}}",
		Body:    "Submission of package {{packageId}} failed after {{attempts}} attempts. Last error: {{error}}. Reset it with package-admin once the cause is fixed.",
	},
}
