// internal/models/notification.go
package models

type Notification struct {
	ID        string   `json:"id"`
	PackageID string   `json:"packageId"`
	Type      string   `json:"type"`     // "submission_received", "stage_changed", "submission_failed"
	Channels  []string `json:"channels"` // "email", "sms"
	Status    string   `json:"status"`   // "sent", "failed", "disabled"
	SentAt    string   `json:"sentAt"`
}

type NotificationTemplate struct {
	Type    string `json:"type"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}
