// internal/notification/notifier.go
package notification

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"package-orchestrator/internal/common/errors"
	"package-orchestrator/internal/common/logger"
	"package-orchestrator/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
)

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier delivers best-effort package notifications by email and SMS.
// Callers log a returned error and carry on.
type Notifier struct {
	config    *Config
	db        *sql.DB
	logger    logger.Logger
	sesClient SESService
	snsClient SNSService
	templates map[string]models.NotificationTemplate
}

func NewNotifier(cfg *Config, db *sql.DB, sesClient SESService, snsClient SNSService, log logger.Logger) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Notifier{
		config:    cfg,
		db:        db,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
		sesClient: sesClient,
		snsClient: snsClient,
		templates: defaultTemplates,
	}
}

type recipient struct {
	name  string
	email string
	phone string
}

func (n *Notifier) Notify(ctx context.Context, req Request) (*models.Notification, error) {
	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	out := &models.Notification{
		ID:        uuid.New().String(),
		PackageID: req.PackageID,
		Type:      req.Type,
		Status:    StatusDisabled,
		SentAt:    time.Now().UTC().Format(time.RFC3339),
	}

	tmpl, ok := n.templates[req.Type]
	if !ok {
		return out, errors.NewNotificationSendFailedError(req.Type, fmt.Errorf("template not found for type: %s", req.Type))
	}

	to, err := n.recipientFor(ctx, req)
	if err != nil {
		n.logger.Warn("recipient not found", map[string]interface{}{
			"packageId": req.PackageID,
			"type":      req.Type,
			"error":     err,
		})
		return out, nil
	}

	data := map[string]interface{}{
		"packageId": req.PackageID,
		"name":      to.name,
	}
	for k, v := range req.Data {
		data[k] = v
	}
	subject := renderTemplate(tmpl.Subject, data)
	body := renderTemplate(tmpl.Body, data)

	if n.config.EmailEnabled && n.sesClient != nil && to.email != "" {
		if err := n.sendEmail(ctx, to.email, subject, body); err != nil {
			out.Status = StatusFailed
			return out, errors.NewNotificationSendFailedError(req.Type, err)
		}
		out.Channels = append(out.Channels, ChannelEmail)
	}

	// SMS only for stage changes
	if n.config.SMSEnabled && n.snsClient != nil && to.phone != "" && req.Type == TypeStageChanged {
		if err := n.sendSMS(ctx, to.phone, body); err != nil {
			out.Status = StatusFailed
			return out, errors.NewNotificationSendFailedError(req.Type, err)
		}
		out.Channels = append(out.Channels, ChannelSMS)
	}

	if len(out.Channels) > 0 {
		out.Status = StatusSent
	}
	n.logger.Debug("notification processed", map[string]interface{}{
		"notificationId": out.ID,
		"packageId":      req.PackageID,
		"type":           req.Type,
		"status":         out.Status,
	})
	return out, nil
}

func (n *Notifier) recipientFor(ctx context.Context, req Request) (*recipient, error) {
	if req.Type == TypeSubmissionFailed {
		if n.config.OperatorEmail == "" {
			return nil, fmt.Errorf("no operator email configured")
		}
		return &recipient{name: "operator", email: n.config.OperatorEmail}, nil
	}

	var r recipient
	var first, last string
	err := n.db.QueryRowContext(ctx, `
		SELECT first_name, last_name, email, phone
		FROM household_members
		WHERE package_id = $1 AND relationship = $2
		LIMIT 1`, req.PackageID, models.RelationshipSelf).Scan(&first, &last, &r.email, &r.phone)
	if err != nil {
		return nil, err
	}
	r.name = strings.TrimSpace(first + " " + last)
	return &r, nil
}

func (n *Notifier) sendEmail(ctx context.Context, to, subject, body string) error {
	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.config.FromEmail),
	})
	return err
}

func (n *Notifier) sendSMS(ctx context.Context, to, message string) error {
	_, err := n.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	return err
}

// renderTemplate substitutes {{key}} placeholders; unknown placeholders render empty.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return result
}
