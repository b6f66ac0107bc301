package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESClient is the subset of the SES API used for alerts
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertService e-mails security events to operators using AWS SES.
// It is an audit sink and runs behind a background.Dispatcher.
type SESAlertService struct {
	client      SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESAlertService creates an alert service backed by the default AWS credential chain
func NewSESAlertService(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESAlertService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESAlertServiceWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger)
}

// NewSESAlertServiceWithClient creates an alert service with an explicit client
func NewSESAlertServiceWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) (*SESAlertService, error) {
	if fromAddress == "" {
		return nil, errors.New("alert from address is required")
	}
	if len(recipients) == 0 {
		return nil, errors.New("at least one alert recipient is required")
	}

	return &SESAlertService{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}, nil
}

// Emit sends one alert e-mail for the entry. Entries below error severity are ignored.
func (s *SESAlertService) Emit(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry == nil || !entry.Severity.RaisesSecurityEvent() {
		return nil
	}

	subject := fmt.Sprintf("[%s] Security event: %s", strings.ToUpper(string(entry.Severity)), entry.EventType)
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(alertBody(entry)),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send security alert via SES",
			slog.String("event_type", entry.EventType),
			slog.String("audit_id", entry.ID),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	s.logger.Info("security alert sent",
		slog.String("event_type", entry.EventType),
		slog.String("audit_id", entry.ID),
		slog.String("message_id", messageID))

	return nil
}

func alertBody(entry *models.AuditLogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event:       %s\n", entry.EventType)
	fmt.Fprintf(&b, "Severity:    %s\n", entry.Severity)
	fmt.Fprintf(&b, "Time:        %s\n", entry.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Audit ID:    %s\n", entry.ID)
	fmt.Fprintf(&b, "Description: %s\n", entry.EventDescription)

	optional := []struct {
		label string
		value *string
	}{
		{"User ID", entry.UserID},
		{"Session ID", entry.SessionID},
		{"IP address", entry.IPAddress},
		{"Method", entry.RequestMethod},
		{"Path", entry.RequestPath},
	}
	for _, f := range optional {
		if f.value != nil {
			fmt.Fprintf(&b, "%-12s %s\n", f.label+":", *f.value)
		}
	}

	if len(entry.AdditionalData) > 0 {
		keys := make([]string, 0, len(entry.AdditionalData))
		for k := range entry.AdditionalData {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, entry.AdditionalData[k])
		}
	}

	b.WriteString("\nThis is an automated message. Please do not reply to this email.\n")
	return b.String()
}
