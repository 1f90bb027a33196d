package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/haulops-crm/internal/config"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/messaging"
	"github.com/wolfman30/haulops-crm/internal/notify"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// BuildSMSSender returns the Twilio sender, or a log-only sender outside
// production when Twilio is not configured.
func BuildSMSSender(cfg *appconfig.Config, logger *logging.Logger) (messaging.SMSSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if strings.TrimSpace(cfg.TwilioAccountSID) != "" {
		return messaging.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger), nil
	}
	if cfg.Env == "production" {
		return nil, fmt.Errorf("bootstrap: TWILIO_ACCOUNT_SID is required in production")
	}
	logger.Warn("twilio not configured; sms will only be logged")
	return messaging.NewLogSender(logger), nil
}

// BuildDMSender returns the Graph API sender, or nil when no page token is set.
func BuildDMSender(cfg *appconfig.Config, logger *logging.Logger) messaging.DMSender {
	sender := messaging.NewGraphDMSender(cfg.MetaPageAccessToken, logger)
	if sender == nil {
		return nil
	}
	return sender
}

// BuildEmailSender picks the email provider named by EMAIL_PROVIDER.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return nil, fmt.Errorf("bootstrap: SENDGRID_API_KEY is required for the sendgrid provider")
		}
		return sender, nil
	case "ses":
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger), nil
	case "", "stub":
		return notify.NewStubEmailSender(logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown email provider %q", cfg.EmailProvider)
	}
}

// BuildInboundQueue returns the SQS queue for inbound-message events, or an
// in-memory queue when USE_MEMORY_QUEUE is set.
func BuildInboundQueue(cfg *appconfig.Config, awsCfg aws.Config) (events.QueueClient, error) {
	if err := cfg.RequireQueue(); err != nil {
		return nil, err
	}
	if cfg.UseMemoryQueue {
		return events.NewMemoryQueue(1024), nil
	}
	return events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.InboundEventsQueueURL), nil
}
