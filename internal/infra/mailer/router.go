package mailer

import (
	"fmt"

	"renewal_notifier/internal/domain/mail"
	"renewal_notifier/internal/infra/config"

	"github.com/sirupsen/logrus"
)

// NewFromConfig picks the delivery provider named by MAIL_PROVIDER.
func NewFromConfig(cfg *config.AppConfig, logger *logrus.Entry) (mail.Sender, error) {
	switch cfg.MailProvider {
	case config.MailProviderPostmark:
		return NewPostmarkSender(cfg.PostmarkServerToken), nil
	case config.MailProviderSMTP:
		return NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}), nil
	case config.MailProviderLog, "":
		logger.Warn("No email provider configured, reminders will only be logged")
		return NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.MailProvider)
	}
}
