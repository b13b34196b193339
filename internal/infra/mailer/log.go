package mailer

import (
	"context"

	"renewal_notifier/internal/domain/mail"

	"github.com/sirupsen/logrus"
)

var _ mail.Sender = (*LogSender)(nil)

// LogSender logs emails instead of sending them. Used when no provider is configured.
type LogSender struct {
	logger *logrus.Entry
}

func NewLogSender(logger *logrus.Entry) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(_ context.Context, msg mail.Message) error {
	l.logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("Email not sent (log provider)")
	l.logger.Debug(msg.Text)
	return nil
}
