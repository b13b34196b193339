package telegram

import (
	"context"

	"renewal_notifier/internal/app"
	domainTelegram "renewal_notifier/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

var _ app.BatchObserver = (*OpsNotifier)(nil)

// OpsNotifier messages the admin chat after runs that failed or had failed items.
type OpsNotifier struct {
	client      domainTelegram.Client
	adminChatID int64
	logger      *logrus.Entry
}

func NewOpsNotifier(client domainTelegram.Client, adminChatID int64, logger *logrus.Entry) *OpsNotifier {
	return &OpsNotifier{client: client, adminChatID: adminChatID, logger: logger}
}

func (n *OpsNotifier) ObserveBatch(_ context.Context, report *app.BatchReport) {
	if n.adminChatID == 0 || (report.OK && report.Failed == 0) {
		return
	}
	if err := n.client.SendMessage(n.adminChatID, formatReport(report)); err != nil {
		n.logger.WithError(err).WithField("run_id", report.RunID).Error("Failed to send ops alert to admin")
	}
}
