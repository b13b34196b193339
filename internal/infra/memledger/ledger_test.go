package memledger

import (
	"testing"
	"time"

	"renewal_notifier/internal/domain/notification"
	"renewal_notifier/internal/domain/notification/notificationtest"
)

func TestLedgerContract(t *testing.T) {
	notificationtest.RunLedgerContract(t, func(t *testing.T, lease time.Duration) notification.Ledger {
		return New(lease)
	})
}
