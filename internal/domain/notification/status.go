// internal/domain/notification/status.go
package notification

import "time"

// Record is the ledger entry for one renewal cycle.
// Corresponds to the 'renewal_notifications' table.
type Record struct {
	Key        CycleKey
	Status     DeliveryStatus
	Attempts   int
	ReservedAt time.Time // zero if never reserved
	SentAt     time.Time // zero unless Status is StatusSent
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Notified reports whether the cycle has been delivered.
func (r Record) Notified() bool {
	return r.Status == StatusSent
}
