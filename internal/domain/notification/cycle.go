// internal/domain/notification/cycle.go
package notification

import (
	"fmt"

	"renewal_notifier/internal/domain/subscription"
)

// CycleKey identifies one renewal cycle of a subscription. A rolled-over billing period
// carries a new renewal timestamp and therefore a new key.
type CycleKey struct {
	SubscriptionID   string
	RenewalTimestamp int64
}

// KeyFor derives the cycle key of a snapshot.
func KeyFor(s subscription.Snapshot) CycleKey {
	return CycleKey{SubscriptionID: s.SubscriptionID, RenewalTimestamp: s.RenewalTimestamp}
}

func (k CycleKey) String() string {
	return fmt.Sprintf("%s@%d", k.SubscriptionID, k.RenewalTimestamp)
}
