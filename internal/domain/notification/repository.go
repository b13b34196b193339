// internal/domain/notification/repository.go
package notification

import (
	"context"
	"fmt"
	"time"
)

// ErrAlreadyReserved is returned by Reserve when the cycle was delivered or another
// invocation holds a live reservation on it.
var ErrAlreadyReserved = fmt.Errorf("renewal cycle already notified or reserved")

// ErrDeliveryInDoubt is returned by Reserve for a cycle left in the sending state. The
// reminder may have reached the customer, so an operator has to resolve it.
var ErrDeliveryInDoubt = fmt.Errorf("renewal cycle delivery outcome unknown")

// DefaultLease is how long a reservation blocks other invocations before it is treated
// as abandoned.
const DefaultLease = 24 * time.Hour

// Ledger records which renewal cycles have been notified.
type Ledger interface {
	// HasNotified reports whether a reminder for the cycle was delivered.
	HasNotified(ctx context.Context, key CycleKey) (bool, error)

	// Reserve atomically claims the cycle for delivery. It succeeds for an unknown cycle,
	// a failed cycle, or a reservation older than the ledger's lease. A sending cycle
	// returns ErrDeliveryInDoubt; anything else returns ErrAlreadyReserved.
	Reserve(ctx context.Context, key CycleKey, now time.Time) (*Record, error)

	// Record stores the delivery state. A sent cycle never changes again.
	Record(ctx context.Context, key CycleKey, outcome Outcome, at time.Time) error

	// History lists the cycles recorded for a subscription, oldest renewal first.
	History(ctx context.Context, subscriptionID string) ([]Record, error)
}
