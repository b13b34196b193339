package subscription

import "time"

// Status mirrors the billing provider's subscription status.
type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// IntervalUnit is the billing cadence unit of a recurring price.
type IntervalUnit string

const (
	IntervalDay   IntervalUnit = "day"
	IntervalWeek  IntervalUnit = "week"
	IntervalMonth IntervalUnit = "month"
	IntervalYear  IntervalUnit = "year"
)

// Subscription is a billing-source record with its customer and current price attached.
// The product behind the price is only referenced; resolving it is a separate call.
type Subscription struct {
	ID               string
	Status           Status
	CustomerID       string
	CustomerEmail    string
	CustomerName     string
	CustomerLocale   string
	RenewalAt        int64 // epoch seconds, end of the current billing period
	PriceAmountMinor int64
	Currency         string
	IntervalUnit     IntervalUnit
	IntervalCount    int64
	ProductRef       string
	ProductName      string // set only when the source already carries the product name
}

// Product is the resolved product behind a price.
type Product struct {
	ID   string
	Name string
}

// Snapshot is the immutable per-scan view of a subscription that is due for a reminder.
type Snapshot struct {
	SubscriptionID   string
	CustomerID       string
	CustomerEmail    string
	CustomerName     string
	CustomerLocale   string
	RenewalTimestamp int64
	PriceAmountMinor int64
	Currency         string
	IntervalUnit     IntervalUnit
	IntervalCount    int64
	ProductName      string
	PortalLink       string
}

// RenewalTime returns the renewal instant.
func (s Snapshot) RenewalTime() time.Time {
	return time.Unix(s.RenewalTimestamp, 0)
}
