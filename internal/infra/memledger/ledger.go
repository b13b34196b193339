// Package memledger keeps the renewal ledger in process memory. Records are lost on
// restart, so it only suits local runs and tests.
package memledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"renewal_notifier/internal/domain/notification"
)

var _ notification.Ledger = (*Ledger)(nil)

type Ledger struct {
	mu      sync.Mutex
	lease   time.Duration
	records map[notification.CycleKey]*notification.Record
}

func New(lease time.Duration) *Ledger {
	if lease <= 0 {
		lease = notification.DefaultLease
	}
	return &Ledger{lease: lease, records: make(map[notification.CycleKey]*notification.Record)}
}

func (l *Ledger) HasNotified(_ context.Context, key notification.CycleKey) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	return ok && rec.Notified(), nil
}

func (l *Ledger) Reserve(_ context.Context, key notification.CycleKey, now time.Time) (*notification.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now = now.UTC().Truncate(time.Second)
	rec, ok := l.records[key]
	if !ok {
		rec = &notification.Record{
			Key:        key,
			Status:     notification.StatusReserved,
			Attempts:   1,
			ReservedAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		l.records[key] = rec
		out := *rec
		return &out, nil
	}

	switch rec.Status {
	case notification.StatusSent:
		return nil, notification.ErrAlreadyReserved
	case notification.StatusSending:
		return nil, notification.ErrDeliveryInDoubt
	case notification.StatusReserved:
		if !rec.ReservedAt.Before(now.Add(-l.lease)) {
			return nil, notification.ErrAlreadyReserved
		}
	}

	rec.Status = notification.StatusReserved
	rec.Attempts++
	rec.ReservedAt = now
	rec.LastError = ""
	rec.UpdatedAt = now
	out := *rec
	return &out, nil
}

func (l *Ledger) Record(_ context.Context, key notification.CycleKey, outcome notification.Outcome, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	at = at.UTC().Truncate(time.Second)
	rec, ok := l.records[key]
	if !ok {
		rec = &notification.Record{Key: key, Attempts: 1, CreatedAt: at}
		l.records[key] = rec
	}
	if rec.Status == notification.StatusSent {
		return nil
	}

	rec.Status = outcome.Status
	rec.UpdatedAt = at
	if outcome.Status == notification.StatusSent {
		rec.SentAt = at
		rec.LastError = ""
	} else {
		rec.LastError = outcome.Error
	}
	return nil
}

func (l *Ledger) History(_ context.Context, subscriptionID string) ([]notification.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := make([]notification.Record, 0)
	for key, rec := range l.records {
		if key.SubscriptionID == subscriptionID {
			history = append(history, *rec)
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Key.RenewalTimestamp < history[j].Key.RenewalTimestamp
	})
	return history, nil
}
