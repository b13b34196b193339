// Package notificationtest holds behaviour checks shared by every Ledger backend.
package notificationtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"renewal_notifier/internal/domain/notification"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LedgerFactory returns an empty ledger configured with the given reservation lease.
type LedgerFactory func(t *testing.T, lease time.Duration) notification.Ledger

var base = time.Unix(1_767_225_600, 0).UTC()

// RunLedgerContract exercises the dedup guarantees every backend must provide.
func RunLedgerContract(t *testing.T, newLedger LedgerFactory) {
	t.Run("unknown cycle is not notified", func(t *testing.T) {
		l := newLedger(t, time.Hour)
		ok, err := l.HasNotified(context.Background(), key("sub_1", 100))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reserve then record sent is terminal", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, time.Hour)
		k := key("sub_1", 100)

		rec, err := l.Reserve(ctx, k, base)
		require.NoError(t, err)
		assert.Equal(t, notification.StatusReserved, rec.Status)
		assert.Equal(t, 1, rec.Attempts)

		_, err = l.Reserve(ctx, k, base.Add(time.Second))
		assert.ErrorIs(t, err, notification.ErrAlreadyReserved)

		require.NoError(t, l.Record(ctx, k, notification.Sent(), base.Add(2*time.Second)))
		ok, err := l.HasNotified(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, l.Record(ctx, k, notification.Sent(), base.Add(time.Hour)))
		require.NoError(t, l.Record(ctx, k, notification.Failed(errors.New("late failure")), base.Add(2*time.Hour)))

		_, err = l.Reserve(ctx, k, base.Add(48*time.Hour))
		assert.ErrorIs(t, err, notification.ErrAlreadyReserved)

		history, err := l.History(ctx, "sub_1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, notification.StatusSent, history[0].Status)
		assert.Equal(t, base.Add(2*time.Second).Unix(), history[0].SentAt.Unix())
		assert.Empty(t, history[0].LastError)
		assert.Equal(t, 1, history[0].Attempts)
	})

	t.Run("failed cycle can be retried once and then sent", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, time.Hour)
		k := key("sub_2", 200)

		_, err := l.Reserve(ctx, k, base)
		require.NoError(t, err)
		require.NoError(t, l.Record(ctx, k, notification.Failed(errors.New("smtp timeout")), base))

		ok, err := l.HasNotified(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)

		history, err := l.History(ctx, "sub_2")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, notification.StatusFailed, history[0].Status)
		assert.Equal(t, "smtp timeout", history[0].LastError)

		rec, err := l.Reserve(ctx, k, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Attempts)

		_, err = l.Reserve(ctx, k, base.Add(2*time.Minute))
		assert.ErrorIs(t, err, notification.ErrAlreadyReserved)

		require.NoError(t, l.Record(ctx, k, notification.Sent(), base.Add(3*time.Minute)))

		history, err = l.History(ctx, "sub_2")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, notification.StatusSent, history[0].Status)
		assert.Equal(t, 2, history[0].Attempts)
	})

	t.Run("abandoned reservation is taken over after the lease", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, 10*time.Minute)
		k := key("sub_3", 300)

		_, err := l.Reserve(ctx, k, base)
		require.NoError(t, err)

		_, err = l.Reserve(ctx, k, base.Add(9*time.Minute))
		assert.ErrorIs(t, err, notification.ErrAlreadyReserved)

		rec, err := l.Reserve(ctx, k, base.Add(11*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Attempts)
	})

	t.Run("sending cycle is never taken over", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, 10*time.Minute)
		k := key("sub_7", 700)

		_, err := l.Reserve(ctx, k, base)
		require.NoError(t, err)
		require.NoError(t, l.Record(ctx, k, notification.Sending(), base))

		ok, err := l.HasNotified(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = l.Reserve(ctx, k, base.Add(time.Minute))
		assert.ErrorIs(t, err, notification.ErrDeliveryInDoubt)
		_, err = l.Reserve(ctx, k, base.Add(48*time.Hour))
		assert.ErrorIs(t, err, notification.ErrDeliveryInDoubt)

		history, err := l.History(ctx, "sub_7")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, notification.StatusSending, history[0].Status)
		assert.Equal(t, 1, history[0].Attempts)

		require.NoError(t, l.Record(ctx, k, notification.Sent(), base.Add(49*time.Hour)))
		ok, err = l.HasNotified(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failure after sending can be retried", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, time.Hour)
		k := key("sub_8", 800)

		_, err := l.Reserve(ctx, k, base)
		require.NoError(t, err)
		require.NoError(t, l.Record(ctx, k, notification.Sending(), base))
		require.NoError(t, l.Record(ctx, k, notification.Failed(errors.New("554 rejected")), base))

		rec, err := l.Reserve(ctx, k, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, rec.Attempts)
	})

	t.Run("concurrent reservations admit exactly one", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, time.Hour)
		k := key("sub_4", 400)

		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Reserve(ctx, k, base)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, notification.ErrAlreadyReserved):
					losses.Add(1)
				default:
					t.Errorf("unexpected reserve error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(15), losses.Load())
	})

	t.Run("record without reservation creates the cycle", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, time.Hour)
		k := key("sub_5", 500)

		require.NoError(t, l.Record(ctx, k, notification.Sent(), base))
		ok, err := l.HasNotified(ctx, k)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("new renewal timestamp is a new cycle", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t, time.Hour)

		_, err := l.Reserve(ctx, key("sub_6", 600), base)
		require.NoError(t, err)
		require.NoError(t, l.Record(ctx, key("sub_6", 600), notification.Sent(), base))

		_, err = l.Reserve(ctx, key("sub_6", 700), base)
		require.NoError(t, err)
		_, err = l.Reserve(ctx, key("sub_other", 600), base)
		require.NoError(t, err)

		history, err := l.History(ctx, "sub_6")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(600), history[0].Key.RenewalTimestamp)
		assert.Equal(t, notification.StatusSent, history[0].Status)
		assert.Equal(t, int64(700), history[1].Key.RenewalTimestamp)
		assert.Equal(t, notification.StatusReserved, history[1].Status)
	})

	t.Run("history of unknown subscription is empty", func(t *testing.T) {
		l := newLedger(t, time.Hour)
		history, err := l.History(context.Background(), "sub_missing")
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}

func key(id string, renewal int64) notification.CycleKey {
	return notification.CycleKey{SubscriptionID: id, RenewalTimestamp: renewal}
}
