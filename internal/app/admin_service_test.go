package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"renewal_notifier/internal/domain/notification"
	"renewal_notifier/internal/infra/memledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminID int64 = 4242

type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRunner) Run(context.Context) *BatchReport {
	r.once.Do(func() { close(r.started) })
	<-r.release
	return &BatchReport{OK: true, RunID: "run-1"}
}

func TestAdminServiceRejectsNonAdmins(t *testing.T) {
	svc := NewAdminService(&blockingRunner{}, memledger.New(0), adminID)

	_, err := svc.LastRun(1)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	_, err = svc.TriggerRun(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
	_, err = svc.LedgerHistory(context.Background(), 1, "sub_1")
	assert.ErrorIs(t, err, ErrAdminNotAuthorized)
}

func TestAdminServiceWithoutAdminConfigured(t *testing.T) {
	svc := NewAdminService(&blockingRunner{}, memledger.New(0), 0)
	assert.False(t, svc.IsAdmin(0))
}

func TestAdminServiceLastRun(t *testing.T) {
	svc := NewAdminService(&blockingRunner{}, memledger.New(0), adminID)

	_, err := svc.LastRun(adminID)
	assert.ErrorIs(t, err, ErrNoRunYet)

	svc.ObserveBatch(context.Background(), &BatchReport{OK: true, RunID: "abc", Sent: 3})
	last, err := svc.LastRun(adminID)
	require.NoError(t, err)
	assert.Equal(t, "abc", last.RunID)
	assert.Equal(t, 3, last.Sent)
}

func TestAdminServiceTriggerRunIsExclusive(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewAdminService(runner, memledger.New(0), adminID)

	done := make(chan *BatchReport)
	go func() {
		report, err := svc.TriggerRun(context.Background(), adminID)
		assert.NoError(t, err)
		done <- report
	}()
	<-runner.started

	_, err := svc.TriggerRun(context.Background(), adminID)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(runner.release)
	report := <-done
	assert.Equal(t, "run-1", report.RunID)

	report, err = svc.TriggerRun(context.Background(), adminID)
	require.NoError(t, err)
	assert.True(t, report.OK)
}

func TestAdminServiceLedgerHistory(t *testing.T) {
	ctx := context.Background()
	ledger := memledger.New(0)
	key := notification.CycleKey{SubscriptionID: "sub_1", RenewalTimestamp: 1_800_000_000}
	at := time.Unix(1_799_000_000, 0)
	_, err := ledger.Reserve(ctx, key, at)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(ctx, key, notification.Sent(), at))

	svc := NewAdminService(&blockingRunner{}, ledger, adminID)
	history, err := svc.LedgerHistory(ctx, adminID, " sub_1 ")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].Notified())

	_, err = svc.LedgerHistory(ctx, adminID, "")
	assert.Error(t, err)
}
