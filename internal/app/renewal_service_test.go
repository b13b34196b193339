package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"renewal_notifier/internal/domain/notification"
	"renewal_notifier/internal/domain/subscription"
	"renewal_notifier/internal/infra/memledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	source   *fakeSource
	sender   *fakeSender
	ledger   *spyLedger
	clock    *testClock
	metrics  *countingMetrics
	observer *recordingObserver
	svc      *RenewalService
}

func newHarness(t *testing.T, subs []subscription.Subscription, scanCfg ScannerConfig, cfg DispatcherConfig) *harness {
	t.Helper()
	h := &harness{
		source: &fakeSource{
			subs:     subs,
			products: map[string]*subscription.Product{"prod_olive": {ID: "prod_olive", Name: "Olive Box"}},
		},
		sender:   &fakeSender{},
		ledger:   &spyLedger{Ledger: memledger.New(time.Hour)},
		clock:    &testClock{now: scanStart},
		metrics:  newCountingMetrics(),
		observer: &recordingObserver{},
	}
	if cfg.From == "" {
		cfg.From = "kontakt@example.com"
	}
	scanner := NewScanner(h.source, scanCfg, testLogger())
	renderer := NewRenderer(RendererConfig{DefaultLocale: LocaleEnglish, Location: time.UTC})
	h.svc = NewRenewalService(scanner, renderer, h.ledger, h.sender, cfg, testLogger())
	h.svc.now = h.clock.Now
	h.svc.SetMetrics(h.metrics)
	h.svc.AddObserver(h.observer)
	return h
}

func oliveSub(id string, renewal time.Time) subscription.Subscription {
	sub := activeSub(id, renewal, "prod_olive")
	sub.CustomerName = "Anna"
	return sub
}

func TestRunDeliversOliveBoxReminder(t *testing.T) {
	renewal := scanStart.Add(72 * time.Hour)
	h := newHarness(t, []subscription.Subscription{oliveSub("sub_1", renewal)}, ScannerConfig{}, DispatcherConfig{})

	report := h.svc.Run(context.Background())

	assert.True(t, report.OK)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 1, report.CandidateCount)
	assert.Equal(t, 1, report.Sent)
	assert.Empty(t, report.Failures)

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sub_1@example.com", msgs[0].To)
	assert.Equal(t, "kontakt@example.com", msgs[0].From)
	assert.Contains(t, msgs[0].Text, "249 kr")
	assert.Contains(t, msgs[0].Text, "every month")
	assert.Contains(t, msgs[0].Text, renewal.Format("January 2, 2006"))
	assert.NotEmpty(t, msgs[0].HTML)

	notified, err := h.ledger.HasNotified(context.Background(), notification.CycleKey{SubscriptionID: "sub_1", RenewalTimestamp: renewal.Unix()})
	require.NoError(t, err)
	assert.True(t, notified)
	assert.Equal(t, 1, h.metrics.items[OutcomeSent])
	assert.Equal(t, 1, h.metrics.runs["ok"])
	assert.Len(t, h.observer.reports, 1)
}

func TestRunTwiceSendsOnce(t *testing.T) {
	h := newHarness(t, []subscription.Subscription{oliveSub("sub_1", scanStart.Add(72*time.Hour))}, ScannerConfig{}, DispatcherConfig{})

	first := h.svc.Run(context.Background())
	h.clock.Advance(time.Second)
	second := h.svc.Run(context.Background())

	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.AlreadyNotified)
	assert.Len(t, h.sender.messages(), 1)
}

func TestConcurrentRunsDeliverOnce(t *testing.T) {
	subs := []subscription.Subscription{
		oliveSub("sub_1", scanStart.Add(24*time.Hour)),
		oliveSub("sub_2", scanStart.Add(48*time.Hour)),
	}
	h := newHarness(t, subs, ScannerConfig{}, DispatcherConfig{Concurrency: 2})
	h.sender.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	reports := make([]*BatchReport, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i] = h.svc.Run(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.sender.messages(), 2)
	assert.Equal(t, 2, reports[0].Sent+reports[1].Sent)
	assert.Equal(t, 2, reports[0].AlreadyNotified+reports[1].AlreadyNotified)
}

func TestFailedDeliveryIsRetriedNextRun(t *testing.T) {
	renewal := scanStart.Add(72 * time.Hour)
	h := newHarness(t, []subscription.Subscription{oliveSub("sub_1", renewal)}, ScannerConfig{}, DispatcherConfig{})
	h.sender.setFailure("sub_1@example.com", errors.New("smtp: 451 try later"))

	first := h.svc.Run(context.Background())
	require.True(t, first.OK)
	assert.Equal(t, 1, first.Failed)
	require.Len(t, first.Failures, 1)
	assert.Equal(t, "sub_1", first.Failures[0].SubscriptionID)
	assert.Contains(t, first.Failures[0].Reason, "451 try later")

	h.sender.setFailure("sub_1@example.com", nil)
	h.clock.Advance(time.Minute)
	second := h.svc.Run(context.Background())
	assert.Equal(t, 1, second.Sent)

	h.clock.Advance(time.Minute)
	third := h.svc.Run(context.Background())
	assert.Equal(t, 1, third.AlreadyNotified)
	assert.Len(t, h.sender.messages(), 1)

	history, err := h.ledger.History(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, notification.StatusSent, history[0].Status)
	assert.Equal(t, 2, history[0].Attempts)
}

func TestMissingEmailIsOnlySkipped(t *testing.T) {
	sub := oliveSub("sub_noemail", scanStart.Add(time.Hour))
	sub.CustomerEmail = ""
	h := newHarness(t, []subscription.Subscription{sub}, ScannerConfig{}, DispatcherConfig{})

	report := h.svc.Run(context.Background())

	assert.True(t, report.OK)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Sent+report.Failed+report.AlreadyNotified)
	require.Len(t, report.SkippedItems, 1)
	assert.Equal(t, "sub_noemail", report.SkippedItems[0].SubscriptionID)
	assert.Zero(t, h.ledger.writes())
	assert.Empty(t, h.sender.messages())
}

func TestSourceTimeoutFailsInvocationWithoutSideEffects(t *testing.T) {
	h := newHarness(t, []subscription.Subscription{oliveSub("sub_1", scanStart.Add(time.Hour))},
		ScannerConfig{SourceTimeout: 20 * time.Millisecond}, DispatcherConfig{})
	h.source.listDelay = time.Second

	report := h.svc.Run(context.Background())

	assert.False(t, report.OK)
	assert.Contains(t, report.Error, ErrSourceUnavailable.Error())
	assert.Zero(t, h.ledger.writes())
	assert.Empty(t, h.sender.messages())
	assert.Equal(t, 1, h.metrics.runs["scan_failed"])
	require.Len(t, h.observer.reports, 1)
	assert.False(t, h.observer.reports[0].OK)
}

func TestRunIgnoresRenewalsOutsideWindow(t *testing.T) {
	subs := []subscription.Subscription{
		oliveSub("later", scanStart.Add(8*24*time.Hour)),
		oliveSub("past", scanStart.Add(-time.Hour)),
	}
	h := newHarness(t, subs, ScannerConfig{Window: 7 * 24 * time.Hour}, DispatcherConfig{})

	report := h.svc.Run(context.Background())

	assert.True(t, report.OK)
	assert.Equal(t, 0, report.CandidateCount)
	assert.Empty(t, h.sender.messages())
	assert.Zero(t, h.ledger.writes())
}

func TestItemFailureDoesNotAbortBatch(t *testing.T) {
	subs := []subscription.Subscription{
		oliveSub("sub_1", scanStart.Add(time.Hour)),
		oliveSub("sub_2", scanStart.Add(2*time.Hour)),
		oliveSub("sub_3", scanStart.Add(3*time.Hour)),
	}
	h := newHarness(t, subs, ScannerConfig{}, DispatcherConfig{Concurrency: 3})
	h.sender.setFailure("sub_2@example.com", errors.New("mailbox unavailable"))

	report := h.svc.Run(context.Background())

	assert.True(t, report.OK)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "sub_2", report.Failures[0].SubscriptionID)
}

func TestBudgetExhaustionDefersUnstartedCandidates(t *testing.T) {
	subs := []subscription.Subscription{
		oliveSub("sub_1", scanStart.Add(time.Hour)),
		oliveSub("sub_2", scanStart.Add(2*time.Hour)),
		oliveSub("sub_3", scanStart.Add(3*time.Hour)),
	}
	h := newHarness(t, subs, ScannerConfig{}, DispatcherConfig{Concurrency: 1, Budget: 50 * time.Millisecond})
	h.sender.delay = 150 * time.Millisecond

	report := h.svc.Run(context.Background())

	assert.True(t, report.OK)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 2, report.Deferred)
	assert.Len(t, h.sender.messages(), 1)

	// Deferred candidates were never reserved and go out on the next run.
	h.sender.delay = 0
	next := h.svc.Run(context.Background())
	assert.Equal(t, 2, next.Sent)
	assert.Equal(t, 1, next.AlreadyNotified)
}

type brokenLedger struct {
	notification.Ledger
}

func (brokenLedger) HasNotified(context.Context, notification.CycleKey) (bool, error) {
	return false, errors.New("connection refused")
}

func TestLedgerErrorFailsOnlyTheItem(t *testing.T) {
	h := newHarness(t, []subscription.Subscription{oliveSub("sub_1", scanStart.Add(time.Hour))}, ScannerConfig{}, DispatcherConfig{})
	h.svc.ledger = brokenLedger{}

	report := h.svc.Run(context.Background())

	assert.True(t, report.OK)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Failures[0].Reason, "ledger check")
	assert.Empty(t, h.sender.messages())
}

func TestReportCountsScanSkips(t *testing.T) {
	orphan := oliveSub("sub_orphan", scanStart.Add(time.Hour))
	orphan.ProductRef = "prod_missing"
	h := newHarness(t, []subscription.Subscription{orphan, oliveSub("sub_1", scanStart.Add(time.Hour))}, ScannerConfig{}, DispatcherConfig{})

	report := h.svc.Run(context.Background())

	assert.Equal(t, 2, report.CandidateCount)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, "sub_orphan", report.SkippedItems[0].SubscriptionID)
}

// flakyLedger fails Record for chosen states. A negative count fails every call.
type flakyLedger struct {
	notification.Ledger
	mu       sync.Mutex
	failures map[notification.DeliveryStatus]int
}

func (f *flakyLedger) failRecord(status notification.DeliveryStatus, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures == nil {
		f.failures = make(map[notification.DeliveryStatus]int)
	}
	f.failures[status] = times
}

func (f *flakyLedger) Record(ctx context.Context, key notification.CycleKey, outcome notification.Outcome, at time.Time) error {
	f.mu.Lock()
	n := f.failures[outcome.Status]
	if n > 0 {
		f.failures[outcome.Status] = n - 1
	}
	f.mu.Unlock()
	if n != 0 {
		return errors.New("ledger write timeout")
	}
	return f.Ledger.Record(ctx, key, outcome, at)
}

func newFlakyHarness(t *testing.T, renewal time.Time) (*harness, *flakyLedger) {
	t.Helper()
	h := newHarness(t, []subscription.Subscription{oliveSub("sub_1", renewal)}, ScannerConfig{}, DispatcherConfig{})
	flaky := &flakyLedger{Ledger: h.ledger}
	h.svc.ledger = flaky
	h.svc.recordBackoff = time.Millisecond
	return h, flaky
}

func TestSentOutcomeIsRetriedUntilRecorded(t *testing.T) {
	renewal := scanStart.Add(72 * time.Hour)
	h, flaky := newFlakyHarness(t, renewal)
	flaky.failRecord(notification.StatusSent, 1)

	first := h.svc.Run(context.Background())
	assert.Equal(t, 1, first.Sent)

	h.clock.Advance(24*time.Hour + time.Minute)
	second := h.svc.Run(context.Background())

	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.AlreadyNotified)
	assert.Len(t, h.sender.messages(), 1)
}

func TestUnrecordedDeliveryIsNeverResent(t *testing.T) {
	renewal := scanStart.Add(72 * time.Hour)
	h, flaky := newFlakyHarness(t, renewal)
	flaky.failRecord(notification.StatusSent, -1)

	first := h.svc.Run(context.Background())
	assert.Equal(t, 1, first.Sent)

	flaky.failRecord(notification.StatusSent, 0)
	h.clock.Advance(24*time.Hour + time.Minute)
	second := h.svc.Run(context.Background())

	assert.Equal(t, 0, second.Sent)
	assert.Equal(t, 1, second.Failed)
	require.Len(t, second.Failures, 1)
	assert.Contains(t, second.Failures[0].Reason, "delivery outcome unknown")
	assert.Len(t, h.sender.messages(), 1)

	history, err := h.ledger.History(context.Background(), "sub_1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, notification.StatusSending, history[0].Status)
}

func TestNoDeliveryWhenSendingCannotBeMarked(t *testing.T) {
	renewal := scanStart.Add(72 * time.Hour)
	h, flaky := newFlakyHarness(t, renewal)
	flaky.failRecord(notification.StatusSending, -1)

	first := h.svc.Run(context.Background())
	assert.Equal(t, 1, first.Failed)
	assert.Contains(t, first.Failures[0].Reason, "mark sending")
	assert.Empty(t, h.sender.messages())

	// The reservation lapses and a healthy ledger delivers once.
	flaky.failRecord(notification.StatusSending, 0)
	h.clock.Advance(2 * time.Hour)
	second := h.svc.Run(context.Background())
	assert.Equal(t, 1, second.Sent)
	assert.Len(t, h.sender.messages(), 1)
}
