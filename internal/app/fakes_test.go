package app

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"renewal_notifier/internal/domain/mail"
	"renewal_notifier/internal/domain/notification"
	"renewal_notifier/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type fakeSource struct {
	subs      []subscription.Subscription
	products  map[string]*subscription.Product
	listErr      error
	listDelay    time.Duration
	productDelay time.Duration

	listCalls    atomic.Int32
	productCalls atomic.Int32
}

func (f *fakeSource) ListActive(ctx context.Context) ([]subscription.Subscription, error) {
	f.listCalls.Add(1)
	if f.listDelay > 0 {
		select {
		case <-time.After(f.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs, nil
}

func (f *fakeSource) ResolveProduct(ctx context.Context, ref string) (*subscription.Product, error) {
	f.productCalls.Add(1)
	if f.productDelay > 0 {
		select {
		case <-time.After(f.productDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p, ok := f.products[ref]
	if !ok {
		return nil, subscription.ErrProductNotFound
	}
	return p, nil
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []mail.Message
	fail  map[string]error // by recipient
	delay time.Duration
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[msg.To]; err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) messages() []mail.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mail.Message(nil), f.sent...)
}

func (f *fakeSender) setFailure(recipient string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = make(map[string]error)
	}
	if err == nil {
		delete(f.fail, recipient)
		return
	}
	f.fail[recipient] = err
}

// spyLedger counts calls on top of a real ledger.
type spyLedger struct {
	notification.Ledger
	reserves atomic.Int32
	records  atomic.Int32
}

func (s *spyLedger) Reserve(ctx context.Context, key notification.CycleKey, now time.Time) (*notification.Record, error) {
	s.reserves.Add(1)
	return s.Ledger.Reserve(ctx, key, now)
}

func (s *spyLedger) Record(ctx context.Context, key notification.CycleKey, outcome notification.Outcome, at time.Time) error {
	s.records.Add(1)
	return s.Ledger.Record(ctx, key, outcome, at)
}

func (s *spyLedger) writes() int32 {
	return s.reserves.Load() + s.records.Load()
}

type recordingObserver struct {
	mu      sync.Mutex
	reports []*BatchReport
}

func (o *recordingObserver) ObserveBatch(_ context.Context, r *BatchReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

type countingMetrics struct {
	mu    sync.Mutex
	runs  map[string]int
	items map[ItemOutcome]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{runs: map[string]int{}, items: map[ItemOutcome]int{}}
}

func (m *countingMetrics) ObserveRun(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[result]++
}

func (m *countingMetrics) ObserveItem(outcome ItemOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[outcome]++
}
