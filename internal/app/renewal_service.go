// internal/app/renewal_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"renewal_notifier/internal/domain/mail"
	"renewal_notifier/internal/domain/notification"
	"renewal_notifier/internal/domain/subscription"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// ledgerGrace bounds the ledger calls around one send.
const ledgerGrace = 10 * time.Second

const (
	recordAttempts    = 4
	baseRecordBackoff = 250 * time.Millisecond
)

type DispatcherConfig struct {
	From        string
	Concurrency int
	SendTimeout time.Duration
	Budget      time.Duration // whole invocation; unstarted candidates are deferred past it
}

// BatchObserver is told about every finished invocation.
type BatchObserver interface {
	ObserveBatch(ctx context.Context, report *BatchReport)
}

// Metrics receives invocation and item counts.
type Metrics interface {
	ObserveRun(result string, duration time.Duration)
	ObserveItem(outcome ItemOutcome)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRun(string, time.Duration) {}
func (nopMetrics) ObserveItem(ItemOutcome)          {}

// RenewalService runs one reminder invocation: scan, then check, render, reserve,
// deliver and record each candidate with bounded parallelism.
type RenewalService struct {
	scanner   *Scanner
	renderer  *Renderer
	ledger    notification.Ledger
	sender    mail.Sender
	cfg       DispatcherConfig
	logger    *logrus.Entry
	metrics   Metrics
	observers []BatchObserver
	now       func() time.Time

	recordBackoff time.Duration
}

func NewRenewalService(
	scanner *Scanner,
	renderer *Renderer,
	ledger notification.Ledger,
	sender mail.Sender,
	cfg DispatcherConfig,
	logger *logrus.Entry,
) *RenewalService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	return &RenewalService{
		scanner:  scanner,
		renderer: renderer,
		ledger:   ledger,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
		metrics:  nopMetrics{},
		now:      time.Now,

		recordBackoff: baseRecordBackoff,
	}
}

func (s *RenewalService) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// Ledger returns the ledger the service records into.
func (s *RenewalService) Ledger() notification.Ledger {
	return s.ledger
}

// AddObserver registers o for every later run. Call before the first Run.
func (s *RenewalService) AddObserver(o BatchObserver) {
	s.observers = append(s.observers, o)
}

// Run executes one invocation and always returns a report.
func (s *RenewalService) Run(ctx context.Context) *BatchReport {
	startedAt := s.now()
	runID := uuid.NewString()
	log := s.logger.WithField("run_id", runID)
	rep := newReporter(runID, startedAt)

	budgetCtx := ctx
	if s.cfg.Budget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, s.cfg.Budget)
		defer cancel()
	}

	log.Info("Starting renewal reminder run")
	scan, err := s.scanner.Scan(budgetCtx, startedAt)
	if err != nil {
		log.WithError(err).Error("Renewal scan failed")
		rep.fail(err)
		return s.finish(ctx, log, rep, "scan_failed")
	}
	rep.scanned(scan)
	for _, item := range scan.Skipped {
		s.metrics.ObserveItem(OutcomeSkipped)
		log.WithField("subscription_id", item.SubscriptionID).Debug("Skipped during scan")
	}
	log.WithFields(logrus.Fields{
		"window_start": scan.WindowStart.Format(time.RFC3339),
		"window_end":   scan.WindowEnd.Format(time.RFC3339),
		"candidates":   len(scan.Candidates),
	}).Info("Renewal scan finished")

	// Started items run detached from the budget; each is bounded by its own timeout.
	itemParent := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	var wg sync.WaitGroup

	for i, snap := range scan.Candidates {
		if budgetCtx.Err() != nil || sem.Acquire(budgetCtx, 1) != nil {
			for _, rest := range scan.Candidates[i:] {
				rep.add(rest.SubscriptionID, rest.RenewalTimestamp, OutcomeDeferred, "")
				s.metrics.ObserveItem(OutcomeDeferred)
			}
			log.WithField("deferred", len(scan.Candidates)-i).Warn("Invocation budget exhausted, deferring remaining candidates")
			break
		}

		wg.Add(1)
		go func(snap subscription.Snapshot) {
			defer wg.Done()
			defer sem.Release(1)

			itemCtx, cancel := context.WithTimeout(itemParent, s.cfg.SendTimeout+ledgerGrace)
			defer cancel()

			outcome, reason := s.process(itemCtx, log, snap)
			rep.add(snap.SubscriptionID, snap.RenewalTimestamp, outcome, reason)
			s.metrics.ObserveItem(outcome)
		}(snap)
	}
	wg.Wait()

	return s.finish(ctx, log, rep, "ok")
}

func (s *RenewalService) finish(ctx context.Context, log *logrus.Entry, rep *reporter, result string) *BatchReport {
	report := rep.finish(s.now())
	s.metrics.ObserveRun(result, report.Duration())

	log.WithFields(logrus.Fields{
		"ok":               report.OK,
		"sent":             report.Sent,
		"already_notified": report.AlreadyNotified,
		"skipped":          report.Skipped,
		"failed":           report.Failed,
		"deferred":         report.Deferred,
	}).Info("Renewal reminder run finished")

	for _, o := range s.observers {
		o.ObserveBatch(ctx, report)
	}
	return report
}

// process handles one candidate. Errors never escape; they become the item outcome.
func (s *RenewalService) process(ctx context.Context, log *logrus.Entry, snap subscription.Snapshot) (ItemOutcome, string) {
	key := notification.KeyFor(snap)
	itemLog := log.WithFields(logrus.Fields{
		"subscription_id": snap.SubscriptionID,
		"renewal_at":      snap.RenewalTimestamp,
	})

	notified, err := s.ledger.HasNotified(ctx, key)
	if err != nil {
		itemLog.WithError(err).Error("Ledger check failed")
		return OutcomeFailed, fmt.Sprintf("ledger check: %v", err)
	}
	if notified {
		itemLog.Debug("Reminder already sent for this renewal")
		return OutcomeAlreadyNotified, ""
	}

	msg, err := s.renderer.Render(snap)
	if err != nil {
		if errors.Is(err, ErrMissingRecipient) {
			itemLog.Warn("Skipping subscription without customer email")
			return OutcomeSkipped, err.Error()
		}
		itemLog.WithError(err).Error("Failed to render reminder")
		return OutcomeFailed, fmt.Sprintf("render: %v", err)
	}

	rec, err := s.ledger.Reserve(ctx, key, s.now())
	if err != nil {
		switch {
		case errors.Is(err, notification.ErrAlreadyReserved):
			itemLog.Debug("Renewal cycle reserved by another invocation")
			return OutcomeAlreadyNotified, ""
		case errors.Is(err, notification.ErrDeliveryInDoubt):
			itemLog.Error("Earlier delivery outcome unknown, not resending")
			return OutcomeFailed, "delivery outcome unknown from an earlier run; check the mail provider and resolve the ledger entry"
		}
		itemLog.WithError(err).Error("Ledger reservation failed")
		return OutcomeFailed, fmt.Sprintf("ledger reserve: %v", err)
	}

	if err := s.record(ctx, key, notification.Sending()); err != nil {
		// Nothing was sent; the reservation lapses after its lease.
		itemLog.WithError(err).Error("Failed to mark reminder as sending")
		return OutcomeFailed, fmt.Sprintf("ledger mark sending: %v", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	err = s.sender.Send(sendCtx, mail.Message{
		From:    s.cfg.From,
		To:      msg.Recipient,
		Subject: msg.Subject,
		Text:    msg.Text,
		HTML:    msg.HTML,
	})
	cancel()
	if err != nil {
		itemLog.WithError(err).WithField("attempt", rec.Attempts).Warn("Reminder delivery failed")
		if recErr := s.record(ctx, key, notification.Failed(err)); recErr != nil {
			itemLog.WithError(recErr).Error("Failed to record delivery failure, cycle stays in doubt")
		}
		return OutcomeFailed, fmt.Sprintf("delivery failed: %v", err)
	}

	if err := s.record(ctx, key, notification.Sent()); err != nil {
		// The cycle stays sending, which later runs report instead of resending.
		itemLog.WithError(err).Error("Reminder sent but ledger update failed")
	}
	itemLog.WithField("attempt", rec.Attempts).Info("Renewal reminder sent")
	return OutcomeSent, ""
}

// record writes the cycle state with exponential backoff. Each attempt runs detached from
// the item deadline and is bounded by ledgerGrace.
func (s *RenewalService) record(ctx context.Context, key notification.CycleKey, outcome notification.Outcome) error {
	parent := context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= recordAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(parent, ledgerGrace)
		err = s.ledger.Record(attemptCtx, key, outcome, s.now())
		cancel()
		if err == nil {
			return nil
		}
		if attempt < recordAttempts {
			time.Sleep(s.recordBackoff << (attempt - 1))
		}
	}
	return fmt.Errorf("after %d attempts: %w", recordAttempts, err)
}
