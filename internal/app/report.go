// internal/app/report.go
package app

import (
	"sync"
	"time"
)

// ItemOutcome is what happened to one candidate in a batch.
type ItemOutcome string

const (
	OutcomeSent            ItemOutcome = "sent"
	OutcomeAlreadyNotified ItemOutcome = "already_notified"
	OutcomeSkipped         ItemOutcome = "skipped"
	OutcomeFailed          ItemOutcome = "failed"
	OutcomeDeferred        ItemOutcome = "deferred" // not started before the invocation budget ran out
)

type FailedItem struct {
	SubscriptionID string `json:"subscriptionId"`
	RenewalAt      int64  `json:"renewalAt"`
	Reason         string `json:"reason"`
}

// BatchReport is the result of one invocation. OK is false only when the scan itself failed;
// item failures are listed without failing the batch. CandidateCount includes subscriptions
// skipped during the scan, so it always equals the sum of the per-outcome counts.
type BatchReport struct {
	OK              bool          `json:"ok"`
	Error           string        `json:"error,omitempty"`
	RunID           string        `json:"runId"`
	StartedAt       time.Time     `json:"startedAt"`
	FinishedAt      time.Time     `json:"finishedAt"`
	WindowStart     time.Time     `json:"windowStart"`
	WindowEnd       time.Time     `json:"windowEnd"`
	CandidateCount  int           `json:"candidateCount"`
	Sent            int           `json:"sent"`
	AlreadyNotified int           `json:"alreadyNotified"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	Deferred        int           `json:"deferred"`
	Failures        []FailedItem  `json:"failures"`
	SkippedItems    []SkippedItem `json:"skippedItems"`
}

// Duration is how long the invocation took.
func (r *BatchReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// reporter collects item outcomes from concurrent workers.
type reporter struct {
	mu     sync.Mutex
	report BatchReport
}

func newReporter(runID string, startedAt time.Time) *reporter {
	return &reporter{report: BatchReport{
		OK:           true,
		RunID:        runID,
		StartedAt:    startedAt,
		WindowStart:  startedAt,
		WindowEnd:    startedAt,
		Failures:     []FailedItem{},
		SkippedItems: []SkippedItem{},
	}}
}

func (r *reporter) scanned(scan *ScanResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.WindowStart = scan.WindowStart
	r.report.WindowEnd = scan.WindowEnd
	r.report.CandidateCount = len(scan.Candidates) + len(scan.Skipped)
	for _, item := range scan.Skipped {
		r.report.Skipped++
		r.report.SkippedItems = append(r.report.SkippedItems, item)
	}
}

func (r *reporter) add(subscriptionID string, renewalAt int64, outcome ItemOutcome, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch outcome {
	case OutcomeSent:
		r.report.Sent++
	case OutcomeAlreadyNotified:
		r.report.AlreadyNotified++
	case OutcomeSkipped:
		r.report.Skipped++
		r.report.SkippedItems = append(r.report.SkippedItems, SkippedItem{SubscriptionID: subscriptionID, Reason: reason})
	case OutcomeFailed:
		r.report.Failed++
		r.report.Failures = append(r.report.Failures, FailedItem{SubscriptionID: subscriptionID, RenewalAt: renewalAt, Reason: reason})
	case OutcomeDeferred:
		r.report.Deferred++
	}
}

func (r *reporter) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.OK = false
	r.report.Error = err.Error()
}

func (r *reporter) finish(at time.Time) *BatchReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.FinishedAt = at
	out := r.report
	return &out
}
