package telegram

import (
	"fmt"
	"strings"
	"time"

	"renewal_notifier/internal/app"
	"renewal_notifier/internal/domain/notification"
)

const maxListedItems = 10

func formatReport(r *app.BatchReport) string {
	var b strings.Builder
	if r.OK {
		fmt.Fprintf(&b, "Renewal run %s finished\n", r.RunID)
	} else {
		fmt.Fprintf(&b, "Renewal run %s FAILED: %s\n", r.RunID, r.Error)
	}
	fmt.Fprintf(&b, "Started: %s (%s)\n", r.StartedAt.UTC().Format(time.RFC3339), r.Duration().Round(time.Millisecond))
	if r.OK {
		fmt.Fprintf(&b, "Window: %s – %s\n", r.WindowStart.UTC().Format("2006-01-02"), r.WindowEnd.UTC().Format("2006-01-02"))
		fmt.Fprintf(&b, "Candidates: %d\nSent: %d\nAlready notified: %d\nSkipped: %d\nFailed: %d\nDeferred: %d\n",
			r.CandidateCount, r.Sent, r.AlreadyNotified, r.Skipped, r.Failed, r.Deferred)
	}

	for i, f := range r.Failures {
		if i == 0 {
			b.WriteString("\nFailures:\n")
		}
		if i == maxListedItems {
			fmt.Fprintf(&b, "…and %d more\n", len(r.Failures)-maxListedItems)
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.SubscriptionID, f.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(subscriptionID string, history []notification.Record) string {
	if len(history) == 0 {
		return fmt.Sprintf("No reminders recorded for %s.", subscriptionID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Reminders for %s:\n", subscriptionID)
	for _, rec := range history {
		fmt.Fprintf(&b, "- renewal %s: %s, attempts %d",
			time.Unix(rec.Key.RenewalTimestamp, 0).UTC().Format("2006-01-02"), rec.Status, rec.Attempts)
		if !rec.SentAt.IsZero() {
			fmt.Fprintf(&b, ", sent %s", rec.SentAt.UTC().Format(time.RFC3339))
		}
		if rec.LastError != "" {
			fmt.Fprintf(&b, ", last error: %s", rec.LastError)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
