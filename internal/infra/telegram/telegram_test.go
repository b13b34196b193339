package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	"renewal_notifier/internal/app"
	"renewal_notifier/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	chatIDs []int64
	texts   []string
	err     error
}

func (f *fakeClient) SendMessage(chatID int64, text string) error {
	f.chatIDs = append(f.chatIDs, chatID)
	f.texts = append(f.texts, text)
	return f.err
}

var started = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestFormatReport(t *testing.T) {
	report := &app.BatchReport{
		OK:             true,
		RunID:          "run-1",
		StartedAt:      started,
		FinishedAt:     started.Add(1500 * time.Millisecond),
		WindowStart:    started,
		WindowEnd:      started.Add(7 * 24 * time.Hour),
		CandidateCount: 4,
		Sent:           2,
		Failed:         1,
		Skipped:        1,
		Failures:       []app.FailedItem{{SubscriptionID: "sub_2", Reason: "delivery failed: timeout"}},
	}

	text := formatReport(report)
	assert.Contains(t, text, "Renewal run run-1 finished")
	assert.Contains(t, text, "Window: 2026-03-10 – 2026-03-17")
	assert.Contains(t, text, "Sent: 2")
	assert.Contains(t, text, "- sub_2: delivery failed: timeout")
	assert.Contains(t, text, "(1.5s)")
}

func TestFormatReportTruncatesFailures(t *testing.T) {
	report := &app.BatchReport{OK: true, RunID: "run-2", StartedAt: started, FinishedAt: started}
	for i := 0; i < 15; i++ {
		report.Failures = append(report.Failures, app.FailedItem{SubscriptionID: "sub", Reason: "x"})
	}

	assert.Contains(t, formatReport(report), "…and 5 more")
}

func TestFormatReportScanFailure(t *testing.T) {
	text := formatReport(&app.BatchReport{OK: false, RunID: "run-3", Error: "billing source unavailable", StartedAt: started, FinishedAt: started})
	assert.Contains(t, text, "FAILED: billing source unavailable")
	assert.NotContains(t, text, "Sent:")
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "No reminders recorded for sub_1.", formatHistory("sub_1", nil))

	history := []notification.Record{
		{
			Key:       notification.CycleKey{SubscriptionID: "sub_1", RenewalTimestamp: started.Unix()},
			Status:    notification.StatusSent,
			Attempts:  2,
			SentAt:    started.Add(-72 * time.Hour),
			LastError: "",
		},
		{
			Key:       notification.CycleKey{SubscriptionID: "sub_1", RenewalTimestamp: started.AddDate(0, 1, 0).Unix()},
			Status:    notification.StatusFailed,
			Attempts:  1,
			LastError: "mailbox full",
		},
	}
	text := formatHistory("sub_1", history)
	assert.Contains(t, text, "- renewal 2026-03-10: sent, attempts 2, sent 2026-03-07T09:00:00Z")
	assert.Contains(t, text, "- renewal 2026-04-10: failed, attempts 1, last error: mailbox full")
}

func TestAdminHelpListsCommands(t *testing.T) {
	help := adminHelpText()
	for _, cmd := range []string{"/last_run", "/run_now", "/ledger", "/help"} {
		assert.Contains(t, help, cmd)
	}
}

func TestOpsNotifierAlertsOnFailures(t *testing.T) {
	client := &fakeClient{}
	l, _ := test.NewNullLogger()
	n := NewOpsNotifier(client, 777, logrus.NewEntry(l))

	n.ObserveBatch(context.Background(), &app.BatchReport{OK: true, RunID: "quiet", Sent: 3})
	assert.Empty(t, client.texts)

	n.ObserveBatch(context.Background(), &app.BatchReport{OK: true, RunID: "partial", Failed: 1,
		Failures: []app.FailedItem{{SubscriptionID: "sub_9", Reason: "bounce"}}})
	n.ObserveBatch(context.Background(), &app.BatchReport{OK: false, RunID: "broken", Error: "billing source unavailable"})

	require.Len(t, client.texts, 2)
	assert.Equal(t, []int64{777, 777}, client.chatIDs)
	assert.Contains(t, client.texts[0], "sub_9")
	assert.Contains(t, client.texts[1], "FAILED")
}

func TestOpsNotifierWithoutAdminIsSilent(t *testing.T) {
	client := &fakeClient{}
	l, _ := test.NewNullLogger()
	NewOpsNotifier(client, 0, logrus.NewEntry(l)).ObserveBatch(context.Background(), &app.BatchReport{OK: false})
	assert.Empty(t, client.texts)
}

func TestOpsNotifierLogsSendErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("bot blocked")}
	l, hook := test.NewNullLogger()
	NewOpsNotifier(client, 1, logrus.NewEntry(l)).ObserveBatch(context.Background(), &app.BatchReport{OK: false, RunID: "r"})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
