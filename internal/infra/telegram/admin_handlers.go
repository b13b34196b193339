package telegram

import (
	"context"
	"errors"
	"fmt"

	"renewal_notifier/internal/app"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const unauthorizedReply = "Error: you are not allowed to run this command."

// RegisterAdminHandlers registers handlers for admin commands.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, baseLogger *logrus.Entry) {
	b.Handle("/last_run", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/last_run",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		report, err := adminService.LastRun(c.Sender().ID)
		if err != nil {
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedReply)
			case errors.Is(err, app.ErrNoRunYet):
				return c.Send("No renewal run has finished since the service started.")
			default:
				handlerLogger.WithError(err).Error("Failed to load last run")
				return c.Send(fmt.Sprintf("Could not load the last run: %s", err.Error()))
			}
		}
		return c.Send(formatReport(report))
	})

	b.Handle("/run_now", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/run_now",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if !adminService.IsAdmin(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send(unauthorizedReply)
		}
		if err := c.Send("Starting a renewal run…"); err != nil {
			handlerLogger.WithError(err).Warn("Failed to acknowledge /run_now")
		}

		report, err := adminService.TriggerRun(ctx, c.Sender().ID)
		if err != nil {
			if errors.Is(err, app.ErrRunInProgress) {
				return c.Send("A run you started is still in progress.")
			}
			handlerLogger.WithError(err).Error("Failed to trigger run")
			return c.Send(fmt.Sprintf("Could not start the run: %s", err.Error()))
		}
		handlerLogger.WithField("run_id", report.RunID).Info("Admin-triggered run finished")
		return c.Send(formatReport(report))
	})

	b.Handle("/ledger", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/ledger",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		// Expected format: /ledger <subscription_id>
		if len(args) != 1 {
			if !adminService.IsAdmin(c.Sender().ID) {
				return c.Send(unauthorizedReply)
			}
			return c.Send("Usage: /ledger <subscription_id>")
		}
		handlerLogger = handlerLogger.WithField("subscription_id", args[0])

		history, err := adminService.LedgerHistory(ctx, c.Sender().ID, args[0])
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.Warn("Unauthorized access attempt")
				return c.Send(unauthorizedReply)
			}
			handlerLogger.WithError(err).Error("Failed to load ledger history")
			return c.Send(fmt.Sprintf("Could not load the ledger: %s", err.Error()))
		}
		return c.Send(formatHistory(args[0], history))
	})
}
