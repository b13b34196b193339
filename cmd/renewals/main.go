package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"renewal_notifier/internal/app"
	"renewal_notifier/internal/infra/config"
	"renewal_notifier/internal/infra/httpapi"
	"renewal_notifier/internal/infra/logger"
	"renewal_notifier/internal/infra/scheduler"
	"renewal_notifier/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/telebot.v3"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:           "renewals",
	Short:         "Renewal reminder service",
	Long:          "Emails subscribers ahead of their subscription renewal, at most once per renewal cycle.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP trigger, metrics, optional cron schedule and Telegram bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one reminder invocation and print the report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context())
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger <subscription_id>",
	Short: "Print the reminder ledger of a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printLedger(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, ledgerCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	logger.Log.WithFields(logrus.Fields{
		"environment":    cfg.Environment,
		"ledger_backend": cfg.LedgerBackend,
		"mail_provider":  cfg.MailProvider,
	}).Info("Configuration loaded")
	return cfg, nil
}

func runOnce(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, closeAll, err := buildRenewalService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	report := svc.Run(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if !report.OK {
		return fmt.Errorf("renewal run failed: %s", report.Error)
	}
	return nil
}

func printLedger(ctx context.Context, subscriptionID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	history, err := ledger.History(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("load ledger history: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(history)
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	mainLogger := logger.Component("main")

	svc, closeAll, err := buildRenewalService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	if cfg.CronSecret == "" {
		mainLogger.Warn("CRON_SECRET is not set, every trigger request will be rejected")
	}

	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = startBot(ctx, cfg, svc)
		if err != nil {
			return err
		}
		mainLogger.Info("Telegram bot started")
	}

	var renewalScheduler *scheduler.RenewalScheduler
	if cfg.CronSpec != "" {
		renewalScheduler = scheduler.NewRenewalScheduler(svc, logger.Component("scheduler"), cfg.CronSpec, cfg.Location, cfg.InvocationBudget+time.Minute)
		if err := renewalScheduler.Start(); err != nil {
			return err
		}
	}

	e := httpapi.New(app.NewGate(cfg.CronSecret), svc, logger.Component("http"))
	serverErr := make(chan error, 1)
	go func() {
		mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		mainLogger.Info("Shutting down application...")
	case err = <-serverErr:
		mainLogger.WithError(err).Error("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		mainLogger.WithError(shutdownErr).Error("HTTP shutdown error")
	}
	if renewalScheduler != nil {
		renewalScheduler.Stop()
	}
	if bot != nil {
		bot.Stop()
	}
	mainLogger.Info("Application shut down gracefully.")
	return err
}

func startBot(ctx context.Context, cfg *config.AppConfig, svc *app.RenewalService) (*telebot.Bot, error) {
	botLogger := logger.Component("telegram")
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil {
				entry = entry.WithField("sender_id", c.Sender().ID)
			}
			entry.Error("Telegram handler error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("could not create Telegram bot: %w", err)
	}

	adminService := app.NewAdminService(svc, svc.Ledger(), cfg.AdminTelegramID)
	svc.AddObserver(adminService)
	svc.AddObserver(telegram.NewOpsNotifier(telegram.NewTelebotAdapter(bot), cfg.AdminTelegramID, botLogger))

	telegram.RegisterBotCommands(bot, adminService, botLogger)
	telegram.RegisterAdminHandlers(ctx, bot, adminService, botLogger)

	go bot.Start()
	return bot, nil
}
