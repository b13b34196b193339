package main

import (
	"context"
	"fmt"

	"renewal_notifier/internal/app"
	"renewal_notifier/internal/domain/notification"
	"renewal_notifier/internal/infra/billing"
	"renewal_notifier/internal/infra/config"
	idb "renewal_notifier/internal/infra/database"
	"renewal_notifier/internal/infra/logger"
	"renewal_notifier/internal/infra/mailer"
	"renewal_notifier/internal/infra/memledger"
	"renewal_notifier/internal/infra/metrics"
	"renewal_notifier/internal/infra/redisledger"
)

// openLedger connects the backend named by LEDGER_BACKEND and makes sure its schema exists.
func openLedger(ctx context.Context, cfg *config.AppConfig) (notification.Ledger, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("could not connect to database: %w", err)
		}
		ledger := idb.NewPostgresLedger(db, cfg.LedgerLease)
		if err := ledger.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return ledger, func() { db.Close() }, nil

	case config.LedgerSQLite:
		db, err := idb.NewSQLiteConnection(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open sqlite ledger: %w", err)
		}
		ledger := idb.NewSQLiteLedger(db, cfg.LedgerLease)
		if err := ledger.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return ledger, func() { db.Close() }, nil

	case config.LedgerRedis:
		rdb, err := redisledger.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisledger.New(rdb, cfg.LedgerLease), func() { rdb.Close() }, nil

	case config.LedgerMemory:
		logger.Log.Warn("Using the in-memory ledger, reminders may repeat after a restart")
		return memledger.New(cfg.LedgerLease), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func rendererConfig(cfg *config.AppConfig) app.RendererConfig {
	return app.RendererConfig{
		DefaultLocale:   app.ResolveLocale(cfg.DefaultLocale, app.LocaleSwedish),
		Location:        cfg.Location,
		SubjectOverride: cfg.Subject,
		BrandName:       cfg.BrandName,
		ContactEmail:    cfg.ContactEmail,
	}
}

func buildRenewalService(ctx context.Context, cfg *config.AppConfig) (*app.RenewalService, func(), error) {
	source, err := billing.NewStripeSource(cfg.StripeSecretKey)
	if err != nil {
		return nil, nil, err
	}
	sender, err := mailer.NewFromConfig(cfg, logger.Component("mailer"))
	if err != nil {
		return nil, nil, err
	}
	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	scanner := app.NewScanner(source, app.ScannerConfig{
		Window:            cfg.RenewalWindow,
		PortalURLTemplate: cfg.PortalURLTemplate,
		SourceTimeout:     cfg.SourceTimeout,
	}, logger.Component("scanner"))

	svc := app.NewRenewalService(scanner, app.NewRenderer(rendererConfig(cfg)), ledger, sender, app.DispatcherConfig{
		From:        cfg.MailFrom,
		Concurrency: cfg.SendConcurrency,
		SendTimeout: cfg.SendTimeout,
		Budget:      cfg.InvocationBudget,
	}, logger.Component("dispatcher"))
	svc.SetMetrics(metrics.Recorder{})

	return svc, closeLedger, nil
}
