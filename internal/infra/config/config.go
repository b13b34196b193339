package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	MailProviderPostmark = "postmark"
	MailProviderSMTP     = "smtp"
	MailProviderLog      = "log"

	LedgerPostgres = "postgres"
	LedgerSQLite   = "sqlite"
	LedgerRedis    = "redis"
	LedgerMemory   = "memory"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	CronSecret        string
	RenewalWindow     time.Duration
	PortalURLTemplate string

	MailFrom            string
	MailProvider        string
	PostmarkServerToken string
	SMTPHost            string
	SMTPPort            int
	SMTPUsername        string
	SMTPPassword        string

	StripeSecretKey string

	LedgerBackend string
	DatabaseURL   string
	SQLitePath    string
	RedisURL      string
	LedgerLease   time.Duration

	DefaultLocale string
	Location      *time.Location
	Subject       string
	BrandName     string
	ContactEmail  string

	SendConcurrency  int
	SourceTimeout    time.Duration
	SendTimeout      time.Duration
	InvocationBudget time.Duration

	HTTPAddr        string
	CronSpec        string // empty disables the in-process scheduler
	TelegramToken   string // empty disables the bot
	AdminTelegramID int64

	LogLevel    string
	Environment string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.PortalURLTemplate = os.Getenv("PORTAL_URL_TEMPLATE")

	windowDays, err := getInt("RENEWAL_WINDOW_DAYS", 7)
	if err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("RENEWAL_WINDOW_DAYS must be positive, got %d", windowDays)
	}
	cfg.RenewalWindow = time.Duration(windowDays) * 24 * time.Hour

	cfg.MailFrom = os.Getenv("MAIL_FROM")
	if cfg.MailFrom == "" {
		return nil, fmt.Errorf("MAIL_FROM is not set")
	}
	cfg.MailProvider = strings.ToLower(getString("MAIL_PROVIDER", MailProviderLog))
	cfg.PostmarkServerToken = os.Getenv("POSTMARK_SERVER_TOKEN")
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPPort, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")

	switch cfg.MailProvider {
	case MailProviderPostmark:
		if cfg.PostmarkServerToken == "" {
			return nil, fmt.Errorf("POSTMARK_SERVER_TOKEN is not set")
		}
	case MailProviderSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is not set")
		}
	case MailProviderLog:
	default:
		return nil, fmt.Errorf("invalid MAIL_PROVIDER %q", cfg.MailProvider)
	}

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")

	cfg.LedgerBackend = strings.ToLower(getString("LEDGER_BACKEND", LedgerSQLite))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getString("SQLITE_PATH", "data/renewals.db")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	switch cfg.LedgerBackend {
	case LedgerPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case LedgerRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is not set")
		}
	case LedgerSQLite, LedgerMemory:
	default:
		return nil, fmt.Errorf("invalid LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
	if cfg.LedgerLease, err = getDuration("LEDGER_LEASE", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.DefaultLocale = strings.ToLower(getString("DEFAULT_LOCALE", "sv"))
	tz := getString("TIMEZONE", "Europe/Stockholm")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Subject = os.Getenv("RENEWAL_SUBJECT")
	cfg.BrandName = os.Getenv("BRAND_NAME")
	cfg.ContactEmail = os.Getenv("CONTACT_EMAIL")

	if cfg.SendConcurrency, err = getInt("SEND_CONCURRENCY", 5); err != nil {
		return nil, err
	}
	if cfg.SendConcurrency <= 0 {
		return nil, fmt.Errorf("SEND_CONCURRENCY must be positive, got %d", cfg.SendConcurrency)
	}
	if cfg.SourceTimeout, err = getDuration("SOURCE_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendTimeout, err = getDuration("SEND_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.InvocationBudget, err = getDuration("INVOCATION_BUDGET", 50*time.Second); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getString("HTTP_ADDR", ":8080")
	cfg.CronSpec = os.Getenv("CRON_SPEC")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")

	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	return cfg, nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}
