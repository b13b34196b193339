// internal/app/scanner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"renewal_notifier/internal/domain/subscription"

	"github.com/sirupsen/logrus"
)

var ErrSourceUnavailable = fmt.Errorf("billing source unavailable")

type ScannerConfig struct {
	Window            time.Duration
	PortalURLTemplate string // {customer_id} and {subscription_id} are substituted
	SourceTimeout     time.Duration
}

// SkippedItem is a subscription left out of a scan or a batch, with the reason.
type SkippedItem struct {
	SubscriptionID string `json:"subscriptionId"`
	Reason         string `json:"reason"`
}

type ScanResult struct {
	WindowStart time.Time
	WindowEnd   time.Time
	Candidates  []subscription.Snapshot
	Skipped     []SkippedItem
}

// Scanner finds active subscriptions that renew inside the scan window.
type Scanner struct {
	source subscription.Source
	cfg    ScannerConfig
	logger *logrus.Entry
}

func NewScanner(source subscription.Source, cfg ScannerConfig, logger *logrus.Entry) *Scanner {
	if cfg.Window <= 0 {
		cfg.Window = 7 * 24 * time.Hour
	}
	return &Scanner{source: source, cfg: cfg, logger: logger}
}

// Scan lists active subscriptions once and keeps those renewing in
// [windowStart, windowStart+window], in source order. A source failure aborts the scan;
// a product that cannot be resolved only skips its subscription.
func (s *Scanner) Scan(ctx context.Context, windowStart time.Time) (*ScanResult, error) {
	result := &ScanResult{
		WindowStart: windowStart,
		WindowEnd:   windowStart.Add(s.cfg.Window),
	}

	listCtx := ctx
	if s.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, s.cfg.SourceTimeout)
		defer cancel()
	}

	subs, err := s.source.ListActive(listCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	start, end := result.WindowStart.Unix(), result.WindowEnd.Unix()
	products := make(map[string]productLookup)

	for _, sub := range subs {
		if sub.Status != subscription.StatusActive {
			continue
		}
		if sub.RenewalAt < start || sub.RenewalAt > end {
			continue
		}

		name, err := s.productName(ctx, sub, products)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"subscription_id": sub.ID,
				"product_ref":     sub.ProductRef,
			}).Warnf("Skipping subscription: %v", err)
			result.Skipped = append(result.Skipped, SkippedItem{SubscriptionID: sub.ID, Reason: err.Error()})
			continue
		}

		result.Candidates = append(result.Candidates, subscription.Snapshot{
			SubscriptionID:   sub.ID,
			CustomerID:       sub.CustomerID,
			CustomerEmail:    sub.CustomerEmail,
			CustomerName:     sub.CustomerName,
			CustomerLocale:   sub.CustomerLocale,
			RenewalTimestamp: sub.RenewalAt,
			PriceAmountMinor: sub.PriceAmountMinor,
			Currency:         sub.Currency,
			IntervalUnit:     sub.IntervalUnit,
			IntervalCount:    sub.IntervalCount,
			ProductName:      name,
			PortalLink:       s.portalLink(sub),
		})
	}

	return result, nil
}

type productLookup struct {
	product *subscription.Product
	err     error
}

// productName resolves the product once per reference per scan.
func (s *Scanner) productName(ctx context.Context, sub subscription.Subscription, memo map[string]productLookup) (string, error) {
	if sub.ProductRef == "" {
		return "", fmt.Errorf("price has no product reference")
	}

	lookup, ok := memo[sub.ProductRef]
	if !ok {
		lookup.product, lookup.err = s.resolveProduct(ctx, sub.ProductRef)
		memo[sub.ProductRef] = lookup
	}
	if lookup.err != nil {
		if errors.Is(lookup.err, subscription.ErrProductNotFound) {
			return "", fmt.Errorf("product %s: %w", sub.ProductRef, lookup.err)
		}
		return "", fmt.Errorf("resolve product %s: %w", sub.ProductRef, lookup.err)
	}
	if lookup.product == nil {
		return "", fmt.Errorf("product %s: %w", sub.ProductRef, subscription.ErrProductNotFound)
	}

	if name := strings.TrimSpace(lookup.product.Name); name != "" {
		return name, nil
	}
	if sub.ProductName != "" {
		return sub.ProductName, nil
	}
	return lookup.product.ID, nil
}

// resolveProduct gets its own SourceTimeout so a slow listing does not starve lookups.
func (s *Scanner) resolveProduct(ctx context.Context, ref string) (*subscription.Product, error) {
	if s.cfg.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SourceTimeout)
		defer cancel()
	}
	return s.source.ResolveProduct(ctx, ref)
}

func (s *Scanner) portalLink(sub subscription.Subscription) string {
	if s.cfg.PortalURLTemplate == "" {
		return ""
	}
	return strings.NewReplacer(
		"{customer_id}", url.PathEscape(sub.CustomerID),
		"{subscription_id}", url.PathEscape(sub.ID),
	).Replace(s.cfg.PortalURLTemplate)
}
