// Package billing reads subscriptions from Stripe.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"renewal_notifier/internal/domain/subscription"

	"github.com/stripe/stripe-go/v82"
	stripeproduct "github.com/stripe/stripe-go/v82/product"
	stripesub "github.com/stripe/stripe-go/v82/subscription"
)

var _ subscription.Source = (*StripeSource)(nil)

// StripeSource lists active subscriptions with customer and price expanded. Stripe caps
// expansion depth, so the product behind a price is fetched separately.
type StripeSource struct {
	listSubscriptions func(ctx context.Context) ([]*stripe.Subscription, error)
	getProduct        func(ctx context.Context, id string) (*stripe.Product, error)
}

func NewStripeSource(secretKey string) (*StripeSource, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is not set")
	}
	stripe.Key = secretKey
	return &StripeSource{
		listSubscriptions: listActiveSubscriptions,
		getProduct:        getProduct,
	}, nil
}

func listActiveSubscriptions(ctx context.Context) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Status: stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(100)
	params.AddExpand("data.customer")
	params.AddExpand("data.items.data.price")

	var subs []*stripe.Subscription
	it := stripesub.List(params)
	for it.Next() {
		subs = append(subs, it.Subscription())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list stripe subscriptions: %w", err)
	}
	return subs, nil
}

func getProduct(ctx context.Context, id string) (*stripe.Product, error) {
	params := &stripe.ProductParams{}
	params.Context = ctx
	return stripeproduct.Get(id, params)
}

func (s *StripeSource) ListActive(ctx context.Context) ([]subscription.Subscription, error) {
	raw, err := s.listSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]subscription.Subscription, 0, len(raw))
	for _, sub := range raw {
		if sub == nil {
			continue
		}
		out = append(out, toSubscription(sub))
	}
	return out, nil
}

func (s *StripeSource) ResolveProduct(ctx context.Context, ref string) (*subscription.Product, error) {
	p, err := s.getProduct(ctx, ref)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, subscription.ErrProductNotFound
		}
		return nil, fmt.Errorf("get stripe product %s: %w", ref, err)
	}
	if p == nil || p.Deleted {
		return nil, subscription.ErrProductNotFound
	}
	return &subscription.Product{ID: p.ID, Name: p.Name}, nil
}

// toSubscription maps the first subscription item. The renewal instant is the end of
// that item's current period.
func toSubscription(sub *stripe.Subscription) subscription.Subscription {
	out := subscription.Subscription{
		ID:     sub.ID,
		Status: subscription.Status(sub.Status),
	}

	if c := sub.Customer; c != nil {
		out.CustomerID = c.ID
		out.CustomerEmail = c.Email
		out.CustomerName = c.Name
		if len(c.PreferredLocales) > 0 {
			out.CustomerLocale = c.PreferredLocales[0]
		}
	}

	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return out
	}
	item := sub.Items.Data[0]
	out.RenewalAt = item.CurrentPeriodEnd

	price := item.Price
	if price == nil {
		return out
	}
	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}
	out.PriceAmountMinor = price.UnitAmount * quantity
	out.Currency = string(price.Currency)
	out.ProductName = price.Nickname
	if price.Recurring != nil {
		out.IntervalUnit = subscription.IntervalUnit(price.Recurring.Interval)
		out.IntervalCount = price.Recurring.IntervalCount
	}
	if price.Product != nil {
		out.ProductRef = price.Product.ID
		if price.Product.Name != "" {
			out.ProductName = price.Product.Name
		}
	}
	return out
}
