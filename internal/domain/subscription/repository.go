package subscription

import (
	"context"
	"fmt"
)

var ErrProductNotFound = fmt.Errorf("product not found")

// Source is the billing data source. Listing cannot expand the product behind a price,
// so products are resolved by reference in a second call.
type Source interface {
	ListActive(ctx context.Context) ([]Subscription, error)
	ResolveProduct(ctx context.Context, ref string) (*Product, error)
}
