package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/catalog"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/metrics"
)

// GetProducts fetches one-time products and caches them for BuyProduct.
// Unknown ids are omitted from the result.
func (b *Bridge) GetProducts(ctx context.Context, productIDs []string) ([]*iap.ProductDescriptor, error) {
	return b.queryProducts(ctx, iap.ProductTypeInApp, productIDs)
}

// GetSubscriptions fetches subscription products and caches them for
// BuyProduct.
func (b *Bridge) GetSubscriptions(ctx context.Context, productIDs []string) ([]*iap.ProductDescriptor, error) {
	return b.queryProducts(ctx, iap.ProductTypeSubscription, productIDs)
}

func (b *Bridge) queryProducts(ctx context.Context, productType iap.ProductType, productIDs []string) ([]*iap.ProductDescriptor, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}
	if len(productIDs) == 0 {
		return nil, iap.NewValidationError(iap.CodeDeveloperError, "productIds is required")
	}

	log := b.log.With(zap.String("epoch", s.epoch.String()), zap.String("type", string(productType)))

	natives, err := b.store.QueryProducts(ctx, productType, productIDs)
	b.metrics.NativeCall("queryProducts", err)
	if err != nil {
		log.Warn("Failed to query products", zap.Error(err))
		return nil, nativeError(err, iap.CodeProductLoadFailed)
	}

	products := make([]*iap.ProductDescriptor, 0, len(natives))
	for _, native := range natives {
		product, err := iap.NormalizeProduct(native)
		if err != nil {
			log.Warn("Failed to normalize product", zap.Error(err))
			b.metrics.EventDropped(metrics.DropParse)
			continue
		}
		products = append(products, product)
	}

	// The connection may have ended while the store was queried. The caller
	// still gets the products, but they are not cached for any later epoch.
	if !b.isCurrent(s) || errors.Is(s.catalog.Put(products...), catalog.ErrClosed) {
		log.Debug("Connection ended during product query, not caching products")
		return products, nil
	}

	log.Debug("Products cached", zap.Int("count", len(products)))
	return products, nil
}

// ClearTransactionCache discards the product catalog without ending the
// connection. Products must be fetched again before they can be bought, so a
// BuyProduct that follows without a GetProducts or GetSubscriptions fails with
// E_PRODUCT_NOT_FOUND. StoreKit 2 keeps no transaction cache of its own, so on
// iOS this is the only effect.
func (b *Bridge) ClearTransactionCache() error {
	s, err := b.current()
	if err != nil {
		return err
	}

	s.catalog.Clear()
	return nil
}
