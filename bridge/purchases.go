package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/metrics"
)

// GetAvailableItems returns the purchases the user currently owns. An empty
// productType returns both one-time products and subscriptions.
//
// Listing purchases does not emit events and does not mark them as emitted.
func (b *Bridge) GetAvailableItems(ctx context.Context, productType iap.ProductType) ([]*iap.PurchaseRecord, error) {
	return b.queryPurchases(ctx, "queryPurchases", productType, b.store.QueryPurchases)
}

// GetPurchaseHistory returns past purchases, including consumed ones where the
// store still reports them.
func (b *Bridge) GetPurchaseHistory(ctx context.Context, productType iap.ProductType) ([]*iap.PurchaseRecord, error) {
	return b.queryPurchases(ctx, "queryPurchaseHistory", productType, b.store.QueryPurchaseHistory)
}

type purchaseQuery func(context.Context, iap.ProductType) ([]*iap.Verified, error)

func (b *Bridge) queryPurchases(ctx context.Context, method string, productType iap.ProductType, query purchaseQuery) ([]*iap.PurchaseRecord, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}

	types := []iap.ProductType{productType}
	if productType == "" {
		types = []iap.ProductType{iap.ProductTypeInApp, iap.ProductTypeSubscription}
	}

	log := b.log.With(zap.String("epoch", s.epoch.String()), zap.String("method", method))

	var records []*iap.PurchaseRecord
	for _, t := range types {
		verified, err := query(ctx, t)
		b.metrics.NativeCall(method, err)
		if errors.Is(err, iap.ErrUnsupported) {
			return nil, iap.NewNativeError(iap.CodeServiceError, method+" is not supported by this store")
		} else if err != nil {
			log.Warn("Failed to query purchases", zap.Error(err), zap.String("type", string(t)))
			return nil, nativeError(err, iap.CodeServiceError)
		}

		for _, v := range verified {
			record, ok := b.normalizeListed(ctx, log, v)
			if ok {
				records = append(records, record)
			}
		}
	}
	return records, nil
}

// normalizeListed applies the same verification rules as the listener, without
// deduplication.
func (b *Bridge) normalizeListed(ctx context.Context, log *zap.Logger, v *iap.Verified) (*iap.PurchaseRecord, bool) {
	if v == nil || v.Purchase == nil {
		return nil, false
	}
	if v.Err != nil {
		log.Warn("Skipping unverified transaction", zap.Error(v.Err))
		b.metrics.EventDropped(metrics.DropUnverified)
		return nil, false
	}

	record, err := iap.NormalizePurchase(v.Purchase, b.store.Platform(), b.now())
	if err != nil {
		log.Warn("Failed to normalize purchase", zap.Error(err))
		b.metrics.EventDropped(metrics.DropParse)
		return nil, false
	}

	if b.verifier != nil {
		valid, err := b.verifier.VerifyPurchase(ctx, record)
		if err != nil || !valid {
			log.Warn("Skipping purchase that failed verification", zap.Error(err), zap.String("transaction_id", record.ID))
			b.metrics.EventDropped(metrics.DropUnverified)
			return nil, false
		}
	}
	return record, true
}
