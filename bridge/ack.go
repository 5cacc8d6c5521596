package bridge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/iap"
)

// AcknowledgePurchase acknowledges a non-consumable or subscription purchase.
// A purchase that was already acknowledged is reported as success.
func (b *Bridge) AcknowledgePurchase(ctx context.Context, req *iap.TokenRequest) (*iap.BillingResponse, error) {
	if _, err := b.current(); err != nil {
		return nil, err
	}
	if req.PurchaseToken == "" {
		return nil, iap.NewValidationError(iap.CodeDeveloperError, "purchaseToken is required")
	}

	log := b.log.With(zap.String("product_id", req.ProductID))

	err := b.store.Acknowledge(ctx, req)
	b.metrics.NativeCall("acknowledge", err)
	switch {
	case err == nil:
	case errors.Is(err, iap.ErrAlreadyAcknowledged):
		log.Debug("Purchase was already acknowledged")
	case errors.Is(err, iap.ErrUnsupported):
		return nil, iap.NewNativeError(iap.CodeServiceError, "acknowledgePurchase is not supported by this store")
	default:
		log.Warn("Failed to acknowledge purchase", zap.Error(err))
		return nil, nativeError(err, iap.CodeServiceError)
	}

	return iap.NewBillingResponse(iap.BillingResult{ResponseCode: iap.ResponseOK}, ""), nil
}

// ConsumeProduct consumes a purchase so the product can be bought again. The
// response carries the store's token for the consumed purchase.
func (b *Bridge) ConsumeProduct(ctx context.Context, req *iap.TokenRequest) (*iap.BillingResponse, error) {
	if _, err := b.current(); err != nil {
		return nil, err
	}
	if req.PurchaseToken == "" {
		return nil, iap.NewValidationError(iap.CodeDeveloperError, "purchaseToken is required")
	}

	token, err := b.store.Consume(ctx, req)
	b.metrics.NativeCall("consume", err)
	if errors.Is(err, iap.ErrUnsupported) {
		return nil, iap.NewNativeError(iap.CodeServiceError, "consumeProduct is not supported by this store")
	} else if err != nil {
		b.log.Warn("Failed to consume purchase", zap.Error(err), zap.String("product_id", req.ProductID))
		return nil, nativeError(err, iap.CodeServiceError)
	}

	return iap.NewBillingResponse(iap.BillingResult{ResponseCode: iap.ResponseOK}, token), nil
}

// FinishTransaction retires a transaction from the store's pending queue. An
// unknown or already finished transaction is reported as success.
func (b *Bridge) FinishTransaction(ctx context.Context, transactionID string) error {
	if _, err := b.current(); err != nil {
		return err
	}
	if transactionID == "" {
		return iap.NewValidationError(iap.CodeDeveloperError, "transactionId is required")
	}

	log := b.log.With(zap.String("transaction_id", transactionID))

	err := b.store.Finish(ctx, transactionID)
	b.metrics.NativeCall("finish", err)
	if errors.Is(err, iap.ErrTransactionNotFound) {
		log.Debug("Transaction not found, assuming it was already finished")
		return nil
	} else if err != nil {
		log.Warn("Failed to finish transaction", zap.Error(err))
		return nativeError(err, iap.CodeServiceError)
	}
	return nil
}

// RestorePurchases asks the store to resynchronise purchases. Restored
// purchases arrive on the purchase-update stream.
func (b *Bridge) RestorePurchases(ctx context.Context) error {
	if _, err := b.current(); err != nil {
		return err
	}

	err := b.store.Sync(ctx)
	b.metrics.NativeCall("sync", err)
	if err != nil {
		b.log.Warn("Failed to restore purchases", zap.Error(err))
		restoreErr := iap.NewNativeError(iap.CodeRestoreFailed, err.Error())
		if e, ok := iap.AsError(err); ok {
			restoreErr.Message = e.Message
			restoreErr.Result = e.Result
		}
		return restoreErr
	}
	return nil
}
