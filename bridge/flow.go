package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/catalog"
	"github.com/code-payments/iap-bridge/iap"
)

// FlowState is the state of one purchase attempt.
type FlowState uint8

const (
	FlowIdle FlowState = iota
	FlowProductResolving
	FlowProductNotFound
	FlowRejected
	FlowLaunchingNativeFlow
	FlowAwaitingNativeResult
	FlowPurchaseEmitted
	FlowPurchaseDropped
	FlowUserCancelled
	FlowPending
	FlowLaunchFailed
)

func (s FlowState) String() string {
	switch s {
	case FlowIdle:
		return "idle"
	case FlowProductResolving:
		return "product_resolving"
	case FlowProductNotFound:
		return "product_not_found"
	case FlowRejected:
		return "rejected"
	case FlowLaunchingNativeFlow:
		return "launching_native_flow"
	case FlowAwaitingNativeResult:
		return "awaiting_native_result"
	case FlowPurchaseEmitted:
		return "purchase_emitted"
	case FlowPurchaseDropped:
		return "purchase_dropped"
	case FlowUserCancelled:
		return "user_cancelled"
	case FlowPending:
		return "pending"
	case FlowLaunchFailed:
		return "launch_failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// BuyRequest are the arguments of a purchase.
type BuyRequest struct {
	ProductID string

	// Type selects subscription handling. Defaults to the cached product's
	// type.
	Type iap.ProductType

	// ReplacementMode and PurchaseToken replace an existing subscription.
	ReplacementMode iap.ReplacementMode
	PurchaseToken   string

	// OfferTokenIndex selects a subscription offer. The first offer is used
	// when it is nil or out of range.
	OfferTokenIndex *int

	ObfuscatedAccountID string
	ObfuscatedProfileID string
}

// Attempt records how far a purchase got. When State is
// FlowAwaitingNativeResult the outcome is delivered on the event bus.
type Attempt struct {
	ProductID string
	State     FlowState
	Purchase  *iap.PurchaseRecord

	path []FlowState
}

func (a *Attempt) to(state FlowState) {
	a.State = state
	a.path = append(a.path, state)
}

// Path returns every state the attempt passed through, in order.
func (a *Attempt) Path() []FlowState {
	return append([]FlowState{FlowIdle}, a.path...)
}

// BuyProduct starts a purchase of a product previously fetched with
// GetProducts or GetSubscriptions.
//
// Returned errors are validation failures and native launch failures.
// Products missing from the catalog and launch failures are also pushed as
// purchase-error events. Outcomes the store reports after launching (success,
// cancellation, pending) only arrive as events.
func (b *Bridge) BuyProduct(ctx context.Context, req *BuyRequest) (*Attempt, error) {
	attempt := &Attempt{ProductID: req.ProductID, State: FlowIdle}

	s, err := b.current()
	if err != nil {
		return attempt, err
	}

	log := b.log.With(
		zap.String("epoch", s.epoch.String()),
		zap.String("product_id", req.ProductID),
	)

	attempt.to(FlowProductResolving)

	if req.ProductID == "" {
		attempt.to(FlowRejected)
		return attempt, iap.NewValidationError(iap.CodeDeveloperError, "productId is required")
	}

	product, err := s.catalog.Get(req.ProductID)
	if errors.Is(err, catalog.ErrNotFound) {
		attempt.to(FlowProductNotFound)
		notFound := iap.NewValidationError(
			iap.CodeProductNotFound,
			"The selected product was not found. Please fetch products first by calling getProducts",
		)
		notFound.ProductID = req.ProductID
		b.emitError(s, notFound, req.ProductID)
		return attempt, notFound
	} else if err != nil {
		attempt.to(FlowRejected)
		return attempt, err
	}

	params, err := b.launchParams(log, req, product)
	if err != nil {
		attempt.to(FlowRejected)
		return attempt, err
	}

	attempt.to(FlowLaunchingNativeFlow)

	result, err := b.store.LaunchPurchase(ctx, params)
	b.metrics.NativeCall("launchPurchase", err)
	if err != nil {
		attempt.to(FlowLaunchFailed)
		launchErr := launchError(err)
		launchErr.ProductID = req.ProductID
		log.Warn("Failed to launch purchase", zap.Error(err))
		b.emitError(s, launchErr, req.ProductID)
		return attempt, launchErr
	}

	attempt.to(FlowAwaitingNativeResult)

	switch result.Status {
	case iap.LaunchStatusLaunched:
	case iap.LaunchStatusPurchased:
		record := b.processPurchase(ctx, s, result.Purchase)
		if record == nil {
			attempt.to(FlowPurchaseDropped)
			break
		}
		attempt.Purchase = record
		attempt.to(FlowPurchaseEmitted)
	case iap.LaunchStatusUserCancelled:
		attempt.to(FlowUserCancelled)
		b.emitError(s, iap.NewNativeError(iap.CodeUserCancelled, "User cancelled the purchase"), req.ProductID)
	case iap.LaunchStatusPending:
		attempt.to(FlowPending)
		b.emitError(s, iap.NewNativeError(iap.CodeDeferredPayment, "The payment was deferred (awaiting approval via parental controls for instance)"), req.ProductID)
	default:
		attempt.to(FlowLaunchFailed)
		b.emitError(s, iap.NewNativeError(iap.CodeUnknown, "Unknown purchase result"), req.ProductID)
	}

	log.Debug("Purchase launched", zap.Stringer("state", attempt.State))
	return attempt, nil
}

// launchParams validates req against the cached product. Every check runs
// before the store is called.
func (b *Bridge) launchParams(log *zap.Logger, req *BuyRequest, product *iap.ProductDescriptor) (*iap.LaunchParams, error) {
	productType := req.Type
	if productType == "" {
		productType = product.Type
	}

	mode := req.ReplacementMode
	switch {
	case mode == iap.ReplacementModeNone, mode == iap.ReplacementModeUnset:
		mode = iap.ReplacementModeNone
	case mode.RequiresPriorToken():
		if req.PurchaseToken == "" {
			return nil, iap.NewValidationError(
				iap.CodeDeveloperError,
				fmt.Sprintf("Replacement mode %s requires the purchaseToken of the subscription being replaced.", mode),
			)
		}
		if mode == iap.ReplacementModeChargeProratedPrice && productType != iap.ProductTypeSubscription {
			return nil, iap.NewValidationError(
				iap.CodeDeveloperError,
				"CHARGE_PRORATED_PRICE replacement mode only works with subscriptions.",
			)
		}
	default:
		log.Debug("Ignoring unknown replacement mode", zap.Int("replacement_mode", int(mode)))
		mode = iap.ReplacementModeNone
	}

	params := &iap.LaunchParams{
		Product:             product,
		ReplacementMode:     mode,
		ObfuscatedAccountID: req.ObfuscatedAccountID,
		ObfuscatedProfileID: req.ObfuscatedProfileID,
	}
	if mode.RequiresPriorToken() {
		params.OldPurchaseToken = req.PurchaseToken
	}

	if productType == iap.ProductTypeSubscription && product.Platform == iap.PlatformAndroid {
		if len(product.Offers) == 0 {
			return nil, iap.NewValidationError(iap.CodeDeveloperError, "The subscription has no offers to purchase.")
		}

		offer := product.Offers[0]
		if i := req.OfferTokenIndex; i != nil && *i >= 0 && *i < len(product.Offers) {
			offer = product.Offers[*i]
		}
		params.OfferToken = offer.OfferToken
	}

	return params, nil
}

func launchError(err error) *iap.Error {
	if e, ok := iap.AsError(err); ok {
		return e
	}
	if errors.Is(err, iap.ErrUnsupported) {
		return iap.NewNativeError(iap.CodeServiceError, "Purchases cannot be launched from this store")
	}
	return iap.NewNativeError(iap.CodePurchaseFailed, err.Error())
}
