package iap

import (
	"context"
)

// Store is the boundary to a native billing SDK (Google Play Billing or
// StoreKit 2). Every call may block on the store; implementations must be safe
// for concurrent use.
type Store interface {
	Platform() Platform

	// Connect prepares the native client. It is only called while the bridge
	// is disconnected.
	Connect(ctx context.Context) error

	// Disconnect releases the native client.
	Disconnect(ctx context.Context) error

	IsReady() bool

	// Subscribe opens the store's asynchronous purchase-update stream. The
	// returned channel is closed once ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan *Update, error)

	// QueryProducts fetches product details. Unknown ids are omitted.
	QueryProducts(ctx context.Context, productType ProductType, productIDs []string) ([]NativeProduct, error)

	// QueryPurchases returns the purchases the user currently owns.
	QueryPurchases(ctx context.Context, productType ProductType) ([]*Verified, error)

	// QueryPurchaseHistory returns past purchases, including consumed ones
	// where the store still reports them.
	QueryPurchaseHistory(ctx context.Context, productType ProductType) ([]*Verified, error)

	// LaunchPurchase starts the native purchase UI. A failure to launch is
	// returned as an *Error carrying the billing result.
	LaunchPurchase(ctx context.Context, params *LaunchParams) (*LaunchResult, error)

	// Acknowledge acknowledges a non-consumable or subscription purchase.
	// ErrAlreadyAcknowledged is returned if it was acknowledged before.
	Acknowledge(ctx context.Context, req *TokenRequest) error

	// Consume consumes a purchase and returns the store's token for it.
	Consume(ctx context.Context, req *TokenRequest) (string, error)

	// Finish retires a transaction from the pending-transaction queue.
	// ErrTransactionNotFound is returned if no unfinished transaction has
	// the id.
	Finish(ctx context.Context, transactionID string) error

	// Sync asks the store to resynchronise purchases with its backend.
	Sync(ctx context.Context) error
}

// PaymentsChecker is implemented by stores that can tell whether the user may
// make payments at all, as StoreKit's AppStore.canMakePayments does.
type PaymentsChecker interface {
	CanMakePayments(ctx context.Context) (bool, error)
}

// Update is one delivery on the purchase-update stream.
type Update struct {
	Result    BillingResult
	Purchases []*Verified
}

type LaunchParams struct {
	Product             *ProductDescriptor
	OfferToken          string
	ReplacementMode     ReplacementMode
	OldPurchaseToken    string
	ObfuscatedAccountID string
	ObfuscatedProfileID string
}

type LaunchStatus uint8

const (
	// LaunchStatusLaunched means the purchase UI is up and the outcome will
	// arrive on the update stream.
	LaunchStatusLaunched LaunchStatus = iota
	LaunchStatusPurchased
	LaunchStatusUserCancelled
	LaunchStatusPending
	LaunchStatusUnknown
)

// LaunchResult is the synchronous outcome of LaunchPurchase. Purchase is set
// only for LaunchStatusPurchased.
type LaunchResult struct {
	Status   LaunchStatus
	Purchase *Verified
}

// TokenRequest identifies a purchase to acknowledge or consume. ProductID is
// optional for on-device stores.
type TokenRequest struct {
	PurchaseToken string
	ProductID     string
	ProductType   ProductType
}
