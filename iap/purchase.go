package iap

import "slices"

// PurchaseRecord is the canonical, platform-independent view of a purchase or
// transaction.
//
// PurchaseToken is authoritative. Platform aliases on the wire
// (purchaseTokenAndroid, jwsRepresentationIOS) are always derived from it.
type PurchaseRecord struct {
	ID            string
	ProductID     string
	ProductIDs    []string
	PurchaseTime  int64 // epoch millis
	PurchaseToken string
	Receipt       string
	State         PurchaseState
	Platform      Platform

	// Play specific
	Signature           string
	PurchaseStateCode   int
	IsAcknowledged      bool
	IsAutoRenewing      bool
	PackageName         string
	DeveloperPayload    string
	ObfuscatedAccountID string
	ObfuscatedProfileID string

	// StoreKit specific
	OriginalTransactionID string
	IsUpgraded            bool
	ExpirationDate        *int64 // epoch millis
	RevocationDate        *int64 // epoch millis
	RevocationReason      *int
}

// DedupKey is the identifier the deduplicator tracks. Play omits the order id
// on pending purchases, in which case the token identifies the purchase.
func (r *PurchaseRecord) DedupKey() string {
	if r.ID != "" {
		return r.ID
	}
	return r.PurchaseToken
}

func (r *PurchaseRecord) Clone() *PurchaseRecord {
	if r == nil {
		return nil
	}

	cloned := *r
	cloned.ProductIDs = slices.Clone(r.ProductIDs)
	if r.ExpirationDate != nil {
		v := *r.ExpirationDate
		cloned.ExpirationDate = &v
	}
	if r.RevocationDate != nil {
		v := *r.RevocationDate
		cloned.RevocationDate = &v
	}
	if r.RevocationReason != nil {
		v := *r.RevocationReason
		cloned.RevocationReason = &v
	}
	return &cloned
}
