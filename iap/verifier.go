package iap

import "context"

type Verifier interface {

	// VerifyPurchase determines whether the purchase token of a normalized
	// purchase (a Play purchase token, a StoreKit JWS, or for memory a signed
	// payload) was issued by the store. A purchase that fails verification must
	// never reach the application.
	VerifyPurchase(ctx context.Context, purchase *PurchaseRecord) (bool, error)
}
