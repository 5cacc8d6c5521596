package android

import (
	"context"

	"google.golang.org/api/androidpublisher/v3"

	"github.com/code-payments/iap-bridge/iap"
)

// Verifier uses the Google Play Developer API to verify purchase tokens.
type Verifier struct {
	svc *androidpublisher.Service

	// packageName is the Android app's package name.
	packageName string
}

func NewVerifier(svc *androidpublisher.Service, packageName string) iap.Verifier {
	return &Verifier{
		svc:         svc,
		packageName: packageName,
	}
}

func (v *Verifier) VerifyPurchase(ctx context.Context, purchase *iap.PurchaseRecord) (bool, error) {
	if purchase.Platform != iap.PlatformAndroid {
		return false, nil
	}

	if purchase.IsAutoRenewing {
		sub, err := v.svc.Purchases.Subscriptionsv2.Get(v.packageName, purchase.PurchaseToken).Context(ctx).Do()
		if isNotFound(err) {
			return false, nil
		} else if err != nil {
			return false, toNativeError(err)
		}

		switch sub.SubscriptionState {
		case "SUBSCRIPTION_STATE_ACTIVE",
			"SUBSCRIPTION_STATE_IN_GRACE_PERIOD",
			"SUBSCRIPTION_STATE_CANCELED",
			"SUBSCRIPTION_STATE_PENDING":
			return true, nil
		default:
			return false, nil
		}
	}

	productPurchase, err := v.svc.Purchases.Products.Get(v.packageName, purchase.ProductID, purchase.PurchaseToken).Context(ctx).Do()
	if isNotFound(err) {
		// The token was not issued for this product.
		return false, nil
	} else if err != nil {
		return false, toNativeError(err)
	}

	// PurchaseState 0 is purchased, 1 canceled, 2 pending.
	return productPurchase.PurchaseState == 0 || productPurchase.PurchaseState == 2, nil
}
