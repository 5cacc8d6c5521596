package iap

import "fmt"

// Platform tags which native store a payload came from.
type Platform string

const (
	PlatformUnknown Platform = ""
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// ProductType is the query/purchase class a product belongs to.
type ProductType string

const (
	ProductTypeInApp        ProductType = "inapp"
	ProductTypeSubscription ProductType = "subs"
)

// ParseProductType accepts the command-surface spelling. Anything other than
// "subs" is an in-app product, matching the billing client's own defaulting.
func ParseProductType(s string) ProductType {
	if s == string(ProductTypeSubscription) {
		return ProductTypeSubscription
	}
	return ProductTypeInApp
}

// ProductKind refines ProductType where the store knows it. Google Play does
// not distinguish consumables from non-consumables, so Android in-app products
// stay KindUnknown.
type ProductKind uint8

const (
	KindUnknown ProductKind = iota
	KindConsumable
	KindNonConsumable
	KindNonRenewable
	KindAutoRenewable
)

func (k ProductKind) String() string {
	switch k {
	case KindConsumable:
		return "consumable"
	case KindNonConsumable:
		return "nonConsumable"
	case KindNonRenewable:
		return "nonRenewable"
	case KindAutoRenewable:
		return "autoRenewable"
	default:
		return "unknown"
	}
}

func parseProductKind(s string) ProductKind {
	switch s {
	case "consumable":
		return KindConsumable
	case "nonConsumable":
		return KindNonConsumable
	case "nonRenewable":
		return KindNonRenewable
	case "autoRenewable":
		return KindAutoRenewable
	default:
		return KindUnknown
	}
}

type PurchaseState string

const (
	PurchaseStateUnknown   PurchaseState = ""
	PurchaseStatePurchased PurchaseState = "purchased"
	PurchaseStatePending   PurchaseState = "pending"
	PurchaseStateRevoked   PurchaseState = "revoked"
	PurchaseStateExpired   PurchaseState = "expired"
)

// ReplacementMode selects how a subscription purchase replaces an existing one.
// Values match the Play Billing SubscriptionUpdateParams.ReplacementMode
// constants.
type ReplacementMode int

const (
	ReplacementModeNone                ReplacementMode = -1
	ReplacementModeUnset               ReplacementMode = 0
	ReplacementModeWithTimeProration   ReplacementMode = 1
	ReplacementModeChargeProratedPrice ReplacementMode = 2
	ReplacementModeWithoutProration    ReplacementMode = 3
	ReplacementModeDeferred            ReplacementMode = 4
	ReplacementModeChargeFullPrice     ReplacementMode = 5
)

// RequiresPriorToken reports whether the mode replaces an existing
// subscription and therefore needs that subscription's purchase token.
func (m ReplacementMode) RequiresPriorToken() bool {
	return m >= ReplacementModeWithTimeProration && m <= ReplacementModeChargeFullPrice
}

func (m ReplacementMode) String() string {
	switch m {
	case ReplacementModeNone, ReplacementModeUnset:
		return "NONE"
	case ReplacementModeWithTimeProration:
		return "WITH_TIME_PRORATION"
	case ReplacementModeChargeProratedPrice:
		return "CHARGE_PRORATED_PRICE"
	case ReplacementModeWithoutProration:
		return "WITHOUT_PRORATION"
	case ReplacementModeDeferred:
		return "DEFERRED"
	case ReplacementModeChargeFullPrice:
		return "CHARGE_FULL_PRICE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(m))
	}
}
