package iap

import (
	"time"

	"github.com/shopspring/decimal"
)

// NativePurchase is a purchase payload in the shape a native store delivers
// it. The concrete types are *PlayPurchase and *StoreKitTransaction.
type NativePurchase interface {
	Platform() Platform
}

// NativeProduct is a product payload in the shape a native store delivers it.
// The concrete types are *PlayProductDetails and *StoreKitProduct.
type NativeProduct interface {
	Platform() Platform
	ID() string
}

// Verified pairs a native purchase with the store's signature verification
// outcome. Err is non-nil when the payload could not be verified.
type Verified struct {
	Purchase NativePurchase
	Err      error
}

// Play Billing Purchase.PurchaseState values.
const (
	PlayPurchaseStateUnspecified = 0
	PlayPurchaseStatePurchased   = 1
	PlayPurchaseStatePending     = 2
)

// PlayPurchase mirrors a Google Play Billing Purchase.
type PlayPurchase struct {
	OrderID            string
	Products           []string
	PurchaseTime       int64 // epoch millis
	PurchaseToken      string
	OriginalJSON       string
	Signature          string
	PurchaseState      int
	IsAutoRenewing     bool
	IsAcknowledged     bool
	PackageName        string
	DeveloperPayload   string
	AccountIdentifiers *PlayAccountIdentifiers
}

type PlayAccountIdentifiers struct {
	ObfuscatedAccountID string
	ObfuscatedProfileID string
}

func (p *PlayPurchase) Platform() Platform { return PlatformAndroid }

// StoreKitTransaction mirrors a StoreKit 2 Transaction together with the JWS
// of the verification result it was unwrapped from.
type StoreKitTransaction struct {
	ID                 uint64
	OriginalID         uint64
	ProductID          string
	PurchaseDate       time.Time
	ExpirationDate     *time.Time
	RevocationDate     *time.Time
	RevocationReason   *int
	IsUpgraded         bool
	JSONRepresentation []byte
	JWSRepresentation  string
}

func (t *StoreKitTransaction) Platform() Platform { return PlatformIOS }

// PlayProductDetails mirrors a Google Play Billing ProductDetails.
type PlayProductDetails struct {
	ProductID   string
	ProductType string
	Title       string
	Name        string
	Description string

	OneTimePurchaseOfferDetails *PlayOneTimeOffer
	SubscriptionOfferDetails    []*PlaySubscriptionOffer
}

type PlayOneTimeOffer struct {
	PriceAmountMicros int64
	PriceCurrencyCode string
	FormattedPrice    string
}

type PlaySubscriptionOffer struct {
	BasePlanID    string
	OfferID       *string
	OfferToken    string
	OfferTags     []string
	PricingPhases []*PlayPricingPhase
}

type PlayPricingPhase struct {
	FormattedPrice    string
	PriceCurrencyCode string
	BillingPeriod     string
	BillingCycleCount int
	PriceAmountMicros int64
	RecurrenceMode    int
}

func (p *PlayProductDetails) Platform() Platform { return PlatformAndroid }
func (p *PlayProductDetails) ID() string         { return p.ProductID }

// StoreKitProduct mirrors a StoreKit 2 Product.
type StoreKitProduct struct {
	ProductID         string
	DisplayName       string
	Description       string
	Price             decimal.Decimal
	CurrencyCode      string
	DisplayPrice      string
	Type              string
	IsFamilyShareable bool
	Subscription      *StoreKitSubscriptionInfo
}

type StoreKitSubscriptionInfo struct {
	PeriodUnit        string
	PeriodValue       int
	IntroductoryOffer *StoreKitIntroOffer
}

type StoreKitIntroOffer struct {
	DisplayPrice string
	PeriodUnit   string
	PeriodValue  int
}

func (p *StoreKitProduct) Platform() Platform { return PlatformIOS }
func (p *StoreKitProduct) ID() string         { return p.ProductID }
