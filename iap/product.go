package iap

import (
	"slices"

	"github.com/shopspring/decimal"
)

// ProductDescriptor is the last-fetched description of a store product.
//
// Price is only set when the store reported a verified amount (micro-units on
// Play, a decimal on StoreKit). Display-level fields are always populated from
// whatever the store returned.
type ProductDescriptor struct {
	ProductID   string
	Type        ProductType
	Kind        ProductKind
	Platform    Platform
	Title       string
	DisplayName string
	Description string

	Currency       string
	DisplayPrice   string
	LocalizedPrice string
	Price          *decimal.Decimal

	IntroductoryPrice string

	// Play specific
	OneTimeOffer       *OneTimeOffer
	Offers             []*OfferDetail
	SubscriptionPeriod string

	// StoreKit specific
	IsFamilyShareable                   bool
	SubscriptionPeriodUnit              string
	SubscriptionPeriodNumber            string
	IntroductoryPriceNumberOfPeriods    string
	IntroductoryPriceSubscriptionPeriod string
}

// OneTimeOffer is the pricing of a one-time product. PriceAmountMicros is nil
// when only display-level data was available.
type OneTimeOffer struct {
	PriceCurrencyCode string
	FormattedPrice    string
	PriceAmountMicros *int64
}

// OfferDetail is one purchasable subscription offer (a base plan, or an offer
// layered on a base plan).
type OfferDetail struct {
	BasePlanID    string
	OfferID       string
	OfferToken    string
	OfferTags     []string
	PricingPhases []*PricingPhase
}

type PricingPhase struct {
	FormattedPrice    string
	PriceCurrencyCode string
	BillingPeriod     string
	BillingCycleCount int
	PriceAmountMicros int64
	RecurrenceMode    int
}

func (p *ProductDescriptor) Clone() *ProductDescriptor {
	if p == nil {
		return nil
	}

	cloned := *p
	if p.Price != nil {
		price := p.Price.Copy()
		cloned.Price = &price
	}
	if p.OneTimeOffer != nil {
		offer := *p.OneTimeOffer
		if p.OneTimeOffer.PriceAmountMicros != nil {
			micros := *p.OneTimeOffer.PriceAmountMicros
			offer.PriceAmountMicros = &micros
		}
		cloned.OneTimeOffer = &offer
	}
	if p.Offers != nil {
		cloned.Offers = make([]*OfferDetail, len(p.Offers))
		for i, o := range p.Offers {
			cloned.Offers[i] = o.Clone()
		}
	}
	return &cloned
}

func (o *OfferDetail) Clone() *OfferDetail {
	if o == nil {
		return nil
	}

	cloned := *o
	cloned.OfferTags = slices.Clone(o.OfferTags)
	if o.PricingPhases != nil {
		cloned.PricingPhases = make([]*PricingPhase, len(o.PricingPhases))
		for i, p := range o.PricingPhases {
			phase := *p
			cloned.PricingPhases[i] = &phase
		}
	}
	return &cloned
}

// MicrosToPrice converts a verified micro-unit amount to a decimal price.
func MicrosToPrice(micros int64) decimal.Decimal {
	return decimal.New(micros, -6)
}
