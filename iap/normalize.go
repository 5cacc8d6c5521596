package iap

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/text/currency"
)

const (
	unknownCurrency     = "Unknown"
	unknownDisplayPrice = "N/A"
	defaultIOSCurrency  = "USD"
)

// NormalizePurchase maps a native purchase payload to the canonical record.
// now is the normalization time against which expiry is judged.
//
// Platform quirks are confined to the per-platform mapping functions below.
func NormalizePurchase(payload NativePurchase, platform Platform, now time.Time) (*PurchaseRecord, error) {
	if payload == nil {
		return nil, parseError("missing purchase payload")
	}
	if payload.Platform() != platform {
		return nil, parseError(fmt.Sprintf("payload for %s delivered as %s", payload.Platform(), platform))
	}

	switch p := payload.(type) {
	case *PlayPurchase:
		return normalizePlayPurchase(p, now)
	case *StoreKitTransaction:
		return normalizeStoreKitTransaction(p, now)
	default:
		return nil, parseError(fmt.Sprintf("unsupported purchase payload %T", payload))
	}
}

// NormalizeProduct maps a native product payload to a ProductDescriptor.
func NormalizeProduct(payload NativeProduct) (*ProductDescriptor, error) {
	switch p := payload.(type) {
	case *PlayProductDetails:
		return normalizePlayProduct(p)
	case *StoreKitProduct:
		return normalizeStoreKitProduct(p)
	case nil:
		return nil, parseError("missing product payload")
	default:
		return nil, parseError(fmt.Sprintf("unsupported product payload %T", payload))
	}
}

// purchaseState applies the state precedence: revocation beats expiry, and
// expiry beats a pending flag.
func purchaseState(revokedAt, expiresAt *time.Time, pending bool, now time.Time) PurchaseState {
	if revokedAt != nil {
		return PurchaseStateRevoked
	}
	if expiresAt != nil && expiresAt.Before(now) {
		return PurchaseStateExpired
	}
	if pending {
		return PurchaseStatePending
	}
	return PurchaseStatePurchased
}

func normalizePlayPurchase(p *PlayPurchase, now time.Time) (*PurchaseRecord, error) {
	if len(p.Products) == 0 {
		return nil, parseError("play purchase has no products")
	}
	if p.PurchaseToken == "" {
		return nil, parseError("play purchase has no purchase token")
	}

	r := &PurchaseRecord{
		ID:                p.OrderID,
		ProductID:         p.Products[0],
		ProductIDs:        append([]string(nil), p.Products...),
		PurchaseTime:      p.PurchaseTime,
		PurchaseToken:     p.PurchaseToken,
		Receipt:           p.OriginalJSON,
		State:             purchaseState(nil, nil, p.PurchaseState == PlayPurchaseStatePending, now),
		Platform:          PlatformAndroid,
		Signature:         p.Signature,
		PurchaseStateCode: p.PurchaseState,
		IsAcknowledged:    p.IsAcknowledged,
		IsAutoRenewing:    p.IsAutoRenewing,
		PackageName:       p.PackageName,
		DeveloperPayload:  p.DeveloperPayload,
	}
	if p.AccountIdentifiers != nil {
		r.ObfuscatedAccountID = p.AccountIdentifiers.ObfuscatedAccountID
		r.ObfuscatedProfileID = p.AccountIdentifiers.ObfuscatedProfileID
	}
	return r, nil
}

func normalizeStoreKitTransaction(t *StoreKitTransaction, now time.Time) (*PurchaseRecord, error) {
	if t.ProductID == "" {
		return nil, parseError("storekit transaction has no product id")
	}
	if t.JWSRepresentation == "" {
		return nil, parseError("storekit transaction has no jws representation")
	}

	r := &PurchaseRecord{
		ID:            strconv.FormatUint(t.ID, 10),
		ProductID:     t.ProductID,
		ProductIDs:    []string{t.ProductID},
		PurchaseTime:  t.PurchaseDate.UnixMilli(),
		PurchaseToken: t.JWSRepresentation,
		Receipt:       base64.StdEncoding.EncodeToString(t.JSONRepresentation),
		State:         purchaseState(t.RevocationDate, t.ExpirationDate, false, now),
		Platform:      PlatformIOS,
		IsUpgraded:    t.IsUpgraded,
	}
	if t.OriginalID != 0 {
		r.OriginalTransactionID = strconv.FormatUint(t.OriginalID, 10)
	}
	if t.ExpirationDate != nil {
		ms := t.ExpirationDate.UnixMilli()
		r.ExpirationDate = &ms
	}
	if t.RevocationDate != nil {
		ms := t.RevocationDate.UnixMilli()
		r.RevocationDate = &ms
		if t.RevocationReason != nil {
			reason := *t.RevocationReason
			r.RevocationReason = &reason
		}
	}
	return r, nil
}

func normalizePlayProduct(p *PlayProductDetails) (*ProductDescriptor, error) {
	if p.ProductID == "" {
		return nil, parseError("play product has no product id")
	}

	d := &ProductDescriptor{
		ProductID:   p.ProductID,
		Type:        ParseProductType(p.ProductType),
		Platform:    PlatformAndroid,
		Title:       p.Title,
		DisplayName: p.Name,
		Description: p.Description,
	}
	if d.Type == ProductTypeSubscription {
		d.Kind = KindAutoRenewable
	}

	var firstPhase *PlayPricingPhase
	if len(p.SubscriptionOfferDetails) > 0 && len(p.SubscriptionOfferDetails[0].PricingPhases) > 0 {
		firstPhase = p.SubscriptionOfferDetails[0].PricingPhases[0]
	}

	oneTime := p.OneTimePurchaseOfferDetails
	switch {
	case oneTime != nil:
		d.Currency = normalizeCurrency(oneTime.PriceCurrencyCode)
		d.DisplayPrice = oneTime.FormattedPrice
	case firstPhase != nil:
		d.Currency = normalizeCurrency(firstPhase.PriceCurrencyCode)
		d.DisplayPrice = firstPhase.FormattedPrice
	}
	if d.Currency == "" {
		d.Currency = unknownCurrency
	}
	if d.DisplayPrice == "" {
		d.DisplayPrice = unknownDisplayPrice
	}

	if oneTime != nil {
		price := MicrosToPrice(oneTime.PriceAmountMicros)
		micros := oneTime.PriceAmountMicros
		d.Price = &price
		d.LocalizedPrice = oneTime.FormattedPrice
		d.IntroductoryPrice = oneTime.FormattedPrice
		d.OneTimeOffer = &OneTimeOffer{
			PriceCurrencyCode: normalizeCurrency(oneTime.PriceCurrencyCode),
			FormattedPrice:    oneTime.FormattedPrice,
			PriceAmountMicros: &micros,
		}
	} else if d.Type == ProductTypeInApp {
		// Display-only details; the numeric amount stays unknown.
		d.OneTimeOffer = &OneTimeOffer{
			PriceCurrencyCode: d.Currency,
			FormattedPrice:    d.DisplayPrice,
		}
	}

	if d.Type == ProductTypeSubscription {
		if firstPhase != nil {
			price := MicrosToPrice(firstPhase.PriceAmountMicros)
			d.Price = &price
			d.LocalizedPrice = firstPhase.FormattedPrice
			d.SubscriptionPeriod = firstPhase.BillingPeriod
		}

		d.Offers = make([]*OfferDetail, 0, len(p.SubscriptionOfferDetails))
		for _, offer := range p.SubscriptionOfferDetails {
			detail := &OfferDetail{
				BasePlanID: offer.BasePlanID,
				OfferToken: offer.OfferToken,
				OfferTags:  append([]string(nil), offer.OfferTags...),
			}
			if offer.OfferID != nil {
				detail.OfferID = *offer.OfferID
			}
			for _, phase := range offer.PricingPhases {
				detail.PricingPhases = append(detail.PricingPhases, &PricingPhase{
					FormattedPrice:    phase.FormattedPrice,
					PriceCurrencyCode: normalizeCurrency(phase.PriceCurrencyCode),
					BillingPeriod:     phase.BillingPeriod,
					BillingCycleCount: phase.BillingCycleCount,
					PriceAmountMicros: phase.PriceAmountMicros,
					RecurrenceMode:    phase.RecurrenceMode,
				})
			}
			d.Offers = append(d.Offers, detail)
		}
	}

	return d, nil
}

func normalizeStoreKitProduct(p *StoreKitProduct) (*ProductDescriptor, error) {
	if p.ProductID == "" {
		return nil, parseError("storekit product has no product id")
	}

	price := p.Price.Copy()
	d := &ProductDescriptor{
		ProductID:         p.ProductID,
		Kind:              parseProductKind(p.Type),
		Platform:          PlatformIOS,
		Title:             p.DisplayName,
		DisplayName:       p.DisplayName,
		Description:       p.Description,
		Currency:          normalizeCurrency(p.CurrencyCode),
		DisplayPrice:      p.DisplayPrice,
		LocalizedPrice:    p.DisplayPrice,
		Price:             &price,
		IsFamilyShareable: p.IsFamilyShareable,
	}
	if d.Currency == "" {
		d.Currency = defaultIOSCurrency
	}

	d.Type = ProductTypeInApp
	if d.Kind == KindAutoRenewable {
		d.Type = ProductTypeSubscription
	}

	if sub := p.Subscription; sub != nil {
		d.SubscriptionPeriodUnit = sub.PeriodUnit
		d.SubscriptionPeriodNumber = strconv.Itoa(sub.PeriodValue)
		if intro := sub.IntroductoryOffer; intro != nil {
			d.IntroductoryPrice = intro.DisplayPrice
			d.IntroductoryPriceNumberOfPeriods = strconv.Itoa(intro.PeriodValue)
			d.IntroductoryPriceSubscriptionPeriod = intro.PeriodUnit
		}
	}

	return d, nil
}

// normalizeCurrency canonicalises an ISO 4217 code. Codes the currency table
// does not know are passed through untouched.
func normalizeCurrency(code string) string {
	if code == "" {
		return ""
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return code
	}
	return unit.String()
}

func parseError(message string) *Error {
	return &Error{Kind: KindParse, Code: CodeParseError, Message: message}
}
