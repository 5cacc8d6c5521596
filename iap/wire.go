package iap

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// purchaseWire is the flat purchase payload consumers receive. Platform
// suffixed fields are kept for existing consumers; the token aliases are
// always written from the unified purchaseToken.
type purchaseWire struct {
	ID                 string   `json:"id"`
	TransactionID      string   `json:"transactionId"`
	ProductID          string   `json:"productId"`
	IDs                []string `json:"ids"`
	TransactionDate    int64    `json:"transactionDate"`
	TransactionReceipt string   `json:"transactionReceipt"`
	PurchaseToken      string   `json:"purchaseToken"`
	PurchaseState      string   `json:"purchaseState"`
	TransactionState   string   `json:"transactionState"`
	Platform           string   `json:"platform"`

	PurchaseTokenAndroid       *string `json:"purchaseTokenAndroid,omitempty"`
	DataAndroid                *string `json:"dataAndroid,omitempty"`
	SignatureAndroid           *string `json:"signatureAndroid,omitempty"`
	PurchaseStateAndroid       *int    `json:"purchaseStateAndroid,omitempty"`
	AutoRenewingAndroid        *bool   `json:"autoRenewingAndroid,omitempty"`
	IsAcknowledgedAndroid      *bool   `json:"isAcknowledgedAndroid,omitempty"`
	PackageNameAndroid         *string `json:"packageNameAndroid,omitempty"`
	DeveloperPayloadAndroid    *string `json:"developerPayloadAndroid,omitempty"`
	ObfuscatedAccountIDAndroid *string `json:"obfuscatedAccountIdAndroid,omitempty"`
	ObfuscatedProfileIDAndroid *string `json:"obfuscatedProfileIdAndroid,omitempty"`

	JWSRepresentationIOS             *string `json:"jwsRepresentationIOS,omitempty"`
	OriginalTransactionIdentifierIOS *string `json:"originalTransactionIdentifierIOS,omitempty"`
	IsUpgraded                       *bool   `json:"isUpgraded,omitempty"`
	ExpirationDate                   *int64  `json:"expirationDate,omitempty"`
	RevocationDate                   *int64  `json:"revocationDate,omitempty"`
	RevocationReason                 *int    `json:"revocationReason,omitempty"`
}

type productWire struct {
	ID                string  `json:"id"`
	ProductID         string  `json:"productId"`
	Type              string  `json:"type"`
	Title             string  `json:"title"`
	DisplayName       string  `json:"displayName"`
	Description       string  `json:"description"`
	Platform          string  `json:"platform"`
	Currency          string  `json:"currency"`
	DisplayPrice      string  `json:"displayPrice"`
	LocalizedPrice    *string `json:"localizedPrice,omitempty"`
	Price             *string `json:"price,omitempty"`
	OriginalPrice     *string `json:"originalPrice,omitempty"`
	IntroductoryPrice *string `json:"introductoryPrice,omitempty"`

	NameAndroid                        *string       `json:"nameAndroid,omitempty"`
	OneTimePurchaseOfferDetails        *oneTimeWire  `json:"oneTimePurchaseOfferDetails,omitempty"`
	OneTimePurchaseOfferDetailsAndroid *oneTimeWire  `json:"oneTimePurchaseOfferDetailsAndroid,omitempty"`
	SubscriptionOfferDetailsAndroid    *[]*offerWire `json:"subscriptionOfferDetailsAndroid,omitempty"`
	SubscriptionOfferDetails           *[]*offerWire `json:"subscriptionOfferDetails,omitempty"`
	SubscriptionPeriodAndroid          *string       `json:"subscriptionPeriodAndroid,omitempty"`

	IsFamilyShareable                      *bool   `json:"isFamilyShareable,omitempty"`
	SubscriptionPeriodUnitIOS              *string `json:"subscriptionPeriodUnitIOS,omitempty"`
	SubscriptionPeriodNumberIOS            *string `json:"subscriptionPeriodNumberIOS,omitempty"`
	IntroductoryPriceNumberOfPeriodsIOS    *string `json:"introductoryPriceNumberOfPeriodsIOS,omitempty"`
	IntroductoryPriceSubscriptionPeriodIOS *string `json:"introductoryPriceSubscriptionPeriodIOS,omitempty"`
}

// oneTimeWire carries priceAmountMicros as a string, or null when the store
// only returned display data.
type oneTimeWire struct {
	PriceCurrencyCode string  `json:"priceCurrencyCode"`
	FormattedPrice    string  `json:"formattedPrice"`
	PriceAmountMicros *string `json:"priceAmountMicros"`
}

type offerWire struct {
	BasePlanID    string        `json:"basePlanId"`
	OfferID       *string       `json:"offerId"`
	OfferToken    string        `json:"offerToken"`
	OfferTags     []string      `json:"offerTags"`
	PricingPhases pricingPhases `json:"pricingPhases"`
}

type pricingPhases struct {
	PricingPhaseList []*phaseWire `json:"pricingPhaseList"`
}

type phaseWire struct {
	FormattedPrice    string `json:"formattedPrice"`
	PriceCurrencyCode string `json:"priceCurrencyCode"`
	BillingPeriod     string `json:"billingPeriod"`
	BillingCycleCount int    `json:"billingCycleCount"`
	PriceAmountMicros string `json:"priceAmountMicros"`
	RecurrenceMode    int    `json:"recurrenceMode"`
}

// ErrorPayload is the purchase-error event payload. ResponseCode and
// DebugMessage are present when the failure came from a billing response.
type ErrorPayload struct {
	ResponseCode *int    `json:"responseCode,omitempty"`
	DebugMessage *string `json:"debugMessage,omitempty"`
	Code         string  `json:"code"`
	Message      string  `json:"message"`
	ProductID    *string `json:"productId,omitempty"`
}

// ConnectionPayload is the connection-updated event payload.
type ConnectionPayload struct {
	Connected bool `json:"connected"`
}

// BillingResponse is the result of acknowledgePurchase and consumeProduct.
// PurchaseToken is only set for consumption.
type BillingResponse struct {
	ResponseCode  int     `json:"responseCode"`
	DebugMessage  string  `json:"debugMessage"`
	Code          string  `json:"code"`
	Message       string  `json:"message"`
	PurchaseToken *string `json:"purchaseToken,omitempty"`
}

func MarshalPurchase(r *PurchaseRecord) ([]byte, error) {
	w, err := toPurchaseWire(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func toPurchaseWire(r *PurchaseRecord) (*purchaseWire, error) {
	if r == nil {
		return nil, parseError("nil purchase record")
	}
	if r.PurchaseToken == "" {
		return nil, parseError("purchase record has no purchase token")
	}

	ids := r.ProductIDs
	if len(ids) == 0 && r.ProductID != "" {
		ids = []string{r.ProductID}
	}

	w := &purchaseWire{
		ID:                 r.ID,
		TransactionID:      r.ID,
		ProductID:          r.ProductID,
		IDs:                ids,
		TransactionDate:    r.PurchaseTime,
		TransactionReceipt: r.Receipt,
		PurchaseToken:      r.PurchaseToken,
		PurchaseState:      string(r.State),
		TransactionState:   string(r.State),
		Platform:           string(r.Platform),
	}

	switch r.Platform {
	case PlatformAndroid:
		w.PurchaseTokenAndroid = strPtr(r.PurchaseToken)
		w.DataAndroid = strPtr(r.Receipt)
		w.SignatureAndroid = strPtr(r.Signature)
		w.PurchaseStateAndroid = intPtr(r.PurchaseStateCode)
		w.AutoRenewingAndroid = boolPtr(r.IsAutoRenewing)
		w.IsAcknowledgedAndroid = boolPtr(r.IsAcknowledged)
		w.PackageNameAndroid = strPtr(r.PackageName)
		w.DeveloperPayloadAndroid = strPtr(r.DeveloperPayload)
		if r.ObfuscatedAccountID != "" {
			w.ObfuscatedAccountIDAndroid = strPtr(r.ObfuscatedAccountID)
		}
		if r.ObfuscatedProfileID != "" {
			w.ObfuscatedProfileIDAndroid = strPtr(r.ObfuscatedProfileID)
		}
	case PlatformIOS:
		w.JWSRepresentationIOS = strPtr(r.PurchaseToken)
		w.IsUpgraded = boolPtr(r.IsUpgraded)
		if r.OriginalTransactionID != "" {
			w.OriginalTransactionIdentifierIOS = strPtr(r.OriginalTransactionID)
		}
		w.ExpirationDate = r.ExpirationDate
		w.RevocationDate = r.RevocationDate
		w.RevocationReason = r.RevocationReason
	default:
		return nil, parseError(fmt.Sprintf("unknown platform %q", r.Platform))
	}

	return w, nil
}

// UnmarshalPurchase parses a purchase wire payload. A payload whose platform
// token alias disagrees with purchaseToken is rejected.
func UnmarshalPurchase(data []byte) (*PurchaseRecord, error) {
	var w purchaseWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, parseError(err.Error())
	}

	r := &PurchaseRecord{
		ID:            w.ID,
		ProductID:     w.ProductID,
		ProductIDs:    w.IDs,
		PurchaseTime:  w.TransactionDate,
		PurchaseToken: w.PurchaseToken,
		Receipt:       w.TransactionReceipt,
		State:         PurchaseState(w.PurchaseState),
		Platform:      Platform(w.Platform),
	}
	if r.ID == "" {
		r.ID = w.TransactionID
	}
	if r.State == PurchaseStateUnknown {
		r.State = PurchaseState(w.TransactionState)
	}

	var alias *string
	switch r.Platform {
	case PlatformAndroid:
		alias = w.PurchaseTokenAndroid
		r.Signature = deref(w.SignatureAndroid)
		if w.PurchaseStateAndroid != nil {
			r.PurchaseStateCode = *w.PurchaseStateAndroid
		}
		r.IsAutoRenewing = w.AutoRenewingAndroid != nil && *w.AutoRenewingAndroid
		r.IsAcknowledged = w.IsAcknowledgedAndroid != nil && *w.IsAcknowledgedAndroid
		r.PackageName = deref(w.PackageNameAndroid)
		r.DeveloperPayload = deref(w.DeveloperPayloadAndroid)
		r.ObfuscatedAccountID = deref(w.ObfuscatedAccountIDAndroid)
		r.ObfuscatedProfileID = deref(w.ObfuscatedProfileIDAndroid)
		if r.Receipt == "" {
			r.Receipt = deref(w.DataAndroid)
		}
	case PlatformIOS:
		alias = w.JWSRepresentationIOS
		r.OriginalTransactionID = deref(w.OriginalTransactionIdentifierIOS)
		r.IsUpgraded = w.IsUpgraded != nil && *w.IsUpgraded
		r.ExpirationDate = w.ExpirationDate
		r.RevocationDate = w.RevocationDate
		r.RevocationReason = w.RevocationReason
	default:
		return nil, parseError(fmt.Sprintf("unknown platform %q", w.Platform))
	}

	if alias != nil {
		if r.PurchaseToken == "" {
			r.PurchaseToken = *alias
		} else if *alias != r.PurchaseToken {
			return nil, parseError("platform token alias does not match purchaseToken")
		}
	}
	if r.PurchaseToken == "" {
		return nil, parseError("purchase payload has no purchase token")
	}

	return r, nil
}

func MarshalProduct(d *ProductDescriptor) ([]byte, error) {
	w, err := toProductWire(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func toProductWire(d *ProductDescriptor) (*productWire, error) {
	if d == nil {
		return nil, parseError("nil product descriptor")
	}

	w := &productWire{
		ID:                d.ProductID,
		ProductID:         d.ProductID,
		Title:             d.Title,
		DisplayName:       d.DisplayName,
		Description:       d.Description,
		Platform:          string(d.Platform),
		Currency:          d.Currency,
		DisplayPrice:      d.DisplayPrice,
		LocalizedPrice:    optStr(d.LocalizedPrice),
		IntroductoryPrice: optStr(d.IntroductoryPrice),
	}
	if d.Price != nil {
		w.Price = strPtr(d.Price.String())
	}

	switch d.Platform {
	case PlatformAndroid:
		w.Type = string(d.Type)
		w.NameAndroid = strPtr(d.DisplayName)
		w.SubscriptionPeriodAndroid = optStr(d.SubscriptionPeriod)

		if o := d.OneTimeOffer; o != nil {
			ot := &oneTimeWire{
				PriceCurrencyCode: o.PriceCurrencyCode,
				FormattedPrice:    o.FormattedPrice,
			}
			if o.PriceAmountMicros != nil {
				ot.PriceAmountMicros = strPtr(strconv.FormatInt(*o.PriceAmountMicros, 10))
				w.OneTimePurchaseOfferDetails = ot
			}
			w.OneTimePurchaseOfferDetailsAndroid = ot
		}

		if d.Type == ProductTypeSubscription {
			offers := make([]*offerWire, 0, len(d.Offers))
			for _, o := range d.Offers {
				offers = append(offers, toOfferWire(o))
			}
			w.SubscriptionOfferDetailsAndroid = &offers
			w.SubscriptionOfferDetails = &offers
		}
	case PlatformIOS:
		w.Type = d.Kind.String()
		w.IsFamilyShareable = boolPtr(d.IsFamilyShareable)
		if d.Price != nil {
			w.OriginalPrice = strPtr(d.Price.String())
		}
		w.SubscriptionPeriodUnitIOS = optStr(d.SubscriptionPeriodUnit)
		w.SubscriptionPeriodNumberIOS = optStr(d.SubscriptionPeriodNumber)
		w.IntroductoryPriceNumberOfPeriodsIOS = optStr(d.IntroductoryPriceNumberOfPeriods)
		w.IntroductoryPriceSubscriptionPeriodIOS = optStr(d.IntroductoryPriceSubscriptionPeriod)
	default:
		return nil, parseError(fmt.Sprintf("unknown platform %q", d.Platform))
	}

	return w, nil
}

func toOfferWire(o *OfferDetail) *offerWire {
	w := &offerWire{
		BasePlanID: o.BasePlanID,
		OfferID:    optStr(o.OfferID),
		OfferToken: o.OfferToken,
		OfferTags:  o.OfferTags,
	}
	if w.OfferTags == nil {
		w.OfferTags = []string{}
	}
	w.PricingPhases.PricingPhaseList = make([]*phaseWire, 0, len(o.PricingPhases))
	for _, p := range o.PricingPhases {
		w.PricingPhases.PricingPhaseList = append(w.PricingPhases.PricingPhaseList, &phaseWire{
			FormattedPrice:    p.FormattedPrice,
			PriceCurrencyCode: p.PriceCurrencyCode,
			BillingPeriod:     p.BillingPeriod,
			BillingCycleCount: p.BillingCycleCount,
			PriceAmountMicros: strconv.FormatInt(p.PriceAmountMicros, 10),
			RecurrenceMode:    p.RecurrenceMode,
		})
	}
	return w
}

func UnmarshalProduct(data []byte) (*ProductDescriptor, error) {
	var w productWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, parseError(err.Error())
	}

	d := &ProductDescriptor{
		ProductID:         w.ProductID,
		Platform:          Platform(w.Platform),
		Title:             w.Title,
		DisplayName:       w.DisplayName,
		Description:       w.Description,
		Currency:          w.Currency,
		DisplayPrice:      w.DisplayPrice,
		LocalizedPrice:    deref(w.LocalizedPrice),
		IntroductoryPrice: deref(w.IntroductoryPrice),
	}
	if d.ProductID == "" {
		d.ProductID = w.ID
	}
	if w.Price != nil {
		price, err := decimal.NewFromString(*w.Price)
		if err != nil {
			return nil, parseError(fmt.Sprintf("invalid price %q", *w.Price))
		}
		d.Price = &price
	}

	switch d.Platform {
	case PlatformAndroid:
		d.Type = ParseProductType(w.Type)
		if d.Type == ProductTypeSubscription {
			d.Kind = KindAutoRenewable
		}
		d.SubscriptionPeriod = deref(w.SubscriptionPeriodAndroid)

		ot := w.OneTimePurchaseOfferDetailsAndroid
		if ot == nil {
			ot = w.OneTimePurchaseOfferDetails
		}
		if ot != nil {
			d.OneTimeOffer = &OneTimeOffer{
				PriceCurrencyCode: ot.PriceCurrencyCode,
				FormattedPrice:    ot.FormattedPrice,
			}
			if ot.PriceAmountMicros != nil {
				micros, err := strconv.ParseInt(*ot.PriceAmountMicros, 10, 64)
				if err != nil {
					return nil, parseError(fmt.Sprintf("invalid priceAmountMicros %q", *ot.PriceAmountMicros))
				}
				d.OneTimeOffer.PriceAmountMicros = &micros
			}
		}

		offers := w.SubscriptionOfferDetailsAndroid
		if offers == nil {
			offers = w.SubscriptionOfferDetails
		}
		if offers != nil {
			d.Offers = make([]*OfferDetail, 0, len(*offers))
			for _, o := range *offers {
				offer, err := fromOfferWire(o)
				if err != nil {
					return nil, err
				}
				d.Offers = append(d.Offers, offer)
			}
		}
	case PlatformIOS:
		d.Kind = parseProductKind(w.Type)
		d.Type = ProductTypeInApp
		if d.Kind == KindAutoRenewable {
			d.Type = ProductTypeSubscription
		}
		d.IsFamilyShareable = w.IsFamilyShareable != nil && *w.IsFamilyShareable
		d.SubscriptionPeriodUnit = deref(w.SubscriptionPeriodUnitIOS)
		d.SubscriptionPeriodNumber = deref(w.SubscriptionPeriodNumberIOS)
		d.IntroductoryPriceNumberOfPeriods = deref(w.IntroductoryPriceNumberOfPeriodsIOS)
		d.IntroductoryPriceSubscriptionPeriod = deref(w.IntroductoryPriceSubscriptionPeriodIOS)
	default:
		return nil, parseError(fmt.Sprintf("unknown platform %q", w.Platform))
	}

	return d, nil
}

func fromOfferWire(w *offerWire) (*OfferDetail, error) {
	o := &OfferDetail{
		BasePlanID: w.BasePlanID,
		OfferID:    deref(w.OfferID),
		OfferToken: w.OfferToken,
		OfferTags:  w.OfferTags,
	}
	for _, p := range w.PricingPhases.PricingPhaseList {
		micros, err := strconv.ParseInt(p.PriceAmountMicros, 10, 64)
		if err != nil {
			return nil, parseError(fmt.Sprintf("invalid priceAmountMicros %q", p.PriceAmountMicros))
		}
		o.PricingPhases = append(o.PricingPhases, &PricingPhase{
			FormattedPrice:    p.FormattedPrice,
			PriceCurrencyCode: p.PriceCurrencyCode,
			BillingPeriod:     p.BillingPeriod,
			BillingCycleCount: p.BillingCycleCount,
			PriceAmountMicros: micros,
			RecurrenceMode:    p.RecurrenceMode,
		})
	}
	return o, nil
}

// NewErrorPayload builds the purchase-error payload for err. Errors that are
// not an *Error are reported as E_UNKNOWN.
func NewErrorPayload(err error, productID string) *ErrorPayload {
	p := &ErrorPayload{
		Code:    string(CodeUnknown),
		Message: err.Error(),
	}

	if e, ok := AsError(err); ok {
		p.Code = string(e.Code)
		p.Message = e.Message
		if e.ProductID != "" && productID == "" {
			productID = e.ProductID
		}
		if e.Result != nil {
			p.ResponseCode = intPtr(int(e.Result.ResponseCode))
			p.DebugMessage = strPtr(e.Result.DebugMessage)
		}
	}
	p.ProductID = optStr(productID)
	return p
}

func MarshalErrorPayload(p *ErrorPayload) ([]byte, error) {
	return json.Marshal(p)
}

func MarshalConnectionPayload(connected bool) ([]byte, error) {
	return json.Marshal(&ConnectionPayload{Connected: connected})
}

// NewBillingResponse describes a successful acknowledge or consume call.
func NewBillingResponse(result BillingResult, purchaseToken string) *BillingResponse {
	code, message := describeResponse(result.ResponseCode)
	return &BillingResponse{
		ResponseCode:  int(result.ResponseCode),
		DebugMessage:  result.DebugMessage,
		Code:          string(code),
		Message:       message,
		PurchaseToken: optStr(purchaseToken),
	}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
