package iap

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePurchase_StoreKitState(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, tc := range []struct {
		name      string
		revokedAt *time.Time
		expiresAt *time.Time
		expected  PurchaseState
	}{
		{name: "no dates", expected: PurchaseStatePurchased},
		{name: "expired", expiresAt: &past, expected: PurchaseStateExpired},
		{name: "not yet expired", expiresAt: &future, expected: PurchaseStatePurchased},
		{name: "expires now", expiresAt: &now, expected: PurchaseStatePurchased},
		{name: "revoked", revokedAt: &past, expected: PurchaseStateRevoked},
		{name: "revoked and expired", revokedAt: &past, expiresAt: &past, expected: PurchaseStateRevoked},
		{name: "revoked before expiry", revokedAt: &past, expiresAt: &future, expected: PurchaseStateRevoked},
	} {
		t.Run(tc.name, func(t *testing.T) {
			txn := &StoreKitTransaction{
				ID:                2000000123456789,
				ProductID:         "premium_monthly",
				PurchaseDate:      past,
				ExpirationDate:    tc.expiresAt,
				RevocationDate:    tc.revokedAt,
				JWSRepresentation: "eyJhbGciOiJFUzI1NiJ9.payload.sig",
			}

			r, err := NormalizePurchase(txn, PlatformIOS, now)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, r.State)
		})
	}
}

func TestNormalizePurchase_StoreKit(t *testing.T) {
	now := time.Now()
	purchased := time.UnixMilli(1700000000000)
	reason := 1

	txn := &StoreKitTransaction{
		ID:                 2000000123456789,
		OriginalID:         2000000000000001,
		ProductID:          "premium_monthly",
		PurchaseDate:       purchased,
		RevocationDate:     &purchased,
		RevocationReason:   &reason,
		IsUpgraded:         true,
		JSONRepresentation: []byte(`{"transactionId":"2000000123456789"}`),
		JWSRepresentation:  "header.payload.signature",
	}

	r, err := NormalizePurchase(txn, PlatformIOS, now)
	require.NoError(t, err)

	assert.Equal(t, "2000000123456789", r.ID)
	assert.Equal(t, "2000000000000001", r.OriginalTransactionID)
	assert.Equal(t, "premium_monthly", r.ProductID)
	assert.Equal(t, []string{"premium_monthly"}, r.ProductIDs)
	assert.EqualValues(t, 1700000000000, r.PurchaseTime)
	assert.Equal(t, "header.payload.signature", r.PurchaseToken)
	assert.Equal(t, "eyJ0cmFuc2FjdGlvbklkIjoiMjAwMDAwMDEyMzQ1Njc4OSJ9", r.Receipt)
	assert.Equal(t, PlatformIOS, r.Platform)
	assert.True(t, r.IsUpgraded)
	require.NotNil(t, r.RevocationDate)
	assert.EqualValues(t, 1700000000000, *r.RevocationDate)
	require.NotNil(t, r.RevocationReason)
	assert.Equal(t, 1, *r.RevocationReason)
	assert.Equal(t, PurchaseStateRevoked, r.State)
}

func TestNormalizePurchase_Play(t *testing.T) {
	purchase := &PlayPurchase{
		OrderID:          "GPA.1234-5678-9012-34567",
		Products:         []string{"coin_100", "coin_bonus"},
		PurchaseTime:     1700000000000,
		PurchaseToken:    "opaque-token-abc",
		OriginalJSON:     `{"orderId":"GPA.1234-5678-9012-34567"}`,
		Signature:        "c2lnbmF0dXJl",
		PurchaseState:    PlayPurchaseStatePurchased,
		IsAutoRenewing:   false,
		IsAcknowledged:   true,
		PackageName:      "com.example.app",
		DeveloperPayload: "payload",
		AccountIdentifiers: &PlayAccountIdentifiers{
			ObfuscatedAccountID: "account-1",
			ObfuscatedProfileID: "profile-1",
		},
	}

	r, err := NormalizePurchase(purchase, PlatformAndroid, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "GPA.1234-5678-9012-34567", r.ID)
	assert.Equal(t, "coin_100", r.ProductID)
	assert.Equal(t, []string{"coin_100", "coin_bonus"}, r.ProductIDs)
	assert.Equal(t, "opaque-token-abc", r.PurchaseToken)
	assert.Equal(t, purchase.OriginalJSON, r.Receipt)
	assert.Equal(t, PurchaseStatePurchased, r.State)
	assert.Equal(t, PlatformAndroid, r.Platform)
	assert.Equal(t, PlayPurchaseStatePurchased, r.PurchaseStateCode)
	assert.True(t, r.IsAcknowledged)
	assert.Equal(t, "account-1", r.ObfuscatedAccountID)
	assert.Equal(t, "profile-1", r.ObfuscatedProfileID)
	assert.Equal(t, "GPA.1234-5678-9012-34567", r.DedupKey())

	// Mutating the native payload must not leak into the record.
	purchase.Products[0] = "other"
	assert.Equal(t, "coin_100", r.ProductIDs[0])

	t.Run("Pending", func(t *testing.T) {
		pending := &PlayPurchase{
			Products:      []string{"coin_100"},
			PurchaseToken: "pending-token",
			PurchaseState: PlayPurchaseStatePending,
		}

		r, err := NormalizePurchase(pending, PlatformAndroid, time.Now())
		require.NoError(t, err)
		assert.Equal(t, PurchaseStatePending, r.State)
		assert.Empty(t, r.ID)
		assert.Equal(t, "pending-token", r.DedupKey())
	})
}

func TestNormalizePurchase_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name     string
		payload  NativePurchase
		platform Platform
	}{
		{name: "nil", payload: nil, platform: PlatformAndroid},
		{name: "platform mismatch", payload: &PlayPurchase{Products: []string{"a"}, PurchaseToken: "t"}, platform: PlatformIOS},
		{name: "no products", payload: &PlayPurchase{PurchaseToken: "t"}, platform: PlatformAndroid},
		{name: "no token", payload: &PlayPurchase{Products: []string{"a"}}, platform: PlatformAndroid},
		{name: "no jws", payload: &StoreKitTransaction{ID: 1, ProductID: "a"}, platform: PlatformIOS},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizePurchase(tc.payload, tc.platform, time.Now())
			require.Error(t, err)
			assert.True(t, HasCode(err, CodeParseError))

			e, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, KindParse, e.Kind)
		})
	}
}

func TestNormalizeProduct_PlayOneTime(t *testing.T) {
	d, err := NormalizeProduct(&PlayProductDetails{
		ProductID:   "coin_100",
		ProductType: "inapp",
		Title:       "100 Coins (Example)",
		Name:        "100 Coins",
		Description: "A pile of coins",
		OneTimePurchaseOfferDetails: &PlayOneTimeOffer{
			PriceAmountMicros: 990000,
			PriceCurrencyCode: "usd",
			FormattedPrice:    "$0.99",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "coin_100", d.ProductID)
	assert.Equal(t, ProductTypeInApp, d.Type)
	assert.Equal(t, PlatformAndroid, d.Platform)
	assert.Equal(t, "USD", d.Currency)
	assert.Equal(t, "$0.99", d.DisplayPrice)
	assert.Equal(t, "$0.99", d.LocalizedPrice)
	require.NotNil(t, d.Price)
	assert.True(t, d.Price.Equal(decimal.RequireFromString("0.99")))
	require.NotNil(t, d.OneTimeOffer)
	require.NotNil(t, d.OneTimeOffer.PriceAmountMicros)
	assert.EqualValues(t, 990000, *d.OneTimeOffer.PriceAmountMicros)
	assert.Empty(t, d.Offers)
}

func TestNormalizeProduct_PlayDisplayOnly(t *testing.T) {
	d, err := NormalizeProduct(&PlayProductDetails{
		ProductID:   "legacy_item",
		ProductType: "inapp",
		Title:       "Legacy",
	})
	require.NoError(t, err)

	assert.Nil(t, d.Price)
	assert.Equal(t, "Unknown", d.Currency)
	assert.Equal(t, "N/A", d.DisplayPrice)
	require.NotNil(t, d.OneTimeOffer)
	assert.Nil(t, d.OneTimeOffer.PriceAmountMicros)
	assert.Equal(t, "Unknown", d.OneTimeOffer.PriceCurrencyCode)
	assert.Equal(t, "N/A", d.OneTimeOffer.FormattedPrice)
}

func TestNormalizeProduct_PlaySubscription(t *testing.T) {
	offerID := "intro"
	d, err := NormalizeProduct(&PlayProductDetails{
		ProductID:   "premium",
		ProductType: "subs",
		Title:       "Premium",
		Name:        "Premium",
		SubscriptionOfferDetails: []*PlaySubscriptionOffer{
			{
				BasePlanID: "monthly",
				OfferToken: "token-base",
				PricingPhases: []*PlayPricingPhase{
					{FormattedPrice: "€4.99", PriceCurrencyCode: "EUR", BillingPeriod: "P1M", PriceAmountMicros: 4990000, RecurrenceMode: 1},
				},
			},
			{
				BasePlanID: "monthly",
				OfferID:    &offerID,
				OfferToken: "token-intro",
				OfferTags:  []string{"intro"},
				PricingPhases: []*PlayPricingPhase{
					{FormattedPrice: "Free", PriceCurrencyCode: "EUR", BillingPeriod: "P1W", BillingCycleCount: 1, RecurrenceMode: 2},
					{FormattedPrice: "€4.99", PriceCurrencyCode: "EUR", BillingPeriod: "P1M", PriceAmountMicros: 4990000, RecurrenceMode: 1},
				},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ProductTypeSubscription, d.Type)
	assert.Equal(t, KindAutoRenewable, d.Kind)
	assert.Equal(t, "EUR", d.Currency)
	assert.Equal(t, "€4.99", d.DisplayPrice)
	assert.Equal(t, "P1M", d.SubscriptionPeriod)
	require.NotNil(t, d.Price)
	assert.True(t, d.Price.Equal(decimal.RequireFromString("4.99")))
	assert.Nil(t, d.OneTimeOffer)

	require.Len(t, d.Offers, 2)
	assert.Equal(t, "", d.Offers[0].OfferID)
	assert.Equal(t, "intro", d.Offers[1].OfferID)
	assert.Equal(t, "token-intro", d.Offers[1].OfferToken)
	require.Len(t, d.Offers[1].PricingPhases, 2)
	assert.Equal(t, "P1W", d.Offers[1].PricingPhases[0].BillingPeriod)
	assert.Equal(t, 1, d.Offers[1].PricingPhases[0].BillingCycleCount)
}

func TestNormalizeProduct_StoreKit(t *testing.T) {
	d, err := NormalizeProduct(&StoreKitProduct{
		ProductID:    "premium_monthly",
		DisplayName:  "Premium",
		Description:  "Monthly premium",
		Price:        decimal.RequireFromString("9.99"),
		CurrencyCode: "USD",
		DisplayPrice: "$9.99",
		Type:         "autoRenewable",
		Subscription: &StoreKitSubscriptionInfo{
			PeriodUnit:  "month",
			PeriodValue: 1,
			IntroductoryOffer: &StoreKitIntroOffer{
				DisplayPrice: "$0.99",
				PeriodUnit:   "week",
				PeriodValue:  2,
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, PlatformIOS, d.Platform)
	assert.Equal(t, ProductTypeSubscription, d.Type)
	assert.Equal(t, KindAutoRenewable, d.Kind)
	require.NotNil(t, d.Price)
	assert.True(t, d.Price.Equal(decimal.RequireFromString("9.99")))
	assert.Equal(t, "USD", d.Currency)
	assert.Equal(t, "$9.99", d.DisplayPrice)
	assert.Equal(t, "month", d.SubscriptionPeriodUnit)
	assert.Equal(t, "1", d.SubscriptionPeriodNumber)
	assert.Equal(t, "$0.99", d.IntroductoryPrice)
	assert.Equal(t, "2", d.IntroductoryPriceNumberOfPeriods)
	assert.Equal(t, "week", d.IntroductoryPriceSubscriptionPeriod)

	t.Run("Consumable", func(t *testing.T) {
		d, err := NormalizeProduct(&StoreKitProduct{
			ProductID: "coin_100",
			Price:     decimal.RequireFromString("0.99"),
			Type:      "consumable",
		})
		require.NoError(t, err)
		assert.Equal(t, ProductTypeInApp, d.Type)
		assert.Equal(t, KindConsumable, d.Kind)
		assert.Equal(t, "USD", d.Currency)
	})
}
