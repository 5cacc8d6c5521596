package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-bridge/iap"
)

// Seeder adds products to the store under test's catalog.
type Seeder func(products ...iap.NativeProduct)

// RunStoreTests runs the conformance suite for on-device iap.Store
// implementations.
func RunStoreTests(t *testing.T, s iap.Store, seed Seeder, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.Store, seed Seeder){
		testStore_ConnectLifecycle,
		testStore_QueryProducts,
		testStore_PurchaseLifecycle,
		testStore_FinishUnknown,
		testStore_SubscriptionClosesOnCancel,
	} {
		tf(t, s, seed)
		teardown()
	}
}

func testStore_ConnectLifecycle(t *testing.T, s iap.Store, _ Seeder) {
	ctx := context.Background()

	require.False(t, s.IsReady())
	require.NoError(t, s.Connect(ctx))
	require.True(t, s.IsReady())
	require.NoError(t, s.Disconnect(ctx))
	require.False(t, s.IsReady())
}

func testStore_QueryProducts(t *testing.T, s iap.Store, seed Seeder) {
	ctx := context.Background()
	seed(catalogFor(s.Platform())...)

	require.NoError(t, s.Connect(ctx))

	products, err := s.QueryProducts(ctx, iap.ProductTypeInApp, []string{"coin_100", "missing"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "coin_100", products[0].ID())
	require.Equal(t, s.Platform(), products[0].Platform())

	products, err = s.QueryProducts(ctx, iap.ProductTypeSubscription, []string{"premium"})
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.Equal(t, "premium", products[0].ID())
}

func testStore_PurchaseLifecycle(t *testing.T, s iap.Store, seed Seeder) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed(catalogFor(s.Platform())...)
	require.NoError(t, s.Connect(ctx))

	updates, err := s.Subscribe(ctx)
	require.NoError(t, err)

	result, err := s.LaunchPurchase(ctx, &iap.LaunchParams{
		Product: &iap.ProductDescriptor{ProductID: "coin_100", Type: iap.ProductTypeInApp, Platform: s.Platform()},
	})
	require.NoError(t, err)

	var purchase iap.NativePurchase
	switch result.Status {
	case iap.LaunchStatusPurchased:
		require.NotNil(t, result.Purchase)
		require.NoError(t, result.Purchase.Err)
		purchase = result.Purchase.Purchase
	case iap.LaunchStatusLaunched:
		select {
		case update := <-updates:
			require.True(t, update.Result.OK())
			require.Len(t, update.Purchases, 1)
			require.NoError(t, update.Purchases[0].Err)
			purchase = update.Purchases[0].Purchase
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for purchase update")
		}
	default:
		t.Fatalf("unexpected launch status %d", result.Status)
	}

	record, err := iap.NormalizePurchase(purchase, s.Platform(), time.Now())
	require.NoError(t, err)
	require.Equal(t, "coin_100", record.ProductID)
	require.Equal(t, iap.PurchaseStatePurchased, record.State)
	require.NotEmpty(t, record.PurchaseToken)

	owned, err := s.QueryPurchases(ctx, iap.ProductTypeInApp)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	req := &iap.TokenRequest{PurchaseToken: record.PurchaseToken, ProductID: "coin_100", ProductType: iap.ProductTypeInApp}
	require.NoError(t, s.Acknowledge(ctx, req))
	require.ErrorIs(t, s.Acknowledge(ctx, req), iap.ErrAlreadyAcknowledged)

	token, err := s.Consume(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = s.Consume(ctx, req)
	require.True(t, iap.HasCode(err, iap.CodeNotOwned))

	owned, err = s.QueryPurchases(ctx, iap.ProductTypeInApp)
	require.NoError(t, err)
	require.Empty(t, owned)

	history, err := s.QueryPurchaseHistory(ctx, iap.ProductTypeInApp)
	require.NoError(t, err)
	require.Len(t, history, 1)

	if s.Platform() == iap.PlatformIOS {
		require.NoError(t, s.Finish(ctx, record.ID))
		require.ErrorIs(t, s.Finish(ctx, record.ID), iap.ErrTransactionNotFound)
	}
}

func testStore_FinishUnknown(t *testing.T, s iap.Store, _ Seeder) {
	err := s.Finish(context.Background(), "123456789")
	require.True(t, errors.Is(err, iap.ErrTransactionNotFound))
}

func testStore_SubscriptionClosesOnCancel(t *testing.T, s iap.Store, _ Seeder) {
	ctx, cancel := context.WithCancel(context.Background())

	updates, err := s.Subscribe(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-updates:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func catalogFor(platform iap.Platform) []iap.NativeProduct {
	if platform == iap.PlatformIOS {
		return []iap.NativeProduct{
			&iap.StoreKitProduct{
				ProductID:    "coin_100",
				DisplayName:  "100 Coins",
				Price:        decimal.RequireFromString("0.99"),
				CurrencyCode: "USD",
				DisplayPrice: "$0.99",
				Type:         "consumable",
			},
			&iap.StoreKitProduct{
				ProductID:    "premium",
				DisplayName:  "Premium",
				Price:        decimal.RequireFromString("4.99"),
				CurrencyCode: "USD",
				DisplayPrice: "$4.99",
				Type:         "autoRenewable",
				Subscription: &iap.StoreKitSubscriptionInfo{PeriodUnit: "month", PeriodValue: 1},
			},
		}
	}

	return []iap.NativeProduct{
		&iap.PlayProductDetails{
			ProductID:   "coin_100",
			ProductType: "inapp",
			Title:       "100 Coins",
			Name:        "100 Coins",
			OneTimePurchaseOfferDetails: &iap.PlayOneTimeOffer{
				PriceAmountMicros: 990000,
				PriceCurrencyCode: "USD",
				FormattedPrice:    "$0.99",
			},
		},
		&iap.PlayProductDetails{
			ProductID:   "premium",
			ProductType: "subs",
			Title:       "Premium",
			Name:        "Premium",
			SubscriptionOfferDetails: []*iap.PlaySubscriptionOffer{
				{
					BasePlanID: "monthly",
					OfferToken: "offer-token-monthly",
					PricingPhases: []*iap.PlayPricingPhase{
						{FormattedPrice: "$4.99", PriceCurrencyCode: "USD", BillingPeriod: "P1M", PriceAmountMicros: 4990000, RecurrenceMode: 1},
					},
				},
			},
		},
	}
}
