package android

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/code-payments/iap-bridge/iap"
)

const (
	testPackage = "com.example.app"
	apiPrefix   = "/androidpublisher/v3/applications/" + testPackage
)

type fakePlayAPI struct {
	mu           sync.Mutex
	acknowledged map[string]bool
	consumed     map[string]bool
	calls        []string
}

func (f *fakePlayAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, apiPrefix)
	f.calls = append(f.calls, r.Method+" "+path)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && path == "/inappproducts/coin_100":
		fmt.Fprint(w, `{
			"packageName": "com.example.app",
			"sku": "coin_100",
			"status": "active",
			"purchaseType": "managedUser",
			"defaultLanguage": "en-US",
			"defaultPrice": {"priceMicros": "990000", "currency": "USD"},
			"listings": {"en-US": {"title": "100 Coins", "description": "A pile of coins"}}
		}`)
	case r.Method == http.MethodGet && path == "/subscriptions/premium":
		fmt.Fprint(w, `{
			"packageName": "com.example.app",
			"productId": "premium",
			"listings": [{"languageCode": "en-US", "title": "Premium", "description": "Everything"}],
			"basePlans": [
				{
					"basePlanId": "monthly",
					"state": "ACTIVE",
					"autoRenewingBasePlanType": {"billingPeriodDuration": "P1M"},
					"regionalConfigs": [
						{"regionCode": "DE", "price": {"currencyCode": "EUR", "units": "5", "nanos": 490000000}},
						{"regionCode": "US", "price": {"currencyCode": "USD", "units": "4", "nanos": 990000000}}
					]
				},
				{"basePlanId": "legacy", "state": "INACTIVE"}
			]
		}`)
	case r.Method == http.MethodGet && path == "/purchases/products/coin_100/tokens/token-1":
		state := 0
		if f.acknowledged["token-1"] {
			state = 1
		}
		fmt.Fprintf(w, `{"purchaseState": 0, "acknowledgementState": %d, "orderId": "GPA.1"}`, state)
	case r.Method == http.MethodPost && path == "/purchases/products/coin_100/tokens/token-1:acknowledge":
		f.acknowledged["token-1"] = true
		fmt.Fprint(w, `{}`)
	case r.Method == http.MethodPost && path == "/purchases/products/coin_100/tokens/token-1:consume":
		if f.consumed["token-1"] {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": {"code": 404, "message": "The purchase token was not found."}}`)
			return
		}
		f.consumed["token-1"] = true
		fmt.Fprint(w, `{}`)
	case r.Method == http.MethodGet && path == "/purchases/subscriptionsv2/tokens/sub-token":
		fmt.Fprint(w, `{"subscriptionState": "SUBSCRIPTION_STATE_ACTIVE", "acknowledgementState": "ACKNOWLEDGEMENT_STATE_PENDING"}`)
	case r.Method == http.MethodPost && path == "/purchases/subscriptions/premium/tokens/sub-token:acknowledge":
		fmt.Fprint(w, `{}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error": {"code": 404, "message": "Not found."}}`)
	}
}

func newTestStore(t *testing.T) (*Store, *androidpublisher.Service, *fakePlayAPI) {
	api := &fakePlayAPI{
		acknowledged: make(map[string]bool),
		consumed:     make(map[string]bool),
	}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	svc, err := androidpublisher.NewService(
		context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	return NewStore(zap.NewNop(), svc, testPackage, ""), svc, api
}

func TestStore_QueryProducts(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	products, err := store.QueryProducts(ctx, iap.ProductTypeInApp, []string{"coin_100", "missing"})
	require.NoError(t, err)
	require.Len(t, products, 1)

	details, ok := products[0].(*iap.PlayProductDetails)
	require.True(t, ok)
	require.Equal(t, "coin_100", details.ProductID)
	require.Equal(t, "100 Coins", details.Title)
	require.NotNil(t, details.OneTimePurchaseOfferDetails)
	require.EqualValues(t, 990000, details.OneTimePurchaseOfferDetails.PriceAmountMicros)
	require.NotEmpty(t, details.OneTimePurchaseOfferDetails.FormattedPrice)

	descriptor, err := iap.NormalizeProduct(details)
	require.NoError(t, err)
	require.True(t, descriptor.Price.Equal(decimal.RequireFromString("0.99")))

	products, err = store.QueryProducts(ctx, iap.ProductTypeSubscription, []string{"premium"})
	require.NoError(t, err)
	require.Len(t, products, 1)

	details = products[0].(*iap.PlayProductDetails)
	require.Len(t, details.SubscriptionOfferDetails, 1)
	offer := details.SubscriptionOfferDetails[0]
	require.Equal(t, "monthly", offer.BasePlanID)
	require.Equal(t, "monthly", offer.OfferToken)
	require.Len(t, offer.PricingPhases, 1)
	require.EqualValues(t, 4990000, offer.PricingPhases[0].PriceAmountMicros)
	require.Equal(t, "USD", offer.PricingPhases[0].PriceCurrencyCode)
	require.Equal(t, "P1M", offer.PricingPhases[0].BillingPeriod)
}

func TestStore_AcknowledgeConsume(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	req := &iap.TokenRequest{PurchaseToken: "token-1", ProductID: "coin_100", ProductType: iap.ProductTypeInApp}
	require.NoError(t, store.Acknowledge(ctx, req))
	require.ErrorIs(t, store.Acknowledge(ctx, req), iap.ErrAlreadyAcknowledged)

	token, err := store.Consume(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "token-1", token)

	_, err = store.Consume(ctx, req)
	require.True(t, iap.HasCode(err, iap.CodeNotOwned))

	err = store.Acknowledge(ctx, &iap.TokenRequest{PurchaseToken: "token-1"})
	require.True(t, iap.HasCode(err, iap.CodeDeveloperError))

	subReq := &iap.TokenRequest{PurchaseToken: "sub-token", ProductID: "premium", ProductType: iap.ProductTypeSubscription}
	require.NoError(t, store.Acknowledge(ctx, subReq))
}

func TestStore_Unsupported(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, store.Connect(ctx))
	require.True(t, store.IsReady())

	_, err := store.LaunchPurchase(ctx, &iap.LaunchParams{})
	require.ErrorIs(t, err, iap.ErrUnsupported)
	_, err = store.QueryPurchases(ctx, iap.ProductTypeInApp)
	require.ErrorIs(t, err, iap.ErrUnsupported)
	require.NoError(t, store.Finish(ctx, "anything"))

	updates, err := store.Subscribe(ctx)
	require.NoError(t, err)
	cancel()
	_, ok := <-updates
	require.False(t, ok)

	require.NoError(t, store.Disconnect(context.Background()))
	require.False(t, store.IsReady())
}

func TestVerifier(t *testing.T) {
	_, svc, _ := newTestStore(t)
	verifier := NewVerifier(svc, testPackage)
	ctx := context.Background()

	valid, err := verifier.VerifyPurchase(ctx, &iap.PurchaseRecord{
		ProductID:     "coin_100",
		PurchaseToken: "token-1",
		Platform:      iap.PlatformAndroid,
	})
	require.NoError(t, err)
	require.True(t, valid)

	valid, err = verifier.VerifyPurchase(ctx, &iap.PurchaseRecord{
		ProductID:     "coin_100",
		PurchaseToken: "forged",
		Platform:      iap.PlatformAndroid,
	})
	require.NoError(t, err)
	require.False(t, valid)

	valid, err = verifier.VerifyPurchase(ctx, &iap.PurchaseRecord{
		ProductID:      "premium",
		PurchaseToken:  "sub-token",
		Platform:       iap.PlatformAndroid,
		IsAutoRenewing: true,
	})
	require.NoError(t, err)
	require.True(t, valid)
}
