package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/code-payments/iap-bridge/bridge"
	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/iap/memory"
	"github.com/code-payments/iap-bridge/protoutil"
	pushmemory "github.com/code-payments/iap-bridge/push/memory"
	"github.com/code-payments/iap-bridge/testutil"
)

func setupServer(t *testing.T, platform iap.Platform, opts ...ServerOption) (*Client, *memory.Store) {
	log := zap.Must(zap.NewDevelopment())

	store := memory.NewStore(platform)
	if platform == iap.PlatformIOS {
		store.AddProduct(&iap.StoreKitProduct{
			ProductID:    "coin_100",
			DisplayName:  "100 Coins",
			Price:        decimal.RequireFromString("0.99"),
			CurrencyCode: "USD",
			DisplayPrice: "$0.99",
			Type:         "consumable",
		})
	} else {
		store.AddProduct(
			&iap.PlayProductDetails{
				ProductID:   "coin_100",
				ProductType: "inapp",
				Title:       "100 Coins (Example)",
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
				Title:       "Premium (Example)",
				Name:        "Premium",
				SubscriptionOfferDetails: []*iap.PlaySubscriptionOffer{
					{BasePlanID: "monthly", OfferToken: "offer-monthly"},
				},
			},
		)
	}

	b := bridge.New(log, store, event.NewBus[event.Type, *event.Event]())
	t.Cleanup(func() {
		_, _ = b.EndConnection(context.Background())
	})

	serv := NewServer(log, b, append([]ServerOption{WithStreamBuffer(16, time.Second)}, opts...)...)
	cc := testutil.RunGRPCServer(t, testutil.WithService(func(s *grpc.Server) {
		RegisterBridgeServer(s, serv)
	}))

	return NewClient(cc), store
}

func recvEvent(t *testing.T, stream *EventStream) *event.Event {
	type result struct {
		e   *event.Event
		err error
	}

	ch := make(chan result, 1)
	go func() {
		e, err := stream.Recv()
		ch <- result{e, err}
	}()

	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestServer_Lifecycle(t *testing.T) {
	client, store := setupServer(t, iap.PlatformAndroid)
	ctx := context.Background()

	_, err := client.Call(ctx, MethodGetProducts, map[string]any{"productIds": []any{"coin_100"}})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.True(t, iap.HasCode(err, iap.CodeNotPrepared))

	ready, err := client.Call(ctx, MethodIsReady, nil)
	require.NoError(t, err)
	require.False(t, ready.GetBoolValue())

	canPay, err := client.Call(ctx, MethodCanMakePayments, nil)
	require.NoError(t, err)
	require.True(t, canPay.GetBoolValue())

	platform, err := client.Call(ctx, MethodGetStore, nil)
	require.NoError(t, err)
	require.Equal(t, "android", platform.GetStringValue())

	stream, err := client.StreamEvents(ctx, event.TypeConnectionUpdated)
	require.NoError(t, err)

	msg, err := client.Call(ctx, MethodInitConnection, nil)
	require.NoError(t, err)
	require.Equal(t, bridge.MessageReady, msg.GetStringValue())

	msg, err = client.Call(ctx, MethodInitConnection, nil)
	require.NoError(t, err)
	require.Equal(t, bridge.MessageAlreadyStarted, msg.GetStringValue())
	require.Equal(t, 1, store.TotalSubscriptions())

	e := recvEvent(t, stream)
	require.Equal(t, event.TypeConnectionUpdated, e.Type)
	require.JSONEq(t, `{"connected": true}`, string(e.Payload))

	msg, err = client.Call(ctx, MethodEndConnection, nil)
	require.NoError(t, err)
	require.Equal(t, bridge.MessageEnded, msg.GetStringValue())

	e = recvEvent(t, stream)
	require.JSONEq(t, `{"connected": false}`, string(e.Payload))

	msg, err = client.Call(ctx, MethodEndConnection, nil)
	require.NoError(t, err)
	require.Equal(t, bridge.MessageAlreadyEnded, msg.GetStringValue())

	_, err = client.Call(ctx, "launchMissiles", nil)
	require.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestServer_PurchaseFlow(t *testing.T) {
	client, store := setupServer(t, iap.PlatformAndroid)
	ctx := context.Background()

	_, err := client.Call(ctx, MethodInitConnection, nil)
	require.NoError(t, err)

	purchases, err := client.StreamEvents(ctx, event.TypePurchaseUpdated)
	require.NoError(t, err)
	purchaseErrors, err := client.StreamEvents(ctx, event.TypePurchaseError)
	require.NoError(t, err)

	// Legacy argument names are accepted.
	products, err := client.CallJSON(ctx, MethodGetProducts, map[string]any{"skus": []any{"coin_100", "missing"}})
	require.NoError(t, err)

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(products, &parsed))
	require.Len(t, parsed, 1)
	require.Equal(t, "coin_100", parsed[0]["id"])
	require.Equal(t, "0.99", parsed[0]["price"])

	_, err = client.Call(ctx, MethodBuyProduct, map[string]any{"productId": "unknown"})
	require.Equal(t, codes.NotFound, status.Code(err))
	require.True(t, iap.HasCode(err, iap.CodeProductNotFound))

	e := recvEvent(t, purchaseErrors)
	require.JSONEq(t, `{"code": "E_PRODUCT_NOT_FOUND", "message": "The selected product was not found. Please fetch products first by calling getProducts", "productId": "unknown"}`, string(e.Payload))

	ack, err := client.Call(ctx, MethodBuyProduct, map[string]any{
		"sku":                 "coin_100",
		"type":                "inapp",
		"obfuscatedAccountId": "account-1",
	})
	require.NoError(t, err)
	require.Equal(t, bridge.FlowAwaitingNativeResult.String(), ack.GetStructValue().GetFields()["state"].GetStringValue())

	e = recvEvent(t, purchases)
	record, err := iap.UnmarshalPurchase(e.Payload)
	require.NoError(t, err)
	require.Equal(t, "coin_100", record.ProductID)
	require.Equal(t, iap.PurchaseStatePurchased, record.State)
	require.NotEmpty(t, record.PurchaseToken)
	require.Equal(t, "account-1", record.ObfuscatedAccountID)

	resp, err := client.CallJSON(ctx, MethodAcknowledgePurchase, map[string]any{"purchaseToken": record.PurchaseToken})
	require.NoError(t, err)
	require.JSONEq(t, `{"responseCode": 0, "debugMessage": "", "code": "OK", "message": "OK"}`, string(resp))
	require.True(t, store.IsAcknowledged(record.PurchaseToken))

	owned, err := client.CallJSON(ctx, MethodGetAvailableItems, map[string]any{"type": "inapp"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(owned, &parsed))
	require.Len(t, parsed, 1)
	require.Equal(t, record.PurchaseToken, parsed[0]["purchaseToken"])
	require.Equal(t, record.PurchaseToken, parsed[0]["purchaseTokenAndroid"])

	resp, err = client.CallJSON(ctx, MethodConsumeProduct, map[string]any{"purchaseToken": record.PurchaseToken})
	require.NoError(t, err)
	var consumed iap.BillingResponse
	require.NoError(t, json.Unmarshal(resp, &consumed))
	require.NotNil(t, consumed.PurchaseToken)
	require.Equal(t, record.PurchaseToken, *consumed.PurchaseToken)

	done, err := client.Call(ctx, MethodFinishTransaction, map[string]any{"transactionIdentifier": record.ID})
	require.NoError(t, err)
	require.True(t, done.GetBoolValue())

	done, err = client.Call(ctx, MethodRestorePurchases, nil)
	require.NoError(t, err)
	require.True(t, done.GetBoolValue())
	require.Equal(t, 1, store.SyncCount())
}

func TestServer_Validation(t *testing.T) {
	client, store := setupServer(t, iap.PlatformAndroid)
	ctx := context.Background()

	_, err := client.Call(ctx, MethodInitConnection, nil)
	require.NoError(t, err)
	_, err = client.Call(ctx, MethodGetSubscriptions, map[string]any{"productIds": []any{"premium"}})
	require.NoError(t, err)

	_, err = client.Call(ctx, MethodBuyProduct, map[string]any{
		"productId":     "premium",
		"type":          "subs",
		"prorationMode": 4,
	})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
	iapErr, ok := iap.AsError(err)
	require.True(t, ok)
	require.Equal(t, iap.KindValidation, iapErr.Kind)
	require.Equal(t, iap.CodeDeveloperError, iapErr.Code)

	_, err = client.Call(ctx, MethodBuyProduct, map[string]any{"productId": "premium", "offerTokenIndex": 0.5})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Call(ctx, MethodGetProducts, map[string]any{"productIds": "coin_100"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	require.Empty(t, store.Launches())

	done, err := client.Call(ctx, MethodFinishTransaction, map[string]any{"transactionId": "unknown"})
	require.NoError(t, err)
	require.True(t, done.GetBoolValue())

	cleared, err := client.Call(ctx, MethodClearTransactionCache, nil)
	require.NoError(t, err)
	require.True(t, cleared.GetBoolValue())
}

func TestServer_SynchronousPurchase(t *testing.T) {
	client, store := setupServer(t, iap.PlatformIOS)
	ctx := context.Background()

	_, err := client.Call(ctx, MethodInitConnection, nil)
	require.NoError(t, err)
	_, err = client.Call(ctx, MethodGetProducts, map[string]any{"productIds": []any{"coin_100"}})
	require.NoError(t, err)

	ack, err := client.Call(ctx, MethodBuyProduct, map[string]any{"productId": "coin_100"})
	require.NoError(t, err)

	fields := ack.GetStructValue().GetFields()
	require.Equal(t, bridge.FlowPurchaseEmitted.String(), fields["state"].GetStringValue())

	purchase := fields["purchase"].GetStructValue().GetFields()
	id := purchase["transactionId"].GetStringValue()
	require.NotEmpty(t, id)
	require.Equal(t, purchase["purchaseToken"].GetStringValue(), purchase["jwsRepresentationIOS"].GetStringValue())

	_, err = client.Call(ctx, MethodFinishTransaction, map[string]any{"transactionId": id})
	require.NoError(t, err)
	require.True(t, store.IsFinished(id))
}

func TestStatusMapping(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code codes.Code
	}{
		{iap.NewValidationError(iap.CodeNotPrepared, "not prepared"), codes.FailedPrecondition},
		{iap.NewValidationError(iap.CodeProductNotFound, "missing"), codes.NotFound},
		{iap.NewValidationError(iap.CodeDeveloperError, "bad"), codes.InvalidArgument},
		{iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseItemAlreadyOwned}), codes.AlreadyExists},
		{iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseServiceUnavailable}), codes.Unavailable},
		{iap.ErrorFromResult(iap.BillingResult{ResponseCode: iap.ResponseUserCanceled}), codes.Canceled},
		{iap.NewNativeError(iap.CodeRestoreFailed, "sync failed"), codes.Unavailable},
		{context.Canceled, codes.Canceled},
	} {
		st := toStatus(tc.err)
		require.Equal(t, tc.code, status.Code(st), tc.err.Error())

		if e, ok := iap.AsError(tc.err); ok {
			recovered, ok := iap.AsError(FromStatus(st))
			require.True(t, ok)
			require.Equal(t, e.Code, recovered.Code)
			require.Equal(t, e.Message, recovered.Message)
		}
	}
}

func TestServer_PushTokens(t *testing.T) {
	ctx := context.Background()

	client, _ := setupServer(t, iap.PlatformAndroid)
	_, err := client.Call(ctx, MethodAddPushToken, map[string]any{"accountId": "account1", "installId": "device1", "token": "token1"})
	require.Equal(t, codes.Unimplemented, status.Code(err))

	tokens := pushmemory.NewInMemory()
	client, _ = setupServer(t, iap.PlatformAndroid, WithPushTokens(tokens))

	// Token registration does not require a connection.
	result, err := client.Call(ctx, MethodAddPushToken, map[string]any{"accountId": "account1", "installId": "device1", "token": "token1"})
	require.NoError(t, err)
	require.True(t, result.GetBoolValue())

	registered, err := tokens.GetTokens(ctx, "account1")
	require.NoError(t, err)
	require.Len(t, registered, 1)
	require.Equal(t, "token1", registered[0].Token)

	_, err = client.Call(ctx, MethodAddPushToken, map[string]any{"accountId": "account1"})
	e, ok := iap.AsError(err)
	require.True(t, ok)
	require.Equal(t, iap.CodeDeveloperError, e.Code)

	_, err = client.Call(ctx, MethodDeletePushToken, map[string]any{"token": "token1"})
	require.NoError(t, err)

	registered, err = tokens.GetTokens(ctx, "account1")
	require.NoError(t, err)
	require.Empty(t, registered)
}

func TestEventMessage(t *testing.T) {
	msg, err := eventMessage(&event.Event{
		Type:    event.TypePurchaseError,
		Epoch:   "epoch",
		Payload: []byte(`{"code":"E_UNKNOWN","message":"Unknown purchase result"}`),
	})
	require.NoError(t, err)

	expected, err := structpb.NewStruct(map[string]any{
		"type":  "purchase-error",
		"epoch": "epoch",
		"payload": map[string]any{
			"code":    "E_UNKNOWN",
			"message": "Unknown purchase result",
		},
	})
	require.NoError(t, err)
	require.NoError(t, protoutil.FieldsEqualError(expected, msg))

	_, err = eventMessage(&event.Event{Type: event.TypePurchaseError, Payload: []byte(`{`)})
	require.Error(t, err)
}
