package push_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/push"
	"github.com/code-payments/iap-bridge/push/memory"
)

// testFCMClient captures the messages sent for verification
type testFCMClient struct {
	sync.Mutex
	err  error
	sent []*messaging.MulticastMessage
}

func (c *testFCMClient) SendEachForMulticast(_ context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	c.Lock()
	defer c.Unlock()

	if c.err != nil {
		return nil, c.err
	}

	c.sent = append(c.sent, message)
	responses := make([]*messaging.SendResponse, len(message.Tokens))
	for i := range responses {
		responses[i] = &messaging.SendResponse{Success: true}
	}
	return &messaging.BatchResponse{
		SuccessCount: len(message.Tokens),
		Responses:    responses,
	}, nil
}

func (c *testFCMClient) messages() []*messaging.MulticastMessage {
	c.Lock()
	defer c.Unlock()
	return c.sent
}

func TestFCMPusher_SendData(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemory()
	fcmClient := &testFCMClient{}
	pusher := push.NewFCMPusher(zap.NewNop(), store, fcmClient)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AddToken(ctx, "account1", fmt.Sprintf("install%d", i), fmt.Sprintf("token%d", i)))
	}
	require.NoError(t, store.AddToken(ctx, "account2", "install0", "other"))

	data := map[string]string{"type": "purchase-updated"}
	require.NoError(t, pusher.SendData(ctx, "account1", data))

	sent := fcmClient.messages()
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []string{"token0", "token1", "token2"}, sent[0].Tokens)
	assert.Equal(t, data, sent[0].Data)
	assert.Nil(t, sent[0].Notification)
	assert.True(t, sent[0].APNS.Payload.Aps.ContentAvailable)
}

func TestFCMPusher_NoTokens(t *testing.T) {
	fcmClient := &testFCMClient{}
	pusher := push.NewFCMPusher(zap.NewNop(), memory.NewInMemory(), fcmClient)

	require.NoError(t, pusher.SendData(context.Background(), "account1", map[string]string{}))
	assert.Empty(t, fcmClient.messages())
}

func TestFCMPusher_ClientError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemory()
	fcmClient := &testFCMClient{err: errors.New("unavailable")}
	pusher := push.NewFCMPusher(zap.NewNop(), store, fcmClient)

	require.NoError(t, store.AddToken(ctx, "account1", "install0", "token0"))
	assert.Error(t, pusher.SendData(ctx, "account1", map[string]string{}))
}

type recordingPusher struct {
	sync.Mutex
	calls map[string][]map[string]string
}

func (p *recordingPusher) SendData(_ context.Context, accountID string, data map[string]string) error {
	p.Lock()
	defer p.Unlock()

	if p.calls == nil {
		p.calls = make(map[string][]map[string]string)
	}
	p.calls[accountID] = append(p.calls[accountID], data)
	return nil
}

func TestForwarder(t *testing.T) {
	pusher := &recordingPusher{}
	forwarder := push.NewForwarder(zap.NewNop(), pusher)

	bus := event.NewBus[event.Type, *event.Event]()
	remove := bus.AddHandler(forwarder)
	defer remove()

	withAccount, err := iap.MarshalPurchase(&iap.PurchaseRecord{
		ID:                  "GPA.1",
		ProductID:           "coin_100",
		PurchaseToken:       "token-1",
		State:               iap.PurchaseStatePurchased,
		Platform:            iap.PlatformAndroid,
		ObfuscatedAccountID: "account1",
	})
	require.NoError(t, err)

	withoutAccount, err := iap.MarshalPurchase(&iap.PurchaseRecord{
		ID:            "GPA.2",
		ProductID:     "coin_100",
		PurchaseToken: "token-2",
		State:         iap.PurchaseStatePurchased,
		Platform:      iap.PlatformAndroid,
	})
	require.NoError(t, err)

	require.NoError(t, bus.OnEvent(event.TypePurchaseUpdated, &event.Event{Type: event.TypePurchaseUpdated, Payload: withAccount}))
	require.NoError(t, bus.OnEvent(event.TypePurchaseUpdated, &event.Event{Type: event.TypePurchaseUpdated, Payload: withoutAccount}))
	require.NoError(t, bus.OnEvent(event.TypeConnectionUpdated, &event.Event{Type: event.TypeConnectionUpdated, Payload: []byte(`{"connected":true}`)}))
	forwarder.Wait()

	pusher.Lock()
	defer pusher.Unlock()

	require.Len(t, pusher.calls, 1)
	require.Len(t, pusher.calls["account1"], 1)
	data := pusher.calls["account1"][0]
	assert.Equal(t, "purchase-updated", data["type"])
	assert.JSONEq(t, string(withAccount), data["payload"])
}
