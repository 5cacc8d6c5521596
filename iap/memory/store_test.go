package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/iap/tests"
)

func TestIap_MemoryStore(t *testing.T) {
	for _, platform := range []iap.Platform{iap.PlatformAndroid, iap.PlatformIOS} {
		t.Run(string(platform), func(t *testing.T) {
			testStore := NewStore(platform)
			teardown := func() {
				testStore.reset()
			}
			tests.RunStoreTests(t, testStore, testStore.AddProduct, teardown)
		})
	}
}

func TestStore_DropConnection(t *testing.T) {
	s := NewStore(iap.PlatformAndroid)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Connect(ctx))
	updates, err := s.Subscribe(ctx)
	require.NoError(t, err)

	s.DropConnection()
	assert.False(t, s.IsReady())
	assert.Equal(t, 0, s.ActiveSubscriptions())

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("update stream still open")
	}

	// Cancelling a dropped subscription must not close it again.
	cancel()
	s.Deliver(&iap.Update{})
}

func TestStore_CanMakePayments(t *testing.T) {
	s := NewStore(iap.PlatformIOS)
	ctx := context.Background()

	allowed, err := s.CanMakePayments(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)

	s.SetPaymentsAllowed(false)
	allowed, err = s.CanMakePayments(ctx)
	require.NoError(t, err)
	assert.False(t, allowed)

	s.reset()
	allowed, err = s.CanMakePayments(ctx)
	require.NoError(t, err)
	assert.True(t, allowed)
}
