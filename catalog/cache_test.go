package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-bridge/iap"
)

func TestCache_PutGet(t *testing.T) {
	c := NewCache(0)
	defer c.Close()

	_, err := c.Get("coin_100")
	require.ErrorIs(t, err, ErrNotFound)

	price := iap.MicrosToPrice(990000)
	require.NoError(t, c.Put(&iap.ProductDescriptor{
		ProductID:    "coin_100",
		Type:         iap.ProductTypeInApp,
		Platform:     iap.PlatformAndroid,
		Title:        "100 Coins",
		Currency:     "USD",
		DisplayPrice: "$0.99",
		Price:        &price,
	}, nil, &iap.ProductDescriptor{}))
	require.Equal(t, 1, c.Len())

	got, err := c.Get("coin_100")
	require.NoError(t, err)
	require.Equal(t, "100 Coins", got.Title)

	// Returned descriptors are copies.
	got.Title = "changed"
	got.Price = nil
	again, err := c.Get("coin_100")
	require.NoError(t, err)
	require.Equal(t, "100 Coins", again.Title)
	require.NotNil(t, again.Price)
}

func TestCache_Replace(t *testing.T) {
	c := NewCache(0)
	defer c.Close()

	require.NoError(t, c.Put(&iap.ProductDescriptor{
		ProductID: "premium",
		Type:      iap.ProductTypeSubscription,
		Offers: []*iap.OfferDetail{
			{BasePlanID: "monthly", OfferToken: "a"},
			{BasePlanID: "monthly", OfferID: "intro", OfferToken: "b"},
		},
	}))
	require.NoError(t, c.Put(&iap.ProductDescriptor{
		ProductID: "premium",
		Type:      iap.ProductTypeSubscription,
		Offers: []*iap.OfferDetail{
			{BasePlanID: "yearly", OfferToken: "c"},
		},
	}))

	got, err := c.Get("premium")
	require.NoError(t, err)
	require.Len(t, got.Offers, 1)
	require.Equal(t, "yearly", got.Offers[0].BasePlanID)
	require.Equal(t, 1, c.Len())
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(0)
	defer c.Close()

	require.NoError(t, c.Put(&iap.ProductDescriptor{ProductID: "a"}, &iap.ProductDescriptor{ProductID: "b"}))
	require.Equal(t, 2, c.Len())

	c.Clear()
	require.Equal(t, 0, c.Len())
	_, err := c.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCache_TTL(t *testing.T) {
	c := NewCache(50 * time.Millisecond)
	defer c.Close()

	require.NoError(t, c.Put(&iap.ProductDescriptor{ProductID: "a"}))
	_, err := c.Get("a")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := c.Get("a")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCache_Close(t *testing.T) {
	c := NewCache(time.Minute)
	require.NoError(t, c.Put(&iap.ProductDescriptor{ProductID: "a"}))

	c.Close()
	c.Close()

	require.Equal(t, 0, c.Len())
	_, err := c.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
	c.Clear()

	done := make(chan error, 1)
	go func() {
		done <- c.Put(&iap.ProductDescriptor{ProductID: "b"})
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Put blocked on a closed cache")
	}
}
