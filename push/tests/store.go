package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/iap-bridge/push"
)

func RunStoreTests(t *testing.T, s push.TokenStore, teardown func()) {
	for _, tf := range []func(t *testing.T, s push.TokenStore){
		testAddAndGetTokens,
		testUpdateExistingToken,
		testDeleteToken,
		testClearToken,
		testMultipleAccounts,
	} {
		tf(t, s)
		teardown()
	}
}

func testAddAndGetTokens(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	// Initially no tokens
	tokens, err := store.GetTokens(ctx, "account1")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	require.NoError(t, store.AddToken(ctx, "account1", "device1", "token1"))
	require.NoError(t, store.AddToken(ctx, "account1", "device2", "token2"))

	tokens, err = store.GetTokens(ctx, "account1")
	require.NoError(t, err)
	assert.Len(t, tokens, 2)

	tokenMap := make(map[string]push.Token)
	for _, token := range tokens {
		tokenMap[token.InstallID] = token
	}

	assert.Equal(t, "token1", tokenMap["device1"].Token)
	assert.Equal(t, "token2", tokenMap["device2"].Token)
}

func testUpdateExistingToken(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	require.NoError(t, store.AddToken(ctx, "account1", "device1", "token1"))
	require.NoError(t, store.AddToken(ctx, "account1", "device1", "token2"))

	tokens, err := store.GetTokens(ctx, "account1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "token2", tokens[0].Token)
}

func testDeleteToken(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	require.NoError(t, store.AddToken(ctx, "account1", "device1", "token1"))
	require.NoError(t, store.AddToken(ctx, "account2", "device1", "token1"))
	require.NoError(t, store.AddToken(ctx, "account2", "device2", "token2"))

	require.NoError(t, store.DeleteToken(ctx, "token1"))

	tokens, err := store.GetTokens(ctx, "account1")
	require.NoError(t, err)
	assert.Empty(t, tokens)

	tokens, err = store.GetTokens(ctx, "account2")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "token2", tokens[0].Token)

	// Deleting an unknown token is not an error
	require.NoError(t, store.DeleteToken(ctx, "missing"))
}

func testClearToken(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	require.NoError(t, store.AddToken(ctx, "account1", "device1", "token1"))
	require.NoError(t, store.AddToken(ctx, "account1", "device2", "token2"))

	require.NoError(t, store.ClearTokens(ctx, "account1"))

	tokens, err := store.GetTokens(ctx, "account1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func testMultipleAccounts(t *testing.T, store push.TokenStore) {
	ctx := context.Background()

	require.NoError(t, store.AddToken(ctx, "account1", "device1", "token1"))
	require.NoError(t, store.AddToken(ctx, "account2", "device1", "token2"))

	tokens, err := store.GetTokens(ctx, "account1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "token1", tokens[0].Token)

	tokens, err = store.GetTokens(ctx, "account2")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "token2", tokens[0].Token)
}
