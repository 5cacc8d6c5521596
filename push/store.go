package push

import (
	"context"
)

// Token is a device registration token.
//
// Tokens are bound to an (account, device) pair, identified by the InstallID.
type Token struct {
	Token     string
	InstallID string
}

type TokenStore interface {
	// GetTokens returns all tokens for an account.
	GetTokens(ctx context.Context, accountID string) ([]Token, error)

	// AddToken adds a token for an account.
	//
	// If the token already exists for the same account and device, it will be updated.
	AddToken(ctx context.Context, accountID, installID, token string) error

	// DeleteToken deletes a token from every account it is registered to.
	DeleteToken(ctx context.Context, token string) error

	// ClearTokens deletes all tokens for an account.
	ClearTokens(ctx context.Context, accountID string) error
}
