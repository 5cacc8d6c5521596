package memory

import (
	"context"
	"sync"

	"github.com/code-payments/iap-bridge/push"
)

type memory struct {
	sync.RWMutex

	// Map of accountID -> map of installID -> Token
	tokens map[string]map[string]push.Token
}

func NewInMemory() push.TokenStore {
	return &memory{
		tokens: make(map[string]map[string]push.Token),
	}
}

func (m *memory) reset() {
	m.Lock()
	defer m.Unlock()

	m.tokens = make(map[string]map[string]push.Token)
}

func (m *memory) GetTokens(_ context.Context, accountID string) ([]push.Token, error) {
	m.RLock()
	defer m.RUnlock()

	accountTokens, ok := m.tokens[accountID]
	if !ok {
		return nil, nil
	}

	tokens := make([]push.Token, 0, len(accountTokens))
	for _, token := range accountTokens {
		tokens = append(tokens, token)
	}

	return tokens, nil
}

func (m *memory) AddToken(_ context.Context, accountID, installID, token string) error {
	m.Lock()
	defer m.Unlock()

	accountTokens, ok := m.tokens[accountID]
	if !ok {
		accountTokens = make(map[string]push.Token)
		m.tokens[accountID] = accountTokens
	}

	accountTokens[installID] = push.Token{
		Token:     token,
		InstallID: installID,
	}

	return nil
}

func (m *memory) DeleteToken(_ context.Context, token string) error {
	m.Lock()
	defer m.Unlock()

	// Need to scan all accounts and devices to find matching token.
	for accountID, accountTokens := range m.tokens {
		for installID, existing := range accountTokens {
			if existing.Token == token {
				delete(accountTokens, installID)
			}
		}
		if len(accountTokens) == 0 {
			delete(m.tokens, accountID)
		}
	}

	return nil
}

func (m *memory) ClearTokens(_ context.Context, accountID string) error {
	m.Lock()
	defer m.Unlock()

	delete(m.tokens, accountID)
	return nil
}
