package push

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
)

// A single MulticastMessage may contain up to 500 registration tokens.
const maxMulticastTokens = 500

type Pusher interface {
	// SendData sends a silent data message to every device registered for
	// accountID.
	SendData(ctx context.Context, accountID string, data map[string]string) error
}

type NoOpPusher struct{}

func (n *NoOpPusher) SendData(_ context.Context, _ string, _ map[string]string) error {
	return nil
}

type FCMPusher struct {
	log    *zap.Logger
	tokens TokenStore
	client FCMClient
}

type FCMClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

func NewFCMPusher(log *zap.Logger, tokens TokenStore, client FCMClient) *FCMPusher {
	return &FCMPusher{
		log:    log,
		tokens: tokens,
		client: client,
	}
}

func (p *FCMPusher) SendData(ctx context.Context, accountID string, data map[string]string) error {
	log := p.log.With(zap.String("account_id", accountID))

	pushTokens, err := p.tokens.GetTokens(ctx, accountID)
	if err != nil {
		return err
	}

	if len(pushTokens) > maxMulticastTokens {
		log.Warn("Dropping push, too many tokens", zap.Int("num_tokens", len(pushTokens)))
		return nil
	}

	if len(pushTokens) == 0 {
		log.Debug("Dropping push, no tokens for account")
		return nil
	}

	tokens := extractTokens(pushTokens)
	response, err := p.client.SendEachForMulticast(ctx, buildMessage(tokens, data))
	if err != nil {
		return err
	}

	log.Debug("Sent pushes", zap.Int("success", response.SuccessCount), zap.Int("failed", response.FailureCount))
	p.processResponse(ctx, log, response, tokens)

	return nil
}

func buildMessage(tokens []string, data map[string]string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
				},
			},
		},
	}
}

func (p *FCMPusher) processResponse(ctx context.Context, log *zap.Logger, response *messaging.BatchResponse, tokens []string) {
	var invalid []string

	for i, resp := range response.Responses {
		if resp == nil || resp.Success {
			continue
		}

		if messaging.IsUnregistered(resp.Error) {
			invalid = append(invalid, tokens[i])
		} else {
			log.Warn("Failed to send push notification",
				zap.Error(resp.Error),
				zap.String("token", tokens[i]),
			)
		}
	}

	for _, token := range invalid {
		if err := p.tokens.DeleteToken(ctx, token); err != nil {
			log.Warn("Failed to remove invalid token", zap.Error(err))
		}
	}
	if len(invalid) > 0 {
		log.Debug("Removed invalid tokens", zap.Int("count", len(invalid)))
	}
}

func extractTokens(pushTokens []Token) []string {
	tokens := make([]string, len(pushTokens))
	for i, token := range pushTokens {
		tokens[i] = token.Token
	}
	return tokens
}
