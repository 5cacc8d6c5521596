package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/code-payments/iap-bridge/iap"
)

// Verifier checks an ed25519 signature on a purchase token. The tokens issued
// by a Store with a signer are a message that, signed by the owner secret, is
// considered valid.
type Verifier struct {
	publicKey ed25519.PublicKey
}

func NewVerifier(pubKey ed25519.PublicKey) iap.Verifier {
	return &Verifier{publicKey: pubKey}
}

func (v *Verifier) VerifyPurchase(_ context.Context, purchase *iap.PurchaseRecord) (bool, error) {
	// The token format is: base64(signature)|message

	signature, message, err := parseToken(purchase.PurchaseToken)
	if err != nil {
		// A malformed token is simply not valid.
		return false, nil
	}

	return ed25519.Verify(v.publicKey, message, signature), nil
}

func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func GenerateValidReceipt(owner ed25519.PrivateKey, message string) string {
	signature := ed25519.Sign(owner, []byte(message))
	return base64.StdEncoding.EncodeToString(signature) + "|" + message
}

func parseToken(token string) (signature []byte, message []byte, err error) {
	parts := strings.SplitN(token, "|", 2)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid token format: %s", token)
	}

	signature, err = base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding signature: %w", err)
	}
	if len(signature) != ed25519.SignatureSize {
		return nil, nil, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	message = []byte(parts[1])
	return signature, message, nil
}
