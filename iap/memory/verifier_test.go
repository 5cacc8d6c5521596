package memory

import (
	"testing"

	"github.com/code-payments/iap-bridge/iap/tests"
)

func TestMemoryVerifier(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("error generating key pair: %v", err)
	}

	verifier := NewVerifier(pub)
	messageGenerator := func() string {
		return "coin_100:1"
	}
	validTokenFunc := func(msg string) string {
		return GenerateValidReceipt(priv, msg)
	}

	teardown := func() {}

	tests.RunGenericVerifierTests(t,
		verifier, messageGenerator, validTokenFunc, teardown)
}
