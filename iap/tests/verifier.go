package tests

import (
	"context"
	"strings"
	"testing"

	"github.com/code-payments/iap-bridge/iap"
)

type MessageGenerator func() string
type ValidTokenFromMessage func(message string) string

func RunGenericVerifierTests(t *testing.T, v iap.Verifier, msgGen MessageGenerator, validTokenFunc ValidTokenFromMessage, teardown func()) {
	for _, testFunc := range []func(t *testing.T, v iap.Verifier, msgGen MessageGenerator, validTokenFunc ValidTokenFromMessage){
		testValidToken,
		testInvalidToken,
		testTamperedToken,
	} {
		testFunc(t, v, msgGen, validTokenFunc)
		teardown()
	}
}

func testValidToken(t *testing.T, v iap.Verifier, msgGen MessageGenerator, validTokenFunc ValidTokenFromMessage) {
	ctx := context.Background()

	message := msgGen()
	validToken := validTokenFunc(message)

	valid, err := v.VerifyPurchase(ctx, purchaseWithToken(validToken))
	if err != nil {
		t.Fatalf("unexpected error verifying valid token: %v", err)
	}
	if !valid {
		t.Errorf("expected token to be valid, got invalid")
	}
}

func testInvalidToken(t *testing.T, v iap.Verifier, msgGen MessageGenerator, validTokenFunc ValidTokenFromMessage) {
	ctx := context.Background()

	for _, invalidToken := range []string{"", "invalid", "|", "bm90IGEgc2lnbmF0dXJl|message"} {
		valid, _ := v.VerifyPurchase(ctx, purchaseWithToken(invalidToken))
		if valid {
			t.Errorf("expected token %q to be invalid, got valid", invalidToken)
		}
	}
}

func testTamperedToken(t *testing.T, v iap.Verifier, msgGen MessageGenerator, validTokenFunc ValidTokenFromMessage) {
	ctx := context.Background()

	validToken := validTokenFunc(msgGen())
	tampered := validToken + "x"
	if idx := strings.LastIndex(validToken, "|"); idx >= 0 {
		tampered = validToken[:idx+1] + "tampered"
	}

	valid, _ := v.VerifyPurchase(ctx, purchaseWithToken(tampered))
	if valid {
		t.Errorf("expected tampered token to be invalid, got valid")
	}
}

func purchaseWithToken(token string) *iap.PurchaseRecord {
	return &iap.PurchaseRecord{
		ID:            "GPA.0000-0000-0000-00001",
		ProductID:     "coin_100",
		ProductIDs:    []string{"coin_100"},
		PurchaseToken: token,
		State:         iap.PurchaseStatePurchased,
		Platform:      iap.PlatformAndroid,
	}
}
