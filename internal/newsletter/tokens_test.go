package newsletter

import (
	"strings"
	"testing"

	"github.com/zachwright/daily-drops/internal/privacy"
)

func testSigner(t *testing.T) *TokenSigner {
	t.Helper()
	hasher, err := privacy.NewHasher("token-test-secret")
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return NewTokenSigner(hasher)
}

func TestUnsubscribeTokenRoundTrip(t *testing.T) {
	signer := testSigner(t)

	token := signer.UnsubscribeToken(42, "email-hash-value")
	id, sig, ok := signer.ParseUnsubscribeToken(token)
	if !ok {
		t.Fatalf("token %q did not parse", token)
	}
	if id != 42 {
		t.Errorf("expected id 42, got %d", id)
	}
	if !signer.VerifyUnsubscribeSignature(id, "email-hash-value", sig) {
		t.Error("signature should verify for the issuing inputs")
	}
}

func TestUnsubscribeTokenDeterministic(t *testing.T) {
	signer := testSigner(t)

	// Re-signup regenerates nothing the token depends on, so links in old
	// issues keep working.
	a := signer.UnsubscribeToken(7, "same-hash")
	b := signer.UnsubscribeToken(7, "same-hash")
	if a != b {
		t.Errorf("tokens differ for identical inputs: %q vs %q", a, b)
	}
}

func TestUnsubscribeSignatureRejectsTampering(t *testing.T) {
	signer := testSigner(t)

	token := signer.UnsubscribeToken(42, "email-hash-value")
	id, sig, ok := signer.ParseUnsubscribeToken(token)
	if !ok {
		t.Fatal("token did not parse")
	}

	if signer.VerifyUnsubscribeSignature(43, "email-hash-value", sig) {
		t.Error("signature must not verify for a different subscriber id")
	}
	if signer.VerifyUnsubscribeSignature(id, "other-hash", sig) {
		t.Error("signature must not verify for a different email hash")
	}

	// Flip one hex character of the signature.
	flipped := sig[:len(sig)-1]
	if strings.HasSuffix(sig, "0") {
		flipped += "1"
	} else {
		flipped += "0"
	}
	if signer.VerifyUnsubscribeSignature(id, "email-hash-value", flipped) {
		t.Error("signature must not verify after a one-character flip")
	}
}

func TestParseUnsubscribeTokenMalformed(t *testing.T) {
	signer := testSigner(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"no separator", "42abcdef"},
		{"too many separators", "42.abc.def"},
		{"empty id", ".abcdef"},
		{"non-numeric id", "abc.def"},
		{"negative id", "-5.abcdef"},
		{"zero id", "0.abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, ok := signer.ParseUnsubscribeToken(tt.raw); ok {
				t.Errorf("ParseUnsubscribeToken(%q) should reject", tt.raw)
			}
		})
	}
}
