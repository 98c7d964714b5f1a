package rsa

import (
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
)

// buildTrivialKey returns a 512-bit key with public exponent 1, so that
// verification reduces to "is the signature exactly the expected
// encoded message" — letting the test exercise encodeEM/Verify's
// comparison logic without needing a full RSA keypair generation and
// signing step.
func buildTrivialKey() PublicKey {
	modulus := make([]byte, 64)
	for i := range modulus {
		modulus[i] = 0xff // guarantees N > any valid EM (EM's leading byte is 0x00)
	}
	return NewPublicKey(modulus, []byte{1})
}

func TestVerifySucceedsOnExactDigestInfo(t *testing.T) {
	key := buildTrivialKey()
	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}
	em := encodeEM(key.Bits/8, digestPrefix["sha256"], digest)

	if err := Verify(key, "sha256", digest, em); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestVerifyFailsOnTamperedDigest(t *testing.T) {
	key := buildTrivialKey()
	digest := make([]byte, 32)
	em := encodeEM(key.Bits/8, digestPrefix["sha256"], digest)

	tamperedDigest := make([]byte, 32)
	tamperedDigest[0] = 0x01 // the actual message digest differs from what was signed

	err := Verify(key, "sha256", tamperedDigest, em)
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.VerifyFailed {
		t.Fatalf("expected VerifyFailed, got %v", err)
	}
}

func TestVerifyRejectsUnsupportedAlgorithm(t *testing.T) {
	key := buildTrivialKey()
	err := Verify(key, "md5", nil, nil)
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.NotSupported {
		t.Fatalf("expected NotSupported, got %v", err)
	}
}
