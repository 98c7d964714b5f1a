// Package rsa implements the RSA public-key verify primitive spec §4.8
// requires: m = s^e mod N via internal/crypto/bigint, then a
// constant-time comparison of the recovered PKCS #1 v1.5 digest-info
// (RFC 8017 §9.2) against the expected algorithm-identifier-plus-digest
// encoding.
package rsa

import (
	"crypto/subtle"

	"github.com/marmos91/netboot/internal/crypto/bigint"
	"github.com/marmos91/netboot/internal/errcode"
)

// PublicKey is an RSA public key: modulus N and public exponent E, both
// held as fixed-width bigint.Int sized to the modulus's bit length.
type PublicKey struct {
	N   bigint.Int
	E   bigint.Int
	Bits int
}

// NewPublicKey builds a PublicKey from big-endian modulus/exponent bytes.
func NewPublicKey(modulus, exponent []byte) PublicKey {
	bits := len(modulus) * 8
	return PublicKey{
		N:    bigint.FromBytes(bits, modulus),
		E:    bigint.FromBytes(bits, exponent),
		Bits: bits,
	}
}

// digestPrefix is the DER encoding of the DigestInfo AlgorithmIdentifier
// that precedes the raw hash in a PKCS #1 v1.5 signature (RFC 8017,
// RFC 3447 §9.2 Note 1), keyed by hash algorithm name.
var digestPrefix = map[string][]byte{
	"sha256": {
		0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65,
		0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20,
	},
	"sha1": {
		0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a,
		0x05, 0x00, 0x04, 0x14,
	},
}

// Verify checks that sig is a valid PKCS #1 v1.5 signature over digest
// (already hashed with the named algorithm) under key. Returns
// errcode.VerifyFailed on any mismatch, errcode.NotSupported for an
// unrecognized hash algorithm name.
func Verify(key PublicKey, hashAlg string, digest, sig []byte) error {
	prefix, ok := digestPrefix[hashAlg]
	if !ok {
		return errcode.New(errcode.NotSupported, "rsa: unsupported digest algorithm %q", hashAlg)
	}

	sigInt := bigint.FromBytes(key.Bits, sig)
	m := bigint.ModExp(sigInt, key.E, key.N)
	recovered := m.Bytes()

	expected := encodeEM(key.Bits/8, prefix, digest)

	if subtle.ConstantTimeCompare(recovered, expected) != 1 {
		return errcode.New(errcode.VerifyFailed, "rsa: signature verification failed")
	}
	return nil
}

// encodeEM builds the expected PKCS #1 v1.5 encoded message:
// 0x00 0x01 0xff...0xff 0x00 DigestInfo(prefix || digest), left-padded
// with 0xff bytes to emLen total length.
func encodeEM(emLen int, prefix, digest []byte) []byte {
	digestInfoLen := len(prefix) + len(digest)
	padLen := emLen - 3 - digestInfoLen
	if padLen < 8 {
		// Caller's key is too small for this digest; return a buffer that
		// can never constant-time-match a real signature rather than
		// panicking on a malicious/misconfigured input.
		return make([]byte, emLen)
	}

	em := make([]byte, emLen)
	em[0] = 0x00
	em[1] = 0x01
	for i := 0; i < padLen; i++ {
		em[2+i] = 0xff
	}
	em[2+padLen] = 0x00
	copy(em[3+padLen:], prefix)
	copy(em[3+padLen+len(prefix):], digest)
	return em
}
