// Package cms implements the PKCS #7 / CMS (RFC 5652) signed-data
// verifier needed for authenticating downloaded boot images: parse the
// outer ContentInfo, walk to the first SignerInfo, build a certificate
// chain from the signer to a trusted root, validate key usage, and
// verify the RSA signature over the image digest.
//
// ASN.1/DER structure walking uses the stdlib encoding/asn1 and
// crypto/x509 (for parsing the embedded X.509 certificates themselves:
// Issuer/Subject/KeyUsage/ExtKeyUsage/public key fields) rather than a
// hand-rolled DER walker, grounded directly on RFC 5652's own ASN.1
// module and stdlib's general-purpose certificate parser. This is
// documented in DESIGN.md as a stdlib exception alongside
// internal/crypto/bigint/rsa, which is hand-rolled on purpose instead
// of using crypto/rsa. The actual RSA public-key operation is always
// done through internal/crypto/rsa, never crypto/rsa.Verify, even
// though the certificate carrying that key was parsed with
// crypto/x509.
package cms

import (
	"crypto/sha1"
	"crypto/sha256"
	stdrsa "crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"

	"github.com/marmos91/netboot/internal/crypto/rsa"
	"github.com/marmos91/netboot/internal/errcode"
)

var (
	oidSignedData    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}
	oidSHA256        = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA1          = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
)

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type signedData struct {
	Version          int
	DigestAlgorithms asn1.RawValue `asn1:"set"`
	ContentInfo      asn1.RawValue
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos       asn1.RawValue `asn1:"set"`
}

type issuerAndSerial struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

type signerInfo struct {
	Version                   int
	IssuerAndSerialNumber     issuerAndSerial
	DigestAlgorithm           pkix.AlgorithmIdentifier
	AuthenticatedAttributes   asn1.RawValue `asn1:"optional,tag:0"`
	DigestEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedDigest           []byte
	UnauthenticatedAttributes asn1.RawValue `asn1:"optional,tag:1"`
}

// TrustStore holds the root certificates a chain must terminate at.
type TrustStore struct {
	roots []*x509.Certificate
}

// AddRootDER adds a DER-encoded root certificate to the trust store.
func (t *TrustStore) AddRootDER(der []byte) error {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return errcode.Wrap(errcode.InvalidArg, err, "cms: parse trust root")
	}
	t.roots = append(t.roots, cert)
	return nil
}

// Configured reports whether any root certificates have been loaded.
func (t TrustStore) Configured() bool {
	return len(t.roots) > 0
}

func (t *TrustStore) findRoot(subject pkix.Name) *x509.Certificate {
	for _, r := range t.roots {
		if r.Subject.String() == subject.String() {
			return r
		}
	}
	return nil
}

// Result carries the outcome of a successful verification.
type Result struct {
	Signer *x509.Certificate
	Chain  []*x509.Certificate // signer..root, inclusive
}

// Verify parses a DER-encoded PKCS #7 SignedData blob (der) and checks
// that its first SignerInfo is a valid signature over payload (the
// detached content — the downloaded kernel/initrd bytes), chaining to a
// root in store. Returns errcode.Permission if the chain cannot be
// completed or key usage is wrong, errcode.VerifyFailed if the digest or
// signature does not match.
func Verify(der []byte, payload []byte, store TrustStore) (*Result, error) {
	var outer contentInfo
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArg, err, "cms: parse ContentInfo")
	}
	if !outer.ContentType.Equal(oidSignedData) {
		return nil, errcode.New(errcode.InvalidArg, "cms: not a signedData ContentInfo")
	}

	var sd signedData
	if _, err := asn1.Unmarshal(outer.Content.Bytes, &sd); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArg, err, "cms: parse SignedData")
	}

	certs, err := parseCertificateSet(sd.Certificates.Bytes)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, errcode.New(errcode.InvalidArg, "cms: no certificates in SignedData")
	}

	var si signerInfo
	if _, err := asn1.Unmarshal(sd.SignerInfos.Bytes, &si); err != nil {
		return nil, errcode.Wrap(errcode.InvalidArg, err, "cms: parse SignerInfo")
	}

	signer, err := findSigner(certs, si.IssuerAndSerialNumber)
	if err != nil {
		return nil, err
	}

	if err := checkKeyUsage(signer); err != nil {
		return nil, err
	}

	chain, err := buildChain(signer, certs, store)
	if err != nil {
		return nil, err
	}

	hashAlg, digester, err := resolveDigest(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return nil, err
	}

	digest := digester(payload)
	signed := digest

	if len(si.AuthenticatedAttributes.Bytes) > 0 {
		attrDigest, ok := messageDigestAttr(si.AuthenticatedAttributes.Bytes)
		if !ok || !bytesEqual(attrDigest, digest) {
			return nil, errcode.New(errcode.VerifyFailed, "cms: messageDigest attribute mismatch")
		}
		// RFC 5652 §5.4: the signature covers the DER re-encoding of the
		// authenticated attributes as an explicit SET OF, not the raw
		// [0] IMPLICIT bytes.
		reencoded := reencodeAsSet(si.AuthenticatedAttributes.FullBytes)
		signed = digester(reencoded)
	}

	key, err := rsaPublicKeyFrom(signer)
	if err != nil {
		return nil, err
	}

	if err := rsa.Verify(key, hashAlg, signed, si.EncryptedDigest); err != nil {
		return nil, err
	}

	return &Result{Signer: signer, Chain: chain}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reencodeAsSet rewrites an IMPLICIT [0] SET-of-attributes tag (0xA0) as
// an explicit UNIVERSAL SET tag (0x31), the re-tagging RFC 5652 requires
// before digesting authenticated attributes.
func reencodeAsSet(implicitSet []byte) []byte {
	var raw asn1.RawValue
	if _, err := asn1.Unmarshal(implicitSet, &raw); err != nil {
		// Caller already parsed this as part of SignerInfo; a failure
		// here means malformed input we simply cannot re-tag cleanly.
		return implicitSet
	}
	out := append([]byte(nil), raw.FullBytes...)
	if len(out) > 0 {
		out[0] = 0x31 // SET (constructed, universal, tag 17)
	}
	return out
}

func messageDigestAttr(attrSet []byte) ([]byte, bool) {
	var raw asn1.RawValue
	rest := attrSet
	for len(rest) > 0 {
		r, err := asn1.Unmarshal(rest, &raw)
		if err != nil {
			return nil, false
		}
		rest = r

		var attr struct {
			Type   asn1.ObjectIdentifier
			Values asn1.RawValue `asn1:"set"`
		}
		if _, err := asn1.Unmarshal(raw.FullBytes, &attr); err != nil {
			continue
		}
		if attr.Type.Equal(oidMessageDigest) {
			var digest []byte
			if _, err := asn1.Unmarshal(attr.Values.Bytes, &digest); err == nil {
				return digest, true
			}
		}
	}
	return nil, false
}

func resolveDigest(alg asn1.ObjectIdentifier) (name string, fn func([]byte) []byte, err error) {
	switch {
	case alg.Equal(oidSHA256):
		return "sha256", func(b []byte) []byte { h := sha256.Sum256(b); return h[:] }, nil
	case alg.Equal(oidSHA1):
		return "sha1", func(b []byte) []byte { h := sha1.Sum(b); return h[:] }, nil
	default:
		return "", nil, errcode.New(errcode.NotSupported, "cms: unsupported digest algorithm %v", alg)
	}
}

// parseCertificateSet walks the IMPLICIT [0] SET OF Certificate,
// parsing each DER-encoded X.509 certificate in turn.
func parseCertificateSet(raw []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := raw
	for len(rest) > 0 {
		var elem asn1.RawValue
		r, err := asn1.Unmarshal(rest, &elem)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidArg, err, "cms: parse certificate element")
		}
		rest = r

		cert, err := x509.ParseCertificate(elem.FullBytes)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidArg, err, "cms: parse X.509 certificate")
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func findSigner(certs []*x509.Certificate, id issuerAndSerial) (*x509.Certificate, error) {
	for _, c := range certs {
		if c.SerialNumber.Cmp(id.SerialNumber) == 0 && rawDNEqual(c.RawIssuer, id.Issuer.FullBytes) {
			return c, nil
		}
	}
	return nil, errcode.New(errcode.NoEntry, "cms: signer certificate not found in certificate set")
}

func rawDNEqual(a, b []byte) bool {
	return bytesEqual(a, b)
}

func checkKeyUsage(cert *x509.Certificate) error {
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return errcode.New(errcode.Permission, "cms: signer certificate lacks digitalSignature key usage")
	}
	hasCodeSigning := false
	for _, eku := range cert.ExtKeyUsage {
		if eku == x509.ExtKeyUsageCodeSigning {
			hasCodeSigning = true
			break
		}
	}
	if !hasCodeSigning {
		return errcode.New(errcode.Permission, "cms: signer certificate lacks codeSigning extended key usage")
	}
	return nil
}

// buildChain walks from signer toward a trusted root, matching each
// certificate's issuer to the next certificate's subject among the
// embedded set, per spec §4.8 and the testable property in spec §8.
func buildChain(signer *x509.Certificate, certs []*x509.Certificate, store TrustStore) ([]*x509.Certificate, error) {
	chain := []*x509.Certificate{signer}
	cur := signer

	if store.findRoot(cur.Subject) != nil {
		return chain, nil
	}

	for i := 0; i < len(certs)+1; i++ {
		if cur.Issuer.String() == cur.Subject.String() {
			// Self-signed and not in the trust store: not a root we trust.
			break
		}
		next := findByIssuer(certs, cur, chain)
		if next == nil {
			break
		}
		chain = append(chain, next)
		cur = next
		if root := store.findRoot(cur.Subject); root != nil {
			return chain, nil
		}
	}

	return nil, errcode.New(errcode.Permission, "cms: could not complete certificate chain to a trusted root")
}

func findByIssuer(certs []*x509.Certificate, child *x509.Certificate, already []*x509.Certificate) *x509.Certificate {
	for _, c := range certs {
		if c.Subject.String() != child.Issuer.String() {
			continue
		}
		if containsCert(already, c) {
			continue
		}
		return c
	}
	return nil
}

// containsCert checks membership by pointer identity: both callers draw
// c and list from the same parsed certificate slice, so this is exact
// and sidesteps crypto/x509.Certificate.Equal's reliance on a populated
// Raw field.
func containsCert(list []*x509.Certificate, c *x509.Certificate) bool {
	for _, existing := range list {
		if existing == c {
			return true
		}
	}
	return false
}

// rsaPublicKeyFrom extracts the signer's RSA public key, as parsed by
// crypto/x509 from the certificate's SubjectPublicKeyInfo, and rebuilds
// it as our own hand-rolled rsa.PublicKey so that every signature
// operation afterward runs through internal/crypto/bigint rather than
// crypto/rsa.
func rsaPublicKeyFrom(cert *x509.Certificate) (rsa.PublicKey, error) {
	pub, ok := cert.PublicKey.(*stdrsa.PublicKey)
	if !ok {
		return rsa.PublicKey{}, errcode.New(errcode.NotSupported, "cms: signer certificate is not RSA")
	}
	modulus := pub.N.Bytes()
	exponent := big.NewInt(int64(pub.E)).Bytes()
	return rsa.NewPublicKey(modulus, exponent), nil
}
