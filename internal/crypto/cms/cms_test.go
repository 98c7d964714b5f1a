package cms

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
)

func dn(cn string) pkix.Name {
	return pkix.Name{CommonName: cn}
}

func rawName(t *testing.T, name pkix.Name) []byte {
	t.Helper()
	raw, err := asn1.Marshal(name.ToRDNSequence())
	if err != nil {
		t.Fatalf("marshal name: %v", err)
	}
	return raw
}

func TestCheckKeyUsageRejectsMissingDigitalSignature(t *testing.T) {
	cert := &x509.Certificate{
		KeyUsage:   x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	err := checkKeyUsage(cert)
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.Permission {
		t.Fatalf("expected Permission, got %v", err)
	}
}

func TestCheckKeyUsageRejectsMissingCodeSigning(t *testing.T) {
	cert := &x509.Certificate{
		KeyUsage:   x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	err := checkKeyUsage(cert)
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.Permission {
		t.Fatalf("expected Permission, got %v", err)
	}
}

func TestCheckKeyUsageAccepts(t *testing.T) {
	cert := &x509.Certificate{
		KeyUsage:   x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
	}
	if err := checkKeyUsage(cert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindSignerMatchesSerialAndIssuer(t *testing.T) {
	issuerRaw := rawName(t, dn("Example Root"))
	serial := big.NewInt(42)

	signer := &x509.Certificate{
		RawIssuer:    issuerRaw,
		SerialNumber: serial,
	}
	other := &x509.Certificate{
		RawIssuer:    rawName(t, dn("Someone Else")),
		SerialNumber: big.NewInt(1),
	}

	id := issuerAndSerial{
		Issuer:       asn1.RawValue{FullBytes: issuerRaw},
		SerialNumber: big.NewInt(42),
	}

	got, err := findSigner([]*x509.Certificate{other, signer}, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != signer {
		t.Fatalf("findSigner picked the wrong certificate")
	}
}

func TestFindSignerNoMatch(t *testing.T) {
	certs := []*x509.Certificate{{SerialNumber: big.NewInt(1)}}
	id := issuerAndSerial{SerialNumber: big.NewInt(99)}

	_, err := findSigner(certs, id)
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.NoEntry {
		t.Fatalf("expected NoEntry, got %v", err)
	}
}

func TestBuildChainCompletesToRoot(t *testing.T) {
	root := &x509.Certificate{Subject: dn("Root"), Issuer: dn("Root")}
	intermediate := &x509.Certificate{Subject: dn("Intermediate"), Issuer: dn("Root")}
	signer := &x509.Certificate{Subject: dn("Signer"), Issuer: dn("Intermediate")}

	var store TrustStore
	store.roots = []*x509.Certificate{root}

	chain, err := buildChain(signer, []*x509.Certificate{signer, intermediate, root}, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("got chain length %d, want 3", len(chain))
	}
	if chain[0] != signer || chain[1] != intermediate || chain[2] != root {
		t.Fatalf("unexpected chain order: %+v", chain)
	}
}

func TestBuildChainFailsWhenRootMissing(t *testing.T) {
	intermediate := &x509.Certificate{Subject: dn("Intermediate"), Issuer: dn("Root")}
	signer := &x509.Certificate{Subject: dn("Signer"), Issuer: dn("Intermediate")}

	var store TrustStore // empty: no trusted roots

	_, err := buildChain(signer, []*x509.Certificate{signer, intermediate}, store)
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.Permission {
		t.Fatalf("expected Permission, got %v", err)
	}
}

func TestResolveDigest(t *testing.T) {
	if name, _, err := resolveDigest(oidSHA256); err != nil || name != "sha256" {
		t.Fatalf("sha256: got %q, %v", name, err)
	}
	if name, _, err := resolveDigest(oidSHA1); err != nil || name != "sha1" {
		t.Fatalf("sha1: got %q, %v", name, err)
	}
	if _, _, err := resolveDigest(asn1.ObjectIdentifier{9, 9, 9}); err == nil {
		t.Fatal("expected error for unknown digest OID")
	} else if code, ok := errcode.CodeOf(err); !ok || code != errcode.NotSupported {
		t.Fatalf("expected NotSupported, got %v", err)
	}
}

func TestMessageDigestAttr(t *testing.T) {
	digest := []byte{1, 2, 3, 4}
	type attribute struct {
		Type   asn1.ObjectIdentifier
		Values []asn1.RawValue `asn1:"set"`
	}
	digestRaw, err := asn1.Marshal(digest)
	if err != nil {
		t.Fatalf("marshal digest: %v", err)
	}
	attr := attribute{
		Type:   oidMessageDigest,
		Values: []asn1.RawValue{{FullBytes: digestRaw}},
	}
	attrBytes, err := asn1.Marshal(attr)
	if err != nil {
		t.Fatalf("marshal attribute: %v", err)
	}
	set, err := asn1.Marshal([]asn1.RawValue{{FullBytes: attrBytes}})
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	// messageDigestAttr takes the attribute list as it sits inside the
	// [0] IMPLICIT tag: the contents, without the outer header.
	var outer asn1.RawValue
	if _, err := asn1.Unmarshal(set, &outer); err != nil {
		t.Fatalf("unmarshal set: %v", err)
	}

	got, ok := messageDigestAttr(outer.Bytes)
	if !ok {
		t.Fatal("expected to find messageDigest attribute")
	}
	if string(got) != string(digest) {
		t.Fatalf("got %x, want %x", got, digest)
	}
}

func TestReencodeAsSetFlipsTag(t *testing.T) {
	inner, err := asn1.Marshal(42)
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	implicit := append([]byte(nil), inner...)
	implicit[0] = 0xa0 // simulate an IMPLICIT [0] tag as found in AuthenticatedAttributes

	out := reencodeAsSet(implicit)
	if len(out) == 0 || out[0] != 0x31 {
		t.Fatalf("expected re-tagged SET (0x31), got %x", out)
	}
}

func TestBytesEqual(t *testing.T) {
	if !bytesEqual([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Fatal("expected equal byte slices to compare equal")
	}
	if bytesEqual([]byte{1, 2, 3}, []byte{1, 2}) {
		t.Fatal("expected different-length slices to compare unequal")
	}
	if bytesEqual([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Fatal("expected differing slices to compare unequal")
	}
}
