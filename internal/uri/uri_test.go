package uri

import (
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
)

func TestParseTFTP(t *testing.T) {
	u, err := Parse("tftp://10.0.0.1/pxelinux/vmlinuz")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Scheme != SchemeTFTP {
		t.Fatalf("got scheme %q, want tftp", u.Scheme)
	}
	if u.URL.Host != "10.0.0.1" || u.URL.Path != "/pxelinux/vmlinuz" {
		t.Fatalf("got host=%q path=%q", u.URL.Host, u.URL.Path)
	}
}

func TestParseHTTPS(t *testing.T) {
	u, err := Parse("https://boot.example.com:8443/images/initrd.img")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Scheme != SchemeHTTPS {
		t.Fatalf("got scheme %q, want https", u.Scheme)
	}
	if u.URL.Host != "boot.example.com:8443" {
		t.Fatalf("got host %q", u.URL.Host)
	}
}

func TestParseNFS(t *testing.T) {
	u, err := Parse("nfs://fileserver/export/boot")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Scheme != SchemeNFS {
		t.Fatalf("got scheme %q, want nfs", u.Scheme)
	}
}

func TestParseRejectsNoScheme(t *testing.T) {
	_, err := Parse("justapath/nothing")
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.InvalidArg {
		t.Fatalf("expected InvalidArg, got %v", err)
	}
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	_, err := Parse("ftp://example.com/x")
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.NotSupported {
		t.Fatalf("expected NotSupported, got %v", err)
	}
}

func TestParseIBSRP(t *testing.T) {
	raw := "ib_srp://" +
		":" + // sgid optional
		":" + // init_id_ext optional
		":" + // init_hca_guid optional
		"0102030405060708090a0b0c0d0e0f10:" + // dgid (16 bytes)
		"ffff:" + // pkey
		"1122334455667788:" + // service_id (8 bytes)
		"0:" + // lun
		"2233445566778899:" + // target_id_ext (8 bytes)
		"99aabbccddeeff00" // target_ioc_guid (8 bytes)

	u, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if u.Scheme != SchemeIBSRP {
		t.Fatalf("got scheme %q, want ib_srp", u.Scheme)
	}
	if u.RootPath == nil {
		t.Fatal("expected non-nil RootPath")
	}
	if u.RootPath.PKey != 0xffff {
		t.Fatalf("got pkey %#x, want 0xffff", u.RootPath.PKey)
	}
	if u.RootPath.LUN != 0 {
		t.Fatalf("got lun %d, want 0", u.RootPath.LUN)
	}
	var wantDGID [16]byte
	for i := range wantDGID {
		wantDGID[i] = byte(i + 1)
	}
	if u.RootPath.DGID != wantDGID {
		t.Fatalf("got dgid %x, want %x", u.RootPath.DGID, wantDGID)
	}
	var zeroSGID [16]byte
	if u.RootPath.SGID != zeroSGID {
		t.Fatalf("expected zero-valued optional sgid, got %x", u.RootPath.SGID)
	}
}

func TestParseSRPRootPathTooFewComponents(t *testing.T) {
	_, err := ParseSRPRootPath("a:b:c")
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.InvalidArg {
		t.Fatalf("expected InvalidArg, got %v", err)
	}
}

func TestParseSRPRootPathRejectsEmptyRequiredField(t *testing.T) {
	_, err := ParseSRPRootPath("::::ffff:1122334455667788:0::99aabbccddeeff00")
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.InvalidArg {
		t.Fatalf("expected InvalidArg for empty required dgid, got %v", err)
	}
}

func TestParseSRPRootPathRejectsBadHexLength(t *testing.T) {
	_, err := ParseSRPRootPath(":::0102:ffff:1122334455667788:0:2233445566778899:99aabbccddeeff00")
	if code, ok := errcode.CodeOf(err); !ok || code != errcode.InvalidArg {
		t.Fatalf("expected InvalidArg for short dgid, got %v", err)
	}
}

func TestParseSRPRootPathDefaultsPKey(t *testing.T) {
	rp, err := ParseSRPRootPath(":::0102030405060708090a0b0c0d0e0f10:" +
		":1122334455667788:0:2233445566778899:99aabbccddeeff00")
	if err != nil {
		t.Fatalf("ParseSRPRootPath failed: %v", err)
	}
	if rp.PKey != ibPkeyDefault {
		t.Fatalf("got pkey %#x, want default %#x", rp.PKey, ibPkeyDefault)
	}
}
