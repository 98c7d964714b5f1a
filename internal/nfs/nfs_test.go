package nfs

import (
	"bytes"
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortenMountpointWalksUpToRoot(t *testing.T) {
	// Spec §8: an NFS MNT against /foo/bar/baz whose server only exports
	// /foo must succeed by falling back through /foo/bar to /foo.
	parent, remainder, ok := shortenMountpoint("/foo/bar/baz", "")
	require.True(t, ok)
	assert.Equal(t, "/foo/bar", parent)
	assert.Equal(t, "baz", remainder)

	parent, remainder, ok = shortenMountpoint(parent, remainder)
	require.True(t, ok)
	assert.Equal(t, "/foo", parent)
	assert.Equal(t, "bar/baz", remainder)
}

func TestShortenMountpointStopsAtRoot(t *testing.T) {
	_, _, ok := shortenMountpoint("/", "bar/baz")
	assert.False(t, ok)
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"boot", "pxelinux.0"}, splitPath("/boot/pxelinux.0"))
	assert.Equal(t, []string{"boot", "pxelinux.0"}, splitPath("boot//pxelinux.0/"))
	assert.Empty(t, splitPath("/"))
	assert.Empty(t, splitPath(""))
}

func TestMountErrorMapsKnownStatuses(t *testing.T) {
	cases := map[uint32]errcode.Code{
		MountErrNoEnt:  errcode.NoEntry,
		MountErrAccess: errcode.Permission,
		MountErrNotDir: errcode.InvalidArg,
	}
	for status, want := range cases {
		err := mountError(status, "/export")
		code, ok := errcode.CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, want, code)
	}
}

func TestNFSErrorMapsKnownStatuses(t *testing.T) {
	cases := map[uint32]errcode.Code{
		NFS3ErrNoEnt:  errcode.NoEntry,
		NFS3ErrAcces:  errcode.Permission,
		NFS3ErrNotDir: errcode.InvalidArg,
		NFS3ErrStale:  errcode.NoEntry,
	}
	for status, want := range cases {
		err := nfsError(status, "pxelinux.0")
		code, ok := errcode.CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, want, code)
	}
}

func TestDecodeFixedOpaqueReadsExactly64Bytes(t *testing.T) {
	wire := make([]byte, MaxFileHandleLen)
	for i := range wire {
		wire[i] = byte(i)
	}
	r := bytes.NewReader(wire)
	fh, err := decodeFixedOpaque(r)
	require.NoError(t, err)
	assert.Equal(t, wire, fh)
	assert.Equal(t, 0, r.Len())
}

func TestDecodeOptionalFileAttrSkipsWhenAbsent(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0}) // attributes_follow = false
	r := bytes.NewReader(buf.Bytes())
	present, _, err := decodeOptionalFileAttr(r)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, 0, r.Len())
}

func TestDecodeOptionalFileAttrSkipsFattr3WhenPresent(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 1})    // attributes_follow = true
	buf.Write([]byte{0, 0, 0, 1})    // type = NF3REG
	buf.Write(make([]byte, 84-4))
	r := bytes.NewReader(buf.Bytes())
	present, attr, err := decodeOptionalFileAttr(r)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, NF3Reg, attr.Type)
	assert.Equal(t, 0, r.Len())
}
