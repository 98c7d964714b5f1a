package buffer

import (
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBufferInvariants(t *testing.T) {
	b := New(16, 64)
	defer b.Release()

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 16, b.Headroom())
	assert.GreaterOrEqual(t, b.Tailroom(), 64)
}

func TestPutAppendsData(t *testing.T) {
	b := New(8, 32)
	defer b.Release()

	require.NoError(t, b.PutBytes([]byte("hello")))
	assert.Equal(t, "hello", string(b.Bytes()))
	assert.Equal(t, 5, b.Len())
}

func TestPushPrependsWithinHeadroom(t *testing.T) {
	b := New(8, 32)
	defer b.Release()

	require.NoError(t, b.PutBytes([]byte("body")))
	hdr, err := b.Push(4)
	require.NoError(t, err)
	copy(hdr, "head")

	assert.Equal(t, "headbody", string(b.Bytes()))
}

func TestPushFailsWithoutHeadroom(t *testing.T) {
	b := New(2, 32)
	defer b.Release()

	_, err := b.Push(4)
	require.Error(t, err)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errcode.NoBufs, code)
}

func TestPullStripsFromHead(t *testing.T) {
	b := New(0, 32)
	defer b.Release()

	require.NoError(t, b.PutBytes([]byte("abcdef")))
	head, err := b.Pull(2)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(head))
	assert.Equal(t, "cdef", string(b.Bytes()))
}

func TestUnputStripsFromTail(t *testing.T) {
	b := New(0, 32)
	defer b.Release()

	require.NoError(t, b.PutBytes([]byte("abcdef")))
	require.NoError(t, b.Unput(2))
	assert.Equal(t, "abcd", string(b.Bytes()))
}

func TestPutGrowsBeyondInitialCapacity(t *testing.T) {
	b := New(0, 4)
	defer b.Release()

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, b.PutBytes(data))
	assert.Equal(t, data, b.Bytes())
}

func TestCloneIsIndependent(t *testing.T) {
	b := New(0, 32)
	defer b.Release()
	require.NoError(t, b.PutBytes([]byte("original")))

	clone := b.Clone()
	defer clone.Release()

	require.NoError(t, b.Unput(8))
	require.NoError(t, b.PutBytes([]byte("replaced")))

	assert.Equal(t, "original", string(clone.Bytes()))
	assert.Equal(t, "replaced", string(b.Bytes()))
}
