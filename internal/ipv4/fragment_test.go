package ipv4

import (
	"testing"
	"time"

	"github.com/marmos91/netboot/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStack() *Stack {
	return NewStack(NewRoutingTable(), scheduler.New(func() time.Time { return time.Unix(0, 0) }))
}

func TestReassembleInOrderFragments(t *testing.T) {
	s := newTestStack()
	src := mustIP("10.0.0.1")

	first := header{src: src, id: 7, flags: flagMoreFrag, fragOffset: 0}
	buf, _, done := s.reassemble(first, []byte("hello, w"))
	assert.False(t, done)
	assert.Nil(t, buf)

	// Non-final fragments carry a multiple of 8 bytes (offsets are in
	// 8-byte units), so the second fragment starts at unit 1.
	second := header{src: src, id: 7, fragOffset: uint16(len("hello, w") / 8)}
	buf, hdr, done := s.reassemble(second, []byte("orld!!!"))
	require.True(t, done)
	require.NotNil(t, buf)
	assert.Equal(t, "hello, world!!!", string(buf.Bytes()))
	assert.Equal(t, uint16(HeaderLen+len("hello, world!!!")), hdr.totalLen)
}

func TestReassembleOutOfOrderDiscards(t *testing.T) {
	s := newTestStack()
	src := mustIP("10.0.0.1")

	first := header{src: src, id: 9, flags: flagMoreFrag, fragOffset: 0}
	_, _, done := s.reassemble(first, make([]byte, 8))
	assert.False(t, done)

	// Out-of-order (skips ahead): discards the reassembly holding the
	// first fragment; a non-zero offset cannot start a new one.
	outOfOrder := header{src: src, id: 9, fragOffset: 3}
	_, _, done = s.reassemble(outOfOrder, make([]byte, 8))
	assert.False(t, done)

	s.mu.Lock()
	_, exists := s.frag[fragKey{src: src.String(), id: 9}]
	s.mu.Unlock()
	assert.False(t, exists, "out-of-order non-zero-offset fragment with no matching state must not start a reassembly")
}
