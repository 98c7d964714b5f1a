package tftp

import (
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionsDecodesNameValuePairs(t *testing.T) {
	body := []byte("blksize\x001432\x00tsize\x000\x00windowsize\x004\x00")
	opts := parseOptions(body)
	assert.Equal(t, "1432", opts["blksize"])
	assert.Equal(t, "0", opts["tsize"])
	assert.Equal(t, "4", opts["windowsize"])
}

func TestParseOptionsIgnoresUnknownOptionsAndTrailingGarbage(t *testing.T) {
	body := []byte("blksize\x00512\x00timeout\x005\x00")
	opts := parseOptions(body)
	assert.Equal(t, "512", opts["blksize"])
	assert.Equal(t, "5", opts["timeout"], "unknown options are decoded, just unused by the state machine")
}

func TestParseOptionsHandlesEmptyBody(t *testing.T) {
	opts := parseOptions(nil)
	assert.Empty(t, opts)
}

func TestItoaAtoiRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 8, 1432, 65464, 999999} {
		s := itoa(n)
		got, ok := atoi(s)
		assert.True(t, ok)
		assert.Equal(t, n, got)
	}
}

func TestAtoiRejectsNonDigits(t *testing.T) {
	_, ok := atoi("12a")
	assert.False(t, ok)
	_, ok = atoi("")
	assert.False(t, ok)
}

func TestBlksizeBoundaries(t *testing.T) {
	// Spec §8: blksize=8 must succeed, blksize=1 must fail (Get rejects it;
	// see TestGetRejectsTooSmallBlksize). An OACK value outside the range
	// is clamped into [MinBlksize, MaxBlksize], as handleOACK does.
	assert.Equal(t, 8, MinBlksize)
	clamp := func(n int) int {
		if n < MinBlksize {
			return MinBlksize
		}
		if n > MaxBlksize {
			return MaxBlksize
		}
		return n
	}
	assert.Equal(t, MinBlksize, clamp(1))
	assert.Equal(t, 8, clamp(8))
	assert.Equal(t, MaxBlksize, clamp(100000))
}

func TestClassifyBlockExpectedAdvances(t *testing.T) {
	assert.Equal(t, blockExpected, classifyBlock(1, 0))
	assert.Equal(t, blockExpected, classifyBlock(6, 5))
}

func TestClassifyBlockDuplicateOfLastDelivered(t *testing.T) {
	// Spec §4.4: "On DATA block N-1 (duplicate): re-send the last ACK
	// without advancing."
	assert.Equal(t, blockDuplicate, classifyBlock(5, 5))
}

func TestClassifyBlockZeroIsNeverADuplicate(t *testing.T) {
	// Before any DATA has been delivered, nextBlock is 0; block 0 never
	// occurs on the wire (TFTP DATA blocks start at 1), so it must not be
	// mistaken for "duplicate of block 0".
	assert.Equal(t, blockOutOfOrder, classifyBlock(0, 0))
}

func TestClassifyBlockAheadOfExpectedIsIgnored(t *testing.T) {
	// Spec §4.4: "On DATA block > next-expected: ignore."
	assert.Equal(t, blockOutOfOrder, classifyBlock(9, 5))
}

func TestGetRejectsTooSmallBlksize(t *testing.T) {
	// Spec §8: "blksize option = 8 must succeed; blksize = 1 must fail."
	// The rejection path never touches the UDP stack, so a zero-value
	// Client is enough to exercise it.
	c := &Client{}
	_, err := c.Get("vmlinuz", 1, nil)
	require.Error(t, err)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errcode.InvalidArg, code)
}

func TestGetRejectsTooLargeBlksize(t *testing.T) {
	c := &Client{}
	_, err := c.Get("vmlinuz", MaxBlksize+1, nil)
	require.Error(t, err)
}

func TestDefaultBlksizeFitsStandardEthernetMTU(t *testing.T) {
	// 4-byte DATA header + payload must stay at or under 1472 bytes so the
	// resulting UDP/IPv4 datagram fits a 1500-byte Ethernet frame.
	assert.LessOrEqual(t, DefaultBlksize+4, 1472)
}
