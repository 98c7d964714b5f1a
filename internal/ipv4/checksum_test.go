package ipv4

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumKnownVector(t *testing.T) {
	// RFC 1071 example: 0x0001 0xf203 0xf4f5 0xf6f7 sums to checksum 0x220d.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, uint16(0x220d), Checksum(data))
}

func TestChecksumOfSelfWithChecksumFieldZeroesOut(t *testing.T) {
	hdr := make([]byte, HeaderLen)
	encodeHeader(hdr, header{totalLen: HeaderLen, ttl: 64, protocol: ProtoUDP, src: mustIP("1.2.3.4"), dst: mustIP("5.6.7.8")})
	assert.Equal(t, uint16(0), Checksum(hdr))
}
