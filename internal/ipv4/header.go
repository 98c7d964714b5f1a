package ipv4

import (
	"encoding/binary"
	"net"

	"github.com/marmos91/netboot/internal/errcode"
)

// HeaderLen is the fixed length of an option-free IPv4 header, the only
// form this firmware ever sends or expects to parse (spec scope never
// requires IP options).
const HeaderLen = 20

const (
	defaultTTL   = 64
	versionIHL   = 0x45 // version 4, IHL 5 (20 bytes, no options)
	flagDF       = 0x4000
	flagMoreFrag = 0x2000
	fragOffMask  = 0x1fff
)

// header is the decoded form of an IPv4 header, used internally by
// Transmit/receive; callers interact only through Stack.
type header struct {
	totalLen    uint16
	id          uint16
	flags       uint16
	fragOffset  uint16
	ttl         uint8
	protocol    uint8
	checksum    uint16
	src         net.IP
	dst         net.IP
}

func encodeHeader(dst []byte, h header) {
	dst[0] = versionIHL
	dst[1] = 0 // TOS
	binary.BigEndian.PutUint16(dst[2:4], h.totalLen)
	binary.BigEndian.PutUint16(dst[4:6], h.id)
	binary.BigEndian.PutUint16(dst[6:8], h.flags|h.fragOffset)
	dst[8] = h.ttl
	dst[9] = h.protocol
	binary.BigEndian.PutUint16(dst[10:12], 0) // checksum placeholder
	copy(dst[12:16], h.src.To4())
	copy(dst[16:20], h.dst.To4())
	sum := Checksum(dst[:HeaderLen])
	binary.BigEndian.PutUint16(dst[10:12], sum)
}

func decodeHeader(src []byte) (header, []byte, error) {
	if len(src) < HeaderLen {
		return header{}, nil, errcode.New(errcode.InvalidArg, "ipv4: short header, %d bytes", len(src))
	}
	ihl := int(src[0]&0x0f) * 4
	if ihl < HeaderLen || ihl > len(src) {
		return header{}, nil, errcode.New(errcode.InvalidArg, "ipv4: bad IHL %d", ihl)
	}
	totalLen := binary.BigEndian.Uint16(src[2:4])
	flagsAndFrag := binary.BigEndian.Uint16(src[6:8])
	h := header{
		totalLen:   totalLen,
		id:         binary.BigEndian.Uint16(src[4:6]),
		flags:      flagsAndFrag &^ fragOffMask,
		fragOffset: flagsAndFrag & fragOffMask,
		ttl:        src[8],
		protocol:   src[9],
		checksum:   binary.BigEndian.Uint16(src[10:12]),
		src:        net.IP(append([]byte(nil), src[12:16]...)),
		dst:        net.IP(append([]byte(nil), src[16:20]...)),
	}
	end := int(totalLen)
	if end > len(src) || end < ihl {
		end = len(src)
	}
	return h, src[ihl:end], nil
}

// moreFragments reports whether the MF flag is set.
func (h header) moreFragments() bool { return h.flags&flagMoreFrag != 0 }

// offsetBytes returns the fragment offset in bytes (the wire field is in
// 8-byte units).
func (h header) offsetBytes() int { return int(h.fragOffset) * 8 }
