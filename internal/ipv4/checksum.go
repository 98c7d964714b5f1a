// Package ipv4 implements the IPv4 layer from spec §4.3: a routing table
// derived from internal/settings, the standard Internet checksum, strict
// in-order fragment reassembly, and the unicast destination filter. It
// sits between internal/linklayer (framing) and the transport layer
// (internal/transport/udp, internal/transport/tcp).
package ipv4

// Checksum computes the standard Internet one's-complement checksum over
// data, folded to 16 bits (RFC 1071). Used directly for the IPv4 header
// checksum and as the final fold step for transport pseudo-header sums.
func Checksum(data []byte) uint16 {
	return fold(partialSum(0, data))
}

// partialSum accumulates data into an unfolded 32-bit one's-complement
// running sum, seeded from an existing partial sum. Transport layers use
// this to combine a pseudo-header sum with a payload sum before handing
// the result to ipv4 for folding and header patching (spec §4.3
// "Transport layers optionally pass a precomputed pseudo-header partial
// checksum; IPv4 completes it and patches into the transport header").
func partialSum(seed uint32, data []byte) uint32 {
	sum := seed
	n := len(data)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if i < n {
		sum += uint32(data[i]) << 8
	}
	return sum
}

// fold reduces a 32-bit accumulator to a 16-bit one's-complement checksum.
func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// PseudoHeader returns the unfolded partial sum of the IPv4 pseudo-header
// used by UDP and TCP checksums: source address, destination address, a
// zero byte, the protocol number, and the transport segment length.
func PseudoHeader(src, dst [4]byte, protocol byte, length int) uint32 {
	var sum uint32
	sum = partialSum(sum, src[:])
	sum = partialSum(sum, dst[:])
	sum += uint32(protocol)
	sum += uint32(length)
	return sum
}

// AddSum extends an unfolded partial sum with additional data, letting a
// transport layer accumulate its header and payload before handing the
// combined sum to FoldSum.
func AddSum(partial uint32, data []byte) uint32 {
	return partialSum(partial, data)
}

// FoldSum folds an unfolded partial sum (e.g. from PseudoHeader+AddSum)
// into the final 16-bit checksum to place on the wire.
func FoldSum(partial uint32) uint16 {
	return fold(partial)
}
