package arp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	senderHW := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	targetHW := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	senderIP := net.ParseIP("192.168.0.1").To4()
	targetIP := net.ParseIP("192.168.0.2").To4()

	wire := make([]byte, HeaderLen)
	encode(wire, opReply, senderHW, senderIP, targetHW, targetIP)

	op, gotSenderHW, gotSenderIP, gotTargetHW, gotTargetIP := decode(wire)
	require.Equal(t, uint16(opReply), op)
	assert.Equal(t, senderHW, gotSenderHW)
	assert.True(t, net.IP(senderIP).Equal(gotSenderIP))
	assert.Equal(t, targetHW, gotTargetHW)
	assert.True(t, net.IP(targetIP).Equal(gotTargetIP))
}

func TestEncodeSetsEthernetIPv4Constants(t *testing.T) {
	wire := make([]byte, HeaderLen)
	encode(wire, opRequest, make([]byte, 6), make([]byte, 4), make([]byte, 6), make([]byte, 4))

	assert.Equal(t, byte(0), wire[0])
	assert.Equal(t, byte(1), wire[1], "hardware type must be Ethernet (1)")
	assert.Equal(t, byte(0x08), wire[2])
	assert.Equal(t, byte(0x00), wire[3], "protocol type must be IPv4 (0x0800)")
	assert.Equal(t, byte(6), wire[4], "hardware address length is 6 for Ethernet")
	assert.Equal(t, byte(4), wire[5], "protocol address length is 4 for IPv4")
}

func TestLookupMissReturnsNotFound(t *testing.T) {
	r := &Resolver{cache: make(map[string]*cacheEntry)}
	_, ok := r.Lookup(net.ParseIP("10.0.0.1"))
	assert.False(t, ok)
}

func TestLookupReturnsResolvedEntry(t *testing.T) {
	r := &Resolver{cache: make(map[string]*cacheEntry)}
	ip := net.ParseIP("10.0.0.1")
	r.cache[ip.String()] = &cacheEntry{state: stateResolved, hwAddr: []byte{1, 2, 3, 4, 5, 6}}

	hw, ok := r.Lookup(ip)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, hw)
}
