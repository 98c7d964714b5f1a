// Package udp implements the UDP transport endpoint from spec §2:
// port-demultiplexed datagrams over internal/ipv4, the transport used by
// internal/tftp and the SUN-RPC layer underlying internal/nfs.
package udp

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/ipv4"
)

// HeaderLen is the fixed 8-byte UDP header: srcPort, dstPort, length, checksum.
const HeaderLen = 8

// Handler receives datagrams delivered to a bound local port.
type Handler interface {
	Receive(buf *buffer.Buffer, iface *ipv4.Interface, srcIP net.IP, srcPort uint16)
}

// Stack demultiplexes inbound UDP datagrams by destination port and
// frames/sends outbound ones. One Stack is registered once per process
// with the shared internal/ipv4.Stack (spec §5: transport endpoints are
// process-wide, keyed by port).
type Stack struct {
	mu       sync.Mutex
	ip       *ipv4.Stack
	handlers map[uint16]Handler
	nextPort uint16
}

// NewStack creates a UDP stack and registers it as ipv4's protocol 17
// handler.
func NewStack(ip *ipv4.Stack) *Stack {
	s := &Stack{ip: ip, handlers: make(map[uint16]Handler), nextPort: 49152}
	ip.RegisterTransport(ipv4.ProtoUDP, s)
	return s
}

// Bind registers h to receive datagrams addressed to localPort. Binding
// port 0 allocates an ephemeral port from the dynamic range and returns it.
func (s *Stack) Bind(localPort uint16, h Handler) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if localPort == 0 {
		for {
			localPort = s.nextPort
			s.nextPort++
			if s.nextPort == 0 {
				s.nextPort = 49152
			}
			if _, taken := s.handlers[localPort]; !taken {
				break
			}
		}
	}
	s.handlers[localPort] = h
	return localPort
}

// Unbind removes a previously bound port.
func (s *Stack) Unbind(localPort uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, localPort)
}

// Send transmits payload (positioned with headroom for the UDP+IPv4
// headers) from srcPort on iface to dst:dstPort.
func (s *Stack) Send(iface *ipv4.Interface, dst net.IP, srcPort, dstPort uint16, payload *buffer.Buffer) error {
	length := payload.Len() + HeaderLen
	hdr, err := payload.Push(HeaderLen)
	if err != nil {
		payload.Release()
		return err
	}
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(length))
	binary.BigEndian.PutUint16(hdr[6:8], 0)

	var srcArr, dstArr [4]byte
	copy(srcArr[:], iface.Addr.To4())
	copy(dstArr[:], dst.To4())
	sum := ipv4.PseudoHeader(srcArr, dstArr, ipv4.ProtoUDP, length)
	sum = ipv4.AddSum(sum, payload.Bytes())
	checksum := ipv4.FoldSum(sum)
	if checksum == 0 {
		checksum = 0xffff // 0 means "no checksum" on the wire (RFC 768)
	}
	binary.BigEndian.PutUint16(hdr[6:8], checksum)

	return s.ip.Transmit(iface, dst, ipv4.ProtoUDP, payload)
}

// Receive implements ipv4.TransportHandler: parses the UDP header and
// dispatches to the handler bound on the destination port.
func (s *Stack) Receive(buf *buffer.Buffer, iface *ipv4.Interface, src, dst net.IP) error {
	data := buf.Bytes()
	if len(data) < HeaderLen {
		buf.Release()
		return errcode.New(errcode.InvalidArg, "udp: short datagram, %d bytes", len(data))
	}
	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])

	s.mu.Lock()
	h, ok := s.handlers[dstPort]
	s.mu.Unlock()

	if _, err := buf.Pull(HeaderLen); err != nil {
		buf.Release()
		return err
	}
	if !ok {
		buf.Release()
		return nil
	}
	h.Receive(buf, iface, src, srcPort)
	return nil
}
