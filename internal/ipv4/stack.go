package ipv4

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/linklayer"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/netdevice"
	"github.com/marmos91/netboot/internal/scheduler"
)

// Protocol numbers this stack demultiplexes (RFC 790).
const (
	ProtoICMP = 1
	ProtoUDP  = 17
	ProtoTCP  = 6
)

// TransportHandler is implemented by internal/transport/udp and
// internal/transport/tcp to receive demultiplexed IPv4 payloads.
type TransportHandler interface {
	Receive(buf *buffer.Buffer, iface *Interface, src, dst net.IP) error
}

// Stack is the IPv4 layer bound to a routing table and a set of
// registered transport protocol handlers. One Stack serves every
// Interface in the system (spec §5: the routing table is process-wide).
type Stack struct {
	mu       sync.Mutex
	table    *RoutingTable
	sched    *scheduler.Scheduler
	handlers map[byte]TransportHandler
	frag     map[fragKey]*fragState
	idSeq    atomic.Uint32
}

// NewStack creates a Stack bound to table, using sched for fragment
// reassembly timeouts.
func NewStack(table *RoutingTable, sched *scheduler.Scheduler) *Stack {
	return &Stack{
		table:    table,
		sched:    sched,
		handlers: make(map[byte]TransportHandler),
		frag:     make(map[fragKey]*fragState),
	}
}

// RegisterTransport installs the handler for IP protocol number proto.
func (s *Stack) RegisterTransport(proto byte, h TransportHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[proto] = h
}

// Bind registers this stack as the IPv4 EtherType handler on disp for
// frames arriving on iface.
func (s *Stack) Bind(disp *linklayer.Dispatcher, iface *Interface) {
	disp.Handle(linklayer.ProtoIPv4, func(buf *buffer.Buffer, _ *netdevice.NetDevice, _ []byte) {
		s.Receive(buf, iface)
	})
}

// Transmit builds and sends an IPv4 datagram carrying payload (already
// positioned with headroom for the IPv4 header) from iface to dst,
// routing through the table, resolving the next-hop L2 address via ARP
// (bypassed for broadcast/multicast), and framing through iface's
// link-layer dispatcher.
func (s *Stack) Transmit(iface *Interface, dst net.IP, protocol byte, payload *buffer.Buffer) error {
	nextHop, route, err := s.table.Lookup(dst)
	if err != nil {
		payload.Release()
		return err
	}

	hdr, err := payload.Push(HeaderLen)
	if err != nil {
		payload.Release()
		return err
	}
	id := uint16(s.idSeq.Add(1))
	encodeHeader(hdr, header{
		totalLen: uint16(payload.Len()),
		id:       id,
		flags:    flagDF,
		ttl:      defaultTTL,
		protocol: protocol,
		src:      iface.Addr,
		dst:      dst,
	})

	llDest, err := s.resolveL2(iface, nextHop, route)
	if err != nil {
		payload.Release()
		return err
	}

	return iface.Dispatcher.TX(payload, iface.Dev, llDest, linklayer.ProtoIPv4)
}

func (s *Stack) resolveL2(iface *Interface, nextHop net.IP, route *Route) ([]byte, error) {
	if IsBroadcast(nextHop, route) || nextHop.Equal(net.IPv4bcast) {
		return linklayer.Broadcast(), nil
	}
	if IsMulticast(nextHop) {
		return MulticastLLAddr(nextHop), nil
	}
	if iface.ARP == nil {
		return nil, errcode.New(errcode.NetUnreach, "interface %s has no ARP resolver", iface.Dev.Name)
	}
	return iface.ARP.Resolve(iface.Dispatcher, iface.Addr, nextHop)
}

// Receive handles an inbound IPv4 datagram on iface: parses the header,
// reassembles fragments (spec §4.3), applies the unicast filter, and
// demultiplexes to the registered transport handler.
func (s *Stack) Receive(buf *buffer.Buffer, iface *Interface) {
	data := buf.Bytes()
	h, payload, err := decodeHeader(data)
	if err != nil {
		buf.Release()
		return
	}

	if Checksum(data[:HeaderLen]) != 0 {
		logger.Debug("ipv4: bad header checksum", logger.PeerAddr(h.src.String()))
		buf.Release()
		return
	}

	if !s.unicastFilter(iface, h.dst) {
		buf.Release()
		return
	}

	if h.moreFragments() || h.offsetBytes() != 0 {
		reassembled, fullHdr, done := s.reassemble(h, payload)
		if !done {
			buf.Release()
			return
		}
		h = fullHdr
		buf.Release()
		buf = reassembled
	} else {
		// Strip the header, keep only payload bytes the transport sees.
		trimmed := buffer.New(0, len(payload))
		_ = trimmed.PutBytes(payload)
		buf.Release()
		buf = trimmed
	}

	s.mu.Lock()
	handler, ok := s.handlers[h.protocol]
	s.mu.Unlock()
	if !ok {
		buf.Release()
		return
	}
	if err := handler.Receive(buf, iface, h.src, h.dst); err != nil {
		logger.Debug("ipv4: transport receive error", logger.Err(err))
	}
}

// unicastFilter implements spec §4.3: drop unicast frames not addressed
// to one of the interface's own addresses, unless the interface has no
// assigned address yet (the DHCP pre-configuration case).
func (s *Stack) unicastFilter(iface *Interface, dst net.IP) bool {
	if !iface.Configured() {
		return true
	}
	if dst.Equal(net.IPv4bcast) || IsMulticast(dst) {
		return true
	}
	return iface.Owns(dst)
}

