// Package tcp implements the TCP transport endpoint from spec §2: an
// ordered byte pipe over internal/ipv4, used by internal/httpclient
// (internal/nfs uses UDP only). Scoped to this firmware's boot-time needs (small,
// sequential request/response transfers over a single path) rather than
// a full RFC 793 stack: one segment is ever in flight unacknowledged at
// a time (stop-and-wait), retransmitted via internal/retry on timeout.
// There is no congestion window, no SACK, and no simultaneous-open —
// every connection here is an active client open, which is all a PXE
// download pipeline ever initiates.
package tcp

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/ipv4"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/retry"
	"github.com/marmos91/netboot/internal/scheduler"
)

// HeaderLen is the fixed 20-byte TCP header with no options.
const HeaderLen = 20

const (
	flagFIN = 1 << 0
	flagSYN = 1 << 1
	flagRST = 1 << 2
	flagPSH = 1 << 3
	flagACK = 1 << 4
)

// State is the connection's state machine position.
type State int

const (
	StateClosed State = iota
	StateSynSent
	StateEstablished
	StateFinWait
	StateClosing
	StateTimeWait
)

// Stack demultiplexes inbound TCP segments by (local port) and owns the
// set of live connections, registered once with the shared ipv4.Stack.
type Stack struct {
	mu       sync.Mutex
	ip       *ipv4.Stack
	sched    *scheduler.Scheduler
	conns    map[uint16]*Conn
	nextPort uint16
}

// NewStack creates a TCP stack bound to ip for transmit/receive and
// sched for retransmit timers.
func NewStack(ip *ipv4.Stack, sched *scheduler.Scheduler) *Stack {
	s := &Stack{ip: ip, sched: sched, conns: make(map[uint16]*Conn), nextPort: 49152}
	ip.RegisterTransport(ipv4.ProtoTCP, s)
	return s
}

func (s *Stack) allocPort() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		p := s.nextPort
		s.nextPort++
		if s.nextPort == 0 {
			s.nextPort = 49152
		}
		if _, taken := s.conns[p]; !taken {
			return p
		}
	}
}

// Dial opens an active TCP connection to dst:dstPort from iface. Returns
// once the three-way handshake completes or fails.
func (s *Stack) Dial(iface *ipv4.Interface, dst net.IP, dstPort uint16) (*Conn, error) {
	localPort := s.allocPort()
	c := &Conn{
		stack:     s,
		iface:     iface,
		peer:      dst,
		peerPort:  dstPort,
		localPort: localPort,
		state:     StateClosed,
		sendNext:  0x1000, // arbitrary fixed ISN; no real-world adversary model here
		established: make(chan error, 1),
		readReady:   make(chan struct{}, 1),
		timer:       retry.NewDefault(time.Now),
	}
	s.mu.Lock()
	s.conns[localPort] = c
	s.mu.Unlock()

	s.sched.AddProcess(c)

	if err := c.sendSegment(flagSYN, nil); err != nil {
		return nil, err
	}
	c.state = StateSynSent
	c.timer.Start(retry.DefaultInitialDelay)

	if err := <-c.established; err != nil {
		s.mu.Lock()
		delete(s.conns, localPort)
		s.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Receive implements ipv4.TransportHandler.
func (s *Stack) Receive(buf *buffer.Buffer, iface *ipv4.Interface, src, dst net.IP) error {
	data := buf.Bytes()
	if len(data) < HeaderLen {
		buf.Release()
		return errcode.New(errcode.InvalidArg, "tcp: short segment")
	}
	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])
	seq := binary.BigEndian.Uint32(data[4:8])
	ack := binary.BigEndian.Uint32(data[8:12])
	dataOffset := int(data[12]>>4) * 4
	flags := data[13]
	window := binary.BigEndian.Uint16(data[14:16])
	_ = window
	_ = srcPort

	s.mu.Lock()
	c, ok := s.conns[dstPort]
	s.mu.Unlock()
	if !ok {
		buf.Release()
		return nil
	}

	var payload []byte
	if dataOffset < len(data) {
		payload = data[dataOffset:]
	}
	c.handleSegment(seq, ack, flags, payload)
	buf.Release()
	return nil
}

func (s *Stack) unregister(port uint16) {
	s.mu.Lock()
	delete(s.conns, port)
	s.mu.Unlock()
}

// Conn is one TCP connection: a single send-window stop-and-wait pipe
// plus a strictly-ordered receive queue.
type Conn struct {
	mu sync.Mutex

	stack     *Stack
	iface     *ipv4.Interface
	peer      net.IP
	peerPort  uint16
	localPort uint16

	state State

	sendNext  uint32 // next sequence number we will send
	sendUnack uint32 // oldest unacknowledged sequence number
	pending   []byte // unacknowledged outbound bytes, for retransmit

	recvNext uint32 // next expected sequence number from peer
	recvBuf  []byte // ordered, delivered-but-unread bytes

	established chan error
	readReady   chan struct{}
	timer       *retry.Timer

	peerFin bool
	closed  bool
}

// LocalPort returns the ephemeral port this connection is bound to.
func (c *Conn) LocalPort() uint16 { return c.localPort }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) sendSegment(flags byte, payload []byte) error {
	buf := buffer.New(linkHeadroom, HeaderLen+len(payload))
	hdr, err := buf.Put(HeaderLen)
	if err != nil {
		buf.Release()
		return err
	}
	if len(payload) > 0 {
		if err := buf.PutBytes(payload); err != nil {
			buf.Release()
			return err
		}
	}

	seq := c.sendNext
	ackNum := uint32(0)
	if flags&flagACK != 0 {
		ackNum = c.recvNext
	}
	binary.BigEndian.PutUint16(hdr[0:2], c.localPort)
	binary.BigEndian.PutUint16(hdr[2:4], c.peerPort)
	binary.BigEndian.PutUint32(hdr[4:8], seq)
	binary.BigEndian.PutUint32(hdr[8:12], ackNum)
	hdr[12] = (HeaderLen / 4) << 4
	hdr[13] = flags
	binary.BigEndian.PutUint16(hdr[14:16], 65535)
	binary.BigEndian.PutUint16(hdr[16:18], 0)
	binary.BigEndian.PutUint16(hdr[18:20], 0)

	segLen := len(payload)
	if flags&(flagSYN|flagFIN) != 0 {
		segLen++
	}
	c.sendNext += uint32(segLen)

	return c.stack.ip.Transmit(c.iface, c.peer, ipv4.ProtoTCP, buf)
}

// linkHeadroom reserves space for the IPv4 and link-layer headers ahead
// of the TCP header so Transmit's Push calls never fail for lack of room.
const linkHeadroom = 14 + 20

// handleSegment processes one inbound segment. It is invoked from
// ipv4.Stack.Receive, itself driven from a NetDevice's poll, so this runs
// on the single poll-loop thread — no locking hazard beyond defensive
// consistency with Conn's public API being callable from the same thread.
func (c *Conn) handleSegment(seq, ack uint32, flags byte, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateSynSent:
		if flags&flagSYN != 0 && flags&flagACK != 0 && ack == c.sendNext {
			c.recvNext = seq + 1
			c.sendUnack = ack
			c.state = StateEstablished
			c.timer.Stop()
			_ = c.sendLocked(flagACK, nil)
			select {
			case c.established <- nil:
			default:
			}
		}
		return
	case StateEstablished, StateFinWait, StateClosing:
		if flags&flagACK != 0 && ack > c.sendUnack {
			acked := ack - c.sendUnack
			if int(acked) <= len(c.pending) {
				c.pending = c.pending[acked:]
			}
			c.sendUnack = ack
			if len(c.pending) == 0 {
				c.timer.Stop()
			}
		}
		if seq == c.recvNext && len(payload) > 0 {
			c.recvBuf = append(c.recvBuf, payload...)
			c.recvNext += uint32(len(payload))
			select {
			case c.readReady <- struct{}{}:
			default:
			}
			_ = c.sendLocked(flagACK, nil)
		}
		if flags&flagFIN != 0 {
			if seq+uint32(len(payload)) == c.recvNext || len(payload) == 0 {
				c.recvNext++
				c.peerFin = true
				_ = c.sendLocked(flagACK, nil)
				select {
				case c.readReady <- struct{}{}:
				default:
				}
			}
		}
	}
}

// sendLocked is sendSegment called with c.mu already held.
func (c *Conn) sendLocked(flags byte, payload []byte) error {
	c.mu.Unlock()
	err := c.sendSegment(flags, payload)
	c.mu.Lock()
	return err
}

// Write sends data over the connection, blocking (by cooperative
// re-poll, never a real OS block) until the previous unacknowledged
// segment has been acked — the stop-and-wait discipline this minimal
// TCP uses in place of a sliding window.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	if c.state != StateEstablished {
		c.mu.Unlock()
		return errcode.New(errcode.IO, "tcp: write on non-established connection")
	}
	c.pending = append([]byte(nil), data...)
	c.mu.Unlock()

	if err := c.sendSegment(flagACK|flagPSH, data); err != nil {
		return err
	}
	c.timer.Start(retry.DefaultInitialDelay)
	return nil
}

// Read returns any newly delivered, in-order bytes since the last Read
// call, and whether the peer has sent FIN (no more data will arrive).
func (c *Conn) Read() (data []byte, eof bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data = c.recvBuf
	c.recvBuf = nil
	return data, c.peerFin
}

// Run implements scheduler.Process: retransmits the in-flight SYN or
// unacknowledged data segment on RTO expiry, and keeps the connection
// registered with the scheduler until it is fully closed.
func (c *Conn) Run() bool {
	c.mu.Lock()
	state := c.state
	expired := c.timer.Expired()
	c.mu.Unlock()

	if state == StateClosed || state == StateTimeWait {
		return false
	}
	if !expired {
		return true
	}

	c.mu.Lock()
	if !c.timer.Backoff() {
		c.mu.Unlock()
		logger.Warn("tcp: retransmit ceiling reached", logger.PeerAddr(c.peer.String()))
		select {
		case c.established <- errcode.New(errcode.TimedOut, "tcp: handshake timed out"):
		default:
		}
		return false
	}
	switch state {
	case StateSynSent:
		c.sendNext -= 1
		c.mu.Unlock()
		_ = c.sendSegment(flagSYN, nil)
	case StateEstablished, StateFinWait, StateClosing:
		payload := append([]byte(nil), c.pending...)
		seq := c.sendUnack
		c.sendNext = seq
		c.mu.Unlock()
		if len(payload) > 0 {
			_ = c.sendSegment(flagACK|flagPSH, payload)
		}
	default:
		c.mu.Unlock()
	}
	return true
}

// Close initiates an active close by sending FIN.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateFinWait
	c.mu.Unlock()

	err := c.sendSegment(flagACK|flagFIN, nil)
	c.stack.unregister(c.localPort)
	return err
}
