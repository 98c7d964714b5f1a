// Package tftp implements the TFTP (RFC 1350) client state machine this
// firmware uses as one of the URI schemes internal/uri dispatches boot
// image fetches to, with the blksize (RFC 2348) and tsize (RFC 2349)
// option extensions negotiated per spec §4.4. A session walks
// initial -> sent-rrq -> (option-ack-expected | receiving) -> final-ack-sent
// -> done, or error at any point, driven entirely by internal/retry and
// re-poll: no step ever blocks.
package tftp

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/ipv4"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/retry"
	"github.com/marmos91/netboot/internal/transport/udp"
	"github.com/marmos91/netboot/internal/xfer"
)

// Opcodes (RFC 1350 §5).
const (
	OpRRQ   uint16 = 1
	OpWRQ   uint16 = 2
	OpData  uint16 = 3
	OpAck   uint16 = 4
	OpError uint16 = 5
	OpOACK  uint16 = 6
)

// ServerPort is the well-known TFTP listener port; real transfers move
// to a per-session ephemeral port (the TID) after the first reply.
const ServerPort uint16 = 69

// DefaultBlksize is the block size this client requests via the RFC
// 2348 "blksize" option; 1468 keeps a full DATA packet (4-byte header +
// blksize payload) under a standard 1500-byte Ethernet MTU after
// UDP/IPv4 framing.
const DefaultBlksize = 1468

// MinBlksize/MaxBlksize bound what RFC 2348 permits and what this client
// negotiates down to if the server proposes something outside the
// range.
const (
	MinBlksize = 8
	MaxBlksize = 65464
)

// State is a Session's position in the TFTP handshake.
type State int

const (
	StateInitial State = iota
	StateSentRRQ
	StateOptionAckExpected
	StateReceiving
	StateFinalAckSent
	StateDone
	StateError
)

// Client issues TFTP read requests against one server, using udpStack
// for transport.
type Client struct {
	udp    *udp.Stack
	iface  *ipv4.Interface
	server net.IP
}

// NewClient builds a TFTP client targeting server.
func NewClient(udpStack *udp.Stack, iface *ipv4.Interface, server net.IP) *Client {
	return &Client{udp: udpStack, iface: iface, server: server}
}

// Get starts a read request for filename, delivering data to sink as it
// arrives. Returns the Session immediately (non-blocking); the transfer
// progresses as the session's Receive is driven by inbound datagrams and
// its Run by the scheduler's retry-timer poll.
//
// A blksize of 0 means "caller has no preference", and requests
// DefaultBlksize. Any other value outside [MinBlksize, MaxBlksize] is
// rejected with errcode.InvalidArg (spec §8: "blksize option = 8 must
// succeed; blksize = 1 must fail") rather than silently raised or
// lowered into range — only the OACK a server offers back is clamped
// (see handleOACK), since that is the server's own negotiation, not a
// malformed request this client made itself.
func (c *Client) Get(filename string, blksize int, sink xfer.Sink) (*Session, error) {
	if blksize == 0 {
		blksize = DefaultBlksize
	} else if blksize < MinBlksize || blksize > MaxBlksize {
		return nil, errcode.New(errcode.InvalidArg, "tftp: blksize %d outside [%d, %d]", blksize, MinBlksize, MaxBlksize)
	}

	s := &Session{
		udp:           c.udp,
		iface:         c.iface,
		server:        c.server,
		serverPort:    ServerPort,
		sink:          sink,
		requestedSize: blksize,
		blksize:       DefaultBlksize, // until OACK/first DATA confirms negotiation
		timer:         retry.NewDefault(time.Now),
	}
	s.localPort = c.udp.Bind(0, s)
	s.sendRRQ(filename)
	s.state = StateSentRRQ
	s.timer.Start(retry.DefaultInitialDelay)
	return s, nil
}

// Session is one in-flight TFTP transfer.
type Session struct {
	mu sync.Mutex

	udp        *udp.Stack
	iface      *ipv4.Interface
	server     net.IP
	serverPort uint16
	localPort  uint16
	tidLocked  bool

	sink xfer.Sink

	state         State
	requestedSize int
	blksize       int
	nextBlock     uint16
	lastSent      []byte

	timer *retry.Timer
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) sendRRQ(filename string) {
	buf := new(bytes.Buffer)
	writeUint16(buf, OpRRQ)
	buf.WriteString(filename)
	buf.WriteByte(0)
	buf.WriteString("octet")
	buf.WriteByte(0)
	buf.WriteString("blksize")
	buf.WriteByte(0)
	buf.WriteString(itoa(s.requestedSize))
	buf.WriteByte(0)
	buf.WriteString("tsize")
	buf.WriteByte(0)
	buf.WriteString("0")
	buf.WriteByte(0)
	s.send(buf.Bytes())
}

func (s *Session) sendAck(block uint16) {
	buf := new(bytes.Buffer)
	writeUint16(buf, OpAck)
	writeUint16(buf, block)
	s.send(buf.Bytes())
}

func (s *Session) send(wire []byte) {
	s.lastSent = append([]byte(nil), wire...)
	buf := buffer.New(udpHeadroom, len(wire))
	if err := buf.PutBytes(wire); err != nil {
		buf.Release()
		logger.Debug("tftp: build datagram failed", logger.Err(err))
		return
	}
	dstPort := s.serverPort
	if err := s.udp.Send(s.iface, s.server, s.localPort, dstPort, buf); err != nil {
		logger.Debug("tftp: send failed", logger.PeerAddr(s.server.String()), logger.Err(err))
	}
}

// udpHeadroom reserves space for UDP+IPv4+link headers ahead of a TFTP
// message.
const udpHeadroom = 8 + 20 + 14

// Receive implements udp.Handler.
func (s *Session) Receive(buf *buffer.Buffer, _ *ipv4.Interface, _ net.IP, srcPort uint16) {
	data := append([]byte(nil), buf.Bytes()...)
	buf.Release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDone || s.state == StateError {
		return
	}

	// The first reply datagram fixes the transfer ID (RFC 1350 §4): all
	// further packets must come from that same server port.
	if !s.tidLocked {
		s.serverPort = srcPort
		s.tidLocked = true
	} else if srcPort != s.serverPort {
		return // not from our negotiated TID, ignore
	}

	if len(data) < 2 {
		return
	}
	opcode := binary.BigEndian.Uint16(data[0:2])
	switch opcode {
	case OpOACK:
		s.handleOACK(data[2:])
	case OpData:
		s.handleData(data[2:])
	case OpError:
		s.handleError(data[2:])
	}
}

func (s *Session) handleOACK(body []byte) {
	if s.state != StateSentRRQ {
		return
	}
	opts := parseOptions(body)
	if v, ok := opts["blksize"]; ok {
		if n, ok := atoi(v); ok {
			if n < MinBlksize {
				n = MinBlksize
			} else if n > MaxBlksize {
				n = MaxBlksize
			}
			s.blksize = n
		}
	}
	s.state = StateOptionAckExpected
	s.timer.Stop()
	s.nextBlock = 0
	s.sendAck(0)
	s.state = StateReceiving
	s.timer.Start(retry.DefaultInitialDelay)
}

func (s *Session) handleData(body []byte) {
	if len(body) < 2 {
		return
	}
	block := binary.BigEndian.Uint16(body[0:2])
	payload := body[2:]

	// First DATA with no preceding OACK means the server ignored our
	// options entirely (a bare RFC 1350 server); fall back to the
	// default 512-byte block size semantics implied by that silence.
	if s.state == StateSentRRQ {
		s.blksize = 512
		s.state = StateReceiving
	}
	if s.state != StateReceiving && s.state != StateFinalAckSent {
		return
	}
	switch classifyBlock(block, s.nextBlock) {
	case blockDuplicate:
		// Our ACK for this block was lost in flight: re-send it
		// immediately rather than waiting out our own retry timer
		// (spec §4.4).
		s.send(s.lastSent)
		return
	case blockOutOfOrder:
		return
	}
	s.nextBlock = block
	final := len(payload) < s.blksize

	out := buffer.New(0, len(payload))
	if err := out.PutBytes(payload); err == nil {
		_ = s.sink.Deliver(out, xfer.Metadata{Offset: uint64(block-1) * uint64(s.blksize), Final: final})
	} else {
		out.Release()
	}

	s.timer.Stop()
	s.sendAck(block)
	if final {
		s.state = StateFinalAckSent
		_ = s.sink.Close(nil)
		s.state = StateDone
		return
	}
	s.timer.Start(retry.DefaultInitialDelay)
}

func (s *Session) handleError(body []byte) {
	if len(body) < 2 {
		return
	}
	code := binary.BigEndian.Uint16(body[0:2])
	msg := ""
	if nul := bytes.IndexByte(body[2:], 0); nul >= 0 {
		msg = string(body[2 : 2+nul])
	}
	s.state = StateError
	s.timer.Stop()
	_ = s.sink.Close(errcode.New(errcode.IO, "tftp: server error %d: %s", code, msg))
}

// Run implements scheduler.Process: retransmits the last sent packet
// (RRQ or ACK) on RTO expiry, failing the transfer once the retry
// ceiling is reached.
func (s *Session) Run() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDone || s.state == StateError {
		return false
	}
	if !s.timer.Expired() {
		return true
	}
	if !s.timer.Backoff() {
		s.state = StateError
		_ = s.sink.Close(errcode.New(errcode.TimedOut, "tftp: transfer timed out"))
		return false
	}
	if len(s.lastSent) > 0 {
		s.send(s.lastSent)
	}
	return true
}

// blockOutcome classifies an inbound DATA block number against the
// session's expectation, per spec §4.4: deliver the next expected
// block, re-ACK a duplicate of the last delivered block without
// advancing, or ignore anything else out of order.
type blockOutcome int

const (
	blockExpected blockOutcome = iota
	blockDuplicate
	blockOutOfOrder
)

// classifyBlock compares an inbound block number to nextBlock (the last
// block number delivered to the consumer, 0 before any DATA has
// arrived).
func classifyBlock(block, nextBlock uint16) blockOutcome {
	switch {
	case block == nextBlock+1:
		return blockExpected
	case block == nextBlock && nextBlock > 0:
		return blockDuplicate
	default:
		return blockOutOfOrder
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// parseOptions decodes the NUL-separated option-name/value pairs RFC
// 2347 appends to an OACK body.
func parseOptions(body []byte) map[string]string {
	opts := make(map[string]string)
	fields := bytes.Split(body, []byte{0})
	for i := 0; i+1 < len(fields); i += 2 {
		if len(fields[i]) == 0 {
			continue
		}
		opts[string(fields[i])] = string(fields[i+1])
	}
	return opts
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		digits[i] = '-'
	}
	return string(digits[i:])
}

func atoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
