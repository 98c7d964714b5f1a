// Package rpc implements the SUN-RPC (RFC 5531) client call/reply
// envelope used by internal/portmap and internal/nfs: call header
// construction, AUTH_SYS credential encoding, reply parsing, XID
// generation, and the retry-driven pending-call table that turns the
// request/response exchange into the single-threaded poll-loop model.
//
// This is the client-direction counterpart of a server-side SUN-RPC
// stack (which decodes a CallBody's AUTH_UNIX credential and encodes a
// reply); here the roles invert: encode the call (including our own
// AUTH_SYS credential) and decode the reply.
package rpc

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/ipv4"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/retry"
	xdrcodec "github.com/marmos91/netboot/internal/rpc/xdr"
	"github.com/marmos91/netboot/internal/transport/udp"
)

// Message type and reply status constants (RFC 5531 §9, §12).
const (
	MsgCall  uint32 = 0
	MsgReply uint32 = 1

	ReplyAccepted uint32 = 0
	ReplyDenied   uint32 = 1

	AcceptSuccess      uint32 = 0
	AcceptProgUnavail  uint32 = 1
	AcceptProgMismatch uint32 = 2
	AcceptProcUnavail  uint32 = 3
	AcceptGarbageArgs  uint32 = 4
	AcceptSystemErr    uint32 = 5

	RPCVersion2 uint32 = 2
)

// Authentication flavors used by this client (spec §4.6: "AUTH_SYS with
// machine-name, UID 0, GID 0, and no auxiliary GIDs").
const (
	AuthNoneFlavor uint32 = 0
	AuthSysFlavor  uint32 = 1
)

// Credential is an RPC auth_sys/auth_null opaque credential or verifier.
type Credential struct {
	Flavor uint32
	Body   []byte
}

// NoAuth is the AUTH_NONE credential/verifier used for portmapper calls.
var NoAuth = Credential{Flavor: AuthNoneFlavor}

// AuthSys builds an AUTH_SYS credential body per spec §4.6/§6: stamp,
// machine name, UID, GID, and an empty auxiliary GID list.
func AuthSys(machineName string, uid, gid uint32) Credential {
	buf := new(bytes.Buffer)
	_ = xdrcodec.WriteUint32(buf, uint32(time.Now().Unix()))
	_ = xdrcodec.WriteXDRString(buf, machineName)
	_ = xdrcodec.WriteUint32(buf, uid)
	_ = xdrcodec.WriteUint32(buf, gid)
	_ = xdrcodec.WriteUint32(buf, 0) // no auxiliary GIDs, per spec §4.6
	return Credential{Flavor: AuthSysFlavor, Body: buf.Bytes()}
}

// EncodeCall builds a full RPC call message: XID, msg_type=CALL, rpcvers,
// program, version, procedure, credential, verifier, followed by the
// caller's already-XDR-encoded procedure arguments.
func EncodeCall(xid, program, version, procedure uint32, cred, verf Credential, args []byte) []byte {
	buf := new(bytes.Buffer)
	_ = xdrcodec.WriteUint32(buf, xid)
	_ = xdrcodec.WriteUint32(buf, MsgCall)
	_ = xdrcodec.WriteUint32(buf, RPCVersion2)
	_ = xdrcodec.WriteUint32(buf, program)
	_ = xdrcodec.WriteUint32(buf, version)
	_ = xdrcodec.WriteUint32(buf, procedure)
	_ = xdrcodec.WriteUint32(buf, cred.Flavor)
	_ = xdrcodec.WriteXDROpaque(buf, cred.Body)
	_ = xdrcodec.WriteUint32(buf, verf.Flavor)
	_ = xdrcodec.WriteXDROpaque(buf, verf.Body)
	buf.Write(args)
	return buf.Bytes()
}

// Reply is a parsed RPC reply: the XID it answers, and, on success, the
// procedure-specific result bytes ready for the caller's own XDR decode.
type Reply struct {
	XID     uint32
	Results []byte
}

// DecodeReply parses an RPC reply message, translating RPC-level
// rejection/error statuses into the errcode taxonomy (spec §7: IO for
// generic transport/protocol failure, Permission for an auth rejection).
func DecodeReply(data []byte) (*Reply, error) {
	r := bytes.NewReader(data)
	xid, err := xdrcodec.DecodeUint32(r)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, err, "rpc: decode xid")
	}
	msgType, err := xdrcodec.DecodeUint32(r)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, err, "rpc: decode msg_type")
	}
	if msgType != MsgReply {
		return nil, errcode.New(errcode.IO, "rpc: expected REPLY, got msg_type %d", msgType)
	}

	replyStat, err := xdrcodec.DecodeUint32(r)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, err, "rpc: decode reply_stat")
	}
	if replyStat == ReplyDenied {
		return nil, errcode.New(errcode.Permission, "rpc: call rejected by server")
	}
	if replyStat != ReplyAccepted {
		return nil, errcode.New(errcode.IO, "rpc: unknown reply_stat %d", replyStat)
	}

	// verifier
	if _, err := xdrcodec.DecodeUint32(r); err != nil { // verf flavor
		return nil, errcode.Wrap(errcode.IO, err, "rpc: decode verf flavor")
	}
	if _, err := xdrcodec.DecodeOpaque(r); err != nil { // verf body
		return nil, errcode.Wrap(errcode.IO, err, "rpc: decode verf body")
	}

	acceptStat, err := xdrcodec.DecodeUint32(r)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, err, "rpc: decode accept_stat")
	}
	switch acceptStat {
	case AcceptSuccess:
		rest := make([]byte, r.Len())
		_, _ = r.Read(rest)
		return &Reply{XID: xid, Results: rest}, nil
	case AcceptProgUnavail, AcceptProgMismatch, AcceptProcUnavail:
		return nil, errcode.New(errcode.NotSupported, "rpc: accept_stat %d", acceptStat)
	case AcceptGarbageArgs, AcceptSystemErr:
		return nil, errcode.New(errcode.IO, "rpc: accept_stat %d", acceptStat)
	default:
		return nil, errcode.New(errcode.IO, "rpc: unknown accept_stat %d", acceptStat)
	}
}

// XIDGenerator issues one monotonically increasing transaction ID per
// RPC call (spec §4.6).
type XIDGenerator struct {
	mu   sync.Mutex
	next uint32
}

// NewXIDGenerator seeds the generator from the current time so XIDs
// don't collide across process restarts against the same server.
func NewXIDGenerator() *XIDGenerator {
	return &XIDGenerator{next: uint32(time.Now().UnixNano())}
}

// Next returns the next XID.
func (g *XIDGenerator) Next() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.next
}

// pendingCall tracks one in-flight request awaiting a matching reply.
type pendingCall struct {
	xid     uint32
	request []byte
	timer   *retry.Timer
	onReply func(results []byte, err error)
}

// rpcHeadroom reserves space for the UDP, IPv4, and link-layer headers
// ahead of an RPC message so Send's Push calls never fail for lack of
// room.
const rpcHeadroom = 8 + 20 + 14

// Client drives SUN-RPC calls to a single (server, port) pair over UDP,
// matching replies by XID and retransmitting on timeout via
// internal/retry — the same retry discipline spec §4.4/§4.6 requires of
// TFTP and the NFS client.
type Client struct {
	mu      sync.Mutex
	udp     *udp.Stack
	iface   *ipv4.Interface
	server  net.IP
	port    uint16
	local   uint16
	xids    *XIDGenerator
	pending map[uint32]*pendingCall
}

// NewClient creates an RPC client bound to server:port, allocating an
// ephemeral local UDP port to receive replies on.
func NewClient(udpStack *udp.Stack, iface *ipv4.Interface, server net.IP, port uint16) *Client {
	c := &Client{
		udp:     udpStack,
		iface:   iface,
		server:  server,
		port:    port,
		xids:    NewXIDGenerator(),
		pending: make(map[uint32]*pendingCall),
	}
	c.local = udpStack.Bind(0, c)
	return c
}

// Rebind retargets this client at a new server port, used when the
// portmapper answers with the real MOUNT or NFS service port (spec
// §4.6's portmap state machine).
func (c *Client) Rebind(server net.IP, port uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = server
	c.port = port
}

// Call sends an RPC call and arranges for onReply to be invoked with the
// decoded result bytes (or an error) once a matching reply arrives, or
// once retries are exhausted (errcode.TimedOut). Never blocks: this is
// the poll-loop model, re-driven by Run().
func (c *Client) Call(program, version, procedure uint32, cred Credential, args []byte, onReply func(results []byte, err error)) {
	xid := c.xids.Next()
	req := EncodeCall(xid, program, version, procedure, cred, NoAuth, args)

	pc := &pendingCall{
		xid:     xid,
		request: req,
		timer:   retry.NewDefault(time.Now),
		onReply: onReply,
	}
	c.mu.Lock()
	c.pending[xid] = pc
	c.mu.Unlock()

	pc.timer.Start(retry.DefaultInitialDelay)
	c.send(req)
}

func (c *Client) send(req []byte) {
	buf := buffer.New(rpcHeadroom, len(req))
	if err := buf.PutBytes(req); err != nil {
		buf.Release()
		logger.Debug("rpc: build datagram failed", logger.PeerAddr(c.server.String()), logger.Err(err))
		return
	}
	if err := c.udp.Send(c.iface, c.server, c.local, c.port, buf); err != nil {
		logger.Debug("rpc: send failed", logger.PeerAddr(c.server.String()), logger.Err(err))
	}
}

// Receive implements udp.Handler.
func (c *Client) Receive(buf *buffer.Buffer, _ *ipv4.Interface, src net.IP, _ uint16) {
	data := append([]byte(nil), buf.Bytes()...)
	buf.Release()

	reply, err := DecodeReply(data)
	if err != nil {
		logger.Debug("rpc: bad reply", logger.PeerAddr(src.String()), logger.Err(err))
		return
	}

	c.mu.Lock()
	pc, ok := c.pending[reply.XID]
	if ok {
		delete(c.pending, reply.XID)
	}
	c.mu.Unlock()
	if !ok {
		return // stale/duplicate reply, no longer awaited
	}
	pc.timer.Stop()
	pc.onReply(reply.Results, nil)
}

// Run implements scheduler.Process: retransmits any pending call whose
// retry timer has expired, and fails it with TimedOut once the retry
// ceiling is reached.
func (c *Client) Run() bool {
	c.mu.Lock()
	expired := make([]*pendingCall, 0)
	for _, pc := range c.pending {
		if pc.timer.Expired() {
			expired = append(expired, pc)
		}
	}
	c.mu.Unlock()

	for _, pc := range expired {
		if !pc.timer.Backoff() {
			c.mu.Lock()
			delete(c.pending, pc.xid)
			c.mu.Unlock()
			pc.onReply(nil, errcode.New(errcode.TimedOut, "rpc: call xid=%d timed out", pc.xid))
			continue
		}
		c.send(pc.request)
	}

	c.mu.Lock()
	remaining := len(c.pending)
	c.mu.Unlock()
	return remaining >= 0 // always stays registered; a Client is long-lived
}

var _ fmt.Stringer = (*Client)(nil)

func (c *Client) String() string {
	return fmt.Sprintf("rpc.Client{server=%s:%d}", c.server, c.port)
}
