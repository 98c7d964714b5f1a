// Package portmap implements the client side of the portmapper (portmap
// v2, RFC 1057 Section A): the single GETPORT call this firmware needs
// to resolve the MOUNT and NFS service ports advertised by a boot
// server before it can speak MOUNT or NFS proper (spec §4.6's portmap
// state machine).
package portmap

import (
	"bytes"
	"net"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/ipv4"
	"github.com/marmos91/netboot/internal/rpc"
	xdrcodec "github.com/marmos91/netboot/internal/rpc/xdr"
	"github.com/marmos91/netboot/internal/transport/udp"
)

// Program, version, procedure, and protocol-field constants (RFC 1057
// Section A).
const (
	Program uint32 = 100000
	Version uint32 = 2

	ProcNull    uint32 = 0
	ProcGetport uint32 = 3

	ProtoTCP uint32 = 6
	ProtoUDP uint32 = 17

	// Port is the well-known portmapper service port.
	Port uint16 = 111
)

// Mapping is the (program, version, protocol) tuple a GETPORT call
// resolves to a port number.
type Mapping struct {
	Program  uint32
	Version  uint32
	Protocol uint32
}

// encodeMapping XDR-encodes a Mapping: four fixed uint32 fields, no
// length prefix, matching the 16-byte wire struct RFC 1057 defines.
func encodeMapping(m Mapping, port uint32) []byte {
	buf := new(bytes.Buffer)
	_ = xdrcodec.WriteUint32(buf, m.Program)
	_ = xdrcodec.WriteUint32(buf, m.Version)
	_ = xdrcodec.WriteUint32(buf, m.Protocol)
	_ = xdrcodec.WriteUint32(buf, port)
	return buf.Bytes()
}

// Client resolves service ports from a portmapper listening at a fixed
// address, built on top of an internal/rpc.Client bound to port 111.
type Client struct {
	rpc *rpc.Client
}

// NewClient dials a portmapper client at server:111 over udpStack.
func NewClient(udpStack *udp.Stack, iface *ipv4.Interface, server net.IP) *Client {
	return &Client{rpc: rpc.NewClient(udpStack, iface, server, Port)}
}

// GetPort issues a GETPORT call for the given program/version/protocol
// and invokes onResult with the resolved port (0 if the program is not
// registered, per RFC 1057) or an error.
func (c *Client) GetPort(m Mapping, onResult func(port uint16, err error)) {
	args := encodeMapping(m, 0)
	c.rpc.Call(Program, Version, ProcGetport, rpc.NoAuth, args, func(results []byte, err error) {
		if err != nil {
			onResult(0, err)
			return
		}
		r := bytes.NewReader(results)
		port, decErr := xdrcodec.DecodeUint32(r)
		if decErr != nil {
			onResult(0, errcode.Wrap(errcode.IO, decErr, "portmap: decode getport reply"))
			return
		}
		if port == 0 {
			onResult(0, errcode.New(errcode.NoEntry, "portmap: program %d version %d not registered", m.Program, m.Version))
			return
		}
		onResult(uint16(port), nil)
	})
}

// Run implements scheduler.Process by delegating to the underlying RPC
// client's retransmit-driven pending-call table.
func (c *Client) Run() bool {
	return c.rpc.Run()
}
