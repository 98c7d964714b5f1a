// Package linklayer implements Ethernet II framing (and the IPoIB thin
// header used over InfiniBand-class devices) on top of internal/netdevice:
// push/pull the fixed-size link-layer header, demultiplex by EtherType,
// and resolve broadcast/unicast transmission addressing for the layers
// above (internal/arp, internal/ipv4).
package linklayer

import (
	"encoding/binary"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/netdevice"
)

// EtherType values this module cares about; handlers for other types can
// be registered with Dispatcher.Handle, and frames of unregistered types
// are dropped.
const (
	ProtoIPv4 uint16 = 0x0800
	ProtoARP  uint16 = 0x0806
)

// HeaderLen is the fixed Ethernet II header size: dest(6) + src(6) + type(2).
const HeaderLen = 14

// ipoibHeaderLen is the IPoIB "thin" link-layer header: a 4-byte
// pseudo-header carrying only the EtherType-equivalent protocol field,
// used by devices whose hardware address does not fit an Ethernet frame.
const ipoibHeaderLen = 4

var broadcastAddr = []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Framer pushes/pulls the link-layer header for one addressing mode.
// NetDevice selects which Framer to bind based on its hardware type;
// internal/netdevice/loopback and Ethernet NICs use EthernetFramer.
type Framer interface {
	// HeaderLen returns the fixed header size this framer pushes.
	HeaderLen() int
	// Push prepends the header for a frame destined to llDest with the
	// given EtherType, reading the device's own hardware address as source.
	Push(buf *buffer.Buffer, dev *netdevice.NetDevice, llDest []byte, ethertype uint16) error
	// Pull strips the header and reports the decoded destination, source,
	// and EtherType so the caller can demultiplex.
	Pull(buf *buffer.Buffer) (llDest, llSource []byte, ethertype uint16, err error)
}

// EthernetFramer implements the classic 14-byte Ethernet II header.
type EthernetFramer struct{}

func (EthernetFramer) HeaderLen() int { return HeaderLen }

func (EthernetFramer) Push(buf *buffer.Buffer, dev *netdevice.NetDevice, llDest []byte, ethertype uint16) error {
	hdr, err := buf.Push(HeaderLen)
	if err != nil {
		return err
	}
	if len(llDest) != 6 {
		return errcode.New(errcode.InvalidArg, "ethernet dest address must be 6 bytes, got %d", len(llDest))
	}
	copy(hdr[0:6], llDest)
	copy(hdr[6:12], dev.HWAddr)
	binary.BigEndian.PutUint16(hdr[12:14], ethertype)
	return nil
}

func (EthernetFramer) Pull(buf *buffer.Buffer) (llDest, llSource []byte, ethertype uint16, err error) {
	hdr, err := buf.Pull(HeaderLen)
	if err != nil {
		return nil, nil, 0, err
	}
	llDest = append([]byte(nil), hdr[0:6]...)
	llSource = append([]byte(nil), hdr[6:12]...)
	ethertype = binary.BigEndian.Uint16(hdr[12:14])
	return llDest, llSource, ethertype, nil
}

// IPoIBFramer implements the 4-byte IPoIB thin header: a 2-byte protocol
// field matching Ethernet's EtherType plus 2 reserved bytes, with no
// link-layer addressing carried in-band (InfiniBand resolves addressing
// via its own queue-pair/GID mechanism, out of scope here).
type IPoIBFramer struct{}

func (IPoIBFramer) HeaderLen() int { return ipoibHeaderLen }

func (IPoIBFramer) Push(buf *buffer.Buffer, dev *netdevice.NetDevice, llDest []byte, ethertype uint16) error {
	hdr, err := buf.Push(ipoibHeaderLen)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(hdr[0:2], ethertype)
	hdr[2] = 0
	hdr[3] = 0
	return nil
}

func (IPoIBFramer) Pull(buf *buffer.Buffer) (llDest, llSource []byte, ethertype uint16, err error) {
	hdr, err := buf.Pull(ipoibHeaderLen)
	if err != nil {
		return nil, nil, 0, err
	}
	ethertype = binary.BigEndian.Uint16(hdr[0:2])
	return nil, nil, ethertype, nil
}

// Broadcast returns the link-layer broadcast address for Ethernet-class
// framers. IPoIB has no equivalent flat broadcast address at this layer.
func Broadcast() []byte {
	return append([]byte(nil), broadcastAddr...)
}

// Dispatcher combines a Framer with a set of EtherType handlers: RX
// strips the link-layer header and hands the frame to the handler for
// its EtherType, TX pushes the header and transmits. It does not itself
// implement netdevice.ProtocolHandler; callers register a small adapter
// around it with the device's protocol demux (NetDevice.RegisterProtocol).
type Dispatcher struct {
	framer   Framer
	handlers map[uint16]func(buf *buffer.Buffer, dev *netdevice.NetDevice, llSource []byte)
}

// NewDispatcher creates a link-layer dispatcher using framer for header
// framing.
func NewDispatcher(framer Framer) *Dispatcher {
	return &Dispatcher{
		framer:   framer,
		handlers: make(map[uint16]func(buf *buffer.Buffer, dev *netdevice.NetDevice, llSource []byte)),
	}
}

// Handle registers the callback invoked for frames decoded with the
// given EtherType.
func (d *Dispatcher) Handle(ethertype uint16, fn func(buf *buffer.Buffer, dev *netdevice.NetDevice, llSource []byte)) {
	d.handlers[ethertype] = fn
}

// RX strips the link-layer header from buf and dispatches to the
// registered handler for its EtherType. Unregistered types are dropped.
func (d *Dispatcher) RX(buf *buffer.Buffer, dev *netdevice.NetDevice) {
	_, llSource, ethertype, err := d.framer.Pull(buf)
	if err != nil {
		buf.Release()
		return
	}
	fn, ok := d.handlers[ethertype]
	if !ok {
		buf.Release()
		return
	}
	fn(buf, dev, llSource)
}

// TX pushes the link-layer header for an outbound frame destined to
// llDest with the given EtherType and hands it to the device for
// transmission.
func (d *Dispatcher) TX(buf *buffer.Buffer, dev *netdevice.NetDevice, llDest []byte, ethertype uint16) error {
	if err := d.framer.Push(buf, dev, llDest, ethertype); err != nil {
		return err
	}
	return dev.Transmit(buf)
}
