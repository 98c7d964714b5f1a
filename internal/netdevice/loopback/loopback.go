// Package loopback implements a leaf NetDevice driver that delivers every
// transmitted frame straight back to its own RX path, for local testing
// and for the link-local boot fallback path when no physical NIC probes
// successfully.
//
// Structurally this is one small struct implementing the capability
// interface (here netdevice.Driver) with no knowledge of anything
// above it, the same shape as any single concrete backend wired
// behind a common adapter interface.
package loopback

import (
	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/netdevice"
)

// Driver is a software-only NetDevice driver: every buffer handed to
// DriverTransmit is immediately looped back into dev.RX with the same
// link-layer addressing, tagged with Protocol (the caller registers a
// handler for that protocol ID to receive the looped-back frames).
type Driver struct {
	dev *netdevice.NetDevice
}

// New constructs a loopback driver. Bind must be called before Open.
func New() *Driver {
	return &Driver{}
}

// Bind associates the driver with the NetDevice that owns it. Required
// because the driver needs to call back into RX on transmit.
func (d *Driver) Bind(dev *netdevice.NetDevice) {
	d.dev = dev
}

// Open brings the loopback link up immediately; there is no real
// hardware to probe.
func (d *Driver) Open() error {
	d.dev.LinkUp()
	return nil
}

// Close tears the link back down.
func (d *Driver) Close() {
	d.dev.LinkDownEvent()
}

// DriverTransmit loops the frame back to RX using the device's own
// hardware address as both source and destination, then completes the
// TX immediately.
func (d *Driver) DriverTransmit(buf *buffer.Buffer) error {
	looped := buf.Clone()
	d.dev.RX(looped, Protocol, d.dev.HWAddr, d.dev.HWAddr, 0)
	d.dev.TxComplete(buf, nil)
	return nil
}

// Poll is a no-op: loopback has no hardware to drain.
func (d *Driver) Poll() {}

// IRQ is a no-op: loopback never raises interrupts.
func (d *Driver) IRQ(enable bool) {}

// Protocol is an unreserved link-layer protocol ID used to tag frames
// looped through this driver; callers register an
// netdevice.ProtocolHandler against it to receive everything they send.
// A caller running a real link-layer/IPv4 stack over this driver
// registers its linklayer.Dispatcher here so the Ethernet header's own
// EtherType field (carried inside the frame, untouched by the loopback)
// still demultiplexes correctly one layer up.
const Protocol = 0xffff
