// Package netdevice implements the NetDevice abstraction: a driver-agnostic
// link-layer device with an open/close lifecycle, a transmit queue with
// completion notification, polled receive, link-state tracking, and a
// per-device Settings scope.
//
// Driver implementations (see internal/netdevice/loopback for the leaf
// reference driver) implement the Driver interface; NetDevice itself
// owns the queues, refcounting, and state machine shared by every
// driver, separating protocol/dispatch plumbing from the leaf
// operations a concrete driver implements.
package netdevice

import (
	"sync"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/settings"
)

// LinkState is the device's link-layer connectivity state machine.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkDownButEnabled
	LinkUp
	LinkBlocked
)

func (s LinkState) String() string {
	switch s {
	case LinkDown:
		return "down"
	case LinkDownButEnabled:
		return "down-but-enabled"
	case LinkUp:
		return "up"
	case LinkBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Driver is the leaf capability set a concrete NIC implementation must
// provide. open/close/transmit/poll/irq map directly onto spec §4.1.
type Driver interface {
	// Open allocates hardware resources. Idempotent while open.
	Open() error
	// Close drains hardware resources. Never fails.
	Close()
	// DriverTransmit hands a single Buffer to the hardware for
	// transmission. The driver must eventually call TxComplete exactly
	// once for this buffer via the NetDevice it was given at construction.
	DriverTransmit(buf *buffer.Buffer) error
	// Poll is invoked once per scheduler iteration; must return promptly.
	Poll()
	// IRQ optionally enables/disables hardware-interrupt mode. Drivers
	// that only support polling implement this as a no-op.
	IRQ(enable bool)
}

// ProtocolHandler receives demultiplexed frames for one link-layer
// protocol ID (spec §4.1 "Multi-protocol demultiplex").
type ProtocolHandler interface {
	Receive(buf *buffer.Buffer, dev *NetDevice, llDest, llSource []byte, flags int) error
}

// txEntry pairs an in-flight TX buffer with its completion bookkeeping.
type txEntry struct {
	buf *buffer.Buffer
}

// NetDevice is the driver-agnostic device handle shared by every layer
// above the driver.
type NetDevice struct {
	mu sync.Mutex

	Name        string
	ScopeID     string
	HWAddr      []byte
	LLBroadcast []byte
	MaxPacket   int

	driver   Driver
	refcount int
	open     bool
	link     LinkState
	blockErr error

	txQueue []txEntry
	rxQueue []*buffer.Buffer

	Settings *settings.Block

	protocols map[uint16]ProtocolHandler

	unknownProtoDrops uint64
}

// New creates a NetDevice bound to driver, registering a child Settings
// block named after the device under parent.
func New(name string, driver Driver, hwAddr, llBroadcast []byte, maxPacket int, parent *settings.Block) *NetDevice {
	return &NetDevice{
		Name:        name,
		HWAddr:      hwAddr,
		LLBroadcast: llBroadcast,
		MaxPacket:   maxPacket,
		driver:      driver,
		link:        LinkDown,
		Settings:    parent.Child(name),
		protocols:   make(map[uint16]ProtocolHandler),
		refcount:    1,
	}
}

// RegisterProtocol installs the handler invoked for frames demultiplexed
// to llProto.
func (d *NetDevice) RegisterProtocol(llProto uint16, h ProtocolHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.protocols[llProto] = h
}

// Open allocates hardware resources. Idempotent while already open.
func (d *NetDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}
	if err := d.driver.Open(); err != nil {
		return err
	}
	d.open = true
	return nil
}

// Close releases the buffers still queued for TX without reporting a
// completion for them, drops the RX queue, and closes the driver if the
// device was open. Never fails.
func (d *NetDevice) Close() {
	d.mu.Lock()
	pending := d.txQueue
	d.txQueue = nil
	d.rxQueue = nil
	wasOpen := d.open
	d.open = false
	d.mu.Unlock()

	for _, e := range pending {
		e.buf.Release()
	}
	if wasOpen {
		d.driver.Close()
	}
	logger.Debug("netdevice closed", logger.NetDevice(d.Name))
}

// Transmit appends buf to the TX queue. Caller retains no reference to
// buf after this call (ownership transfer, per spec §3). If the link is
// down, the buffer is not sent to hardware; policy here is to fail
// synchronously with NetUnreach rather than silently queue forever.
func (d *NetDevice) Transmit(buf *buffer.Buffer) error {
	d.mu.Lock()
	state := d.link
	d.mu.Unlock()

	if state == LinkDown || state == LinkBlocked {
		buf.Release()
		return errcode.New(errcode.NetUnreach, "netdevice %s: link %s", d.Name, state)
	}

	d.mu.Lock()
	d.txQueue = append(d.txQueue, txEntry{buf: buf})
	d.mu.Unlock()

	if err := d.driver.DriverTransmit(buf); err != nil {
		d.TxComplete(buf, err)
		return err
	}
	return nil
}

// TxComplete is called by the driver exactly once per enqueued TX buffer
// once hardware has consumed it (successfully or not).
func (d *NetDevice) TxComplete(buf *buffer.Buffer, txErr error) {
	d.mu.Lock()
	for i, e := range d.txQueue {
		if e.buf == buf {
			d.txQueue = append(d.txQueue[:i], d.txQueue[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	buf.Release()
	if txErr != nil {
		logger.Debug("tx completed with error", logger.NetDevice(d.Name), logger.Err(txErr))
	}
}

// RX is called by the driver to push a received frame up the stack. It
// demultiplexes by link-layer protocol ID and invokes the registered
// handler; unknown protocols free the buffer and bump a counter.
func (d *NetDevice) RX(buf *buffer.Buffer, llProto uint16, llDest, llSource []byte, flags int) {
	d.mu.Lock()
	h, ok := d.protocols[llProto]
	d.mu.Unlock()

	if !ok {
		d.mu.Lock()
		d.unknownProtoDrops++
		d.mu.Unlock()
		buf.Release()
		return
	}

	if err := h.Receive(buf, d, llDest, llSource, flags); err != nil {
		logger.Debug("protocol receive error", logger.NetDevice(d.Name), logger.Err(err))
	}
}

// Poll delegates to the driver. Called by the scheduler once per
// iteration.
func (d *NetDevice) Poll() {
	d.driver.Poll()
}

// LinkUp transitions the device to the up state (driver-initiated).
func (d *NetDevice) LinkUp() {
	d.mu.Lock()
	d.link = LinkUp
	d.blockErr = nil
	d.mu.Unlock()
	logger.Info("link up", logger.NetDevice(d.Name))
}

// LinkDownEvent transitions the device to the down state.
func (d *NetDevice) LinkDownEvent() {
	d.mu.Lock()
	d.link = LinkDown
	d.mu.Unlock()
	logger.Info("link down", logger.NetDevice(d.Name))
}

// LinkErr transitions the device to blocked with the given reason.
func (d *NetDevice) LinkErr(reason error) {
	d.mu.Lock()
	d.link = LinkBlocked
	d.blockErr = reason
	d.mu.Unlock()
	logger.Warn("link blocked", logger.NetDevice(d.Name), logger.Err(reason))
}

// Link returns the current link state.
func (d *NetDevice) Link() LinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.link
}

// IsOpen reports whether the device is currently open.
func (d *NetDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Get/Put implement reference counting so the device is not released
// while in-flight operations hold a (owning-container-ID, key) style
// back-reference, per spec §9.
func (d *NetDevice) Get() { d.mu.Lock(); d.refcount++; d.mu.Unlock() }

func (d *NetDevice) Put() {
	d.mu.Lock()
	d.refcount--
	d.mu.Unlock()
}

// Refcount returns the current reference count, for tests/diagnostics.
func (d *NetDevice) Refcount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refcount
}

// UnknownProtocolDrops returns the running count of frames dropped for
// lacking a registered handler.
func (d *NetDevice) UnknownProtocolDrops() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unknownProtoDrops
}
