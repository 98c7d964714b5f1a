package netdevice

import (
	"testing"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	openCalls  int
	closeCalls int
	openErr    error
	txErr      error
	sent       []*buffer.Buffer
	dev        *NetDevice
}

func (d *fakeDriver) Open() error { d.openCalls++; return d.openErr }
func (d *fakeDriver) Close()      { d.closeCalls++ }
func (d *fakeDriver) DriverTransmit(buf *buffer.Buffer) error {
	d.sent = append(d.sent, buf)
	if d.txErr != nil {
		return d.txErr
	}
	d.dev.TxComplete(buf, nil)
	return nil
}
func (d *fakeDriver) Poll()           {}
func (d *fakeDriver) IRQ(enable bool) {}

type recordingHandler struct {
	received []*buffer.Buffer
}

func (h *recordingHandler) Receive(buf *buffer.Buffer, dev *NetDevice, llDest, llSource []byte, flags int) error {
	h.received = append(h.received, buf)
	return nil
}

func newTestDevice() (*NetDevice, *fakeDriver) {
	drv := &fakeDriver{}
	root := settings.NewRoot()
	dev := New("net0", drv, []byte{0, 1, 2, 3, 4, 5}, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, 1500, root)
	drv.dev = dev
	return dev, drv
}

func TestOpenIsIdempotent(t *testing.T) {
	dev, drv := newTestDevice()
	require.NoError(t, dev.Open())
	require.NoError(t, dev.Open())
	assert.Equal(t, 1, drv.openCalls)
}

func TestTransmitFailsWhenLinkDown(t *testing.T) {
	dev, _ := newTestDevice()
	buf := buffer.New(0, 64)
	err := dev.Transmit(buf)
	require.Error(t, err)
}

func TestTransmitSucceedsWhenLinkUp(t *testing.T) {
	dev, drv := newTestDevice()
	dev.LinkUp()
	buf := buffer.New(0, 64)
	require.NoError(t, dev.Transmit(buf))
	assert.Len(t, drv.sent, 1)
}

func TestCloseClosesDriver(t *testing.T) {
	dev, drv := newTestDevice()
	require.NoError(t, dev.Open())
	dev.LinkUp()
	drv.txErr = nil

	dev.Close()
	assert.Equal(t, 1, drv.closeCalls)
	assert.False(t, dev.IsOpen())
}

func TestRXDispatchesToRegisteredProtocol(t *testing.T) {
	dev, _ := newTestDevice()
	h := &recordingHandler{}
	dev.RegisterProtocol(0x0800, h)

	buf := buffer.New(0, 64)
	dev.RX(buf, 0x0800, nil, nil, 0)
	assert.Len(t, h.received, 1)
}

func TestRXDropsUnknownProtocol(t *testing.T) {
	dev, _ := newTestDevice()
	buf := buffer.New(0, 64)
	dev.RX(buf, 0x9999, nil, nil, 0)
	assert.Equal(t, uint64(1), dev.UnknownProtocolDrops())
}

func TestLinkStateTransitions(t *testing.T) {
	dev, _ := newTestDevice()
	assert.Equal(t, LinkDown, dev.Link())

	dev.LinkUp()
	assert.Equal(t, LinkUp, dev.Link())

	dev.LinkErr(assert.AnError)
	assert.Equal(t, LinkBlocked, dev.Link())

	dev.LinkDownEvent()
	assert.Equal(t, LinkDown, dev.Link())
}

func TestRefcounting(t *testing.T) {
	dev, _ := newTestDevice()
	assert.Equal(t, 1, dev.Refcount())
	dev.Get()
	assert.Equal(t, 2, dev.Refcount())
	dev.Put()
	assert.Equal(t, 1, dev.Refcount())
}

func TestSettingsChildScopeNamedAfterDevice(t *testing.T) {
	dev, _ := newTestDevice()
	assert.Equal(t, "net0", dev.Settings.Path())
}
