package loopback

import (
	"testing"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/netdevice"
	"github.com/marmos91/netboot/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	received [][]byte
}

func (h *recordingHandler) Receive(buf *buffer.Buffer, dev *netdevice.NetDevice, llDest, llSource []byte, flags int) error {
	h.received = append(h.received, append([]byte(nil), buf.Bytes()...))
	return nil
}

func TestOpenBringsLinkUp(t *testing.T) {
	drv := New()
	dev := netdevice.New("lo", drv, []byte{0, 0, 0, 0, 0, 0}, nil, 1500, settings.NewRoot())
	drv.Bind(dev)

	require.NoError(t, dev.Open())
	assert.Equal(t, netdevice.LinkUp, dev.Link())
}

func TestTransmitLoopsBackToRX(t *testing.T) {
	drv := New()
	dev := netdevice.New("lo", drv, []byte{0, 0, 0, 0, 0, 0}, nil, 1500, settings.NewRoot())
	drv.Bind(dev)
	require.NoError(t, dev.Open())

	h := &recordingHandler{}
	dev.RegisterProtocol(0xffff, h)

	buf := buffer.New(0, 16)
	require.NoError(t, buf.PutBytes([]byte("hello")))

	require.NoError(t, dev.Transmit(buf))
	require.Len(t, h.received, 1)
	assert.Equal(t, "hello", string(h.received[0]))
}

func TestCloseBringsLinkDown(t *testing.T) {
	drv := New()
	dev := netdevice.New("lo", drv, nil, nil, 1500, settings.NewRoot())
	drv.Bind(dev)
	require.NoError(t, dev.Open())

	dev.Close()
	assert.Equal(t, netdevice.LinkDown, dev.Link())
}
