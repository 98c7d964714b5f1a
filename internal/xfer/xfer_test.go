package xfer

import (
	"errors"
	"testing"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	delivered []string
	seeks     []uint64
	closedErr error
	wasClosed bool
}

func (s *recordingSink) Deliver(buf *buffer.Buffer, md Metadata) error {
	s.delivered = append(s.delivered, string(buf.Bytes()))
	buf.Release()
	return nil
}
func (s *recordingSink) Seek(offset uint64) error { s.seeks = append(s.seeks, offset); return nil }
func (s *recordingSink) Redirect(string) error    { return nil }
func (s *recordingSink) Close(reason error) error {
	s.wasClosed = true
	s.closedErr = reason
	return nil
}

func TestPairRoutesToPeerSink(t *testing.T) {
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	a, b := NewPair(sinkA, sinkB)

	buf := buffer.New(0, 4)
	require.NoError(t, buf.PutBytes([]byte("data")))
	require.NoError(t, a.Deliver(buf, Metadata{Offset: 0}))

	assert.Equal(t, []string{"data"}, sinkB.delivered)
	assert.Empty(t, sinkA.delivered)
	_ = b
}

func TestCloseClosesBothSides(t *testing.T) {
	a, b := NewPair(&recordingSink{}, &recordingSink{})
	cause := errors.New("peer gone")
	require.NoError(t, a.Close(cause))

	assert.True(t, a.Closed())
	assert.True(t, b.Closed())

	buf := buffer.New(0, 1)
	err := a.Deliver(buf, Metadata{})
	assert.Error(t, err)
}

func TestUnpluggedDeliversToOwnSink(t *testing.T) {
	sink := &recordingSink{}
	e := Unplugged(sink)
	buf := buffer.New(0, 3)
	require.NoError(t, buf.PutBytes([]byte("abc")))
	require.NoError(t, e.Deliver(buf, Metadata{}))
	assert.Equal(t, []string{"abc"}, sink.delivered)
}
