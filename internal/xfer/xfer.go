// Package xfer implements XferInterface: the typed bidirectional channel
// that threads data, metadata, seek, window-credit, and close operations
// between the protocol parsers (internal/tftp, internal/httpclient,
// internal/nfs) and their consumers (internal/buffer sinks, the image
// loader in internal/bzimage).
//
// The operations are modeled as one Sink interface method per operation
// (Deliver, Seek, Redirect, Close), the same choice as internal/netdevice;
// there is no message sum type.
package xfer

import (
	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
)

// Metadata carries out-of-band information alongside a Deliver call
// (the data's byte offset in the transfer and whether it is the final
// piece) for consumers that care.
type Metadata struct {
	Offset uint64
	Final  bool
}

// Sink is the handler every XferInterface consumer implements, one
// method per operation; Endpoint.Deliver/Seek/Redirect/Close each call
// the matching method of the target Sink.
type Sink interface {
	// Deliver hands buf (ownership transferred to the Sink) with
	// associated Metadata. The Sink must consume, forward, or free it.
	Deliver(buf *buffer.Buffer, md Metadata) error
	// Seek announces a known size or position ahead of data (spec §4.5:
	// a Content-Length arrives as seek(length) then seek(0)).
	Seek(offset uint64) error
	// Redirect is invoked when the source protocol wants the caller to
	// re-open at a new URI (spec §4.5, HTTP 301/302).
	Redirect(uri string) error
	// Close propagates end-of-transfer or an error reason to the Sink.
	// A nil reason means a clean, successful close.
	Close(reason error) error
}

// NullSink discards everything; useful as a default/no-op Sink and as a
// safe target for the far end of a closed Endpoint pair.
type NullSink struct{}

func (NullSink) Deliver(buf *buffer.Buffer, _ Metadata) error { buf.Release(); return nil }
func (NullSink) Seek(uint64) error                            { return nil }
func (NullSink) Redirect(string) error                        { return nil }
func (NullSink) Close(error) error                             { return nil }

// Endpoint is one side of an XferInterface "plug" relationship: a
// two-way typed channel with a window (credit/peer-readiness) whose
// operations are routed to whatever Sink is plugged into the opposite
// side. Closure propagates to both sides synchronously (spec §3/§5).
type Endpoint struct {
	peer   *Endpoint
	sink   Sink
	window int
	closed bool
}

// NewPair creates two Endpoints plugged into each other, each wrapping
// the given Sink. Operations sent into one side are delivered to the
// opposite side's Sink.
func NewPair(sinkA, sinkB Sink) (a, b *Endpoint) {
	a = &Endpoint{sink: sinkA}
	b = &Endpoint{sink: sinkB}
	a.peer = b
	b.peer = a
	return a, b
}

// Unplugged creates a standalone Endpoint with no peer, wrapping sink
// directly; operations sent into it invoke sink immediately, for a
// producer that drives a Sink without needing a full plug pair.
func Unplugged(sink Sink) *Endpoint {
	return &Endpoint{sink: sink}
}

// Replug swaps which Sink this Endpoint's operations are delivered to,
// for an owner that re-homes an Endpoint. It changes the Sink used when
// the Endpoint is unplugged; a plugged Endpoint routes to its peer's
// Sink, which Replug does not change.
func (e *Endpoint) Replug(sink Sink) {
	e.sink = sink
}

// Deliver transfers buf (and its Metadata) to whichever Sink this
// Endpoint targets: its own wrapped Sink if unplugged, or its peer's
// wrapped Sink if part of a pair. A closed Endpoint drops the buffer.
func (e *Endpoint) Deliver(buf *buffer.Buffer, md Metadata) error {
	if e.closed {
		buf.Release()
		return errcode.New(errcode.Canceled, "xfer: deliver on closed endpoint")
	}
	return e.targetSink().Deliver(buf, md)
}

// Seek announces offset to the opposite Sink.
func (e *Endpoint) Seek(offset uint64) error {
	if e.closed {
		return errcode.New(errcode.Canceled, "xfer: seek on closed endpoint")
	}
	return e.targetSink().Seek(offset)
}

// Redirect announces a new URI to the opposite Sink.
func (e *Endpoint) Redirect(uri string) error {
	if e.closed {
		return errcode.New(errcode.Canceled, "xfer: redirect on closed endpoint")
	}
	return e.targetSink().Redirect(uri)
}

// Close propagates reason to the opposite Sink and marks both sides of
// a plugged pair closed, so neither delivers further operations (spec
// §5: "Closure propagates to both sides synchronously").
func (e *Endpoint) Close(reason error) error {
	if e.closed {
		return nil
	}
	e.closed = true
	err := e.targetSink().Close(reason)
	if e.peer != nil && !e.peer.closed {
		e.peer.closed = true
	}
	return err
}

// targetSink resolves which Sink an operation routes to: the peer's
// wrapped Sink for a plugged pair, or this Endpoint's own Sink when
// unplugged.
func (e *Endpoint) targetSink() Sink {
	if e.peer != nil {
		return e.peer.sink
	}
	return e.sink
}

// Window returns the current credit/readiness value (spec §3).
func (e *Endpoint) Window() int { return e.window }

// SetWindow updates the credit/readiness value this Endpoint advertises
// to its peer.
func (e *Endpoint) SetWindow(w int) { e.window = w }

// Closed reports whether this Endpoint has been closed.
func (e *Endpoint) Closed() bool { return e.closed }
