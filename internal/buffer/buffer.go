// Package buffer implements the Buffer type shared across every network
// and protocol layer: a heap-backed byte region with head/tail cursors
// supporting reserve/push/put/pull/unput, backed by internal/bufpool.
//
// A Buffer is owned by exactly one component at a time. Ownership
// transfer happens at every layer boundary (see internal/xfer); there is
// no reference counting at this layer, only single-owner move semantics
// enforced by convention (the owner stops using a Buffer once it hands it
// to Deliver/Transmit/etc).
package buffer

import (
	"fmt"

	"github.com/marmos91/netboot/internal/bufpool"
	"github.com/marmos91/netboot/internal/errcode"
)

// Buffer is a contiguous byte region with reserved headroom and tailroom.
// Invariant: 0 <= head <= dataStart <= tail <= len(store).
//
//	store:  [0 ............................... len(store))
//	              ^head        ^tail
//	              |<--data-->|
type Buffer struct {
	store []byte // backing array, obtained from bufpool
	head  int    // start of headroom-consumed region (data start)
	tail  int    // end of data (exclusive)
}

// New allocates a Buffer with the given headroom and payload capacity.
// The returned Buffer has head == tail == headroom; callers append data
// with Put.
func New(headroom, capacity int) *Buffer {
	store := bufpool.Get(headroom + capacity)
	return &Buffer{store: store, head: headroom, tail: headroom}
}

// Release returns the Buffer's backing storage to the pool. After Release
// the Buffer must not be used.
func (b *Buffer) Release() {
	if b.store != nil {
		bufpool.Put(b.store)
		b.store = nil
	}
}

// Len returns the number of data bytes currently held (tail - head).
func (b *Buffer) Len() int { return b.tail - b.head }

// Headroom returns the number of bytes available for Push before head.
func (b *Buffer) Headroom() int { return b.head }

// Tailroom returns the number of bytes available for Put after tail.
func (b *Buffer) Tailroom() int { return len(b.store) - b.tail }

// Bytes returns the current data region. The returned slice aliases the
// Buffer's storage and is invalidated by any subsequent mutating call.
func (b *Buffer) Bytes() []byte { return b.store[b.head:b.tail] }

// Reserve grows tailroom by at least n bytes, reallocating and copying if
// the current backing store is too small. It never changes Len().
func (b *Buffer) Reserve(n int) error {
	if n < 0 {
		return errcode.New(errcode.InvalidArg, "reserve: negative size %d", n)
	}
	if b.Tailroom() >= n {
		return nil
	}
	needed := b.head + b.Len() + n
	newStore := bufpool.Get(needed)
	copy(newStore, b.store[:b.tail])
	bufpool.Put(b.store)
	b.store = newStore
	return nil
}

// Push prepends n bytes to the data region, returning the new region to
// be filled by the caller. Fails with errcode.NoBufs if headroom is
// insufficient; the source forbids silently growing at the head because
// head-growth would require copying the entire data region on every push,
// which defeats the purpose of reserved headroom.
func (b *Buffer) Push(n int) ([]byte, error) {
	if n < 0 {
		return nil, errcode.New(errcode.InvalidArg, "push: negative size %d", n)
	}
	if n > b.head {
		return nil, errcode.New(errcode.NoBufs, "push: need %d bytes headroom, have %d", n, b.head)
	}
	b.head -= n
	return b.store[b.head : b.head+n], nil
}

// Put appends n bytes to the data region, growing the backing store via
// Reserve if tailroom is insufficient.
func (b *Buffer) Put(n int) ([]byte, error) {
	if n < 0 {
		return nil, errcode.New(errcode.InvalidArg, "put: negative size %d", n)
	}
	if err := b.Reserve(n); err != nil {
		return nil, err
	}
	start := b.tail
	b.tail += n
	return b.store[start:b.tail], nil
}

// PutBytes is a convenience wrapper over Put that copies data in.
func (b *Buffer) PutBytes(data []byte) error {
	dst, err := b.Put(len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// Pull strips n bytes from the head of the data region and returns them.
func (b *Buffer) Pull(n int) ([]byte, error) {
	if n < 0 || n > b.Len() {
		return nil, errcode.New(errcode.InvalidArg, "pull: %d exceeds available %d", n, b.Len())
	}
	out := b.store[b.head : b.head+n]
	b.head += n
	return out, nil
}

// Unput strips n bytes from the tail of the data region.
func (b *Buffer) Unput(n int) error {
	if n < 0 || n > b.Len() {
		return errcode.New(errcode.InvalidArg, "unput: %d exceeds available %d", n, b.Len())
	}
	b.tail -= n
	return nil
}

// Clone returns a deep copy of the Buffer, preserving head/tail offsets.
// Used where a consumer needs to retain data beyond the lifetime of the
// original owner (e.g. TFTP duplicate-ACK retransmission).
func (b *Buffer) Clone() *Buffer {
	clone := New(b.head, b.Len())
	clone.tail = clone.head + b.Len()
	copy(clone.store[clone.head:clone.tail], b.store[b.head:b.tail])
	return clone
}

func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer{len=%d headroom=%d tailroom=%d}", b.Len(), b.Headroom(), b.Tailroom())
}
