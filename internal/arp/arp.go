// Package arp implements the Address Resolution Protocol: a small cache
// mapping IPv4 addresses to link-layer addresses, request/reply wire
// encoding, and the resolve flow internal/ipv4 calls before it can
// transmit to a next hop it has not seen yet.
package arp

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/linklayer"
	"github.com/marmos91/netboot/internal/netdevice"
	"github.com/marmos91/netboot/internal/retry"
	"github.com/marmos91/netboot/internal/scheduler"
)

// Wire format constants for an Ethernet/IPv4 ARP packet (RFC 826/RFC 5227).
const (
	HeaderLen    = 28
	hwTypeEther  = 1
	protoTypeIP4 = 0x0800
	opRequest    = 1
	opReply      = 2
)

// entryState tracks whether a cache entry is resolved or still pending.
type entryState int

const (
	statePending entryState = iota
	stateResolved
)

type cacheEntry struct {
	state   entryState
	hwAddr  []byte
	timer   *retry.Timer
	waiters []chan error
}

// Resolver maintains the ARP cache for one NetDevice and answers
// resolution requests from internal/ipv4.
type Resolver struct {
	mu    sync.Mutex
	dev   *netdevice.NetDevice
	sched *scheduler.Scheduler
	cache map[string]*cacheEntry
	disp  *linklayer.Dispatcher

	// owns reports whether ip is one of this device's own addresses;
	// internal/ipv4 wires this so ARP requests targeting our address get
	// answered. Nil means never answer requests (resolve-only mode).
	owns func(ip net.IP) bool
}

// New creates a Resolver bound to dev, registering it as the ARP
// EtherType handler with disp.
func New(dev *netdevice.NetDevice, sched *scheduler.Scheduler, disp *linklayer.Dispatcher) *Resolver {
	r := &Resolver{
		dev:   dev,
		sched: sched,
		cache: make(map[string]*cacheEntry),
		disp:  disp,
	}
	disp.Handle(linklayer.ProtoARP, r.rx)
	return r
}

// SetOwnershipCheck installs the callback used to decide whether an
// inbound ARP request should be answered.
func (r *Resolver) SetOwnershipCheck(owns func(ip net.IP) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owns = owns
}

// Lookup returns the cached hardware address for ip if resolved, without
// triggering a request.
func (r *Resolver) Lookup(ip net.IP) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[ip.String()]
	if !ok || e.state != stateResolved {
		return nil, false
	}
	return append([]byte(nil), e.hwAddr...), true
}

// Resolve returns the hardware address for ip. On a cache miss it sends
// one ARP request and blocks until a reply from ip arrives; the request
// is not retransmitted and the wait has no timeout.
func (r *Resolver) Resolve(disp *linklayer.Dispatcher, localIP net.IP, ip net.IP) ([]byte, error) {
	key := ip.String()

	r.mu.Lock()
	e, ok := r.cache[key]
	if ok && e.state == stateResolved {
		addr := append([]byte(nil), e.hwAddr...)
		r.mu.Unlock()
		return addr, nil
	}
	if !ok {
		e = &cacheEntry{state: statePending, timer: retry.NewDefault(time.Now)}
		r.cache[key] = e
	}
	wait := make(chan error, 1)
	e.waiters = append(e.waiters, wait)
	r.mu.Unlock()

	if err := r.sendRequest(disp, localIP, ip); err != nil {
		return nil, err
	}

	err := <-wait
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e = r.cache[key]
	if e == nil || e.state != stateResolved {
		return nil, errcode.New(errcode.TimedOut, "arp: resolution for %s timed out", ip)
	}
	return append([]byte(nil), e.hwAddr...), nil
}

func (r *Resolver) sendRequest(disp *linklayer.Dispatcher, localIP, targetIP net.IP) error {
	buf := buffer.New(linklayer.HeaderLen, HeaderLen)
	if _, err := buf.Put(HeaderLen); err != nil {
		return err
	}
	encode(buf.Bytes(), opRequest, r.dev.HWAddr, localIP.To4(), make([]byte, 6), targetIP.To4())
	return disp.TX(buf, r.dev, linklayer.Broadcast(), linklayer.ProtoARP)
}

// rx handles an inbound ARP frame: updates an existing cache entry for
// the sender, and answers requests whose target address passes the
// ownership check internal/ipv4 wires in (no check installed means no
// request is answered). Replies carry the device's own hardware address.
func (r *Resolver) rx(buf *buffer.Buffer, dev *netdevice.NetDevice, llSource []byte) {
	defer buf.Release()
	data := buf.Bytes()
	if len(data) < HeaderLen {
		return
	}
	op, senderHW, senderIP, _, targetIP := decode(data)
	if op != opRequest && op != opReply {
		return
	}

	r.mu.Lock()
	e, ok := r.cache[senderIP.String()]
	owns := r.owns
	if ok {
		e.hwAddr = append([]byte(nil), senderHW...)
		e.state = stateResolved
		if e.timer != nil {
			e.timer.Stop()
		}
		waiters := e.waiters
		e.waiters = nil
		r.mu.Unlock()
		for _, w := range waiters {
			w <- nil
		}
	} else {
		r.mu.Unlock()
	}

	if op == opRequest && owns != nil && owns(targetIP) {
		r.reply(senderHW, senderIP, targetIP)
	}
}

// reply sends an ARP reply claiming targetIP as this device's own address.
func (r *Resolver) reply(destHW []byte, destIP, ownIP net.IP) {
	buf := buffer.New(linklayer.HeaderLen, HeaderLen)
	if _, err := buf.Put(HeaderLen); err != nil {
		return
	}
	encode(buf.Bytes(), opReply, r.dev.HWAddr, ownIP.To4(), destHW, destIP.To4())
	_ = r.disp.TX(buf, r.dev, destHW, linklayer.ProtoARP)
}

// encode writes an ARP packet in wire byte order into dst (must be at
// least HeaderLen bytes).
func encode(dst []byte, op uint16, senderHW, senderIP, targetHW, targetIP []byte) {
	binary.BigEndian.PutUint16(dst[0:2], hwTypeEther)
	binary.BigEndian.PutUint16(dst[2:4], protoTypeIP4)
	dst[4] = 6
	dst[5] = 4
	binary.BigEndian.PutUint16(dst[6:8], op)
	copy(dst[8:14], senderHW)
	copy(dst[14:18], senderIP)
	copy(dst[18:24], targetHW)
	copy(dst[24:28], targetIP)
}

// decode parses a wire ARP packet (src must be at least HeaderLen bytes).
func decode(src []byte) (op uint16, senderHW []byte, senderIP net.IP, targetHW []byte, targetIP net.IP) {
	op = binary.BigEndian.Uint16(src[6:8])
	senderHW = src[8:14]
	senderIP = net.IP(src[14:18])
	targetHW = src[18:24]
	targetIP = net.IP(src[24:28])
	return
}
