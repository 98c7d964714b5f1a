package ipv4

import (
	"net"
	"sync"

	"github.com/marmos91/netboot/internal/arp"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/linklayer"
	"github.com/marmos91/netboot/internal/netdevice"
)

// Interface binds an IPv4 address/netmask assignment to a NetDevice, its
// link-layer dispatcher, and its ARP resolver. internal/ipv4 transmits
// and receives only through an Interface, never a bare NetDevice.
type Interface struct {
	Dev        *netdevice.NetDevice
	Dispatcher *linklayer.Dispatcher
	ARP        *arp.Resolver
	Addr       net.IP
	Netmask    net.IPMask
}

// Owns reports whether ip is this interface's own assigned address. Per
// spec §4.3 "Unicast filter", an interface with no assigned address (the
// DHCP pre-configuration case) owns nothing and the filter is bypassed by
// the caller instead.
func (i *Interface) Owns(ip net.IP) bool {
	if i.Addr == nil || i.Addr.Equal(net.IPv4zero) {
		return false
	}
	return i.Addr.Equal(ip)
}

// Configured reports whether this interface has a non-zero assigned
// address (spec §4.3's "no assigned addresses" escape hatch).
func (i *Interface) Configured() bool {
	return i.Addr != nil && !i.Addr.Equal(net.IPv4zero)
}

// Route is a single routing table entry: (network, optional gateway,
// egress interface), per spec §3.
type Route struct {
	Network  net.IPNet
	Gateway  net.IP // nil for a direct/on-link route
	Iface    *Interface
	HostMask bool // single-host route override (forces a /32 match test)
}

func (r Route) netmask() net.IPMask {
	if r.HostMask {
		return net.CIDRMask(32, 32)
	}
	return r.Network.Mask
}

// matchesNetwork reports whether dest falls within this route's
// (network, netmask) per spec §4.3: (D XOR address) AND netmask == 0.
// A route with no gateway matching this test is on-link (next-hop is D
// itself); a route with a gateway matching this test is a specific
// static route routed via that gateway (spec §8 scenario 2's
// per-network static-routes case) rather than an unconditional default.
func (r Route) matchesNetwork(dest net.IP) bool {
	mask := r.netmask()
	network := r.Network.IP.To4()
	d := dest.To4()
	if network == nil || d == nil {
		return false
	}
	for i := range mask {
		if (d[i]^network[i])&mask[i] != 0 {
			return false
		}
	}
	return true
}

// RoutingTable is the process-wide ordered set of routes, re-derived
// whenever any IPv4-related setting changes (spec §3 invariant).
type RoutingTable struct {
	mu     sync.RWMutex
	routes []Route
}

// NewRoutingTable creates an empty routing table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{}
}

// SetRoutes atomically replaces the routing table contents, preserving
// the given order (route lookup order matters per spec §4.3).
func (t *RoutingTable) SetRoutes(routes []Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append([]Route(nil), routes...)
}

// Routes returns a snapshot of the current routing table.
func (t *RoutingTable) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Route(nil), t.routes...)
}

// Lookup implements spec §4.3's route selection algorithm: the first
// on-link (no-gateway) network match wins with next-hop = D; failing
// that, the first gateway-bearing route whose network matches D wins
// with next-hop = that gateway (this covers both a single catch-all
// default route and per-network static routes, spec §8 scenarios 1-2);
// failing that, NetUnreach.
func (t *RoutingTable) Lookup(dest net.IP) (nextHop net.IP, route *Route, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i := range t.routes {
		if t.routes[i].Gateway == nil && t.routes[i].matchesNetwork(dest) {
			r := t.routes[i]
			return dest, &r, nil
		}
	}
	for i := range t.routes {
		if t.routes[i].Gateway != nil && t.routes[i].matchesNetwork(dest) {
			r := t.routes[i]
			return r.Gateway, &r, nil
		}
	}
	return nil, nil, errcode.New(errcode.NetUnreach, "no route to %s", dest)
}

// IsBroadcast reports whether nextHop is the broadcast address under
// route's netmask (all host bits set), per spec §4.3.
func IsBroadcast(nextHop net.IP, route *Route) bool {
	if route == nil {
		return false
	}
	mask := route.netmask()
	ip := nextHop.To4()
	if ip == nil {
		return false
	}
	for i := range mask {
		hostBits := ^mask[i]
		if hostBits != 0 && ip[i]&hostBits != hostBits {
			return false
		}
	}
	return true
}

// IsMulticast reports whether ip falls in the class D multicast range
// 224.0.0.0/4, per spec §4.3's "class bit pattern" detection.
func IsMulticast(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0]&0xf0 == 0xe0
}

// MulticastLLAddr derives the Ethernet multicast address for an IPv4
// multicast group by the standard low-23-bits-into-MAC hash
// (01:00:5e:xx:xx:xx), used to bypass ARP for multicast destinations.
func MulticastLLAddr(ip net.IP) []byte {
	v4 := ip.To4()
	return []byte{0x01, 0x00, 0x5e, v4[1] & 0x7f, v4[2], v4[3]}
}
