package ipv4

import (
	"net"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/settings"
)

// Settings keys read from an interface's internal/settings.Block.
const (
	SettingAddress      = "ip-address"
	SettingNetmask      = "netmask"
	SettingGateway      = "routers"
	SettingStaticRoutes = "static-routes"
)

// DeriveRoutes rebuilds the routing table entries contributed by one
// Interface from its Settings block, per spec §3's invariant that "routes
// are re-derived whenever any IPv4-related setting changes". Order is:
// the interface's own on-link subnet first, then any classless static
// routes (DHCP option 33/121 style, spec §8 scenario 2), then a default
// route if a gateway setting is present.
func DeriveRoutes(iface *Interface, block *settings.Block) ([]Route, error) {
	var routes []Route

	if iface.Configured() && len(iface.Netmask) == 4 {
		routes = append(routes, Route{
			Network: net.IPNet{IP: iface.Addr.Mask(iface.Netmask), Mask: iface.Netmask},
			Iface:   iface,
		})
	}

	if raw, err := block.GetHexBytes(SettingStaticRoutes); err == nil {
		parsed, perr := parseClasslessStaticRoutes(raw, iface)
		if perr != nil {
			return nil, perr
		}
		routes = append(routes, parsed...)
	}

	if gw, err := block.GetIPv4(SettingGateway); err == nil {
		routes = append(routes, Route{
			Network: net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)},
			Gateway: gw,
			Iface:   iface,
		})
	}

	return routes, nil
}

// parseClasslessStaticRoutes decodes the DHCP classless-static-routes
// wire format (RFC 3442 / option 121, also used for option 33 extensions
// like this firmware's "static-routes" setting): a sequence of
// (prefix-width byte, significant destination octets, 4-byte gateway)
// tuples.
func parseClasslessStaticRoutes(raw []byte, iface *Interface) ([]Route, error) {
	var routes []Route
	i := 0
	for i < len(raw) {
		width := int(raw[i])
		i++
		if width > 32 {
			return nil, errcode.New(errcode.InvalidArg, "static-routes: prefix width %d > 32", width)
		}
		sig := (width + 7) / 8
		if i+sig+4 > len(raw) {
			return nil, errcode.New(errcode.InvalidArg, "static-routes: truncated entry at byte %d", i)
		}
		dest := make(net.IP, 4)
		copy(dest, raw[i:i+sig])
		i += sig
		gw := net.IP(append([]byte(nil), raw[i:i+4]...))
		i += 4

		routes = append(routes, Route{
			Network: net.IPNet{IP: dest, Mask: net.CIDRMask(width, 32)},
			Gateway: gw,
			Iface:   iface,
		})
	}
	return routes, nil
}
