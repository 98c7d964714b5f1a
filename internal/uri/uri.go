// Package uri implements the scheme dispatch used for boot sources:
// tftp, http, https, nfs use ordinary
// scheme://[user[:password]@]host[:port]/path[?query] URIs (parsed
// with net/url); ib_srp instead carries a colon-separated SRP root
// path, the PXE boot-string form for InfiniBand targets, following the
// same root-path grammar as the Linux ib_srp driver's
// ib_srp_parse_root_path.
package uri

import (
	"net/url"
	"strings"

	"github.com/marmos91/netboot/internal/errcode"
)

// Scheme identifies which transport a parsed boot URI selects.
type Scheme string

const (
	SchemeTFTP  Scheme = "tftp"
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeNFS   Scheme = "nfs"
	SchemeIBSRP Scheme = "ib_srp"
)

// BootURI is a parsed boot source. For every scheme except ib_srp, URL
// holds the standard parse; for ib_srp, RootPath holds the decoded SRP
// root path fields instead (ib_srp has no host/path structure).
type BootURI struct {
	Scheme   Scheme
	URL      *url.URL
	RootPath *SRPRootPath
}

// Parse dispatches raw on its scheme prefix. ib_srp is handled
// specially since it is a colon-separated field list, not a standard
// URI; every other supported scheme is parsed with net/url.
func Parse(raw string) (*BootURI, error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, errcode.New(errcode.InvalidArg, "uri: %q has no scheme", raw)
	}

	switch Scheme(scheme) {
	case SchemeTFTP, SchemeHTTP, SchemeHTTPS, SchemeNFS:
		u, err := url.Parse(raw)
		if err != nil {
			return nil, errcode.Wrap(errcode.InvalidArg, err, "uri: parse %q", raw)
		}
		return &BootURI{Scheme: Scheme(scheme), URL: u}, nil
	case SchemeIBSRP:
		rp, err := ParseSRPRootPath(strings.TrimPrefix(rest, "//"))
		if err != nil {
			return nil, err
		}
		return &BootURI{Scheme: SchemeIBSRP, RootPath: rp}, nil
	default:
		return nil, errcode.New(errcode.NotSupported, "uri: unsupported scheme %q", scheme)
	}
}
