// Package nfs implements the client side of NFSv3 (RFC 1813) that this
// firmware needs to fetch a boot image: MOUNT, LOOKUP (with symlink
// expansion via READLINK), and READ. Everything else RFC 1813 defines
// (WRITE, CREATE, the full directory-mutation surface, NFSv4) is out of
// scope — this is a read-only boot loader, not a general NFS client
// (spec §4.7's explicit non-goal).
package nfs

import (
	"bytes"
	"io"
	"net"
	"path"
	"strings"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/ipv4"
	"github.com/marmos91/netboot/internal/portmap"
	"github.com/marmos91/netboot/internal/rpc"
	xdrcodec "github.com/marmos91/netboot/internal/rpc/xdr"
	"github.com/marmos91/netboot/internal/transport/udp"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Program and version numbers (RFC 1813 Appendix I, RFC 1813 §2).
const (
	MountProgram uint32 = 100005
	MountVersion uint32 = 3

	NFSProgram uint32 = 100003
	NFSVersion uint32 = 3
)

// Mount procedure numbers.
const (
	MountProcNull uint32 = 0
	MountProcMnt  uint32 = 1
)

// Mount status codes (subset this client distinguishes).
const (
	MountOK          uint32 = 0
	MountErrNoEnt    uint32 = 2
	MountErrAccess   uint32 = 13
	MountErrNotDir   uint32 = 20
	MountErrServerFault uint32 = 10006
)

// NFSv3 procedure numbers this client uses (RFC 1813 §3.3).
const (
	NFSProcNull     uint32 = 0
	NFSProcLookup   uint32 = 3
	NFSProcReadlink uint32 = 5
	NFSProcRead     uint32 = 6
)

// NFSv3 status codes (subset).
const (
	NFS3OK       uint32 = 0
	NFS3ErrNoEnt uint32 = 2
	NFS3ErrAcces uint32 = 13
	NFS3ErrNotDir uint32 = 20
	NFS3ErrStale uint32 = 70
)

// MaxFileHandleLen is the largest opaque file handle RFC 1813 allows.
const MaxFileHandleLen = 64

// FileHandle is an opaque NFSv3 file handle, treated as a blob by the
// client and only ever round-tripped back to the server.
type FileHandle []byte

// BlockSize is the logical block size used when this client is driven
// in block-device mode over a raw NFS-exported file (spec's block
// device mode supplement): reads are always requested and buffered in
// 512-byte units regardless of the caller's granularity.
const BlockSize = 512

// Client drives a MOUNT+LOOKUP+READ sequence against one NFS server,
// resolving both the MOUNT and NFS service ports via a shared
// internal/portmap.Client before issuing any MOUNT or NFS call (spec
// §4.6's portmap state machine).
type Client struct {
	udp    *udp.Stack
	iface  *ipv4.Interface
	server net.IP
	cred   rpc.Credential

	pm    *portmap.Client
	mount *rpc.Client
	nfs   *rpc.Client
}

// NewClient builds an NFS client targeting server, authenticated as
// AUTH_SYS with UID 0 / GID 0 and no auxiliary groups (spec §4.6: "a PXE
// client has no real identity; it authenticates as root because that is
// the only identity an NFS export can usefully grant boot-image read
// access to").
func NewClient(udpStack *udp.Stack, iface *ipv4.Interface, server net.IP, machineName string) *Client {
	return &Client{
		udp:    udpStack,
		iface:  iface,
		server: server,
		cred:   rpc.AuthSys(machineName, 0, 0),
		pm:     portmap.NewClient(udpStack, iface, server),
	}
}

// Run implements scheduler.Process, driving the retransmit timers of
// every RPC client this Client has brought up so far.
func (c *Client) Run() bool {
	again := c.pm.Run()
	if c.mount != nil {
		again = c.mount.Run() || again
	}
	if c.nfs != nil {
		again = c.nfs.Run() || again
	}
	return again
}

// resolvePort runs a portmap GETPORT for (program, version, UDP) and
// invokes onPort with the resolved port.
func (c *Client) resolvePort(program, version uint32, onPort func(port uint16, err error)) {
	c.pm.GetPort(portmap.Mapping{Program: program, Version: version, Protocol: portmap.ProtoUDP}, onPort)
}

// Mount performs the full portmap-then-MNT sequence for dirPath,
// implementing spec §4.6's mount state machine:
// none -> MNT-sent -> (ready | retry-with-shorter-mountpoint) -> closed.
// A failing MNT against dirPath retries against dirPath's parent,
// progressively shortening the mountpoint prefix until "/"; if "/"
// itself fails, the last error is surfaced. onResult receives the root
// file handle of whichever prefix the server actually exports, plus
// remainder: the path components stripped off dirPath to reach that
// prefix, which the caller must resolve itself (e.g. via Traverse)
// against the returned root.
//
// This client never issues UMNT: it is a one-shot boot-time fetch, not
// a long-lived mount held across multiple operations, and the server's
// MOUNT export table entry for a client that vanishes mid-boot is
// reclaimed the same way any crashed NFS client's stale entry is.
func (c *Client) Mount(dirPath string, onResult func(root FileHandle, remainder string, err error)) {
	c.resolvePort(MountProgram, MountVersion, func(port uint16, err error) {
		if err != nil {
			onResult(nil, "", errcode.Wrap(errcode.IO, err, "nfs: resolve mount port"))
			return
		}
		c.mount = rpc.NewClient(c.udp, c.iface, c.server, port)
		c.mountAttempt(path.Clean("/"+dirPath), "", onResult)
	})
}

// mountAttempt issues one MNT call against tryPath. remainder is the
// path (if any) already stripped off by earlier, shorter-prefix
// attempts; it is threaded through unchanged to onResult on success and
// grown by one more component on failure before recursing to tryPath's
// parent.
func (c *Client) mountAttempt(tryPath, remainder string, onResult func(root FileHandle, remainder string, err error)) {
	args := new(bytes.Buffer)
	_ = xdrcodec.WriteXDRString(args, tryPath)

	c.mount.Call(MountProgram, MountVersion, MountProcMnt, c.cred, args.Bytes(), func(results []byte, callErr error) {
		if callErr != nil {
			c.mountFallback(tryPath, remainder, callErr, onResult)
			return
		}
		r := bytes.NewReader(results)
		status, decErr := xdrcodec.DecodeUint32(r)
		if decErr != nil {
			onResult(nil, "", errcode.Wrap(errcode.IO, decErr, "nfs: decode mount status"))
			return
		}
		if status != MountOK {
			c.mountFallback(tryPath, remainder, mountError(status, tryPath), onResult)
			return
		}
		fh, decErr := decodeFixedOpaque(r)
		if decErr != nil {
			onResult(nil, "", errcode.Wrap(errcode.IO, decErr, "nfs: decode mount file handle"))
			return
		}
		onResult(FileHandle(fh), remainder, nil)
	})
}

// mountFallback retries against tryPath's parent, per spec §4.6/§8's
// progressive mountpoint-shortening boundary behavior, or surfaces err
// once tryPath is already "/".
func (c *Client) mountFallback(tryPath, remainder string, err error, onResult func(root FileHandle, remainder string, err error)) {
	parent, newRemainder, ok := shortenMountpoint(tryPath, remainder)
	if !ok {
		onResult(nil, "", err)
		return
	}
	c.mountAttempt(parent, newRemainder, onResult)
}

// shortenMountpoint computes the next, one-component-shorter mountpoint
// to retry MNT against after tryPath failed, and the remainder path
// (relative to that shorter mountpoint) still left to resolve via
// LOOKUP. Returns ok=false once tryPath is already "/", meaning no
// shorter prefix remains to try.
func shortenMountpoint(tryPath, remainder string) (parent, newRemainder string, ok bool) {
	if tryPath == "/" {
		return "", "", false
	}
	return path.Dir(tryPath), path.Join(path.Base(tryPath), remainder), true
}

func mountError(status uint32, dirPath string) error {
	switch status {
	case MountErrNoEnt:
		return errcode.New(errcode.NoEntry, "nfs: export %q not found", dirPath)
	case MountErrAccess:
		return errcode.New(errcode.Permission, "nfs: access denied to export %q", dirPath)
	case MountErrNotDir:
		return errcode.New(errcode.InvalidArg, "nfs: %q is not a directory", dirPath)
	default:
		return errcode.New(errcode.IO, "nfs: mount status %d", status)
	}
}

// ensureNFSClient resolves the NFS service port (if not already bound)
// before issuing a LOOKUP/READLINK/READ call.
func (c *Client) ensureNFSClient(then func(err error)) {
	if c.nfs != nil {
		then(nil)
		return
	}
	c.resolvePort(NFSProgram, NFSVersion, func(port uint16, err error) {
		if err != nil {
			then(errcode.Wrap(errcode.IO, err, "nfs: resolve nfs port"))
			return
		}
		c.nfs = rpc.NewClient(c.udp, c.iface, c.server, port)
		then(nil)
	})
}

// Lookup resolves name within directory dir, returning the child's file
// handle.
func (c *Client) Lookup(dir FileHandle, name string, onResult func(fh FileHandle, err error)) {
	c.ensureNFSClient(func(err error) {
		if err != nil {
			onResult(nil, err)
			return
		}
		args := new(bytes.Buffer)
		_ = xdrcodec.WriteXDROpaque(args, dir)
		_ = xdrcodec.WriteXDRString(args, name)

		c.nfs.Call(NFSProgram, NFSVersion, NFSProcLookup, c.cred, args.Bytes(), func(results []byte, callErr error) {
			if callErr != nil {
				onResult(nil, callErr)
				return
			}
			r := bytes.NewReader(results)
			status, decErr := xdrcodec.DecodeUint32(r)
			if decErr != nil {
				onResult(nil, errcode.Wrap(errcode.IO, decErr, "nfs: decode lookup status"))
				return
			}
			if status != NFS3OK {
				onResult(nil, nfsError(status, name))
				return
			}
			fh, decErr := xdrcodec.DecodeOpaque(r)
			if decErr != nil {
				onResult(nil, errcode.Wrap(errcode.IO, decErr, "nfs: decode lookup file handle"))
				return
			}
			onResult(FileHandle(fh), nil)
		})
	})
}

// Readlink resolves the symbolic link at fh and returns its target path.
func (c *Client) Readlink(fh FileHandle, onResult func(target string, err error)) {
	c.ensureNFSClient(func(err error) {
		if err != nil {
			onResult("", err)
			return
		}
		args := new(bytes.Buffer)
		_ = xdrcodec.WriteXDROpaque(args, fh)

		c.nfs.Call(NFSProgram, NFSVersion, NFSProcReadlink, c.cred, args.Bytes(), func(results []byte, callErr error) {
			if callErr != nil {
				onResult("", callErr)
				return
			}
			r := bytes.NewReader(results)
			status, decErr := xdrcodec.DecodeUint32(r)
			if decErr != nil {
				onResult("", errcode.Wrap(errcode.IO, decErr, "nfs: decode readlink status"))
				return
			}
			if status != NFS3OK {
				onResult("", nfsError(status, "<symlink>"))
				return
			}
			target, decErr := xdrcodec.DecodeString(r)
			if decErr != nil {
				onResult("", errcode.Wrap(errcode.IO, decErr, "nfs: decode readlink target"))
				return
			}
			onResult(target, nil)
		})
	})
}

// Read fetches count bytes starting at offset from the file at fh.
func (c *Client) Read(fh FileHandle, offset uint64, count uint32, onResult func(data []byte, eof bool, err error)) {
	c.ensureNFSClient(func(err error) {
		if err != nil {
			onResult(nil, false, err)
			return
		}
		args := new(bytes.Buffer)
		_ = xdrcodec.WriteXDROpaque(args, fh)
		_ = xdrcodec.WriteUint64(args, offset)
		_ = xdrcodec.WriteUint32(args, count)

		c.nfs.Call(NFSProgram, NFSVersion, NFSProcRead, c.cred, args.Bytes(), func(results []byte, callErr error) {
			if callErr != nil {
				onResult(nil, false, callErr)
				return
			}
			r := bytes.NewReader(results)
			status, decErr := xdrcodec.DecodeUint32(r)
			if decErr != nil {
				onResult(nil, false, errcode.Wrap(errcode.IO, decErr, "nfs: decode read status"))
				return
			}
			if status != NFS3OK {
				onResult(nil, false, nfsError(status, "<file>"))
				return
			}
			if present, attr, decErr := decodeOptionalFileAttr(r); decErr != nil {
				onResult(nil, false, errcode.Wrap(errcode.IO, decErr, "nfs: decode read post-op attrs"))
				return
			} else if present && attr.Type != NF3Reg {
				onResult(nil, false, errcode.New(errcode.InvalidArg, "nfs: refusing to boot from non-regular file (type %d)", attr.Type))
				return
			}
			if _, decErr := xdrcodec.DecodeUint32(r); decErr != nil { // count
				onResult(nil, false, errcode.Wrap(errcode.IO, decErr, "nfs: decode read count"))
				return
			}
			eofVal, decErr := xdrcodec.DecodeBool(r)
			if decErr != nil {
				onResult(nil, false, errcode.Wrap(errcode.IO, decErr, "nfs: decode read eof"))
				return
			}
			data, decErr := xdrcodec.DecodeOpaque(r)
			if decErr != nil {
				onResult(nil, false, errcode.Wrap(errcode.IO, decErr, "nfs: decode read data"))
				return
			}
			onResult(data, eofVal, nil)
		})
	})
}

func nfsError(status uint32, name string) error {
	switch status {
	case NFS3ErrNoEnt:
		return errcode.New(errcode.NoEntry, "nfs: %q not found", name)
	case NFS3ErrAcces:
		return errcode.New(errcode.Permission, "nfs: access denied to %q", name)
	case NFS3ErrNotDir:
		return errcode.New(errcode.InvalidArg, "nfs: %q is not a directory", name)
	case NFS3ErrStale:
		return errcode.New(errcode.NoEntry, "nfs: stale file handle for %q", name)
	default:
		return errcode.New(errcode.IO, "nfs: status %d resolving %q", status, name)
	}
}

// decodeFixedOpaque decodes the MOUNT response's file handle, which on
// the wire is a raw fixed 64-byte field (not length-prefixed XDR
// opaque) per RFC 1813 Appendix I's fhandle3 encoding used by MNT.
func decodeFixedOpaque(r *bytes.Reader) ([]byte, error) {
	buf := make([]byte, MaxFileHandleLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// nfstime3 is RFC 1813's seconds/nanoseconds timestamp pair, used three
// times inside fattr3.
type nfstime3 struct {
	Seconds  uint32
	Nseconds uint32
}

// fattr3 mirrors RFC 1813 §2.5's fixed-layout file attributes struct
// field for field, decoded via reflection by rasky/go-xdr the same way
// any XDR-tagged request struct decodes — this client only ever needs
// Type (to reject booting from a non-regular file) and Size, but the
// struct carries every field in wire order so Unmarshal consumes
// exactly the bytes RFC 1813 defines, rather than a hand maintained
// skip-length constant.
type fattr3 struct {
	Type    uint32
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    uint64
	Used    uint64
	RdevSp1 uint32
	RdevSp2 uint32
	Fsid    uint64
	Fileid  uint64
	Atime   nfstime3
	Mtime   nfstime3
	Ctime   nfstime3
}

// NF3Reg is the fattr3.Type value for a regular file (RFC 1813 §2.5).
const NF3Reg uint32 = 1

// decodeOptionalFileAttr decodes an RFC 1813 post_op_attr: a present
// flag followed by a fattr3 if true. attr is the zero value when
// present is false.
func decodeOptionalFileAttr(r *bytes.Reader) (present bool, attr fattr3, err error) {
	flag, err := xdrcodec.DecodeBool(r)
	if err != nil {
		return false, fattr3{}, err
	}
	if !flag {
		return false, fattr3{}, nil
	}
	if _, err := xdr.Unmarshal(r, &attr); err != nil {
		return false, fattr3{}, err
	}
	return true, attr, nil
}

// Traverse resolves a slash-separated path under root, one LOOKUP per
// component, expanding symbolic links via READLINK as they're
// encountered (spec's supplemented path-traversal feature): an absolute
// symlink target restarts traversal from root, a relative one resumes
// from the symlink's parent directory.
func (c *Client) Traverse(root FileHandle, p string, onResult func(fh FileHandle, err error)) {
	c.traverseFrom(root, root, splitPath(p), 0, onResult)
}

// splitPath splits p into non-empty path components.
func splitPath(p string) []string {
	parts := strings.Split(path.Clean("/"+p), "/")
	out := make([]string, 0, len(parts))
	for _, comp := range parts {
		if comp != "" {
			out = append(out, comp)
		}
	}
	return out
}

// traverseFrom walks comps[idx:] from cur (with root available for
// absolute symlink restarts), recursing through onResult continuations
// to stay non-blocking within the poll-loop model.
func (c *Client) traverseFrom(root, cur FileHandle, comps []string, idx int, onResult func(fh FileHandle, err error)) {
	if idx >= len(comps) {
		onResult(cur, nil)
		return
	}
	c.Lookup(cur, comps[idx], func(fh FileHandle, err error) {
		if err != nil {
			onResult(nil, err)
			return
		}
		// A symlink's target is only knowable by attempting READLINK;
		// NFS3ErrInval-style "not a link" failures fall through to
		// continuing traversal with fh as a regular directory/file entry.
		c.Readlink(fh, func(target string, linkErr error) {
			if linkErr != nil {
				c.traverseFrom(root, fh, comps, idx+1, onResult)
				return
			}
			if strings.HasPrefix(target, "/") {
				rest := append(splitPath(target), comps[idx+1:]...)
				c.traverseFrom(root, root, rest, 0, onResult)
				return
			}
			rest := append(splitPath(target), comps[idx+1:]...)
			c.traverseFrom(root, cur, rest, 0, onResult)
		})
	})
}
