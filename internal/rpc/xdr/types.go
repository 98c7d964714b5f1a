// Package xdr provides generic XDR (External Data Representation) encoding
// and decoding utilities per RFC 4506.
//
// XDR is the standard data serialization format used by Sun RPC protocols
// including portmap, MOUNT, and NFS. This package provides protocol-agnostic
// utilities shared by internal/rpc (the call/reply envelope), internal/portmap,
// and internal/nfs, splitting generic XDR primitives from the
// protocol-specific codecs built on top of them, read in the client
// direction (encoding arguments, decoding replies) rather than a
// server's (decoding arguments, encoding replies).
//
// Key characteristics of XDR:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are padded to 4-byte boundaries
//
// Reference: RFC 4506 - XDR: External Data Representation Standard
// https://tools.ietf.org/html/rfc4506
package xdr
