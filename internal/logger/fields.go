package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are designed to be protocol-agnostic, supporting TFTP, HTTP,
// NFS and the lower network layers. Use these keys consistently across all
// log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // correlates all log lines for one boot attempt
	KeySpanID  = "span_id"  // correlates log lines for one protocol session

	// ========================================================================
	// Protocol & Operation (protocol-agnostic)
	// ========================================================================
	KeyProtocol  = "protocol"   // Protocol type: tftp, http, nfs, arp, ipv4, ...
	KeyProcedure = "procedure"  // Operation/procedure name: RRQ, LOOKUP, GET, ...
	KeyHandle    = "handle"     // Opaque identifier (NFS file handle, etc.)
	KeyURI       = "uri"        // Source URI being fetched
	KeyStatus    = "status"     // Operation status code (protocol-specific)
	KeyStatusMsg = "status_msg" // Human-readable status message

	// ========================================================================
	// Network Device & Link Layer
	// ========================================================================
	KeyNetDevice  = "netdevice"  // NetDevice name
	KeyScopeID    = "scope_id"   // Scope ID disambiguating settings/route lookups
	KeyLinkState  = "link_state" // up / down / blocked
	KeyHWAddr     = "hw_addr"    // Hardware (MAC) address
	KeyLLProtocol = "ll_proto"   // Link-layer protocol ID

	// ========================================================================
	// Buffers & I/O
	// ========================================================================
	KeyOffset       = "offset"        // file/transfer offset
	KeyCount        = "count"         // byte count requested
	KeyBytesRead    = "bytes_read"    // actual bytes read
	KeyBytesWritten = "bytes_written" // actual bytes written
	KeyEOF          = "eof"           // end of file/transfer indicator
	KeySize         = "size"          // byte size of a buffer or file

	// ========================================================================
	// Peer Identification
	// ========================================================================
	KeyPeerAddr = "peer_addr" // remote peer IPv4 address
	KeyPeerPort = "peer_port" // remote peer source port

	// ========================================================================
	// Session & Transaction
	// ========================================================================
	KeySessionID = "session_id" // TFTP/NFS session identifier
	KeyXID       = "xid"        // SUN-RPC transaction ID

	// ========================================================================
	// Retry / Timer
	// ========================================================================
	KeyAttempt    = "attempt"     // retry attempt number
	KeyMaxRetries = "max_retries" // maximum retry attempts
	KeyBackoffMs  = "backoff_ms"  // current backoff interval in milliseconds

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // operation duration in milliseconds
	KeyError      = "error"       // error message
	KeyErrorCode  = "error_code"  // numeric errcode.Code

	// ========================================================================
	// bzImage / Boot
	// ========================================================================
	KeyBootProto  = "boot_protocol" // bzImage boot protocol version
	KeyLoadAddr   = "load_addr"     // physical load address
	KeyInitrdAddr = "initrd_addr"   // placed initrd physical address
)

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for the boot-attempt correlation ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the session correlation ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Protocol & Operation
// ----------------------------------------------------------------------------

// Protocol returns a slog.Attr for protocol type (tftp, http, nfs, etc.)
func Protocol(proto string) slog.Attr {
	return slog.String(KeyProtocol, proto)
}

// Procedure returns a slog.Attr for operation/procedure name
func Procedure(name string) slog.Attr {
	return slog.String(KeyProcedure, name)
}

// Handle returns a slog.Attr for an opaque handle (formatted as hex)
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// URI returns a slog.Attr for the source URI
func URI(uri string) slog.Attr {
	return slog.String(KeyURI, uri)
}

// Status returns a slog.Attr for operation status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// StatusMsg returns a slog.Attr for human-readable status message
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// ----------------------------------------------------------------------------
// Network Device & Link Layer
// ----------------------------------------------------------------------------

// NetDevice returns a slog.Attr for a NetDevice name
func NetDevice(name string) slog.Attr {
	return slog.String(KeyNetDevice, name)
}

// ScopeID returns a slog.Attr for a settings/route scope ID
func ScopeID(id string) slog.Attr {
	return slog.String(KeyScopeID, id)
}

// LinkState returns a slog.Attr for link state
func LinkState(state string) slog.Attr {
	return slog.String(KeyLinkState, state)
}

// HWAddr returns a slog.Attr for a hardware address
func HWAddr(addr string) slog.Attr {
	return slog.String(KeyHWAddr, addr)
}

// LLProtocol returns a slog.Attr for a link-layer protocol ID
func LLProtocol(proto uint16) slog.Attr {
	return slog.Any(KeyLLProtocol, proto)
}

// ----------------------------------------------------------------------------
// Buffers & I/O
// ----------------------------------------------------------------------------

// Offset returns a slog.Attr for file/transfer offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Count returns a slog.Attr for byte count requested
func Count(c uint32) slog.Attr {
	return slog.Any(KeyCount, c)
}

// BytesRead returns a slog.Attr for actual bytes read
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// EOF returns a slog.Attr for end-of-transfer indicator
func EOF(eof bool) slog.Attr {
	return slog.Bool(KeyEOF, eof)
}

// Size returns a slog.Attr for a byte size
func Size(s uint64) slog.Attr {
	return slog.Uint64(KeySize, s)
}

// ----------------------------------------------------------------------------
// Peer Identification
// ----------------------------------------------------------------------------

// PeerAddr returns a slog.Attr for remote peer address
func PeerAddr(addr string) slog.Attr {
	return slog.String(KeyPeerAddr, addr)
}

// PeerPort returns a slog.Attr for remote peer source port
func PeerPort(port int) slog.Attr {
	return slog.Int(KeyPeerPort, port)
}

// ----------------------------------------------------------------------------
// Session & Transaction
// ----------------------------------------------------------------------------

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// XID returns a slog.Attr for a SUN-RPC transaction ID
func XID(xid uint32) slog.Attr {
	return slog.Any(KeyXID, xid)
}

// ----------------------------------------------------------------------------
// Retry / Timer
// ----------------------------------------------------------------------------

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// BackoffMs returns a slog.Attr for the current backoff interval
func BackoffMs(ms int64) slog.Attr {
	return slog.Int64(KeyBackoffMs, ms)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a numeric errcode.Code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// ----------------------------------------------------------------------------
// bzImage / Boot
// ----------------------------------------------------------------------------

// BootProto returns a slog.Attr for the bzImage boot protocol version
func BootProto(version uint16) slog.Attr {
	return slog.Any(KeyBootProto, fmt.Sprintf("0x%04x", version))
}

// LoadAddr returns a slog.Attr for a physical load address
func LoadAddr(addr uint32) slog.Attr {
	return slog.String(KeyLoadAddr, fmt.Sprintf("0x%08x", addr))
}

// InitrdAddr returns a slog.Attr for a placed initrd address
func InitrdAddr(addr uint32) slog.Attr {
	return slog.String(KeyInitrdAddr, fmt.Sprintf("0x%08x", addr))
}
