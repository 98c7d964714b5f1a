package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for an in-flight
// download or boot operation.
type LogContext struct {
	TraceID   string    // correlation ID for a single boot attempt
	SpanID    string    // correlation ID for a single protocol session
	Procedure string    // protocol operation name (RRQ, LOOKUP, GET, ...)
	NetDevice string    // originating/egress NetDevice name
	PeerAddr  string    // remote peer address (without port)
	XID       uint32    // SUN-RPC transaction ID, when applicable
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to a NetDevice.
func NewLogContext(netdevice string) *LogContext {
	return &LogContext{
		NetDevice: netdevice,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	return &LogContext{
		TraceID:   lc.TraceID,
		SpanID:    lc.SpanID,
		Procedure: lc.Procedure,
		NetDevice: lc.NetDevice,
		PeerAddr:  lc.PeerAddr,
		XID:       lc.XID,
		StartTime: lc.StartTime,
	}
}

// WithProcedure returns a copy with the procedure set
func (lc *LogContext) WithProcedure(procedure string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Procedure = procedure
	}
	return clone
}

// WithPeer returns a copy with the peer address set
func (lc *LogContext) WithPeer(peerAddr string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.PeerAddr = peerAddr
	}
	return clone
}

// WithXID returns a copy with the RPC transaction ID set
func (lc *LogContext) WithXID(xid uint32) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.XID = xid
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
