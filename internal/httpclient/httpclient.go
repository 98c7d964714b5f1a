// Package httpclient implements the HTTP request framer and chunked
// response parser from spec §4.5: a GET request with optional RFC 7617
// Basic auth, and a response parser walking
// response-line -> headers -> (chunk-length -> chunk-body | body) -> trailers -> done.
//
// Transport is internal/transport/tcp.Conn; a Session is itself a
// scheduler.Process driven by the poll loop, reading whatever bytes
// Conn.Read has accumulated since the last call and feeding them through
// a dedicated line buffer, per spec's explicit choice of a "dedicated
// line buffer that delivers complete lines to the next state handler"
// rather than a bufio.Scanner (this firmware owns its own buffering so
// partial reads never block the single poll-loop thread).
package httpclient

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/errcode"
	"github.com/marmos91/netboot/internal/logger"
	"github.com/marmos91/netboot/internal/transport/tcp"
	"github.com/marmos91/netboot/internal/xfer"
)

// State is the response parser's position in the RFC 7230 grammar this
// client understands.
type State int

const (
	StateResponseLine State = iota
	StateHeaders
	StateChunkLength
	StateChunkBody
	StateBody
	StateTrailers
	StateDone
	StateError
)

// Session drives one GET request/response exchange over a tcp.Conn.
type Session struct {
	conn *tcp.Conn
	sink xfer.Sink

	state State

	lineBuf []byte // dedicated line buffer (spec §4.5)

	statusCode int

	contentLength    int64
	haveContentLen   bool
	chunked          bool
	bytesDelivered   int64
	chunkRemaining   int64
	announcedLength  bool
	location         string
}

// Get issues "GET <path> HTTP/1.1" against u over conn, delivering the
// body to sink as it arrives. u must already have been connected (host
// resolved, TCP handshake done) by the caller (internal/uri).
func Get(conn *tcp.Conn, u *url.URL, sink xfer.Sink) (*Session, error) {
	s := &Session{conn: conn, sink: sink}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	var b strings.Builder
	fmt.Fprintf(&b, "GET %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", u.Host)
	if u.User != nil {
		user := u.User.Username()
		pass, _ := u.User.Password()
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", token)
	}
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")

	if err := conn.Write([]byte(b.String())); err != nil {
		return nil, err
	}
	return s, nil
}

// Run implements scheduler.Process: drains newly-arrived bytes from the
// underlying tcp.Conn and advances the response parser. Never blocks;
// returns true while more data may still arrive.
func (s *Session) Run() bool {
	if s.state == StateDone || s.state == StateError {
		return false
	}

	data, eof := s.conn.Read()
	if len(data) > 0 {
		s.feed(data)
	}
	if s.state == StateDone || s.state == StateError {
		return false
	}
	if eof {
		// A body with neither Content-Length nor chunked framing is
		// delimited by the peer closing, so EOF completes it.
		if s.state == StateBody && !s.haveContentLen {
			s.finish()
			return false
		}
		// Peer closed; an in-progress Content-Length body that never
		// reached its declared length, or a chunked body missing its
		// terminating 0-length chunk, is a truncated transfer.
		if s.state != StateResponseLine {
			s.fail(errcode.New(errcode.IO, "http: connection closed mid-response"))
		}
		return false
	}
	return true
}

func (s *Session) feed(data []byte) {
	s.lineBuf = append(s.lineBuf, data...)
	for s.state != StateDone && s.state != StateError {
		switch s.state {
		case StateResponseLine, StateHeaders, StateChunkLength, StateTrailers:
			line, ok := s.popLine()
			if !ok {
				return
			}
			s.handleLine(line)
		case StateBody:
			if !s.consumeBody() {
				return
			}
		case StateChunkBody:
			if !s.consumeChunkBody() {
				return
			}
		}
	}
}

// popLine extracts one CRLF-terminated line from the front of lineBuf,
// consuming it. Returns ok=false if no complete line is buffered yet.
func (s *Session) popLine() (string, bool) {
	idx := indexCRLF(s.lineBuf)
	if idx < 0 {
		return "", false
	}
	line := string(s.lineBuf[:idx])
	s.lineBuf = s.lineBuf[idx+2:]
	return line, true
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func (s *Session) handleLine(line string) {
	switch s.state {
	case StateResponseLine:
		s.handleResponseLine(line)
	case StateHeaders:
		s.handleHeaderLine(line)
	case StateChunkLength:
		s.handleChunkLengthLine(line)
	case StateTrailers:
		if line == "" {
			s.finish()
		}
		// trailer fields are ignored otherwise.
	}
}

func (s *Session) handleResponseLine(line string) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		s.fail(errcode.New(errcode.IO, "http: malformed status line %q", line))
		return
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		s.fail(errcode.New(errcode.IO, "http: malformed status code %q", parts[1]))
		return
	}
	s.statusCode = code
	s.state = StateHeaders
}

func (s *Session) handleHeaderLine(line string) {
	if line == "" {
		s.headersComplete()
		return
	}
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return
	}
	name := strings.TrimSpace(line[:colon])
	value := strings.TrimSpace(line[colon+1:])
	switch strings.ToLower(name) {
	case "content-length":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			s.contentLength = n
			s.haveContentLen = true
		}
	case "transfer-encoding":
		if strings.Contains(strings.ToLower(value), "chunked") {
			s.chunked = true
		}
	case "location":
		s.location = value
	}
}

func (s *Session) headersComplete() {
	if s.statusCode == 301 || s.statusCode == 302 {
		if s.location != "" {
			_ = s.sink.Redirect(s.location)
		}
		s.state = StateDone
		_ = s.sink.Close(nil)
		return
	}
	if err := statusError(s.statusCode); err != nil {
		s.fail(err)
		return
	}

	if s.haveContentLen {
		// spec §4.5: Content-Length is announced via seek(length) then
		// seek(0), giving the consumer a known size before bytes arrive.
		_ = s.sink.Seek(uint64(s.contentLength))
		_ = s.sink.Seek(0)
		s.announcedLength = true
	}

	switch {
	case s.chunked:
		s.state = StateChunkLength
	default:
		s.state = StateBody
	}
	if s.haveContentLen && s.contentLength == 0 && !s.chunked {
		s.finish()
	}
}

func statusError(code int) error {
	switch {
	case code == 200:
		return nil
	case code == 401 || code == 403:
		return errcode.New(errcode.Permission, "http: status %d", code)
	case code == 404:
		return errcode.New(errcode.NoEntry, "http: status %d", code)
	case code >= 400:
		return errcode.New(errcode.IO, "http: status %d", code)
	default:
		return nil
	}
}

// consumeBody delivers as much of a Content-Length (or unbounded,
// close-delimited) body as is currently buffered. Returns false when it
// has consumed everything available and needs more input.
func (s *Session) consumeBody() bool {
	if len(s.lineBuf) == 0 {
		return false
	}
	remaining := len(s.lineBuf)
	if s.haveContentLen {
		want := s.contentLength - s.bytesDelivered
		if int64(remaining) > want {
			remaining = int(want)
		}
	}
	if remaining > 0 {
		s.deliver(s.lineBuf[:remaining], false)
		s.lineBuf = s.lineBuf[remaining:]
	}
	if s.haveContentLen && s.bytesDelivered >= s.contentLength {
		s.finish()
		return false
	}
	return false
}

func (s *Session) handleChunkLengthLine(line string) {
	// Chunk extensions (";name=value") are permitted by RFC 7230 and
	// ignored here.
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		s.fail(errcode.New(errcode.IO, "http: malformed chunk size %q", line))
		return
	}
	if n == 0 {
		s.state = StateTrailers
		return
	}
	s.chunkRemaining = n
	s.state = StateChunkBody
}

// consumeChunkBody delivers bytes from the current chunk, returning to
// StateChunkLength once the chunk (plus its trailing CRLF) is consumed.
func (s *Session) consumeChunkBody() bool {
	if s.chunkRemaining > 0 {
		if len(s.lineBuf) == 0 {
			return false
		}
		n := int64(len(s.lineBuf))
		if n > s.chunkRemaining {
			n = s.chunkRemaining
		}
		s.deliver(s.lineBuf[:n], false)
		s.lineBuf = s.lineBuf[n:]
		s.chunkRemaining -= n
		if s.chunkRemaining > 0 {
			return false
		}
	}
	// Consume the mandatory CRLF after the chunk data.
	if len(s.lineBuf) < 2 {
		return false
	}
	s.lineBuf = s.lineBuf[2:]
	s.state = StateChunkLength
	return true
}

func (s *Session) deliver(data []byte, final bool) {
	out := buffer.New(0, len(data))
	if err := out.PutBytes(data); err != nil {
		out.Release()
		return
	}
	offset := uint64(s.bytesDelivered)
	s.bytesDelivered += int64(len(data))
	_ = s.sink.Deliver(out, xfer.Metadata{Offset: offset, Final: final})
}

func (s *Session) finish() {
	s.state = StateDone
	_ = s.sink.Close(nil)
}

func (s *Session) fail(err error) {
	s.state = StateError
	logger.Debug("http: response failed", logger.Err(err))
	_ = s.sink.Close(err)
}

// StatusCode returns the parsed response status line code, 0 before the
// response line has been seen.
func (s *Session) StatusCode() int { return s.statusCode }
