package httpclient

import (
	"testing"

	"github.com/marmos91/netboot/internal/buffer"
	"github.com/marmos91/netboot/internal/xfer"
)

type recordingSink struct {
	delivered []byte
	seeks     []uint64
	redirect  string
	closeErr  error
	closed    bool
}

func (s *recordingSink) Deliver(buf *buffer.Buffer, _ xfer.Metadata) error {
	s.delivered = append(s.delivered, buf.Bytes()...)
	buf.Release()
	return nil
}
func (s *recordingSink) Seek(offset uint64) error { s.seeks = append(s.seeks, offset); return nil }
func (s *recordingSink) Redirect(uri string) error { s.redirect = uri; return nil }
func (s *recordingSink) Close(reason error) error {
	s.closed = true
	s.closeErr = reason
	return nil
}

func TestChunkedResponse(t *testing.T) {
	sink := &recordingSink{}
	s := &Session{sink: sink, state: StateResponseLine}

	raw := "HTTP/1.1 200 OK\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"200\r\n" + string(make([]byte, 0x200)) + "\r\n" +
		"200\r\n" + string(make([]byte, 0x200)) + "\r\n" +
		"100\r\n" + string(make([]byte, 0x100)) + "\r\n" +
		"0\r\n\r\n"

	s.feed([]byte(raw))

	if s.state != StateDone {
		t.Fatalf("expected StateDone, got %v", s.state)
	}
	if !sink.closed || sink.closeErr != nil {
		t.Fatalf("expected clean close, got closed=%v err=%v", sink.closed, sink.closeErr)
	}
	if len(sink.delivered) != 0x200+0x200+0x100 {
		t.Fatalf("expected 1280 bytes delivered, got %d", len(sink.delivered))
	}
	if len(sink.seeks) != 0 {
		t.Fatalf("chunked responses must not announce a Content-Length seek, got %v", sink.seeks)
	}
}

func TestContentLengthAnnouncesSeekThenZero(t *testing.T) {
	sink := &recordingSink{}
	s := &Session{sink: sink, state: StateResponseLine}

	body := "hello world"
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\n" + body
	s.feed([]byte(raw))

	if len(sink.seeks) != 2 || sink.seeks[0] != 11 || sink.seeks[1] != 0 {
		t.Fatalf("expected seek(11) then seek(0), got %v", sink.seeks)
	}
	if string(sink.delivered) != body {
		t.Fatalf("expected body %q, got %q", body, sink.delivered)
	}
	if s.state != StateDone {
		t.Fatalf("expected StateDone, got %v", s.state)
	}
}

func TestRedirectDoesNotDeliverBody(t *testing.T) {
	sink := &recordingSink{}
	s := &Session{sink: sink, state: StateResponseLine}

	raw := "HTTP/1.1 302 Found\r\nLocation: http://elsewhere/x\r\nContent-Length: 0\r\n\r\n"
	s.feed([]byte(raw))

	if sink.redirect != "http://elsewhere/x" {
		t.Fatalf("expected redirect captured, got %q", sink.redirect)
	}
	if len(sink.delivered) != 0 {
		t.Fatalf("redirect must not deliver a body")
	}
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		code int
		want bool // want err != nil
	}{
		{200, false},
		{401, true},
		{403, true},
		{404, true},
		{500, true},
	}
	for _, c := range cases {
		if err := statusError(c.code); (err != nil) != c.want {
			t.Errorf("statusError(%d): got err=%v, want non-nil=%v", c.code, err, c.want)
		}
	}
}

func TestPartialReadsAcrossFeedCalls(t *testing.T) {
	sink := &recordingSink{}
	s := &Session{sink: sink, state: StateResponseLine}

	full := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	for i := 0; i < len(full); i++ {
		s.feed([]byte{full[i]})
	}
	if string(sink.delivered) != "hello" {
		t.Fatalf("expected byte-at-a-time feed to reassemble body, got %q", sink.delivered)
	}
}
