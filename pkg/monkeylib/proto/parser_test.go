package proto

import (
	"errors"
	"strings"
	"testing"
)

func parseOK(t *testing.T, raw string) (*Request, int) {
	t.Helper()
	p := NewParser()
	req, headersEnd, err := p.ParseHeaders([]byte(raw))
	if err != nil {
		t.Fatalf("ParseHeaders(%q) unexpected error: %v", raw, err)
	}
	t.Cleanup(func() { PutRequest(req) })
	return req, headersEnd
}

func TestParseHeadersBasicGET(t *testing.T) {
	raw := "GET /hello?x=1 HTTP/1.1\r\nHost: example.com\r\nAccept: text/plain\r\n\r\n"
	req, headersEnd := parseOK(t, raw)

	if req.Method() != "GET" {
		t.Errorf("Method() = %q, want GET", req.Method())
	}
	if req.Path() != "/hello" {
		t.Errorf("Path() = %q, want /hello", req.Path())
	}
	if req.Query() != "x=1" {
		t.Errorf("Query() = %q, want x=1", req.Query())
	}
	if req.ProtoMajor != 1 || req.ProtoMinor != 1 {
		t.Errorf("Proto = %d.%d, want 1.1", req.ProtoMajor, req.ProtoMinor)
	}
	if headersEnd != len(raw) {
		t.Errorf("headersEnd = %d, want %d (no body in this request)", headersEnd, len(raw))
	}
	if v, ok := req.GetHeaderString("host"); !ok || v != "example.com" {
		t.Errorf("GetHeaderString(host) = (%q, %v), want (example.com, true)", v, ok)
	}
}

func TestParseHeadersHTTP10DowngradesToClose(t *testing.T) {
	raw := "GET / HTTP/1.0\r\n\r\n"
	req, _ := parseOK(t, raw)
	if !req.Close {
		t.Error("Close = false, want true for an HTTP/1.0 request with no Connection header")
	}
}

func TestParseHeadersHTTP11RequiresHost(t *testing.T) {
	p := NewParser()
	_, _, err := p.ParseHeaders([]byte("GET / HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("err = %v, want ErrInvalidHeader (HTTP/1.1 requires Host)", err)
	}
}

func TestParseHeadersEmptyHeaderValueIsNull(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\nX-Empty:\r\n\r\n"
	req, _ := parseOK(t, raw)
	if !req.HasHeader([]byte("X-Empty")) {
		t.Error("HasHeader(X-Empty) = false, want true - the header is present, just empty")
	}
	if v, ok := req.GetHeader([]byte("X-Empty")); ok {
		t.Errorf("GetHeader(X-Empty) = (%q, true), want (nil, false) - empty value reads as absent", v)
	}
}

func TestParseHeadersIncompleteReturnsUnexpectedEOF(t *testing.T) {
	p := NewParser()
	_, _, err := p.ParseHeaders([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n"))
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestParseHeadersRejectsUnknownMethod(t *testing.T) {
	p := NewParser()
	_, _, err := p.ParseHeaders([]byte("FROBNICATE / HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	if !errors.Is(err, ErrInvalidMethod) {
		t.Errorf("err = %v, want ErrInvalidMethod", err)
	}
}

func TestParseHeadersRejectsBadProtocol(t *testing.T) {
	p := NewParser()
	_, _, err := p.ParseHeaders([]byte("GET / HTTP/2.0\r\nHost: example.com\r\n\r\n"))
	if !errors.Is(err, ErrInvalidProtocol) {
		t.Errorf("err = %v, want ErrInvalidProtocol", err)
	}
}

func TestParseHeadersRejectsWhitespaceBeforeColon(t *testing.T) {
	p := NewParser()
	_, _, err := p.ParseHeaders([]byte("GET / HTTP/1.1\r\nHost : example.com\r\n\r\n"))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("err = %v, want ErrInvalidHeader (space before colon)", err)
	}
}

func TestParseHeadersRejectsSpaceInHeaderName(t *testing.T) {
	p := NewParser()
	_, _, err := p.ParseHeaders([]byte("GET / HTTP/1.1\r\nHo st: example.com\r\n\r\n"))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("err = %v, want ErrInvalidHeader (space in header name)", err)
	}
}

func TestParseHeadersRejectsDuplicateContentLength(t *testing.T) {
	p := NewParser()
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n"
	_, _, err := p.ParseHeaders([]byte(raw))
	if !errors.Is(err, ErrDuplicateContentLength) {
		t.Errorf("err = %v, want ErrDuplicateContentLength", err)
	}
}

func TestParseHeadersAllowsRepeatedIdenticalContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello"
	req, _ := parseOK(t, raw)
	if req.ContentLength != 5 {
		t.Errorf("ContentLength = %d, want 5", req.ContentLength)
	}
}

func TestParseHeadersRejectsContentLengthWithTransferEncoding(t *testing.T) {
	p := NewParser()
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n"
	_, _, err := p.ParseHeaders([]byte(raw))
	if !errors.Is(err, ErrContentLengthWithTransferEncoding) {
		t.Errorf("err = %v, want ErrContentLengthWithTransferEncoding (CL.TE smuggling)", err)
	}
}

func TestParseHeadersRejectsInvalidContentLength(t *testing.T) {
	p := NewParser()
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: abc\r\n\r\n"
	_, _, err := p.ParseHeaders([]byte(raw))
	if !errors.Is(err, ErrInvalidContentLength) {
		t.Errorf("err = %v, want ErrInvalidContentLength", err)
	}
}

func TestParseHeadersRejectsContentLengthOverflow(t *testing.T) {
	p := NewParser()
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 18446744073709551721\r\n\r\n"
	_, _, err := p.ParseHeaders([]byte(raw))
	if !errors.Is(err, ErrInvalidContentLength) {
		t.Errorf("err = %v, want ErrInvalidContentLength (overflow must not wrap to a small positive value)", err)
	}
}

func TestParseHeadersRejectsNonChunkedTransferEncoding(t *testing.T) {
	p := NewParser()
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: identity\r\n\r\n"
	_, _, err := p.ParseHeaders([]byte(raw))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("err = %v, want ErrInvalidHeader (only \"chunked\" is a defined Transfer-Encoding)", err)
	}
}

func TestParseHeadersRejectsOversizedRequestLine(t *testing.T) {
	p := NewParser()
	longPath := "/" + strings.Repeat("a", MaxRequestLineSize+1)
	raw := "GET " + longPath + " HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, _, err := p.ParseHeaders([]byte(raw))
	if !errors.Is(err, ErrRequestLineTooLarge) {
		t.Errorf("err = %v, want ErrRequestLineTooLarge", err)
	}
}

func TestParseHeadersConnectionCloseAndKeepAlive(t *testing.T) {
	closeReq, _ := parseOK(t, "GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n")
	if !closeReq.Close {
		t.Error("Close = false, want true for Connection: close")
	}

	keepAliveReq, _ := parseOK(t, "GET / HTTP/1.0\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n")
	if keepAliveReq.Close {
		t.Error("Close = true, want false - HTTP/1.0 with explicit Connection: keep-alive")
	}
}

func TestSetupBodyReaderContentLength(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	req, headersEnd := parseOK(t, raw)
	body := strings.NewReader(raw[headersEnd:])
	if err := SetupBodyReader(req, body); err != nil {
		t.Fatalf("SetupBodyReader: %v", err)
	}
	buf := make([]byte, 16)
	n, _ := req.Body.Read(buf)
	if string(buf[:n]) != "hello" {
		t.Errorf("body = %q, want hello", buf[:n])
	}
}

func TestSetupBodyReaderNoBody(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, _ := parseOK(t, raw)
	if err := SetupBodyReader(req, strings.NewReader("")); err != nil {
		t.Fatalf("SetupBodyReader: %v", err)
	}
	if req.Body != nil {
		t.Error("Body != nil, want nil for a request with no Content-Length or Transfer-Encoding")
	}
}

func TestSetupBodyReaderChunked(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n"
	req, _ := parseOK(t, raw)
	chunked := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	if err := SetupBodyReader(req, strings.NewReader(chunked)); err != nil {
		t.Fatalf("SetupBodyReader: %v", err)
	}
	buf := make([]byte, 64)
	total := 0
	for {
		n, err := req.Body.Read(buf[total:])
		total += n
		if err != nil {
			break
		}
	}
	if string(buf[:total]) != "Wikipedia" {
		t.Errorf("chunked body = %q, want Wikipedia", buf[:total])
	}
}
