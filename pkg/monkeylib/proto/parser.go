package proto

import (
	"bytes"
	"io"
	"math"
)

// Parser implements zero-allocation HTTP/1.1 request parsing against an
// already-filled byte buffer. It does no I/O of its own: the caller (the
// connection state machine) is responsible for reading bytes off the wire
// and handing the parser a buffer that ends at a message boundary.
//
// Design:
// - Single-pass parsing (no backtracking)
// - Zero allocations for requests with ≤32 headers
// - Builds a Header TOC (offsets into the same buffer) instead of copying
//   header bytes
// - RFC 7230 compliant: rejects CL.TE smuggling, duplicate Content-Length,
//   whitespace before the header colon, and CRLF in header names
// - Accepts HTTP/1.1 and downgrades gracefully to HTTP/1.0
type Parser struct{}

// NewParser creates a new HTTP/1.1 request parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseHeaders parses the request line and header block out of buf, which
// must contain at least one full message up to and including the blank
// line that ends the headers (buf may extend past that point; headersEnd
// reports exactly where the header block ended so the caller knows where
// the body begins).
//
// The returned Request holds zero-copy slices into buf and its Header TOC
// is bound to buf as well. buf must outlive the Request - callers reading
// a body from the same connection buffer must keep it alive until the
// response is fully handled.
//
// IMPORTANT: The returned Request is drawn from a pool; the caller must
// call PutRequest when done.
func (p *Parser) ParseHeaders(buf []byte) (req *Request, headersEnd int, err error) {
	end := bytes.Index(buf, crlfcrlf)
	if end == -1 {
		return nil, 0, ErrUnexpectedEOF
	}
	headersEnd = end + 4

	if headersEnd > MaxRequestLineSize+MaxHeadersSize {
		return nil, 0, ErrHeadersTooLarge
	}

	req = GetRequest()
	req.buf = buf
	req.Header.setBuf(buf)

	pos, err := p.parseRequestLine(req, buf)
	if err != nil {
		PutRequest(req)
		return nil, 0, err
	}

	if err := p.parseHeaders(req, buf, pos, headersEnd); err != nil {
		PutRequest(req)
		return nil, 0, err
	}

	// RFC 7230 §5.4: HTTP/1.1 requests MUST carry exactly one Host header.
	if req.ProtoMinor == 1 && !req.Header.Has(headerHost) {
		PutRequest(req)
		return nil, 0, ErrInvalidHeader
	}

	return req, headersEnd, nil
}

// parseRequestLine parses "METHOD /path?query HTTP/1.x\r\n" and returns the
// offset just past its trailing CRLF.
func (p *Parser) parseRequestLine(req *Request, buf []byte) (int, error) {
	lineEnd := bytes.Index(buf, crlfBytes)
	if lineEnd == -1 {
		return 0, ErrInvalidRequestLine
	}

	line := buf[:lineEnd]
	if len(line) > MaxRequestLineSize {
		return 0, ErrRequestLineTooLarge
	}

	spaceIdx := bytes.IndexByte(line, ' ')
	if spaceIdx == -1 {
		return 0, ErrInvalidRequestLine
	}

	methodBytes := line[:spaceIdx]
	req.MethodID = ParseMethodID(methodBytes)
	if req.MethodID == MethodUnknown {
		return 0, ErrInvalidMethod
	}
	req.methodBytes = methodBytes

	line = line[spaceIdx+1:]
	spaceIdx = bytes.IndexByte(line, ' ')
	if spaceIdx == -1 {
		return 0, ErrInvalidRequestLine
	}

	uriBytes := line[:spaceIdx]
	if len(uriBytes) > MaxURILength {
		return 0, ErrURITooLong
	}

	if queryIdx := bytes.IndexByte(uriBytes, '?'); queryIdx != -1 {
		req.pathBytes = uriBytes[:queryIdx]
		req.queryBytes = uriBytes[queryIdx+1:]
	} else {
		req.pathBytes = uriBytes
		req.queryBytes = nil
	}

	if len(req.pathBytes) == 0 {
		return 0, ErrInvalidPath
	}
	if req.pathBytes[0] != '/' && req.pathBytes[0] != '*' {
		return 0, ErrInvalidPath
	}

	line = line[spaceIdx+1:]
	req.protoBytes = line

	switch {
	case bytes.Equal(line, http11Bytes):
		req.Proto = http11Proto
		req.ProtoMajor, req.ProtoMinor = 1, 1
	case bytes.Equal(line, http10Bytes):
		req.Proto = http10Proto
		req.ProtoMajor, req.ProtoMinor = 1, 0
		// HTTP/1.0 connections close by default unless the client asks
		// to keep the connection alive.
		req.Close = true
	default:
		return 0, ErrInvalidProtocol
	}

	return lineEnd + 2, nil
}

// parseHeaders parses "Name: Value\r\n" lines between pos and end (end is
// the offset returned as headersEnd, i.e. just past the final CRLFCRLF),
// recording offsets into the request's Header TOC.
func (p *Parser) parseHeaders(req *Request, buf []byte, pos, end int) error {
	var hasContentLength, hasTransferEncoding bool
	var contentLengthValue int64 = -1

	// end includes the trailing blank line's CRLF; stop scanning once we
	// reach the blank line itself.
	limit := end - 2

	for pos < limit {
		lineEnd := bytes.Index(buf[pos:limit], crlfBytes)
		if lineEnd == -1 {
			return ErrInvalidHeader
		}
		lineEnd += pos

		line := buf[pos:lineEnd]
		colonIdx := bytes.IndexByte(line, ':')
		if colonIdx == -1 {
			return ErrInvalidHeader
		}

		// RFC 7230 §3.2: no whitespace between field name and colon.
		if colonIdx > 0 && (line[colonIdx-1] == ' ' || line[colonIdx-1] == '\t') {
			return ErrInvalidHeader
		}

		name := line[:colonIdx]
		if bytes.IndexByte(name, ' ') != -1 || bytes.IndexByte(name, '\t') != -1 {
			return ErrInvalidHeader
		}

		valueStart := pos + colonIdx + 1
		valueEnd := lineEnd
		for valueStart < valueEnd && (buf[valueStart] == ' ' || buf[valueStart] == '\t') {
			valueStart++
		}
		for valueEnd > valueStart && (buf[valueEnd-1] == ' ' || buf[valueEnd-1] == '\t') {
			valueEnd--
		}

		nameStart := pos
		nameEnd := pos + colonIdx

		req.Header.add(nameStart, nameEnd, valueStart, valueEnd)

		if err := p.processSpecialHeader(req, buf[nameStart:nameEnd], buf[valueStart:valueEnd],
			&hasContentLength, &hasTransferEncoding, &contentLengthValue); err != nil {
			return err
		}

		pos = lineEnd + 2
	}

	// RFC 7230 §3.3.3: CL.TE request smuggling protection.
	if hasContentLength && hasTransferEncoding {
		return ErrContentLengthWithTransferEncoding
	}

	return nil
}

func (p *Parser) processSpecialHeader(req *Request, name, value []byte,
	hasContentLength, hasTransferEncoding *bool, contentLengthValue *int64) error {

	if bytesEqualCaseInsensitive(name, headerContentLength) {
		contentLength, err := parseContentLength(value)
		if err != nil {
			return ErrInvalidContentLength
		}
		if *hasContentLength {
			if *contentLengthValue != contentLength {
				return ErrDuplicateContentLength
			}
			return nil
		}
		*hasContentLength = true
		*contentLengthValue = contentLength
		req.ContentLength = contentLength
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerTransferEncoding) {
		*hasTransferEncoding = true
		if !bytesEqualCaseInsensitive(value, headerChunked) {
			return ErrInvalidHeader
		}
		req.TransferEncoding = []string{"chunked"}
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerConnection) {
		if bytesEqualCaseInsensitive(value, headerClose) {
			req.Close = true
		} else if bytesEqualCaseInsensitive(value, headerKeepAlive) {
			req.Close = false
		}
		return nil
	}

	return nil
}

// SetupBodyReader configures req.Body from a reader that serves the bytes
// immediately following the header block (and may serve more beyond that,
// for Content-Length/chunked framing to bound). Called by the connection
// state machine once it has switched from buffered header reads to a
// streaming body reader.
func SetupBodyReader(req *Request, bodyReader io.Reader) error {
	if req.ContentLength == 0 && len(req.TransferEncoding) == 0 {
		req.Body = nil
		return nil
	}
	if req.ContentLength > 0 {
		req.Body = io.LimitReader(bodyReader, req.ContentLength)
		return nil
	}
	if req.IsChunked() {
		req.Body = NewChunkedReader(bodyReader)
		return nil
	}
	return nil
}

// parseContentLength parses a Content-Length header value.
func parseContentLength(b []byte) (int64, error) {
	if len(b) == 0 {
		return -1, ErrInvalidContentLength
	}
	const maxContentLength = math.MaxInt64 / 10

	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		if n > maxContentLength {
			return -1, ErrInvalidContentLength
		}
		n *= 10
		d := int64(c - '0')
		if n > math.MaxInt64-d {
			return -1, ErrInvalidContentLength
		}
		n += d
	}
	return n, nil
}

var crlfcrlf = []byte("\r\n\r\n")
