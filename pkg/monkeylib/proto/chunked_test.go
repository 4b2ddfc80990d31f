package proto

import (
	"io"
	"strings"
	"testing"
)

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 4)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return string(out)
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
}

func TestChunkedReaderHappyPath(t *testing.T) {
	body := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	cr := NewChunkedReader(strings.NewReader(body))
	got := readAll(t, cr)
	if got != "Wikipedia" {
		t.Errorf("got %q, want Wikipedia", got)
	}
}

func TestChunkedReaderStripsExtensions(t *testing.T) {
	body := "4;ext=foo\r\nWiki\r\n0;final=1\r\n\r\n"
	cr := NewChunkedReader(strings.NewReader(body))
	got := readAll(t, cr)
	if got != "Wiki" {
		t.Errorf("got %q, want Wiki - chunk extensions must be stripped, not parsed as data", got)
	}
}

func TestChunkedReaderRejectsMalformedSize(t *testing.T) {
	body := "zz\r\nWiki\r\n0\r\n\r\n"
	cr := NewChunkedReader(strings.NewReader(body))
	buf := make([]byte, 16)
	_, err := cr.Read(buf)
	if err != ErrChunkedEncoding {
		t.Errorf("err = %v, want ErrChunkedEncoding", err)
	}
}

func TestChunkedReaderRejectsMissingTrailingCRLF(t *testing.T) {
	body := "4\r\nWikiXX0\r\n\r\n" // chunk data not followed by CRLF
	cr := NewChunkedReader(strings.NewReader(body))
	buf := make([]byte, 16)
	_, err := cr.Read(buf)
	if err != ErrChunkedEncoding {
		t.Errorf("err = %v, want ErrChunkedEncoding (chunk data not followed by CRLF)", err)
	}
}

func TestChunkedReaderEnforcesMaxChunkSize(t *testing.T) {
	body := "A\r\n0123456789\r\n0\r\n\r\n"
	cr := NewChunkedReaderWithLimits(strings.NewReader(body), 5, 0)
	buf := make([]byte, 16)
	_, err := cr.Read(buf)
	if err != ErrChunkedEncoding {
		t.Errorf("err = %v, want ErrChunkedEncoding (chunk size 10 exceeds limit 5)", err)
	}
}

func TestChunkedReaderEnforcesMaxBodySize(t *testing.T) {
	body := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	cr := NewChunkedReaderWithLimits(strings.NewReader(body), 0, 4)
	buf := make([]byte, 16)
	_, err := cr.Read(buf) // first chunk (4 bytes) fits exactly at the limit
	if err != nil {
		t.Fatalf("first Read: %v", err)
	}
	_, err = cr.Read(buf) // second chunk pushes total past maxBodySize
	if err != ErrChunkedEncoding {
		t.Errorf("err = %v, want ErrChunkedEncoding (body exceeds maxBodySize)", err)
	}
}
