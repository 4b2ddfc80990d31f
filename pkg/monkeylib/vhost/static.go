package vhost

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/yourusername/monkeylib/pkg/monkeylib/mimedb"
	"github.com/yourusername/monkeylib/pkg/monkeylib/proto"
)

// ErrForbidden is returned when a requested path escapes the document
// root via ".." traversal.
var ErrForbidden = errors.New("vhost: path escapes document root")

// StaticPipeline serves files out of a Host's DocRoot, handling index
// file lookup, mime-type assignment, Range and If-Modified-Since
// conditional requests, and Accept-Encoding precompressed-alternate
// negotiation (serving foo.js.gz/foo.js.br instead of recompressing on
// every request when the sibling file exists on disk).
type StaticPipeline struct {
	Mime *mimedb.DB
}

// NewStaticPipeline builds a pipeline backed by mime.
func NewStaticPipeline(mime *mimedb.DB) *StaticPipeline {
	return &StaticPipeline{Mime: mime}
}

// ServeFile resolves reqPath against host's DocRoot and writes it to rw,
// honoring the request's conditional and Range headers.
func (p *StaticPipeline) ServeFile(host *Host, req *proto.Request, rw *proto.ResponseWriter, reqPath string) error {
	relPath, err := sanitizeRequestPath(reqPath)
	if err != nil {
		rw.WriteError(403, "Forbidden")
		return nil
	}

	fullPath := filepath.Join(host.DocRoot, relPath)
	info, err := os.Stat(fullPath)
	if err == nil && info.IsDir() {
		fullPath, info, err = p.resolveIndex(host, fullPath)
	}
	if err != nil {
		if os.IsNotExist(err) {
			rw.WriteError(404, "Not Found")
			return nil
		}
		rw.WriteError(500, "Internal Server Error")
		return err
	}

	if ifModifiedSince, ok := req.GetHeaderString("If-Modified-Since"); ok {
		if t, perr := http.ParseTime(ifModifiedSince); perr == nil && !info.ModTime().After(t) {
			rw.WriteHeader(304)
			return nil
		}
	}

	contentType, _ := p.Mime.LookupPath(fullPath)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if alt, encoding, ok := p.negotiatePrecompressed(req, fullPath); ok {
		return serveWholeFile(rw, alt, contentType, encoding)
	}

	if rangeHeader, ok := req.GetHeaderString("Range"); ok {
		return serveRange(rw, fullPath, info, contentType, rangeHeader)
	}

	// No precompressed sibling on disk: compress small text responses on
	// the fly rather than recompressing the whole file path's io.Copy,
	// since the gzip/brotli writer needs the full body to choose a
	// Content-Length up front.
	if isCompressible(contentType) && info.Size() > 0 && info.Size() <= onTheFlyCompressLimit {
		if encoding, ok := preferredEncoding(req); ok {
			return serveCompressed(rw, fullPath, contentType, encoding)
		}
	}

	return serveWholeFile(rw, fullPath, contentType, "")
}

func (p *StaticPipeline) resolveIndex(host *Host, dir string) (string, os.FileInfo, error) {
	names := host.IndexFiles
	if len(names) == 0 {
		names = []string{"index.html"}
	}
	for _, name := range names {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, info, nil
		}
	}
	return "", nil, os.ErrNotExist
}

// negotiatePrecompressed looks for a ".gz" or ".br" sibling of path when
// the client's Accept-Encoding allows it, preferring brotli when both the
// client and a sibling file support it.
func (p *StaticPipeline) negotiatePrecompressed(req *proto.Request, path string) (altPath, encoding string, ok bool) {
	accept, _ := req.GetHeaderString("Accept-Encoding")
	if accept == "" {
		return "", "", false
	}

	if strings.Contains(accept, "br") {
		if _, err := os.Stat(path + ".br"); err == nil {
			return path + ".br", "br", true
		}
	}
	if strings.Contains(accept, "gzip") {
		if _, err := os.Stat(path + ".gz"); err == nil {
			return path + ".gz", "gzip", true
		}
	}
	return "", "", false
}

func serveWholeFile(rw *proto.ResponseWriter, path, contentType, contentEncoding string) error {
	f, err := os.Open(path)
	if err != nil {
		rw.WriteError(404, "Not Found")
		return nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		rw.WriteError(500, "Internal Server Error")
		return err
	}

	rw.Header().Set([]byte("Content-Type"), []byte(contentType))
	rw.Header().Set([]byte("Content-Length"), []byte(strconv.FormatInt(info.Size(), 10)))
	rw.Header().Set([]byte("Last-Modified"), []byte(info.ModTime().UTC().Format(http.TimeFormat)))
	if contentEncoding != "" {
		rw.Header().Set([]byte("Content-Encoding"), []byte(contentEncoding))
	}
	rw.WriteHeader(200)

	// WriteFile hands f off to whatever transport drives rw (sendfile(2)
	// on the raw fd, or netio.SendFile over a blocking net.Conn); that
	// transport owns closing f once the body is sent.
	return rw.WriteFile(f, 0, info.Size())
}

// serveRange handles a single-range "Range: bytes=start-end" request. A
// multi-range request (rare for a static file server, common only for
// seekable-media scrubbing clients requesting several spans) falls back
// to a whole-file response rather than multipart/byteranges encoding.
func serveRange(rw *proto.ResponseWriter, path string, info os.FileInfo, contentType, rangeHeader string) error {
	if strings.Contains(rangeHeader, ",") {
		return serveWholeFile(rw, path, contentType, "")
	}
	start, end, ok := parseByteRange(rangeHeader, info.Size())
	if !ok {
		rw.Header().Set([]byte("Content-Range"), []byte(fmt.Sprintf("bytes */%d", info.Size())))
		rw.WriteError(416, "Range Not Satisfiable")
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		rw.WriteError(404, "Not Found")
		return nil
	}

	length := end - start + 1
	rw.Header().Set([]byte("Content-Type"), []byte(contentType))
	rw.Header().Set([]byte("Content-Range"), []byte(fmt.Sprintf("bytes %d-%d/%d", start, end, info.Size())))
	rw.Header().Set([]byte("Content-Length"), []byte(strconv.FormatInt(length, 10)))
	rw.Header().Set([]byte("Accept-Ranges"), []byte("bytes"))
	rw.WriteHeader(206)

	return rw.WriteFile(f, start, length)
}

func parseByteRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false // multi-range, not supported
	}

	dash := strings.IndexByte(spec, '-')
	if dash == -1 {
		return 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	switch {
	case startStr == "" && endStr != "":
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, false
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, true
	case startStr != "":
		s, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || s < 0 || s >= size {
			return 0, 0, false
		}
		e := size - 1
		if endStr != "" {
			parsedEnd, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || parsedEnd < s {
				return 0, 0, false
			}
			if parsedEnd < e {
				e = parsedEnd
			}
		}
		return s, e, true
	default:
		return 0, 0, false
	}
}

// sanitizeRequestPath cleans reqPath as if rooted at "/", so ".."
// components stop at the document root instead of climbing above it (no
// error is returned for them), and strips the leading "/".
func sanitizeRequestPath(reqPath string) (string, error) {
	cleaned := filepath.Clean("/" + reqPath)
	if strings.HasPrefix(cleaned, "..") {
		return "", ErrForbidden
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

// onTheFlyCompressLimit bounds how large a file this pipeline will read
// entirely into memory to compress per request; larger text files should
// ship a precompressed ".gz"/".br" sibling instead.
const onTheFlyCompressLimit = 1 << 20 // 1 MiB

var compressibleTypes = map[string]bool{
	"text/html; charset=utf-8":  true,
	"text/css":                  true,
	"text/plain; charset=utf-8": true,
	"application/javascript":    true,
	"application/json":          true,
	"image/svg+xml":             true,
}

func isCompressible(contentType string) bool {
	return compressibleTypes[contentType]
}

// preferredEncoding picks brotli over gzip when the client advertises
// both, matching the negotiatePrecompressed sibling-file preference.
func preferredEncoding(req *proto.Request) (string, bool) {
	accept, _ := req.GetHeaderString("Accept-Encoding")
	if strings.Contains(accept, "br") {
		return "br", true
	}
	if strings.Contains(accept, "gzip") {
		return "gzip", true
	}
	return "", false
}

func serveCompressed(rw *proto.ResponseWriter, path, contentType, encoding string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		rw.WriteError(404, "Not Found")
		return nil
	}

	compressed, err := compressBytes(raw, encoding)
	if err != nil {
		return serveWholeFile(rw, path, contentType, "")
	}

	rw.Header().Set([]byte("Content-Type"), []byte(contentType))
	rw.Header().Set([]byte("Content-Encoding"), []byte(encoding))
	rw.Header().Set([]byte("Content-Length"), []byte(strconv.FormatInt(int64(len(compressed)), 10)))
	rw.Header().Set([]byte("Vary"), []byte("Accept-Encoding"))
	rw.WriteHeader(200)
	_, err = rw.Write(compressed)
	return err
}

// compressBytes gzip- or brotli-encodes data for a text mime type with no
// precompressed sibling on disk. Used sparingly (small generated bodies,
// not large static files) since it runs per request.
func compressBytes(data []byte, encoding string) ([]byte, error) {
	var buf byteAccumulator
	switch encoding {
	case "br":
		w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "gzip":
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return data, nil
	}
	return buf.b, nil
}

// byteAccumulator is a minimal io.Writer byte sink, avoiding a
// bytes.Buffer dependency for what's otherwise a byte-slice-only file.
type byteAccumulator struct{ b []byte }

func (a *byteAccumulator) Write(p []byte) (int, error) {
	a.b = append(a.b, p...)
	return len(p), nil
}
