// Package mimedb maps file extensions to content types for the static file
// pipeline. The table is built once during configuration and treated as
// read-only afterward, so worker goroutines can look up an extension
// without any locking.
package mimedb

import "strings"

// DB is an extension-to-content-type table. The zero value is an empty
// table; use New to get one pre-seeded with common types.
type DB struct {
	entries map[string]string
	started bool
}

// New returns a DB seeded with the built-in extension table.
func New() *DB {
	db := &DB{entries: make(map[string]string, len(defaultTypes)*2)}
	for ext, ct := range defaultTypes {
		db.entries[ext] = ct
	}
	return db
}

// Register adds or overrides the content type for ext (with or without a
// leading dot). Register panics if called after Start, matching the
// append-only-before-accept-loop contract every vhost registry in this
// module follows: the table is built once during configuration, then
// read without synchronization from worker goroutines.
func (db *DB) Register(ext, contentType string) {
	if db.started {
		panic("mimedb: Register called after Start")
	}
	db.entries[normalizeExt(ext)] = contentType
}

// Start freezes the table against further Register calls.
func (db *DB) Start() {
	db.started = true
}

// Lookup returns the content type registered for ext, and whether one was
// found. Safe for concurrent use once Start has been called.
func (db *DB) Lookup(ext string) (string, bool) {
	ct, ok := db.entries[normalizeExt(ext)]
	return ct, ok
}

// LookupPath extracts the extension from a file path and looks it up.
func (db *DB) LookupPath(path string) (string, bool) {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return "", false
	}
	return db.Lookup(path[dot+1:])
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// defaultTypes mirrors the content-type strings the response package
// pre-compiles as byte slices for common response bodies, keyed here by
// the file extension a static file pipeline would see on disk.
var defaultTypes = map[string]string{
	"html": "text/html; charset=utf-8",
	"htm":  "text/html; charset=utf-8",
	"txt":  "text/plain; charset=utf-8",
	"css":  "text/css",
	"js":   "application/javascript",
	"mjs":  "application/javascript",
	"json": "application/json",
	"xml":  "application/xml",
	"pdf":  "application/pdf",
	"md":   "text/markdown; charset=utf-8",
	"wasm": "application/wasm",
	"yaml": "application/x-yaml",
	"yml":  "application/x-yaml",
	"toml": "application/toml",

	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"avif": "image/avif",
	"bmp":  "image/bmp",
	"ico":  "image/x-icon",
	"svg":  "image/svg+xml",

	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"wav":  "audio/wav",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"opus": "audio/opus",

	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogv":  "video/ogg",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",

	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",

	"gz": "application/gzip",
	"br": "application/x-brotli",
	"zip": "application/zip",
}
