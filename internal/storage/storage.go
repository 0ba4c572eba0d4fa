// Package storage persists model files either on the local upload directory or
// in a remote object store, and decides which of the two owns a stored reference.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Kind tags which backend holds a blob.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// ParseKind maps a persisted tag back to a Kind. Unknown or empty tags return
// the empty Kind, which callers treat as "untagged".
func ParseKind(s string) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLocal:
		return KindLocal
	case KindRemote:
		return KindRemote
	}
	return ""
}

// Blob describes a stored file as reported by the backend that wrote it.
type Blob struct {
	Ref     string
	Backend Kind
	Size    int64
}

// Backend is implemented by every place a blob can live.
type Backend interface {
	// Kind reports which tag refs written by this backend carry.
	Kind() Kind
	// Put writes r under name and returns the stored reference and byte count.
	Put(ctx context.Context, name string, r io.Reader, size int64) (Blob, error)
	// Delete removes the blob. Local and MinIO treat a missing blob as
	// success; Supabase reports any non-200 reply as ErrDeleteFailed.
	Delete(ctx context.Context, ref string) error
	// ResolveURL turns a stored ref into a URL a browser can fetch.
	ResolveURL(ref string) string
}

var (
	ErrUploadFailed       = errors.New("upload failed")
	ErrDeleteFailed       = errors.New("delete failed")
	ErrInvalidName        = errors.New("invalid blob name")
	ErrBackendUnavailable = errors.New("storage backend not configured")
)

// Error records the operation and reference a backend call failed on.
type Error struct {
	Op  string
	Ref string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Ref, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// contentTypeFor picks the MIME type served for a model file extension.
func contentTypeFor(name string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "glb":
		return "model/gltf-binary"
	case "obj":
		return "model/obj"
	case "mtl":
		return "model/mtl"
	default:
		return "application/octet-stream"
	}
}

// countingReader tracks how many bytes were read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
