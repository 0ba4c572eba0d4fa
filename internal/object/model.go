// Package object manages uploaded 3D models: validation, storage of the
// primary and companion files, and owner-scoped persistence.
package object

import (
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelvault/service/internal/storage"
)

// FileKind is an accepted model file format.
type FileKind string

const (
	FileOBJ FileKind = "obj"
	FileMTL FileKind = "mtl"
	FileGLB FileKind = "glb"
)

// ParseFileKind accepts obj, mtl and glb, case-insensitively.
func ParseFileKind(s string) (FileKind, bool) {
	switch k := FileKind(strings.ToLower(strings.TrimSpace(s))); k {
	case FileOBJ, FileMTL, FileGLB:
		return k, true
	}
	return "", false
}

// extension returns the lower-cased extension of filename without the dot.
func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// RelatedFile is a companion file stored next to the primary, e.g. an .mtl for an .obj.
type RelatedFile struct {
	OriginalName string       `json:"original_name"`
	FileRef      string       `json:"file_ref"`
	Backend      storage.Kind `json:"backend,omitempty"`
	FileKind     FileKind     `json:"file_kind"`
	FileSize     int64        `json:"file_size_bytes"`
	FileURL      string       `json:"file_url"`
}

// Object is a stored model as returned to clients.
type Object struct {
	ID            int64         `json:"id"`
	OwnerID       int64         `json:"owner_id"`
	OwnerUsername string        `json:"username,omitempty"`
	Title         string        `json:"title"`
	Description   *string       `json:"description"`
	FileRef       string        `json:"file_ref"`
	Backend       storage.Kind  `json:"backend,omitempty"`
	FileKind      FileKind      `json:"file_kind"`
	FileSize      int64         `json:"file_size_bytes"`
	FileURL       string        `json:"file_url"`
	RelatedFiles  []RelatedFile `json:"related_files"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Upload is one file received from a client.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// CreateInput carries a new object's metadata and files.
type CreateInput struct {
	Title       string
	Description string
	FileKind    string
	Primary     *Upload
	Related     []Upload
}

// UpdateInput carries the metadata fields to change; nil means unchanged.
type UpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// Stats summarises what one owner has stored.
type Stats struct {
	ObjectCount int64 `json:"object_count"`
	TotalBytes  int64 `json:"total_size_bytes"`
}
