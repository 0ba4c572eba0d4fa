package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps blobs as flat files under the upload directory, which the
// HTTP server exposes at baseURL.
type LocalStorage struct {
	root    string
	baseURL string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %q: %w", root, err)
	}
	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Kind returns KindLocal.
func (s *LocalStorage) Kind() Kind { return KindLocal }

// Root is the directory blobs are written to.
func (s *LocalStorage) Root() string { return s.root }

// Put never overwrites an existing file; a name collision fails the write.
func (s *LocalStorage) Put(ctx context.Context, name string, r io.Reader, _ int64) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, &Error{Op: "put", Ref: name, Err: err}
	}
	p, err := s.path(name)
	if err != nil {
		return Blob{}, &Error{Op: "put", Ref: name, Err: err}
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Blob{}, &Error{Op: "put", Ref: name, Err: fmt.Errorf("%w: %v", ErrUploadFailed, err)}
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(p)
		return Blob{}, &Error{Op: "put", Ref: name, Err: fmt.Errorf("%w: %v", ErrUploadFailed, err)}
	}

	return Blob{Ref: name, Backend: KindLocal, Size: n}, nil
}

// Delete removes ref. A file that does not exist is not an error.
func (s *LocalStorage) Delete(_ context.Context, ref string) error {
	p, err := s.path(ref)
	if err != nil {
		return &Error{Op: "delete", Ref: ref, Err: err}
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &Error{Op: "delete", Ref: ref, Err: fmt.Errorf("%w: %v", ErrDeleteFailed, err)}
	}
	return nil
}

// ResolveURL returns the public URL of ref under the uploads base URL.
func (s *LocalStorage) ResolveURL(ref string) string {
	return s.baseURL + "/" + ref
}

// path confines name to the upload directory.
func (s *LocalStorage) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, name), nil
}
