package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// SupabaseConfig holds the project settings for Supabase Storage.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://abcdefghijklm.supabase.co.
	URL    string
	Key    string
	Bucket string
	// Timeout bounds a single upload or delete. Zero means five minutes.
	Timeout time.Duration
}

// SupabaseStorage stores blobs through the Supabase Storage REST API. Refs it
// hands out are public object URLs.
type SupabaseStorage struct {
	apiBase    string
	bucket     string
	key        string
	httpClient *http.Client
}

// NewSupabaseStorage validates cfg and returns a ready SupabaseStorage.
func NewSupabaseStorage(cfg SupabaseConfig) (*SupabaseStorage, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid supabase url %q", cfg.URL)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("supabase bucket is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &SupabaseStorage{
		apiBase:    strings.TrimRight(cfg.URL, "/") + "/storage/v1",
		bucket:     cfg.Bucket,
		key:        cfg.Key,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (s *SupabaseStorage) Kind() Kind { return KindRemote }

// Put uploads r and returns the object's public URL as its ref. Only a 200
// from the API counts as success.
func (s *SupabaseStorage) Put(ctx context.Context, name string, r io.Reader, size int64) (Blob, error) {
	body := &countingReader{r: r}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(name), body)
	if err != nil {
		return Blob{}, &Error{Op: "put", Ref: name, Err: err}
	}
	if size >= 0 {
		req.ContentLength = size
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Blob{}, &Error{Op: "put", Ref: name, Err: fmt.Errorf("%w: %v", ErrUploadFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Blob{}, &Error{
			Op:  "put",
			Ref: name,
			Err: fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, strings.TrimSpace(string(msg))),
		}
	}

	return Blob{Ref: s.publicURL(name), Backend: KindRemote, Size: body.n}, nil
}

// Delete accepts either a full public URL or a bare object name. Any status
// other than 200, including 404, fails with ErrDeleteFailed.
func (s *SupabaseStorage) Delete(ctx context.Context, ref string) error {
	name := objectName(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(name), nil)
	if err != nil {
		return &Error{Op: "delete", Ref: ref, Err: err}
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "delete", Ref: ref, Err: fmt.Errorf("%w: %v", ErrDeleteFailed, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Op: "delete", Ref: ref, Err: fmt.Errorf("%w: status %d", ErrDeleteFailed, resp.StatusCode)}
	}
	return nil
}

// ResolveURL is the identity for URL refs.
func (s *SupabaseStorage) ResolveURL(ref string) string {
	if IsAbsoluteURL(ref) {
		return ref
	}
	return s.publicURL(ref)
}

func (s *SupabaseStorage) objectURL(name string) string {
	return fmt.Sprintf("%s/object/%s/%s", s.apiBase, s.bucket, url.PathEscape(name))
}

func (s *SupabaseStorage) publicURL(name string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.apiBase, s.bucket, url.PathEscape(name))
}

func (s *SupabaseStorage) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.key)
}

// objectName reduces a public URL to the trailing object name.
func objectName(ref string) string {
	if !IsAbsoluteURL(ref) {
		return ref
	}
	u, _ := url.Parse(ref)
	name, err := url.PathUnescape(path.Base(u.Path))
	if err != nil {
		return path.Base(u.Path)
	}
	return name
}
