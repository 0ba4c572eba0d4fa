package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioConfig describes an S3-compatible bucket.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	PublicBase string // browser-facing base, e.g. "http://localhost:9000/models"
}

// MinioStorage stores blobs in any S3-compatible bucket. Like SupabaseStorage
// its refs are public URLs, so it shares the remote tag.
type MinioStorage struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

// NewMinioStorage makes sure the bucket exists and is publicly readable.
func NewMinioStorage(ctx context.Context, cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		log.Info().Str("bucket", cfg.Bucket).Msg("storage: created bucket")
	}

	if err := client.SetBucketPolicy(ctx, cfg.Bucket, publicReadPolicy(cfg.Bucket)); err != nil {
		return nil, fmt.Errorf("set bucket policy: %w", err)
	}

	return &MinioStorage{
		client:     client,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
	}, nil
}

func (s *MinioStorage) Kind() Kind { return KindRemote }

// Put streams r into the bucket. size may be -1, in which case minio buffers.
func (s *MinioStorage) Put(ctx context.Context, name string, r io.Reader, size int64) (Blob, error) {
	info, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: contentTypeFor(name),
	})
	if err != nil {
		return Blob{}, &Error{Op: "put", Ref: name, Err: fmt.Errorf("%w: %v", ErrUploadFailed, err)}
	}
	return Blob{Ref: s.publicURL(name), Backend: KindRemote, Size: info.Size}, nil
}

// Delete removes the object behind ref. NoSuchKey counts as success.
func (s *MinioStorage) Delete(ctx context.Context, ref string) error {
	key := s.key(ref)
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return &Error{Op: "delete", Ref: ref, Err: fmt.Errorf("%w: %v", ErrDeleteFailed, err)}
	}
	return nil
}

func (s *MinioStorage) ResolveURL(ref string) string {
	if IsAbsoluteURL(ref) {
		return ref
	}
	return s.publicURL(ref)
}

func (s *MinioStorage) publicURL(key string) string {
	return s.publicBase + "/" + key
}

// key strips the public base from a URL ref; foreign URLs fall back to their basename.
func (s *MinioStorage) key(ref string) string {
	if rest, ok := strings.CutPrefix(ref, s.publicBase+"/"); ok {
		return rest
	}
	return objectName(ref)
}

// publicReadPolicy allows anonymous GET on every object in bucket.
func publicReadPolicy(bucket string) string {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": "*",
				"Action":    "s3:GetObject",
				"Resource":  fmt.Sprintf("arn:aws:s3:::%s/*", bucket),
			},
		},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}
