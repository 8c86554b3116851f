// Package blob stores uploaded photos in an S3-compatible object store and
// hands back publicly fetchable URLs.
package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the base URL returned for stored objects; when empty
	// it is derived from Endpoint.
	PublicURL string
}

func New(opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}

	publicURL := strings.TrimSuffix(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + opts.Endpoint
	}

	return &Store{client: client, bucket: opts.Bucket, publicURL: publicURL}, nil
}

// EnsureBucket creates the bucket on first run.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Store uploads the content under a fresh uuid-prefixed key and returns the
// public URL. The original filename is kept in the key for operator
// friendliness only; uniqueness comes from the uuid.
func (s *Store) Store(ctx context.Context, filename, contentType string, size int64, content io.Reader) (string, error) {
	key := uuid.NewString() + "-" + sanitizeFilename(filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, content, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return s.publicURL + "/" + s.bucket + "/" + key, nil
}

// Delete removes the object a previously returned URL points at.
func (s *Store) Delete(ctx context.Context, rawURL string) error {
	key, err := s.objectKey(rawURL)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// objectKey maps a public URL back to the object key inside our bucket.
func (s *Store) objectKey(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse blob url: %w", err)
	}
	prefix := "/" + s.bucket + "/"
	if !strings.HasPrefix(parsed.Path, prefix) {
		return "", fmt.Errorf("blob url %q is not in bucket %q", rawURL, s.bucket)
	}
	key := strings.TrimPrefix(parsed.Path, prefix)
	if key == "" {
		return "", fmt.Errorf("blob url %q has no object key", rawURL)
	}
	return key, nil
}

func sanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	if base == "" || base == "." {
		return "upload"
	}
	return base
}
