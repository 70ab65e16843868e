// Package objectstore reads uploaded statements from Google Cloud Storage
// or the local filesystem.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// Store resolves gs:// URIs against GCS and everything else against the
// local filesystem. A Store without a GCS client still serves local paths.
type Store struct {
	client        *storage.Client
	uploadTimeout time.Duration
}

// New creates a Store backed by a GCS client using Application Default
// Credentials.
func New(ctx context.Context) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("New: create storage client: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client. client may be nil for local-only use.
func NewWithClient(client *storage.Client) *Store {
	return &Store{client: client, uploadTimeout: 2 * time.Minute}
}

// Close releases the GCS client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// GetBytes downloads the object at p.
func (s *Store) GetBytes(ctx context.Context, p string) ([]byte, error) {
	if !IsGCS(p) {
		data, err := os.ReadFile(LocalPath(p))
		if err != nil {
			return nil, fmt.Errorf("GetBytes: read %q: %w", p, err)
		}
		return data, nil
	}

	bucket, object, err := ParseGCSURI(p)
	if err != nil {
		return nil, fmt.Errorf("GetBytes: %w", err)
	}
	if s.client == nil {
		return nil, fmt.Errorf("GetBytes: no storage client configured for %s", p)
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetBytes: open object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("GetBytes: read object %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// Upload copies a local file to bucket/object and returns its gs:// URI.
func (s *Store) Upload(ctx context.Context, bucket, object, filePath string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("Upload: no storage client configured")
	}
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("Upload: open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy to %s/%s: %w", bucket, object, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize %s/%s: %w", bucket, object, err)
	}
	return gcsScheme + bucket + "/" + object, nil
}

// IsGCS reports whether p is a gs:// URI.
func IsGCS(p string) bool {
	return strings.HasPrefix(p, gcsScheme)
}

// ParseGCSURI splits gs://bucket/path/to/file.pdf into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCS(uri) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, gcsScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// LocalPath strips a file:// prefix.
func LocalPath(p string) string {
	return strings.TrimPrefix(p, "file://")
}

// Filename returns the last path element of a GCS URI or local path.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func Filename(p string) string {
	if _, object, err := ParseGCSURI(p); err == nil {
		return path.Base(object)
	}
	return path.Base(LocalPath(p))
}

// ObjectName builds the object key used for uploaded statements.
func ObjectName(userID, accountID, fileName string) string {
	return path.Join("statements", userID, accountID, path.Base(fileName))
}
