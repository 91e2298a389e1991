// Package storage persists exported rasters to the local file tree, a Google
// Cloud Storage bucket or an S3 bucket, selected by URI scheme.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Strategy reads and writes objects addressed by URI.
type Strategy interface {
	// UploadFile persists the content of data at uri.
	UploadFile(ctx context.Context, uri string, data io.Reader) error
	// DownloadToFile fetches the object at uri into localPath.
	// Raise ErrFileNotFound
	DownloadToFile(ctx context.Context, uri, localPath string) error
	// Download fetches the object at uri.
	// Raise ErrFileNotFound
	Download(ctx context.Context, uri string) ([]byte, error)
	// Delete removes the object at uri.
	// Raise ErrFileNotFound
	Delete(ctx context.Context, uri string) error
	// Exists reports whether an object lives at uri.
	Exists(ctx context.Context, uri string) (bool, error)
}

// ErrFileNotFound is returned when the object does not exist.
type ErrFileNotFound struct {
	File string
}

func (e ErrFileNotFound) Error() string {
	return fmt.Sprintf("File not found: %s", e.File)
}

// NewStrategy returns the Strategy handling the scheme of uri: "gs://" for
// Google Cloud Storage, "s3://" for S3, anything else ("file://" or a plain
// path) for the local file system.
func NewStrategy(ctx context.Context, uri string) (Strategy, error) {
	switch {
	case strings.HasPrefix(uri, "gs://"):
		return NewGsStrategy(ctx)
	case strings.HasPrefix(uri, "s3://"):
		return NewS3Strategy(ctx, "", "", "")
	}
	return LocalStrategy{}, nil
}

// parseBucket splits scheme://bucket/object.
func parseBucket(uri, scheme string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("parseBucket: '%s' is not a %s uri", uri, scheme)
	}
	trimmed := strings.TrimPrefix(uri, scheme)
	i := strings.Index(trimmed, "/")
	if i <= 0 || i == len(trimmed)-1 {
		return "", "", fmt.Errorf("parseBucket: invalid uri '%s'", uri)
	}
	return trimmed[:i], trimmed[i+1:], nil
}
