package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	gstorage "cloud.google.com/go/storage"

	"github.com/tesseraeo/tessera-client-go/service"
)

// GsStrategy stores objects in Google Cloud Storage.
type GsStrategy struct {
	client *gstorage.Client
}

// NewGsStrategy creates a client with the ambient Google credentials.
func NewGsStrategy(ctx context.Context) (*GsStrategy, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGsStrategy: %w", err)
	}
	return &GsStrategy{client: client}, nil
}

func (s *GsStrategy) object(uri string) (*gstorage.ObjectHandle, error) {
	bucket, object, err := parseBucket(uri, "gs://")
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(bucket).Object(object), nil
}

// UploadFile implements Strategy. Upload errors are temporary.
func (s *GsStrategy) UploadFile(ctx context.Context, uri string, data io.Reader) error {
	obj, err := s.object(uri)
	if err != nil {
		return fmt.Errorf("UploadFile.%w", err)
	}
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return service.MakeTemporary(fmt.Errorf("UploadFile.Copy: %w", err))
	}
	if err := w.Close(); err != nil {
		return service.MakeTemporary(fmt.Errorf("UploadFile.Close: %w", err))
	}
	return nil
}

// DownloadToFile implements Strategy
func (s *GsStrategy) DownloadToFile(ctx context.Context, uri, localPath string) error {
	obj, err := s.object(uri)
	if err != nil {
		return fmt.Errorf("DownloadToFile.%w", err)
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return ErrFileNotFound{uri}
	} else if err != nil {
		return service.MakeTemporary(fmt.Errorf("DownloadToFile.NewReader: %w", err))
	}
	defer r.Close()
	if err := os.MkdirAll(filepath.Dir(localPath), 0766); err != nil {
		return fmt.Errorf("DownloadToFile.MkdirAll: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("DownloadToFile.Create: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return service.MakeTemporary(fmt.Errorf("DownloadToFile.Copy: %w", err))
	}
	return f.Close()
}

// Download implements Strategy
func (s *GsStrategy) Download(ctx context.Context, uri string) ([]byte, error) {
	obj, err := s.object(uri)
	if err != nil {
		return nil, fmt.Errorf("Download.%w", err)
	}
	r, err := obj.NewReader(ctx)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return nil, ErrFileNotFound{uri}
	} else if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("Download.NewReader: %w", err))
	}
	defer r.Close()
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("Download.ReadAll: %w", err))
	}
	return content, nil
}

// Delete implements Strategy
func (s *GsStrategy) Delete(ctx context.Context, uri string) error {
	obj, err := s.object(uri)
	if err != nil {
		return fmt.Errorf("Delete.%w", err)
	}
	if err := obj.Delete(ctx); errors.Is(err, gstorage.ErrObjectNotExist) {
		return ErrFileNotFound{uri}
	} else if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Exists implements Strategy
func (s *GsStrategy) Exists(ctx context.Context, uri string) (bool, error) {
	obj, err := s.object(uri)
	if err != nil {
		return false, fmt.Errorf("Exists.%w", err)
	}
	if _, err := obj.Attrs(ctx); errors.Is(err, gstorage.ErrObjectNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("Exists.Attrs: %w", err)
	}
	return true, nil
}
