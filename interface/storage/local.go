package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStrategy stores objects in the local file tree.
type LocalStrategy struct{}

func localFile(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// UploadFile implements Strategy
func (LocalStrategy) UploadFile(ctx context.Context, uri string, data io.Reader) error {
	p := localFile(uri)
	if err := os.MkdirAll(filepath.Dir(p), 0766); err != nil {
		return fmt.Errorf("UploadFile.MkdirAll: %w", err)
	}
	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("UploadFile.Create: %w", err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		return fmt.Errorf("UploadFile.Copy: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("UploadFile.Close: %w", err)
	}
	return nil
}

// DownloadToFile implements Strategy
func (s LocalStrategy) DownloadToFile(ctx context.Context, uri, localPath string) error {
	content, err := s.Download(ctx, uri)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0766); err != nil {
		return fmt.Errorf("DownloadToFile.MkdirAll: %w", err)
	}
	if err := os.WriteFile(localPath, content, 0666); err != nil {
		return fmt.Errorf("DownloadToFile.WriteFile: %w", err)
	}
	return nil
}

// Download implements Strategy
func (LocalStrategy) Download(ctx context.Context, uri string) ([]byte, error) {
	content, err := os.ReadFile(localFile(uri))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound{uri}
	}
	if err != nil {
		return nil, fmt.Errorf("Download.ReadFile: %w", err)
	}
	return content, nil
}

// Delete implements Strategy
func (LocalStrategy) Delete(ctx context.Context, uri string) error {
	if err := os.Remove(localFile(uri)); os.IsNotExist(err) {
		return ErrFileNotFound{uri}
	} else if err != nil {
		return fmt.Errorf("Delete.Remove: %w", err)
	}
	return nil
}

// Exists implements Strategy
func (LocalStrategy) Exists(ctx context.Context, uri string) (bool, error) {
	if _, err := os.Stat(localFile(uri)); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("Exists.Stat: %w", err)
	}
	return true, nil
}
