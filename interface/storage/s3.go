package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tesseraeo/tessera-client-go/service"
)

// S3Strategy stores objects in an S3 bucket.
type S3Strategy struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
}

// NewS3Strategy creates an S3 client. Region and credentials come from the
// usual AWS configuration chain, or from accessKey/secretKey when both are
// set. endpoint overrides the AWS endpoint (MinIO and friends).
func NewS3Strategy(ctx context.Context, endpoint, accessKey, secretKey string) (*S3Strategy, error) {
	var opts []func(*config.LoadOptions) error
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewS3Strategy: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return &S3Strategy{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
	}, nil
}

// UploadFile implements Strategy. Upload errors are temporary.
func (s *S3Strategy) UploadFile(ctx context.Context, uri string, data io.Reader) error {
	bucket, key, err := parseBucket(uri, "s3://")
	if err != nil {
		return fmt.Errorf("UploadFile.%w", err)
	}
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   data,
	}); err != nil {
		return service.MakeTemporary(fmt.Errorf("UploadFile.Upload: %w", err))
	}
	return nil
}

// DownloadToFile implements Strategy
func (s *S3Strategy) DownloadToFile(ctx context.Context, uri, localPath string) error {
	bucket, key, err := parseBucket(uri, "s3://")
	if err != nil {
		return fmt.Errorf("DownloadToFile.%w", err)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0766); err != nil {
		return fmt.Errorf("DownloadToFile.MkdirAll: %w", err)
	}
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("DownloadToFile.Create: %w", err)
	}
	defer f.Close()
	if _, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		if isNoSuchKey(err) {
			return ErrFileNotFound{uri}
		}
		return service.MakeTemporary(fmt.Errorf("DownloadToFile.Download: %w", err))
	}
	return nil
}

// Download implements Strategy
func (s *S3Strategy) Download(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := parseBucket(uri, "s3://")
	if err != nil {
		return nil, fmt.Errorf("Download.%w", err)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrFileNotFound{uri}
		}
		return nil, service.MakeTemporary(fmt.Errorf("Download.GetObject: %w", err))
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("Download.ReadAll: %w", err))
	}
	return content, nil
}

// Delete implements Strategy
func (s *S3Strategy) Delete(ctx context.Context, uri string) error {
	exists, err := s.Exists(ctx, uri)
	if err != nil {
		return fmt.Errorf("Delete.%w", err)
	}
	if !exists {
		return ErrFileNotFound{uri}
	}
	bucket, key, err := parseBucket(uri, "s3://")
	if err != nil {
		return fmt.Errorf("Delete.%w", err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("Delete.DeleteObject: %w", err)
	}
	return nil
}

// Exists implements Strategy
func (s *S3Strategy) Exists(ctx context.Context, uri string) (bool, error) {
	bucket, key, err := parseBucket(uri, "s3://")
	if err != nil {
		return false, fmt.Errorf("Exists.%w", err)
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, nil
	}
	return true, nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
