package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/xtxerr/rastercalc/internal/errors"
)

// S3Options selects and configures an s3:// backend.
type S3Options struct {
	// Backend is "aws" or "minio".
	Backend string

	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string

	// UseSSL applies to minio.
	UseSSL bool
}

// NewObjectStore builds the configured backend.
func NewObjectStore(ctx context.Context, opts S3Options) (ObjectStore, error) {
	switch opts.Backend {
	case "", "aws":
		return NewAWSStore(ctx, opts)
	case "minio":
		return NewMinioStore(opts)
	}
	return nil, fmt.Errorf("unknown s3 backend %q", opts.Backend)
}

// =============================================================================
// AWS SDK
// =============================================================================

// AWSStore downloads objects with the AWS SDK transfer manager.
type AWSStore struct {
	client     *s3.Client
	downloader *manager.Downloader
}

// NewAWSStore loads the default AWS configuration, overridden by opts.
func NewAWSStore(ctx context.Context, opts S3Options) (*AWSStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &AWSStore{client: client, downloader: manager.NewDownloader(client)}, nil
}

// Download implements ObjectStore.
func (s *AWSStore) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := s.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var nf *types.NotFound
		if errors.As(err, &nsk) || errors.As(err, &nf) {
			return 0, errors.NewNotFound("object", bucket+"/"+key)
		}
		return 0, err
	}
	return n, nil
}

// =============================================================================
// MinIO
// =============================================================================

// MinioStore downloads objects from MinIO or another S3-compatible server.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore connects to opts.Endpoint.
func NewMinioStore(opts S3Options) (*MinioStore, error) {
	if opts.Endpoint == "" {
		return nil, errors.NewMissingField("fetch.s3.endpoint")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  miniocreds.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioStore{client: client}, nil
}

// Download implements ObjectStore.
func (s *MinioStore) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, minioError(err, bucket, key)
	}
	defer obj.Close()

	n, err := io.Copy(io.NewOffsetWriter(w, 0), obj)
	if err != nil {
		return 0, minioError(err, bucket, key)
	}
	return n, nil
}

func minioError(err error, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return errors.NewNotFound("object", bucket+"/"+key)
	}
	return err
}
