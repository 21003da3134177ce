package storage

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOOptions configures a MinIO client.
type MinIOOptions struct {
	Endpoint       string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// MinIOClient stores objects in a MinIO bucket
type MinIOClient struct {
	client *minio.Client
	bucket string
}

// NewMinIOClient connects to MinIO and creates the bucket when missing.
func NewMinIOClient(ctx context.Context, opts MinIOOptions) (*MinIOClient, error) {
	slog.Info("minio_client_init", "endpoint", opts.Endpoint, "bucket", opts.Bucket)

	transport, err := minio.DefaultTransport(opts.UseSSL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build minio transport")
	}
	transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext
	transport.ResponseHeaderTimeout = opts.RequestTimeout

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		slog.Error("minio_client_failed", "endpoint", opts.Endpoint, "error", err)
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		slog.Error("minio_bucket_check_failed", "bucket", opts.Bucket, "error", err)
		return nil, errors.Wrap(err, "failed to check bucket")
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			slog.Error("minio_make_bucket_failed", "bucket", opts.Bucket, "error", err)
			return nil, errors.Wrap(err, "failed to create bucket")
		}
		slog.Info("minio_bucket_created", "bucket", opts.Bucket)
	}

	return &MinIOClient{client: client, bucket: opts.Bucket}, nil
}

func (c *MinIOClient) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		slog.Error("minio_put_object_failed", "key", key, "error", err)
		return errors.Wrap(err, "failed to put object")
	}
	return nil
}

func (c *MinIOClient) Delete(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		slog.Error("minio_remove_object_failed", "key", key, "error", err)
		return errors.Wrap(err, "failed to delete object")
	}
	return nil
}

func (c *MinIOClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		slog.Error("minio_stat_object_failed", "key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

func (c *MinIOClient) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			slog.Error("minio_list_failed", "prefix", prefix, "error", obj.Err)
			return nil, errors.Wrap(obj.Err, "failed to list objects")
		}
		keys = append(keys, obj.Key)
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, nil
}
