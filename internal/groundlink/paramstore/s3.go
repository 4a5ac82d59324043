package paramstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/groundlink/pkg/log"
	"github.com/autopeer-io/groundlink/pkg/options"
)

const objectTimeLayout = "20060102T150405.000Z"

// S3Archive uploads snapshots as JSON objects to an S3 compatible bucket.
type S3Archive struct {
	client     *minio.Client
	bucketName string
	prefix     string
	logger     log.Logger
}

var _ Archive = (*S3Archive)(nil)

func NewS3Archive(opts *options.S3Options, logger log.Logger) (*S3Archive, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Archive{
		client:     client,
		bucketName: opts.BucketName,
		prefix:     opts.Prefix,
		logger:     log.OrStd(logger).WithName("s3"),
	}, nil
}

// CheckBucket creates the bucket when it does not exist.
func (a *S3Archive) CheckBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		a.logger.Info("Bucket does not exist, creating", "bucket", a.bucketName)
		if err := a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (a *S3Archive) Put(ctx context.Context, s Snapshot) (string, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := objectKey(a.prefix, s.LinkID, s.ReceivedAt)
	_, err = a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	a.logger.Info("Archived parameter snapshot", "key", key, "count", len(s.Values))
	return key, nil
}

func (a *S3Archive) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucketName, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}

// objectKey is {prefix}/{linkID}/{UTC time}.json.
func objectKey(prefix, linkID string, at time.Time) string {
	if linkID == "" {
		linkID = "unknown"
	}
	return path.Join(prefix, linkID, at.UTC().Format(objectTimeLayout)+".json")
}
