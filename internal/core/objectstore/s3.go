// Package objectstore holds the binary storage boundary. Documents live in
// one of two buckets picked by their visibility class; a DocumentRef is
// resolved to a bucket and key exactly once, here.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/corpora-hq/corpora/internal/config"
	"github.com/corpora-hq/corpora/internal/core"
	"github.com/corpora-hq/corpora/internal/models"
)

var _ core.ObjectClient = (*S3Client)(nil)

// S3Client implements core.ObjectClient on AWS S3.
type S3Client struct {
	client        *s3.Client
	privateBucket string
	publicBucket  string
}

// NewS3Client validates the storage configuration and builds the client.
func NewS3Client(ctx context.Context, cfg *config.Config) (*S3Client, error) {
	st := cfg.Storage
	if st.AccessKey == "" || st.SecretKey == "" {
		return nil, fmt.Errorf("storage credentials not set")
	}
	if st.Region == "" {
		return nil, fmt.Errorf("storage region not set")
	}
	if st.PrivateBucket == "" || st.PublicBucket == "" {
		return nil, fmt.Errorf("both private and public buckets must be set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(st.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(st.AccessKey, st.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Client{
		client:        s3.NewFromConfig(awsCfg),
		privateBucket: st.PrivateBucket,
		publicBucket:  st.PublicBucket,
	}, nil
}

func (c *S3Client) bucketFor(ref models.DocumentRef) string {
	if ref.Visibility == models.VisibilityPublic {
		return c.publicBucket
	}
	return c.privateBucket
}

// Upload streams a document binary into the bucket for its visibility class.
func (c *S3Client) Upload(ctx context.Context, ref models.DocumentRef, data io.Reader, contentType string) error {
	uploader := manager.NewUploader(c.client)

	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := uploader.Upload(ctxUpload, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketFor(ref)),
		Key:         aws.String(ref.StorageKey),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

// Fetch reads a document binary back in full. Extraction needs the whole
// body anyway, so no streaming reader is exposed.
func (c *S3Client) Fetch(ctx context.Context, ref models.DocumentRef) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := c.client.GetObject(ctxGet, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketFor(ref)),
		Key:    aws.String(ref.StorageKey),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *S3Client) Delete(ctx context.Context, ref models.DocumentRef) error {
	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.client.DeleteObject(ctxDel, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketFor(ref)),
		Key:    aws.String(ref.StorageKey),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed: %w", err)
	}
	return nil
}
