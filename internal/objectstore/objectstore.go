// Package objectstore wraps the S3 bucket that holds the source documents
// and the staged audio files.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	// ErrTransport means the bucket could not be reached or used.
	ErrTransport      = errors.New("object storage unavailable")
	ErrAccessDenied   = fmt.Errorf("%w: access denied", ErrTransport)
	ErrBucketNotFound = fmt.Errorf("%w: bucket not found", ErrTransport)
	// ErrStorage covers failed reads and writes of single objects.
	ErrStorage = errors.New("object storage failure")
)

// API is the subset of the S3 client used here.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Client struct {
	api    API
	bucket string
}

// NewFromConfig builds an S3 client from an AWS config and checks the bucket.
func NewFromConfig(ctx context.Context, cfg aws.Config, bucket string) (*Client, error) {
	return New(ctx, s3.NewFromConfig(cfg), bucket)
}

// New checks that the bucket exists and is accessible.
func New(ctx context.Context, api API, bucket string) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket name is required", ErrTransport)
	}
	if _, err := api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, classify(bucket, err)
	}
	return &Client{api: api, bucket: bucket}, nil
}

func (c *Client) Bucket() string { return c.bucket }

// URI returns the s3:// address of key.
func (c *Client) URI(key string) string {
	return "s3://" + c.bucket + "/" + key
}

// ListByExtension returns every key ending in ext, case-insensitively.
func (c *Client) ListByExtension(ctx context.Context, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{Bucket: aws.String(c.bucket)})
	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify(c.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(strings.ToLower(key), ext) {
				keys = append(keys, key)
			}
		}
	}
	return keys, nil
}

// Download stores key under dir using its base name. An existing local file
// is kept and reported with fresh=false.
func (c *Client) Download(ctx context.Context, key, dir string) (path string, fresh bool, err error) {
	path = filepath.Join(dir, filepath.Base(key))
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(c.bucket), Key: aws.String(key)})
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %w", ErrStorage, key, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := io.Copy(tmp, out.Body); err != nil {
		_ = tmp.Close()
		return "", false, fmt.Errorf("%w: read %s: %w", ErrStorage, key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return path, true, nil
}

// Upload writes body under key and returns its s3:// URI.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("%w: put %s: %w", ErrStorage, key, err)
	}
	return c.URI(key), nil
}

func classify(bucket string, err error) error {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		switch re.HTTPStatusCode() {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s: %w", ErrAccessDenied, bucket, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s: %w", ErrBucketNotFound, bucket, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrTransport, bucket, err)
}
