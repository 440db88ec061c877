package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Options configures the S3 uploader.
type S3Options struct {
	Bucket string
	Region string
	// Endpoint points at an S3-compatible service such as MinIO. Enables path-style addressing.
	Endpoint string
	// PublicBaseURL, when set, prefixes returned object URLs (CDN in front of the bucket).
	PublicBaseURL string
}

// S3Uploader stores objects in an S3 bucket.
type S3Uploader struct {
	uploader *manager.Uploader
	opts     S3Options
}

// NewS3Uploader loads AWS credentials from the default chain and builds an uploader.
func NewS3Uploader(ctx context.Context, opts S3Options) (*S3Uploader, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{uploader: manager.NewUploader(client), opts: opts}, nil
}

// Upload writes body under key and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.opts.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}
	return PublicURL(u.opts, key), nil
}

// PublicURL returns where an uploaded object can be fetched from.
func PublicURL(opts S3Options, key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case opts.PublicBaseURL != "":
		return strings.TrimRight(opts.PublicBaseURL, "/") + "/" + escaped
	case opts.Endpoint != "":
		return strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", opts.Bucket, opts.Region, escaped)
	}
}
