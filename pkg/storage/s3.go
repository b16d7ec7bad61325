package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const DefaultUploadExpiry = 15 * time.Minute

type S3Config struct {
	Endpoint  string // empty for AWS, set for S3-compatible stores
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// S3Presigner signs PutObject requests against a single bucket.
type S3Presigner struct {
	presign *s3.PresignClient
	bucket  string
	now     func() time.Time
}

func NewS3Presigner(client *s3.Client, bucket string) *S3Presigner {
	return &S3Presigner{
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		now:     time.Now,
	}
}

// NewS3PresignerFromConfig loads the AWS configuration chain, preferring static
// credentials when both keys are set.
func NewS3PresignerFromConfig(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Presigner, error) {
	logger.InfoContext(ctx, "Initializing S3 presigner", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3Presigner(client, cfg.Bucket), nil
}

func (p *S3Presigner) PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (*UploadURL, error) {
	if expires <= 0 {
		expires = DefaultUploadExpiry
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}

	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	req, err := p.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for %s: %w", key, err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) > 0 && name != "Host" {
			headers[name] = values[0]
		}
	}

	return &UploadURL{
		URL:       req.URL,
		Method:    req.Method,
		Key:       key,
		Headers:   headers,
		ExpiresAt: p.now().Add(expires).UTC(),
	}, nil
}
