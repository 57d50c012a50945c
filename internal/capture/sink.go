package capture

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FileSink writes artifacts under Dir and returns file URLs.
type FileSink struct {
	Dir string
}

func (f FileSink) Put(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(f.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write capture: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

// PutObjectAPI is the slice of the S3 client the sink uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads artifacts to a bucket. BaseURL, when set, replaces the
// default virtual-hosted bucket URL in returned links.
type S3Sink struct {
	Client  PutObjectAPI
	Bucket  string
	Prefix  string
	Region  string
	BaseURL string
}

// NewS3Sink builds a sink using the default AWS credential chain.
func NewS3Sink(ctx context.Context, bucket, region, prefix, baseURL string) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &S3Sink{
		Client:  s3.NewFromConfig(cfg),
		Bucket:  bucket,
		Prefix:  prefix,
		Region:  cfg.Region,
		BaseURL: baseURL,
	}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, data []byte) (string, error) {
	objectKey := strings.TrimPrefix(strings.TrimSuffix(s.Prefix, "/")+"/"+key, "/")
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", s.Bucket, objectKey, err)
	}
	if s.BaseURL != "" {
		return strings.TrimSuffix(s.BaseURL, "/") + "/" + objectKey, nil
	}
	region := s.Region
	if region == "" {
		region = "us-east-1"
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.Bucket, region, objectKey), nil
}
