package archive

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of *s3.Client used by the sink.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads bundles to an S3 bucket.
type S3Sink struct {
	client s3API
	bucket string
	prefix string
}

// S3Options configures an S3 sink. Endpoint selects an S3 compatible store
// and switches to path-style addressing.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// Static keys replace the default credential chain when both are set.
	AccessKeyID     string
	SecretAccessKey string
}

func (o S3Options) loadOptions() []func(*config.LoadOptions) error {
	var opts []func(*config.LoadOptions) error
	if o.Region != "" {
		opts = append(opts, config.WithRegion(o.Region))
	}
	if o.AccessKeyID != "" && o.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, "")))
	}
	return opts
}

// NewS3Sink resolves AWS credentials from opts or, without static keys,
// from the default chain (environment, shared config, instance role).
func NewS3Sink(ctx context.Context, opts S3Options) (*S3Sink, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket must be provided")
	}
	if (opts.AccessKeyID == "") != (opts.SecretAccessKey == "") {
		return nil, errors.New("s3 access key id and secret must be set together")
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts.loadOptions()...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Put(ctx context.Context, key string, blob []byte, expires time.Time) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
		Expires:     aws.Time(expires),
	})
	return err
}
