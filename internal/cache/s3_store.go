package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options configures an S3-backed store.
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

type s3LoadOptions struct {
	region   string
	endpoint string
}

// S3Option customizes how the AWS client is built.
type S3Option func(*s3LoadOptions)

// WithS3Region sets the region override. Defaults to the env/profile chain.
func WithS3Region(region string) S3Option {
	return func(o *s3LoadOptions) { o.region = region }
}

// WithS3Endpoint points the client at an S3-compatible endpoint and switches
// to path-style addressing.
func WithS3Endpoint(endpoint string) S3Option {
	return func(o *s3LoadOptions) { o.endpoint = endpoint }
}

// NewS3Client loads AWS config from the environment and builds an S3 client.
func NewS3Client(ctx context.Context, opts ...S3Option) (*s3.Client, error) {
	var o s3LoadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(o.region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.endpoint != "" {
			so.BaseEndpoint = aws.String(o.endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

// S3Store keeps archives as objects under bucket/prefix.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store wraps client. An empty prefix stores objects at the bucket root.
func NewS3Store(client S3API, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("s3 client required")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// OpenS3Store builds a client from opts and wraps it.
func OpenS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var clientOpts []S3Option
	if opts.Region != "" {
		clientOpts = append(clientOpts, WithS3Region(opts.Region))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, WithS3Endpoint(opts.Endpoint))
	}
	client, err := NewS3Client(ctx, clientOpts...)
	if err != nil {
		return nil, err
	}
	return NewS3Store(client, opts.Bucket, opts.Prefix)
}

func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", s.bucket, objKey, err)
	}
	return out.Body, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body io.ReadSeeker) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	size, err := body.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to size cache entry: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind cache entry: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objKey),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", s.bucket, objKey, err)
	}
	return nil
}

func (s *S3Store) Stat(ctx context.Context, key string) (*Entry, error) {
	objKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to head s3://%s/%s: %w", s.bucket, objKey, err)
	}
	return &Entry{
		Key:       key,
		SizeBytes: aws.ToInt64(out.ContentLength),
		ModTime:   aws.ToTime(out.LastModified),
	}, nil
}

func (s *S3Store) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if strings.Contains(name, "/") || !strings.HasSuffix(name, ArchiveExt) {
				continue
			}
			entries = append(entries, Entry{
				Key:       strings.TrimSuffix(name, ArchiveExt),
				SizeBytes: aws.ToInt64(obj.Size),
				ModTime:   aws.ToTime(obj.LastModified),
			})
		}
	}
	return entries, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	objKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", s.bucket, objKey, err)
	}
	return nil
}

func (s *S3Store) objectKey(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return s.prefix + key + ArchiveExt, nil
}

func isS3NotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	return errors.As(err, &notFound)
}
