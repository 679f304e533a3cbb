package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3Scheme = "s3://"

// objectAPI is the subset of the S3 client the store uses
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store writes attachments to an S3 bucket under attachments/<email id>/
type S3Store struct {
	client objectAPI
	bucket string
}

// NewS3Store loads the default AWS configuration (environment, shared
// config, instance role) and creates a store for bucket.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func newS3StoreWithClient(client objectAPI, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Save implements AttachmentStore. The returned path is s3://bucket/key.
func (s *S3Store) Save(ctx context.Context, emailID uint, filename string, content []byte) (string, error) {
	name := sanitizeFilename(filename)
	key := path.Join("attachments", fmt.Sprintf("%d", emailID), name)

	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileWriteFailed, err)
	}

	return s3Scheme + s.bucket + "/" + key, nil
}

// Get implements AttachmentStore
func (s *S3Store) Get(ctx context.Context, p string) ([]byte, error) {
	prefix := s3Scheme + s.bucket + "/"
	if !strings.HasPrefix(p, prefix) {
		return nil, ErrAccessDenied
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(strings.TrimPrefix(p, prefix)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileReadFailed, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileReadFailed, err)
	}
	return data, nil
}
