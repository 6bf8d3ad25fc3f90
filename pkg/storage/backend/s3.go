// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/LeeDigitalWorks/blobgate/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func init() {
	Register(types.StorageTypeS3, NewS3)
}

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores each file at <prefix><bucketId>/<fileId> in an S3-compatible bucket.
type S3 struct {
	client S3API
	bucket string
	prefix string
}

// NewS3 creates an S3 backend
func NewS3(cfg types.BackendConfig) (types.Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for S3 backend")
	}

	opts := []func(*config.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3WithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket, cfg.Prefix), nil
}

// NewS3WithClient builds the backend over an existing client.
func NewS3WithClient(client S3API, bucket, prefix string) *S3 {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) Type() types.StorageType {
	return types.StorageTypeS3
}

func (s *S3) key(bucketID, fileID string) string {
	return s.prefix + objectKey(bucketID, fileID)
}

func (s *S3) SaveFile(ctx context.Context, bucketID, fileID string, data []byte) error {
	if err := validateIDs(bucketID, fileID); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(bucketID, fileID)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *S3) GetBinaryContent(ctx context.Context, bucketID, fileID string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(bucketID, fileID)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s/%s", ErrFileNotFound, bucketID, fileID)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

// RemoveFile deletes the object. S3 treats deleting a missing key as success.
func (s *S3) RemoveFile(ctx context.Context, bucketID, fileID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(bucketID, fileID)),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3) SumOfFileSizes(ctx context.Context, bucketID string) (int64, error) {
	var total int64
	err := s.each(ctx, bucketID, func(obj s3types.Object) bool {
		total += aws.ToInt64(obj.Size)
		return true
	})
	return total, err
}

func (s *S3) NumberOfFiles(ctx context.Context, bucketID string) (int64, error) {
	var n int64
	err := s.each(ctx, bucketID, func(s3types.Object) bool {
		n++
		return true
	})
	return n, err
}

// ListFiles pages through the bucket prefix lazily; the next page is fetched only
// when the consumer keeps iterating.
func (s *S3) ListFiles(ctx context.Context, bucketID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		prefix := s.prefix + bucketID + "/"
		err := s.each(ctx, bucketID, func(obj s3types.Object) bool {
			return yield(strings.TrimPrefix(aws.ToString(obj.Key), prefix), nil)
		})
		if err != nil {
			yield("", err)
		}
	}
}

// each visits every object under the bucket prefix until fn returns false.
func (s *S3) each(ctx context.Context, bucketID string, fn func(s3types.Object) bool) error {
	prefix := s.prefix + bucketID + "/"
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			if !fn(obj) {
				return nil
			}
		}
	}
	return nil
}

func (s *S3) Close() error {
	return nil
}
