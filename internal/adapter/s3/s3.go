// Package s3 implements adapter.ObjectStore on Amazon S3.
package s3

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/eremconecta/portal/internal/adapter"
)

// PutObjectAPI is the subset of *s3.Client methods used by Store.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store writes objects with PutObject.
type Store struct {
	client PutObjectAPI
}

func NewStore(client PutObjectAPI) *Store {
	return &Store{client: client}
}

func (s *Store) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if bucket == "" {
		return adapter.ErrBucketRequired
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object to S3: %w", err)
	}
	return nil
}
