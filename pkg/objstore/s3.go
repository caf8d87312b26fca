package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type S3Config struct {
	Region        string
	Endpoint      string
	DefaultBucket string
	// Credentials falls back to the default AWS credential chain when nil.
	Credentials *credentials.Credentials
	// ForcePathStyle is needed for S3 compatible endpoints such as MinIO.
	ForcePathStyle bool
}

// S3Store is a Store backed by Amazon S3.
type S3Store struct {
	client        s3iface.S3API
	defaultBucket string
}

var _ Store = (*S3Store)(nil)

// NewS3Store creates a session from config and wraps an S3 client.
func NewS3Store(config *S3Config) (*S3Store, error) {
	awsConfig := aws.NewConfig()
	if config.Region != "" {
		awsConfig = awsConfig.WithRegion(config.Region)
	}
	if config.Endpoint != "" {
		awsConfig = awsConfig.WithEndpoint(config.Endpoint)
	}
	if config.Credentials != nil {
		awsConfig = awsConfig.WithCredentials(config.Credentials)
	}
	awsConfig = awsConfig.WithS3ForcePathStyle(config.ForcePathStyle)
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Annotate(err, "Failed to create AWS session")
	}
	return NewS3StoreWithClient(s3.New(sess), config.DefaultBucket), nil
}

func NewS3StoreWithClient(client s3iface.S3API, defaultBucket string) *S3Store {
	return &S3Store{client: client, defaultBucket: defaultBucket}
}

func (s *S3Store) DefaultBucket() string {
	return s.defaultBucket
}

func (s *S3Store) URL(bucket, key string) string {
	if bucket == "" {
		bucket = s.defaultBucket
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

func (s *S3Store) Write(ctx context.Context, bucket, key string, payload []byte) (string, error) {
	bucket, err := resolveBucket(s, bucket)
	if err != nil {
		return "", errors.Trace(err)
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return "", errors.Annotatef(err, "failed to put s3://%s/%s", bucket, key)
	}
	log.Info("Saved object to S3", zap.String("bucket", bucket), zap.String("key", key), zap.Int("size", len(payload)))
	return key, nil
}

func (s *S3Store) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	bucket, err := resolveBucket(s, bucket)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.Annotatef(ErrNotFound, "s3://%s/%s", bucket, key)
		}
		return nil, errors.Annotatef(err, "failed to get s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read s3://%s/%s", bucket, key)
	}
	return data, nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	bucket, err := resolveBucket(s, bucket)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return errors.Annotatef(err, "failed to delete s3://%s/%s", bucket, key)
	}
	log.Info("Deleted object from S3", zap.String("bucket", bucket), zap.String("key", key))
	return nil
}

func isNotFound(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}
