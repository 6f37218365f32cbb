package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	apperrors "guild-backup/internal/errors"
)

// S3StorageProvider implements BlobStore for Amazon S3 and compatible services
type S3StorageProvider struct {
	client *s3.S3
	bucket string
	prefix string
	retry  *apperrors.RetryHandler
}

// NewS3StorageProvider creates a new S3StorageProvider instance
func NewS3StorageProvider(config *S3Config) (*S3StorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("S3 storage configuration is required", nil)
	}
	if config.Bucket == "" || config.Region == "" {
		return nil, NewValidationError("S3 bucket and region are required", nil)
	}

	awsConfig := &aws.Config{Region: aws.String(config.Region)}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageProvider{
		client: s3.New(sess),
		bucket: config.Bucket,
		prefix: config.Prefix,
		retry:  apperrors.NewDefaultRetryHandler(),
	}, nil
}

// Put uploads data to key
func (s3p *S3StorageProvider) Put(ctx context.Context, key string, data []byte) error {
	err := s3p.do(ctx, func() error {
		_, err := s3p.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s3p.bucket),
			Key:         aws.String(s3p.objectKey(key)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentTypeFor(key)),
		})
		return err
	})
	if err != nil {
		return s3p.wrap(key, "failed to upload object to S3", err)
	}
	return nil
}

// Get downloads the object at key
func (s3p *S3StorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s3p.do(ctx, func() error {
		result, err := s3p.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s3p.bucket),
			Key:    aws.String(s3p.objectKey(key)),
		})
		if err != nil {
			return err
		}
		defer result.Body.Close()
		data, err = io.ReadAll(result.Body)
		return err
	})
	if err != nil {
		return nil, s3p.wrap(key, "failed to download object from S3", err)
	}
	return data, nil
}

// Stat returns size and modification time for key
func (s3p *S3StorageProvider) Stat(ctx context.Context, key string) (*BlobInfo, error) {
	var head *s3.HeadObjectOutput
	err := s3p.do(ctx, func() error {
		var err error
		head, err = s3p.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s3p.bucket),
			Key:    aws.String(s3p.objectKey(key)),
		})
		return err
	})
	if err != nil {
		return nil, s3p.wrap(key, "failed to stat object in S3", err)
	}
	return &BlobInfo{
		Key:     key,
		Size:    aws.Int64Value(head.ContentLength),
		ModTime: aws.TimeValue(head.LastModified),
	}, nil
}

// Delete removes the object at key. S3 deletes are idempotent, so existence
// is checked first to report NOT_FOUND consistently with other backends.
func (s3p *S3StorageProvider) Delete(ctx context.Context, key string) error {
	if _, err := s3p.Stat(ctx, key); err != nil {
		return err
	}
	err := s3p.do(ctx, func() error {
		_, err := s3p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s3p.bucket),
			Key:    aws.String(s3p.objectKey(key)),
		})
		return err
	})
	if err != nil {
		return s3p.wrap(key, "failed to delete object from S3", err)
	}
	return nil
}

// List returns the objects directly under prefix
func (s3p *S3StorageProvider) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	listPrefix := s3p.objectKey(strings.TrimSuffix(prefix, "/") + "/")
	var out []BlobInfo

	err := s3p.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s3p.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			out = append(out, BlobInfo{
				Key:     s3p.relativeKey(aws.StringValue(obj.Key)),
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list objects in S3", err)
	}
	return out, nil
}

// Partitions returns the common prefixes one level below the provider prefix
func (s3p *S3StorageProvider) Partitions(ctx context.Context) ([]string, error) {
	var out []string
	err := s3p.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s3p.bucket),
		Prefix:    aws.String(s3p.prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(s3p.relativeKey(aws.StringValue(cp.Prefix)), "/")
			if name != "" {
				out = append(out, name)
			}
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list partitions in S3", err)
	}
	return out, nil
}

// Location returns the s3:// URL for key
func (s3p *S3StorageProvider) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s3p.bucket, s3p.objectKey(key))
}

// HealthCheck verifies that the bucket is reachable
func (s3p *S3StorageProvider) HealthCheck(ctx context.Context) error {
	_, err := s3p.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s3p.bucket),
	})
	if err != nil {
		return backendError("S3 storage provider health check failed: bucket not accessible", err)
	}
	return nil
}

func (s3p *S3StorageProvider) objectKey(key string) string {
	return joinPrefix(s3p.prefix, key)
}

func (s3p *S3StorageProvider) relativeKey(objectKey string) string {
	return trimPrefix(s3p.prefix, objectKey)
}

// do retries op while S3 reports throttling or server faults
func (s3p *S3StorageProvider) do(ctx context.Context, op func() error) error {
	return s3p.retry.Retry(ctx, func() error {
		err := op()
		var reqErr awserr.RequestFailure
		if asRequestFailure(err, &reqErr) && (reqErr.StatusCode() >= 500 || reqErr.StatusCode() == http.StatusTooManyRequests) {
			return apperrors.NewRecoverableError(apperrors.ErrorTypeConnection, "S3 request failed", err)
		}
		return err
	})
}

func (s3p *S3StorageProvider) wrap(key, message string, err error) error {
	if aerr, ok := unwrapAWS(err).(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		case "AccessDenied", "Forbidden":
			return NewPermissionError(message, err)
		}
	}
	return backendError(message, err).WithContext("key", key)
}

func asRequestFailure(err error, target *awserr.RequestFailure) bool {
	if rf, ok := err.(awserr.RequestFailure); ok {
		*target = rf
		return true
	}
	return false
}

// unwrapAWS strips the recoverable AppError added by do
func unwrapAWS(err error) error {
	if appErr, ok := err.(*apperrors.AppError); ok && appErr.Cause != nil {
		return appErr.Cause
	}
	return err
}

func contentTypeFor(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}
