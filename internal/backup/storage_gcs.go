package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	apperrors "guild-backup/internal/errors"
)

// GCSStorageProvider implements BlobStore for Google Cloud Storage
type GCSStorageProvider struct {
	client     *storage.Client
	bucketName string
	prefix     string
	retry      *apperrors.RetryHandler
}

// NewGCSStorageProvider creates a new GCSStorageProvider instance. Without a
// credentials path the application default credentials are used.
func NewGCSStorageProvider(ctx context.Context, config *GCSConfig) (*GCSStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("GCS storage configuration is required", nil)
	}
	if config.Bucket == "" {
		return nil, NewValidationError("GCS bucket is required", nil)
	}

	var opts []option.ClientOption
	if config.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsPath))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, NewStorageError("failed to create GCS client", err)
	}

	return &GCSStorageProvider{
		client:     client,
		bucketName: config.Bucket,
		prefix:     config.Prefix,
		retry:      apperrors.NewDefaultRetryHandler(),
	}, nil
}

// Put uploads data to key
func (gcp *GCSStorageProvider) Put(ctx context.Context, key string, data []byte) error {
	err := gcp.do(ctx, func() error {
		writer := gcp.object(key).NewWriter(ctx)
		writer.ContentType = contentTypeFor(key)
		if _, err := writer.Write(data); err != nil {
			writer.Close()
			return err
		}
		return writer.Close()
	})
	if err != nil {
		return gcp.wrap(key, "failed to upload object to GCS", err)
	}
	return nil
}

// Get downloads the object at key
func (gcp *GCSStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := gcp.do(ctx, func() error {
		reader, err := gcp.object(key).NewReader(ctx)
		if err != nil {
			return err
		}
		defer reader.Close()
		data, err = io.ReadAll(reader)
		return err
	})
	if err != nil {
		return nil, gcp.wrap(key, "failed to download object from GCS", err)
	}
	return data, nil
}

// Stat returns size and modification time for key
func (gcp *GCSStorageProvider) Stat(ctx context.Context, key string) (*BlobInfo, error) {
	var attrs *storage.ObjectAttrs
	err := gcp.do(ctx, func() error {
		var err error
		attrs, err = gcp.object(key).Attrs(ctx)
		return err
	})
	if err != nil {
		return nil, gcp.wrap(key, "failed to stat object in GCS", err)
	}
	return &BlobInfo{Key: key, Size: attrs.Size, ModTime: attrs.Updated}, nil
}

// Delete removes the object at key
func (gcp *GCSStorageProvider) Delete(ctx context.Context, key string) error {
	err := gcp.do(ctx, func() error {
		return gcp.object(key).Delete(ctx)
	})
	if err != nil {
		return gcp.wrap(key, "failed to delete object from GCS", err)
	}
	return nil
}

// List returns the objects directly under prefix
func (gcp *GCSStorageProvider) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	it := gcp.client.Bucket(gcp.bucketName).Objects(ctx, &storage.Query{
		Prefix:    joinPrefix(gcp.prefix, strings.TrimSuffix(prefix, "/")+"/"),
		Delimiter: "/",
	})

	var out []BlobInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list objects in GCS", err)
		}
		if attrs.Prefix != "" {
			continue
		}
		out = append(out, BlobInfo{
			Key:     trimPrefix(gcp.prefix, attrs.Name),
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		})
	}
	return out, nil
}

// Partitions returns the synthetic directories one level below the prefix
func (gcp *GCSStorageProvider) Partitions(ctx context.Context) ([]string, error) {
	it := gcp.client.Bucket(gcp.bucketName).Objects(ctx, &storage.Query{
		Prefix:    gcp.prefix,
		Delimiter: "/",
	})

	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, NewStorageError("failed to list partitions in GCS", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		if name := strings.TrimSuffix(trimPrefix(gcp.prefix, attrs.Prefix), "/"); name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

// Location returns the gs:// URL for key
func (gcp *GCSStorageProvider) Location(key string) string {
	return fmt.Sprintf("gs://%s/%s", gcp.bucketName, joinPrefix(gcp.prefix, key))
}

// HealthCheck verifies that the bucket is reachable
func (gcp *GCSStorageProvider) HealthCheck(ctx context.Context) error {
	if _, err := gcp.client.Bucket(gcp.bucketName).Attrs(ctx); err != nil {
		return backendError("GCS storage provider health check failed: bucket not accessible", err)
	}
	return nil
}

// Close releases the underlying client
func (gcp *GCSStorageProvider) Close() error {
	return gcp.client.Close()
}

func (gcp *GCSStorageProvider) object(key string) *storage.ObjectHandle {
	return gcp.client.Bucket(gcp.bucketName).Object(joinPrefix(gcp.prefix, key))
}

// do retries op while GCS reports throttling or server faults
func (gcp *GCSStorageProvider) do(ctx context.Context, op func() error) error {
	return gcp.retry.Retry(ctx, func() error {
		err := op()
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code >= 500 || apiErr.Code == http.StatusTooManyRequests) {
			return apperrors.NewRecoverableError(apperrors.ErrorTypeConnection, "GCS request failed", err)
		}
		return err
	})
}

func (gcp *GCSStorageProvider) wrap(key, message string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusUnauthorized) {
		return NewPermissionError(message, err)
	}
	return backendError(message, err).WithContext("key", key)
}
