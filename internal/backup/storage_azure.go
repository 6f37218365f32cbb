package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	apperrors "guild-backup/internal/errors"
)

// AzureStorageProvider implements BlobStore for Azure Blob Storage
type AzureStorageProvider struct {
	containerURL  azblob.ContainerURL
	containerName string
	prefix        string
	retry         *apperrors.RetryHandler
}

// NewAzureStorageProvider creates a new AzureStorageProvider instance
func NewAzureStorageProvider(config *AzureConfig) (*AzureStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("Azure storage configuration is required", nil)
	}
	if config.AccountName == "" || config.AccountKey == "" || config.ContainerName == "" {
		return nil, NewValidationError("Azure account name, key and container are required", nil)
	}

	credential, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
	if err != nil {
		return nil, NewStorageError("failed to create Azure credentials", err)
	}
	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName))
	if err != nil {
		return nil, NewStorageError("failed to parse Azure service URL", err)
	}

	return &AzureStorageProvider{
		containerURL:  azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(config.ContainerName),
		containerName: config.ContainerName,
		prefix:        config.Prefix,
		retry:         apperrors.NewDefaultRetryHandler(),
	}, nil
}

// Put uploads data to key
func (azp *AzureStorageProvider) Put(ctx context.Context, key string, data []byte) error {
	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(key))
	err := azp.do(ctx, func() error {
		_, err := azblob.UploadBufferToBlockBlob(ctx, data, blobURL, azblob.UploadToBlockBlobOptions{
			BlockSize:   4 * 1024 * 1024,
			Parallelism: 16,
			BlobHTTPHeaders: azblob.BlobHTTPHeaders{
				ContentType: contentTypeFor(key),
			},
		})
		return err
	})
	if err != nil {
		return azp.wrap(key, "failed to upload blob to Azure", err)
	}
	return nil
}

// Get downloads the blob at key
func (azp *AzureStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(key))
	var buf bytes.Buffer
	err := azp.do(ctx, func() error {
		buf.Reset()
		resp, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
		if err != nil {
			return err
		}
		body := resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 20})
		defer body.Close()
		_, err = buf.ReadFrom(body)
		return err
	})
	if err != nil {
		return nil, azp.wrap(key, "failed to download blob from Azure", err)
	}
	return buf.Bytes(), nil
}

// Stat returns size and modification time for key
func (azp *AzureStorageProvider) Stat(ctx context.Context, key string) (*BlobInfo, error) {
	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(key))
	var props *azblob.BlobGetPropertiesResponse
	err := azp.do(ctx, func() error {
		var err error
		props, err = blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
		return err
	})
	if err != nil {
		return nil, azp.wrap(key, "failed to stat blob in Azure", err)
	}
	return &BlobInfo{Key: key, Size: props.ContentLength(), ModTime: props.LastModified()}, nil
}

// Delete removes the blob at key
func (azp *AzureStorageProvider) Delete(ctx context.Context, key string) error {
	blobURL := azp.containerURL.NewBlockBlobURL(azp.blobName(key))
	err := azp.do(ctx, func() error {
		_, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{})
		return err
	})
	if err != nil {
		return azp.wrap(key, "failed to delete blob from Azure", err)
	}
	return nil
}

// List returns the blobs directly under prefix
func (azp *AzureStorageProvider) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	listPrefix := azp.blobName(strings.TrimSuffix(prefix, "/") + "/")
	var out []BlobInfo

	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := azp.containerURL.ListBlobsHierarchySegment(ctx, marker, "/", azblob.ListBlobsSegmentOptions{
			Prefix: listPrefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list blobs in Azure", err)
		}
		for _, item := range resp.Segment.BlobItems {
			info := BlobInfo{
				Key:     azp.relativeKey(item.Name),
				ModTime: item.Properties.LastModified,
			}
			if item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			out = append(out, info)
		}
		marker = resp.NextMarker
	}
	return out, nil
}

// Partitions returns the virtual directories one level below the prefix
func (azp *AzureStorageProvider) Partitions(ctx context.Context) ([]string, error) {
	var out []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := azp.containerURL.ListBlobsHierarchySegment(ctx, marker, "/", azblob.ListBlobsSegmentOptions{
			Prefix: azp.prefix,
		})
		if err != nil {
			return nil, NewStorageError("failed to list partitions in Azure", err)
		}
		for _, p := range resp.Segment.BlobPrefixes {
			if name := strings.TrimSuffix(azp.relativeKey(p.Name), "/"); name != "" {
				out = append(out, name)
			}
		}
		marker = resp.NextMarker
	}
	return out, nil
}

// Location returns the azure:// URL for key
func (azp *AzureStorageProvider) Location(key string) string {
	return fmt.Sprintf("azure://%s/%s", azp.containerName, azp.blobName(key))
}

// HealthCheck verifies that the container is reachable
func (azp *AzureStorageProvider) HealthCheck(ctx context.Context) error {
	if _, err := azp.containerURL.GetProperties(ctx, azblob.LeaseAccessConditions{}); err != nil {
		return backendError("Azure storage provider health check failed: container not accessible", err)
	}
	return nil
}

func (azp *AzureStorageProvider) blobName(key string) string {
	return joinPrefix(azp.prefix, key)
}

func (azp *AzureStorageProvider) relativeKey(name string) string {
	return trimPrefix(azp.prefix, name)
}

// do retries op while Azure reports throttling or server faults
func (azp *AzureStorageProvider) do(ctx context.Context, op func() error) error {
	return azp.retry.Retry(ctx, func() error {
		err := op()
		var stgErr azblob.StorageError
		if errors.As(err, &stgErr) && stgErr.Response() != nil {
			status := stgErr.Response().StatusCode
			if status >= 500 || status == http.StatusTooManyRequests {
				return apperrors.NewRecoverableError(apperrors.ErrorTypeConnection, "Azure request failed", err)
			}
		}
		return err
	})
}

func (azp *AzureStorageProvider) wrap(key, message string, err error) error {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		switch stgErr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound:
			return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
		case azblob.ServiceCodeType(azblob.StorageErrorCodeAuthorizationFailure), azblob.ServiceCodeInsufficientAccountPermissions:
			return NewPermissionError(message, err)
		}
	}
	return backendError(message, err).WithContext("key", key)
}
