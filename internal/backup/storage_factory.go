package backup

import (
	"context"
	"fmt"
)

// StorageProviderFactory creates blob stores based on configuration
type StorageProviderFactory struct{}

// NewStorageProviderFactory creates a new storage provider factory
func NewStorageProviderFactory() *StorageProviderFactory {
	return &StorageProviderFactory{}
}

// CreateStorageProvider creates a blob store based on the storage configuration
func (spf *StorageProviderFactory) CreateStorageProvider(ctx context.Context, config StorageConfig) (BlobStore, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, NewValidationError("invalid storage configuration", err)
	}

	switch config.Provider {
	case StorageProviderLocal:
		return NewLocalStorageProvider(&config.Local)
	case StorageProviderS3:
		return NewS3StorageProvider(&config.S3)
	case StorageProviderAzure:
		return NewAzureStorageProvider(&config.Azure)
	case StorageProviderGCS:
		return NewGCSStorageProvider(ctx, &config.GCS)
	default:
		return nil, NewValidationError(fmt.Sprintf("unsupported storage provider: %s", config.Provider), nil)
	}
}

// GetSupportedProviders returns a list of supported storage provider types
func (spf *StorageProviderFactory) GetSupportedProviders() []StorageProviderType {
	return []StorageProviderType{
		StorageProviderLocal,
		StorageProviderS3,
		StorageProviderAzure,
		StorageProviderGCS,
	}
}
