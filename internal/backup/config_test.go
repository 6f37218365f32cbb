package backup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemConfig_Defaults(t *testing.T) {
	var cfg SystemConfig
	cfg.SetDefaults()

	assert.Equal(t, StorageProviderLocal, cfg.Storage.Provider)
	assert.Equal(t, "./backups", cfg.Storage.Local.BasePath)
	assert.Equal(t, EncodingJSON, cfg.Codec.Encoding)
	assert.Equal(t, CompressionTypeZstd, cfg.Codec.Compression)
	assert.Equal(t, 10, cfg.Retention.MaxBackups)
	assert.NoError(t, cfg.Validate())
}

func TestSystemConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*SystemConfig)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *SystemConfig) { c.Storage.Provider = "FTP" },
			wantErr: "storage.provider",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *SystemConfig) { c.Storage.Provider = StorageProviderS3; c.Storage.S3.Region = "eu-west-1" },
			wantErr: "storage.s3.bucket",
		},
		{
			name:    "azure without container",
			mutate:  func(c *SystemConfig) { c.Storage.Provider = StorageProviderAzure; c.Storage.Azure.AccountName = "a"; c.Storage.Azure.AccountKey = "k" },
			wantErr: "storage.azure.container_name",
		},
		{
			name:    "gcs without bucket",
			mutate:  func(c *SystemConfig) { c.Storage.Provider = StorageProviderGCS },
			wantErr: "storage.gcs.bucket",
		},
		{
			name:    "bad encoding",
			mutate:  func(c *SystemConfig) { c.Codec.Encoding = "xml" },
			wantErr: "codec.encoding",
		},
		{
			name:    "encryption without key",
			mutate:  func(c *SystemConfig) { c.Encryption.Enabled = true },
			wantErr: "encryption",
		},
		{
			name:    "negative retention",
			mutate:  func(c *SystemConfig) { c.Retention.MaxAge = -time.Hour },
			wantErr: "retention.max_age",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg SystemConfig
			cfg.SetDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			verrs, ok := err.(ValidationErrors)
			require.True(t, ok, "expected ValidationErrors, got %T", err)
			assert.Equal(t, tt.wantErr, verrs[0].Field)
		})
	}
}

func TestSystemConfig_LoadFromEnvironment(t *testing.T) {
	t.Setenv("GUILD_BACKUP_S3_ACCESS_KEY", "AKIA")
	t.Setenv("GUILD_BACKUP_S3_SECRET_KEY", "secret")
	t.Setenv("GUILD_BACKUP_RETENTION_MAX_BACKUPS", "4")

	var cfg SystemConfig
	cfg.LoadFromEnvironment()

	assert.Equal(t, "AKIA", cfg.Storage.S3.AccessKey)
	assert.Equal(t, "secret", cfg.Storage.S3.SecretKey)
	assert.Equal(t, 4, cfg.Retention.MaxBackups)
}

func TestStorageConfig_ProviderCaseInsensitive(t *testing.T) {
	sc := StorageConfig{Provider: "gcs", GCS: GCSConfig{Bucket: "b"}}
	sc.SetDefaults()

	assert.Equal(t, StorageProviderGCS, sc.Provider)
	assert.NoError(t, sc.Validate())
}

func TestStorageProviderFactory_Local(t *testing.T) {
	factory := NewStorageProviderFactory()

	blobs, err := factory.CreateStorageProvider(context.Background(), StorageConfig{Local: LocalConfig{BasePath: t.TempDir()}})
	require.NoError(t, err)
	_, ok := blobs.(*LocalStorageProvider)
	assert.True(t, ok)
	assert.Len(t, factory.GetSupportedProviders(), 4)

	_, err = factory.CreateStorageProvider(context.Background(), StorageConfig{Provider: "FTP"})
	assert.Error(t, err)
}
