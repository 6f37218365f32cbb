package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStorageProvider(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		config  *LocalConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  &LocalConfig{BasePath: tempDir, Permissions: 0o755},
			wantErr: false,
		},
		{
			name:    "nested base path is created",
			config:  &LocalConfig{BasePath: filepath.Join(tempDir, "a", "b")},
			wantErr: false,
		},
		{
			name:    "nil config",
			config:  nil,
			wantErr: true,
		},
		{
			name:    "empty base path",
			config:  &LocalConfig{BasePath: ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewLocalStorageProvider(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLocalStorageProvider() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && provider == nil {
				t.Error("Expected provider to be created, got nil")
			}
		})
	}
}

func TestLocalStorageProvider_PutGetStatDelete(t *testing.T) {
	ctx := context.Background()
	provider, err := NewLocalStorageProvider(&LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, provider.Put(ctx, "space-1/ABC.bkp", []byte("payload")))

	data, err := provider.Get(ctx, "space-1/ABC.bkp")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	info, err := provider.Stat(ctx, "space-1/ABC.bkp")
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)
	assert.False(t, info.ModTime.IsZero())

	require.NoError(t, provider.Delete(ctx, "space-1/ABC.bkp"))

	_, err = provider.Get(ctx, "space-1/ABC.bkp")
	assert.True(t, IsNotFound(err))
	_, err = provider.Stat(ctx, "space-1/ABC.bkp")
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(provider.Delete(ctx, "space-1/ABC.bkp")))
}

func TestLocalStorageProvider_ListAndPartitions(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	provider, err := NewLocalStorageProvider(&LocalConfig{BasePath: base})
	require.NoError(t, err)

	require.NoError(t, provider.Put(ctx, "space-b/ONE.bkp", []byte("1")))
	require.NoError(t, provider.Put(ctx, "space-b/ONE.meta.json", []byte("{}")))
	require.NoError(t, provider.Put(ctx, "space-a/TWO.bkp", []byte("2")))
	require.NoError(t, os.WriteFile(filepath.Join(base, "space-a", ".hidden"), []byte("x"), 0o600))

	partitions, err := provider.Partitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"space-a", "space-b"}, partitions)

	blobs, err := provider.List(ctx, "space-b")
	require.NoError(t, err)
	keys := make([]string, 0, len(blobs))
	for _, b := range blobs {
		keys = append(keys, b.Key)
	}
	assert.ElementsMatch(t, []string{"space-b/ONE.bkp", "space-b/ONE.meta.json"}, keys)

	blobs, err = provider.List(ctx, "space-a")
	require.NoError(t, err)
	assert.Len(t, blobs, 1)

	blobs, err = provider.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, blobs)
}

func TestLocalStorageProvider_Location(t *testing.T) {
	base := t.TempDir()
	provider, err := NewLocalStorageProvider(&LocalConfig{BasePath: base})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "space-1", "ABC.bkp"), provider.Location("space-1/ABC.bkp"))
	assert.NoError(t, provider.HealthCheck(context.Background()))
	assert.NoFileExists(t, filepath.Join(base, ".health_check"))
}

func TestStore_HealthCheckReportsMissingBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "backups")
	provider, err := NewLocalStorageProvider(&LocalConfig{BasePath: base})
	require.NoError(t, err)
	store := NewStore(provider, nil, nil)
	require.NoError(t, store.HealthCheck(context.Background()))

	require.NoError(t, os.RemoveAll(base))
	err = store.HealthCheck(context.Background())
	typ, ok := ErrorType(err)
	assert.True(t, ok)
	assert.Equal(t, BackupErrorTypeStorage, typ)
}

func TestArchiveKey_Sanitized(t *testing.T) {
	assert.Equal(t, "space-1/ABC.bkp", archiveKey("space-1", "ABC"))
	assert.Equal(t, "__etc_/ABC.meta.json", metaKey("../etc/", "ABC"))
}
