package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStorageProvider stores archives under a base directory, one
// subdirectory per partition
type LocalStorageProvider struct {
	basePath    string
	permissions os.FileMode
}

// NewLocalStorageProvider creates a new LocalStorageProvider instance
func NewLocalStorageProvider(config *LocalConfig) (*LocalStorageProvider, error) {
	if config == nil {
		return nil, NewValidationError("local storage configuration is required", nil)
	}
	if config.BasePath == "" {
		return nil, NewValidationError("local storage base path is required", nil)
	}

	permissions := config.Permissions
	if permissions == 0 {
		permissions = 0o750
	}

	provider := &LocalStorageProvider{
		basePath:    config.BasePath,
		permissions: permissions,
	}

	if err := os.MkdirAll(provider.basePath, provider.permissions); err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to create base directory %s", provider.basePath), err)
	}

	return provider, nil
}

// Put writes data atomically via a temporary file and rename
func (lsp *LocalStorageProvider) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("write aborted", err)
	}

	target := lsp.path(key)
	if err := os.MkdirAll(filepath.Dir(target), lsp.permissions); err != nil {
		return NewStorageError("failed to create partition directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return NewStorageError("failed to create temporary file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return NewStorageError("failed to write backup file", err)
	}
	if err := tmp.Close(); err != nil {
		return NewStorageError("failed to close backup file", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return NewStorageError("failed to move backup file into place", err)
	}
	return nil
}

// Get reads the object at key
func (lsp *LocalStorageProvider) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(lsp.path(key))
	if os.IsNotExist(err) {
		return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}
	if err != nil {
		return nil, NewStorageError("failed to read backup file", err)
	}
	return data, nil
}

// Stat returns size and modification time for key
func (lsp *LocalStorageProvider) Stat(ctx context.Context, key string) (*BlobInfo, error) {
	info, err := os.Stat(lsp.path(key))
	if os.IsNotExist(err) {
		return nil, NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}
	if err != nil {
		return nil, NewStorageError("failed to stat backup file", err)
	}
	return &BlobInfo{Key: key, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete removes the object at key
func (lsp *LocalStorageProvider) Delete(ctx context.Context, key string) error {
	err := os.Remove(lsp.path(key))
	if os.IsNotExist(err) {
		return NewNotFoundError(fmt.Sprintf("object %s not found", key), err)
	}
	if err != nil {
		return NewStorageError("failed to delete backup file", err)
	}
	return nil
}

// List returns the regular files directly under prefix
func (lsp *LocalStorageProvider) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	dir := lsp.path(prefix)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewStorageError("failed to list partition", err)
	}

	var out []BlobInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, BlobInfo{
			Key:     strings.TrimSuffix(prefix, "/") + "/" + entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// Partitions returns the partition directories under the base path
func (lsp *LocalStorageProvider) Partitions(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(lsp.basePath)
	if err != nil {
		return nil, NewStorageError("failed to list partitions", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			out = append(out, entry.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Location returns the file path for key
func (lsp *LocalStorageProvider) Location(key string) string {
	return lsp.path(key)
}

// HealthCheck verifies that the base directory is writable
func (lsp *LocalStorageProvider) HealthCheck(ctx context.Context) error {
	testFile := filepath.Join(lsp.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("health_check"), 0o600); err != nil {
		return NewStorageError("storage provider health check failed: cannot write to base directory", err)
	}
	_ = os.Remove(testFile)
	return nil
}

func (lsp *LocalStorageProvider) path(key string) string {
	return filepath.Join(lsp.basePath, filepath.FromSlash(key))
}
