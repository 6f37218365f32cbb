package backup

import (
	"context"
	"errors"
	"net"
	"path"
	"strings"
	"time"
)

// BlobInfo describes one stored object
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// BlobStore is a flat key/value object store. Keys use "/" separators and
// the first segment is the partition (one per target space).
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns a NOT_FOUND BackupError when key is absent
	Get(ctx context.Context, key string) ([]byte, error)
	// Stat returns a NOT_FOUND BackupError when key is absent
	Stat(ctx context.Context, key string) (*BlobInfo, error)
	Delete(ctx context.Context, key string) error
	// List returns the objects directly under prefix
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	// Partitions returns the first-level key segments
	Partitions(ctx context.Context) ([]string, error)
	// Location renders key as a provider URL or path for operators
	Location(key string) string
	// HealthCheck fails when the backend cannot be reached or written
	HealthCheck(ctx context.Context) error
}

const (
	archiveExt = ".bkp"
	metaExt    = ".meta.json"
)

func archiveKey(targetID, backupID string) string {
	return path.Join(sanitizeSegment(targetID), backupID+archiveExt)
}

func metaKey(targetID, backupID string) string {
	return path.Join(sanitizeSegment(targetID), backupID+metaExt)
}

// sanitizeSegment keeps a key segment from escaping its partition
func sanitizeSegment(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return strings.ReplaceAll(s, "..", "_")
}

// joinPrefix joins a provider prefix and a relative key
func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}

// trimPrefix is the inverse of joinPrefix
func trimPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")), "/")
}

// backendError classifies a backend failure. Transport errors, including
// those an SDK carries as its original error, become NETWORK errors.
func backendError(message string, err error) *BackupError {
	for e := err; e != nil; {
		var netErr net.Error
		if errors.As(e, &netErr) {
			return NewNetworkError(message, err)
		}
		var orig interface{ OrigErr() error }
		if !errors.As(e, &orig) {
			break
		}
		e = orig.OrigErr()
	}
	return NewStorageError(message, err)
}
