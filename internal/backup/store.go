// Package backup stores encoded backup documents in a blob backend and applies
// retention to them.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"guild-backup/internal/logging"
)

// Store persists archives and their sidecar meta in a BlobStore. Every
// target space owns one partition.
type Store struct {
	blobs    BlobStore
	codec    *Codec
	logger   *logging.Logger
	provider string
}

// NewStore creates a backup store over blobs
func NewStore(blobs BlobStore, codec *Codec, logger *logging.Logger) *Store {
	if codec == nil {
		codec = NewCodec(CodecConfig{}, nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		blobs:    blobs,
		codec:    codec,
		logger:   logger,
		provider: providerName(blobs),
	}
}

// HealthCheck verifies the backend is usable before any backup is touched
func (s *Store) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := s.blobs.HealthCheck(ctx)
	s.logger.LogStorageOperation(s.provider, "health_check", "", time.Since(start), err)
	return err
}

// Encode serializes a document with the store's codec
func (s *Store) Encode(v interface{}) ([]byte, error) {
	return s.codec.Encode(v)
}

// Write stores an encoded archive and its meta, returning the archive location
func (s *Store) Write(ctx context.Context, targetID, backupID string, data []byte, meta BackupMeta) (string, error) {
	if targetID == "" {
		return "", NewValidationError("target ID is required", nil)
	}
	backupID, err := checkID(backupID)
	if err != nil {
		return "", err
	}

	key := archiveKey(targetID, backupID)
	start := time.Now()
	err = s.blobs.Put(ctx, key, data)
	s.logger.LogStorageOperation(s.provider, "put", key, time.Since(start), err)
	if err != nil {
		return "", err
	}

	meta.BackupID = backupID
	meta.TargetID = targetID
	meta.SizeBytes = int64(len(data))
	if meta.Label == "" {
		meta.Label = LabelFor(meta.SpaceName, meta.CreatedAt, backupID)
	}

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return "", NewStorageError("failed to encode backup meta", err)
	}
	if err := s.blobs.Put(ctx, metaKey(targetID, backupID), sidecar); err != nil {
		// the archive alone is still readable; listing falls back to decoding it
		s.logger.Warnf("Failed to write meta for backup %s: %v", backupID, err)
	}

	return s.blobs.Location(key), nil
}

// checkID normalizes backupID and rejects anything outside the ID alphabet,
// so an ID can never address a key outside its partition
func checkID(backupID string) (string, error) {
	id := NormalizeID(backupID)
	if !ValidID(id) {
		return "", NewValidationError(fmt.Sprintf("invalid backup ID %q", backupID), nil)
	}
	return id, nil
}

// ReadRaw returns the encoded archive bytes
func (s *Store) ReadRaw(ctx context.Context, targetID, backupID string) ([]byte, int64, error) {
	backupID, err := checkID(backupID)
	if err != nil {
		return nil, 0, err
	}
	key := archiveKey(targetID, backupID)
	start := time.Now()
	data, err := s.blobs.Get(ctx, key)
	s.logger.LogStorageOperation(s.provider, "get", key, time.Since(start), err)
	if err != nil {
		if IsNotFound(err) {
			return nil, 0, NewNotFoundError(fmt.Sprintf("backup %s not found for target %s", backupID, targetID), err)
		}
		return nil, 0, err
	}
	return data, int64(len(data)), nil
}

// Read decodes the archive into v and returns its stored size
func (s *Store) Read(ctx context.Context, targetID, backupID string, v interface{}) (int64, error) {
	data, size, err := s.ReadRaw(ctx, targetID, backupID)
	if err != nil {
		return 0, err
	}
	if err := s.codec.Decode(data, v); err != nil {
		return 0, err
	}
	return size, nil
}

// Delete removes the archive and its meta
func (s *Store) Delete(ctx context.Context, targetID, backupID string) error {
	backupID, err := checkID(backupID)
	if err != nil {
		return err
	}
	key := archiveKey(targetID, backupID)
	start := time.Now()
	err = s.blobs.Delete(ctx, key)
	s.logger.LogStorageOperation(s.provider, "delete", key, time.Since(start), err)
	if err != nil {
		if IsNotFound(err) {
			return NewNotFoundError(fmt.Sprintf("backup %s not found for target %s", backupID, targetID), err)
		}
		return err
	}
	if err := s.blobs.Delete(ctx, metaKey(targetID, backupID)); err != nil && !IsNotFound(err) {
		s.logger.Warnf("Failed to delete meta for backup %s: %v", backupID, err)
	}
	return nil
}

// Exists reports whether the archive is present
func (s *Store) Exists(ctx context.Context, targetID, backupID string) (bool, error) {
	backupID, err := checkID(backupID)
	if err != nil {
		return false, err
	}
	_, err = s.blobs.Stat(ctx, archiveKey(targetID, backupID))
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// ListMeta lists one target's backups, newest first
func (s *Store) ListMeta(ctx context.Context, targetID string, opts ListOptions) ([]BackupMeta, error) {
	entries, err := s.partitionEntries(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return window(sortAndFilter(entries, opts.Search), opts), nil
}

// ListMetaPaginated returns one page of a target's backups
func (s *Store) ListMetaPaginated(ctx context.Context, targetID string, opts PageOptions) (*MetaPage, error) {
	entries, err := s.partitionEntries(ctx, targetID)
	if err != nil {
		return nil, err
	}
	page := paginate(sortAndFilter(entries, opts.Search), opts)
	return &page, nil
}

// Targets lists every partition holding backups
func (s *Store) Targets(ctx context.Context) ([]string, error) {
	return s.blobs.Partitions(ctx)
}

// Locate finds the partition holding backupID
func (s *Store) Locate(ctx context.Context, backupID string) (string, error) {
	targets, err := s.Targets(ctx)
	if err != nil {
		return "", err
	}
	for _, target := range targets {
		ok, err := s.Exists(ctx, target, backupID)
		if err != nil {
			return "", err
		}
		if ok {
			return target, nil
		}
	}
	return "", NewNotFoundError(fmt.Sprintf("backup %s not found", NormalizeID(backupID)), nil)
}

// ReadGlobal decodes a backup from whichever partition holds it
func (s *Store) ReadGlobal(ctx context.Context, backupID string, v interface{}) (string, int64, error) {
	target, err := s.Locate(ctx, backupID)
	if err != nil {
		return "", 0, err
	}
	size, err := s.Read(ctx, target, backupID, v)
	if err != nil {
		return "", 0, err
	}
	return target, size, nil
}

// ListAllMeta lists backups across every partition, newest first
func (s *Store) ListAllMeta(ctx context.Context, opts ListOptions) ([]BackupMeta, error) {
	targets, err := s.Targets(ctx)
	if err != nil {
		return nil, err
	}
	var entries []listEntry
	for _, target := range targets {
		part, err := s.partitionEntries(ctx, target)
		if err != nil {
			return nil, err
		}
		entries = append(entries, part...)
	}
	return window(sortAndFilter(entries, opts.Search), opts), nil
}

type listEntry struct {
	meta    BackupMeta
	modTime time.Time
}

func (s *Store) partitionEntries(ctx context.Context, targetID string) ([]listEntry, error) {
	blobs, err := s.blobs.List(ctx, sanitizeSegment(targetID))
	if err != nil {
		return nil, err
	}

	sidecars := make(map[string]bool)
	for _, b := range blobs {
		if strings.HasSuffix(b.Key, metaExt) {
			sidecars[b.Key] = true
		}
	}

	var out []listEntry
	for _, b := range blobs {
		if !strings.HasSuffix(b.Key, archiveExt) {
			continue
		}
		backupID := strings.TrimSuffix(b.Key[strings.LastIndex(b.Key, "/")+1:], archiveExt)

		meta, err := s.loadMeta(ctx, targetID, backupID, sidecars[metaKey(targetID, backupID)])
		if err != nil {
			s.logger.Warnf("Skipping unreadable backup %s in %s: %v", backupID, targetID, err)
			continue
		}
		meta.SizeBytes = b.Size
		out = append(out, listEntry{meta: *meta, modTime: b.ModTime})
	}
	return out, nil
}

// loadMeta prefers the sidecar and falls back to decoding the archive
func (s *Store) loadMeta(ctx context.Context, targetID, backupID string, hasSidecar bool) (*BackupMeta, error) {
	if hasSidecar {
		data, err := s.blobs.Get(ctx, metaKey(targetID, backupID))
		if err == nil {
			var meta BackupMeta
			if err := json.Unmarshal(data, &meta); err == nil {
				return &meta, nil
			}
		}
	}

	var header documentHeader
	if _, err := s.Read(ctx, targetID, backupID, &header); err != nil {
		return nil, err
	}
	return &BackupMeta{
		BackupID:  backupID,
		TargetID:  targetID,
		SpaceName: header.Space.Name,
		CreatedAt: header.CreatedAt,
		Source:    header.Source,
		Label:     LabelFor(header.Space.Name, header.CreatedAt, backupID),
	}, nil
}

func sortAndFilter(entries []listEntry, search string) []BackupMeta {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].meta.CreatedAt.After(entries[j].meta.CreatedAt)
		}
		return entries[i].modTime.After(entries[j].modTime)
	})

	out := make([]BackupMeta, 0, len(entries))
	for _, e := range entries {
		if e.meta.matches(search) {
			out = append(out, e.meta)
		}
	}
	return out
}

func providerName(blobs BlobStore) string {
	switch blobs.(type) {
	case *LocalStorageProvider:
		return "local"
	case *S3StorageProvider:
		return "s3"
	case *AzureStorageProvider:
		return "azure"
	case *GCSStorageProvider:
		return "gcs"
	}
	return "custom"
}
