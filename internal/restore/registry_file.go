package restore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guild-backup/internal/backup"
)

const (
	lockExt   = ".lock"
	stateExt  = ".state.json"
	cancelExt = ".cancel"
)

// FileRegistryStore keeps active restore states in a directory so separate
// CLI processes can observe and cancel each other's restores. Per target it
// holds a lock file created with O_EXCL, a state file replaced atomically and
// a cancel marker that progress writes never touch.
type FileRegistryStore struct {
	dir string
	// StaleAfter releases a lock whose state has not been updated for this
	// long, which recovers targets left locked by a crashed process. Zero
	// disables the check.
	StaleAfter time.Duration
	now        func() time.Time
}

// NewFileRegistryStore creates dir if needed
func NewFileRegistryStore(dir string, staleAfter time.Duration) (*FileRegistryStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, backup.NewStorageError("failed to create registry directory", err).WithContext("dir", dir)
	}
	return &FileRegistryStore{dir: dir, StaleAfter: staleAfter, now: time.Now}, nil
}

func (f *FileRegistryStore) path(targetID, ext string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(targetID)
	return filepath.Join(f.dir, name+ext)
}

func (f *FileRegistryStore) Create(state ActiveRestoreState) error {
	err := f.lock(state.TargetID)
	if errors.Is(err, os.ErrExist) && f.releaseIfStale(state.TargetID) {
		err = f.lock(state.TargetID)
	}
	if errors.Is(err, os.ErrExist) {
		return conflictFor(state.TargetID)
	}
	if err != nil {
		return backup.NewStorageError("failed to create restore lock", err).WithContext("target_id", state.TargetID)
	}

	_ = os.Remove(f.path(state.TargetID, cancelExt))
	if err := f.writeState(state); err != nil {
		_ = os.Remove(f.path(state.TargetID, lockExt))
		return err
	}
	return nil
}

func (f *FileRegistryStore) lock(targetID string) error {
	file, err := os.OpenFile(f.path(targetID, lockExt), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(file, "%d\n", os.Getpid())
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	return err
}

// releaseIfStale removes a lock abandoned for longer than StaleAfter
func (f *FileRegistryStore) releaseIfStale(targetID string) bool {
	if f.StaleAfter <= 0 {
		return false
	}
	last := time.Time{}
	if state, ok, err := f.Load(targetID); err == nil && ok {
		last = state.UpdatedAt
	}
	if last.IsZero() {
		info, err := os.Stat(f.path(targetID, lockExt))
		if err != nil {
			return false
		}
		last = info.ModTime()
	}
	if f.now().Sub(last) < f.StaleAfter {
		return false
	}
	return f.Remove(targetID) == nil
}

func (f *FileRegistryStore) Load(targetID string) (ActiveRestoreState, bool, error) {
	if _, err := os.Stat(f.path(targetID, lockExt)); err != nil {
		if os.IsNotExist(err) {
			return ActiveRestoreState{}, false, nil
		}
		return ActiveRestoreState{}, false, backup.NewStorageError("failed to stat restore lock", err)
	}

	state := ActiveRestoreState{TargetID: targetID}
	data, err := os.ReadFile(f.path(targetID, stateExt))
	switch {
	case os.IsNotExist(err):
		// lock taken, state not yet written
	case err != nil:
		return ActiveRestoreState{}, false, backup.NewStorageError("failed to read restore state", err)
	default:
		if err := json.Unmarshal(data, &state); err != nil {
			return ActiveRestoreState{}, false, backup.NewCorruptionError("restore state is not valid JSON", err)
		}
	}

	if _, err := os.Stat(f.path(targetID, cancelExt)); err == nil {
		state.CancelRequested = true
	}
	return state, true, nil
}

func (f *FileRegistryStore) Save(state ActiveRestoreState) error {
	if _, err := os.Stat(f.path(state.TargetID, lockExt)); os.IsNotExist(err) {
		return notActiveFor(state.TargetID)
	}
	return f.writeState(state)
}

func (f *FileRegistryStore) writeState(state ActiveRestoreState) error {
	// the marker file is the source of truth for cancellation
	state.CancelRequested = false
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return backup.NewStorageError("failed to encode restore state", err)
	}

	final := f.path(state.TargetID, stateExt)
	tmp, err := os.CreateTemp(f.dir, ".state-*")
	if err != nil {
		return backup.NewStorageError("failed to create temp state file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return backup.NewStorageError("failed to write restore state", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return backup.NewStorageError("failed to close restore state", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return backup.NewStorageError("failed to replace restore state", err)
	}
	return nil
}

func (f *FileRegistryStore) Cancel(targetID string) (bool, error) {
	if _, err := os.Stat(f.path(targetID, lockExt)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, backup.NewStorageError("failed to stat restore lock", err)
	}
	if err := os.WriteFile(f.path(targetID, cancelExt), nil, 0o640); err != nil {
		return false, backup.NewStorageError("failed to write cancel marker", err)
	}
	return true, nil
}

// Remove drops state and marker before the lock so a new Start never sees
// leftovers from the previous run
func (f *FileRegistryStore) Remove(targetID string) error {
	for _, ext := range []string{stateExt, cancelExt, lockExt} {
		if err := os.Remove(f.path(targetID, ext)); err != nil && !os.IsNotExist(err) {
			return backup.NewStorageError("failed to release restore", err).WithContext("target_id", targetID)
		}
	}
	return nil
}

func (f *FileRegistryStore) List() ([]ActiveRestoreState, error) {
	locks, err := filepath.Glob(filepath.Join(f.dir, "*"+lockExt))
	if err != nil {
		return nil, backup.NewStorageError("failed to list restore locks", err)
	}
	var out []ActiveRestoreState
	for _, lock := range locks {
		targetID := strings.TrimSuffix(filepath.Base(lock), lockExt)
		state, ok, err := f.Load(targetID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, state)
		}
	}
	return out, nil
}
