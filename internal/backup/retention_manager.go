package backup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"guild-backup/internal/logging"
)

// RetentionResult represents the result of applying retention policies
type RetentionResult struct {
	TotalBackupsProcessed int           `json:"total_backups_processed"`
	BackupsDeleted        int           `json:"backups_deleted"`
	BackupsKept           int           `json:"backups_kept"`
	DeletedBackups        []BackupMeta  `json:"deleted_backups"`
	KeptBackups           []BackupMeta  `json:"kept_backups"`
	Errors                []string      `json:"errors"`
	ProcessingTime        time.Duration `json:"processing_time"`
	DryRun                bool          `json:"dry_run"`
}

func (r *RetentionResult) merge(other *RetentionResult) {
	r.TotalBackupsProcessed += other.TotalBackupsProcessed
	r.BackupsDeleted += other.BackupsDeleted
	r.BackupsKept += other.BackupsKept
	r.DeletedBackups = append(r.DeletedBackups, other.DeletedBackups...)
	r.KeptBackups = append(r.KeptBackups, other.KeptBackups...)
	r.Errors = append(r.Errors, other.Errors...)
}

// RetentionManager prunes automatic backups per target. Manual backups and
// the newest backup of a target are never deleted.
type RetentionManager struct {
	store  *Store
	config RetentionConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(store *Store, config RetentionConfig, logger *logging.Logger) *RetentionManager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionManager{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Apply applies the retention policy to one target
func (rm *RetentionManager) Apply(ctx context.Context, targetID string, dryRun bool) (*RetentionResult, error) {
	startTime := time.Now()
	rm.logger.Infof("Applying retention policy for target %s (dry run: %v)", targetID, dryRun)

	backups, err := rm.store.ListMeta(ctx, targetID, ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list backups for target %s: %w", targetID, err)
	}

	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	toDelete, toKeep := rm.applyRetentionRules(backups)
	result := &RetentionResult{
		TotalBackupsProcessed: len(backups),
		BackupsDeleted:        len(toDelete),
		BackupsKept:           len(toKeep),
		DeletedBackups:        toDelete,
		KeptBackups:           toKeep,
		DryRun:                dryRun,
	}

	if !dryRun {
		for _, meta := range toDelete {
			if err := rm.store.Delete(ctx, targetID, meta.BackupID); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to delete backup %s: %v", meta.BackupID, err))
				result.BackupsDeleted--
				continue
			}
			rm.logger.Infof("Deleted backup %s for target %s", meta.BackupID, targetID)
		}
	}

	result.ProcessingTime = time.Since(startTime)
	return result, nil
}

// ApplyAll applies the retention policy to every target
func (rm *RetentionManager) ApplyAll(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	targets, err := rm.store.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	total := &RetentionResult{DryRun: dryRun}
	start := time.Now()
	for _, target := range targets {
		result, err := rm.Apply(ctx, target, dryRun)
		if err != nil {
			total.Errors = append(total.Errors, err.Error())
			continue
		}
		total.merge(result)
	}
	total.ProcessingTime = time.Since(start)
	return total, nil
}

// applyRetentionRules splits backups (newest first) into delete and keep sets
func (rm *RetentionManager) applyRetentionRules(backups []BackupMeta) ([]BackupMeta, []BackupMeta) {
	if len(backups) == 0 {
		return []BackupMeta{}, []BackupMeta{}
	}

	keepMap := make(map[string]bool)
	keepMap[backups[0].BackupID] = true

	var automatic []BackupMeta
	for _, b := range backups {
		if rm.shouldProtectBackup(b) {
			keepMap[b.BackupID] = true
			continue
		}
		automatic = append(automatic, b)
	}

	if rm.config.MaxBackups > 0 {
		for i := 0; i < len(automatic) && i < rm.config.MaxBackups; i++ {
			keepMap[automatic[i].BackupID] = true
		}
	}

	if rm.config.MaxAge > 0 {
		cutoff := rm.now().Add(-rm.config.MaxAge)
		for _, b := range automatic {
			if b.CreatedAt.After(cutoff) {
				keepMap[b.BackupID] = true
			}
		}
	}

	// no policy configured means nothing is pruned
	if rm.config.MaxBackups <= 0 && rm.config.MaxAge <= 0 {
		return []BackupMeta{}, backups
	}

	toDelete := []BackupMeta{}
	toKeep := []BackupMeta{}
	for _, b := range backups {
		if keepMap[b.BackupID] {
			toKeep = append(toKeep, b)
		} else {
			toDelete = append(toDelete, b)
		}
	}
	return toDelete, toKeep
}

// shouldProtectBackup keeps everything an operator created by hand
func (rm *RetentionManager) shouldProtectBackup(meta BackupMeta) bool {
	return meta.Source != "automatic"
}
