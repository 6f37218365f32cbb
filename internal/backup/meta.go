package backup

import (
	"fmt"
	"strings"
	"time"
)

// BackupMeta is the listing projection of one archive
type BackupMeta struct {
	BackupID  string    `json:"backupId" yaml:"backup_id"`
	TargetID  string    `json:"targetId" yaml:"target_id"`
	SpaceName string    `json:"spaceName" yaml:"space_name"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	Source    string    `json:"source" yaml:"source"`
	SizeBytes int64     `json:"sizeBytes" yaml:"size_bytes"`
	Label     string    `json:"label" yaml:"label"`
}

// LabelFor renders the operator-facing label "<name> - <date> - <ID>"
func LabelFor(spaceName string, createdAt time.Time, backupID string) string {
	return fmt.Sprintf("%s - %s - %s", spaceName, createdAt.UTC().Format("Jan 2, 2006 15:04 UTC"), backupID)
}

func (m BackupMeta) matches(search string) bool {
	if search == "" {
		return true
	}
	search = strings.ToLower(search)
	return strings.Contains(strings.ToLower(m.BackupID), search) ||
		strings.Contains(strings.ToLower(m.Label), search)
}

// ListOptions filters and windows a listing
type ListOptions struct {
	Search string
	Limit  int
	Offset int
}

// PageOptions selects one page of a listing
type PageOptions struct {
	Search   string
	Page     int
	PageSize int
}

// DefaultPageSize applies when PageOptions.PageSize is not positive
const DefaultPageSize = 10

// MetaPage is one page of a listing
type MetaPage struct {
	Items      []BackupMeta `json:"items"`
	Total      int          `json:"total"`
	TotalPages int          `json:"totalPages"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
}

// paginate clamps the requested page into range and slices items
func paginate(items []BackupMeta, opts PageOptions) MetaPage {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	total := len(items)
	totalPages := (total + size - 1) / size
	if totalPages < 1 {
		totalPages = 1
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * size
	end := start + size
	if end > total {
		end = total
	}

	return MetaPage{
		Items:      append([]BackupMeta(nil), items[start:end]...),
		Total:      total,
		TotalPages: totalPages,
		Page:       page,
		PageSize:   size,
	}
}

// window applies offset and limit
func window(items []BackupMeta, opts ListOptions) []BackupMeta {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []BackupMeta{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// documentHeader is the subset of a backup document needed to rebuild meta
type documentHeader struct {
	BackupID  string    `json:"backupId"`
	CreatedAt time.Time `json:"createdAt"`
	Source    string    `json:"source"`
	Space     struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"space"`
}
