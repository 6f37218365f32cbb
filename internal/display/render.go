package display

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"guild-backup/internal/backup"
	"guild-backup/internal/capture"
	"guild-backup/internal/restore"
)

const timeLayout = "2006-01-02 15:04 UTC"

// FormatBytes renders a size with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds d for display
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// BackupList writes a listing of backups
func (p *Printer) BackupList(metas []backup.BackupMeta) error {
	if p.Structured() {
		if metas == nil {
			metas = []backup.BackupMeta{}
		}
		return p.Value(metas)
	}
	if len(metas) == 0 {
		p.Info("No backups found")
		return nil
	}
	return p.Table(p.metaTable(metas))
}

// MetaPage writes one page of a listing with its position
func (p *Printer) MetaPage(page *backup.MetaPage) error {
	if p.Structured() {
		return p.Value(page)
	}
	if page.Total == 0 {
		p.Info("No backups found")
		return nil
	}
	if err := p.Table(p.metaTable(page.Items)); err != nil {
		return err
	}
	fmt.Fprintf(p.w, "Page %d of %d (%d backups)\n", page.Page, page.TotalPages, page.Total)
	return nil
}

func (p *Printer) metaTable(metas []backup.BackupMeta) *Table {
	t := p.NewTable("BACKUP ID", "TARGET", "SPACE", "CREATED", "SOURCE", "SIZE")
	t.SetAlignment(5, AlignRight)
	for _, m := range metas {
		t.AddRow(m.BackupID, m.TargetID, m.SpaceName, m.CreatedAt.UTC().Format(timeLayout), m.Source, FormatBytes(m.SizeBytes))
	}
	return t
}

// BackupInfo describes one backup. counts holds per-kind record totals.
func (p *Printer) BackupInfo(meta backup.BackupMeta, counts map[string]int) error {
	if p.Structured() {
		return p.Value(struct {
			backup.BackupMeta `yaml:",inline"`
			Counts            map[string]int `json:"counts" yaml:"counts"`
		}{meta, counts})
	}
	p.Section("Backup " + meta.BackupID)
	p.Field("Space", fmt.Sprintf("%s (%s)", meta.SpaceName, meta.TargetID))
	p.Field("Created", meta.CreatedAt.UTC().Format(timeLayout))
	p.Field("Source", meta.Source)
	p.Field("Size", FormatBytes(meta.SizeBytes))
	if len(counts) == 0 {
		return nil
	}
	t := p.NewTable("KIND", "COUNT")
	t.SetAlignment(1, AlignRight)
	for _, k := range sortedKeys(counts) {
		t.AddRow(k, strconv.Itoa(counts[k]))
	}
	return p.Table(t)
}

// CaptureResult reports a written backup
func (p *Printer) CaptureResult(res *capture.Result) error {
	if p.Structured() {
		return p.Value(res)
	}
	p.Success("Backup %s created for %s in %s", res.BackupID, res.SpaceName, FormatDuration(res.Duration))
	p.Field("Location", res.Location)
	p.Field("Size", FormatBytes(res.SizeBytes))
	s := res.Stats
	p.Field("Roles", s.Roles)
	p.Field("Channels", s.Channels)
	p.Field("Threads", s.Threads)
	p.Field("Members", s.Members)
	p.Field("Bans", s.Bans)
	p.Field("Messages", s.ChannelMessages+s.ThreadMessages)
	if s.FailedFetches > 0 {
		p.Warning("%d reads failed and were stored empty", s.FailedFetches)
	}
	return nil
}

// Forecast writes the dry-run view of a load session
func (p *Printer) Forecast(f *restore.Forecast) error {
	if p.Structured() {
		return p.Value(f)
	}
	p.Section("Restore preview")
	p.Field("Backup", f.BackupID)
	p.Field("Source", fmt.Sprintf("%s (%s)", f.SourceSpaceName, f.SourceSpaceID))
	p.Field("Captured", f.BackupCreatedAt.UTC().Format(timeLayout))
	p.Field("Target", f.TargetID)

	t := p.NewTable("ACTION", "COUNT", "EFFECT")
	t.SetAlignment(1, AlignRight)
	for _, item := range f.Items {
		t.AddRow(string(item.Action), strconv.Itoa(item.Count), item.Summary)
	}
	if err := p.Table(t); err != nil {
		return err
	}
	for _, n := range f.Notes {
		p.Info("%s", n)
	}
	for _, w := range f.Warnings {
		p.Warning("%s", w)
	}
	return nil
}

// Report writes the outcome of a restore run
func (p *Printer) Report(r *restore.Report) error {
	if p.Structured() {
		return p.Value(r)
	}
	switch r.Outcome {
	case restore.OutcomeCompleted:
		p.Success("Restore of %s onto %s completed in %s", r.BackupID, r.TargetID, FormatDuration(r.Duration()))
	case restore.OutcomeCancelled:
		p.Warning("Restore of %s onto %s was cancelled", r.BackupID, r.TargetID)
	default:
		p.Error("Restore of %s onto %s failed: %s", r.BackupID, r.TargetID, r.Error)
	}

	t := p.NewTable("PHASE", "ATTEMPTED", "OK", "SKIPPED", "TIME")
	for i := 1; i <= 3; i++ {
		t.SetAlignment(i, AlignRight)
	}
	for _, ph := range r.Phases {
		t.AddRow(string(ph.Phase), strconv.Itoa(ph.Attempted), strconv.Itoa(ph.Succeeded), strconv.Itoa(ph.Skipped), FormatDuration(ph.Duration))
	}
	if t.Len() > 0 {
		if err := p.Table(t); err != nil {
			return err
		}
	}
	for _, ph := range r.Phases {
		for _, reason := range sortedKeys(ph.Reasons) {
			p.Info("%s: %d skipped (%s)", ph.Phase, ph.Reasons[reason], reason)
		}
	}
	return nil
}

// ActiveRestores lists restores currently running
func (p *Printer) ActiveRestores(states []restore.ActiveRestoreState, now time.Time) error {
	if p.Structured() {
		if states == nil {
			states = []restore.ActiveRestoreState{}
		}
		return p.Value(states)
	}
	if len(states) == 0 {
		p.Info("No restores in progress")
		return nil
	}
	t := p.NewTable("TARGET", "BACKUP", "OPERATOR", "PHASE", "PROCESSED", "RUNNING", "CANCEL")
	t.SetAlignment(4, AlignRight)
	for _, s := range states {
		cancel := ""
		if s.CancelRequested {
			cancel = "requested"
		}
		t.AddRow(s.TargetID, s.BackupID, s.OperatorID, string(s.Phase), strconv.Itoa(s.Processed),
			FormatDuration(now.Sub(s.StartedAt)), cancel)
	}
	return p.Table(t)
}

// Retention writes the result of a prune
func (p *Printer) Retention(res *backup.RetentionResult) error {
	if p.Structured() {
		return p.Value(res)
	}
	verb := "Deleted"
	if res.DryRun {
		verb = "Would delete"
	}
	p.Success("%s %d of %d backups, keeping %d", verb, res.BackupsDeleted, res.TotalBackupsProcessed, res.BackupsKept)
	for _, m := range res.DeletedBackups {
		p.Info("%s %s (%s)", strings.ToLower(verb), m.BackupID, m.CreatedAt.UTC().Format(timeLayout))
	}
	for _, e := range res.Errors {
		p.Warning("%s", e)
	}
	return nil
}

// ProgressWriter returns a restore progress callback that rewrites one
// status line on w. It writes nothing for structured formats.
func (p *Printer) ProgressWriter(w io.Writer) restore.ProgressFunc {
	if p.Structured() || p.quiet {
		return nil
	}
	var last restore.Phase
	return func(ev restore.ProgressEvent) {
		if ev.Phase != last && last != "" {
			fmt.Fprintln(w)
		}
		last = ev.Phase
		fmt.Fprintf(w, "\r%s %s: %d processed", p.colors.Colorize("→", p.colors.Theme().Info), ev.Phase, ev.Processed)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
