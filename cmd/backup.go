package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"guild-backup/internal/application"
	"guild-backup/internal/backup"
	"guild-backup/internal/capture"
	"guild-backup/internal/confirmation"
	"guild-backup/internal/display"
	"guild-backup/internal/guild"
)

var (
	// Backup creation flags
	createSource string

	// Shared lookup flag
	backupTarget string

	// Backup listing flags
	listSearch   string
	listPage     int
	listPageSize int
	listAll      bool

	deleteForce  bool
	exportOutput string
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Manage guild backups",
	Long: `Create, list, inspect and restore guild backups.

Examples:
  # Create a backup
  guild-backup backup create 123456789012345678

  # List backups of a guild, page 2
  guild-backup backup list 123456789012345678 --page 2

  # Show what a backup contains
  guild-backup backup info AB12CD34

  # Export a backup as YAML
  guild-backup backup export AB12CD34 --format yaml --output backup.yaml`,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create <space-id>",
	Short: "Capture a guild into a new backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupCreate,
}

var backupInfoCmd = &cobra.Command{
	Use:   "info <backup-id>",
	Short: "Show a backup's metadata and contents",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupInfo,
}

var backupListCmd = &cobra.Command{
	Use:   "list [target-id]",
	Short: "List backups",
	Long: `List backups of one guild, newest first, a page at a time.

Without a target every guild's backups are listed. --search matches the
backup ID or label case-insensitively.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBackupList,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <backup-id>",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupDelete,
}

var backupExportCmd = &cobra.Command{
	Use:   "export <backup-id>",
	Short: "Write a backup's document as JSON or YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  runBackupExport,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd, backupInfoCmd, backupListCmd, backupDeleteCmd, backupExportCmd)

	backupCreateCmd.Flags().StringVar(&createSource, "source", string(guild.SourceManual), "capture source (manual, automatic)")

	for _, c := range []*cobra.Command{backupInfoCmd, backupDeleteCmd, backupExportCmd} {
		c.Flags().StringVar(&backupTarget, "target", "", "guild the backup belongs to (searched when omitted)")
	}

	backupListCmd.Flags().StringVar(&listSearch, "search", "", "filter by backup ID or label")
	backupListCmd.Flags().IntVar(&listPage, "page", 1, "page number")
	backupListCmd.Flags().IntVar(&listPageSize, "page-size", backup.DefaultPageSize, "backups per page")
	backupListCmd.Flags().BoolVar(&listAll, "all", false, "list every backup without paging")

	backupDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "delete without confirmation")
	backupExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to a file instead of stdout")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	source := guild.Source(createSource)
	if !source.Valid() {
		return backup.NewValidationError(fmt.Sprintf("invalid source %q (use manual or automatic)", createSource), nil)
	}

	app, err := newApplication(cmd, true)
	if err != nil {
		return err
	}
	capturer, err := app.Capturer()
	if err != nil {
		return err
	}

	printer := newPrinter(cmd)
	printer.Info("Capturing guild %s...", args[0])

	res, err := capturer.Capture(cmd.Context(), args[0], capture.Options{Source: source})
	if err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}
	return printer.CaptureResult(res)
}

// parseBackupID normalizes an operator-supplied backup ID
func parseBackupID(raw string) (string, error) {
	id := backup.NormalizeID(raw)
	if !backup.ValidID(id) {
		return "", backup.NewValidationError(fmt.Sprintf("invalid backup ID %q", raw), nil)
	}
	return id, nil
}

// readBackup loads a backup document from target, or from whichever
// partition holds it when target is empty
func readBackup(ctx context.Context, store *backup.Store, target, rawID string) (*guild.BackupDocument, backup.BackupMeta, error) {
	id, err := parseBackupID(rawID)
	if err != nil {
		return nil, backup.BackupMeta{}, err
	}

	var doc guild.BackupDocument
	var size int64
	if target != "" {
		size, err = store.Read(ctx, target, id, &doc)
	} else {
		target, size, err = store.ReadGlobal(ctx, id, &doc)
	}
	if err != nil {
		return nil, backup.BackupMeta{}, err
	}

	meta := backup.BackupMeta{
		BackupID:  doc.BackupID,
		TargetID:  target,
		SpaceName: doc.Space.Name,
		CreatedAt: doc.CreatedAt,
		Source:    string(doc.Source),
		SizeBytes: size,
		Label:     backup.LabelFor(doc.Space.Name, doc.CreatedAt, doc.BackupID),
	}
	return &doc, meta, nil
}

// contentCounts totals each record kind of doc
func contentCounts(doc *guild.BackupDocument) map[string]int {
	channelMessages, threadMessages := doc.Messages.Count()
	return map[string]int{
		"roles":            len(doc.Roles),
		"channels":         len(doc.Channels),
		"threads":          len(doc.Threads),
		"members":          len(doc.Members),
		"bans":             len(doc.Bans),
		"invites":          len(doc.Invites),
		"webhooks":         len(doc.Webhooks),
		"emojis":           len(doc.Emojis),
		"stickers":         len(doc.Stickers),
		"scheduled_events": len(doc.ScheduledEvents),
		"integrations":     len(doc.Integrations),
		"moderation_rules": len(doc.ModerationRules),
		"audit_log":        len(doc.AuditLogEntries),
		"channel_messages": channelMessages,
		"thread_messages":  threadMessages,
	}
}

func runBackupInfo(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}
	doc, meta, err := readBackup(cmd.Context(), app.Store(), backupTarget, args[0])
	if err != nil {
		return err
	}
	return newPrinter(cmd).BackupInfo(meta, contentCounts(doc))
}

func runBackupList(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}
	printer := newPrinter(cmd)
	ctx := cmd.Context()

	if len(args) == 0 {
		metas, err := app.Store().ListAllMeta(ctx, backup.ListOptions{Search: listSearch})
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		return printer.BackupList(metas)
	}

	target := args[0]
	if listAll {
		metas, err := app.Store().ListMeta(ctx, target, backup.ListOptions{Search: listSearch})
		if err != nil {
			return fmt.Errorf("failed to list backups: %w", err)
		}
		return printer.BackupList(metas)
	}

	page, err := app.Store().ListMetaPaginated(ctx, target, backup.PageOptions{
		Search:   listSearch,
		Page:     listPage,
		PageSize: listPageSize,
	})
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	return printer.MetaPage(page)
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
	id, err := parseBackupID(args[0])
	if err != nil {
		return err
	}
	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	target := backupTarget
	if target == "" {
		if target, err = app.Store().Locate(ctx, id); err != nil {
			return err
		}
	}

	printer := newPrinter(cmd)
	confirm := confirmation.NewConfirmationService(cmd.InOrStdin(), printer)
	ok, err := confirm.Confirm(fmt.Sprintf("Delete backup %s of %s?", id, target), deleteForce)
	if err != nil {
		return err
	}
	if !ok {
		printer.Info("Deletion aborted")
		return nil
	}

	if err := app.Store().Delete(ctx, target, id); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	printer.Success("Deleted backup %s", id)
	return nil
}

func runBackupExport(cmd *cobra.Command, args []string) error {
	format, err := display.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if format == display.FormatTable {
		format = display.FormatJSON
	}

	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}
	doc, _, err := readBackup(cmd.Context(), app.Store(), backupTarget, args[0])
	if err != nil {
		return err
	}

	value, err := exportValue(doc, format)
	if err != nil {
		return err
	}
	if exportOutput == "" {
		return display.NewPlainPrinter(cmd.OutOrStdout(), format).Value(value)
	}
	return writeExport(app, exportOutput, format, doc.BackupID, value)
}

// exportValue keeps the document's JSON field names and order in YAML output
func exportValue(doc *guild.BackupDocument, format display.Format) (interface{}, error) {
	if format != display.FormatYAML {
		return doc, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to convert backup to YAML: %w", err)
	}
	blockStyle(&node)
	return &node, nil
}

// blockStyle clears the flow and quoting styles a JSON source leaves on node.
// The encoder still quotes strings that would otherwise resolve to another type.
func blockStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		blockStyle(child)
	}
}

func writeExport(app *application.Application, path string, format display.Format, backupID string, value interface{}) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := display.NewPlainPrinter(f, format).Value(value); err != nil {
		f.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	app.Logger().WithFields(map[string]interface{}{
		"backup_id": backupID,
		"path":      path,
		"format":    string(format),
	}).Info("Backup exported")
	return nil
}
