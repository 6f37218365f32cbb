package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"guild-backup/internal/backup"
	"guild-backup/internal/confirmation"
	"guild-backup/internal/restore"
)

var (
	loadTarget   string
	loadActions  string
	loadOperator string
	loadYes      bool
)

var backupDryRunCmd = &cobra.Command{
	Use:   "dry-run <backup-id>",
	Short: "Preview what loading a backup would change",
	Long: `Preview what loading a backup onto a guild would change. Nothing is modified.

Actions: delete_roles, load_roles, delete_channels, load_channels,
load_settings, load_threads, load_member_info, load_bans, load_messages,
load_pinned. Use "all" to select every action.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupDryRun,
}

var backupLoadCmd = &cobra.Command{
	Use:   "load <backup-id>",
	Short: "Restore a backup onto a guild",
	Long: `Restore a backup onto a guild. A preview is shown and must be confirmed
unless --yes is given. Only one restore may run per guild; use
'guild-backup backup cancel <target-id>' from another terminal to stop it.

Examples:
  guild-backup backup load AB12CD34 --target 876543210987654321 --actions load_roles,load_channels
  guild-backup backup load AB12CD34 --target 876543210987654321 --actions all --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupLoad,
}

var backupStatusCmd = &cobra.Command{
	Use:   "status [target-id]",
	Short: "Show restores in progress",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBackupStatus,
}

var backupCancelCmd = &cobra.Command{
	Use:   "cancel <target-id>",
	Short: "Ask the restore running on a guild to stop",
	Long: `Ask the restore running on a guild to stop. The restore finishes its
current unit of work and reports what it accomplished.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupCancel,
}

func init() {
	backupCmd.AddCommand(backupDryRunCmd, backupLoadCmd, backupStatusCmd, backupCancelCmd)

	for _, c := range []*cobra.Command{backupDryRunCmd, backupLoadCmd} {
		c.Flags().StringVar(&loadTarget, "target", "", "guild to restore onto")
		c.Flags().StringVar(&loadActions, "actions", "all", "comma separated actions to run")
		c.Flags().StringVar(&loadOperator, "operator", defaultOperator(), "operator recorded with the restore")
		c.MarkFlagRequired("target")
	}
	backupLoadCmd.Flags().BoolVarP(&loadYes, "yes", "y", false, "run without confirmation")
}

func defaultOperator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

// openSession creates a load session and computes its forecast
func openSession(cmd *cobra.Command, backupID string) (*restore.Orchestrator, string, *restore.Forecast, error) {
	actions, err := restore.ParseActions(loadActions)
	if err != nil {
		return nil, "", nil, err
	}

	app, err := newApplication(cmd, true)
	if err != nil {
		return nil, "", nil, err
	}
	orch, err := app.Orchestrator()
	if err != nil {
		return nil, "", nil, err
	}

	sessionID, err := orch.Sessions().Create(loadTarget, loadOperator, backup.NormalizeID(backupID), actions)
	if err != nil {
		return nil, "", nil, err
	}
	forecast, err := orch.Preflight(cmd.Context(), sessionID)
	if err != nil {
		_ = orch.Sessions().Delete(sessionID)
		return nil, "", nil, fmt.Errorf("preflight failed: %w", err)
	}
	return orch, sessionID, forecast, nil
}

func runBackupDryRun(cmd *cobra.Command, args []string) error {
	orch, sessionID, forecast, err := openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer orch.Sessions().Delete(sessionID)
	return newPrinter(cmd).Forecast(forecast)
}

func runBackupLoad(cmd *cobra.Command, args []string) error {
	printer := newPrinter(cmd)
	if printer.Structured() && !loadYes {
		return backup.NewValidationError("--yes is required with --format "+outputFormat, nil)
	}

	orch, sessionID, forecast, err := openSession(cmd, args[0])
	if err != nil {
		return err
	}

	confirm := confirmation.NewConfirmationService(cmd.InOrStdin(), printer)
	ok, err := confirm.ConfirmRestore(forecast, loadYes)
	if err != nil || !ok {
		_ = orch.Sessions().Delete(sessionID)
		if err == nil {
			printer.Info("Restore aborted")
		}
		return err
	}

	orch.SetProgressFunc(printer.ProgressWriter(cmd.ErrOrStderr()))
	report, runErr := orch.Run(cmd.Context(), sessionID)
	if report == nil {
		return runErr
	}
	if !printer.Structured() && !quiet {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err := printer.Report(report); err != nil {
		return err
	}
	if errors.Is(runErr, restore.ErrRestoreCancelled) {
		return nil
	}
	return runErr
}

func runBackupStatus(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}

	var states []restore.ActiveRestoreState
	if len(args) == 1 {
		state, err := app.Restores().Get(args[0])
		if err != nil && !backup.IsNotFound(err) {
			return err
		}
		if state != nil {
			states = append(states, *state)
		}
	} else {
		if states, err = app.Restores().List(); err != nil {
			return fmt.Errorf("failed to list restores: %w", err)
		}
	}
	return newPrinter(cmd).ActiveRestores(states, time.Now())
}

func runBackupCancel(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}
	ok, err := app.Restores().RequestCancel(args[0])
	if err != nil {
		return err
	}
	printer := newPrinter(cmd)
	if !ok {
		printer.Warning("No restore is running on %s", args[0])
		return nil
	}
	printer.Success("Cancellation requested for the restore on %s", args[0])
	return nil
}
