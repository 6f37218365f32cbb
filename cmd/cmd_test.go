package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"guild-backup/internal/application"
	"guild-backup/internal/backup"
	"guild-backup/internal/guild"
	"guild-backup/internal/guild/guildtest"
	"guild-backup/internal/logging"
	"guild-backup/internal/restore"
)

// resetFlags restores the package flag variables between executions
func resetFlags() {
	verbose, quiet, noColor = false, false, false
	outputFormat = "table"
	createSource = string(guild.SourceManual)
	backupTarget = ""
	listSearch, listPage, listPageSize, listAll = "", 1, backup.DefaultPageSize, false
	deleteForce, exportOutput = false, ""
	loadTarget, loadActions, loadOperator, loadYes = "", "all", "tester", false
	pruneDryRun, pruneAll = false, false
}

// setupCLI writes a config file over temp directories and injects provider
func setupCLI(t *testing.T, provider *guildtest.Provider) string {
	t.Helper()
	dir := t.TempDir()
	config := fmt.Sprintf(`backup:
  storage:
    provider: local
    local:
      base_path: %s
registry:
  dir: %s
capture:
  page_delay: 0s
restore:
  delays:
    roles: 0s
    channels: 0s
    settings: 0s
    members: 0s
    bans: 0s
    messages: 0s
logging:
  level: quiet
`, filepath.Join(dir, "backups"), filepath.Join(dir, "restores"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o600))

	appOptions = []application.Option{
		application.WithProvider(provider),
		application.WithLogger(logging.NewNopLogger()),
	}
	t.Cleanup(func() {
		appOptions = nil
		if activeApp != nil {
			_ = activeApp.Close()
			activeApp = nil
		}
	})
	return path
}

// execute runs the CLI with args and returns its stdout
func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	if activeApp != nil {
		_ = activeApp.Close()
		activeApp = nil
	}

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append(args, "--config", configPath, "--no-color"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	path := setupCLI(t, guildtest.NewProvider())

	out, err := execute(t, path, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "guild-backup version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestConfigCommand(t *testing.T) {
	path := setupCLI(t, guildtest.NewProvider())

	out, err := execute(t, path, "config")
	require.NoError(t, err)

	var decoded application.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, restore.DefaultDelays(), decoded.Restore.Delays)
}

func TestBuildConfig_ReadsFile(t *testing.T) {
	path := setupCLI(t, guildtest.NewProvider())
	_, err := execute(t, path, "version")
	require.NoError(t, err)

	config, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, backup.StorageProviderType("local"), config.Backup.Storage.Provider)
	assert.Zero(t, config.Capture.PageDelay)
	assert.Equal(t, restore.Delays{}, config.Restore.Delays)
	assert.Equal(t, restore.DefaultSessionTTL, config.Sessions.TTL, "unset values keep their defaults")
}

func TestFlagValidation(t *testing.T) {
	path := setupCLI(t, guildtest.NewProvider())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"verbose and quiet", []string{"backup", "status", "-v", "-q"}, "mutually exclusive"},
		{"bad format", []string{"backup", "status", "--format", "xml"}, "unsupported output format"},
		{"bad source", []string{"backup", "create", "space-1", "--source", "cron"}, "invalid source"},
		{"bad actions", []string{"backup", "dry-run", "AAAAAAAAAAAA", "--target", "space-2", "--actions", "load_everything"}, "unknown action"},
		{"load needs yes for json", []string{"backup", "load", "AAAAAAAAAAAA", "--target", "space-2", "--format", "json"}, "--yes is required"},
		{"prune needs target", []string{"schedule", "prune"}, "--all is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, path, tt.args...)
			if err == nil {
				t.Fatalf("expected an error for %v", tt.args)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestBackupLifecycle(t *testing.T) {
	provider := guildtest.NewProvider(
		guildtest.SampleSpace("space-1", "Source"),
		guildtest.NewSpace("space-2", "Target"),
	)
	path := setupCLI(t, provider)

	out, err := execute(t, path, "backup", "create", "space-1")
	require.NoError(t, err)
	assert.Contains(t, out, "created for Source")

	out, err = execute(t, path, "backup", "list", "space-1", "--format", "json")
	require.NoError(t, err)
	var page backup.MetaPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Items, 1)
	id := page.Items[0].BackupID
	assert.Equal(t, "manual", page.Items[0].Source)

	out, err = execute(t, path, "backup", "info", strings.ToLower(id), "--format", "json")
	require.NoError(t, err)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "space-1", info["targetId"])

	out, err = execute(t, path, "backup", "dry-run", id, "--target", "space-2", "--actions", "load_roles,load_channels", "--format", "json")
	require.NoError(t, err)
	var forecast restore.Forecast
	require.NoError(t, json.Unmarshal([]byte(out), &forecast))
	assert.Equal(t, id, forecast.BackupID)
	assert.Len(t, forecast.Items, 2)
	assert.Zero(t, provider.MutationCount(), "dry-run never mutates")

	out, err = execute(t, path, "backup", "load", id, "--target", "space-2", "--actions", "load_roles,load_channels", "--yes", "--format", "json")
	require.NoError(t, err)
	var report restore.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, restore.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 2, report.Stats.CreatedRoles)
	assert.Equal(t, 3, report.Stats.CreatedChannels)

	out, err = execute(t, path, "backup", "export", id, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "backupId: ")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "roles:")

	exportPath := filepath.Join(t.TempDir(), "export.json")
	_, err = execute(t, path, "backup", "export", id, "--output", exportPath)
	require.NoError(t, err)
	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	var doc guild.BackupDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, id, doc.BackupID)

	out, err = execute(t, path, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	_, err = execute(t, path, "backup", "delete", id, "--force")
	require.NoError(t, err)

	out, err = execute(t, path, "backup", "list", "space-1", "--all", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestBackupLoad_Declined(t *testing.T) {
	provider := guildtest.NewProvider(
		guildtest.SampleSpace("space-1", "Source"),
		guildtest.NewSpace("space-2", "Target"),
	)
	path := setupCLI(t, provider)

	_, err := execute(t, path, "backup", "create", "space-1")
	require.NoError(t, err)
	out, err := execute(t, path, "backup", "list", "space-1", "--format", "json")
	require.NoError(t, err)
	var page backup.MetaPage
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Items, 1)

	// stdin is not a terminal and empty, so the prompt reads EOF
	before := provider.MutationCount()
	_, err = execute(t, path, "backup", "load", page.Items[0].BackupID, "--target", "space-2", "--actions", "load_roles")
	assert.Error(t, err)
	assert.Equal(t, before, provider.MutationCount())
}

func TestBackupInfo_NotFound(t *testing.T) {
	path := setupCLI(t, guildtest.NewProvider())

	_, err := execute(t, path, "backup", "info", "ZZZZZZZZZZZZ")
	require.Error(t, err)
	assert.True(t, backup.IsNotFound(err), "got %v", err)

	_, err = execute(t, path, "backup", "info", "not-an-id")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backup ID")
}

func TestBackupDelete_RejectsTraversalID(t *testing.T) {
	path := setupCLI(t, guildtest.NewProvider())
	victim := filepath.Join(filepath.Dir(path), "VICTIM.bkp")
	require.NoError(t, os.WriteFile(victim, []byte("keep"), 0o600))

	_, err := execute(t, path, "backup", "delete", "../../victim", "--target", "space-1", "--force")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backup ID")
	assert.FileExists(t, victim)
}

func TestStatusAndCancel_NoRestore(t *testing.T) {
	path := setupCLI(t, guildtest.NewProvider())

	out, err := execute(t, path, "backup", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No restores in progress")

	out, err = execute(t, path, "backup", "status", "space-2", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)

	out, err = execute(t, path, "backup", "cancel", "space-2")
	require.NoError(t, err)
	assert.Contains(t, out, "No restore is running on space-2")
}

func TestSchedulePrune(t *testing.T) {
	provider := guildtest.NewProvider(guildtest.SampleSpace("space-1", "Source"))
	path := setupCLI(t, provider)

	for i := 0; i < 3; i++ {
		_, err := execute(t, path, "backup", "create", "space-1", "--source", "automatic")
		require.NoError(t, err)
	}

	out, err := execute(t, path, "schedule", "prune", "space-1", "--dry-run", "--format", "json")
	require.NoError(t, err)
	var res backup.RetentionResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.DryRun)
	assert.Equal(t, 3, res.TotalBackupsProcessed)
}
