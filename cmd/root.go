package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"guild-backup/internal/application"
	"guild-backup/internal/display"
	appErrors "guild-backup/internal/errors"
	"guild-backup/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	verbose      bool
	quiet        bool
	noColor      bool
	outputFormat string
	logFile      string
	logFormat    string
	token        string
)

// appOptions are passed to every Application the commands build
var appOptions []application.Option

// activeApp is the Application of the running command, used to report errors
var activeApp *application.Application

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "guild-backup",
	Short: "Back up and restore Discord guilds",
	Long: `guild-backup captures a Discord guild into a portable archive and replays
an archive onto a guild, remapping role and channel IDs as it goes.

Archives are written to a local directory, S3, Azure Blob Storage or Google
Cloud Storage. Restores run one at a time per target guild and can be
cancelled from another terminal.

Examples:
  # Capture a guild
  guild-backup backup create 123456789012345678

  # List its backups as JSON
  guild-backup backup list 123456789012345678 --format json

  # Preview, then run, a restore of roles and channels
  guild-backup backup dry-run AB12CD34 --target 876543210987654321 --actions load_roles,load_channels
  guild-backup backup load AB12CD34 --target 876543210987654321 --actions load_roles,load_channels

  # Capture the configured guilds on a schedule
  guild-backup schedule run --cron "0 3 * * *" --targets 123456789012345678`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose && quiet {
			return fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
		}
		if _, err := display.ParseFormat(outputFormat); err != nil {
			return err
		}
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if activeApp != nil {
		if err != nil {
			activeApp.HandleError(rootCmd.ErrOrStderr(), err)
		}
		_ = activeApp.Close()
	} else if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %s\n", appErrors.FormatUserError(err))
	}
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.guild-backup.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotating file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Discord bot token")

	viper.BindPFlag("discord.token", rootCmd.PersistentFlags().Lookup("token"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".guild-backup")
	}

	viper.SetEnvPrefix("GUILD_BACKUP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Unmarshal only sees keys viper knows about, so secrets are bound explicitly
	viper.BindEnv("discord.token", "GUILD_BACKUP_TOKEN", "DISCORD_TOKEN")
	viper.BindEnv("backup.encryption.passphrase", "GUILD_BACKUP_PASSPHRASE")
	viper.BindEnv("backup.storage.provider")
	viper.BindEnv("backup.storage.local.base_path")
	viper.BindEnv("metrics.addr")

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// buildConfig decodes the config file, environment and flags over the defaults
func buildConfig() (application.Config, error) {
	config := application.DefaultConfig()
	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	config.Backup.LoadFromEnvironment()

	switch {
	case quiet:
		config.Logging.Level = string(logging.LogLevelQuiet)
	case verbose:
		config.Logging.Level = string(logging.LogLevelVerbose)
	}
	return config, nil
}

// newApplication builds the Application for a command. Commands that talk to
// the platform pass needProvider and are prompted for a token when none is
// configured and stdin is a terminal.
func newApplication(cmd *cobra.Command, needProvider bool) (*application.Application, error) {
	config, err := buildConfig()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if needProvider && config.Discord.Token == "" && len(appOptions) == 0 {
		config.Discord.Token, err = promptToken(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return nil, err
		}
	}

	app, err := application.New(cmd.Context(), config, appOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	activeApp = app
	return app, nil
}

// promptToken reads the bot token without echo
func promptToken(in *os.File, out io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return "", application.ErrNoProvider
	}
	fmt.Fprint(out, "Discord bot token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	t := strings.TrimSpace(string(raw))
	if t == "" {
		return "", application.ErrNoProvider
	}
	return t, nil
}

// newPrinter builds the printer for the command's stdout
func newPrinter(cmd *cobra.Command) *display.Printer {
	format, _ := display.ParseFormat(outputFormat)
	var p *display.Printer
	if noColor {
		p = display.NewPlainPrinter(cmd.OutOrStdout(), format)
	} else {
		p = display.NewPrinter(cmd.OutOrStdout(), format)
	}
	p.SetQuiet(quiet)
	return p
}

// Version information
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "guild-backup version %s\n", version)
			fmt.Fprintf(w, "Built: %s\n", buildTime)
			fmt.Fprintf(w, "Commit: %s\n", gitCommit)
			fmt.Fprintf(w, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Examples:
  guild-backup config > ~/.guild-backup.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := application.SampleYAML()
			if err != nil {
				return err
			}
			w := bufio.NewWriter(cmd.OutOrStdout())
			fmt.Fprint(w, sample)
			return w.Flush()
		},
	}
}
