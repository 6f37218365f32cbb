package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guild-backup/internal/application"
	"guild-backup/internal/backup"
	"guild-backup/internal/metrics"
)

var (
	pruneDryRun bool
	pruneAll    bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run automatic backups and retention",
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture the configured guilds on a cron schedule",
	Long: `Capture every configured guild on a cron schedule and apply retention to
automatic backups after each capture. Runs until interrupted.

Examples:
  guild-backup schedule run --cron "0 3 * * *" --targets 123456789012345678,876543210987654321
  guild-backup schedule run --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runScheduleRun,
}

var schedulePruneCmd = &cobra.Command{
	Use:   "prune [target-id]",
	Short: "Apply retention to automatic backups",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSchedulePrune,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleRunCmd, schedulePruneCmd)

	scheduleRunCmd.Flags().String("cron", "", "cron expression or descriptor (default @daily)")
	scheduleRunCmd.Flags().StringSlice("targets", nil, "guild IDs to capture")
	scheduleRunCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	viper.BindPFlag("schedule.cron", scheduleRunCmd.Flags().Lookup("cron"))
	viper.BindPFlag("schedule.targets", scheduleRunCmd.Flags().Lookup("targets"))
	viper.BindPFlag("metrics.addr", scheduleRunCmd.Flags().Lookup("metrics-addr"))

	schedulePruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "show what would be deleted")
	schedulePruneCmd.Flags().BoolVar(&pruneAll, "all", false, "prune every guild")
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	app, err := newApplication(cmd, true)
	if err != nil {
		return err
	}
	runner, err := app.Scheduler()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdown := app.ShutdownHandler()
	if addr := app.Config().Metrics.Addr; addr != "" {
		server := metricsServer(app, addr)
		shutdown.RegisterShutdownFunc(func() error {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return server.Shutdown(shutdownCtx)
		})
	}
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.Start()
	defer shutdown.Stop()

	printer := newPrinter(cmd)
	printer.Info("Next capture at %s", runner.Next(time.Now()).Format(time.RFC3339))

	runErr := runner.Run(ctx)
	shutdown.Shutdown()
	<-shutdown.Done()
	return runErr
}

func metricsServer(app *application.Application, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(app.Gatherer()))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger().Errorf("Metrics server failed: %v", err)
		}
	}()
	app.Logger().WithField("addr", addr).Info("Serving metrics")
	return server
}

func runSchedulePrune(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !pruneAll {
		return backup.NewValidationError("a target ID or --all is required", nil)
	}

	app, err := newApplication(cmd, false)
	if err != nil {
		return err
	}

	var res *backup.RetentionResult
	if pruneAll {
		res, err = app.Retention().ApplyAll(cmd.Context(), pruneDryRun)
	} else {
		res, err = app.Retention().Apply(cmd.Context(), args[0], pruneDryRun)
	}
	if err != nil {
		return fmt.Errorf("retention failed: %w", err)
	}
	if !pruneDryRun {
		app.Metrics().AddPruned(res.BackupsDeleted)
	}
	return newPrinter(cmd).Retention(res)
}
