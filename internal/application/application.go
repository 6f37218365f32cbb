// Package application wires configuration into the capture, restore and
// scheduling services.
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"guild-backup/internal/backup"
	"guild-backup/internal/capture"
	"guild-backup/internal/discord"
	appErrors "guild-backup/internal/errors"
	"guild-backup/internal/guild"
	"guild-backup/internal/logging"
	"guild-backup/internal/metrics"
	"guild-backup/internal/restore"
	"guild-backup/internal/scheduler"
)

// Application holds the services built from one Config
type Application struct {
	config          Config
	logger          *logging.Logger
	metrics         *metrics.Metrics
	registry        *prometheus.Registry
	store           *backup.Store
	provider        guild.AccessProvider
	sessions        *restore.SessionManager
	restores        *restore.Registry
	retention       *backup.RetentionManager
	shutdownHandler *appErrors.GracefulShutdownHandler
	closers         []func() error
}

type options struct {
	provider guild.AccessProvider
	blobs    backup.BlobStore
	logger   *logging.Logger
}

// Option overrides a service that would otherwise be built from Config
type Option func(*options)

// WithProvider injects the access provider instead of dialing the platform
func WithProvider(p guild.AccessProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithBlobStore injects the storage backend
func WithBlobStore(b backup.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New validates config and builds the services. The platform provider is only
// dialed when a token is configured; commands that need it call Provider.
func New(ctx context.Context, config Config, opts ...Option) (*Application, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	app := &Application{
		config:          config,
		shutdownHandler: appErrors.NewGracefulShutdownHandler(),
	}

	app.logger = o.logger
	if app.logger == nil {
		logger, err := logging.NewLogger(config.Logging.LoggerConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		app.logger = logger
		app.closers = append(app.closers, logger.Close)
	}

	app.registry = prometheus.NewRegistry()
	app.metrics = metrics.New(app.registry)

	blobs := o.blobs
	if blobs == nil {
		var err error
		blobs, err = backup.NewStorageProviderFactory().CreateStorageProvider(ctx, config.Backup.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage provider: %w", err)
		}
	}
	codec := backup.NewCodec(config.Backup.Codec, &config.Backup.Encryption)
	app.store = backup.NewStore(blobs, codec, app.logger)
	if err := app.store.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("storage backend %s is not usable: %w", blobs.Location(""), err)
	}
	app.retention = backup.NewRetentionManager(app.store, config.Backup.Retention, app.logger)

	regStore, err := restore.NewFileRegistryStore(config.Registry.Dir, config.Registry.StaleAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to open restore registry: %w", err)
	}
	app.restores = restore.NewRegistry(regStore, app.logger)
	app.sessions = restore.NewSessionManager(nil, config.Sessions.TTL, app.metrics)

	app.provider = o.provider
	if app.provider == nil && config.Discord.Token != "" {
		p, err := discord.New(config.Discord.Token, app.logger)
		if err != nil {
			return nil, err
		}
		app.provider = p
		app.closers = append(app.closers, p.Close)
	}

	return app, nil
}

func (app *Application) Config() Config { return app.config }
func (app *Application) Logger() *logging.Logger { return app.logger }
func (app *Application) Metrics() *metrics.Metrics { return app.metrics }
func (app *Application) Gatherer() prometheus.Gatherer { return app.registry }
func (app *Application) Store() *backup.Store { return app.store }
func (app *Application) Restores() *restore.Registry { return app.restores }
func (app *Application) Retention() *backup.RetentionManager { return app.retention }

// ShutdownHandler returns the handler long-running commands register with
func (app *Application) ShutdownHandler() *appErrors.GracefulShutdownHandler {
	return app.shutdownHandler
}

// ErrNoProvider is returned when a command needs the platform but no token is set
var ErrNoProvider = errors.New("no discord token configured")

// Provider returns the access provider or ErrNoProvider
func (app *Application) Provider() (guild.AccessProvider, error) {
	if app.provider == nil {
		return nil, ErrNoProvider
	}
	return app.provider, nil
}

// Capturer builds a capturer over the configured provider
func (app *Application) Capturer() (*capture.Capturer, error) {
	provider, err := app.Provider()
	if err != nil {
		return nil, err
	}
	return capture.New(provider, app.store, app.config.Capture, app.logger, app.metrics), nil
}

// Orchestrator builds the restore orchestrator over the configured provider
func (app *Application) Orchestrator() (*restore.Orchestrator, error) {
	provider, err := app.Provider()
	if err != nil {
		return nil, err
	}
	return restore.NewOrchestrator(provider, app.store, app.sessions, app.restores, app.config.Restore, app.logger, app.metrics), nil
}

// Scheduler builds the cron runner for the configured targets
func (app *Application) Scheduler() (*scheduler.Runner, error) {
	capturer, err := app.Capturer()
	if err != nil {
		return nil, err
	}
	return scheduler.NewRunner(app.config.Schedule, capturer, app.retention, app.logger, app.metrics)
}

// Close releases every resource opened by New, newest first
func (app *Application) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HandleError prints a user-facing message and troubleshooting hints for err
func (app *Application) HandleError(w io.Writer, err error) {
	if err == nil {
		return
	}
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, "Error: %s\n", appErrors.FormatUserError(err))

	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		app.logger.WithFields(map[string]interface{}{
			"error_type":  string(appErr.Type),
			"recoverable": appErr.IsRecoverable(),
		}).Debug("Command failed")
	}
	provideTroubleshootingHints(w, appErrors.GetErrorType(err))
}

func provideTroubleshootingHints(w io.Writer, errType appErrors.ErrorType) {
	var hints []string
	switch errType {
	case appErrors.ErrorTypePermission:
		hints = []string{
			"Verify the bot token is correct",
			"Check that the bot holds Manage Roles, Manage Channels and Ban Members",
			"Move the bot's role above the roles it must manage",
		}
	case appErrors.ErrorTypeRateLimit:
		hints = []string{
			"The platform is rate limiting requests; retry later",
			"Increase the restore delays in the configuration",
		}
	case appErrors.ErrorTypeNotFound:
		hints = []string{
			"Check the space and backup IDs",
			"Run 'guild-backup backup list' to see available backups",
		}
	case appErrors.ErrorTypeConnection, appErrors.ErrorTypeTimeout:
		hints = []string{
			"Check network connectivity to the platform and storage backend",
		}
	}
	if len(hints) == 0 {
		return
	}
	fmt.Fprintf(w, "\nTroubleshooting hints:\n")
	for _, h := range hints {
		fmt.Fprintf(w, "- %s\n", h)
	}
}
