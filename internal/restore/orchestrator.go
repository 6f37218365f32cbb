package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guild-backup/internal/backup"
	"guild-backup/internal/guild"
	"guild-backup/internal/logging"
	"guild-backup/internal/metrics"
)

// DefaultMessageLimit is the platform's per-message character limit
const DefaultMessageLimit = 2000

// Delays is the pause after each mutating call, per class of call
type Delays struct {
	Roles    time.Duration `mapstructure:"roles" yaml:"roles"`
	Channels time.Duration `mapstructure:"channels" yaml:"channels"`
	Settings time.Duration `mapstructure:"settings" yaml:"settings"`
	Members  time.Duration `mapstructure:"members" yaml:"members"`
	Bans     time.Duration `mapstructure:"bans" yaml:"bans"`
	Messages time.Duration `mapstructure:"messages" yaml:"messages"`
}

// DefaultDelays keeps a restore under the platform's rate limits
func DefaultDelays() Delays {
	return Delays{
		Roles:    500 * time.Millisecond,
		Channels: 700 * time.Millisecond,
		Settings: time.Second,
		Members:  300 * time.Millisecond,
		Bans:     time.Second,
		Messages: 1200 * time.Millisecond,
	}
}

// Config tunes the orchestrator
type Config struct {
	Delays       Delays `mapstructure:"delays" yaml:"delays"`
	MessageLimit int    `mapstructure:"message_limit" yaml:"message_limit"`
}

// DefaultConfig returns production settings
func DefaultConfig() Config {
	return Config{Delays: DefaultDelays(), MessageLimit: DefaultMessageLimit}
}

// SetDefaults fills zero values. Zero delays are kept.
func (c *Config) SetDefaults() {
	if c.MessageLimit <= 0 {
		c.MessageLimit = DefaultMessageLimit
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs backup.ValidationErrors
	d := c.Delays
	for name, v := range map[string]time.Duration{
		"roles": d.Roles, "channels": d.Channels, "settings": d.Settings,
		"members": d.Members, "bans": d.Bans, "messages": d.Messages,
	} {
		if v < 0 {
			errs.Add("restore.delays."+name, "must not be negative", v)
		}
	}
	if c.MessageLimit > DefaultMessageLimit {
		errs.Add("restore.message_limit", fmt.Sprintf("must not exceed %d", DefaultMessageLimit), c.MessageLimit)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// Orchestrator drives load sessions through preflight and execution
type Orchestrator struct {
	provider guild.AccessProvider
	store    *backup.Store
	sessions *SessionManager
	registry *Registry
	config   Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	progress ProgressFunc
}

// NewOrchestrator wires the orchestrator. logger and m may be nil.
func NewOrchestrator(provider guild.AccessProvider, store *backup.Store, sessions *SessionManager, registry *Registry, config Config, logger *logging.Logger, m *metrics.Metrics) *Orchestrator {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		provider: provider,
		store:    store,
		sessions: sessions,
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// SetProgressFunc installs an observer called after every unit of work
func (o *Orchestrator) SetProgressFunc(fn ProgressFunc) {
	o.progress = fn
}

// Sessions returns the session manager
func (o *Orchestrator) Sessions() *SessionManager { return o.sessions }

// Registry returns the active-restore registry
func (o *Orchestrator) Registry() *Registry { return o.registry }

// loadDocument reads the backup from the target's partition, falling back to
// a lookup across every partition
func (o *Orchestrator) loadDocument(ctx context.Context, targetID, backupID string) (*guild.BackupDocument, error) {
	var doc guild.BackupDocument
	_, err := o.store.Read(ctx, targetID, backupID, &doc)
	if backup.IsNotFound(err) {
		doc = guild.BackupDocument{}
		_, _, err = o.store.ReadGlobal(ctx, backupID, &doc)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Run executes the session's restore. The returned report carries whatever
// was accomplished even when the run was cancelled or failed. A CONFLICT
// error is returned without a report and keeps the session; every other
// outcome releases it.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (*Report, error) {
	session, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	doc, err := o.loadDocument(ctx, session.TargetID, session.BackupID)
	if err != nil {
		if delErr := o.sessions.Delete(sessionID); delErr != nil {
			o.logger.WithField("session_id", sessionID).Warnf("Failed to delete session: %v", delErr)
		}
		return nil, fmt.Errorf("failed to load backup %s: %w", session.BackupID, err)
	}

	if _, err := o.registry.Start(session.TargetID, session.OperatorID, session.BackupID, session.Actions); err != nil {
		return nil, err
	}
	o.metrics.RestoreStarted()

	r := &run{
		o:         o,
		ctx:       ctx,
		session:   session,
		doc:       doc,
		startedAt: time.Now(),
	}

	defer func() {
		if err := o.registry.Finish(session.TargetID); err != nil {
			o.logger.WithField("target_id", session.TargetID).Warnf("Failed to release restore: %v", err)
		}
		if err := o.sessions.Delete(sessionID); err != nil {
			o.logger.WithField("session_id", sessionID).Warnf("Failed to delete session: %v", err)
		}
	}()

	o.logger.WithFields(map[string]interface{}{
		"target_id": session.TargetID,
		"backup_id": session.BackupID,
		"actions":   session.Actions.String(),
	}).Info("Restore started")

	runErr := r.execute()
	report := r.report(runErr)

	o.metrics.RestoreFinished(string(report.Outcome), report.Duration())
	o.logger.LogRestoreOutcome(session.TargetID, session.BackupID, string(report.Outcome), report.Duration(), runErr)
	return report, runErr
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, ErrRestoreCancelled):
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}
