// Package scheduler runs automatic captures on a cron schedule and prunes
// old automatic backups after each one.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"guild-backup/internal/backup"
	"guild-backup/internal/capture"
	"guild-backup/internal/guild"
	"guild-backup/internal/logging"
	"guild-backup/internal/metrics"
)

const DefaultCron = "@daily"

// Config selects when and what to capture
type Config struct {
	Cron    string   `mapstructure:"cron" yaml:"cron"`
	Targets []string `mapstructure:"targets" yaml:"targets"`
	// SkipRetention disables pruning after each capture
	SkipRetention bool `mapstructure:"skip_retention" yaml:"skip_retention"`
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if strings.TrimSpace(c.Cron) == "" {
		c.Cron = DefaultCron
	}
}

// Validate checks the cron expression and target list
func (c *Config) Validate() error {
	var errs backup.ValidationErrors
	if _, err := ParseSchedule(c.Cron); err != nil {
		errs.Add("schedule.cron", err.Error(), c.Cron)
	}
	for _, t := range c.Targets {
		if strings.TrimSpace(t) == "" {
			errs.Add("schedule.targets", "target ids must not be empty", c.Targets)
			break
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ParseSchedule accepts five or six field expressions and descriptors
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

type Capturer interface {
	Capture(ctx context.Context, spaceID string, opts capture.Options) (*capture.Result, error)
}

type Pruner interface {
	Apply(ctx context.Context, targetID string, dryRun bool) (*backup.RetentionResult, error)
}

// TargetResult is the outcome of one scheduled capture
type TargetResult struct {
	TargetID string
	BackupID string
	Pruned   int
	Err      error
}

// Runner fires scheduled captures until its context ends
type Runner struct {
	config   Config
	schedule cron.Schedule
	capturer Capturer
	pruner   Pruner
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

// NewRunner validates config and builds a runner. pruner may be nil.
func NewRunner(config Config, capturer Capturer, pruner Pruner, logger *logging.Logger, m *metrics.Metrics) (*Runner, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if len(config.Targets) == 0 {
		return nil, backup.NewValidationError("at least one schedule target is required", nil)
	}
	schedule, err := ParseSchedule(config.Cron)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{
		config:   config,
		schedule: schedule,
		capturer: capturer,
		pruner:   pruner,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		after:    time.After,
	}, nil
}

// Next returns the first activation after from
func (r *Runner) Next(from time.Time) time.Time {
	return r.schedule.Next(from)
}

// Run blocks, capturing every target at each activation. It returns nil
// once ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.WithFields(map[string]interface{}{
		"cron":    r.config.Cron,
		"targets": strings.Join(r.config.Targets, ","),
	}).Info("Scheduler started")

	for {
		next := r.Next(r.now())
		wait := next.Sub(r.now())
		if wait < 0 {
			wait = 0
		}
		r.logger.Debugf("Next scheduled capture at %s", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			r.logger.Info("Scheduler stopped")
			return nil
		case <-r.after(wait):
		}
		r.RunOnce(ctx)
	}
}

// RunOnce captures each target in turn and applies retention to it
func (r *Runner) RunOnce(ctx context.Context) []TargetResult {
	results := make([]TargetResult, 0, len(r.config.Targets))
	for _, target := range r.config.Targets {
		if ctx.Err() != nil {
			break
		}
		results = append(results, r.runTarget(ctx, target))
	}
	return results
}

func (r *Runner) runTarget(ctx context.Context, target string) TargetResult {
	result := TargetResult{TargetID: target}
	log := r.logger.WithField("target", target)

	res, err := r.capturer.Capture(ctx, target, capture.Options{Source: guild.SourceAutomatic})
	if err != nil {
		log.WithError(err).Error("Scheduled capture failed")
		result.Err = err
		return result
	}
	result.BackupID = res.BackupID

	if r.pruner == nil || r.config.SkipRetention {
		return result
	}
	pruned, err := r.pruner.Apply(ctx, target, false)
	if err != nil {
		log.WithError(err).Warn("Retention failed")
		result.Err = err
		return result
	}
	result.Pruned = pruned.BackupsDeleted
	r.metrics.AddPruned(pruned.BackupsDeleted)
	if pruned.BackupsDeleted > 0 {
		log.Infof("Pruned %d automatic backups", pruned.BackupsDeleted)
	}
	return result
}
