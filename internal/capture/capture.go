// Package capture walks a live space through the access provider and writes
// the resulting backup document to the store.
package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"guild-backup/internal/backup"
	"guild-backup/internal/guild"
	"guild-backup/internal/logging"
	"guild-backup/internal/metrics"
)

// maxIDAttempts bounds regeneration when a fresh ID is already taken
const maxIDAttempts = 5

// Config tunes how much history is read and how fast
type Config struct {
	// MessagePageSize is the number of messages requested per page
	MessagePageSize int `mapstructure:"message_page_size" yaml:"message_page_size"`
	// MaxMessagesPerContainer caps history per channel or thread; 0 is unlimited
	MaxMessagesPerContainer int `mapstructure:"max_messages_per_container" yaml:"max_messages_per_container"`
	// PageDelay is slept between history pages
	PageDelay time.Duration `mapstructure:"page_delay" yaml:"page_delay"`
	// AuditLogPages is the number of audit log pages to read
	AuditLogPages    int `mapstructure:"audit_log_pages" yaml:"audit_log_pages"`
	AuditLogPageSize int `mapstructure:"audit_log_page_size" yaml:"audit_log_page_size"`
	// Concurrency bounds parallel read-only fetches
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.MessagePageSize <= 0 {
		c.MessagePageSize = 100
	}
	if c.AuditLogPages <= 0 {
		c.AuditLogPages = 1
	}
	if c.AuditLogPageSize <= 0 {
		c.AuditLogPageSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PageDelay < 0 {
		c.PageDelay = 0
	}
}

// DefaultConfig returns the production pacing
func DefaultConfig() Config {
	c := Config{PageDelay: time.Second}
	c.SetDefaults()
	return c
}

// Options are per-capture settings
type Options struct {
	Source guild.Source
}

// Stats counts what ended up in the document
type Stats struct {
	Roles           int `json:"roles"`
	Channels        int `json:"channels"`
	Threads         int `json:"threads"`
	Members         int `json:"members"`
	Bans            int `json:"bans"`
	Invites         int `json:"invites"`
	Webhooks        int `json:"webhooks"`
	Emojis          int `json:"emojis"`
	Stickers        int `json:"stickers"`
	ScheduledEvents int `json:"scheduledEvents"`
	Integrations    int `json:"integrations"`
	ModerationRules int `json:"moderationRules"`
	AuditLogEntries int `json:"auditLogEntries"`
	ChannelMessages int `json:"channelMessages"`
	ThreadMessages  int `json:"threadMessages"`
	// FailedFetches counts reads that degraded to an empty result
	FailedFetches int `json:"failedFetches"`
}

// Result describes a written backup
type Result struct {
	BackupID  string        `json:"backupId"`
	TargetID  string        `json:"targetId"`
	SpaceName string        `json:"spaceName"`
	CreatedAt time.Time     `json:"createdAt"`
	SizeBytes int64         `json:"sizeBytes"`
	Location  string        `json:"location"`
	Duration  time.Duration `json:"duration"`
	Stats     Stats         `json:"stats"`
}

// Capturer produces backups of live spaces
type Capturer struct {
	provider guild.AccessProvider
	store    *backup.Store
	config   Config
	logger   *logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() (string, error)
}

// New creates a Capturer. logger and m may be nil.
func New(provider guild.AccessProvider, store *backup.Store, config Config, logger *logging.Logger, m *metrics.Metrics) *Capturer {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Capturer{
		provider: provider,
		store:    store,
		config:   config,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		newID:    backup.NewBackupID,
	}
}

// Capture snapshots spaceID and writes it into the space's own partition.
// Only the space lookup and the final write are fatal; every other read
// degrades to an empty collection and is counted in Stats.FailedFetches.
func (c *Capturer) Capture(ctx context.Context, spaceID string, opts Options) (result *Result, err error) {
	start := time.Now()
	if opts.Source == "" {
		opts.Source = guild.SourceManual
	}
	if !opts.Source.Valid() {
		return nil, backup.NewValidationError(fmt.Sprintf("unknown backup source %q", opts.Source), nil)
	}

	defer func() {
		var size int64
		var failed int
		var backupID string
		if result != nil {
			size, failed, backupID = result.SizeBytes, result.Stats.FailedFetches, result.BackupID
		}
		c.metrics.ObserveCapture(string(opts.Source), size, failed, time.Since(start), err)
		c.logger.LogCapture(spaceID, backupID, size, time.Since(start), err)
	}()

	space, err := c.provider.Space(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch space %s: %w", spaceID, err)
	}

	f := &fetcher{logger: c.logger, spaceID: spaceID}
	doc := &guild.BackupDocument{
		Source: opts.Source,
		Space:  *space,
	}

	c.fetchCollections(ctx, spaceID, doc, f)
	c.fetchThreads(ctx, spaceID, doc, f)
	doc.Messages = c.fetchMessages(ctx, doc, f)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("capture of %s aborted: %w", spaceID, err)
	}

	backupID, err := c.allocateID(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	doc.BackupID = backupID
	doc.CreatedAt = c.now().UTC()
	doc.Space.RoleCount = len(doc.Roles)
	doc.Space.ChannelCount = len(doc.Channels)
	if doc.Space.MemberCount == 0 {
		doc.Space.MemberCount = len(doc.Members)
	}

	data, err := c.store.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup %s: %w", backupID, err)
	}

	location, err := c.store.Write(ctx, spaceID, backupID, data, backup.BackupMeta{
		SpaceName: doc.Space.Name,
		CreatedAt: doc.CreatedAt,
		Source:    string(doc.Source),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write backup %s: %w", backupID, err)
	}

	return &Result{
		BackupID:  backupID,
		TargetID:  spaceID,
		SpaceName: doc.Space.Name,
		CreatedAt: doc.CreatedAt,
		SizeBytes: int64(len(data)),
		Location:  location,
		Duration:  time.Since(start),
		Stats:     statsFor(doc, f.failedCount()),
	}, nil
}

// allocateID draws IDs until one is free in the partition
func (c *Capturer) allocateID(ctx context.Context, spaceID string) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := c.newID()
		if err != nil {
			return "", err
		}
		exists, err := c.store.Exists(ctx, spaceID, id)
		if err != nil {
			return "", fmt.Errorf("failed to check backup ID %s: %w", id, err)
		}
		if !exists {
			return id, nil
		}
		c.logger.Warnf("Backup ID %s already exists for %s, drawing another", id, spaceID)
	}
	return "", backup.NewConflictError(fmt.Sprintf("could not allocate a free backup ID after %d attempts", maxIDAttempts), nil)
}

// fetchCollections reads the independent space collections concurrently
func (c *Capturer) fetchCollections(ctx context.Context, spaceID string, doc *guild.BackupDocument, f *fetcher) {
	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)
	p := c.provider

	collect(ctx, &g, f, "roles", &doc.Roles, func(ctx context.Context) ([]guild.RoleRecord, error) { return p.Roles(ctx, spaceID) })
	collect(ctx, &g, f, "channels", &doc.Channels, func(ctx context.Context) ([]guild.ChannelRecord, error) { return p.Channels(ctx, spaceID) })
	collect(ctx, &g, f, "members", &doc.Members, func(ctx context.Context) ([]guild.MemberRecord, error) { return p.Members(ctx, spaceID) })
	collect(ctx, &g, f, "bans", &doc.Bans, func(ctx context.Context) ([]guild.BanRecord, error) { return p.Bans(ctx, spaceID) })
	collect(ctx, &g, f, "invites", &doc.Invites, func(ctx context.Context) ([]guild.InviteRecord, error) { return p.Invites(ctx, spaceID) })
	collect(ctx, &g, f, "webhooks", &doc.Webhooks, func(ctx context.Context) ([]guild.WebhookRecord, error) { return p.Webhooks(ctx, spaceID) })
	collect(ctx, &g, f, "emojis", &doc.Emojis, func(ctx context.Context) ([]guild.EmojiRecord, error) { return p.Emojis(ctx, spaceID) })
	collect(ctx, &g, f, "stickers", &doc.Stickers, func(ctx context.Context) ([]guild.StickerRecord, error) { return p.Stickers(ctx, spaceID) })
	collect(ctx, &g, f, "scheduled_events", &doc.ScheduledEvents, func(ctx context.Context) ([]guild.ScheduledEventRecord, error) {
		return p.ScheduledEvents(ctx, spaceID)
	})
	collect(ctx, &g, f, "integrations", &doc.Integrations, func(ctx context.Context) ([]guild.IntegrationRecord, error) {
		return p.Integrations(ctx, spaceID)
	})
	collect(ctx, &g, f, "moderation_rules", &doc.ModerationRules, func(ctx context.Context) ([]guild.ModerationRuleRecord, error) {
		return p.ModerationRules(ctx, spaceID)
	})
	collect(ctx, &g, f, "audit_log", &doc.AuditLogEntries, func(ctx context.Context) ([]guild.AuditLogEntryRecord, error) {
		return c.auditLog(ctx, spaceID)
	})

	_ = g.Wait()

	// thread-type containers are captured separately
	channels := doc.Channels[:0]
	for _, ch := range doc.Channels {
		if !ch.Type.IsThread() {
			channels = append(channels, ch)
		}
	}
	doc.Channels = channels
}

func (c *Capturer) auditLog(ctx context.Context, spaceID string) ([]guild.AuditLogEntryRecord, error) {
	var out []guild.AuditLogEntryRecord
	before := ""
	for page := 0; page < c.config.AuditLogPages; page++ {
		entries, err := c.provider.AuditLog(ctx, spaceID, before, c.config.AuditLogPageSize)
		if err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, err
		}
		out = append(out, entries...)
		if len(entries) < c.config.AuditLogPageSize {
			break
		}
		before = entries[len(entries)-1].ID
	}
	return out, nil
}

// fetchThreads collects active and archived threads of every top-level channel
func (c *Capturer) fetchThreads(ctx context.Context, spaceID string, doc *guild.BackupDocument, f *fetcher) {
	parents := make(map[string]bool, len(doc.Channels))
	for _, ch := range doc.Channels {
		parents[ch.ID] = true
	}

	seen := make(map[string]bool)
	threads := []guild.ThreadRecord{}
	add := func(list []guild.ThreadRecord) {
		for _, th := range list {
			if parents[th.ParentID] && !seen[th.ID] {
				seen[th.ID] = true
				threads = append(threads, th)
			}
		}
	}

	active, err := c.provider.ActiveThreads(ctx, spaceID)
	if err != nil {
		f.degrade("active_threads", spaceID, err)
	}
	add(active)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)
	archived := make([][]guild.ThreadRecord, len(doc.Channels))
	for i, ch := range doc.Channels {
		if !canHoldThreads(ch.Type) {
			continue
		}
		i, ch := i, ch
		g.Go(func() error {
			list, err := c.provider.ArchivedThreads(ctx, ch.ID)
			if err != nil {
				f.degrade("archived_threads", ch.ID, err)
				return nil
			}
			mu.Lock()
			archived[i] = list
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, list := range archived {
		add(list)
	}
	doc.Threads = threads
}

// fetchMessages walks the history of every message-capable container
func (c *Capturer) fetchMessages(ctx context.Context, doc *guild.BackupDocument, f *fetcher) guild.MessageArchive {
	archive := guild.MessageArchive{
		Channels: make(map[string][]guild.MessageRecord),
		Threads:  make(map[string][]guild.MessageRecord),
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.config.Concurrency)

	walk := func(containerID string, dst map[string][]guild.MessageRecord) {
		g.Go(func() error {
			msgs, err := c.walkHistory(ctx, containerID)
			if err != nil {
				f.degrade("messages", containerID, err)
			}
			if len(msgs) == 0 {
				return nil
			}
			mu.Lock()
			dst[containerID] = msgs
			mu.Unlock()
			return nil
		})
	}

	for _, ch := range doc.Channels {
		if ch.Type.HoldsMessages() {
			walk(ch.ID, archive.Channels)
		}
	}
	for _, th := range doc.Threads {
		walk(th.ID, archive.Threads)
	}
	_ = g.Wait()

	return archive
}

// walkHistory pages backward from the newest message and returns the
// history oldest first. On a failed page the pages read so far are kept.
func (c *Capturer) walkHistory(ctx context.Context, containerID string) ([]guild.MessageRecord, error) {
	var newestFirst []guild.MessageRecord
	before := ""
	limit := c.config.MaxMessagesPerContainer

	for {
		pageSize := c.config.MessagePageSize
		if limit > 0 && limit-len(newestFirst) < pageSize {
			pageSize = limit - len(newestFirst)
		}

		page, err := c.provider.Messages(ctx, containerID, before, pageSize)
		if err != nil {
			return reverse(newestFirst), err
		}
		newestFirst = append(newestFirst, page...)

		if len(page) < pageSize || (limit > 0 && len(newestFirst) >= limit) {
			break
		}
		before = page[len(page)-1].ID

		if err := pause(ctx, c.config.PageDelay); err != nil {
			return reverse(newestFirst), err
		}
	}
	return reverse(newestFirst), nil
}

func canHoldThreads(t guild.ChannelType) bool {
	switch t {
	case guild.ChannelTypeText, guild.ChannelTypeAnnouncement, guild.ChannelTypeForum, guild.ChannelTypeMedia:
		return true
	}
	return false
}

func reverse(msgs []guild.MessageRecord) []guild.MessageRecord {
	out := make([]guild.MessageRecord, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

// pause sleeps for d unless ctx ends first
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func statsFor(doc *guild.BackupDocument, failed int) Stats {
	channelMsgs, threadMsgs := doc.Messages.Count()
	return Stats{
		Roles:           len(doc.Roles),
		Channels:        len(doc.Channels),
		Threads:         len(doc.Threads),
		Members:         len(doc.Members),
		Bans:            len(doc.Bans),
		Invites:         len(doc.Invites),
		Webhooks:        len(doc.Webhooks),
		Emojis:          len(doc.Emojis),
		Stickers:        len(doc.Stickers),
		ScheduledEvents: len(doc.ScheduledEvents),
		Integrations:    len(doc.Integrations),
		ModerationRules: len(doc.ModerationRules),
		AuditLogEntries: len(doc.AuditLogEntries),
		ChannelMessages: channelMsgs,
		ThreadMessages:  threadMsgs,
		FailedFetches:   failed,
	}
}

// fetcher tracks degraded reads
type fetcher struct {
	mu      sync.Mutex
	failed  int
	logger  *logging.Logger
	spaceID string
}

func (f *fetcher) degrade(kind, id string, err error) {
	f.mu.Lock()
	f.failed++
	f.mu.Unlock()
	f.logger.WithFields(map[string]interface{}{
		"space_id": f.spaceID,
		"fetch":    kind,
		"id":       id,
	}).Warnf("Fetch failed, capturing empty result: %v", err)
}

func (f *fetcher) failedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

// collect runs fn on g and stores its result in dst, degrading errors to empty
func collect[T any](ctx context.Context, g *errgroup.Group, f *fetcher, kind string, dst *[]T, fn func(context.Context) ([]T, error)) {
	g.Go(func() error {
		items, err := fn(ctx)
		if err != nil {
			f.degrade(kind, f.spaceID, err)
			items = nil
		}
		if items == nil {
			items = []T{}
		}
		*dst = items
		return nil
	})
}
