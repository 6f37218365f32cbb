// Package discord implements guild.AccessProvider over the Discord REST API.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	apperrors "guild-backup/internal/errors"
	"guild-backup/internal/guild"
	"guild-backup/internal/logging"
)

const (
	memberPageSize  = 1000
	banPageSize     = 1000
	threadPageSize  = 100
	messagePageSize = 100
	auditPageSize   = 100
)

// Provider reaches a live guild through a bot session. Reads are retried on
// rate limits and server errors; mutations are issued once.
type Provider struct {
	session *discordgo.Session
	retry   *apperrors.RetryHandler
	logger  *logging.Logger
}

var _ guild.AccessProvider = (*Provider)(nil)

// New opens a REST-only bot session for token
func New(token string, logger *logging.Logger) (*Provider, error) {
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.ShouldRetryOnRateLimit = true
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	return NewWithSession(s, apperrors.NewDefaultRetryHandler(), logger), nil
}

// NewWithSession wraps an existing session
func NewWithSession(s *discordgo.Session, retry *apperrors.RetryHandler, logger *logging.Logger) *Provider {
	if retry == nil {
		retry = apperrors.NewDefaultRetryHandler()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Provider{session: s, retry: retry, logger: logger}
}

// Close releases the underlying session
func (p *Provider) Close() error {
	return p.session.Close()
}

// read runs fn with retries and wraps the final error with op
func read[T any](ctx context.Context, p *Provider, op string, fn func(opt discordgo.RequestOption) (T, error)) (T, error) {
	var out T
	start := time.Now()
	err := p.retry.Retry(ctx, func() error {
		v, err := fn(discordgo.WithContext(ctx))
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	p.logger.LogStorageOperation("discord", op, "", time.Since(start), err)
	if err != nil {
		return out, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (p *Provider) Space(ctx context.Context, spaceID string) (*guild.SpaceInfo, error) {
	g, err := read(ctx, p, "get guild", func(opt discordgo.RequestOption) (*discordgo.Guild, error) {
		return p.session.GuildWithCounts(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}
	return spaceInfo(g), nil
}

func (p *Provider) EditSpace(ctx context.Context, spaceID string, edit guild.SettingsEdit) error {
	level := discordgo.VerificationLevel(edit.VerificationLevel)
	params := &discordgo.GuildParams{
		Name:                        edit.Name,
		VerificationLevel:           &level,
		DefaultMessageNotifications: edit.DefaultMessageNotifications,
		ExplicitContentFilter:       edit.ExplicitContentFilter,
		AfkChannelID:                edit.AFKChannelID,
		AfkTimeout:                  edit.AFKTimeout,
		SystemChannelID:             edit.SystemChannelID,
		RulesChannelID:              edit.RulesChannelID,
		PublicUpdatesChannelID:      edit.PublicUpdatesChannelID,
	}
	if _, err := p.session.GuildEdit(spaceID, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit guild: %w", err)
	}
	return nil
}

// Executor resolves the bot user and its highest role. The guild owner
// outranks every role.
func (p *Provider) Executor(ctx context.Context, spaceID string) (*guild.ExecutorInfo, error) {
	me, err := read(ctx, p, "get current user", func(opt discordgo.RequestOption) (*discordgo.User, error) {
		return p.session.User("@me", opt)
	})
	if err != nil {
		return nil, err
	}
	member, err := read(ctx, p, "get member", func(opt discordgo.RequestOption) (*discordgo.Member, error) {
		return p.session.GuildMember(spaceID, me.ID, opt)
	})
	if err != nil {
		return nil, err
	}
	g, err := read(ctx, p, "get guild", func(opt discordgo.RequestOption) (*discordgo.Guild, error) {
		return p.session.Guild(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}
	roles, err := read(ctx, p, "list roles", func(opt discordgo.RequestOption) ([]*discordgo.Role, error) {
		return p.session.GuildRoles(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}

	info := &guild.ExecutorInfo{UserID: me.ID, TopRolePosition: topRolePosition(member, roles)}
	if g.OwnerID == me.ID {
		for _, r := range roles {
			if r.Position >= info.TopRolePosition {
				info.TopRolePosition = r.Position + 1
			}
		}
	}
	return info, nil
}

func (p *Provider) Roles(ctx context.Context, spaceID string) ([]guild.RoleRecord, error) {
	roles, err := read(ctx, p, "list roles", func(opt discordgo.RequestOption) ([]*discordgo.Role, error) {
		return p.session.GuildRoles(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}
	out := make([]guild.RoleRecord, 0, len(roles))
	for _, r := range roles {
		out = append(out, roleRecord(r, spaceID))
	}
	return out, nil
}

func (p *Provider) CreateRole(ctx context.Context, spaceID string, spec guild.RoleSpec) (string, error) {
	params := &discordgo.RoleParams{
		Name:        spec.Name,
		Color:       &spec.Color,
		Hoist:       &spec.Hoist,
		Permissions: &spec.Permissions,
		Mentionable: &spec.Mentionable,
	}
	role, err := p.session.GuildRoleCreate(spaceID, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create role %q: %w", spec.Name, err)
	}
	return role.ID, nil
}

func (p *Provider) DeleteRole(ctx context.Context, spaceID, roleID string) error {
	if err := p.session.GuildRoleDelete(spaceID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete role %s: %w", roleID, err)
	}
	return nil
}

// Channels lists the guild's channels, leaving threads to the thread calls
func (p *Provider) Channels(ctx context.Context, spaceID string) ([]guild.ChannelRecord, error) {
	channels, err := read(ctx, p, "list channels", func(opt discordgo.RequestOption) ([]*discordgo.Channel, error) {
		return p.session.GuildChannels(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}
	out := make([]guild.ChannelRecord, 0, len(channels))
	for _, c := range channels {
		if c.IsThread() {
			continue
		}
		out = append(out, channelRecord(c))
	}
	return out, nil
}

func (p *Provider) CreateChannel(ctx context.Context, spaceID string, spec guild.ChannelSpec) (string, error) {
	data := discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelType(spec.Type),
		Topic:                spec.Topic,
		Bitrate:              spec.Bitrate,
		UserLimit:            spec.UserLimit,
		RateLimitPerUser:     spec.RateLimitPerUser,
		Position:             spec.Position,
		PermissionOverwrites: apiOverwrites(spec.Overwrites),
		ParentID:             spec.ParentID,
		NSFW:                 spec.NSFW,
	}
	ch, err := p.session.GuildChannelCreateComplex(spaceID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create channel %q: %w", spec.Name, err)
	}
	return ch.ID, nil
}

func (p *Provider) DeleteChannel(ctx context.Context, channelID string) error {
	if _, err := p.session.ChannelDelete(channelID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

func (p *Provider) ActiveThreads(ctx context.Context, spaceID string) ([]guild.ThreadRecord, error) {
	list, err := read(ctx, p, "list active threads", func(opt discordgo.RequestOption) (*discordgo.ThreadsList, error) {
		return p.session.GuildThreadsActive(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}
	out := make([]guild.ThreadRecord, 0, len(list.Threads))
	for _, th := range list.Threads {
		out = append(out, threadRecord(th))
	}
	return out, nil
}

// ArchivedThreads pages through the public archive of channelID
func (p *Provider) ArchivedThreads(ctx context.Context, channelID string) ([]guild.ThreadRecord, error) {
	var (
		out    []guild.ThreadRecord
		before *time.Time
	)
	for {
		list, err := read(ctx, p, "list archived threads", func(opt discordgo.RequestOption) (*discordgo.ThreadsList, error) {
			return p.session.ThreadsArchived(channelID, before, threadPageSize, opt)
		})
		if err != nil {
			return out, err
		}
		for _, th := range list.Threads {
			out = append(out, threadRecord(th))
		}
		next := archiveCursor(list.Threads)
		if !list.HasMore || next == nil {
			return out, nil
		}
		before = next
	}
}

func (p *Provider) CreateThread(ctx context.Context, channelID string, spec guild.ThreadSpec) (string, error) {
	data := &discordgo.ThreadStart{
		Name:                spec.Name,
		AutoArchiveDuration: spec.AutoArchiveDuration,
		Type:                discordgo.ChannelType(spec.Type),
		Invitable:           spec.Invitable,
		RateLimitPerUser:    spec.RateLimitPerUser,
	}
	th, err := p.session.ThreadStartComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create thread %q: %w", spec.Name, err)
	}
	return th.ID, nil
}

// Members pages through the member list in user ID order
func (p *Provider) Members(ctx context.Context, spaceID string) ([]guild.MemberRecord, error) {
	var (
		out   []guild.MemberRecord
		after string
	)
	for {
		page, err := read(ctx, p, "list members", func(opt discordgo.RequestOption) ([]*discordgo.Member, error) {
			return p.session.GuildMembers(spaceID, after, memberPageSize, opt)
		})
		if err != nil {
			return out, err
		}
		for _, m := range page {
			out = append(out, memberRecord(m))
		}
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (p *Provider) EditMember(ctx context.Context, spaceID, userID string, edit guild.MemberEdit) error {
	roles := append([]string{}, edit.Roles...)
	params := &discordgo.GuildMemberParams{Nick: edit.Nickname, Roles: &roles}
	if _, err := p.session.GuildMemberEdit(spaceID, userID, params, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit member %s: %w", userID, err)
	}
	return nil
}

func (p *Provider) Bans(ctx context.Context, spaceID string) ([]guild.BanRecord, error) {
	var (
		out   []guild.BanRecord
		after string
	)
	for {
		page, err := read(ctx, p, "list bans", func(opt discordgo.RequestOption) ([]*discordgo.GuildBan, error) {
			return p.session.GuildBans(spaceID, banPageSize, "", after, opt)
		})
		if err != nil {
			return out, err
		}
		for _, b := range page {
			out = append(out, banRecord(b))
		}
		if len(page) < banPageSize || page[len(page)-1].User == nil {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (p *Provider) Ban(ctx context.Context, spaceID, userID, reason string) error {
	if err := p.session.GuildBanCreateWithReason(spaceID, userID, reason, 0, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("ban %s: %w", userID, err)
	}
	return nil
}

func (p *Provider) Messages(ctx context.Context, channelID, before string, limit int) ([]guild.MessageRecord, error) {
	limit = clampPage(limit, messagePageSize)
	msgs, err := read(ctx, p, "list messages", func(opt discordgo.RequestOption) ([]*discordgo.Message, error) {
		return p.session.ChannelMessages(channelID, limit, before, "", "", opt)
	})
	if err != nil {
		return nil, err
	}
	out := make([]guild.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageRecord(m))
	}
	return out, nil
}

func (p *Provider) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	m, err := p.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return m.ID, nil
}

func (p *Provider) PinMessage(ctx context.Context, channelID, messageID string) error {
	if err := p.session.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("pin message %s: %w", messageID, err)
	}
	return nil
}

func (p *Provider) Invites(ctx context.Context, spaceID string) ([]guild.InviteRecord, error) {
	invites, err := read(ctx, p, "list invites", func(opt discordgo.RequestOption) ([]*discordgo.Invite, error) {
		return p.session.GuildInvites(spaceID, opt)
	})
	return convertAll(invites, inviteRecord), err
}

func (p *Provider) Webhooks(ctx context.Context, spaceID string) ([]guild.WebhookRecord, error) {
	hooks, err := read(ctx, p, "list webhooks", func(opt discordgo.RequestOption) ([]*discordgo.Webhook, error) {
		return p.session.GuildWebhooks(spaceID, opt)
	})
	return convertAll(hooks, webhookRecord), err
}

func (p *Provider) Emojis(ctx context.Context, spaceID string) ([]guild.EmojiRecord, error) {
	emojis, err := read(ctx, p, "list emojis", func(opt discordgo.RequestOption) ([]*discordgo.Emoji, error) {
		return p.session.GuildEmojis(spaceID, opt)
	})
	return convertAll(emojis, emojiRecord), err
}

// Stickers come with the guild object
func (p *Provider) Stickers(ctx context.Context, spaceID string) ([]guild.StickerRecord, error) {
	g, err := read(ctx, p, "get guild", func(opt discordgo.RequestOption) (*discordgo.Guild, error) {
		return p.session.Guild(spaceID, opt)
	})
	if err != nil {
		return nil, err
	}
	return convertAll(g.Stickers, stickerRecord), nil
}

func (p *Provider) ScheduledEvents(ctx context.Context, spaceID string) ([]guild.ScheduledEventRecord, error) {
	events, err := read(ctx, p, "list scheduled events", func(opt discordgo.RequestOption) ([]*discordgo.GuildScheduledEvent, error) {
		return p.session.GuildScheduledEvents(spaceID, false, opt)
	})
	return convertAll(events, scheduledEventRecord), err
}

func (p *Provider) Integrations(ctx context.Context, spaceID string) ([]guild.IntegrationRecord, error) {
	integrations, err := read(ctx, p, "list integrations", func(opt discordgo.RequestOption) ([]*discordgo.Integration, error) {
		return p.session.GuildIntegrations(spaceID, opt)
	})
	return convertAll(integrations, integrationRecord), err
}

func (p *Provider) ModerationRules(ctx context.Context, spaceID string) ([]guild.ModerationRuleRecord, error) {
	rules, err := read(ctx, p, "list moderation rules", func(opt discordgo.RequestOption) ([]*discordgo.AutoModerationRule, error) {
		return p.session.AutoModerationRules(spaceID, opt)
	})
	return convertAll(rules, moderationRuleRecord), err
}

func (p *Provider) AuditLog(ctx context.Context, spaceID, before string, limit int) ([]guild.AuditLogEntryRecord, error) {
	limit = clampPage(limit, auditPageSize)
	audit, err := read(ctx, p, "get audit log", func(opt discordgo.RequestOption) (*discordgo.GuildAuditLog, error) {
		return p.session.GuildAuditLog(spaceID, "", before, 0, limit, opt)
	})
	if err != nil {
		return nil, err
	}
	return convertAll(audit.AuditLogEntries, auditLogEntryRecord), nil
}

func convertAll[S any, D any](in []*S, fn func(*S) D) []D {
	if len(in) == 0 {
		return nil
	}
	out := make([]D, 0, len(in))
	for _, v := range in {
		if v == nil {
			continue
		}
		out = append(out, fn(v))
	}
	return out
}

func clampPage(limit, ceiling int) int {
	if limit <= 0 || limit > ceiling {
		return ceiling
	}
	return limit
}
