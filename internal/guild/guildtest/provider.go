// Package guildtest provides an in-memory guild.AccessProvider for tests.
package guildtest

import (
	"context"
	"fmt"
	"sync"

	"guild-backup/internal/guild"
)

// Space is the mutable state of one fake space
type Space struct {
	Info            guild.SpaceInfo
	Roles           []guild.RoleRecord
	Channels        []guild.ChannelRecord
	Threads         []guild.ThreadRecord
	Members         []guild.MemberRecord
	Bans            []guild.BanRecord
	Invites         []guild.InviteRecord
	Webhooks        []guild.WebhookRecord
	Emojis          []guild.EmojiRecord
	Stickers        []guild.StickerRecord
	ScheduledEvents []guild.ScheduledEventRecord
	Integrations    []guild.IntegrationRecord
	ModerationRules []guild.ModerationRuleRecord
	AuditLog        []guild.AuditLogEntryRecord
	// Messages holds every container's history, oldest first
	Messages map[string][]guild.MessageRecord
	Pinned   map[string]bool
	// TopRolePosition is the executor's highest role position
	TopRolePosition int
}

// NewSpace returns an empty space with an everyone role whose ID equals the space ID
func NewSpace(id, name string) *Space {
	return &Space{
		Info:            guild.SpaceInfo{ID: id, Name: name},
		Roles:           []guild.RoleRecord{{ID: id, Name: "@everyone", Everyone: true}},
		Messages:        make(map[string][]guild.MessageRecord),
		Pinned:          make(map[string]bool),
		TopRolePosition: 1 << 20,
	}
}

// Call is one recorded provider invocation
type Call struct {
	Op       string
	Target   string
	Mutation bool
}

// Provider is a goroutine-safe fake of guild.AccessProvider
type Provider struct {
	mu     sync.Mutex
	spaces map[string]*Space
	owner  map[string]string // channel or thread ID -> space ID
	seq    int
	calls  []Call

	// Failures makes the named operation fail. Keys are "Op" or "Op:id".
	Failures map[string]error
	// OnMutation runs inside every mutating call, after it has been applied
	// and without the provider lock held.
	OnMutation func(op string, count int)
}

// NewProvider builds a provider serving the given spaces
func NewProvider(spaces ...*Space) *Provider {
	p := &Provider{
		spaces:   make(map[string]*Space),
		owner:    make(map[string]string),
		Failures: make(map[string]error),
	}
	for _, s := range spaces {
		p.AddSpace(s)
	}
	return p
}

// AddSpace registers a space and indexes its containers
func (p *Provider) AddSpace(s *Space) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Messages == nil {
		s.Messages = make(map[string][]guild.MessageRecord)
	}
	if s.Pinned == nil {
		s.Pinned = make(map[string]bool)
	}
	p.spaces[s.Info.ID] = s
	for _, c := range s.Channels {
		p.owner[c.ID] = s.Info.ID
	}
	for _, th := range s.Threads {
		p.owner[th.ID] = s.Info.ID
	}
}

// Snapshot returns the live state of a space. Callers must not mutate it
// while the provider is in use.
func (p *Provider) Snapshot(spaceID string) *Space {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spaces[spaceID]
}

// Calls returns a copy of every recorded call
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// MutationCount returns the number of mutating calls issued so far
func (p *Provider) MutationCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutationCountLocked()
}

func (p *Provider) mutationCountLocked() int {
	n := 0
	for _, c := range p.calls {
		if c.Mutation {
			n++
		}
	}
	return n
}

// CallCount returns how many times op was invoked
func (p *Provider) CallCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (p *Provider) record(op, target string, mutation bool) error {
	p.calls = append(p.calls, Call{Op: op, Target: target, Mutation: mutation})
	if err, ok := p.Failures[op+":"+target]; ok {
		return err
	}
	if err, ok := p.Failures[op]; ok {
		return err
	}
	return nil
}

func (p *Provider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%d", prefix, p.seq)
}

func (p *Provider) space(id string) (*Space, error) {
	s, ok := p.spaces[id]
	if !ok {
		return nil, fmt.Errorf("unknown space %s", id)
	}
	return s, nil
}

func (p *Provider) containerSpace(containerID string) (*Space, error) {
	spaceID, ok := p.owner[containerID]
	if !ok {
		return nil, fmt.Errorf("unknown container %s", containerID)
	}
	return p.space(spaceID)
}

// mutated fires the hook outside the lock
func (p *Provider) mutated(op string) {
	p.mu.Lock()
	hook := p.OnMutation
	count := p.mutationCountLocked()
	p.mu.Unlock()
	if hook != nil {
		hook(op, count)
	}
}

func (p *Provider) Space(ctx context.Context, spaceID string) (*guild.SpaceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Space", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	info := s.Info
	info.RoleCount = len(s.Roles)
	info.ChannelCount = len(s.Channels)
	info.MemberCount = len(s.Members)
	return &info, nil
}

func (p *Provider) EditSpace(ctx context.Context, spaceID string, edit guild.SettingsEdit) error {
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("EditSpace", spaceID, true); err != nil {
			return err
		}
		s, err := p.space(spaceID)
		if err != nil {
			return err
		}
		if edit.Name != "" {
			s.Info.Name = edit.Name
		}
		s.Info.VerificationLevel = edit.VerificationLevel
		s.Info.DefaultMessageNotifications = edit.DefaultMessageNotifications
		s.Info.ExplicitContentFilter = edit.ExplicitContentFilter
		s.Info.AFKTimeout = edit.AFKTimeout
		if edit.AFKChannelID != "" {
			s.Info.AFKChannelID = edit.AFKChannelID
		}
		if edit.SystemChannelID != "" {
			s.Info.SystemChannelID = edit.SystemChannelID
		}
		if edit.RulesChannelID != "" {
			s.Info.RulesChannelID = edit.RulesChannelID
		}
		if edit.PublicUpdatesChannelID != "" {
			s.Info.PublicUpdatesChannelID = edit.PublicUpdatesChannelID
		}
		return nil
	}()
	p.mutated("EditSpace")
	return err
}

func (p *Provider) Executor(ctx context.Context, spaceID string) (*guild.ExecutorInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Executor", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	return &guild.ExecutorInfo{UserID: "executor", TopRolePosition: s.TopRolePosition}, nil
}

func (p *Provider) Roles(ctx context.Context, spaceID string) ([]guild.RoleRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Roles", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	return append([]guild.RoleRecord(nil), s.Roles...), nil
}

func (p *Provider) CreateRole(ctx context.Context, spaceID string, spec guild.RoleSpec) (string, error) {
	id, err := func() (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("CreateRole", spaceID, true); err != nil {
			return "", err
		}
		s, err := p.space(spaceID)
		if err != nil {
			return "", err
		}
		id := p.nextID("role")
		s.Roles = append(s.Roles, guild.RoleRecord{
			ID: id, Name: spec.Name, Color: spec.Color, Hoist: spec.Hoist,
			Permissions: spec.Permissions, Mentionable: spec.Mentionable, Position: len(s.Roles),
		})
		return id, nil
	}()
	p.mutated("CreateRole")
	return id, err
}

func (p *Provider) DeleteRole(ctx context.Context, spaceID, roleID string) error {
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("DeleteRole", roleID, true); err != nil {
			return err
		}
		s, err := p.space(spaceID)
		if err != nil {
			return err
		}
		for i, r := range s.Roles {
			if r.ID == roleID {
				s.Roles = append(s.Roles[:i], s.Roles[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("unknown role %s", roleID)
	}()
	p.mutated("DeleteRole")
	return err
}

func (p *Provider) Channels(ctx context.Context, spaceID string) ([]guild.ChannelRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Channels", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	return append([]guild.ChannelRecord(nil), s.Channels...), nil
}

func (p *Provider) CreateChannel(ctx context.Context, spaceID string, spec guild.ChannelSpec) (string, error) {
	id, err := func() (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("CreateChannel", spaceID, true); err != nil {
			return "", err
		}
		s, err := p.space(spaceID)
		if err != nil {
			return "", err
		}
		id := p.nextID("channel")
		s.Channels = append(s.Channels, guild.ChannelRecord{
			ID: id, Name: spec.Name, Type: spec.Type, ParentID: spec.ParentID, Position: spec.Position,
			Topic: spec.Topic, NSFW: spec.NSFW, Bitrate: spec.Bitrate, UserLimit: spec.UserLimit,
			RateLimitPerUser:     spec.RateLimitPerUser,
			PermissionOverwrites: append([]guild.OverwriteRecord(nil), spec.Overwrites...),
		})
		p.owner[id] = spaceID
		return id, nil
	}()
	p.mutated("CreateChannel")
	return id, err
}

func (p *Provider) DeleteChannel(ctx context.Context, channelID string) error {
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("DeleteChannel", channelID, true); err != nil {
			return err
		}
		s, err := p.containerSpace(channelID)
		if err != nil {
			return err
		}
		for i, c := range s.Channels {
			if c.ID == channelID {
				s.Channels = append(s.Channels[:i], s.Channels[i+1:]...)
				delete(p.owner, channelID)
				delete(s.Messages, channelID)
				return nil
			}
		}
		return fmt.Errorf("unknown channel %s", channelID)
	}()
	p.mutated("DeleteChannel")
	return err
}

func (p *Provider) ActiveThreads(ctx context.Context, spaceID string) ([]guild.ThreadRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ActiveThreads", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	var out []guild.ThreadRecord
	for _, th := range s.Threads {
		if !th.Archived {
			out = append(out, th)
		}
	}
	return out, nil
}

func (p *Provider) ArchivedThreads(ctx context.Context, channelID string) ([]guild.ThreadRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("ArchivedThreads", channelID, false); err != nil {
		return nil, err
	}
	s, err := p.containerSpace(channelID)
	if err != nil {
		return nil, err
	}
	var out []guild.ThreadRecord
	for _, th := range s.Threads {
		if th.Archived && th.ParentID == channelID {
			out = append(out, th)
		}
	}
	return out, nil
}

func (p *Provider) CreateThread(ctx context.Context, channelID string, spec guild.ThreadSpec) (string, error) {
	id, err := func() (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("CreateThread", channelID, true); err != nil {
			return "", err
		}
		s, err := p.containerSpace(channelID)
		if err != nil {
			return "", err
		}
		id := p.nextID("thread")
		s.Threads = append(s.Threads, guild.ThreadRecord{
			ID: id, Name: spec.Name, ParentID: channelID, Type: spec.Type,
			AutoArchiveDuration: spec.AutoArchiveDuration, RateLimitPerUser: spec.RateLimitPerUser,
			Invitable: spec.Invitable,
		})
		p.owner[id] = s.Info.ID
		return id, nil
	}()
	p.mutated("CreateThread")
	return id, err
}

func (p *Provider) Members(ctx context.Context, spaceID string) ([]guild.MemberRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Members", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	return append([]guild.MemberRecord(nil), s.Members...), nil
}

func (p *Provider) EditMember(ctx context.Context, spaceID, userID string, edit guild.MemberEdit) error {
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("EditMember", userID, true); err != nil {
			return err
		}
		s, err := p.space(spaceID)
		if err != nil {
			return err
		}
		for i := range s.Members {
			if s.Members[i].UserID == userID {
				s.Members[i].Roles = append([]string(nil), edit.Roles...)
				s.Members[i].Nickname = edit.Nickname
				return nil
			}
		}
		return fmt.Errorf("unknown member %s", userID)
	}()
	p.mutated("EditMember")
	return err
}

func (p *Provider) Bans(ctx context.Context, spaceID string) ([]guild.BanRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Bans", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	return append([]guild.BanRecord(nil), s.Bans...), nil
}

func (p *Provider) Ban(ctx context.Context, spaceID, userID, reason string) error {
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("Ban", userID, true); err != nil {
			return err
		}
		s, err := p.space(spaceID)
		if err != nil {
			return err
		}
		s.Bans = append(s.Bans, guild.BanRecord{UserID: userID, Reason: reason})
		return nil
	}()
	p.mutated("Ban")
	return err
}

func (p *Provider) Messages(ctx context.Context, channelID, before string, limit int) ([]guild.MessageRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("Messages", channelID, false); err != nil {
		return nil, err
	}
	s, err := p.containerSpace(channelID)
	if err != nil {
		return nil, err
	}

	history := s.Messages[channelID]
	end := len(history)
	if before != "" {
		for i, m := range history {
			if m.ID == before {
				end = i
				break
			}
		}
	}

	var page []guild.MessageRecord
	for i := end - 1; i >= 0 && len(page) < limit; i-- {
		m := history[i]
		m.Pinned = s.Pinned[m.ID] || m.Pinned
		page = append(page, m)
	}
	return page, nil
}

func (p *Provider) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	id, err := func() (string, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("SendMessage", channelID, true); err != nil {
			return "", err
		}
		s, err := p.containerSpace(channelID)
		if err != nil {
			return "", err
		}
		id := p.nextID("message")
		s.Messages[channelID] = append(s.Messages[channelID], guild.MessageRecord{
			ID: id, AuthorID: "executor", AuthorName: "executor", AuthorBot: true, Content: content,
		})
		return id, nil
	}()
	p.mutated("SendMessage")
	return id, err
}

func (p *Provider) PinMessage(ctx context.Context, channelID, messageID string) error {
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.record("PinMessage", messageID, true); err != nil {
			return err
		}
		s, err := p.containerSpace(channelID)
		if err != nil {
			return err
		}
		s.Pinned[messageID] = true
		return nil
	}()
	p.mutated("PinMessage")
	return err
}

func (p *Provider) Invites(ctx context.Context, spaceID string) ([]guild.InviteRecord, error) {
	return collection(p, "Invites", spaceID, func(s *Space) []guild.InviteRecord { return s.Invites })
}

func (p *Provider) Webhooks(ctx context.Context, spaceID string) ([]guild.WebhookRecord, error) {
	return collection(p, "Webhooks", spaceID, func(s *Space) []guild.WebhookRecord { return s.Webhooks })
}

func (p *Provider) Emojis(ctx context.Context, spaceID string) ([]guild.EmojiRecord, error) {
	return collection(p, "Emojis", spaceID, func(s *Space) []guild.EmojiRecord { return s.Emojis })
}

func (p *Provider) Stickers(ctx context.Context, spaceID string) ([]guild.StickerRecord, error) {
	return collection(p, "Stickers", spaceID, func(s *Space) []guild.StickerRecord { return s.Stickers })
}

func (p *Provider) ScheduledEvents(ctx context.Context, spaceID string) ([]guild.ScheduledEventRecord, error) {
	return collection(p, "ScheduledEvents", spaceID, func(s *Space) []guild.ScheduledEventRecord { return s.ScheduledEvents })
}

func (p *Provider) Integrations(ctx context.Context, spaceID string) ([]guild.IntegrationRecord, error) {
	return collection(p, "Integrations", spaceID, func(s *Space) []guild.IntegrationRecord { return s.Integrations })
}

func (p *Provider) ModerationRules(ctx context.Context, spaceID string) ([]guild.ModerationRuleRecord, error) {
	return collection(p, "ModerationRules", spaceID, func(s *Space) []guild.ModerationRuleRecord { return s.ModerationRules })
}

func (p *Provider) AuditLog(ctx context.Context, spaceID, before string, limit int) ([]guild.AuditLogEntryRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("AuditLog", spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}

	// AuditLog is stored newest first
	start := 0
	if before != "" {
		for i, e := range s.AuditLog {
			if e.ID == before {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(s.AuditLog) {
		end = len(s.AuditLog)
	}
	if start >= end {
		return nil, nil
	}
	return append([]guild.AuditLogEntryRecord(nil), s.AuditLog[start:end]...), nil
}

func collection[T any](p *Provider, op, spaceID string, get func(*Space) []T) ([]T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record(op, spaceID, false); err != nil {
		return nil, err
	}
	s, err := p.space(spaceID)
	if err != nil {
		return nil, err
	}
	return append([]T(nil), get(s)...), nil
}

var _ guild.AccessProvider = (*Provider)(nil)
