package discord

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/discordgo"

	"guild-backup/internal/guild"
)

func spaceInfo(g *discordgo.Guild) *guild.SpaceInfo {
	members := g.MemberCount
	if members == 0 {
		members = g.ApproximateMemberCount
	}
	return &guild.SpaceInfo{
		ID:                          g.ID,
		Name:                        g.Name,
		Icon:                        g.Icon,
		Description:                 g.Description,
		OwnerID:                     g.OwnerID,
		VerificationLevel:           int(g.VerificationLevel),
		DefaultMessageNotifications: int(g.DefaultMessageNotifications),
		ExplicitContentFilter:       int(g.ExplicitContentFilter),
		AFKChannelID:                g.AfkChannelID,
		AFKTimeout:                  g.AfkTimeout,
		SystemChannelID:             g.SystemChannelID,
		RulesChannelID:              g.RulesChannelID,
		PublicUpdatesChannelID:      g.PublicUpdatesChannelID,
		PreferredLocale:             g.PreferredLocale,
		MemberCount:                 members,
		RoleCount:                   len(g.Roles),
		ChannelCount:                len(g.Channels),
	}
}

// roleRecord converts a role. The everyone role shares the guild's ID.
func roleRecord(r *discordgo.Role, guildID string) guild.RoleRecord {
	return guild.RoleRecord{
		ID:          r.ID,
		Name:        r.Name,
		Color:       r.Color,
		Hoist:       r.Hoist,
		Position:    r.Position,
		Permissions: r.Permissions,
		Mentionable: r.Mentionable,
		Managed:     r.Managed,
		Everyone:    r.ID == guildID,
	}
}

func overwriteRecords(in []*discordgo.PermissionOverwrite) []guild.OverwriteRecord {
	out := make([]guild.OverwriteRecord, 0, len(in))
	for _, ow := range in {
		typ := guild.OverwriteRole
		if ow.Type == discordgo.PermissionOverwriteTypeMember {
			typ = guild.OverwriteMember
		}
		out = append(out, guild.OverwriteRecord{ID: ow.ID, Type: typ, Allow: ow.Allow, Deny: ow.Deny})
	}
	return out
}

func apiOverwrites(in []guild.OverwriteRecord) []*discordgo.PermissionOverwrite {
	out := make([]*discordgo.PermissionOverwrite, 0, len(in))
	for _, ow := range in {
		typ := discordgo.PermissionOverwriteTypeRole
		if ow.Type == guild.OverwriteMember {
			typ = discordgo.PermissionOverwriteTypeMember
		}
		out = append(out, &discordgo.PermissionOverwrite{ID: ow.ID, Type: typ, Allow: ow.Allow, Deny: ow.Deny})
	}
	return out
}

func channelRecord(c *discordgo.Channel) guild.ChannelRecord {
	return guild.ChannelRecord{
		ID:                   c.ID,
		Name:                 c.Name,
		Type:                 guild.ChannelType(c.Type),
		ParentID:             c.ParentID,
		Position:             c.Position,
		Topic:                c.Topic,
		NSFW:                 c.NSFW,
		Bitrate:              c.Bitrate,
		UserLimit:            c.UserLimit,
		RateLimitPerUser:     c.RateLimitPerUser,
		PermissionOverwrites: overwriteRecords(c.PermissionOverwrites),
	}
}

func threadRecord(c *discordgo.Channel) guild.ThreadRecord {
	th := guild.ThreadRecord{
		ID:               c.ID,
		Name:             c.Name,
		ParentID:         c.ParentID,
		Type:             guild.ChannelType(c.Type),
		RateLimitPerUser: c.RateLimitPerUser,
	}
	if md := c.ThreadMetadata; md != nil {
		th.Archived = md.Archived
		th.Locked = md.Locked
		th.AutoArchiveDuration = md.AutoArchiveDuration
		th.Invitable = md.Invitable
	}
	return th
}

func memberRecord(m *discordgo.Member) guild.MemberRecord {
	rec := guild.MemberRecord{
		Nickname:                   m.Nick,
		Roles:                      append([]string{}, m.Roles...),
		JoinedAt:                   m.JoinedAt,
		CommunicationDisabledUntil: m.CommunicationDisabledUntil,
	}
	if m.User != nil {
		rec.UserID = m.User.ID
		rec.Username = m.User.Username
		rec.Bot = m.User.Bot
	}
	return rec
}

func banRecord(b *discordgo.GuildBan) guild.BanRecord {
	rec := guild.BanRecord{Reason: b.Reason}
	if b.User != nil {
		rec.UserID = b.User.ID
		rec.Username = b.User.Username
	}
	return rec
}

func inviteRecord(inv *discordgo.Invite) guild.InviteRecord {
	rec := guild.InviteRecord{
		Code:      inv.Code,
		MaxAge:    inv.MaxAge,
		MaxUses:   inv.MaxUses,
		Uses:      inv.Uses,
		Temporary: inv.Temporary,
		CreatedAt: inv.CreatedAt,
	}
	if inv.Channel != nil {
		rec.ChannelID = inv.Channel.ID
	}
	if inv.Inviter != nil {
		rec.InviterID = inv.Inviter.ID
	}
	return rec
}

func webhookRecord(w *discordgo.Webhook) guild.WebhookRecord {
	return guild.WebhookRecord{ID: w.ID, Name: w.Name, ChannelID: w.ChannelID, Avatar: w.Avatar}
}

func emojiRecord(e *discordgo.Emoji) guild.EmojiRecord {
	return guild.EmojiRecord{ID: e.ID, Name: e.Name, Animated: e.Animated, Roles: e.Roles}
}

func stickerRecord(s *discordgo.Sticker) guild.StickerRecord {
	return guild.StickerRecord{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Tags:        s.Tags,
		FormatType:  int(s.FormatType),
	}
}

func scheduledEventRecord(e *discordgo.GuildScheduledEvent) guild.ScheduledEventRecord {
	return guild.ScheduledEventRecord{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		ChannelID:   e.ChannelID,
		StartTime:   e.ScheduledStartTime,
		EndTime:     e.ScheduledEndTime,
		EntityType:  int(e.EntityType),
		Status:      int(e.Status),
		Location:    e.EntityMetadata.Location,
	}
}

func integrationRecord(i *discordgo.Integration) guild.IntegrationRecord {
	return guild.IntegrationRecord{
		ID:          i.ID,
		Name:        i.Name,
		Type:        i.Type,
		Enabled:     i.Enabled,
		AccountName: i.Account.Name,
	}
}

func moderationRuleRecord(r *discordgo.AutoModerationRule) guild.ModerationRuleRecord {
	rec := guild.ModerationRuleRecord{
		ID:          r.ID,
		Name:        r.Name,
		EventType:   int(r.EventType),
		TriggerType: int(r.TriggerType),
	}
	if r.Enabled != nil {
		rec.Enabled = *r.Enabled
	}
	if r.ExemptRoles != nil {
		rec.ExemptRoles = *r.ExemptRoles
	}
	if r.ExemptChannels != nil {
		rec.ExemptChannels = *r.ExemptChannels
	}
	return rec
}

func auditLogEntryRecord(e *discordgo.AuditLogEntry) guild.AuditLogEntryRecord {
	rec := guild.AuditLogEntryRecord{
		ID:       e.ID,
		UserID:   e.UserID,
		TargetID: e.TargetID,
		Reason:   e.Reason,
	}
	if e.ActionType != nil {
		rec.ActionType = int(*e.ActionType)
	}
	return rec
}

func messageRecord(m *discordgo.Message) guild.MessageRecord {
	rec := guild.MessageRecord{
		ID:        m.ID,
		Content:   m.Content,
		CreatedAt: m.Timestamp.UTC(),
		Pinned:    m.Pinned,
	}
	if m.Author != nil {
		rec.AuthorID = m.Author.ID
		rec.AuthorName = m.Author.Username
		rec.AuthorBot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		rec.Attachments = append(rec.Attachments, guild.AttachmentRecord{Filename: a.Filename, URL: a.URL, Size: a.Size})
	}
	for _, e := range m.Embeds {
		rec.Embeds = append(rec.Embeds, guild.EmbedRecord{Title: e.Title, Description: e.Description, URL: e.URL, Color: e.Color})
	}
	for _, r := range m.Reactions {
		if r.Emoji == nil {
			continue
		}
		name := r.Emoji.Name
		if r.Emoji.ID != "" {
			name += ":" + r.Emoji.ID
		}
		rec.Reactions = append(rec.Reactions, guild.ReactionRecord{Emoji: name, Count: r.Count})
	}
	for _, u := range m.Mentions {
		rec.Mentions = append(rec.Mentions, u.ID)
	}
	for _, c := range m.Components {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		rec.Components = append(rec.Components, guild.ComponentRecord{Type: int(c.Type()), Data: string(data)})
	}
	if m.MessageReference != nil {
		rec.ReplyTo = m.MessageReference.MessageID
	}
	return rec
}

// archiveCursor returns the before cursor for the next archived-thread page
func archiveCursor(threads []*discordgo.Channel) *time.Time {
	if len(threads) == 0 {
		return nil
	}
	last := threads[len(threads)-1]
	if last.ThreadMetadata == nil {
		return nil
	}
	ts := last.ThreadMetadata.ArchiveTimestamp
	return &ts
}

// topRolePosition returns the highest position among the member's roles
func topRolePosition(member *discordgo.Member, roles []*discordgo.Role) int {
	held := make(map[string]bool, len(member.Roles))
	for _, id := range member.Roles {
		held[id] = true
	}
	top := 0
	for _, r := range roles {
		if held[r.ID] && r.Position > top {
			top = r.Position
		}
	}
	return top
}
