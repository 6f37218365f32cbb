package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-backup/internal/guild"
)

func TestRoleRecord_Everyone(t *testing.T) {
	tests := []struct {
		name     string
		role     *discordgo.Role
		everyone bool
	}{
		{"everyone shares the guild id", &discordgo.Role{ID: "g-1", Name: "@everyone"}, true},
		{"regular role", &discordgo.Role{ID: "r-1", Name: "Mods", Position: 3, Permissions: 8, Managed: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roleRecord(tt.role, "g-1")
			if got.Everyone != tt.everyone {
				t.Errorf("Everyone = %v, want %v", got.Everyone, tt.everyone)
			}
			assert.Equal(t, tt.role.Position, got.Position)
			assert.Equal(t, tt.role.Permissions, got.Permissions)
			assert.Equal(t, tt.role.Managed, got.Managed)
		})
	}
}

func TestOverwrites_RoundTrip(t *testing.T) {
	api := []*discordgo.PermissionOverwrite{
		{ID: "r-1", Type: discordgo.PermissionOverwriteTypeRole, Allow: 1024, Deny: 2048},
		{ID: "u-1", Type: discordgo.PermissionOverwriteTypeMember, Allow: 8},
	}

	records := overwriteRecords(api)
	require.Len(t, records, 2)
	assert.Equal(t, guild.OverwriteRole, records[0].Type)
	assert.Equal(t, guild.OverwriteMember, records[1].Type)
	assert.Equal(t, int64(2048), records[0].Deny)

	assert.Equal(t, api, apiOverwrites(records))
}

func TestChannelAndThreadRecords(t *testing.T) {
	ch := channelRecord(&discordgo.Channel{
		ID: "c-1", Name: "general", Type: discordgo.ChannelTypeGuildText, ParentID: "c-cat",
		Position: 2, Topic: "hello", RateLimitPerUser: 5,
	})
	assert.Equal(t, guild.ChannelTypeText, ch.Type)
	assert.Equal(t, "c-cat", ch.ParentID)
	assert.Empty(t, ch.PermissionOverwrites)

	th := threadRecord(&discordgo.Channel{
		ID: "t-1", Name: "thread", Type: discordgo.ChannelTypeGuildPublicThread, ParentID: "c-1",
		ThreadMetadata: &discordgo.ThreadMetadata{Archived: true, Locked: true, AutoArchiveDuration: 1440},
	})
	assert.Equal(t, guild.ChannelTypePublicThread, th.Type)
	assert.True(t, th.Archived)
	assert.True(t, th.Locked)
	assert.Equal(t, 1440, th.AutoArchiveDuration)

	bare := threadRecord(&discordgo.Channel{ID: "t-2", Type: discordgo.ChannelTypeGuildPrivateThread})
	assert.False(t, bare.Archived)
}

func TestMemberAndBanRecords(t *testing.T) {
	joined := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	m := memberRecord(&discordgo.Member{
		User:     &discordgo.User{ID: "u-1", Username: "alice", Bot: true},
		Nick:     "Al",
		Roles:    []string{"r-1", "r-2"},
		JoinedAt: joined,
	})
	assert.Equal(t, "u-1", m.UserID)
	assert.Equal(t, "Al", m.Nickname)
	assert.True(t, m.Bot)
	assert.Equal(t, joined, m.JoinedAt)

	orphan := memberRecord(&discordgo.Member{})
	assert.Empty(t, orphan.UserID)
	assert.NotNil(t, orphan.Roles)

	b := banRecord(&discordgo.GuildBan{Reason: "spam", User: &discordgo.User{ID: "u-9", Username: "mallory"}})
	assert.Equal(t, guild.BanRecord{UserID: "u-9", Username: "mallory", Reason: "spam"}, b)
}

func TestMessageRecord(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	m := messageRecord(&discordgo.Message{
		ID:        "m-1",
		Content:   "hi",
		Timestamp: ts,
		Pinned:    true,
		Author:    &discordgo.User{ID: "u-1", Username: "alice"},
		Attachments: []*discordgo.MessageAttachment{
			{Filename: "a.png", URL: "https://cdn/a.png", Size: 10},
		},
		Embeds:           []*discordgo.MessageEmbed{{Title: "t", Color: 5}},
		Reactions:        []*discordgo.MessageReactions{{Count: 2, Emoji: &discordgo.Emoji{Name: "party", ID: "e-1"}}, {Count: 1}},
		Mentions:         []*discordgo.User{{ID: "u-2"}},
		MessageReference: &discordgo.MessageReference{MessageID: "m-0"},
	})

	assert.Equal(t, ts.UTC(), m.CreatedAt)
	assert.Equal(t, "alice", m.AuthorName)
	assert.True(t, m.Pinned)
	assert.Equal(t, []guild.AttachmentRecord{{Filename: "a.png", URL: "https://cdn/a.png", Size: 10}}, m.Attachments)
	assert.Equal(t, []guild.ReactionRecord{{Emoji: "party:e-1", Count: 2}}, m.Reactions)
	assert.Equal(t, []string{"u-2"}, m.Mentions)
	assert.Equal(t, "m-0", m.ReplyTo)
}

func TestModerationRuleRecord_OptionalFields(t *testing.T) {
	enabled := true
	roles := []string{"r-1"}

	full := moderationRuleRecord(&discordgo.AutoModerationRule{ID: "a-1", Enabled: &enabled, ExemptRoles: &roles})
	assert.True(t, full.Enabled)
	assert.Equal(t, roles, full.ExemptRoles)
	assert.Nil(t, full.ExemptChannels)

	empty := moderationRuleRecord(&discordgo.AutoModerationRule{ID: "a-2"})
	assert.False(t, empty.Enabled)
}

func TestAuditLogEntryRecord(t *testing.T) {
	action := discordgo.AuditLogActionMemberBanAdd
	got := auditLogEntryRecord(&discordgo.AuditLogEntry{ID: "e-1", UserID: "u-1", TargetID: "u-2", ActionType: &action, Reason: "spam"})
	assert.Equal(t, int(action), got.ActionType)

	assert.Equal(t, 0, auditLogEntryRecord(&discordgo.AuditLogEntry{ID: "e-2"}).ActionType)
}

func TestTopRolePosition(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "g", Position: 0},
		{ID: "low", Position: 1},
		{ID: "high", Position: 5},
		{ID: "top", Position: 9},
	}

	tests := []struct {
		name string
		held []string
		want int
	}{
		{"no roles", nil, 0},
		{"single role", []string{"low"}, 1},
		{"highest wins", []string{"low", "high"}, 5},
		{"unknown ids ignored", []string{"missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := topRolePosition(&discordgo.Member{Roles: tt.held}, roles); got != tt.want {
				t.Errorf("topRolePosition() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestArchiveCursor(t *testing.T) {
	assert.Nil(t, archiveCursor(nil))
	assert.Nil(t, archiveCursor([]*discordgo.Channel{{ID: "t-1"}}))

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cursor := archiveCursor([]*discordgo.Channel{
		{ID: "t-1", ThreadMetadata: &discordgo.ThreadMetadata{ArchiveTimestamp: at.Add(time.Hour)}},
		{ID: "t-2", ThreadMetadata: &discordgo.ThreadMetadata{ArchiveTimestamp: at}},
	})
	require.NotNil(t, cursor)
	assert.Equal(t, at, *cursor)
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, 100},
		{-1, 100},
		{50, 50},
		{100, 100},
		{500, 100},
	}
	for _, tt := range tests {
		if got := clampPage(tt.limit, 100); got != tt.want {
			t.Errorf("clampPage(%d) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestConvertAll_SkipsNil(t *testing.T) {
	got := convertAll([]*discordgo.Webhook{{ID: "w-1", Name: "hook", ChannelID: "c-1"}, nil}, webhookRecord)
	assert.Equal(t, []guild.WebhookRecord{{ID: "w-1", Name: "hook", ChannelID: "c-1"}}, got)
	assert.Nil(t, convertAll[discordgo.Webhook, guild.WebhookRecord](nil, webhookRecord))
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)

	p, err := New("token", nil)
	require.NoError(t, err)
	assert.NotNil(t, p.session)
}
