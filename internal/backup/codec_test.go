package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-backup/internal/guild"
)

func sampleDocument(id string) *guild.BackupDocument {
	created := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	joined := created.Add(-90 * 24 * time.Hour)
	muted := created.Add(48 * time.Hour)
	eventEnd := created.Add(26 * time.Hour)
	return &guild.BackupDocument{
		BackupID:  id,
		CreatedAt: created,
		Source:    guild.SourceManual,
		Space: guild.SpaceInfo{
			ID: "space-1", Name: "Guild One", Icon: "a_icon", Description: "test guild", OwnerID: "u-alice",
			VerificationLevel: 2, DefaultMessageNotifications: 1, ExplicitContentFilter: 2,
			AFKChannelID: "c-voice", AFKTimeout: 300, SystemChannelID: "c1", RulesChannelID: "c1",
			PublicUpdatesChannelID: "c1", PreferredLocale: "en-US", MemberCount: 2, RoleCount: 2, ChannelCount: 3,
		},
		Roles: []guild.RoleRecord{
			{ID: "space-1", Name: "@everyone", Permissions: 1024, Everyone: true},
			{ID: "r1", Name: "Mods", Color: 0xff0000, Position: 2, Permissions: 8, Hoist: true, Mentionable: true},
			{ID: "r-bot", Name: "Bot", Position: 1, Managed: true},
		},
		Channels: []guild.ChannelRecord{
			{ID: "c-cat", Name: "Text", Type: guild.ChannelTypeCategory,
				PermissionOverwrites: []guild.OverwriteRecord{{ID: "space-1", Type: guild.OverwriteRole, Deny: 2048}}},
			{ID: "c1", Name: "general", Type: guild.ChannelTypeText, ParentID: "c-cat", Position: 0, Topic: "chat",
				NSFW: true, RateLimitPerUser: 5,
				PermissionOverwrites: []guild.OverwriteRecord{
					{ID: "r1", Type: guild.OverwriteRole, Allow: 1024},
					{ID: "u-bob", Type: guild.OverwriteMember, Deny: 2048},
				}},
			{ID: "c-voice", Name: "Lounge", Type: guild.ChannelTypeVoice, Position: 1, Bitrate: 64000, UserLimit: 10,
				PermissionOverwrites: []guild.OverwriteRecord{{ID: "r1", Type: guild.OverwriteRole, Allow: 1 << 20}}},
		},
		Threads: []guild.ThreadRecord{
			{ID: "t1", Name: "planning", ParentID: "c1", Type: guild.ChannelTypePublicThread, Archived: true,
				Locked: true, AutoArchiveDuration: 1440, RateLimitPerUser: 2, Invitable: true},
		},
		Members: []guild.MemberRecord{
			{UserID: "u-alice", Username: "alice", Nickname: "Al", Roles: []string{"r1"}, JoinedAt: joined,
				CommunicationDisabledUntil: &muted},
			{UserID: "u-bot", Username: "helper", Roles: []string{"r-bot"}, JoinedAt: joined, Bot: true},
		},
		Bans: []guild.BanRecord{{UserID: "u-mallory", Username: "mallory", Reason: "spam"}},
		Invites: []guild.InviteRecord{
			{Code: "abc123", ChannelID: "c1", InviterID: "u-alice", MaxAge: 86400, MaxUses: 10, Uses: 3,
				Temporary: true, CreatedAt: created},
		},
		Webhooks: []guild.WebhookRecord{{ID: "w1", Name: "CI", ChannelID: "c1", Avatar: "hook"}},
		Emojis:   []guild.EmojiRecord{{ID: "e1", Name: "party", Animated: true, Roles: []string{"r1"}}},
		Stickers: []guild.StickerRecord{{ID: "s1", Name: "wave", Description: "hello", Tags: "wave", FormatType: 1}},
		ScheduledEvents: []guild.ScheduledEventRecord{
			{ID: "ev1", Name: "Game night", Description: "weekly", ChannelID: "c-voice", StartTime: created.Add(24 * time.Hour),
				EndTime: &eventEnd, EntityType: 2, Status: 1, Location: "lounge"},
		},
		Integrations: []guild.IntegrationRecord{{ID: "i1", Name: "YouTube", Type: "youtube", Enabled: true, AccountName: "chan"}},
		ModerationRules: []guild.ModerationRuleRecord{
			{ID: "am1", Name: "No links", EventType: 1, TriggerType: 1, Enabled: true,
				ExemptRoles: []string{"r1"}, ExemptChannels: []string{"c1"}},
		},
		AuditLogEntries: []guild.AuditLogEntryRecord{
			{ID: "al1", UserID: "u-alice", TargetID: "u-mallory", ActionType: 22, Reason: "spam"},
		},
		Messages: guild.MessageArchive{
			Channels: map[string][]guild.MessageRecord{
				"c1": {
					{ID: "m1", AuthorID: "u-alice", AuthorName: "alice", Content: "hello", CreatedAt: created, Pinned: true,
						Attachments: []guild.AttachmentRecord{{Filename: "a.png", URL: "https://cdn/a.png", Size: 512}},
						Embeds:      []guild.EmbedRecord{{Title: "t", Description: "d", URL: "https://x", Color: 7}},
						Reactions:   []guild.ReactionRecord{{Emoji: "👍", Count: 2}},
						Mentions:    []string{"u-bot"},
						Components:  []guild.ComponentRecord{{Type: 1, Data: `{"type":1}`}}},
					{ID: "m2", AuthorID: "u-bot", AuthorName: "helper", AuthorBot: true, Content: "hi", CreatedAt: created.Add(time.Minute),
						ReplyTo: "m1"},
				},
			},
			Threads: map[string][]guild.MessageRecord{
				"t1": {{ID: "m3", AuthorID: "u-alice", AuthorName: "alice", Content: "agenda", CreatedAt: created.Add(time.Hour)}},
			},
		},
	}
}

// normalizeTimes drops the decoder's location so documents compare equal
func normalizeTimes(doc *guild.BackupDocument) {
	utc := func(t *time.Time) {
		if t != nil {
			*t = t.UTC()
		}
	}
	utc(&doc.CreatedAt)
	for i := range doc.Members {
		utc(&doc.Members[i].JoinedAt)
		utc(doc.Members[i].CommunicationDisabledUntil)
	}
	for i := range doc.Invites {
		utc(&doc.Invites[i].CreatedAt)
	}
	for i := range doc.ScheduledEvents {
		utc(&doc.ScheduledEvents[i].StartTime)
		utc(doc.ScheduledEvents[i].EndTime)
	}
	for _, archive := range []map[string][]guild.MessageRecord{doc.Messages.Channels, doc.Messages.Threads} {
		for _, list := range archive {
			for i := range list {
				utc(&list[i].CreatedAt)
			}
		}
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		config     CodecConfig
		encryption *EncryptionConfig
	}{
		{"json zstd", CodecConfig{}, nil},
		{"json gzip", CodecConfig{Compression: CompressionTypeGzip}, nil},
		{"json lz4", CodecConfig{Compression: CompressionTypeLZ4}, nil},
		{"msgpack zstd", CodecConfig{Encoding: EncodingMsgpack}, nil},
		{"json none", CodecConfig{Compression: CompressionTypeNone}, nil},
		{"json zstd encrypted", CodecConfig{}, &EncryptionConfig{Enabled: true, Passphrase: "pw"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := NewCodec(tt.config, tt.encryption)
			doc := sampleDocument("ABCDEFGHJKLM")

			data, err := codec.Encode(doc)
			require.NoError(t, err)

			var got guild.BackupDocument
			require.NoError(t, codec.Decode(data, &got))
			normalizeTimes(&got)
			assert.Equal(t, *doc, got)
		})
	}
}

func TestCodec_DecodeDetectsWriterSettings(t *testing.T) {
	data, err := NewCodec(CodecConfig{Encoding: EncodingMsgpack, Compression: CompressionTypeLZ4}, nil).Encode(sampleDocument("ABCDEFGHJKLM"))
	require.NoError(t, err)

	var got guild.BackupDocument
	require.NoError(t, NewCodec(CodecConfig{}, nil).Decode(data, &got))
	assert.Equal(t, "ABCDEFGHJKLM", got.BackupID)
	assert.Equal(t, "Guild One", got.Space.Name)
}

func TestCodec_DecodeGarbage(t *testing.T) {
	var got guild.BackupDocument
	err := NewCodec(CodecConfig{}, nil).Decode([]byte("not an archive"), &got)

	require.Error(t, err)
	assert.True(t, hasType(err, BackupErrorTypeCorruption))
}

func TestDetectEncoding(t *testing.T) {
	assert.Equal(t, EncodingJSON, detectEncoding([]byte(` {"a":1}`)))
	assert.Equal(t, EncodingMsgpack, detectEncoding([]byte{0x81, 0xa1, 'a', 0x01}))
	assert.Equal(t, EncodingMsgpack, detectEncoding([]byte{0xde, 0x00, 0x10}))
	assert.Equal(t, Encoding(""), detectEncoding([]byte("[1,2]")))
	assert.Equal(t, Encoding(""), detectEncoding(nil))
}
