package guildtest

import (
	"fmt"
	"time"

	"guild-backup/internal/guild"
)

// SampleSpace returns a small populated space: two roles, a category holding
// a text and a voice channel, two members, one ban and five messages in the
// text channel. IDs are stable so tests can refer to them.
func SampleSpace(id, name string) *Space {
	s := NewSpace(id, name)
	s.Info.VerificationLevel = 2
	s.Info.SystemChannelID = "c-general"

	s.Roles = []guild.RoleRecord{
		{ID: "r-mod", Name: "Moderator", Color: 0xe67e22, Hoist: true, Position: 2, Permissions: 0x2000, Mentionable: true},
		{ID: "r-member", Name: "Member", Position: 1, Permissions: 0x400},
	}
	s.Channels = []guild.ChannelRecord{
		{ID: "c-cat", Name: "Community", Type: guild.ChannelTypeCategory, Position: 0},
		{
			ID: "c-general", Name: "general", Type: guild.ChannelTypeText, ParentID: "c-cat", Position: 1, Topic: "chat",
			PermissionOverwrites: []guild.OverwriteRecord{{ID: "r-mod", Type: guild.OverwriteRole, Allow: 0x2000}},
		},
		{ID: "c-voice", Name: "Lounge", Type: guild.ChannelTypeVoice, ParentID: "c-cat", Position: 2, Bitrate: 64000},
	}
	s.Members = []guild.MemberRecord{
		{UserID: "u-alice", Username: "alice", Nickname: "Al", Roles: []string{"r-mod", "r-member"}},
		{UserID: "u-bob", Username: "bob", Roles: []string{"r-member"}},
	}
	s.Bans = []guild.BanRecord{{UserID: "u-mallory", Username: "mallory", Reason: "spam"}}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		s.Messages["c-general"] = append(s.Messages["c-general"], guild.MessageRecord{
			ID:         fmt.Sprintf("m-%d", i),
			AuthorID:   "u-alice",
			AuthorName: "alice",
			Content:    fmt.Sprintf("message %d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			Pinned:     i == 2,
		})
	}
	return s
}
