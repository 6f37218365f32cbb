package guild

import "context"

// RoleSpec describes a role to create
type RoleSpec struct {
	Name        string
	Color       int
	Hoist       bool
	Permissions int64
	Mentionable bool
}

// ChannelSpec describes a channel to create. ParentID and overwrite subjects
// must already be live identifiers of the target space.
type ChannelSpec struct {
	Name             string
	Type             ChannelType
	ParentID         string
	Position         int
	Topic            string
	NSFW             bool
	Bitrate          int
	UserLimit        int
	RateLimitPerUser int
	Overwrites       []OverwriteRecord
}

// ThreadSpec describes a thread to start under a parent channel
type ThreadSpec struct {
	Name                string
	Type                ChannelType
	AutoArchiveDuration int
	RateLimitPerUser    int
	Invitable           bool
}

// MemberEdit is the role list and nickname to apply to a member
type MemberEdit struct {
	Roles    []string
	Nickname string
}

// SettingsEdit holds space-level settings. Empty channel IDs leave the
// current designation untouched.
type SettingsEdit struct {
	Name                        string
	VerificationLevel           int
	DefaultMessageNotifications int
	ExplicitContentFilter       int
	AFKChannelID                string
	AFKTimeout                  int
	SystemChannelID             string
	RulesChannelID              string
	PublicUpdatesChannelID      string
}

// ExecutorInfo describes the identity issuing mutations
type ExecutorInfo struct {
	UserID string
	// TopRolePosition is the position of the executor's highest role; only
	// roles strictly below it can be managed.
	TopRolePosition int
}

type SpaceAccess interface {
	Space(ctx context.Context, spaceID string) (*SpaceInfo, error)
	EditSpace(ctx context.Context, spaceID string, edit SettingsEdit) error
	Executor(ctx context.Context, spaceID string) (*ExecutorInfo, error)
}

type RoleAccess interface {
	Roles(ctx context.Context, spaceID string) ([]RoleRecord, error)
	CreateRole(ctx context.Context, spaceID string, spec RoleSpec) (string, error)
	DeleteRole(ctx context.Context, spaceID, roleID string) error
}

type ChannelAccess interface {
	// Channels lists every non-thread channel of the space
	Channels(ctx context.Context, spaceID string) ([]ChannelRecord, error)
	CreateChannel(ctx context.Context, spaceID string, spec ChannelSpec) (string, error)
	DeleteChannel(ctx context.Context, channelID string) error
}

type ThreadAccess interface {
	ActiveThreads(ctx context.Context, spaceID string) ([]ThreadRecord, error)
	ArchivedThreads(ctx context.Context, channelID string) ([]ThreadRecord, error)
	CreateThread(ctx context.Context, channelID string, spec ThreadSpec) (string, error)
}

type MemberAccess interface {
	Members(ctx context.Context, spaceID string) ([]MemberRecord, error)
	EditMember(ctx context.Context, spaceID, userID string, edit MemberEdit) error
	Bans(ctx context.Context, spaceID string) ([]BanRecord, error)
	Ban(ctx context.Context, spaceID, userID, reason string) error
}

type MessageAccess interface {
	// Messages returns up to limit messages older than before, newest first.
	// An empty before starts from the latest message.
	Messages(ctx context.Context, channelID, before string, limit int) ([]MessageRecord, error)
	SendMessage(ctx context.Context, channelID, content string) (string, error)
	PinMessage(ctx context.Context, channelID, messageID string) error
}

type CollectionAccess interface {
	Invites(ctx context.Context, spaceID string) ([]InviteRecord, error)
	Webhooks(ctx context.Context, spaceID string) ([]WebhookRecord, error)
	Emojis(ctx context.Context, spaceID string) ([]EmojiRecord, error)
	Stickers(ctx context.Context, spaceID string) ([]StickerRecord, error)
	ScheduledEvents(ctx context.Context, spaceID string) ([]ScheduledEventRecord, error)
	Integrations(ctx context.Context, spaceID string) ([]IntegrationRecord, error)
	ModerationRules(ctx context.Context, spaceID string) ([]ModerationRuleRecord, error)
	// AuditLog returns up to limit entries older than before, newest first
	AuditLog(ctx context.Context, spaceID, before string, limit int) ([]AuditLogEntryRecord, error)
}

// AccessProvider is every capability capture and restore need from a live space
type AccessProvider interface {
	SpaceAccess
	RoleAccess
	ChannelAccess
	ThreadAccess
	MemberAccess
	MessageAccess
	CollectionAccess
}
