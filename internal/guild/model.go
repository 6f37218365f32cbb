// Package guild defines the backup document model and the capability
// interface through which capture and restore reach a live space.
package guild

import "time"

// Source records what triggered a capture
type Source string

const (
	SourceManual    Source = "manual"
	SourceAutomatic Source = "automatic"
)

// Valid reports whether s is a known source
func (s Source) Valid() bool {
	return s == SourceManual || s == SourceAutomatic
}

// ChannelType mirrors the platform's numeric channel kinds
type ChannelType int

const (
	ChannelTypeText          ChannelType = 0
	ChannelTypeDM            ChannelType = 1
	ChannelTypeVoice         ChannelType = 2
	ChannelTypeGroupDM       ChannelType = 3
	ChannelTypeCategory      ChannelType = 4
	ChannelTypeAnnouncement  ChannelType = 5
	ChannelTypeStore         ChannelType = 6
	ChannelTypeNewsThread    ChannelType = 10
	ChannelTypePublicThread  ChannelType = 11
	ChannelTypePrivateThread ChannelType = 12
	ChannelTypeStage         ChannelType = 13
	ChannelTypeDirectory     ChannelType = 14
	ChannelTypeForum         ChannelType = 15
	ChannelTypeMedia         ChannelType = 16
)

// IsThread reports whether the type is a thread container
func (t ChannelType) IsThread() bool {
	return t == ChannelTypeNewsThread || t == ChannelTypePublicThread || t == ChannelTypePrivateThread
}

// Restorable reports whether a channel of this type can be recreated in a space
func (t ChannelType) Restorable() bool {
	switch t {
	case ChannelTypeText, ChannelTypeVoice, ChannelTypeCategory,
		ChannelTypeAnnouncement, ChannelTypeStage, ChannelTypeForum:
		return true
	}
	return false
}

// HoldsMessages reports whether the channel has a readable message history
func (t ChannelType) HoldsMessages() bool {
	switch t {
	case ChannelTypeText, ChannelTypeAnnouncement, ChannelTypeVoice, ChannelTypeStage:
		return true
	}
	return t.IsThread()
}

// OverwriteType identifies the subject of a permission overwrite
type OverwriteType string

const (
	OverwriteRole   OverwriteType = "role"
	OverwriteMember OverwriteType = "member"
)

// BackupDocument is the complete snapshot of one space
type BackupDocument struct {
	BackupID        string                 `json:"backupId"`
	CreatedAt       time.Time              `json:"createdAt"`
	Source          Source                 `json:"source"`
	Space           SpaceInfo              `json:"space"`
	Roles           []RoleRecord           `json:"roles"`
	Channels        []ChannelRecord        `json:"channels"`
	Threads         []ThreadRecord         `json:"threads"`
	Members         []MemberRecord         `json:"members"`
	Bans            []BanRecord            `json:"bans"`
	Invites         []InviteRecord         `json:"invites"`
	Webhooks        []WebhookRecord        `json:"webhooks"`
	Emojis          []EmojiRecord          `json:"emojis"`
	Stickers        []StickerRecord        `json:"stickers"`
	ScheduledEvents []ScheduledEventRecord `json:"scheduledEvents"`
	Integrations    []IntegrationRecord    `json:"integrations"`
	ModerationRules []ModerationRuleRecord `json:"moderationRules"`
	AuditLogEntries []AuditLogEntryRecord  `json:"auditLogEntries"`
	Messages        MessageArchive         `json:"messages"`
}

// MessageArchive holds captured history keyed by container ID, oldest first
type MessageArchive struct {
	Channels map[string][]MessageRecord `json:"channels"`
	Threads  map[string][]MessageRecord `json:"threads"`
}

// Count returns the number of channel and thread messages
func (a MessageArchive) Count() (channel, thread int) {
	for _, list := range a.Channels {
		channel += len(list)
	}
	for _, list := range a.Threads {
		thread += len(list)
	}
	return channel, thread
}

// SpaceInfo captures the space identity and its settings
type SpaceInfo struct {
	ID                          string `json:"id"`
	Name                        string `json:"name"`
	Icon                        string `json:"icon,omitempty"`
	Description                 string `json:"description,omitempty"`
	OwnerID                     string `json:"ownerId,omitempty"`
	VerificationLevel           int    `json:"verificationLevel"`
	DefaultMessageNotifications int    `json:"defaultMessageNotifications"`
	ExplicitContentFilter       int    `json:"explicitContentFilter"`
	AFKChannelID                string `json:"afkChannelId,omitempty"`
	AFKTimeout                  int    `json:"afkTimeout,omitempty"`
	SystemChannelID             string `json:"systemChannelId,omitempty"`
	RulesChannelID              string `json:"rulesChannelId,omitempty"`
	PublicUpdatesChannelID      string `json:"publicUpdatesChannelId,omitempty"`
	PreferredLocale             string `json:"preferredLocale,omitempty"`
	MemberCount                 int    `json:"memberCount"`
	RoleCount                   int    `json:"roleCount"`
	ChannelCount                int    `json:"channelCount"`
}

// RoleRecord is a role as it existed at capture time
type RoleRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       int    `json:"color"`
	Hoist       bool   `json:"hoist"`
	Position    int    `json:"position"`
	Permissions int64  `json:"permissions"`
	Mentionable bool   `json:"mentionable"`
	Managed     bool   `json:"managed"`
	Everyone    bool   `json:"everyone"`
}

// OverwriteRecord is a permission overwrite keyed by a capture-time subject ID
type OverwriteRecord struct {
	ID    string        `json:"id"`
	Type  OverwriteType `json:"type"`
	Allow int64         `json:"allow"`
	Deny  int64         `json:"deny"`
}

// ChannelRecord is a non-thread channel as it existed at capture time
type ChannelRecord struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Type                 ChannelType       `json:"type"`
	ParentID             string            `json:"parentId,omitempty"`
	Position             int               `json:"position"`
	Topic                string            `json:"topic,omitempty"`
	NSFW                 bool              `json:"nsfw"`
	Bitrate              int               `json:"bitrate,omitempty"`
	UserLimit            int               `json:"userLimit,omitempty"`
	RateLimitPerUser     int               `json:"rateLimitPerUser,omitempty"`
	PermissionOverwrites []OverwriteRecord `json:"permissionOverwrites"`
}

// ThreadRecord is a thread as it existed at capture time
type ThreadRecord struct {
	ID                  string      `json:"id"`
	Name                string      `json:"name"`
	ParentID            string      `json:"parentId"`
	Type                ChannelType `json:"type"`
	Archived            bool        `json:"archived"`
	Locked              bool        `json:"locked"`
	AutoArchiveDuration int         `json:"autoArchiveDuration,omitempty"`
	RateLimitPerUser    int         `json:"rateLimitPerUser,omitempty"`
	Invitable           bool        `json:"invitable"`
}

// MemberRecord is a member's role list and profile at capture time
type MemberRecord struct {
	UserID                     string     `json:"userId"`
	Username                   string     `json:"username"`
	Nickname                   string     `json:"nickname,omitempty"`
	Roles                      []string   `json:"roles"`
	JoinedAt                   time.Time  `json:"joinedAt"`
	CommunicationDisabledUntil *time.Time `json:"communicationDisabledUntil,omitempty"`
	Bot                        bool       `json:"bot"`
}

// BanRecord is a ban keyed by the globally unique user ID
type BanRecord struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type InviteRecord struct {
	Code      string    `json:"code"`
	ChannelID string    `json:"channelId,omitempty"`
	InviterID string    `json:"inviterId,omitempty"`
	MaxAge    int       `json:"maxAge"`
	MaxUses   int       `json:"maxUses"`
	Uses      int       `json:"uses"`
	Temporary bool      `json:"temporary"`
	CreatedAt time.Time `json:"createdAt"`
}

type WebhookRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChannelID string `json:"channelId"`
	Avatar    string `json:"avatar,omitempty"`
}

type EmojiRecord struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Animated bool     `json:"animated"`
	Roles    []string `json:"roles,omitempty"`
}

type StickerRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tags        string `json:"tags,omitempty"`
	FormatType  int    `json:"formatType"`
}

type ScheduledEventRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ChannelID   string     `json:"channelId,omitempty"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	EntityType  int        `json:"entityType"`
	Status      int        `json:"status"`
	Location    string     `json:"location,omitempty"`
}

type IntegrationRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Enabled     bool   `json:"enabled"`
	AccountName string `json:"accountName,omitempty"`
}

type ModerationRuleRecord struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	EventType      int      `json:"eventType"`
	TriggerType    int      `json:"triggerType"`
	Enabled        bool     `json:"enabled"`
	ExemptRoles    []string `json:"exemptRoles,omitempty"`
	ExemptChannels []string `json:"exemptChannels,omitempty"`
}

type AuditLogEntryRecord struct {
	ID         string `json:"id"`
	UserID     string `json:"userId,omitempty"`
	TargetID   string `json:"targetId,omitempty"`
	ActionType int    `json:"actionType"`
	Reason     string `json:"reason,omitempty"`
}

// MessageRecord is a flat, uninterpreted copy of one message
type MessageRecord struct {
	ID          string             `json:"id"`
	AuthorID    string             `json:"authorId"`
	AuthorName  string             `json:"authorName"`
	AuthorBot   bool               `json:"authorBot"`
	Content     string             `json:"content"`
	CreatedAt   time.Time          `json:"createdAt"`
	Attachments []AttachmentRecord `json:"attachments,omitempty"`
	Embeds      []EmbedRecord      `json:"embeds,omitempty"`
	Reactions   []ReactionRecord   `json:"reactions,omitempty"`
	Mentions    []string           `json:"mentions,omitempty"`
	Components  []ComponentRecord  `json:"components,omitempty"`
	Pinned      bool               `json:"pinned"`
	ReplyTo     string             `json:"replyTo,omitempty"`
}

type AttachmentRecord struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Size     int    `json:"size"`
}

type EmbedRecord struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color,omitempty"`
}

type ReactionRecord struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ComponentRecord keeps an interactive component's type and raw payload
type ComponentRecord struct {
	Type int    `json:"type"`
	Data string `json:"data,omitempty"`
}
