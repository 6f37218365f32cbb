package restore

import (
	"context"
	"fmt"
	"time"

	"guild-backup/internal/guild"
)

// ForecastItem predicts the effect of one selected action
type ForecastItem struct {
	Action  Action `json:"action"`
	Count   int    `json:"count"`
	Summary string `json:"summary"`
}

// Forecast is the dry-run view of a session shown before confirmation
type Forecast struct {
	SessionID       string         `json:"sessionId"`
	TargetID        string         `json:"targetId"`
	BackupID        string         `json:"backupId"`
	SourceSpaceID   string         `json:"sourceSpaceId"`
	SourceSpaceName string         `json:"sourceSpaceName"`
	BackupCreatedAt time.Time      `json:"backupCreatedAt"`
	Items           []ForecastItem `json:"items"`
	Notes           []string       `json:"notes,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// Preflight reads the backup and the target's live state and predicts what
// each selected action would do. It issues no mutating calls.
func (o *Orchestrator) Preflight(ctx context.Context, sessionID string) (*Forecast, error) {
	session, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	doc, err := o.loadDocument(ctx, session.TargetID, session.BackupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup %s: %w", session.BackupID, err)
	}

	target := session.TargetID
	roles, err := o.provider.Roles(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read target roles: %w", err)
	}
	channels, err := o.provider.Channels(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read target channels: %w", err)
	}
	members, err := o.provider.Members(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read target members: %w", err)
	}
	exec, err := o.provider.Executor(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read executor: %w", err)
	}

	f := &Forecast{
		SessionID:       session.ID,
		TargetID:        target,
		BackupID:        session.BackupID,
		SourceSpaceID:   doc.Space.ID,
		SourceSpaceName: doc.Space.Name,
		BackupCreatedAt: doc.CreatedAt,
		Items:           []ForecastItem{},
	}
	has := session.Actions.Has
	add := func(a Action, n int, format string, args ...interface{}) {
		f.Items = append(f.Items, ForecastItem{Action: a, Count: n, Summary: fmt.Sprintf(format, args...)})
	}

	remap := newRemapper(doc, target, roles)
	deletable := deletableRoles(roles, remap.targetEveryone, exec.TopRolePosition)

	if has(ActionDeleteRoles) {
		add(ActionDeleteRoles, len(deletable), "%d roles will be deleted", len(deletable))
		if kept := countManageable(roles, remap.targetEveryone) - len(deletable); kept > 0 {
			f.Warnings = append(f.Warnings, fmt.Sprintf("%d roles sit at or above the executor's highest role and will be kept", kept))
		}
	}

	creatable, managed := 0, 0
	for _, role := range doc.Roles {
		switch {
		case role.Everyone || remap.isSourceEveryone(role.ID):
		case role.Managed:
			managed++
		default:
			creatable++
		}
	}
	if has(ActionLoadRoles) {
		add(ActionLoadRoles, creatable, "%d roles will be created", creatable)
		if managed > 0 {
			f.Notes = append(f.Notes, fmt.Sprintf("%d managed roles will be skipped", managed))
		}
	} else {
		remaining := roles
		if has(ActionDeleteRoles) {
			remaining = survivingRoles(roles, deletable)
		}
		n := remap.matchRoles(doc.Roles, remaining)
		f.Notes = append(f.Notes, fmt.Sprintf("%d roles will be matched by name", n))
	}

	if has(ActionDeleteChannels) {
		add(ActionDeleteChannels, len(channels), "%d channels will be deleted", len(channels))
	}

	restorable := make(map[string]bool)
	unsupported := 0
	for _, ch := range doc.Channels {
		if ch.Type.Restorable() && !ch.Type.IsThread() {
			restorable[ch.ID] = true
		} else {
			unsupported++
		}
	}
	if has(ActionLoadChannels) {
		add(ActionLoadChannels, len(restorable), "%d channels will be created", len(restorable))
		if unsupported > 0 {
			f.Notes = append(f.Notes, fmt.Sprintf("%d channels have unsupported types and will be skipped", unsupported))
		}
		for id := range restorable {
			remap.channels[id] = id
		}
	} else {
		remaining := channels
		if has(ActionDeleteChannels) {
			remaining = nil
		}
		n := remap.matchChannels(doc.Channels, remaining)
		f.Notes = append(f.Notes, fmt.Sprintf("%d channels will be matched by name", n))
	}

	if has(ActionLoadSettings) {
		add(ActionLoadSettings, 1, "space settings will be replaced with those of %q", doc.Space.Name)
	}

	if has(ActionLoadThreads) {
		parentTypes := make(map[string]guild.ChannelType, len(doc.Channels))
		for _, ch := range doc.Channels {
			parentTypes[ch.ID] = ch.Type
		}
		n := 0
		for _, th := range doc.Threads {
			t := parentTypes[th.ParentID]
			if remap.channel(th.ParentID) != "" && t != guild.ChannelTypeForum && t != guild.ChannelTypeMedia {
				n++
				remap.channels[th.ID] = th.ID
			}
		}
		add(ActionLoadThreads, n, "%d of %d threads will be created", n, len(doc.Threads))
	}

	if has(ActionLoadMemberInfo) {
		present := make(map[string]bool, len(members))
		for _, m := range members {
			present[m.UserID] = true
		}
		n := 0
		for _, m := range doc.Members {
			if present[m.UserID] {
				n++
			}
		}
		add(ActionLoadMemberInfo, n, "%d of %d members are present and will be updated", n, len(doc.Members))
	}

	if has(ActionLoadBans) {
		add(ActionLoadBans, len(doc.Bans), "%d bans will be applied", len(doc.Bans))
	}

	if has(ActionLoadMessages) {
		n, pinned, unmapped := 0, 0, 0
		for _, c := range messageContainers(doc) {
			mapped := remap.channel(c.id) != ""
			for _, msg := range c.messages {
				if formatMessage(session.BackupID, msg, o.config.MessageLimit) == "" {
					continue
				}
				if !mapped {
					unmapped++
					continue
				}
				n++
				if msg.Pinned {
					pinned++
				}
			}
		}
		add(ActionLoadMessages, n, "%d messages will be replayed", n)
		if unmapped > 0 {
			f.Notes = append(f.Notes, fmt.Sprintf("%d messages belong to containers that will not exist and will be skipped", unmapped))
		}
		if has(ActionLoadPinned) {
			add(ActionLoadPinned, pinned, "%d replayed messages will be pinned", pinned)
		}
	} else if has(ActionLoadPinned) {
		f.Warnings = append(f.Warnings, "load_pinned has no effect without load_messages")
	}

	if _, err := o.registry.Get(target); err == nil {
		f.Warnings = append(f.Warnings, "a restore is already running on this target")
	}

	if err := o.sessions.MarkPreflight(sessionID); err != nil {
		return nil, err
	}
	return f, nil
}

func countManageable(roles []guild.RoleRecord, everyone string) int {
	n := 0
	for _, r := range roles {
		if !r.Everyone && r.ID != everyone && !r.Managed {
			n++
		}
	}
	return n
}

func survivingRoles(roles, deleted []guild.RoleRecord) []guild.RoleRecord {
	gone := make(map[string]bool, len(deleted))
	for _, r := range deleted {
		gone[r.ID] = true
	}
	var out []guild.RoleRecord
	for _, r := range roles {
		if !gone[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
