package restore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"guild-backup/internal/backup"
	"guild-backup/internal/guild"
)

// Skip reasons
const (
	reasonFailed           = "failed"
	reasonManaged          = "managed"
	reasonUnsupportedType  = "unsupported type"
	reasonParentMissing    = "parent not restored"
	reasonForumParent      = "forum parent"
	reasonNotInTarget      = "not in target"
	reasonEmpty            = "empty"
	reasonContainerMissing = "container not restored"
	reasonNoMatch          = "no name match"
)

// run is the state of one restore execution
type run struct {
	o         *Orchestrator
	ctx       context.Context
	session   *LoadSession
	doc       *guild.BackupDocument
	remap     *remapper
	stats     Stats
	phases    []PhaseStats
	processed int
	startedAt time.Time
}

func (r *run) targetID() string { return r.session.TargetID }

func (r *run) execute() error {
	targetRoles, err := r.o.provider.Roles(r.ctx, r.targetID())
	if err != nil {
		return fmt.Errorf("failed to read target roles: %w", err)
	}
	r.remap = newRemapper(r.doc, r.targetID(), targetRoles)

	has := r.session.Actions.Has
	steps := []struct {
		phase   Phase
		enabled bool
		fn      func() error
	}{
		{PhaseDeleteRoles, has(ActionDeleteRoles), r.deleteRoles},
		{PhaseLoadRoles, has(ActionLoadRoles), r.loadRoles},
		{PhaseMatchRoles, !has(ActionLoadRoles), r.matchRoles},
		{PhaseDeleteChannels, has(ActionDeleteChannels), r.deleteChannels},
		{PhaseLoadChannels, has(ActionLoadChannels), r.loadChannels},
		{PhaseMatchChannels, !has(ActionLoadChannels), r.matchChannels},
		{PhaseLoadSettings, has(ActionLoadSettings), r.loadSettings},
		{PhaseLoadThreads, has(ActionLoadThreads), r.loadThreads},
		{PhaseLoadMemberInfo, has(ActionLoadMemberInfo), r.loadMemberInfo},
		{PhaseLoadBans, has(ActionLoadBans), r.loadBans},
		{PhaseLoadMessages, has(ActionLoadMessages), r.loadMessages},
	}

	for _, step := range steps {
		if !step.enabled {
			continue
		}
		if err := r.phase(step.phase, step.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) phase(p Phase, fn func() error) error {
	if err := r.checkpoint(); err != nil {
		return err
	}

	r.phases = append(r.phases, PhaseStats{Phase: p})
	if err := r.o.registry.Update(r.targetID(), func(s *ActiveRestoreState) { s.Phase = p }); err != nil {
		r.o.logger.WithField("target_id", r.targetID()).Warnf("Failed to record phase %s: %v", p, err)
	}

	start := time.Now()
	err := fn()
	ps := r.current()
	ps.Duration = time.Since(start)
	r.o.logger.LogRestorePhase(r.targetID(), string(p), ps.Succeeded, ps.Skipped, ps.Duration)

	if err == nil || backup.IsCancelled(err) {
		return err
	}
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return backup.NewCancelledError("restore cancelled", ctxErr)
	}
	return fmt.Errorf("phase %s: %w", p, err)
}

func (r *run) current() *PhaseStats {
	return &r.phases[len(r.phases)-1]
}

// checkpoint stops the run when the context ended or a cancel was requested
func (r *run) checkpoint() error {
	if err := r.ctx.Err(); err != nil {
		return backup.NewCancelledError("restore cancelled", err)
	}
	if r.o.registry.CancelRequested(r.targetID()) {
		return ErrRestoreCancelled
	}
	return nil
}

// unit runs one unit of work behind a checkpoint and records its result
func (r *run) unit(fn func() OpResult) error {
	if err := r.checkpoint(); err != nil {
		return err
	}
	res := fn()

	ps := r.current()
	ps.record(res)
	if res.Skipped {
		r.stats.Skipped++
	}
	r.processed++
	r.o.metrics.ObserveOp(string(ps.Phase), res.String())

	processed := r.processed
	if err := r.o.registry.Update(r.targetID(), func(s *ActiveRestoreState) {
		s.Phase = ps.Phase
		s.Processed = processed
	}); err != nil {
		r.o.logger.WithField("target_id", r.targetID()).Debugf("Failed to record progress: %v", err)
	}
	if r.o.progress != nil {
		r.o.progress(ProgressEvent{TargetID: r.targetID(), Phase: ps.Phase, Processed: processed, Result: res})
	}
	return nil
}

// pace sleeps after a mutating call. An interrupted sleep is caught by the
// next checkpoint.
func (r *run) pace(d time.Duration) {
	_ = pause(r.ctx, d)
}

func (r *run) failed(what string, err error) OpResult {
	r.o.logger.WithFields(map[string]interface{}{
		"target_id": r.targetID(),
		"phase":     string(r.current().Phase),
	}).Warnf("%s failed: %v", what, err)
	return Skipped(reasonFailed)
}

func (r *run) deleteRoles() error {
	exec, err := r.o.provider.Executor(r.ctx, r.targetID())
	if err != nil {
		return fmt.Errorf("failed to read executor: %w", err)
	}
	roles, err := r.o.provider.Roles(r.ctx, r.targetID())
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}

	for _, role := range deletableRoles(roles, r.remap.targetEveryone, exec.TopRolePosition) {
		role := role
		err := r.unit(func() OpResult {
			err := r.o.provider.DeleteRole(r.ctx, r.targetID(), role.ID)
			r.pace(r.o.config.Delays.Roles)
			if err != nil {
				return r.failed("delete role "+role.Name, err)
			}
			r.stats.DeletedRoles++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// deletableRoles returns the roles the executor may delete, lowest first
func deletableRoles(roles []guild.RoleRecord, everyone string, topPosition int) []guild.RoleRecord {
	var out []guild.RoleRecord
	for _, role := range roles {
		if role.Everyone || role.ID == everyone || role.Managed || role.Position >= topPosition {
			continue
		}
		out = append(out, role)
	}
	return sortRoles(out)
}

func (r *run) loadRoles() error {
	for _, role := range sortRoles(r.doc.Roles) {
		if role.Everyone || r.remap.isSourceEveryone(role.ID) {
			continue
		}
		role := role
		err := r.unit(func() OpResult {
			if role.Managed {
				return Skipped(reasonManaged)
			}
			id, err := r.o.provider.CreateRole(r.ctx, r.targetID(), guild.RoleSpec{
				Name:        role.Name,
				Color:       role.Color,
				Hoist:       role.Hoist,
				Permissions: role.Permissions,
				Mentionable: role.Mentionable,
			})
			r.pace(r.o.config.Delays.Roles)
			if err != nil {
				return r.failed("create role "+role.Name, err)
			}
			r.remap.roles[role.ID] = id
			r.stats.CreatedRoles++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) matchRoles() error {
	roles, err := r.o.provider.Roles(r.ctx, r.targetID())
	if err != nil {
		r.o.logger.WithField("target_id", r.targetID()).Warnf("Failed to list roles for name matching: %v", err)
		return nil
	}
	candidates := 0
	for _, role := range r.doc.Roles {
		if !role.Everyone && !r.remap.isSourceEveryone(role.ID) {
			candidates++
		}
	}
	matched := r.remap.matchRoles(r.doc.Roles, roles)
	r.stats.MatchedRoles += matched
	r.recordMatches(candidates, matched)
	return nil
}

func (r *run) deleteChannels() error {
	channels, err := r.o.provider.Channels(r.ctx, r.targetID())
	if err != nil {
		return fmt.Errorf("failed to list channels: %w", err)
	}

	// children before their categories
	sort.SliceStable(channels, func(i, j int) bool {
		ci, cj := channels[i].Type == guild.ChannelTypeCategory, channels[j].Type == guild.ChannelTypeCategory
		if ci != cj {
			return cj
		}
		return channels[i].Position < channels[j].Position
	})

	for _, ch := range channels {
		ch := ch
		err := r.unit(func() OpResult {
			err := r.o.provider.DeleteChannel(r.ctx, ch.ID)
			r.pace(r.o.config.Delays.Channels)
			if err != nil {
				return r.failed("delete channel "+ch.Name, err)
			}
			r.stats.DeletedChannels++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) loadChannels() error {
	for _, ch := range sortChannels(r.doc.Channels) {
		ch := ch
		err := r.unit(func() OpResult {
			if ch.Type.IsThread() || !ch.Type.Restorable() {
				return Skipped(reasonUnsupportedType)
			}
			spec := guild.ChannelSpec{
				Name:             ch.Name,
				Type:             ch.Type,
				Position:         ch.Position,
				Topic:            ch.Topic,
				NSFW:             ch.NSFW,
				Bitrate:          ch.Bitrate,
				UserLimit:        ch.UserLimit,
				RateLimitPerUser: ch.RateLimitPerUser,
				Overwrites:       r.remap.overwrites(ch.PermissionOverwrites),
			}
			if ch.Type != guild.ChannelTypeCategory {
				spec.ParentID = r.remap.channel(ch.ParentID)
			}

			id, err := r.o.provider.CreateChannel(r.ctx, r.targetID(), spec)
			r.pace(r.o.config.Delays.Channels)
			if err != nil {
				return r.failed("create channel "+ch.Name, err)
			}
			r.remap.channels[ch.ID] = id
			r.stats.CreatedChannels++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) matchChannels() error {
	channels, err := r.o.provider.Channels(r.ctx, r.targetID())
	if err != nil {
		r.o.logger.WithField("target_id", r.targetID()).Warnf("Failed to list channels for name matching: %v", err)
		return nil
	}
	matched := r.remap.matchChannels(r.doc.Channels, channels)
	r.stats.MatchedChannels += matched
	r.recordMatches(len(r.doc.Channels), matched)
	return nil
}

// recordMatches fills the phase stats of a name-matching pass, which issues
// no mutations and so has no units
func (r *run) recordMatches(candidates, matched int) {
	ps := r.current()
	ps.Attempted += candidates
	ps.Succeeded += matched
	if missed := candidates - matched; missed > 0 {
		ps.Skipped += missed
		if ps.Reasons == nil {
			ps.Reasons = make(map[string]int)
		}
		ps.Reasons[reasonNoMatch] += missed
	}
}

func (r *run) loadSettings() error {
	space := r.doc.Space
	return r.unit(func() OpResult {
		err := r.o.provider.EditSpace(r.ctx, r.targetID(), guild.SettingsEdit{
			Name:                        space.Name,
			VerificationLevel:           space.VerificationLevel,
			DefaultMessageNotifications: space.DefaultMessageNotifications,
			ExplicitContentFilter:       space.ExplicitContentFilter,
			AFKChannelID:                r.remap.channel(space.AFKChannelID),
			AFKTimeout:                  space.AFKTimeout,
			SystemChannelID:             r.remap.channel(space.SystemChannelID),
			RulesChannelID:              r.remap.channel(space.RulesChannelID),
			PublicUpdatesChannelID:      r.remap.channel(space.PublicUpdatesChannelID),
		})
		r.pace(r.o.config.Delays.Settings)
		if err != nil {
			return r.failed("edit settings", err)
		}
		r.stats.SettingsApplied = true
		return OK()
	})
}

func (r *run) loadThreads() error {
	parentTypes := make(map[string]guild.ChannelType, len(r.doc.Channels))
	for _, ch := range r.doc.Channels {
		parentTypes[ch.ID] = ch.Type
	}

	for _, th := range r.doc.Threads {
		th := th
		err := r.unit(func() OpResult {
			parent := r.remap.channel(th.ParentID)
			if parent == "" {
				return Skipped(reasonParentMissing)
			}
			if t := parentTypes[th.ParentID]; t == guild.ChannelTypeForum || t == guild.ChannelTypeMedia {
				return Skipped(reasonForumParent)
			}
			typ := th.Type
			if !typ.IsThread() {
				typ = guild.ChannelTypePublicThread
			}
			id, err := r.o.provider.CreateThread(r.ctx, parent, guild.ThreadSpec{
				Name:                th.Name,
				Type:                typ,
				AutoArchiveDuration: th.AutoArchiveDuration,
				RateLimitPerUser:    th.RateLimitPerUser,
				Invitable:           th.Invitable,
			})
			r.pace(r.o.config.Delays.Channels)
			if err != nil {
				return r.failed("create thread "+th.Name, err)
			}
			r.remap.channels[th.ID] = id
			r.stats.CreatedThreads++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) loadMemberInfo() error {
	members, err := r.o.provider.Members(r.ctx, r.targetID())
	if err != nil {
		return fmt.Errorf("failed to list members: %w", err)
	}
	roles, err := r.o.provider.Roles(r.ctx, r.targetID())
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}

	present := make(map[string]bool, len(members))
	for _, m := range members {
		present[m.UserID] = true
	}
	live := make(map[string]bool, len(roles))
	for _, role := range roles {
		live[role.ID] = true
	}

	for _, member := range r.doc.Members {
		member := member
		err := r.unit(func() OpResult {
			if !present[member.UserID] {
				return Skipped(reasonNotInTarget)
			}
			err := r.o.provider.EditMember(r.ctx, r.targetID(), member.UserID, guild.MemberEdit{
				Roles:    r.remap.memberRoles(member.Roles, live),
				Nickname: member.Nickname,
			})
			r.pace(r.o.config.Delays.Members)
			if err != nil {
				return r.failed("edit member "+member.UserID, err)
			}
			r.stats.UpdatedMembers++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *run) loadBans() error {
	for _, ban := range r.doc.Bans {
		ban := ban
		err := r.unit(func() OpResult {
			err := r.o.provider.Ban(r.ctx, r.targetID(), ban.UserID, ban.Reason)
			r.pace(r.o.config.Delays.Bans)
			if err != nil {
				return r.failed("ban "+ban.UserID, err)
			}
			r.stats.AppliedBans++
			return OK()
		})
		if err != nil {
			return err
		}
	}
	return nil
}

type container struct {
	id       string
	messages []guild.MessageRecord
}

// messageContainers orders replay: channels by position, then threads in
// document order, then any history whose container is not in the document
func messageContainers(doc *guild.BackupDocument) []container {
	var out []container
	seen := make(map[string]bool)
	add := func(id string, msgs []guild.MessageRecord) {
		if seen[id] || len(msgs) == 0 {
			return
		}
		seen[id] = true
		out = append(out, container{id: id, messages: msgs})
	}

	for _, ch := range sortChannels(doc.Channels) {
		add(ch.ID, doc.Messages.Channels[ch.ID])
	}
	for _, th := range doc.Threads {
		add(th.ID, doc.Messages.Threads[th.ID])
	}
	for _, m := range []map[string][]guild.MessageRecord{doc.Messages.Channels, doc.Messages.Threads} {
		keys := make([]string, 0, len(m))
		for id := range m {
			keys = append(keys, id)
		}
		sort.Strings(keys)
		for _, id := range keys {
			add(id, m[id])
		}
	}
	return out
}

func (r *run) loadMessages() error {
	pin := r.session.Actions.Has(ActionLoadPinned)

	for _, c := range messageContainers(r.doc) {
		live := r.remap.channel(c.id)
		for _, msg := range c.messages {
			msg := msg
			err := r.unit(func() OpResult {
				if live == "" {
					return Skipped(reasonContainerMissing)
				}
				content := formatMessage(r.session.BackupID, msg, r.o.config.MessageLimit)
				if content == "" {
					return Skipped(reasonEmpty)
				}

				id, err := r.o.provider.SendMessage(r.ctx, live, content)
				r.pace(r.o.config.Delays.Messages)
				if err != nil {
					return r.failed("send message "+msg.ID, err)
				}
				r.stats.LoadedMessages++

				if pin && msg.Pinned {
					err := r.o.provider.PinMessage(r.ctx, live, id)
					r.pace(r.o.config.Delays.Messages)
					if err != nil {
						r.o.logger.WithField("target_id", r.targetID()).Warnf("Failed to pin message %s: %v", id, err)
					} else {
						r.stats.PinnedMessages++
					}
				}
				return OK()
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// formatMessage renders a replayed message behind a provenance header, or
// returns "" when there is nothing to send
func formatMessage(backupID string, msg guild.MessageRecord, limit int) string {
	var body []string
	if strings.TrimSpace(msg.Content) != "" {
		body = append(body, msg.Content)
	}
	for _, a := range msg.Attachments {
		if a.URL != "" {
			body = append(body, a.URL)
		}
	}
	if len(body) == 0 {
		return ""
	}

	author := msg.AuthorName
	if author == "" {
		author = msg.AuthorID
	}
	if author == "" {
		author = "unknown"
	}
	text := fmt.Sprintf("-# `[%s]` %s\n%s", backupID, author, strings.Join(body, "\n"))
	return truncate(text, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// sortRoles orders roles by ascending position
func sortRoles(roles []guild.RoleRecord) []guild.RoleRecord {
	out := append([]guild.RoleRecord(nil), roles...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// sortChannels orders categories first, then everything else, each by position
func sortChannels(channels []guild.ChannelRecord) []guild.ChannelRecord {
	out := append([]guild.ChannelRecord(nil), channels...)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Type == guild.ChannelTypeCategory, out[j].Type == guild.ChannelTypeCategory
		if ci != cj {
			return ci
		}
		return out[i].Position < out[j].Position
	})
	return out
}

func (r *run) report(err error) *Report {
	rep := &Report{
		TargetID:   r.targetID(),
		BackupID:   r.session.BackupID,
		OperatorID: r.session.OperatorID,
		Actions:    r.session.Actions.List(),
		Outcome:    outcomeOf(err),
		StartedAt:  r.startedAt,
		FinishedAt: time.Now(),
		Stats:      r.stats,
		Phases:     r.phases,
		RoleMap:    map[string]string{},
		ChannelMap: map[string]string{},
	}
	if rep.Phases == nil {
		rep.Phases = []PhaseStats{}
	}
	if err != nil {
		rep.Error = err.Error()
	}
	if r.remap != nil {
		rep.RoleMap = r.remap.roleTable()
		rep.ChannelMap = r.remap.channelTable()
	}
	return rep
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
