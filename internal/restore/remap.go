package restore

import (
	"guild-backup/internal/guild"
)

// remapper translates capture-time identifiers into live identifiers of the
// target space. Its tables live for one run only.
type remapper struct {
	sourceSpaceID  string
	sourceEveryone string
	targetEveryone string
	roles          map[string]string
	channels       map[string]string
}

func newRemapper(doc *guild.BackupDocument, targetSpaceID string, targetRoles []guild.RoleRecord) *remapper {
	m := &remapper{
		sourceSpaceID:  doc.Space.ID,
		sourceEveryone: everyoneID(doc.Space.ID, doc.Roles),
		targetEveryone: everyoneID(targetSpaceID, targetRoles),
		roles:          make(map[string]string),
		channels:       make(map[string]string),
	}
	m.roles[m.sourceEveryone] = m.targetEveryone
	return m
}

// everyoneID finds the implicit everyone role, which shares the space's ID
// on platforms that do not flag it
func everyoneID(spaceID string, roles []guild.RoleRecord) string {
	for _, r := range roles {
		if r.Everyone {
			return r.ID
		}
	}
	return spaceID
}

func (m *remapper) isSourceEveryone(id string) bool {
	return id == m.sourceEveryone || id == m.sourceSpaceID
}

// role resolves a capture-time role ID
func (m *remapper) role(id string) (string, bool) {
	if m.isSourceEveryone(id) {
		return m.targetEveryone, true
	}
	live, ok := m.roles[id]
	return live, ok
}

// channel resolves a capture-time channel or thread ID, or returns ""
func (m *remapper) channel(id string) string {
	if id == "" {
		return ""
	}
	return m.channels[id]
}

// overwrites rewrites permission overwrite subjects. Role subjects resolve
// through the role table, then the channel table, then the everyone rule.
// Member subjects are global and pass through. Unresolvable subjects are
// dropped.
func (m *remapper) overwrites(in []guild.OverwriteRecord) []guild.OverwriteRecord {
	out := make([]guild.OverwriteRecord, 0, len(in))
	for _, ow := range in {
		if ow.Type == guild.OverwriteMember {
			out = append(out, ow)
			continue
		}
		live, ok := m.roles[ow.ID]
		if !ok {
			live, ok = m.channels[ow.ID]
		}
		if !ok && m.isSourceEveryone(ow.ID) {
			live, ok = m.targetEveryone, true
		}
		if !ok {
			continue
		}
		ow.ID = live
		out = append(out, ow)
	}
	return out
}

// memberRoles remaps a member's role list, dropping everyone and any role
// that is not live in the target
func (m *remapper) memberRoles(old []string, live map[string]bool) []string {
	out := make([]string, 0, len(old))
	seen := make(map[string]bool, len(old))
	for _, id := range old {
		if m.isSourceEveryone(id) {
			continue
		}
		newID, ok := m.roles[id]
		if !ok || !live[newID] || newID == m.targetEveryone || seen[newID] {
			continue
		}
		seen[newID] = true
		out = append(out, newID)
	}
	return out
}

// matchRoles maps backup roles to existing target roles with the same name.
// Each target role is claimed at most once.
func (m *remapper) matchRoles(backupRoles, targetRoles []guild.RoleRecord) int {
	byName := make(map[string][]string)
	for _, r := range targetRoles {
		if r.Everyone || r.ID == m.targetEveryone {
			continue
		}
		byName[r.Name] = append(byName[r.Name], r.ID)
	}

	matched := 0
	for _, r := range sortRoles(backupRoles) {
		if m.isSourceEveryone(r.ID) || r.Everyone {
			continue
		}
		if _, done := m.roles[r.ID]; done {
			continue
		}
		candidates := byName[r.Name]
		if len(candidates) == 0 {
			continue
		}
		m.roles[r.ID] = candidates[0]
		byName[r.Name] = candidates[1:]
		matched++
	}
	return matched
}

type channelKey struct {
	name string
	typ  guild.ChannelType
}

// matchChannels maps backup channels to existing target channels with the
// same name and type
func (m *remapper) matchChannels(backupChannels, targetChannels []guild.ChannelRecord) int {
	byKey := make(map[channelKey][]string)
	for _, c := range targetChannels {
		k := channelKey{c.Name, c.Type}
		byKey[k] = append(byKey[k], c.ID)
	}

	matched := 0
	for _, c := range sortChannels(backupChannels) {
		if _, done := m.channels[c.ID]; done {
			continue
		}
		k := channelKey{c.Name, c.Type}
		candidates := byKey[k]
		if len(candidates) == 0 {
			continue
		}
		m.channels[c.ID] = candidates[0]
		byKey[k] = candidates[1:]
		matched++
	}
	return matched
}

func (m *remapper) roleTable() map[string]string {
	out := make(map[string]string, len(m.roles))
	for k, v := range m.roles {
		out[k] = v
	}
	return out
}

func (m *remapper) channelTable() map[string]string {
	out := make(map[string]string, len(m.channels))
	for k, v := range m.channels {
		out[k] = v
	}
	return out
}
