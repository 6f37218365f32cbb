// Package restore replays a backup document onto a live space. It owns the
// load session lifecycle, the per-target single-flight registry and the
// phased orchestrator that remaps identifiers between the two namespaces.
package restore

import (
	"fmt"
	"sort"
	"strings"

	"guild-backup/internal/backup"
)

// Action is one operator-selectable unit of restore work
type Action string

const (
	ActionDeleteRoles    Action = "delete_roles"
	ActionLoadRoles      Action = "load_roles"
	ActionDeleteChannels Action = "delete_channels"
	ActionLoadChannels   Action = "load_channels"
	ActionLoadSettings   Action = "load_settings"
	ActionLoadThreads    Action = "load_threads"
	ActionLoadMemberInfo Action = "load_member_info"
	ActionLoadBans       Action = "load_bans"
	ActionLoadMessages   Action = "load_messages"
	// ActionLoadPinned pins replayed messages that were pinned at capture
	// time. It only has an effect together with ActionLoadMessages.
	ActionLoadPinned Action = "load_pinned"
)

// AllActions lists every action in execution order
var AllActions = []Action{
	ActionDeleteRoles,
	ActionLoadRoles,
	ActionDeleteChannels,
	ActionLoadChannels,
	ActionLoadSettings,
	ActionLoadThreads,
	ActionLoadMemberInfo,
	ActionLoadBans,
	ActionLoadMessages,
	ActionLoadPinned,
}

var actionOrder = func() map[Action]int {
	m := make(map[Action]int, len(AllActions))
	for i, a := range AllActions {
		m[a] = i
	}
	return m
}()

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	_, ok := actionOrder[a]
	return ok
}

// ActionSet is a set of selected actions
type ActionSet map[Action]bool

// DefaultActions selects every action
func DefaultActions() ActionSet {
	set := make(ActionSet, len(AllActions))
	for _, a := range AllActions {
		set[a] = true
	}
	return set
}

// NewActionSet builds a set from the given actions
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

// ParseActions parses a comma separated list. "all" selects everything and
// "none" or an empty string selects nothing.
func ParseActions(s string) (ActionSet, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "all":
		return DefaultActions(), nil
	case "", "none":
		return ActionSet{}, nil
	}

	set := ActionSet{}
	var errs backup.ValidationErrors
	for _, part := range strings.Split(s, ",") {
		a := Action(strings.ToLower(strings.TrimSpace(part)))
		if a == "" {
			continue
		}
		if !a.Valid() {
			errs.Add("actions", fmt.Sprintf("unknown action %q", part), part)
			continue
		}
		set[a] = true
	}
	if errs.HasErrors() {
		return nil, errs
	}
	return set, nil
}

// Has reports whether a is selected
func (s ActionSet) Has(a Action) bool {
	return s[a]
}

// List returns the selected actions in execution order
func (s ActionSet) List() []Action {
	out := make([]Action, 0, len(s))
	for a, on := range s {
		if on && a.Valid() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return actionOrder[out[i]] < actionOrder[out[j]] })
	return out
}

// Clone returns an independent copy
func (s ActionSet) Clone() ActionSet {
	out := make(ActionSet, len(s))
	for a, on := range s {
		if on {
			out[a] = true
		}
	}
	return out
}

func (s ActionSet) String() string {
	list := s.List()
	if len(list) == 0 {
		return "none"
	}
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}
