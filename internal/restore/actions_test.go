package restore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActions(t *testing.T) {
	tests := []struct {
		input   string
		want    []Action
		wantErr bool
	}{
		{input: "all", want: AllActions},
		{input: "", want: []Action{}},
		{input: "none", want: []Action{}},
		{input: "load_roles,load_channels", want: []Action{ActionLoadRoles, ActionLoadChannels}},
		{input: " LOAD_MESSAGES , load_pinned ,", want: []Action{ActionLoadMessages, ActionLoadPinned}},
		{input: "load_messages,delete_roles", want: []Action{ActionDeleteRoles, ActionLoadMessages}},
		{input: "load_roles,drop_tables", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseActions(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.List())
		})
	}
}

func TestActionSet(t *testing.T) {
	set := NewActionSet(ActionLoadBans, ActionDeleteRoles)
	assert.True(t, set.Has(ActionLoadBans))
	assert.False(t, set.Has(ActionLoadRoles))
	assert.Equal(t, "delete_roles,load_bans", set.String())
	assert.Equal(t, "none", ActionSet{}.String())

	clone := set.Clone()
	clone[ActionLoadRoles] = true
	assert.False(t, set.Has(ActionLoadRoles))

	assert.Len(t, DefaultActions().List(), len(AllActions))
}
