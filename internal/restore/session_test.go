package restore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-backup/internal/backup"
)

const testBackupID = "ABCDEFGHJKLM"

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedSessions() (*SessionManager, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	sm := NewSessionManager(nil, 0, nil)
	sm.now = clock.now
	return sm, clock
}

func TestSessionManager_CreateAndGet(t *testing.T) {
	sm, clock := newClockedSessions()

	id, err := sm.Create("space-1", "op-1", "abcdefghjklm", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	s, err := sm.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "space-1", s.TargetID)
	assert.Equal(t, "op-1", s.OperatorID)
	assert.Equal(t, testBackupID, s.BackupID)
	assert.Equal(t, SessionCreated, s.State)
	assert.Equal(t, AllActions, s.Actions.List())
	assert.Equal(t, clock.t.Add(DefaultSessionTTL), s.ExpiresAt)

	s.Actions[ActionLoadBans] = false
	again, err := sm.Get(id)
	require.NoError(t, err)
	assert.True(t, again.Actions.Has(ActionLoadBans), "Get must return a copy")
}

func TestSessionManager_CreateValidation(t *testing.T) {
	sm, _ := newClockedSessions()

	_, err := sm.Create("", "op", testBackupID, nil)
	assert.Error(t, err)

	_, err = sm.Create("space-1", "op", "not-an-id", nil)
	assert.Error(t, err)
}

func TestSessionManager_SlidingTTL(t *testing.T) {
	sm, clock := newClockedSessions()
	id, err := sm.Create("space-1", "op", testBackupID, nil)
	require.NoError(t, err)

	clock.advance(15 * time.Minute)
	_, err = sm.Get(id)
	require.NoError(t, err)

	clock.advance(15 * time.Minute)
	_, err = sm.Get(id)
	require.NoError(t, err, "the previous access extended the lifetime")

	clock.advance(DefaultSessionTTL)
	_, err = sm.Get(id)
	assert.True(t, backup.IsNotFound(err))
}

func TestSessionManager_UpdateAndPreflight(t *testing.T) {
	sm, _ := newClockedSessions()
	id, err := sm.Create("space-1", "op", testBackupID, nil)
	require.NoError(t, err)

	require.NoError(t, sm.UpdateActions(id, NewActionSet(ActionLoadRoles)))
	s, err := sm.Get(id)
	require.NoError(t, err)
	assert.Equal(t, SessionConfiguring, s.State)
	assert.Equal(t, []Action{ActionLoadRoles}, s.Actions.List())

	require.NoError(t, sm.MarkPreflight(id))
	s, err = sm.Get(id)
	require.NoError(t, err)
	assert.Equal(t, SessionPreflight, s.State)

	assert.True(t, backup.IsNotFound(sm.UpdateActions("missing", nil)))
}

func TestSessionManager_DeleteAndSweep(t *testing.T) {
	sm, clock := newClockedSessions()
	first, err := sm.Create("space-1", "op", testBackupID, nil)
	require.NoError(t, err)

	clock.advance(10 * time.Minute)
	second, err := sm.Create("space-2", "op", testBackupID, nil)
	require.NoError(t, err)

	require.NoError(t, sm.Delete(first))
	_, err = sm.Get(first)
	assert.True(t, backup.IsNotFound(err))

	clock.advance(DefaultSessionTTL)
	assert.Equal(t, 1, sm.Sweep())
	assert.Equal(t, 0, sm.Sweep())
	_, err = sm.Get(second)
	assert.True(t, backup.IsNotFound(err))
}
