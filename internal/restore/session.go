package restore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"guild-backup/internal/backup"
	"guild-backup/internal/metrics"
)

// DefaultSessionTTL is the sliding lifetime of an idle load session
const DefaultSessionTTL = 20 * time.Minute

// SessionState tracks how far the operator got before confirming
type SessionState string

const (
	SessionCreated     SessionState = "created"
	SessionConfiguring SessionState = "configuring"
	SessionPreflight   SessionState = "preflight"
)

// LoadSession is the pending configuration of a restore
type LoadSession struct {
	ID         string       `json:"id"`
	TargetID   string       `json:"targetId"`
	OperatorID string       `json:"operatorId"`
	BackupID   string       `json:"backupId"`
	Actions    ActionSet    `json:"actions"`
	State      SessionState `json:"state"`
	CreatedAt  time.Time    `json:"createdAt"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

func (s LoadSession) clone() LoadSession {
	s.Actions = s.Actions.Clone()
	return s
}

// SessionStore persists load sessions
type SessionStore interface {
	Save(session LoadSession) error
	Load(id string) (LoadSession, bool, error)
	Delete(id string) error
	List() ([]LoadSession, error)
}

// MemorySessionStore keeps sessions in process memory
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]LoadSession
}

// NewMemorySessionStore creates an empty store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]LoadSession)}
}

func (m *MemorySessionStore) Save(session LoadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session.clone()
	return nil
}

func (m *MemorySessionStore) Load(id string) (LoadSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return LoadSession{}, false, nil
	}
	return s.clone(), true, nil
}

func (m *MemorySessionStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemorySessionStore) List() ([]LoadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LoadSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.clone())
	}
	return out, nil
}

// SessionManager owns the load session lifecycle
type SessionManager struct {
	mu      sync.Mutex
	store   SessionStore
	ttl     time.Duration
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSessionManager creates a manager. A nil store uses process memory and a
// non-positive ttl uses DefaultSessionTTL.
func NewSessionManager(store SessionStore, ttl time.Duration, m *metrics.Metrics) *SessionManager {
	if store == nil {
		store = NewMemorySessionStore()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{store: store, ttl: ttl, metrics: m, now: time.Now}
}

// Create opens a session for restoring backupID onto targetID. A nil action
// set selects every action.
func (sm *SessionManager) Create(targetID, operatorID, backupID string, actions ActionSet) (string, error) {
	if targetID == "" {
		return "", backup.NewValidationError("target ID is required", nil)
	}
	if !backup.ValidID(backupID) {
		return "", backup.NewValidationError(fmt.Sprintf("invalid backup ID %q", backupID), nil)
	}
	if actions == nil {
		actions = DefaultActions()
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sweepLocked()

	now := sm.now()
	session := LoadSession{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		OperatorID: operatorID,
		BackupID:   backup.NormalizeID(backupID),
		Actions:    actions.Clone(),
		State:      SessionCreated,
		CreatedAt:  now,
		ExpiresAt:  now.Add(sm.ttl),
	}
	if err := sm.store.Save(session); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	sm.publishLocked()
	return session.ID, nil
}

// Get returns a copy of the session and extends its lifetime
func (sm *SessionManager) Get(sessionID string) (*LoadSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	session, err := sm.touchLocked(sessionID, nil)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateActions replaces the selected actions
func (sm *SessionManager) UpdateActions(sessionID string, actions ActionSet) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, err := sm.touchLocked(sessionID, func(s *LoadSession) {
		s.Actions = actions.Clone()
		s.State = SessionConfiguring
	})
	return err
}

// MarkPreflight records that a forecast was shown for the session
func (sm *SessionManager) MarkPreflight(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	_, err := sm.touchLocked(sessionID, func(s *LoadSession) {
		s.State = SessionPreflight
	})
	return err
}

// Delete removes the session. Deleting a missing session is not an error.
func (sm *SessionManager) Delete(sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	err := sm.store.Delete(sessionID)
	sm.publishLocked()
	return err
}

// Sweep removes expired sessions and returns how many were removed
func (sm *SessionManager) Sweep() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.sweepLocked()
}

// Run sweeps every interval until ctx ends
func (sm *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.Sweep()
		}
	}
}

// touchLocked loads a live session, applies patch and slides its expiry
func (sm *SessionManager) touchLocked(sessionID string, patch func(*LoadSession)) (LoadSession, error) {
	sm.sweepLocked()

	session, ok, err := sm.store.Load(sessionID)
	if err != nil {
		return LoadSession{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok {
		return LoadSession{}, backup.NewNotFoundError(fmt.Sprintf("session %s not found or expired", sessionID), nil)
	}

	if patch != nil {
		patch(&session)
	}
	session.ExpiresAt = sm.now().Add(sm.ttl)
	if err := sm.store.Save(session); err != nil {
		return LoadSession{}, fmt.Errorf("failed to save session: %w", err)
	}
	return session.clone(), nil
}

func (sm *SessionManager) sweepLocked() int {
	sessions, err := sm.store.List()
	if err != nil {
		return 0
	}
	now := sm.now()
	removed := 0
	for _, s := range sessions {
		if !now.Before(s.ExpiresAt) {
			if sm.store.Delete(s.ID) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		sm.publishLocked()
	}
	return removed
}

func (sm *SessionManager) publishLocked() {
	if sm.metrics == nil {
		return
	}
	if sessions, err := sm.store.List(); err == nil {
		sm.metrics.SetSessions(len(sessions))
	}
}
