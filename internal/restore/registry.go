package restore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"guild-backup/internal/backup"
	"guild-backup/internal/logging"
)

// ActiveRestoreState is the live progress of the single restore allowed per target
type ActiveRestoreState struct {
	TargetID        string    `json:"targetId"`
	OperatorID      string    `json:"operatorId"`
	BackupID        string    `json:"backupId"`
	Actions         ActionSet `json:"actions"`
	StartedAt       time.Time `json:"startedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	CancelRequested bool      `json:"cancelRequested"`
	Phase           Phase     `json:"phase,omitempty"`
	Processed       int       `json:"processed"`
}

func (s ActiveRestoreState) clone() ActiveRestoreState {
	s.Actions = s.Actions.Clone()
	return s
}

// RegistryStore holds active restore states. Create is the single-flight
// gate and must fail with a CONFLICT error when the target already has an
// entry. A cancel flag, once set, must survive later Saves.
type RegistryStore interface {
	Create(state ActiveRestoreState) error
	Load(targetID string) (ActiveRestoreState, bool, error)
	Save(state ActiveRestoreState) error
	Cancel(targetID string) (bool, error)
	Remove(targetID string) error
	List() ([]ActiveRestoreState, error)
}

// MemoryRegistryStore keeps states in process memory
type MemoryRegistryStore struct {
	mu     sync.Mutex
	states map[string]ActiveRestoreState
}

// NewMemoryRegistryStore creates an empty store
func NewMemoryRegistryStore() *MemoryRegistryStore {
	return &MemoryRegistryStore{states: make(map[string]ActiveRestoreState)}
}

func (m *MemoryRegistryStore) Create(state ActiveRestoreState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state.TargetID]; ok {
		return conflictFor(state.TargetID)
	}
	m.states[state.TargetID] = state.clone()
	return nil
}

func (m *MemoryRegistryStore) Load(targetID string) (ActiveRestoreState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[targetID]
	if !ok {
		return ActiveRestoreState{}, false, nil
	}
	return s.clone(), true, nil
}

func (m *MemoryRegistryStore) Save(state ActiveRestoreState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.states[state.TargetID]
	if !ok {
		return notActiveFor(state.TargetID)
	}
	state.CancelRequested = state.CancelRequested || existing.CancelRequested
	m.states[state.TargetID] = state.clone()
	return nil
}

func (m *MemoryRegistryStore) Cancel(targetID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[targetID]
	if !ok {
		return false, nil
	}
	s.CancelRequested = true
	m.states[targetID] = s
	return true, nil
}

func (m *MemoryRegistryStore) Remove(targetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, targetID)
	return nil
}

func (m *MemoryRegistryStore) List() ([]ActiveRestoreState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveRestoreState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.clone())
	}
	return out, nil
}

// Registry guards targets against concurrent restores and carries their
// progress and cancellation flag
type Registry struct {
	mu     sync.Mutex
	store  RegistryStore
	logger *logging.Logger
	now    func() time.Time
}

// NewRegistry creates a registry. A nil store uses process memory.
func NewRegistry(store RegistryStore, logger *logging.Logger) *Registry {
	if store == nil {
		store = NewMemoryRegistryStore()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{store: store, logger: logger, now: time.Now}
}

// Start admits a restore for targetID. It fails with a CONFLICT error, and
// leaves the existing entry untouched, when one is already running.
func (r *Registry) Start(targetID, operatorID, backupID string, actions ActionSet) (*ActiveRestoreState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	state := ActiveRestoreState{
		TargetID:   targetID,
		OperatorID: operatorID,
		BackupID:   backupID,
		Actions:    actions.Clone(),
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.Create(state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Get returns the active state of targetID
func (r *Registry) Get(targetID string) (*ActiveRestoreState, error) {
	state, ok, err := r.store.Load(targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to load restore state: %w", err)
	}
	if !ok {
		return nil, notActiveFor(targetID)
	}
	return &state, nil
}

// Update applies patch to the active state of targetID
func (r *Registry) Update(targetID string, patch func(*ActiveRestoreState)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok, err := r.store.Load(targetID)
	if err != nil {
		return fmt.Errorf("failed to load restore state: %w", err)
	}
	if !ok {
		return notActiveFor(targetID)
	}
	patch(&state)
	state.TargetID = targetID
	state.UpdatedAt = r.now()
	return r.store.Save(state)
}

// RequestCancel flags the restore on targetID for cancellation. It reports
// false when no restore is active.
func (r *Registry) RequestCancel(targetID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, err := r.store.Cancel(targetID)
	if err != nil {
		return false, fmt.Errorf("failed to request cancellation: %w", err)
	}
	if ok {
		r.logger.WithField("target_id", targetID).Info("Restore cancellation requested")
	}
	return ok, nil
}

// CancelRequested reports whether the restore on targetID should stop
func (r *Registry) CancelRequested(targetID string) bool {
	state, ok, err := r.store.Load(targetID)
	if err != nil {
		r.logger.WithField("target_id", targetID).Warnf("Failed to read cancellation flag: %v", err)
		return false
	}
	return ok && state.CancelRequested
}

// Finish releases targetID
func (r *Registry) Finish(targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Remove(targetID)
}

// List returns every active restore ordered by start time
func (r *Registry) List() ([]ActiveRestoreState, error) {
	states, err := r.store.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].StartedAt.Equal(states[j].StartedAt) {
			return states[i].TargetID < states[j].TargetID
		}
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states, nil
}

func conflictFor(targetID string) error {
	return backup.NewConflictError(fmt.Sprintf("a restore is already running on %s", targetID), nil).
		WithContext("target_id", targetID)
}

func notActiveFor(targetID string) error {
	return backup.NewNotFoundError(fmt.Sprintf("no restore is running on %s", targetID), nil).
		WithContext("target_id", targetID)
}
