package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/session"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// StateManager owns the one-active-flow-per-actor invariant. The working
// field values live in the session store; the flow position and a snapshot of
// the values are persisted through the record store so an active flow
// survives a restart.
type StateManager struct {
	store    store.Store
	sessions *session.Store
	now      func() time.Time
}

// NewStateManager creates a state manager over the given store and session
// store.
func NewStateManager(s store.Store, sessions *session.Store) *StateManager {
	return &StateManager{store: s, sessions: sessions, now: time.Now}
}

// Active returns the actor's current flow state, or nil when idle. When the
// session was lost (restart, eviction) but a persisted flow state exists, the
// session is restored from the snapshot.
func (m *StateManager) Active(ctx context.Context, actor int64) (*models.FlowState, error) {
	st, err := m.store.GetFlowState(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if st == nil {
		return nil, nil
	}
	if !m.sessions.Exists(actor) {
		slog.Debug("StateManager restoring session from persisted flow state", "actor", actor, "flowType", st.FlowType)
		m.sessions.Begin(actor)
		for k, v := range st.StateData {
			m.sessions.Set(actor, k, v)
		}
	}
	return st, nil
}

// Begin starts a new flow for the actor, clearing any prior flow and session
// data first. Preserve lists session keys carried over, which is how a cached
// photo reference survives flow re-initialization.
func (m *StateManager) Begin(ctx context.Context, actor int64, ft models.FlowType, state models.StateType, preserve ...models.DataKey) error {
	keys := make([]string, len(preserve))
	for i, k := range preserve {
		keys[i] = string(k)
	}
	m.sessions.Begin(actor, keys...)

	now := m.now()
	st := models.FlowState{
		ActorID:      actor,
		FlowType:     ft,
		CurrentState: state,
		StateData:    m.sessions.Values(actor),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.SaveFlowState(ctx, st); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Debug("StateManager began flow", "actor", actor, "flowType", ft, "state", state)
	return nil
}

// Transition moves the actor's active flow to a new state and snapshots the
// current session values.
func (m *StateManager) Transition(ctx context.Context, actor int64, state models.StateType) error {
	st, err := m.store.GetFlowState(ctx, actor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if st == nil {
		return ErrSessionExpired
	}
	st.CurrentState = state
	st.StateData = m.sessions.Values(actor)
	st.UpdatedAt = m.now()
	if err := m.store.SaveFlowState(ctx, *st); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Debug("StateManager transitioned", "actor", actor, "state", state)
	return nil
}

// Get returns a session field value, or "" when unset.
func (m *StateManager) Get(actor int64, key models.DataKey) string {
	v, _ := m.sessions.Get(actor, string(key))
	return v
}

// Set stores a session field value.
func (m *StateManager) Set(actor int64, key models.DataKey, value string) {
	m.sessions.Set(actor, string(key), value)
}

// SetIfEmpty stores a value only when the field is currently empty. The
// forwarded-message merge never overwrites collected data.
func (m *StateManager) SetIfEmpty(actor int64, key models.DataKey, value string) {
	m.sessions.SetIfEmpty(actor, string(key), value)
}

// Unset removes a session field value.
func (m *StateManager) Unset(actor int64, key models.DataKey) {
	m.sessions.Unset(actor, string(key))
}

// Clear ends the actor's flow, dropping the persisted state and the session.
// Preserve lists session keys that survive, such as the photo reference.
func (m *StateManager) Clear(ctx context.Context, actor int64, preserve ...models.DataKey) error {
	if len(preserve) > 0 {
		keys := make([]string, len(preserve))
		for i, k := range preserve {
			keys[i] = string(k)
		}
		m.sessions.Begin(actor, keys...)
	} else {
		m.sessions.Delete(actor)
	}
	if err := m.store.DeleteFlowState(ctx, actor); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Debug("StateManager cleared flow", "actor", actor, "preserved", len(preserve))
	return nil
}
