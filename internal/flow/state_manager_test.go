package flow

import (
	"context"
	"testing"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/session"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

func newStateManager(t *testing.T) (*StateManager, *store.InMemoryStore, *session.Store) {
	t.Helper()
	st := store.NewInMemoryStore()
	sessions := session.NewStore()
	return NewStateManager(st, sessions), st, sessions
}

func TestStateManagerBeginReplacesPriorFlow(t *testing.T) {
	m, _, _ := newStateManager(t)
	ctx := context.Background()

	if err := m.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	m.Set(actor, models.DataKeyFullname, "Anna")

	if err := m.Begin(ctx, actor, models.FlowTypeCheck, models.StateSmartCheckInput); err != nil {
		t.Fatalf("second Begin failed: %v", err)
	}

	st, err := m.Active(ctx, actor)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if st.FlowType != models.FlowTypeCheck {
		t.Errorf("flow type %s", st.FlowType)
	}
	if v := m.Get(actor, models.DataKeyFullname); v != "" {
		t.Errorf("prior flow data must be gone, got %q", v)
	}
}

func TestStateManagerBeginPreservesListedKeys(t *testing.T) {
	m, _, _ := newStateManager(t)
	ctx := context.Background()

	if err := m.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	m.Set(actor, models.DataKeyPhotoFileID, "ph-1")
	m.Set(actor, models.DataKeyFullname, "Anna")

	err := m.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname, models.DataKeyPhotoFileID)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if v := m.Get(actor, models.DataKeyPhotoFileID); v != "ph-1" {
		t.Errorf("preserved key lost, got %q", v)
	}
	if v := m.Get(actor, models.DataKeyFullname); v != "" {
		t.Errorf("unlisted key survived: %q", v)
	}
}

func TestStateManagerActiveRestoresLostSession(t *testing.T) {
	m, st, sessions := newStateManager(t)
	ctx := context.Background()

	if err := m.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	m.Set(actor, models.DataKeyFullname, "Anna")
	if err := m.Transition(ctx, actor, models.StateAddFacebookLink); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	// Simulate an eviction or restart: the session is gone, the persisted
	// snapshot is not.
	sessions.Delete(actor)

	active, err := m.Active(ctx, actor)
	if err != nil {
		t.Fatalf("Active failed: %v", err)
	}
	if active == nil || active.CurrentState != models.StateAddFacebookLink {
		t.Fatalf("expected restored state, got %+v", active)
	}
	if v := m.Get(actor, models.DataKeyFullname); v != "Anna" {
		t.Errorf("session not restored from snapshot, got %q", v)
	}

	// The restored flow keeps working against the store.
	if err := m.Transition(ctx, actor, models.StateAddReview); err != nil {
		t.Fatalf("Transition after restore failed: %v", err)
	}
	persisted, _ := st.GetFlowState(ctx, actor)
	if persisted.CurrentState != models.StateAddReview {
		t.Errorf("persisted state %s", persisted.CurrentState)
	}
}

func TestStateManagerTransitionWithoutFlow(t *testing.T) {
	m, _, _ := newStateManager(t)

	err := m.Transition(context.Background(), actor, models.StateAddReview)
	if err == nil {
		t.Fatal("expected an error for a transition with no active flow")
	}
}

func TestStateManagerClearPreserve(t *testing.T) {
	m, st, sessions := newStateManager(t)
	ctx := context.Background()

	if err := m.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	m.Set(actor, models.DataKeyPhotoFileID, "ph-1")
	m.Set(actor, models.DataKeyFullname, "Anna")

	if err := m.Clear(ctx, actor, models.DataKeyPhotoFileID); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if persisted, _ := st.GetFlowState(ctx, actor); persisted != nil {
		t.Errorf("persisted state must be deleted, got %+v", persisted)
	}
	if v := m.Get(actor, models.DataKeyPhotoFileID); v != "ph-1" {
		t.Errorf("preserved key lost, got %q", v)
	}
	if v := m.Get(actor, models.DataKeyFullname); v != "" {
		t.Errorf("unlisted key survived: %q", v)
	}

	// Full clear drops the session entirely.
	if err := m.Clear(ctx, actor); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if sessions.Exists(actor) {
		t.Error("full clear must drop the session")
	}
}

func TestStateManagerSetIfEmpty(t *testing.T) {
	m, _, _ := newStateManager(t)
	ctx := context.Background()

	if err := m.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	m.Set(actor, models.DataKeyFullname, "Anna")
	m.SetIfEmpty(actor, models.DataKeyFullname, "Overwrite")
	m.SetIfEmpty(actor, models.DataKeyTelegramName, "anna_kv")

	if v := m.Get(actor, models.DataKeyFullname); v != "Anna" {
		t.Errorf("SetIfEmpty overwrote: %q", v)
	}
	if v := m.Get(actor, models.DataKeyTelegramName); v != "anna_kv" {
		t.Errorf("SetIfEmpty skipped an empty key: %q", v)
	}
}
