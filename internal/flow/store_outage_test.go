package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// outageStore wraps the in-memory store with switchable failures so tests can
// take the backend down mid-flow.
type outageStore struct {
	*store.InMemoryStore
	failSelect bool
	failInsert bool
	failUpdate bool
}

var errStoreDown = errors.New("connection refused")

func (s *outageStore) SelectLeads(ctx context.Context, f store.Filter) ([]models.Lead, error) {
	if s.failSelect {
		return nil, errStoreDown
	}
	return s.InMemoryStore.SelectLeads(ctx, f)
}

func (s *outageStore) InsertLead(ctx context.Context, lead models.Lead) (*models.Lead, error) {
	if s.failInsert {
		return nil, errStoreDown
	}
	return s.InMemoryStore.InsertLead(ctx, lead)
}

func (s *outageStore) UpdateLead(ctx context.Context, id int64, patch models.LeadPatch) (*models.Lead, error) {
	if s.failUpdate {
		return nil, errStoreDown
	}
	return s.InMemoryStore.UpdateLead(ctx, id, patch)
}

// newOutageEnv builds a test env whose store can be failed per operation.
func newOutageEnv(t *testing.T) (*testEnv, *outageStore) {
	t.Helper()
	e := newTestEnv(t, defaultConfig())
	st := &outageStore{InMemoryStore: e.store}
	e.deps.Store = st
	e.deps.States = NewStateManager(st, e.deps.Sessions)
	e.deps.Unique = NewUniquenessChecker(st)
	e.disp = NewDispatcher(e.deps)
	return e, st
}

func driveAddToReview(t *testing.T, e *testEnv) {
	t.Helper()
	e.text(actor, "/add")
	e.text(actor, "Anna K")
	e.text(actor, "/skip")
	e.text(actor, "@anna_kv")
	e.text(actor, "/skip")
	if st := e.activeState(t, actor); st == nil || st.CurrentState != models.StateAddReview {
		t.Fatalf("expected review state, got %+v", st)
	}
}

func assertFlowEndedWithOutage(t *testing.T, e *testEnv) {
	t.Helper()
	if st := e.activeState(t, actor); st != nil {
		t.Errorf("store failure must end the flow, got %+v", st)
	}
	if e.deps.Sessions.Exists(actor) {
		t.Error("store failure must clear the session")
	}
	if last := e.msg.lastText(t); !strings.Contains(last, "Storage is temporarily unavailable") {
		t.Errorf("expected outage message, got %q", last)
	}
	if kb := e.msg.lastKeyboard(t); len(kb) == 0 {
		t.Error("expected the main menu after the flow ends")
	}
}

func TestAddFlowUniquenessOutageEndsFlow(t *testing.T) {
	e, st := newOutageEnv(t)

	driveAddToReview(t, e)
	st.failSelect = true
	e.pressButton(t, actor, "Save")

	assertFlowEndedWithOutage(t, e)
	st.failSelect = false
	if len(e.allLeads(t)) != 0 {
		t.Error("nothing must be saved during an outage")
	}
}

func TestAddFlowInsertOutageEndsFlow(t *testing.T) {
	e, st := newOutageEnv(t)

	driveAddToReview(t, e)
	st.failInsert = true
	e.pressButton(t, actor, "Save")

	assertFlowEndedWithOutage(t, e)
	if len(e.allLeads(t)) != 0 {
		t.Error("nothing must be saved during an outage")
	}
}

func TestEditFlowUpdateOutageEndsFlow(t *testing.T) {
	e, st := newOutageEnv(t)
	seedLeads(t, e, models.Lead{Fullname: "Anna", TelegramName: "anna"})

	startEdit(t, e, "1")
	e.pressButton(t, actor, "Telegram username")
	e.text(actor, "@anna_new")
	st.failUpdate = true
	e.pressButton(t, actor, "Save")

	assertFlowEndedWithOutage(t, e)
	st.failUpdate = false
	lead, _ := e.store.GetLead(context.Background(), 1)
	if lead.TelegramName != "anna" {
		t.Errorf("failed update must leave the record untouched: %+v", lead)
	}
}
