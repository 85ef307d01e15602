package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// failingStore wraps the in-memory store and fails SelectLeads on demand.
type failingStore struct {
	*store.InMemoryStore
	fail bool
}

func (s *failingStore) SelectLeads(ctx context.Context, f store.Filter) ([]models.Lead, error) {
	if s.fail {
		return nil, errors.New("connection refused")
	}
	return s.InMemoryStore.SelectLeads(ctx, f)
}

func TestUniquenessConflict(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	st.InsertLead(ctx, models.Lead{Fullname: "Anna", TelegramName: "anna"})
	c := NewUniquenessChecker(st)

	conflict, err := c.CheckFields(ctx, map[models.DataKey]string{
		models.DataKeyTelegramName: "anna",
	}, 0)
	if err != nil {
		t.Fatalf("CheckFields failed: %v", err)
	}
	if conflict != string(models.DataKeyTelegramName) {
		t.Errorf("conflict %q", conflict)
	}

	conflict, err = c.CheckFields(ctx, map[models.DataKey]string{
		models.DataKeyTelegramName: "someone_else",
	}, 0)
	if err != nil || conflict != "" {
		t.Errorf("free fields flagged: %q, %v", conflict, err)
	}
}

func TestUniquenessExcludesOwnRecord(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	lead, _ := st.InsertLead(ctx, models.Lead{Fullname: "Anna", TelegramName: "anna"})
	c := NewUniquenessChecker(st)

	conflict, err := c.CheckFields(ctx, map[models.DataKey]string{
		models.DataKeyTelegramName: "anna",
	}, lead.ID)
	if err != nil {
		t.Fatalf("CheckFields failed: %v", err)
	}
	if conflict != "" {
		t.Errorf("own identifiers must not conflict, got %q", conflict)
	}
}

func TestUniquenessStoreFailureFailsClosed(t *testing.T) {
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore(), fail: true}
	c := NewUniquenessChecker(fs)

	conflict, err := c.CheckFields(context.Background(), map[models.DataKey]string{
		models.DataKeyTelegramName: "anna",
	}, 0)
	if conflict != ConflictUnknown {
		t.Errorf("conflict %q, want %q", conflict, ConflictUnknown)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("err %v", err)
	}
}

func TestUniquenessCachesVerdicts(t *testing.T) {
	fs := &failingStore{InMemoryStore: store.NewInMemoryStore()}
	ctx := context.Background()
	fs.InsertLead(ctx, models.Lead{Fullname: "Anna", TelegramName: "anna"})
	c := NewUniquenessChecker(fs)

	fields := map[models.DataKey]string{models.DataKeyTelegramName: "anna"}
	if _, err := c.CheckFields(ctx, fields, 0); err != nil {
		t.Fatalf("CheckFields failed: %v", err)
	}

	// A cached verdict is served without touching the store.
	fs.fail = true
	conflict, err := c.CheckFields(ctx, fields, 0)
	if err != nil {
		t.Fatalf("cached check failed: %v", err)
	}
	if conflict != string(models.DataKeyTelegramName) {
		t.Errorf("conflict %q", conflict)
	}
}

func TestUniquenessTTLExpiry(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	c := NewUniquenessChecker(st,
		WithUniquenessTTL(time.Minute),
		WithUniquenessClock(func() time.Time { return time.Unix(1000, 0) }),
	)

	fields := map[models.DataKey]string{models.DataKeyTelegramName: "anna"}
	if conflict, _ := c.CheckFields(ctx, fields, 0); conflict != "" {
		t.Fatalf("unexpected conflict %q", conflict)
	}

	// The record appears while the "free" verdict is cached.
	st.InsertLead(ctx, models.Lead{Fullname: "Anna", TelegramName: "anna"})
	if conflict, _ := c.CheckFields(ctx, fields, 0); conflict != "" {
		t.Errorf("cached verdict should still serve, got %q", conflict)
	}

	// Past the TTL the check hits the store again.
	c.now = func() time.Time { return time.Unix(1000+61, 0) }
	conflict, err := c.CheckFields(ctx, fields, 0)
	if err != nil {
		t.Fatalf("CheckFields failed: %v", err)
	}
	if conflict != string(models.DataKeyTelegramName) {
		t.Errorf("expired cache must re-query, got %q", conflict)
	}
}

func TestUniquenessInvalidate(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	c := NewUniquenessChecker(st)

	fields := map[models.DataKey]string{models.DataKeyTelegramName: "anna"}
	if conflict, _ := c.CheckFields(ctx, fields, 0); conflict != "" {
		t.Fatalf("unexpected conflict %q", conflict)
	}

	st.InsertLead(ctx, models.Lead{Fullname: "Anna", TelegramName: "anna"})
	c.Invalidate()

	if conflict, _ := c.CheckFields(ctx, fields, 0); conflict != string(models.DataKeyTelegramName) {
		t.Errorf("invalidated cache must re-query, got %q", conflict)
	}
}

func TestUniquenessCacheKeyOrderInsensitive(t *testing.T) {
	a := cacheKey(map[models.DataKey]string{
		models.DataKeyTelegramName: "anna",
		models.DataKeyTelegramID:   "5551234567",
	}, 0)
	b := cacheKey(map[models.DataKey]string{
		models.DataKeyTelegramID:   "5551234567",
		models.DataKeyTelegramName: "anna",
	}, 0)
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}

	// Empty values do not contribute.
	c := cacheKey(map[models.DataKey]string{
		models.DataKeyTelegramName: "anna",
		models.DataKeyTelegramID:   "5551234567",
		models.DataKeyFacebookLink: "",
	}, 0)
	if a != c {
		t.Errorf("empty value changed the key: %q vs %q", a, c)
	}

	// Different excluded records never share a verdict.
	d := cacheKey(map[models.DataKey]string{models.DataKeyTelegramName: "anna"}, 7)
	e := cacheKey(map[models.DataKey]string{models.DataKeyTelegramName: "anna"}, 8)
	if d == e {
		t.Error("exclude id must be part of the key")
	}
}
