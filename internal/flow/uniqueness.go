package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// DefaultUniquenessTTL bounds how long a uniqueness verdict is reused.
const DefaultUniquenessTTL = 5 * time.Minute

// ConflictUnknown is reported when the store cannot be reached; the save is
// rejected rather than risking a duplicate.
const ConflictUnknown = "unknown"

type uniqueEntry struct {
	conflict string
	expires  time.Time
}

// UniquenessChecker verifies that identifier fields are not already taken by
// another lead. Verdicts are cached per field set for a short TTL so the
// review/save round trip does not query twice.
type UniquenessChecker struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	cache map[string]uniqueEntry
}

// UniqueOption configures a UniquenessChecker.
type UniqueOption func(*UniquenessChecker)

// WithUniquenessTTL overrides the cache TTL.
func WithUniquenessTTL(ttl time.Duration) UniqueOption {
	return func(c *UniquenessChecker) { c.ttl = ttl }
}

// WithUniquenessClock overrides the time source (tests).
func WithUniquenessClock(now func() time.Time) UniqueOption {
	return func(c *UniquenessChecker) { c.now = now }
}

// NewUniquenessChecker creates a checker over the given store.
func NewUniquenessChecker(s store.Store, opts ...UniqueOption) *UniquenessChecker {
	c := &UniquenessChecker{
		store: s,
		ttl:   DefaultUniquenessTTL,
		now:   time.Now,
		cache: make(map[string]uniqueEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cacheKey builds an order-insensitive key over the checked field set.
func cacheKey(fields map[models.DataKey]string, excludeID int64) string {
	parts := make([]string, 0, len(fields)+1)
	for k, v := range fields {
		if v != "" {
			parts = append(parts, string(k)+"="+v)
		}
	}
	sort.Strings(parts)
	return fmt.Sprintf("x%d|%s", excludeID, strings.Join(parts, "|"))
}

// CheckFields returns the name of the first identifier field already taken by
// another lead, or "" when all are free. excludeID skips the record being
// edited. A store failure yields ConflictUnknown with the error; callers must
// treat that as a rejection.
func (c *UniquenessChecker) CheckFields(ctx context.Context, fields map[models.DataKey]string, excludeID int64) (string, error) {
	key := cacheKey(fields, excludeID)
	now := c.now()

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && now.Before(e.expires) {
		c.mu.Unlock()
		slog.Debug("Uniqueness cache hit", "conflict", e.conflict)
		return e.conflict, nil
	}
	c.mu.Unlock()

	conflict := ""
	for _, field := range models.IdentifierFieldKeys {
		value := fields[field]
		if value == "" {
			continue
		}
		leads, err := c.store.SelectLeads(ctx, store.Filter{
			Field: string(field),
			Value: value,
			Op:    store.OpEq,
			Limit: 5,
		})
		if err != nil {
			slog.Error("Uniqueness check store failure", "error", err, "field", field)
			return ConflictUnknown, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, l := range leads {
			if l.ID != excludeID {
				conflict = string(field)
				break
			}
		}
		if conflict != "" {
			// First conflict ends the check; remaining fields are not queried.
			break
		}
	}

	c.mu.Lock()
	c.cache[key] = uniqueEntry{conflict: conflict, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	slog.Debug("Uniqueness check completed", "conflict", conflict, "fields", len(fields))
	return conflict, nil
}

// Invalidate drops every cached verdict. Called after a successful insert or
// update so stale "free" verdicts cannot admit a duplicate.
func (c *UniquenessChecker) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]uniqueEntry)
	c.mu.Unlock()
}
