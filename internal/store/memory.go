package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
)

// InMemoryStore is an in-memory Store implementation used for tests and
// DSN-less runs. All operations are safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	leads      map[int64]models.Lead
	flowStates map[int64]models.FlowState
	nextID     int64
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("Creating new in-memory store")
	return &InMemoryStore{
		leads:      make(map[int64]models.Lead),
		flowStates: make(map[int64]models.FlowState),
		nextID:     1,
	}
}

func (s *InMemoryStore) matches(l models.Lead, f Filter) bool {
	var v string
	switch f.Field {
	case "fullname":
		v = l.Fullname
	case "facebook_link":
		v = l.FacebookLink
	case "telegram_name":
		v = l.TelegramName
	case "telegram_id":
		v = l.TelegramID
	case "manager_name":
		v = l.ManagerName
	case "manager_tag":
		v = l.ManagerTag
	}
	switch f.Op {
	case OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(f.Value))
	default:
		return v == f.Value
	}
}

// SelectLeads returns leads matching a single-column filter.
func (s *InMemoryStore) SelectLeads(ctx context.Context, f Filter) ([]models.Lead, error) {
	if !validLeadColumn(f.Field) {
		return nil, fmt.Errorf("invalid filter column: %s", f.Field)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var leads []models.Lead
	for _, l := range s.leads {
		if s.matches(l, f) {
			leads = append(leads, l)
		}
	}
	sort.Slice(leads, func(i, j int) bool {
		if f.OrderDesc {
			return leads[i].CreatedAt.After(leads[j].CreatedAt)
		}
		return leads[i].ID < leads[j].ID
	})
	if f.Limit > 0 && len(leads) > f.Limit {
		leads = leads[:f.Limit]
	}
	return leads, nil
}

// GetLead returns a lead by id, or (nil, nil) when absent.
func (s *InMemoryStore) GetLead(ctx context.Context, id int64) (*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// InsertLead creates a lead and returns it with its assigned id.
func (s *InMemoryStore) InsertLead(ctx context.Context, lead models.Lead) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead.ID = s.nextID
	s.nextID++
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Now()
	}
	s.leads[lead.ID] = lead
	slog.Debug("InMemoryStore InsertLead", "id", lead.ID)
	return &lead, nil
}

// UpdateLead applies a partial update and returns the fresh record.
func (s *InMemoryStore) UpdateLead(ctx context.Context, id int64, patch models.LeadPatch) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return nil, fmt.Errorf("lead %d not found", id)
	}
	apply := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&l.Fullname, patch.Fullname)
	apply(&l.FacebookLink, patch.FacebookLink)
	apply(&l.TelegramName, patch.TelegramName)
	apply(&l.TelegramID, patch.TelegramID)
	apply(&l.ManagerName, patch.ManagerName)
	apply(&l.ManagerTag, patch.ManagerTag)
	apply(&l.PhotoURL, patch.PhotoURL)
	s.leads[id] = l
	return &l, nil
}

// DistinctManagerNames returns the sorted set of non-empty manager names.
func (s *InMemoryStore) DistinctManagerNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	for _, l := range s.leads {
		if l.ManagerName != "" {
			seen[l.ManagerName] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// CountByManager returns the number of leads owned by a manager.
func (s *InMemoryStore) CountByManager(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, l := range s.leads {
		if l.ManagerName == name {
			count++
		}
	}
	return count, nil
}

// ManagerTagByName returns a manager's current tag, or "" when unknown.
func (s *InMemoryStore) ManagerTagByName(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.leads {
		if l.ManagerName == name && l.ManagerTag != "" {
			return l.ManagerTag, nil
		}
	}
	return "", nil
}

// UpdateManagerTag sets the tag on every lead owned by the manager.
func (s *InMemoryStore) UpdateManagerTag(ctx context.Context, name, tag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for id, l := range s.leads {
		if l.ManagerName == name {
			l.ManagerTag = tag
			s.leads[id] = l
			affected++
		}
	}
	return affected, nil
}

// TransferManagerLeads reassigns every lead of manager from to manager to.
func (s *InMemoryStore) TransferManagerLeads(ctx context.Context, from, to, toTag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for id, l := range s.leads {
		if l.ManagerName == from {
			l.ManagerName = to
			l.ManagerTag = toTag
			s.leads[id] = l
			affected++
		}
	}
	return affected, nil
}

// SaveFlowState stores or replaces the actor's flow state.
func (s *InMemoryStore) SaveFlowState(ctx context.Context, state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.StateData != nil {
		data := make(map[string]string, len(state.StateData))
		for k, v := range state.StateData {
			data[k] = v
		}
		state.StateData = data
	}
	s.flowStates[state.ActorID] = state
	return nil
}

// GetFlowState retrieves the actor's flow state, or (nil, nil) when absent.
func (s *InMemoryStore) GetFlowState(ctx context.Context, actor int64) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.flowStates[actor]
	if !ok {
		return nil, nil
	}
	if st.StateData != nil {
		data := make(map[string]string, len(st.StateData))
		for k, v := range st.StateData {
			data[k] = v
		}
		st.StateData = data
	}
	return &st, nil
}

// DeleteFlowState removes the actor's flow state.
func (s *InMemoryStore) DeleteFlowState(ctx context.Context, actor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, actor)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
