// Package models defines state management structures for lead flows.
package models

import "time"

// FlowState represents the current position of an actor in a flow.
// At most one FlowState is active per actor at any time.
type FlowState struct {
	ActorID      int64             `json:"actor_id"`
	FlowType     FlowType          `json:"flow_type"`
	CurrentState StateType         `json:"current_state"`
	StateData    map[string]string `json:"state_data,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Get returns the state data value for key, or "" when unset.
func (s *FlowState) Get(key DataKey) string {
	if s == nil || s.StateData == nil {
		return ""
	}
	return s.StateData[string(key)]
}

// Set stores a state data value, allocating the map on first use.
func (s *FlowState) Set(key DataKey, value string) {
	if s.StateData == nil {
		s.StateData = make(map[string]string)
	}
	s.StateData[string(key)] = value
}

// Delete removes a state data value.
func (s *FlowState) Delete(key DataKey) {
	if s.StateData != nil {
		delete(s.StateData, string(key))
	}
}
