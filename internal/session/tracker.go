package session

import (
	"log/slog"
	"sync"
)

// MessageTracker records the ephemeral UI messages sent to each actor so
// they can be deleted in bulk when a flow completes, is cancelled, or the
// actor returns to the main menu.
type MessageTracker struct {
	mu sync.Mutex
	// prompts holds add-flow prompt/input messages in send order.
	prompts map[int64][]int64
	// checkResults holds the last check-result batch separately, so a new
	// search can clear the previous results without touching add prompts.
	checkResults map[int64][]int64
}

// NewMessageTracker creates an empty tracker.
func NewMessageTracker() *MessageTracker {
	return &MessageTracker{
		prompts:      make(map[int64][]int64),
		checkResults: make(map[int64][]int64),
	}
}

// TrackPrompt records an ephemeral flow prompt message.
func (t *MessageTracker) TrackPrompt(actor, messageID int64) {
	if messageID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompts[actor] = append(t.prompts[actor], messageID)
}

// TrackCheckResult records a message belonging to the latest check-result
// batch.
func (t *MessageTracker) TrackCheckResult(actor, messageID int64) {
	if messageID == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkResults[actor] = append(t.checkResults[actor], messageID)
}

// DrainPrompts returns and clears the actor's tracked prompts, skipping any
// ids in keep (the final result or menu message survives the drain).
func (t *MessageTracker) DrainPrompts(actor int64, keep ...int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := drain(t.prompts, actor, keep)
	if len(out) > 0 {
		slog.Debug("Message tracker drained prompts", "actor", actor, "count", len(out))
	}
	return out
}

// DrainCheckResults returns and clears the actor's tracked check-result
// messages, skipping any ids in keep.
func (t *MessageTracker) DrainCheckResults(actor int64, keep ...int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := drain(t.checkResults, actor, keep)
	if len(out) > 0 {
		slog.Debug("Message tracker drained check results", "actor", actor, "count", len(out))
	}
	return out
}

// DrainAll returns and clears everything tracked for the actor, skipping any
// ids in keep. Used before showing the main menu.
func (t *MessageTracker) DrainAll(actor int64, keep ...int64) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := drain(t.prompts, actor, keep)
	out = append(out, drain(t.checkResults, actor, keep)...)
	if len(out) > 0 {
		slog.Debug("Message tracker drained all", "actor", actor, "count", len(out))
	}
	return out
}

func drain(m map[int64][]int64, actor int64, keep []int64) []int64 {
	ids := m[actor]
	delete(m, actor)
	if len(ids) == 0 {
		return nil
	}
	kept := func(id int64) bool {
		for _, k := range keep {
			if k == id {
				return true
			}
		}
		return false
	}
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if kept(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
