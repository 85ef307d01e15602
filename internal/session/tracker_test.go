package session

import "testing"

func TestTrackerDrainPromptsReturnsInOrder(t *testing.T) {
	tr := NewMessageTracker()
	tr.TrackPrompt(1, 10)
	tr.TrackPrompt(1, 11)
	tr.TrackPrompt(1, 12)

	got := tr.DrainPrompts(1)
	if len(got) != 3 || got[0] != 10 || got[1] != 11 || got[2] != 12 {
		t.Errorf("DrainPrompts = %v, want [10 11 12]", got)
	}
	if again := tr.DrainPrompts(1); len(again) != 0 {
		t.Errorf("second drain should be empty, got %v", again)
	}
}

func TestTrackerDrainKeepsExcludedMessage(t *testing.T) {
	tr := NewMessageTracker()
	tr.TrackPrompt(1, 10)
	tr.TrackPrompt(1, 11)

	got := tr.DrainPrompts(1, 11)
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("DrainPrompts with keep = %v, want [10]", got)
	}
}

func TestTrackerDrainAllCombinesBatches(t *testing.T) {
	tr := NewMessageTracker()
	tr.TrackPrompt(1, 10)
	tr.TrackCheckResult(1, 20)
	tr.TrackCheckResult(2, 30)

	got := tr.DrainAll(1)
	if len(got) != 2 {
		t.Errorf("DrainAll = %v, want two ids", got)
	}
	if rest := tr.DrainCheckResults(2); len(rest) != 1 || rest[0] != 30 {
		t.Errorf("other actor's messages should be untouched, got %v", rest)
	}
}

func TestTrackerIgnoresZeroAndDuplicateIDs(t *testing.T) {
	tr := NewMessageTracker()
	tr.TrackPrompt(1, 0)
	tr.TrackPrompt(1, 10)
	tr.TrackPrompt(1, 10)

	got := tr.DrainPrompts(1)
	if len(got) != 1 || got[0] != 10 {
		t.Errorf("DrainPrompts = %v, want [10]", got)
	}
}
