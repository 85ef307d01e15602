// Package flow implements the conversational flows of the lead bot: adding,
// checking, editing, tag reassignment, lead transfer, and the forwarded
// message and photo interceptors. The Dispatcher routes inbound updates
// through an ordered handler chain with an explicit claimed/unclaimed result.
package flow

import (
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/blob"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/messaging"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/session"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
)

// Config carries the flow-relevant settings.
type Config struct {
	// PINCode gates the edit, tag and transfer flows.
	PINCode string
	// FacebookFlow enables the facebook link step in the add flow.
	FacebookFlow bool
	// MinimalAddMode relaxes the identifier requirement when a photo is
	// attached, and removes the save-without-photo escape hatch.
	MinimalAddMode bool
	// PhotosEnabled enables photo capture and upload.
	PhotosEnabled bool
	// RateLimitEnabled gates inbound updates through the rate limiter.
	RateLimitEnabled bool
}

// Deps bundles the collaborators every flow needs. One instance is shared by
// the dispatcher and all flow handlers.
type Deps struct {
	Store    store.Store
	Blob     blob.Client // nil when photo storage is not configured
	Msg      messaging.Service
	Sessions *session.Store
	Limiter  *session.RateLimiter
	Tracker  *session.MessageTracker
	States   *StateManager
	Unique   *UniquenessChecker
	Cfg      Config
}

// managerIdentity derives the manager name and tag recorded on saved leads
// from the acting operator's profile.
func managerIdentity(p models.Profile) (name, tag string) {
	name = strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name == "" {
		name = p.Username
	}
	if p.Username != "" {
		tag = "@" + p.Username
	}
	return name, tag
}
