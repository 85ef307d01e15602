package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/blob"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/validate"
)

// addPreserved lists the session keys that survive add-flow initialization:
// a photo received before the flow started stays attached.
var addPreserved = []models.DataKey{
	models.DataKeyPhotoFileID,
	models.DataKeyHadPhoto,
	models.DataKeyForwardedSource,
}

// fieldStates maps collected fields onto their input states.
var addFieldStates = map[models.DataKey]models.StateType{
	models.DataKeyFullname:     models.StateAddFullname,
	models.DataKeyFacebookLink: models.StateAddFacebookLink,
	models.DataKeyTelegramName: models.StateAddTelegramName,
	models.DataKeyTelegramID:   models.StateAddTelegramID,
}

// AddLeadFlow collects a new lead field by field and saves it after a
// uniqueness check. Photo upload happens strictly after the insert, keyed by
// the new record id.
type AddLeadFlow struct {
	d *Deps
}

// fieldOrder returns the collected fields in sequence. The facebook link step
// is dropped when the flow flag is off or the data came from a forward.
func (f *AddLeadFlow) fieldOrder(skipLink bool) []models.DataKey {
	order := []models.DataKey{models.DataKeyFullname}
	if f.d.Cfg.FacebookFlow && !skipLink {
		order = append(order, models.DataKeyFacebookLink)
	}
	return append(order, models.DataKeyTelegramName, models.DataKeyTelegramID)
}

// nextField returns the field after current along with its state and step
// position, or "" when the sequence is complete.
func (f *AddLeadFlow) nextField(current models.DataKey, skipLink bool) (models.DataKey, models.StateType, int, int) {
	order := f.fieldOrder(skipLink)
	for i, field := range order {
		if field == current {
			if i+1 < len(order) {
				next := order[i+1]
				return next, addFieldStates[next], i + 2, len(order)
			}
			return "", "", 0, len(order)
		}
	}
	return order[0], addFieldStates[order[0]], 1, len(order)
}

// Start begins the add flow, preserving any cached photo reference.
func (f *AddLeadFlow) Start(ctx context.Context, u *models.Update) error {
	if err := f.d.States.Begin(ctx, u.ActorID, models.FlowTypeAdd, models.StateAddFullname, addPreserved...); err != nil {
		return err
	}
	slog.Debug("AddLeadFlow started", "actor", u.ActorID)
	order := f.fieldOrder(f.skipLink(u.ActorID))
	f.prompt(ctx, u.ActorID, fmt.Sprintf("Step 1/%d: send the lead's full name.", len(order)))
	return nil
}

func (f *AddLeadFlow) skipLink(actor int64) bool {
	return f.d.States.Get(actor, models.DataKeyForwardedSource) != ""
}

// prompt sends a tracked ephemeral prompt.
func (f *AddLeadFlow) prompt(ctx context.Context, actor int64, text string, kb ...[]models.Button) {
	id, err := f.d.Msg.SendMessage(ctx, actor, text, kb)
	if err != nil {
		slog.Error("AddLeadFlow prompt failed", "error", err, "actor", actor)
		return
	}
	f.d.Tracker.TrackPrompt(actor, id)
}

// HandleText consumes field input for the current state.
func (f *AddLeadFlow) HandleText(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	text := strings.TrimSpace(u.Text)
	skip := text == "/skip"

	var field models.DataKey
	switch st.CurrentState {
	case models.StateAddFullname:
		field = models.DataKeyFullname
	case models.StateAddFacebookLink:
		field = models.DataKeyFacebookLink
	case models.StateAddTelegramName:
		field = models.DataKeyTelegramName
	case models.StateAddTelegramID:
		field = models.DataKeyTelegramID
	case models.StateAddReview:
		// Free text on the review screen is not an edit; re-show the summary.
		return Claimed, f.showReview(ctx, u.ActorID)
	default:
		return Unclaimed, nil
	}

	if skip {
		if field == models.DataKeyFullname {
			f.prompt(ctx, u.ActorID, "The full name is required and cannot be skipped.")
			return Claimed, nil
		}
		f.d.States.Unset(u.ActorID, field)
		return Claimed, f.advance(ctx, u.ActorID, field)
	}

	normalized, verr := validateAddField(field, text)
	if verr != nil {
		f.prompt(ctx, u.ActorID, verr.Error())
		return Claimed, nil
	}
	f.d.States.Set(u.ActorID, field, normalized)
	return Claimed, f.advance(ctx, u.ActorID, field)
}

// validateAddField normalizes one field input. A rejection comes back as a
// ValidationError whose text is shown to the operator.
func validateAddField(field models.DataKey, text string) (string, error) {
	switch field {
	case models.DataKeyFullname:
		normalized := validate.NormalizeTextField(text)
		if len([]rune(normalized)) < 2 {
			return "", &ValidationError{Msg: "The full name looks too short. Send at least 2 characters."}
		}
		return normalized, nil
	case models.DataKeyFacebookLink:
		ok, normalized := validate.ValidateFacebookLink(text)
		if !ok {
			return "", &ValidationError{Msg: "That does not look like a Facebook link or profile id. Send a link, an id, or /skip."}
		}
		return normalized, nil
	case models.DataKeyTelegramName:
		ok, normalized := validate.ValidateTelegramName(text)
		if !ok {
			return "", &ValidationError{Msg: "That does not look like a Telegram username. Send a @username or /skip."}
		}
		return normalized, nil
	case models.DataKeyTelegramID:
		ok, normalized := validate.ValidateTelegramID(text)
		if !ok {
			return "", &ValidationError{Msg: "A Telegram ID is digits only. Send the numeric id or /skip."}
		}
		return normalized, nil
	}
	return "", &ValidationError{Msg: "Unsupported field."}
}

// advance moves to the next field or to review. A field edited from the
// review screen always returns to review.
func (f *AddLeadFlow) advance(ctx context.Context, actor int64, current models.DataKey) error {
	if f.d.States.Get(actor, models.DataKeyReturnToReview) != "" {
		f.d.States.Unset(actor, models.DataKeyReturnToReview)
		f.d.States.Unset(actor, models.DataKeyCurrentField)
		return f.toReview(ctx, actor)
	}

	next, state, step, total := f.nextField(current, f.skipLink(actor))
	if next == "" {
		return f.toReview(ctx, actor)
	}
	if err := f.d.States.Transition(ctx, actor, state); err != nil {
		return err
	}
	f.prompt(ctx, actor, fmt.Sprintf("Step %d/%d: %s", step, total, addFieldPrompt(next)))
	return nil
}

func addFieldPrompt(field models.DataKey) string {
	switch field {
	case models.DataKeyFacebookLink:
		return "send the Facebook link or id, or /skip."
	case models.DataKeyTelegramName:
		return "send the Telegram @username, or /skip."
	case models.DataKeyTelegramID:
		return "send the numeric Telegram ID, or /skip."
	default:
		return "send the lead's full name."
	}
}

func (f *AddLeadFlow) toReview(ctx context.Context, actor int64) error {
	if err := f.d.States.Transition(ctx, actor, models.StateAddReview); err != nil {
		return err
	}
	return f.showReview(ctx, actor)
}

// showReview renders the collected fields with the save/edit/cancel keyboard.
func (f *AddLeadFlow) showReview(ctx context.Context, actor int64) error {
	var b strings.Builder
	b.WriteString("<b>Review the new lead</b>\n\n")
	for _, key := range models.LeadFieldKeys {
		value := f.d.States.Get(actor, key)
		display := "—"
		if value != "" {
			if key == models.DataKeyFacebookLink {
				value = validate.FormatFacebookLinkForDisplay(value)
			}
			display = validate.EscapeHTML(value)
		}
		fmt.Fprintf(&b, "%s: %s\n", fieldLabel(key), display)
	}
	if f.d.States.Get(actor, models.DataKeyPhotoFileID) != "" {
		b.WriteString("Photo: attached\n")
	}

	kb := [][]models.Button{
		models.Row(models.Button{Label: "💾 Save", Data: cbAddSave}),
		models.Row(models.Button{Label: "✏️ Edit a field", Data: cbAddEditMenu}),
		models.Row(models.Button{Label: "✖️ Cancel", Data: cbAddCancel}),
	}
	f.prompt(ctx, actor, b.String(), kb...)
	return nil
}

func (f *AddLeadFlow) showEditSubmenu(ctx context.Context, u *models.Update) error {
	kb := make([][]models.Button, 0, len(models.LeadFieldKeys)+1)
	for _, key := range models.LeadFieldKeys {
		if key == models.DataKeyFacebookLink && !f.d.Cfg.FacebookFlow {
			continue
		}
		kb = append(kb, models.Row(models.Button{Label: fieldLabel(key), Data: cbAddFieldPrefix + string(key)}))
	}
	kb = append(kb, models.Row(models.Button{Label: "⬅️ Back", Data: cbAddBack}))
	f.prompt(ctx, u.ActorID, "Which field do you want to change?", kb...)
	return nil
}

// HandleCallback consumes the review screen buttons.
func (f *AddLeadFlow) HandleCallback(ctx context.Context, u *models.Update) (Result, error) {
	cb := u.Callback
	switch {
	case cb == cbAddSave:
		return Claimed, f.save(ctx, u, false)
	case cb == cbAddSaveNoPhoto:
		return Claimed, f.save(ctx, u, true)
	case cb == cbAddEditMenu:
		return Claimed, f.showEditSubmenu(ctx, u)
	case cb == cbAddBack:
		return Claimed, f.showReview(ctx, u.ActorID)
	case cb == cbAddCancel:
		return Claimed, f.cancel(ctx, u)
	case strings.HasPrefix(cb, cbAddFieldPrefix):
		return Claimed, f.editField(ctx, u, models.DataKey(strings.TrimPrefix(cb, cbAddFieldPrefix)))
	default:
		return Unclaimed, nil
	}
}

func (f *AddLeadFlow) editField(ctx context.Context, u *models.Update, field models.DataKey) error {
	state, ok := addFieldStates[field]
	if !ok {
		return f.showReview(ctx, u.ActorID)
	}
	f.d.States.Set(u.ActorID, models.DataKeyCurrentField, string(field))
	f.d.States.Set(u.ActorID, models.DataKeyReturnToReview, "1")
	if err := f.d.States.Transition(ctx, u.ActorID, state); err != nil {
		return err
	}
	f.prompt(ctx, u.ActorID, fmt.Sprintf("Send the new value for %s.", fieldLabel(field)))
	return nil
}

func (f *AddLeadFlow) cancel(ctx context.Context, u *models.Update) error {
	f.drain(ctx, u.ActorID, 0)
	if err := f.d.States.Clear(ctx, u.ActorID); err != nil {
		return err
	}
	_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Cancelled. Nothing was saved.", mainMenuKeyboard())
	return err
}

func (f *AddLeadFlow) drain(ctx context.Context, actor, keep int64) {
	var ids []int64
	if keep != 0 {
		ids = f.d.Tracker.DrainPrompts(actor, keep)
	} else {
		ids = f.d.Tracker.DrainPrompts(actor)
	}
	for _, id := range ids {
		if err := f.d.Msg.DeleteMessage(ctx, actor, id); err != nil {
			slog.Debug("AddLeadFlow prompt delete failed", "error", err, "actor", actor, "message_id", id)
		}
	}
}

// save runs the gate checks, the uniqueness pre-check, the insert, and the
// post-insert photo upload.
func (f *AddLeadFlow) save(ctx context.Context, u *models.Update, allowMissingPhoto bool) error {
	actor := u.ActorID
	fields := make(map[models.DataKey]string, len(models.LeadFieldKeys))
	for _, key := range models.LeadFieldKeys {
		fields[key] = f.d.States.Get(actor, key)
	}

	if fields[models.DataKeyFullname] == "" {
		f.prompt(ctx, actor, "The full name is required. Use \"Edit a field\" to set it.")
		return nil
	}

	hasIdentifier := false
	for _, key := range models.IdentifierFieldKeys {
		if fields[key] != "" {
			hasIdentifier = true
			break
		}
	}
	photoFileID := f.d.States.Get(actor, models.DataKeyPhotoFileID)
	hadPhoto := f.d.States.Get(actor, models.DataKeyHadPhoto) != ""

	if !hasIdentifier {
		if !f.d.Cfg.MinimalAddMode {
			f.prompt(ctx, actor, "Add at least one identifier: a Facebook link, a Telegram username or a Telegram ID.")
			return nil
		}
		// Minimal mode admits a photo-only lead, but only with a usable
		// photo reference.
		if photoFileID == "" {
			f.prompt(ctx, actor, "Add at least one identifier or attach a photo.")
			return nil
		}
	}

	if hadPhoto && photoFileID == "" && !allowMissingPhoto {
		if f.d.Cfg.MinimalAddMode {
			f.drain(ctx, actor, 0)
			if err := f.d.States.Clear(ctx, actor); err != nil {
				return err
			}
			_, err := f.d.Msg.SendMessage(ctx, actor, "The photo could not be processed. Please start over.", mainMenuKeyboard())
			return err
		}
		kb := [][]models.Button{
			models.Row(models.Button{Label: "Save without photo", Data: cbAddSaveNoPhoto}),
			models.Row(models.Button{Label: "Cancel", Data: cbAddCancel}),
		}
		f.prompt(ctx, actor, "The photo could not be processed. Save the lead without it?", kb...)
		return nil
	}

	conflict, err := f.d.Unique.CheckFields(ctx, fields, 0)
	if err != nil {
		return err
	}
	if conflict != "" {
		f.drain(ctx, actor, 0)
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			slog.Error("AddLeadFlow clear after conflict failed", "error", cerr, "actor", actor)
		}
		return &ConflictError{Field: models.DataKey(conflict)}
	}

	managerName, managerTag := managerIdentity(u.From)
	lead, err := f.d.Store.InsertLead(ctx, models.Lead{
		Fullname:     fields[models.DataKeyFullname],
		FacebookLink: fields[models.DataKeyFacebookLink],
		TelegramName: fields[models.DataKeyTelegramName],
		TelegramID:   fields[models.DataKeyTelegramID],
		ManagerName:  managerName,
		ManagerTag:   managerTag,
	})
	if err != nil {
		slog.Error("AddLeadFlow insert failed", "error", err, "actor", actor)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	f.d.Unique.Invalidate()
	slog.Info("AddLeadFlow lead saved", "actor", actor, "lead_id", lead.ID, "manager", managerName)

	photoNote := ""
	if photoFileID != "" && !allowMissingPhoto {
		if url, perr := f.uploadPhoto(ctx, lead.ID, photoFileID); perr != nil {
			slog.Error("AddLeadFlow photo upload failed", "error", perr, "lead_id", lead.ID)
			photoNote = "\n\nThe photo could not be uploaded; the lead was saved without it."
		} else if url != "" {
			if updated, uerr := f.d.Store.UpdateLead(ctx, lead.ID, models.LeadPatch{PhotoURL: &url}); uerr == nil {
				lead = updated
			} else {
				slog.Error("AddLeadFlow photo url patch failed", "error", uerr, "lead_id", lead.ID)
			}
		}
	}

	f.drain(ctx, actor, 0)
	if err := f.d.States.Clear(ctx, actor); err != nil {
		return err
	}
	_, err = f.d.Msg.SendMessage(ctx, actor, "✅ Lead saved.\n\n"+formatLead(lead)+photoNote, mainMenuKeyboard())
	return err
}

// uploadPhoto downloads the photo from the transport and stores it in the
// blob store, keyed by the new lead id. Returns "" when photo storage is not
// configured.
func (f *AddLeadFlow) uploadPhoto(ctx context.Context, leadID int64, fileID string) (string, error) {
	if !f.d.Cfg.PhotosEnabled || f.d.Blob == nil {
		slog.Debug("AddLeadFlow photo storage disabled, skipping upload", "lead_id", leadID)
		return "", nil
	}
	data, contentType, err := f.d.Msg.DownloadFile(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("failed to download photo: %w", err)
	}
	path := blob.PhotoPath(leadID, blob.ExtForContentType(contentType))
	url, err := f.d.Blob.Upload(ctx, path, data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload photo: %w", err)
	}
	return url, nil
}
