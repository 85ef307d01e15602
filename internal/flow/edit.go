package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/validate"
)

// maxPINAttempts bounds the PIN gate shared by the edit, tag and transfer
// flows.
const maxPINAttempts = 3

// editFieldStates maps editable fields onto their input states.
var editFieldStates = map[models.DataKey]models.StateType{
	models.DataKeyFullname:     models.StateEditFullname,
	models.DataKeyFacebookLink: models.StateEditFacebookLink,
	models.DataKeyTelegramName: models.StateEditTelegramName,
	models.DataKeyTelegramID:   models.StateEditTelegramID,
	models.DataKeyManagerName:  models.StateEditManagerName,
}

// editableFields is the field menu order.
var editableFields = []models.DataKey{
	models.DataKeyFullname,
	models.DataKeyFacebookLink,
	models.DataKeyTelegramName,
	models.DataKeyTelegramID,
	models.DataKeyManagerName,
}

// EditLeadFlow mutates an existing lead behind a PIN gate. The canonical
// record is reloaded at PIN time and again at save; only the fields the
// operator actually changed are written.
type EditLeadFlow struct {
	d *Deps
}

// StartForLead begins the edit flow for the lead addressed by an edit
// button.
func (f *EditLeadFlow) StartForLead(ctx context.Context, u *models.Update, rawID string) (Result, error) {
	leadID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || leadID <= 0 {
		slog.Warn("EditLeadFlow rejected malformed lead id", "raw", rawID, "actor", u.ActorID)
		return Claimed, nil
	}
	if err := f.d.States.Begin(ctx, u.ActorID, models.FlowTypeEdit, models.StateEditPIN); err != nil {
		return Claimed, err
	}
	f.d.States.Set(u.ActorID, models.DataKeyEditingLeadID, rawID)
	f.d.States.Set(u.ActorID, models.DataKeyPINAttempts, "0")
	if err := f.d.States.Transition(ctx, u.ActorID, models.StateEditPIN); err != nil {
		return Claimed, err
	}
	slog.Debug("EditLeadFlow started", "actor", u.ActorID, "lead_id", leadID)
	_, err = f.d.Msg.SendMessage(ctx, u.ActorID, "Enter the PIN to edit this lead.", nil)
	return Claimed, err
}

// HandleText consumes PIN and field input.
func (f *EditLeadFlow) HandleText(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	switch st.CurrentState {
	case models.StateEditPIN:
		return f.handlePIN(ctx, u)
	case models.StateEditFullname, models.StateEditFacebookLink,
		models.StateEditTelegramName, models.StateEditTelegramID,
		models.StateEditManagerName:
		return f.handleFieldInput(ctx, u, st.CurrentState)
	case models.StateEditMenu:
		// Free text in the menu is ignored; the buttons drive this state.
		return Claimed, f.showMenu(ctx, u.ActorID)
	default:
		return Unclaimed, nil
	}
}

// handlePIN validates the PIN, loads the target record and snapshots it.
func (f *EditLeadFlow) handlePIN(ctx context.Context, u *models.Update) (Result, error) {
	actor := u.ActorID

	// Stale state: a PIN prompt without an editing target is left over from
	// an interrupted flow. End it silently so the input falls through.
	rawID := f.d.States.Get(actor, models.DataKeyEditingLeadID)
	if rawID == "" {
		slog.Debug("EditLeadFlow stale PIN state, ending silently", "actor", actor)
		if err := f.d.States.Clear(ctx, actor); err != nil {
			return Claimed, err
		}
		return Unclaimed, nil
	}

	if ok, res, err := checkPIN(ctx, f.d, u, models.StateEditPIN, "edit lead"); !ok {
		return res, err
	}

	leadID, _ := strconv.ParseInt(rawID, 10, 64)
	lead, err := f.d.Store.GetLead(ctx, leadID)
	if err != nil {
		return Claimed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if lead == nil {
		if err := f.d.States.Clear(ctx, actor); err != nil {
			return Claimed, err
		}
		_, err := f.d.Msg.SendMessage(ctx, actor, "That lead no longer exists.", mainMenuKeyboard())
		return Claimed, err
	}

	original, err := json.Marshal(lead)
	if err != nil {
		return Claimed, fmt.Errorf("failed to snapshot lead %d: %w", leadID, err)
	}
	f.d.States.Set(actor, models.DataKeyOriginalLead, string(original))
	for _, key := range editableFields {
		f.d.States.Set(actor, key, lead.Field(key))
	}
	if err := f.d.States.Transition(ctx, actor, models.StateEditMenu); err != nil {
		return Claimed, err
	}
	return Claimed, f.showMenu(ctx, actor)
}

// original returns the snapshot taken at PIN time.
func (f *EditLeadFlow) original(actor int64) (*models.Lead, error) {
	raw := f.d.States.Get(actor, models.DataKeyOriginalLead)
	if raw == "" {
		return nil, ErrStaleState
	}
	var lead models.Lead
	if err := json.Unmarshal([]byte(raw), &lead); err != nil {
		return nil, fmt.Errorf("%w: corrupt snapshot", ErrStaleState)
	}
	return &lead, nil
}

// showMenu renders the field menu with per-field status markers.
func (f *EditLeadFlow) showMenu(ctx context.Context, actor int64) error {
	orig, err := f.original(actor)
	if err != nil {
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			return cerr
		}
		return err
	}

	var b strings.Builder
	b.WriteString("<b>Editing lead</b>\n\n")
	kb := make([][]models.Button, 0, len(editableFields)+1)
	for _, key := range editableFields {
		value := f.d.States.Get(actor, key)
		marker := "▫️"
		switch {
		case value != orig.Field(key):
			marker = "✏️"
		case value != "":
			marker = "✅"
		}
		display := "—"
		if value != "" {
			if key == models.DataKeyFacebookLink {
				value = validate.FormatFacebookLinkForDisplay(value)
			}
			display = validate.EscapeHTML(value)
		}
		fmt.Fprintf(&b, "%s %s: %s\n", marker, fieldLabel(key), display)
		kb = append(kb, models.Row(models.Button{Label: marker + " " + fieldLabel(key), Data: cbEditFieldPrefix + string(key)}))
	}
	kb = append(kb, models.Row(
		models.Button{Label: "💾 Save", Data: cbEditSave},
		models.Button{Label: "✖️ Cancel", Data: cbEditCancel},
	))
	_, err = f.d.Msg.SendMessage(ctx, actor, b.String(), kb)
	return err
}

// HandleCallback consumes the field menu buttons.
func (f *EditLeadFlow) HandleCallback(ctx context.Context, u *models.Update) (Result, error) {
	cb := u.Callback
	switch {
	case strings.HasPrefix(cb, cbEditFieldPrefix):
		return Claimed, f.promptField(ctx, u, models.DataKey(strings.TrimPrefix(cb, cbEditFieldPrefix)))
	case cb == cbEditSave:
		return Claimed, f.save(ctx, u)
	case cb == cbEditCancel:
		if err := f.d.States.Clear(ctx, u.ActorID); err != nil {
			return Claimed, err
		}
		_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Edit cancelled. Nothing was changed.", mainMenuKeyboard())
		return Claimed, err
	default:
		return Unclaimed, nil
	}
}

func (f *EditLeadFlow) promptField(ctx context.Context, u *models.Update, field models.DataKey) error {
	state, ok := editFieldStates[field]
	if !ok {
		return f.showMenu(ctx, u.ActorID)
	}
	f.d.States.Set(u.ActorID, models.DataKeyCurrentField, string(field))
	if err := f.d.States.Transition(ctx, u.ActorID, state); err != nil {
		return err
	}
	_, err := f.d.Msg.SendMessage(ctx, u.ActorID,
		fmt.Sprintf("Send the new value for %s, or /skip to go back.", fieldLabel(field)), nil)
	return err
}

func (f *EditLeadFlow) handleFieldInput(ctx context.Context, u *models.Update, state models.StateType) (Result, error) {
	actor := u.ActorID
	text := strings.TrimSpace(u.Text)

	var field models.DataKey
	for key, s := range editFieldStates {
		if s == state {
			field = key
			break
		}
	}

	if text != "/skip" {
		var normalized string
		var verr error
		if field == models.DataKeyManagerName {
			normalized = validate.NormalizeTextField(text)
			if normalized == "" {
				verr = &ValidationError{Msg: "The manager name cannot be empty."}
			}
		} else {
			normalized, verr = validateAddField(field, text)
		}
		if verr != nil {
			_, err := f.d.Msg.SendMessage(ctx, actor, verr.Error(), nil)
			return Claimed, err
		}
		f.d.States.Set(actor, field, normalized)
	}

	f.d.States.Unset(actor, models.DataKeyCurrentField)
	if err := f.d.States.Transition(ctx, actor, models.StateEditMenu); err != nil {
		return Claimed, err
	}
	return Claimed, f.showMenu(ctx, actor)
}

// save re-reads the canonical record and writes only the diff of changed
// fields, after a uniqueness check that excludes the record itself.
func (f *EditLeadFlow) save(ctx context.Context, u *models.Update) error {
	actor := u.ActorID
	orig, err := f.original(actor)
	if err != nil {
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			return cerr
		}
		return err
	}

	identifiers := make(map[models.DataKey]string)
	changedIdentifier := false
	for _, key := range models.IdentifierFieldKeys {
		value := f.d.States.Get(actor, key)
		identifiers[key] = value
		if value != orig.Field(key) {
			changedIdentifier = true
		}
	}

	if changedIdentifier {
		conflict, err := f.d.Unique.CheckFields(ctx, identifiers, orig.ID)
		if err != nil {
			return err
		}
		if conflict != "" {
			_, serr := f.d.Msg.SendMessage(ctx, actor,
				fmt.Sprintf("Another lead already has this %s. Change it before saving.", fieldLabel(models.DataKey(conflict))), nil)
			if serr != nil {
				return serr
			}
			return f.showMenu(ctx, actor)
		}
	}

	// Fresh re-read: the record may have changed while the menu was open.
	current, err := f.d.Store.GetLead(ctx, orig.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if current == nil {
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			return cerr
		}
		_, serr := f.d.Msg.SendMessage(ctx, actor, "That lead no longer exists.", mainMenuKeyboard())
		return serr
	}

	var patch models.LeadPatch
	changed := 0
	for _, key := range editableFields {
		value := f.d.States.Get(actor, key)
		if value != orig.Field(key) {
			patch.SetField(key, value)
			changed++
		}
	}
	if patch.Empty() {
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			return cerr
		}
		_, serr := f.d.Msg.SendMessage(ctx, actor, "No changes to save.", mainMenuKeyboard())
		return serr
	}

	updated, err := f.d.Store.UpdateLead(ctx, orig.ID, patch)
	if err != nil {
		slog.Error("EditLeadFlow update failed", "error", err, "lead_id", orig.ID)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	f.d.Unique.Invalidate()
	slog.Info("EditLeadFlow lead updated", "actor", actor, "lead_id", orig.ID, "fields", changed)

	if err := f.d.States.Clear(ctx, actor); err != nil {
		return err
	}
	_, err = f.d.Msg.SendMessage(ctx, actor, "✅ Lead updated.\n\n"+formatLead(updated), mainMenuKeyboard())
	return err
}
