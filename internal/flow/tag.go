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

// TagReassignFlow changes a manager's tag on every lead they own. PIN gated;
// the manager is picked from an index-keyed button list cached in flow state.
type TagReassignFlow struct {
	d *Deps
}

// Start begins the tag flow. /tag always interrupts whatever was active.
func (f *TagReassignFlow) Start(ctx context.Context, u *models.Update) error {
	if err := f.d.States.Begin(ctx, u.ActorID, models.FlowTypeTag, models.StateTagPIN); err != nil {
		return err
	}
	f.d.States.Set(u.ActorID, models.DataKeyPINAttempts, "0")
	if err := f.d.States.Transition(ctx, u.ActorID, models.StateTagPIN); err != nil {
		return err
	}
	slog.Debug("TagReassignFlow started", "actor", u.ActorID)
	_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Enter the PIN to manage tags.", nil)
	return err
}

// HandleText consumes PIN and tag input.
func (f *TagReassignFlow) HandleText(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	switch st.CurrentState {
	case models.StateTagPIN:
		ok, res, err := checkPIN(ctx, f.d, u, models.StateTagPIN, "manage tags")
		if !ok {
			return res, err
		}
		return Claimed, f.showManagerList(ctx, u.ActorID)
	case models.StateTagSelectManager:
		_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Use the buttons to pick a manager, or /q to quit.", nil)
		return Claimed, err
	case models.StateTagEnterNew:
		return f.handleNewTag(ctx, u)
	default:
		return Unclaimed, nil
	}
}

// showManagerList loads the distinct manager names, caches them in flow
// state and renders them as index-keyed buttons.
func (f *TagReassignFlow) showManagerList(ctx context.Context, actor int64) error {
	managers, err := loadManagerList(ctx, f.d, actor)
	if err != nil {
		return err
	}
	if len(managers) == 0 {
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			return cerr
		}
		_, serr := f.d.Msg.SendMessage(ctx, actor, "No managers found. Add leads first.", mainMenuKeyboard())
		return serr
	}
	if err := f.d.States.Transition(ctx, actor, models.StateTagSelectManager); err != nil {
		return err
	}
	kb := managerKeyboard(managers, cbTagManagerPrefix, cbTagCancel)
	_, err = f.d.Msg.SendMessage(ctx, actor, "Whose tag do you want to change?", kb)
	return err
}

func (f *TagReassignFlow) handleNewTag(ctx context.Context, u *models.Update) (Result, error) {
	actor := u.ActorID
	manager := f.d.States.Get(actor, models.DataKeyTagManagerName)
	if manager == "" {
		slog.Debug("TagReassignFlow stale tag state, ending silently", "actor", actor)
		if err := f.d.States.Clear(ctx, actor); err != nil {
			return Claimed, err
		}
		return Unclaimed, nil
	}

	tag := validate.NormalizeTag(u.Text)
	if tag == "" {
		_, err := f.d.Msg.SendMessage(ctx, actor, "That tag is empty after cleanup. Send a tag like @handle.", nil)
		return Claimed, err
	}
	f.d.States.Set(actor, models.DataKeyTagNewTag, tag)
	if err := f.d.States.Transition(ctx, actor, models.StateTagEnterNew); err != nil {
		return Claimed, err
	}

	count, err := f.d.Store.CountByManager(ctx, manager)
	if err != nil {
		return Claimed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	kb := [][]models.Button{
		models.Row(models.Button{Label: "✅ Confirm", Data: cbTagConfirm}),
		models.Row(models.Button{Label: "✖️ Cancel", Data: cbTagCancel}),
	}
	_, err = f.d.Msg.SendMessage(ctx, actor,
		fmt.Sprintf("Set tag %s for %s (%d leads)?",
			validate.EscapeHTML(tag), validate.EscapeHTML(manager), count), kb)
	return Claimed, err
}

// HandleCallback consumes manager selection and confirmation buttons.
func (f *TagReassignFlow) HandleCallback(ctx context.Context, u *models.Update) (Result, error) {
	actor := u.ActorID
	cb := u.Callback
	switch {
	case strings.HasPrefix(cb, cbTagManagerPrefix):
		manager, err := managerByIndex(ctx, f.d, actor, strings.TrimPrefix(cb, cbTagManagerPrefix))
		if err != nil {
			return Claimed, err
		}
		if manager == "" {
			_, serr := f.d.Msg.SendMessage(ctx, actor, "That selection has expired. Pick again.", nil)
			if serr != nil {
				return Claimed, serr
			}
			return Claimed, f.showManagerList(ctx, actor)
		}
		f.d.States.Set(actor, models.DataKeyTagManagerName, manager)
		if err := f.d.States.Transition(ctx, actor, models.StateTagEnterNew); err != nil {
			return Claimed, err
		}
		_, err = f.d.Msg.SendMessage(ctx, actor,
			fmt.Sprintf("Send the new tag for %s.", validate.EscapeHTML(manager)), nil)
		return Claimed, err

	case cb == cbTagConfirm:
		return Claimed, f.apply(ctx, u)

	case cb == cbTagCancel:
		if err := f.d.States.Clear(ctx, actor); err != nil {
			return Claimed, err
		}
		_, err := f.d.Msg.SendMessage(ctx, actor, "Tag change cancelled.", mainMenuKeyboard())
		return Claimed, err

	default:
		return Unclaimed, nil
	}
}

func (f *TagReassignFlow) apply(ctx context.Context, u *models.Update) error {
	actor := u.ActorID
	manager := f.d.States.Get(actor, models.DataKeyTagManagerName)
	tag := f.d.States.Get(actor, models.DataKeyTagNewTag)
	if manager == "" || tag == "" {
		slog.Debug("TagReassignFlow confirm without selection, clearing", "actor", actor)
		return f.d.States.Clear(ctx, actor)
	}

	affected, err := f.d.Store.UpdateManagerTag(ctx, manager, tag)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Info("TagReassignFlow tag updated", "actor", actor, "manager", manager, "tag", tag, "affected", affected)

	if err := f.d.States.Clear(ctx, actor); err != nil {
		return err
	}
	_, err = f.d.Msg.SendMessage(ctx, actor,
		fmt.Sprintf("✅ Tag %s set for %s on %d leads.",
			validate.EscapeHTML(tag), validate.EscapeHTML(manager), affected), mainMenuKeyboard())
	return err
}

// checkPIN runs one PIN attempt for the gated flows. ok is true when the gate
// opened; otherwise res/err carry the outcome to return.
func checkPIN(ctx context.Context, d *Deps, u *models.Update, state models.StateType, what string) (bool, Result, error) {
	actor := u.ActorID
	if strings.TrimSpace(u.Text) == d.Cfg.PINCode {
		return true, Claimed, nil
	}
	attempts, _ := strconv.Atoi(d.States.Get(actor, models.DataKeyPINAttempts))
	attempts++
	if attempts >= maxPINAttempts {
		slog.Warn("PIN attempts exhausted", "actor", actor, "flow", what)
		if err := d.States.Clear(ctx, actor); err != nil {
			return false, Claimed, err
		}
		return false, Claimed, fmt.Errorf("pin gate closed: %w", ErrAttemptLimit)
	}
	d.States.Set(actor, models.DataKeyPINAttempts, strconv.Itoa(attempts))
	if err := d.States.Transition(ctx, actor, state); err != nil {
		return false, Claimed, err
	}
	_, err := d.Msg.SendMessage(ctx, actor,
		fmt.Sprintf("Wrong PIN. %d attempts left.", maxPINAttempts-attempts), nil)
	return false, Claimed, err
}

// loadManagerList returns the distinct manager names, serving the flow-state
// cache first and reloading from the store when it is missing.
func loadManagerList(ctx context.Context, d *Deps, actor int64) ([]string, error) {
	if raw := d.States.Get(actor, models.DataKeyManagerNames); raw != "" {
		var managers []string
		if err := json.Unmarshal([]byte(raw), &managers); err == nil {
			return managers, nil
		}
		slog.Warn("Cached manager list is corrupt, reloading", "actor", actor)
	}
	managers, err := d.Store.DistinctManagerNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if encoded, err := json.Marshal(managers); err == nil {
		d.States.Set(actor, models.DataKeyManagerNames, string(encoded))
	}
	return managers, nil
}

// managerByIndex resolves an index-keyed selector token against the cached
// list; "" means the index no longer resolves.
func managerByIndex(ctx context.Context, d *Deps, actor int64, rawIndex string) (string, error) {
	i, err := strconv.Atoi(rawIndex)
	if err != nil || i < 0 {
		return "", nil
	}
	managers, err := loadManagerList(ctx, d, actor)
	if err != nil {
		return "", err
	}
	if i >= len(managers) {
		return "", nil
	}
	return managers[i], nil
}

// managerKeyboard renders one button per manager with index-keyed tokens.
func managerKeyboard(managers []string, prefix, cancelToken string) [][]models.Button {
	kb := make([][]models.Button, 0, len(managers)+1)
	for i, name := range managers {
		kb = append(kb, models.Row(models.Button{Label: name, Data: prefix + strconv.Itoa(i)}))
	}
	kb = append(kb, models.Row(models.Button{Label: "✖️ Cancel", Data: cancelToken}))
	return kb
}
