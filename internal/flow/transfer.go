package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/validate"
)

// TransferLeadFlow moves every lead from one manager to another, taking over
// the target manager's tag. PIN gated, with index-keyed source and target
// selectors sharing the cached manager list.
type TransferLeadFlow struct {
	d *Deps
}

// Start begins the transfer flow. /transfer always interrupts.
func (f *TransferLeadFlow) Start(ctx context.Context, u *models.Update) error {
	if err := f.d.States.Begin(ctx, u.ActorID, models.FlowTypeTransfer, models.StateTransferPIN); err != nil {
		return err
	}
	f.d.States.Set(u.ActorID, models.DataKeyPINAttempts, "0")
	if err := f.d.States.Transition(ctx, u.ActorID, models.StateTransferPIN); err != nil {
		return err
	}
	slog.Debug("TransferLeadFlow started", "actor", u.ActorID)
	_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Enter the PIN to transfer leads.", nil)
	return err
}

// HandleText consumes the PIN; everything after it is button driven.
func (f *TransferLeadFlow) HandleText(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	switch st.CurrentState {
	case models.StateTransferPIN:
		ok, res, err := checkPIN(ctx, f.d, u, models.StateTransferPIN, "transfer leads")
		if !ok {
			return res, err
		}
		return Claimed, f.showSourceList(ctx, u.ActorID)
	case models.StateTransferSelectFrom, models.StateTransferSelectTo, models.StateTransferConfirm:
		_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Use the buttons to pick a manager, or /q to quit.", nil)
		return Claimed, err
	default:
		return Unclaimed, nil
	}
}

func (f *TransferLeadFlow) showSourceList(ctx context.Context, actor int64) error {
	managers, err := loadManagerList(ctx, f.d, actor)
	if err != nil {
		return err
	}
	if len(managers) < 2 {
		if cerr := f.d.States.Clear(ctx, actor); cerr != nil {
			return cerr
		}
		_, serr := f.d.Msg.SendMessage(ctx, actor, "A transfer needs at least two managers.", mainMenuKeyboard())
		return serr
	}
	if err := f.d.States.Transition(ctx, actor, models.StateTransferSelectFrom); err != nil {
		return err
	}
	kb := managerKeyboard(managers, cbTransferFromPrefix, cbTransferCancel)
	_, err = f.d.Msg.SendMessage(ctx, actor, "Transfer leads FROM which manager?", kb)
	return err
}

func (f *TransferLeadFlow) showTargetList(ctx context.Context, actor int64) error {
	managers, err := loadManagerList(ctx, f.d, actor)
	if err != nil {
		return err
	}
	if err := f.d.States.Transition(ctx, actor, models.StateTransferSelectTo); err != nil {
		return err
	}
	kb := managerKeyboard(managers, cbTransferToPrefix, cbTransferCancel)
	from := f.d.States.Get(actor, models.DataKeyTransferFrom)
	_, err = f.d.Msg.SendMessage(ctx, actor,
		fmt.Sprintf("Transfer leads from %s TO which manager?", validate.EscapeHTML(from)), kb)
	return err
}

// HandleCallback consumes the selector and confirmation buttons.
func (f *TransferLeadFlow) HandleCallback(ctx context.Context, u *models.Update) (Result, error) {
	actor := u.ActorID
	cb := u.Callback
	switch {
	case strings.HasPrefix(cb, cbTransferFromPrefix):
		manager, err := managerByIndex(ctx, f.d, actor, strings.TrimPrefix(cb, cbTransferFromPrefix))
		if err != nil {
			return Claimed, err
		}
		if manager == "" {
			_, serr := f.d.Msg.SendMessage(ctx, actor, "That selection has expired. Pick again.", nil)
			if serr != nil {
				return Claimed, serr
			}
			return Claimed, f.showSourceList(ctx, actor)
		}
		f.d.States.Set(actor, models.DataKeyTransferFrom, manager)
		return Claimed, f.showTargetList(ctx, actor)

	case strings.HasPrefix(cb, cbTransferToPrefix):
		return Claimed, f.pickTarget(ctx, u, strings.TrimPrefix(cb, cbTransferToPrefix))

	case cb == cbTransferConfirm:
		return Claimed, f.apply(ctx, u)

	case cb == cbTransferCancel:
		if err := f.d.States.Clear(ctx, actor); err != nil {
			return Claimed, err
		}
		_, err := f.d.Msg.SendMessage(ctx, actor, "Transfer cancelled.", mainMenuKeyboard())
		return Claimed, err

	default:
		return Unclaimed, nil
	}
}

// pickTarget validates the target selection. Picking the source manager
// again re-prompts and keeps the source.
func (f *TransferLeadFlow) pickTarget(ctx context.Context, u *models.Update, rawIndex string) error {
	actor := u.ActorID
	from := f.d.States.Get(actor, models.DataKeyTransferFrom)
	if from == "" {
		slog.Debug("TransferLeadFlow target pick without source, clearing", "actor", actor)
		return f.d.States.Clear(ctx, actor)
	}

	target, err := managerByIndex(ctx, f.d, actor, rawIndex)
	if err != nil {
		return err
	}
	if target == "" {
		_, serr := f.d.Msg.SendMessage(ctx, actor, "That selection has expired. Pick again.", nil)
		if serr != nil {
			return serr
		}
		return f.showTargetList(ctx, actor)
	}
	if target == from {
		_, serr := f.d.Msg.SendMessage(ctx, actor, "Source and target must differ. Pick another manager.", nil)
		if serr != nil {
			return serr
		}
		return f.showTargetList(ctx, actor)
	}

	toTag, err := f.d.Store.ManagerTagByName(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	count, err := f.d.Store.CountByManager(ctx, from)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	f.d.States.Set(actor, models.DataKeyTransferTo, target)
	f.d.States.Set(actor, models.DataKeyTransferToTag, toTag)
	if err := f.d.States.Transition(ctx, actor, models.StateTransferConfirm); err != nil {
		return err
	}

	tagNote := "no tag"
	if toTag != "" {
		tagNote = "tag " + validate.EscapeHTML(toTag)
	}
	kb := [][]models.Button{
		models.Row(models.Button{Label: "✅ Confirm", Data: cbTransferConfirm}),
		models.Row(models.Button{Label: "✖️ Cancel", Data: cbTransferCancel}),
	}
	_, err = f.d.Msg.SendMessage(ctx, actor,
		fmt.Sprintf("Transfer %d leads from %s to %s (%s)?",
			count, validate.EscapeHTML(from), validate.EscapeHTML(target), tagNote), kb)
	return err
}

func (f *TransferLeadFlow) apply(ctx context.Context, u *models.Update) error {
	actor := u.ActorID
	from := f.d.States.Get(actor, models.DataKeyTransferFrom)
	to := f.d.States.Get(actor, models.DataKeyTransferTo)
	toTag := f.d.States.Get(actor, models.DataKeyTransferToTag)
	if from == "" || to == "" {
		slog.Debug("TransferLeadFlow confirm without selection, clearing", "actor", actor)
		return f.d.States.Clear(ctx, actor)
	}

	affected, err := f.d.Store.TransferManagerLeads(ctx, from, to, toTag)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	slog.Info("TransferLeadFlow leads transferred", "actor", actor, "from", from, "to", to, "affected", affected)

	if err := f.d.States.Clear(ctx, actor); err != nil {
		return err
	}
	_, err = f.d.Msg.SendMessage(ctx, actor,
		fmt.Sprintf("✅ Transferred %d leads from %s to %s.",
			affected, validate.EscapeHTML(from), validate.EscapeHTML(to)), mainMenuKeyboard())
	return err
}
