package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
)

// Result reports whether a handler consumed an update. An unclaimed update
// falls through to the next handler in the chain, and ultimately to the main
// menu fallback.
type Result int

// Handler results.
const (
	Unclaimed Result = iota
	Claimed
)

// Dispatcher routes inbound updates through the ordered handler chain:
// global commands, the forwarded/photo interceptors, the active flow's own
// handler, then the main menu fallback. Command entry points always win and
// fully clear prior state.
type Dispatcher struct {
	deps *Deps

	add      *AddLeadFlow
	check    *CheckLeadFlow
	edit     *EditLeadFlow
	tag      *TagReassignFlow
	transfer *TransferLeadFlow
	extract  *ExtractFlow

	running atomic.Bool
}

// NewDispatcher wires the flow handlers over shared dependencies.
func NewDispatcher(deps *Deps) *Dispatcher {
	d := &Dispatcher{deps: deps}
	d.add = &AddLeadFlow{d: deps}
	d.check = &CheckLeadFlow{d: deps}
	d.edit = &EditLeadFlow{d: deps}
	d.tag = &TagReassignFlow{d: deps}
	d.transfer = &TransferLeadFlow{d: deps}
	d.extract = &ExtractFlow{d: deps, add: d.add, check: d.check}
	return d
}

// Run consumes the messaging service's update channel until the context is
// cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)
	slog.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping", "reason", ctx.Err())
			return
		case u, ok := <-d.deps.Msg.Updates():
			if !ok {
				slog.Info("Dispatcher stopping, update channel closed")
				return
			}
			d.Dispatch(ctx, u)
		}
	}
}

// Running reports whether the dispatch loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Dispatch routes one update. Panics in handlers are recovered so a single
// malformed update can never take the loop down.
func (d *Dispatcher) Dispatch(ctx context.Context, u models.Update) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher recovered from handler panic", "panic", r, "actor", u.ActorID)
		}
	}()

	if d.deps.Cfg.RateLimitEnabled && d.deps.Limiter != nil {
		if ok, wait := d.deps.Limiter.Allow(u.ActorID); !ok {
			slog.Debug("Dispatcher rate limited actor", "actor", u.ActorID, "wait", wait)
			d.send(ctx, u.ActorID, fmt.Sprintf("Too many requests. Try again in %d seconds.", int(wait.Seconds())), nil)
			return
		}
	}

	// Touch before any cleanup can run so a concurrent sweep never evicts
	// the session being served.
	d.deps.Sessions.Touch(u.ActorID)
	if evicted := d.deps.Sessions.EnforceCapacity(u.ActorID); evicted > 0 {
		slog.Debug("Dispatcher evicted sessions over capacity", "evicted", evicted, "actor", u.ActorID)
	}

	res, err := d.route(ctx, &u)
	if err != nil {
		d.reportError(ctx, &u, err)
		return
	}
	if res == Unclaimed {
		d.mainMenu(ctx, &u)
	}
}

func (d *Dispatcher) route(ctx context.Context, u *models.Update) (Result, error) {
	if u.Callback != "" {
		return d.routeCallback(ctx, u)
	}

	if cmd := commandOf(u.Text); cmd != "" {
		if res, handled, err := d.routeCommand(ctx, u, cmd); handled {
			return res, err
		}
	}

	st, err := d.deps.States.Active(ctx, u.ActorID)
	if err != nil {
		return Claimed, err
	}

	if u.IsForwarded() || u.HasPhoto() {
		return d.extract.Handle(ctx, u, st)
	}

	if st != nil {
		return d.routeFlowText(ctx, u, st)
	}
	return Unclaimed, nil
}

// commandOf extracts a leading slash command, stripping bot mentions.
func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}

// routeCommand handles global command entry points. handled is false for
// contextual commands like /skip that belong to the active flow.
func (d *Dispatcher) routeCommand(ctx context.Context, u *models.Update, cmd string) (Result, bool, error) {
	switch cmd {
	case "/start":
		if err := d.deps.States.Clear(ctx, u.ActorID); err != nil {
			return Claimed, true, err
		}
		d.send(ctx, u.ActorID, "Welcome! "+mainMenuText, mainMenuKeyboard())
		return Claimed, true, nil
	case "/q":
		d.drainEphemeral(ctx, u.ActorID, 0)
		if err := d.deps.States.Clear(ctx, u.ActorID); err != nil {
			return Claimed, true, err
		}
		d.send(ctx, u.ActorID, "Cancelled.", mainMenuKeyboard())
		return Claimed, true, nil
	case "/add":
		return Claimed, true, d.add.Start(ctx, u)
	case "/check":
		return Claimed, true, d.check.Start(ctx, u)
	case "/tag":
		return Claimed, true, d.tag.Start(ctx, u)
	case "/transfer":
		return Claimed, true, d.transfer.Start(ctx, u)
	default:
		// /skip and unknown commands fall through to the active flow.
		return Unclaimed, false, nil
	}
}

func (d *Dispatcher) routeCallback(ctx context.Context, u *models.Update) (Result, error) {
	// Acknowledge immediately; a failed ack only leaves a spinner.
	if u.CallbackID != "" {
		if err := d.deps.Msg.AnswerCallback(ctx, u.CallbackID, ""); err != nil {
			slog.Debug("Dispatcher callback ack failed", "error", err, "actor", u.ActorID)
		}
	}

	cb := u.Callback
	switch {
	case cb == cbActionAdd:
		return Claimed, d.add.Start(ctx, u)
	case cb == cbActionCheck:
		return Claimed, d.check.Start(ctx, u)
	case cb == cbFwdAdd || cb == cbFwdCheck:
		return d.extract.HandleCallback(ctx, u)
	case strings.HasPrefix(cb, cbEditLeadPrefix):
		return d.edit.StartForLead(ctx, u, strings.TrimPrefix(cb, cbEditLeadPrefix))
	case strings.HasPrefix(cb, "add_"):
		return d.add.HandleCallback(ctx, u)
	case strings.HasPrefix(cb, "edit_"):
		return d.edit.HandleCallback(ctx, u)
	case strings.HasPrefix(cb, "tag_"):
		return d.tag.HandleCallback(ctx, u)
	case strings.HasPrefix(cb, "transfer_"):
		return d.transfer.HandleCallback(ctx, u)
	default:
		slog.Debug("Dispatcher ignoring unknown callback", "callback", cb, "actor", u.ActorID)
		return Claimed, nil
	}
}

func (d *Dispatcher) routeFlowText(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	switch st.FlowType {
	case models.FlowTypeAdd:
		return d.add.HandleText(ctx, u, st)
	case models.FlowTypeCheck:
		return d.check.HandleText(ctx, u, st)
	case models.FlowTypeEdit:
		return d.edit.HandleText(ctx, u, st)
	case models.FlowTypeTag:
		return d.tag.HandleText(ctx, u, st)
	case models.FlowTypeTransfer:
		return d.transfer.HandleText(ctx, u, st)
	default:
		slog.Warn("Dispatcher found unknown flow type, clearing", "flowType", st.FlowType, "actor", u.ActorID)
		return Unclaimed, d.deps.States.Clear(ctx, u.ActorID)
	}
}

// mainMenu is the fallback for unclaimed updates: any leftover flow state is
// cleared and the menu is shown.
func (d *Dispatcher) mainMenu(ctx context.Context, u *models.Update) {
	if err := d.deps.States.Clear(ctx, u.ActorID); err != nil {
		slog.Error("Dispatcher fallback clear failed", "error", err, "actor", u.ActorID)
	}
	d.send(ctx, u.ActorID, mainMenuText, mainMenuKeyboard())
}

// reportError maps the error taxonomy onto user-facing messages. Store
// failures and exhausted PIN gates terminate whatever flow produced them:
// the ephemeral trail is drained, the session is cleared and the operator is
// put back on the main menu.
func (d *Dispatcher) reportError(ctx context.Context, u *models.Update, err error) {
	slog.Error("Dispatcher handler failed", "error", err, "actor", u.ActorID)
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		d.drainEphemeral(ctx, u.ActorID, 0)
		if cerr := d.deps.States.Clear(ctx, u.ActorID); cerr != nil {
			slog.Error("Dispatcher clear after store failure failed", "error", cerr, "actor", u.ActorID)
		}
		d.send(ctx, u.ActorID, "Storage is temporarily unavailable. Please try again in a minute.", mainMenuKeyboard())
	case errors.Is(err, ErrUniquenessConflict):
		field := "identifier"
		var ce *ConflictError
		if errors.As(err, &ce) {
			field = fieldLabel(ce.Field)
		}
		d.send(ctx, u.ActorID, fmt.Sprintf("A lead with this %s already exists. Nothing was saved.", field), mainMenuKeyboard())
	case errors.Is(err, ErrAttemptLimit):
		d.send(ctx, u.ActorID, "Too many wrong PIN attempts.", mainMenuKeyboard())
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrStaleState):
		d.send(ctx, u.ActorID, "That operation has expired. Start again from the menu.", mainMenuKeyboard())
	default:
		d.send(ctx, u.ActorID, "Something went wrong. Please try again.", nil)
	}
}

// send is a fire-and-forget message helper; delivery failures are logged,
// never propagated.
func (d *Dispatcher) send(ctx context.Context, actor int64, text string, kb [][]models.Button) {
	if _, err := d.deps.Msg.SendMessage(ctx, actor, text, kb); err != nil {
		slog.Error("Dispatcher send failed", "error", err, "actor", actor)
	}
}

// drainEphemeral deletes tracked prompt and result messages, keeping keep.
func (d *Dispatcher) drainEphemeral(ctx context.Context, actor int64, keep int64) {
	var ids []int64
	if keep != 0 {
		ids = d.deps.Tracker.DrainAll(actor, keep)
	} else {
		ids = d.deps.Tracker.DrainAll(actor)
	}
	for _, id := range ids {
		if err := d.deps.Msg.DeleteMessage(ctx, actor, id); err != nil {
			slog.Debug("Dispatcher ephemeral delete failed", "error", err, "actor", actor, "message_id", id)
		}
	}
}
