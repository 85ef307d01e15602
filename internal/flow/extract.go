package flow

import (
	"context"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/validate"
)

// Extracted holds the lead data recoverable from a forwarded message or a
// photo message.
type Extracted struct {
	Fields       map[models.DataKey]string
	PhotoFileID  string
	FromBot      bool
	HiddenSender bool
}

// HasCheckable reports whether at least one extracted field can drive a
// lookup.
func (e *Extracted) HasCheckable() bool {
	for _, key := range models.IdentifierFieldKeys {
		if e.Fields[key] != "" {
			return true
		}
	}
	return len([]rune(e.Fields[models.DataKeyFullname])) >= minCaptionSearch
}

// Empty reports whether nothing usable was extracted.
func (e *Extracted) Empty() bool {
	return e.PhotoFileID == "" && len(e.Fields) == 0
}

// ExtractFromUpdate pulls lead data out of an inbound update: forward
// metadata, a facebook link in the text or caption, and the photo reference.
// Hidden senders yield only the photo and a link; the concealed identity is
// never guessed from the display name.
func ExtractFromUpdate(u *models.Update) Extracted {
	e := Extracted{Fields: make(map[models.DataKey]string)}

	if u.Forward != nil {
		e.FromBot = u.Forward.IsBot
		e.HiddenSender = u.Forward.HiddenSender
		if !e.HiddenSender {
			if u.Forward.SenderID > 0 {
				e.Fields[models.DataKeyTelegramID] = strconv.FormatInt(u.Forward.SenderID, 10)
			}
			if u.Forward.Username != "" {
				if ok, normalized := validate.ValidateTelegramName(u.Forward.Username); ok {
					e.Fields[models.DataKeyTelegramName] = normalized
				}
			}
			name := validate.NormalizeTextField(strings.TrimSpace(u.Forward.FirstName + " " + u.Forward.LastName))
			if name != "" {
				e.Fields[models.DataKeyFullname] = name
			}
		}
	}

	if link := findFacebookLink(u.Text + " " + u.Caption); link != "" {
		e.Fields[models.DataKeyFacebookLink] = link
	}

	// A plain photo's caption doubles as the lead name, unless the caption
	// is just a link.
	if u.Forward == nil && u.HasPhoto() && e.Fields[models.DataKeyFullname] == "" {
		name := validate.NormalizeTextField(u.Caption)
		if len([]rune(name)) >= minCaptionSearch && !validate.HasURLShape(name) {
			e.Fields[models.DataKeyFullname] = name
		}
	}

	if u.PhotoFileID != "" {
		e.PhotoFileID = u.PhotoFileID
	} else if u.DocumentID != "" && isImageDocument(u.DocumentMIME, u.DocumentName) {
		e.PhotoFileID = u.DocumentID
	}

	return e
}

// isImageDocument reports whether an attached document is a usable photo.
// The MIME type decides when present; otherwise the file extension does.
func isImageDocument(mime, name string) bool {
	if strings.HasPrefix(mime, "image/") {
		return true
	}
	if mime != "" {
		return false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return true
	}
	return false
}

// findFacebookLink returns the first URL-shaped token that validates as a
// facebook link.
func findFacebookLink(text string) string {
	for _, token := range strings.Fields(text) {
		if !validate.HasURLShape(token) {
			continue
		}
		if ok, normalized := validate.ValidateFacebookLink(token); ok {
			return normalized
		}
	}
	return ""
}

// ExtractFlow intercepts forwarded messages and photos and routes the
// extracted data based on what flow is active.
type ExtractFlow struct {
	d     *Deps
	add   *AddLeadFlow
	check *CheckLeadFlow
}

// Handle routes a forwarded or photo update. st is the actor's active flow
// state, nil when idle.
func (f *ExtractFlow) Handle(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	extracted := ExtractFromUpdate(u)
	actor := u.ActorID

	if extracted.FromBot {
		slog.Debug("ExtractFlow rejecting forward from bot", "actor", actor)
		_, err := f.d.Msg.SendMessage(ctx, actor, "Forwards from bots are not supported.", nil)
		return Claimed, err
	}

	if st != nil {
		switch st.FlowType {
		case models.FlowTypeAdd:
			return Claimed, f.mergeIntoAdd(ctx, u, &extracted)
		case models.FlowTypeCheck:
			return Claimed, f.routeIntoCheck(ctx, u, &extracted)
		default:
			// Edit, tag and transfer are not interruptible by extraction.
			_, err := f.d.Msg.SendMessage(ctx, actor, "Finish the current operation first, or /q to quit it.", nil)
			return Claimed, err
		}
	}

	return f.offerChoice(ctx, u, &extracted)
}

// offerChoice stashes the extracted data and asks the idle actor whether to
// add or check.
func (f *ExtractFlow) offerChoice(ctx context.Context, u *models.Update, e *Extracted) (Result, error) {
	actor := u.ActorID
	if e.Empty() {
		if e.HiddenSender {
			_, err := f.d.Msg.SendMessage(ctx, actor,
				"The sender is hidden by privacy settings and nothing could be extracted.", nil)
			return Claimed, err
		}
		return Unclaimed, nil
	}

	f.stash(actor, e)

	var b strings.Builder
	b.WriteString("Extracted from the message:\n")
	if e.HiddenSender {
		b.WriteString("(the sender is hidden by privacy settings; only the photo and links are available)\n")
	}
	for _, key := range models.LeadFieldKeys {
		if v := e.Fields[key]; v != "" {
			display := v
			if key == models.DataKeyFacebookLink {
				display = validate.FormatFacebookLinkForDisplay(v)
			}
			b.WriteString(fieldLabel(key) + ": " + validate.EscapeHTML(display) + "\n")
		}
	}
	if e.PhotoFileID != "" {
		b.WriteString("Photo: attached\n")
	}
	b.WriteString("\nWhat would you like to do?")

	kb := [][]models.Button{models.Row(models.Button{Label: "➕ Add as lead", Data: cbFwdAdd})}
	if e.HasCheckable() {
		kb = append(kb, models.Row(models.Button{Label: "\U0001F50D Check", Data: cbFwdCheck}))
	}
	_, err := f.d.Msg.SendMessage(ctx, actor, b.String(), kb)
	return Claimed, err
}

// stash caches the extracted values in the session so the choice buttons can
// pick them up. No flow state is created yet.
func (f *ExtractFlow) stash(actor int64, e *Extracted) {
	for key, value := range e.Fields {
		f.d.Sessions.Set(actor, string(key), value)
	}
	if e.PhotoFileID != "" {
		f.d.Sessions.Set(actor, string(models.DataKeyPhotoFileID), e.PhotoFileID)
		f.d.Sessions.Set(actor, string(models.DataKeyHadPhoto), "1")
	}
	if e.Fields[models.DataKeyTelegramID] != "" || e.Fields[models.DataKeyTelegramName] != "" {
		f.d.Sessions.Set(actor, string(models.DataKeyForwardedSource), "1")
	}
}

// HandleCallback consumes the add-or-check choice.
func (f *ExtractFlow) HandleCallback(ctx context.Context, u *models.Update) (Result, error) {
	actor := u.ActorID
	switch u.Callback {
	case cbFwdAdd:
		return Claimed, f.startAddFromStash(ctx, u)
	case cbFwdCheck:
		fields := make(map[models.DataKey]string)
		for _, key := range models.LeadFieldKeys {
			if v, ok := f.d.Sessions.Get(actor, string(key)); ok {
				fields[key] = v
			}
		}
		f.d.Sessions.Delete(actor)
		return Claimed, f.check.CheckExtracted(ctx, u, fields)
	default:
		return Unclaimed, nil
	}
}

// startAddFromStash enters the add flow with the stashed fields already
// filled, jumping to review or asking only for the missing name.
func (f *ExtractFlow) startAddFromStash(ctx context.Context, u *models.Update) error {
	actor := u.ActorID
	preserve := append([]models.DataKey{}, addPreserved...)
	preserve = append(preserve, models.LeadFieldKeys...)
	if err := f.d.States.Begin(ctx, actor, models.FlowTypeAdd, models.StateAddFullname, preserve...); err != nil {
		return err
	}

	if f.d.States.Get(actor, models.DataKeyFullname) == "" {
		f.d.States.Set(actor, models.DataKeyReturnToReview, "1")
		if err := f.d.States.Transition(ctx, actor, models.StateAddFullname); err != nil {
			return err
		}
		f.add.prompt(ctx, actor, "Send the lead's full name to finish.")
		return nil
	}
	return f.add.toReview(ctx, actor)
}

// mergeIntoAdd merges extracted data into a running add flow without
// overwriting anything already collected, then jumps to review.
func (f *ExtractFlow) mergeIntoAdd(ctx context.Context, u *models.Update, e *Extracted) error {
	actor := u.ActorID
	for key, value := range e.Fields {
		f.d.States.SetIfEmpty(actor, key, value)
	}
	if e.PhotoFileID != "" {
		f.d.States.SetIfEmpty(actor, models.DataKeyPhotoFileID, e.PhotoFileID)
		f.d.States.Set(actor, models.DataKeyHadPhoto, "1")
	}
	if e.Fields[models.DataKeyTelegramID] != "" || e.Fields[models.DataKeyTelegramName] != "" {
		f.d.States.Set(actor, models.DataKeyForwardedSource, "1")
	}
	slog.Debug("ExtractFlow merged into add flow", "actor", actor, "fields", len(e.Fields), "photo", e.PhotoFileID != "")

	if f.d.States.Get(actor, models.DataKeyFullname) == "" {
		f.d.States.Set(actor, models.DataKeyReturnToReview, "1")
		if err := f.d.States.Transition(ctx, actor, models.StateAddFullname); err != nil {
			return err
		}
		f.add.prompt(ctx, actor, "Got it. Send the lead's full name to finish.")
		return nil
	}
	return f.add.toReview(ctx, actor)
}

// routeIntoCheck serves extraction during an active check: forwards search by
// their extracted fields, plain photos by caption.
func (f *ExtractFlow) routeIntoCheck(ctx context.Context, u *models.Update, e *Extracted) error {
	if u.IsForwarded() {
		return f.check.CheckExtracted(ctx, u, e.Fields)
	}
	return f.check.SearchCaption(ctx, u)
}
