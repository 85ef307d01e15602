package flow

import (
	"fmt"
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/validate"
)

// Callback tokens. Index-keyed selector tokens stay short because the list
// itself is cached in flow state.
const (
	cbActionAdd   = "action_add"
	cbActionCheck = "action_check"

	cbAddSave        = "add_save"
	cbAddEditMenu    = "add_edit"
	cbAddBack        = "add_back"
	cbAddCancel      = "add_cancel"
	cbAddFieldPrefix = "add_field_"
	cbAddSaveNoPhoto = "add_save_nophoto"

	cbFwdAdd   = "fwd_add"
	cbFwdCheck = "fwd_check"

	cbEditLeadPrefix  = "edit_lead_"
	cbEditFieldPrefix = "edit_field_"
	cbEditSave        = "edit_save"
	cbEditCancel      = "edit_cancel"

	cbTagManagerPrefix = "tag_mgr_"
	cbTagConfirm       = "tag_confirm"
	cbTagCancel        = "tag_cancel"

	cbTransferFromPrefix = "transfer_from_"
	cbTransferToPrefix   = "transfer_to_"
	cbTransferConfirm    = "transfer_confirm"
	cbTransferCancel     = "transfer_cancel"
)

// fieldLabels are the user-facing names of the lead fields.
var fieldLabels = map[models.DataKey]string{
	models.DataKeyFullname:     "Full name",
	models.DataKeyFacebookLink: "Facebook link",
	models.DataKeyTelegramName: "Telegram username",
	models.DataKeyTelegramID:   "Telegram ID",
	models.DataKeyManagerName:  "Manager",
}

func fieldLabel(key models.DataKey) string {
	if l, ok := fieldLabels[key]; ok {
		return l
	}
	return string(key)
}

func mainMenuKeyboard() [][]models.Button {
	return [][]models.Button{
		models.Row(models.Button{Label: "➕ Add lead", Data: cbActionAdd}),
		models.Row(models.Button{Label: "\U0001F50D Check lead", Data: cbActionCheck}),
	}
}

const mainMenuText = "What would you like to do?\n\n" +
	"/add — add a new lead\n" +
	"/check — check an existing lead\n" +
	"/q — cancel the current operation"

// formatLead renders a lead record as an HTML message body.
func formatLead(l *models.Lead) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", validate.EscapeHTML(l.Fullname))
	if l.FacebookLink != "" {
		fmt.Fprintf(&b, "Facebook: %s\n", validate.EscapeHTML(validate.FormatFacebookLinkForDisplay(l.FacebookLink)))
	}
	if l.TelegramName != "" {
		fmt.Fprintf(&b, "Telegram: @%s\n", validate.EscapeHTML(strings.TrimPrefix(l.TelegramName, "@")))
	}
	if l.TelegramID != "" {
		fmt.Fprintf(&b, "Telegram ID: <code>%s</code>\n", validate.EscapeHTML(l.TelegramID))
	}
	if l.ManagerName != "" {
		manager := validate.EscapeHTML(l.ManagerName)
		if l.ManagerTag != "" {
			manager += " (" + validate.EscapeHTML(l.ManagerTag) + ")"
		}
		fmt.Fprintf(&b, "Manager: %s\n", manager)
	}
	if !l.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Added: %s\n", l.CreatedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatLeadLine renders one row of a multi-result list.
func formatLeadLine(n int, l *models.Lead) string {
	parts := []string{validate.EscapeHTML(l.Fullname)}
	if l.TelegramName != "" {
		parts = append(parts, "@"+validate.EscapeHTML(strings.TrimPrefix(l.TelegramName, "@")))
	}
	if l.TelegramID != "" {
		parts = append(parts, "id "+validate.EscapeHTML(l.TelegramID))
	}
	if l.ManagerName != "" {
		parts = append(parts, "→ "+validate.EscapeHTML(l.ManagerName))
	}
	return fmt.Sprintf("%d. %s", n, strings.Join(parts, " | "))
}
