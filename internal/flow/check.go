package flow

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/store"
	"github.com/Markl1n1/SMM-Leads-sub000/internal/validate"
)

// Result set bounds: general searches cap at 50 rows, fullname substring
// searches at 30 ordered by recency.
const (
	checkResultCap   = 50
	fullnameCap      = 30
	csvThresholdLen  = 3800
	minCaptionSearch = 3
)

// CheckLeadFlow resolves free-text queries against the lead store using
// smart field detection, and renders results as a detail view, a numbered
// list, or a CSV export when the list outgrows one message.
type CheckLeadFlow struct {
	d *Deps
}

// Start begins the check flow.
func (f *CheckLeadFlow) Start(ctx context.Context, u *models.Update) error {
	if err := f.d.States.Begin(ctx, u.ActorID, models.FlowTypeCheck, models.StateSmartCheckInput); err != nil {
		return err
	}
	slog.Debug("CheckLeadFlow started", "actor", u.ActorID)
	_, err := f.d.Msg.SendMessage(ctx, u.ActorID,
		"Send a name, @username, link or id to check. /q to quit.", nil)
	return err
}

// HandleText runs one search; the flow stays active for repeated queries.
func (f *CheckLeadFlow) HandleText(ctx context.Context, u *models.Update, st *models.FlowState) (Result, error) {
	if st.CurrentState != models.StateSmartCheckInput {
		return Unclaimed, nil
	}
	text := strings.TrimSpace(u.Text)
	if text == "" || text == "/skip" {
		return Claimed, nil
	}
	leads, err := f.search(ctx, text)
	if err != nil {
		return Claimed, err
	}
	return Claimed, f.render(ctx, u, leads, text)
}

// search classifies the query and runs the matching store lookups.
func (f *CheckLeadFlow) search(ctx context.Context, query string) ([]models.Lead, error) {
	// A bare token that validates as both a handle and a link id searches
	// both columns instead of guessing.
	if validate.IsAmbiguousHandleOrLink(query) {
		_, handle := validate.ValidateTelegramName(query)
		_, link := validate.ValidateFacebookLink(query)
		slog.Debug("CheckLeadFlow ambiguous token, searching both columns", "query", query)
		return f.merged(ctx, checkResultCap,
			store.Filter{Field: "telegram_name", Value: handle, Op: store.OpEq},
			store.Filter{Field: "facebook_link", Value: link, Op: store.OpEq},
		)
	}

	field, normalized := validate.DetectSearchType(query)
	slog.Debug("CheckLeadFlow detected search field", "field", field, "query", query)
	switch field {
	case validate.SearchTelegramID:
		return f.merged(ctx, checkResultCap,
			store.Filter{Field: "telegram_id", Value: normalized, Op: store.OpEq})
	case validate.SearchTelegramName:
		return f.merged(ctx, checkResultCap,
			store.Filter{Field: "telegram_name", Value: normalized, Op: store.OpEq})
	case validate.SearchFacebookLink:
		filters := []store.Filter{{Field: "facebook_link", Value: normalized, Op: store.OpEq}}
		if stripped := strings.TrimSpace(query); stripped != normalized {
			// Link input may be stored in its original shape by older records.
			filters = append(filters, store.Filter{Field: "facebook_link", Value: stripped, Op: store.OpEq})
		}
		return f.merged(ctx, checkResultCap, filters...)
	case validate.SearchFullname:
		return f.merged(ctx, fullnameCap,
			store.Filter{Field: "fullname", Value: normalized, Op: store.OpContains, Limit: fullnameCap, OrderDesc: true})
	default:
		return f.searchEverywhere(ctx, query)
	}
}

// searchEverywhere is the unknown-input fallback: one query per candidate
// column, merged by record id.
func (f *CheckLeadFlow) searchEverywhere(ctx context.Context, query string) ([]models.Lead, error) {
	stripped := strings.TrimSpace(query)
	filters := []store.Filter{
		{Field: "telegram_name", Value: stripped, Op: store.OpEq},
		{Field: "fullname", Value: stripped, Op: store.OpContains, Limit: checkResultCap},
		{Field: "manager_name", Value: stripped, Op: store.OpContains, Limit: checkResultCap},
		{Field: "facebook_link", Value: stripped, Op: store.OpEq},
	}
	if digits := validate.NormalizeTelegramID(stripped); digits != "" {
		filters = append(filters, store.Filter{Field: "telegram_id", Value: digits, Op: store.OpEq})
	}
	return f.merged(ctx, checkResultCap, filters...)
}

// merged runs the filters in order, deduplicates by record id and caps the
// result set.
func (f *CheckLeadFlow) merged(ctx context.Context, limit int, filters ...store.Filter) ([]models.Lead, error) {
	seen := make(map[int64]bool)
	var out []models.Lead
	for _, filter := range filters {
		leads, err := f.d.Store.SelectLeads(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, l := range leads {
			if seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			out = append(out, l)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// CheckExtracted searches with fields extracted from a forwarded message or
// photo caption instead of typed input.
func (f *CheckLeadFlow) CheckExtracted(ctx context.Context, u *models.Update, fields map[models.DataKey]string) error {
	var filters []store.Filter
	for _, key := range models.IdentifierFieldKeys {
		if v := fields[key]; v != "" {
			filters = append(filters, store.Filter{Field: string(key), Value: v, Op: store.OpEq})
		}
	}
	if name := fields[models.DataKeyFullname]; len([]rune(name)) >= minCaptionSearch {
		filters = append(filters, store.Filter{Field: "fullname", Value: name, Op: store.OpContains, Limit: fullnameCap, OrderDesc: true})
	}
	if len(filters) == 0 {
		_, err := f.d.Msg.SendMessage(ctx, u.ActorID, "Nothing checkable could be extracted from that message.", nil)
		return err
	}
	leads, err := f.merged(ctx, checkResultCap, filters...)
	if err != nil {
		return err
	}
	return f.render(ctx, u, leads, "forwarded data")
}

// SearchCaption serves a photo sent mid-check: the caption is treated as a
// fullname query.
func (f *CheckLeadFlow) SearchCaption(ctx context.Context, u *models.Update) error {
	caption := validate.NormalizeTextField(u.Caption)
	if len([]rune(caption)) < minCaptionSearch {
		_, err := f.d.Msg.SendMessage(ctx, u.ActorID,
			"Add a caption of at least 3 characters to search by name.", nil)
		return err
	}
	leads, err := f.merged(ctx, fullnameCap,
		store.Filter{Field: "fullname", Value: caption, Op: store.OpContains, Limit: fullnameCap, OrderDesc: true})
	if err != nil {
		return err
	}
	return f.render(ctx, u, leads, caption)
}

// render shows the result set, replacing the previous batch of result
// messages.
func (f *CheckLeadFlow) render(ctx context.Context, u *models.Update, leads []models.Lead, query string) error {
	actor := u.ActorID
	for _, id := range f.d.Tracker.DrainCheckResults(actor) {
		if err := f.d.Msg.DeleteMessage(ctx, actor, id); err != nil {
			slog.Debug("CheckLeadFlow stale result delete failed", "error", err, "actor", actor, "message_id", id)
		}
	}

	switch {
	case len(leads) == 0:
		id, err := f.d.Msg.SendMessage(ctx, actor,
			fmt.Sprintf("Nothing found for \"%s\".\nTry a @username, a numeric id, a link, or a name of 3+ characters.",
				validate.EscapeHTML(query)), nil)
		if err != nil {
			return err
		}
		f.d.Tracker.TrackCheckResult(actor, id)
		return nil

	case len(leads) == 1:
		return f.renderDetail(ctx, u, &leads[0])

	default:
		return f.renderList(ctx, u, leads, query)
	}
}

func (f *CheckLeadFlow) renderDetail(ctx context.Context, u *models.Update, lead *models.Lead) error {
	actor := u.ActorID
	text := formatLead(lead)
	kb := [][]models.Button{
		models.Row(models.Button{Label: "✏️ Edit", Data: cbEditLeadPrefix + strconv.FormatInt(lead.ID, 10)}),
	}

	var id int64
	var err error
	if lead.PhotoURL != "" && f.d.Cfg.PhotosEnabled {
		id, err = f.d.Msg.SendPhoto(ctx, actor, lead.PhotoURL, text, kb)
		if err != nil {
			slog.Warn("CheckLeadFlow photo render failed, falling back to text", "error", err, "lead_id", lead.ID)
			id, err = f.d.Msg.SendMessage(ctx, actor, text, kb)
		}
	} else {
		id, err = f.d.Msg.SendMessage(ctx, actor, text, kb)
	}
	if err != nil {
		return err
	}
	f.d.Tracker.TrackCheckResult(actor, id)
	return nil
}

func (f *CheckLeadFlow) renderList(ctx context.Context, u *models.Update, leads []models.Lead, query string) error {
	actor := u.ActorID
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d leads for \"%s\":\n\n", len(leads), validate.EscapeHTML(query))
	for i := range leads {
		b.WriteString(formatLeadLine(i+1, &leads[i]))
		b.WriteByte('\n')
	}
	text := b.String()

	// A list that would not fit in one message ships as a CSV file instead
	// of being truncated.
	if len(text) > csvThresholdLen {
		operator, _ := managerIdentity(u.From)
		filename := csvFilename(operator, time.Now())
		id, err := f.d.Msg.SendDocument(ctx, actor, filename, leadsCSV(leads),
			fmt.Sprintf("%d leads for \"%s\"", len(leads), query))
		if err != nil {
			return err
		}
		f.d.Tracker.TrackCheckResult(actor, id)
		slog.Debug("CheckLeadFlow exported CSV", "actor", actor, "leads", len(leads), "filename", filename)
		return nil
	}

	id, err := f.d.Msg.SendMessage(ctx, actor, text, nil)
	if err != nil {
		return err
	}
	f.d.Tracker.TrackCheckResult(actor, id)
	return nil
}

// leadsCSV renders leads as UTF-8 CSV with a BOM so spreadsheet apps detect
// the encoding.
func leadsCSV(leads []models.Lead) []byte {
	var buf bytes.Buffer
	buf.WriteString("\uFEFF")
	w := csv.NewWriter(&buf)
	w.Write([]string{"id", "fullname", "facebook_link", "telegram_name", "telegram_id", "manager_name", "manager_tag", "created_at"})
	for _, l := range leads {
		w.Write([]string{
			strconv.FormatInt(l.ID, 10),
			l.Fullname,
			l.FacebookLink,
			l.TelegramName,
			l.TelegramID,
			l.ManagerName,
			l.ManagerTag,
			l.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	w.Flush()
	return buf.Bytes()
}

// csvFilename builds agent-<sanitized>-<date>.csv from the operator name.
func csvFilename(operator string, now time.Time) string {
	var b strings.Builder
	for _, r := range strings.ToLower(operator) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "export"
	}
	return fmt.Sprintf("agent-%s-%s.csv", name, now.Format("2006-01-02"))
}
