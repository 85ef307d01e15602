package store

import (
	"strings"

	"github.com/Markl1n1/SMM-Leads-sub000/internal/models"
)

var leadColumns = map[string]bool{
	"fullname":      true,
	"facebook_link": true,
	"telegram_name": true,
	"telegram_id":   true,
	"manager_name":  true,
	"manager_tag":   true,
}

// validLeadColumn guards filter columns against injection; only known lead
// columns are queryable.
func validLeadColumn(col string) bool {
	return leadColumns[col]
}

// validTableName guards the configured table name against injection: a plain
// SQL identifier, nothing else.
func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// nilIfEmpty returns nil for empty strings, for nullable columns.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// patchAssignments renders a LeadPatch into SET clauses and args.
// placeholder renders the positional placeholder for the i-th argument
// (0-based), allowing both ? and $n styles.
func patchAssignments(patch models.LeadPatch, placeholder func(i int) string) ([]string, []any) {
	var sets []string
	var args []any
	add := func(col string, v *string) {
		if v == nil {
			return
		}
		sets = append(sets, col+" = "+placeholder(len(args)))
		args = append(args, nilIfEmpty(*v))
	}
	add("fullname", patch.Fullname)
	add("facebook_link", patch.FacebookLink)
	add("telegram_name", patch.TelegramName)
	add("telegram_id", patch.TelegramID)
	add("manager_name", patch.ManagerName)
	add("manager_tag", patch.ManagerTag)
	add("photo_url", patch.PhotoURL)
	return sets, args
}

func joinAssignments(sets []string) string {
	return strings.Join(sets, ", ")
}
