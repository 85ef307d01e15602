package validate

import (
	"strings"
	"unicode"
)

// SearchField identifies which lead column a free-text search input targets.
type SearchField string

// Search field constants.
const (
	SearchFacebookLink SearchField = "facebook_link"
	SearchTelegramID   SearchField = "telegram_id"
	SearchTelegramName SearchField = "telegram_name"
	SearchFullname     SearchField = "fullname"
	SearchUnknown      SearchField = "unknown"
)

func hasCyrillic(s string) bool {
	for _, r := range s {
		if r >= 0x0400 && r <= 0x04FF {
			return true
		}
	}
	return false
}

// DetectSearchType classifies a free-text search value and returns the
// targeted field with its normalized form.
//
// Digit-length boundaries: exactly 10 digits is a Telegram id; 14+ digits is
// an external-link id; 11-13 digits prefer the link interpretation when it
// validates; 5-9 digits is a Telegram id. URL-shaped input and bare link
// tokens resolve to facebook_link; non-Cyrillic tokens of 5+ username
// characters resolve to telegram_name; remaining text with letters or spaces
// of length 3+ falls back to fullname.
func DetectSearchType(value string) (SearchField, string) {
	stripped := strings.TrimSpace(value)
	if stripped == "" {
		return SearchUnknown, ""
	}

	if isDigits(stripped) {
		switch n := len(stripped); {
		case n == 10:
			return SearchTelegramID, NormalizeTelegramID(stripped)
		case n >= 14:
			if ok, normalized := ValidateFacebookLink(stripped); ok {
				return SearchFacebookLink, normalized
			}
		case n >= 11 && n <= 13:
			if ok, normalized := ValidateFacebookLink(stripped); ok {
				return SearchFacebookLink, normalized
			}
			return SearchTelegramID, NormalizeTelegramID(stripped)
		case n >= 5 && n <= 9:
			return SearchTelegramID, NormalizeTelegramID(stripped)
		}
	}

	if hasURLPatterns(stripped) {
		if ok, normalized := ValidateFacebookLink(stripped); ok {
			return SearchFacebookLink, normalized
		}
	}

	// Cyrillic input is always a name search; handles cannot contain it.
	if !hasCyrillic(stripped) {
		candidate := strings.TrimSpace(strings.ReplaceAll(stripped, "@", ""))
		if candidate != "" && !strings.Contains(candidate, " ") && len([]rune(candidate)) >= 5 {
			valid := true
			for _, r := range candidate {
				if !isUsernameRune(r) {
					valid = false
					break
				}
			}
			if valid {
				if ok, normalized := ValidateTelegramName(candidate); ok {
					return SearchTelegramName, normalized
				}
			}
		}
	}

	if !hasURLPatterns(stripped) {
		if ok, normalized := ValidateFacebookLink(stripped); ok {
			return SearchFacebookLink, normalized
		}
	}

	if strings.Contains(stripped, " ") || strings.IndexFunc(stripped, unicode.IsLetter) >= 0 {
		normalized := NormalizeTextField(stripped)
		if len([]rune(normalized)) >= 3 {
			return SearchFullname, normalized
		}
	}

	return SearchUnknown, stripped
}

// IsAmbiguousHandleOrLink reports whether a value validates as both a handle
// and a bare link token while having no URL shape. The check flow resolves
// this with an OR search across both columns instead of picking one.
func IsAmbiguousHandleOrLink(value string) bool {
	stripped := strings.TrimSpace(value)
	if stripped == "" || hasURLPatterns(stripped) || isDigits(stripped) {
		return false
	}
	fbOK, _ := ValidateFacebookLink(stripped)
	if !fbOK {
		return false
	}
	tgOK, normalized := ValidateTelegramName(stripped)
	return tgOK && len([]rune(normalized)) >= 5
}
