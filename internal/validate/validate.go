// Package validate holds the pure field validators and normalizers used by
// every flow. All functions are side-effect free; callers decide how to
// render rejections.
package validate

import (
	"net/url"
	"strings"
	"unicode"
)

// MaxTextFieldLen caps free-text fields (fullname, manager name).
const MaxTextFieldLen = 500

// NormalizeTelegramID keeps only the digits of the input.
func NormalizeTelegramID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeTag reduces a manager tag to a bare username: t.me prefixes and @
// markers are stripped, anything after a path separator or query is dropped.
func NormalizeTag(tag string) string {
	normalized := strings.TrimSpace(tag)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/"} {
		if strings.HasPrefix(normalized, prefix) {
			normalized = strings.TrimSpace(strings.TrimPrefix(normalized, prefix))
			break
		}
	}
	normalized = strings.TrimSpace(strings.ReplaceAll(normalized, "@", ""))
	if i := strings.IndexByte(normalized, '/'); i >= 0 {
		normalized = normalized[:i]
	}
	if i := strings.IndexByte(normalized, '?'); i >= 0 {
		normalized = normalized[:i]
	}
	return normalized
}

// NormalizeTextField trims, collapses internal whitespace, strips
// non-printable characters and caps the length. Returns "" when nothing
// printable remains.
func NormalizeTextField(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	var b strings.Builder
	for _, r := range normalized {
		if unicode.IsPrint(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	normalized = strings.TrimSpace(b.String())
	if len(normalized) > MaxTextFieldLen {
		runes := []rune(normalized)
		if len(runes) > MaxTextFieldLen {
			normalized = string(runes[:MaxTextFieldLen])
		}
	}
	return normalized
}

// EscapeHTML escapes the characters significant to the transport's HTML
// parse mode.
func EscapeHTML(text string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(text)
}

// FormatFacebookLinkForDisplay expands a canonical link value back to a full
// profile URL for rendering.
func FormatFacebookLinkForDisplay(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return v
	}
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return v
	}
	if isDigits(v) {
		return "https://www.facebook.com/profile.php?id=" + v
	}
	return "https://www.facebook.com/" + v
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hasURLPatterns(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "facebook.com") ||
		strings.Contains(lower, "http://") ||
		strings.Contains(lower, "https://") ||
		strings.Contains(lower, "www.")
}

// HasURLShape reports whether the value looks like a URL rather than a bare
// token. Used by the ambiguity guard in the check flow.
func HasURLShape(s string) bool {
	return hasURLPatterns(s)
}

func isUsernameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-'
}

// isASCIIUsernameRune is the charset of a bare profile username. Stricter
// than isUsernameRune: external profile usernames are ASCII, so a Cyrillic
// word is a person's name, not a link.
func isASCIIUsernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
}

func trimTrailingJunk(s string) string {
	for len(s) > 0 {
		r := rune(s[len(s)-1])
		if isUsernameRune(r) {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

// ValidateFacebookLink validates an external profile link and extracts its
// canonical value: a bare numeric id of 14+ digits, a bare username token, or
// the trailing path segment / id= query value of a profile URL.
// Returns (ok, canonical value).
func ValidateFacebookLink(link string) (bool, string) {
	clean := strings.TrimSpace(link)
	clean = strings.TrimPrefix(clean, "@")
	if clean == "" {
		return false, ""
	}

	if isDigits(clean) && len(clean) >= 14 {
		return true, clean
	}

	if !hasURLPatterns(clean) {
		// Bare username token: at least one letter, ASCII charset, length 3+.
		if !strings.ContainsAny(clean, " \t") {
			hasLetter := false
			valid := true
			for _, r := range clean {
				if unicode.IsLetter(r) {
					hasLetter = true
				}
				if !isASCIIUsernameRune(r) {
					valid = false
					break
				}
			}
			if hasLetter && valid && len(clean) >= 3 {
				return true, clean
			}
		}
		return false, ""
	}

	lower := strings.ToLower(clean)
	isFacebookURL := strings.Contains(lower, "facebook.com/")
	if !isFacebookURL {
		return false, ""
	}

	toParse := clean
	if !strings.HasPrefix(toParse, "http") {
		toParse = "https://" + toParse
	}
	parsed, err := url.Parse(toParse)
	if err != nil {
		return false, ""
	}

	if id := parsed.Query().Get("id"); id != "" {
		digits := NormalizeTelegramID(id)
		if len(digits) >= 5 {
			return true, digits
		}
	} else if i := strings.Index(clean, "id="); i >= 0 {
		// id= embedded in a malformed query; take the digit run after it.
		var digits strings.Builder
		for _, r := range clean[i+3:] {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
				continue
			}
			break
		}
		if digits.Len() >= 5 {
			return true, digits.String()
		}
	}

	path := strings.Trim(parsed.Path, "/")
	if path != "" {
		parts := strings.Split(path, "/")
		username := parts[len(parts)-1]
		if i := strings.IndexAny(username, "?#"); i >= 0 {
			username = username[:i]
		}
		username = trimTrailingJunk(username)
		if username != "" {
			return true, username
		}
	}
	return false, ""
}

// ValidateTelegramName normalizes a handle: internal whitespace and @ markers
// removed. Rejected when empty or when the input has URL shape (it would be
// ambiguous with an external link).
func ValidateTelegramName(name string) (bool, string) {
	if hasURLPatterns(name) {
		return false, ""
	}
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, name)
	normalized = strings.TrimSpace(strings.ReplaceAll(normalized, "@", ""))
	if normalized == "" {
		return false, ""
	}
	return true, normalized
}

// ValidateTelegramID accepts digits-only input.
func ValidateTelegramID(id string) (bool, string) {
	if !isDigits(strings.TrimSpace(id)) {
		return false, ""
	}
	return true, NormalizeTelegramID(id)
}
