package validate

import "testing"

func TestNormalizeTextField(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Ivan   Ivanov  ", "Ivan Ivanov"},
		{"\tJohn\nSmith", "John Smith"},
		{"", ""},
		{"   ", ""},
		{"a\x00b", "ab"},
	}
	for _, c := range cases {
		if got := NormalizeTextField(c.in); got != c.want {
			t.Errorf("NormalizeTextField(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeTextFieldCapsLength(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	got := NormalizeTextField(string(long))
	if len(got) != MaxTextFieldLen {
		t.Errorf("expected cap at %d chars, got %d", MaxTextFieldLen, len(got))
	}
}

func TestNormalizeTag(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"@manager", "manager"},
		{"https://t.me/manager", "manager"},
		{"t.me/manager/extra", "manager"},
		{"manager?start=1", "manager"},
		{"  @manager  ", "manager"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeTag(c.in); got != c.want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeTelegramID(t *testing.T) {
	if got := NormalizeTelegramID("a1b2c3"); got != "123" {
		t.Errorf("expected digits only, got %q", got)
	}
	if got := NormalizeTelegramID(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestValidateFacebookLink(t *testing.T) {
	cases := []struct {
		in     string
		ok     bool
		normal string
	}{
		{"12345678901234", true, "12345678901234"},             // bare numeric id, 14 digits
		{"1234567890123", false, ""},                           // 13 digits is not a bare link id
		{"alice", true, "alice"},                               // bare username token
		{"al", false, ""},                                      // too short
		{"123456", false, ""},                                  // digits only, no letter
		{"https://www.facebook.com/alice", true, "alice"},      // full URL
		{"facebook.com/alice", true, "alice"},                  // schemeless
		{"m.facebook.com/profile.php?id=123456789", true, "123456789"},
		{"https://facebook.com/profile.php?id=1234", true, "profile.php"}, // id too short, path segment wins
		{"https://facebook.com/pages/alice/", true, "alice"},
		{"https://example.com/alice?x=1", false, ""}, // not a facebook URL
		{"", false, ""},
		{"has space", false, ""},
		{"Иван", false, ""}, // Cyrillic word is a name, not a username
	}
	for _, c := range cases {
		ok, normal := ValidateFacebookLink(c.in)
		if ok != c.ok || normal != c.normal {
			t.Errorf("ValidateFacebookLink(%q) = (%v, %q), want (%v, %q)", c.in, ok, normal, c.ok, c.normal)
		}
	}
}

func TestValidateFacebookLinkRoundTrip(t *testing.T) {
	ok, first := ValidateFacebookLink("https://www.facebook.com/alice?x=1")
	if !ok || first != "alice" {
		t.Fatalf("first normalize = (%v, %q), want (true, alice)", ok, first)
	}
	ok, second := ValidateFacebookLink(first)
	if !ok || second != first {
		t.Errorf("re-normalize = (%v, %q), want idempotent %q", ok, second, first)
	}
}

func TestValidateTelegramName(t *testing.T) {
	cases := []struct {
		in     string
		ok     bool
		normal string
	}{
		{"@alice", true, "alice"},
		{"al ice", true, "alice"},
		{"@", false, ""},
		{"", false, ""},
		{"https://facebook.com/alice", false, ""}, // link shape rejected
	}
	for _, c := range cases {
		ok, normal := ValidateTelegramName(c.in)
		if ok != c.ok || normal != c.normal {
			t.Errorf("ValidateTelegramName(%q) = (%v, %q), want (%v, %q)", c.in, ok, normal, c.ok, c.normal)
		}
	}
}

func TestValidateTelegramID(t *testing.T) {
	if ok, normal := ValidateTelegramID("123456789"); !ok || normal != "123456789" {
		t.Errorf("expected digits accepted, got (%v, %q)", ok, normal)
	}
	for _, bad := range []string{"12a34", "", "12 34"} {
		if ok, _ := ValidateTelegramID(bad); ok {
			t.Errorf("ValidateTelegramID(%q) accepted, want rejected", bad)
		}
	}
}

func TestDetectSearchTypeDigitBoundaries(t *testing.T) {
	cases := []struct {
		in   string
		want SearchField
	}{
		{"1234567890", SearchTelegramID},       // exactly 10
		{"12345678901234", SearchFacebookLink}, // 14+
		{"123456789012", SearchTelegramID},     // 11-13, not a valid link id
		{"12345", SearchTelegramID},            // 5-9
		{"1234", SearchUnknown},                // <5 digits, no letters
	}
	for _, c := range cases {
		got, _ := DetectSearchType(c.in)
		if got != c.want {
			t.Errorf("DetectSearchType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDetectSearchTypeShapes(t *testing.T) {
	cases := []struct {
		in   string
		want SearchField
	}{
		{"https://www.facebook.com/alice", SearchFacebookLink},
		{"alice_doe", SearchTelegramName},
		{"Ivan Ivanov", SearchFullname},
		{"Иван Иванов", SearchFullname}, // Cyrillic prioritizes fullname
		{"Иван", SearchFullname},        // single Cyrillic word too
		{"Иванов", SearchFullname},      // even at handle-ish length
		{"ab", SearchUnknown},
		{"", SearchUnknown},
	}
	for _, c := range cases {
		got, _ := DetectSearchType(c.in)
		if got != c.want {
			t.Errorf("DetectSearchType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsAmbiguousHandleOrLink(t *testing.T) {
	if !IsAmbiguousHandleOrLink("alicek") {
		t.Error("6-char token valid as handle and link should be ambiguous")
	}
	if IsAmbiguousHandleOrLink("https://facebook.com/alice") {
		t.Error("URL-shaped input is never ambiguous")
	}
	if IsAmbiguousHandleOrLink("abcd") {
		t.Error("token below handle length is not ambiguous")
	}
	if IsAmbiguousHandleOrLink("Иванов") {
		t.Error("Cyrillic word is a name search, never ambiguous")
	}
}

func TestFormatFacebookLinkForDisplay(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"alice", "https://www.facebook.com/alice"},
		{"12345678901234", "https://www.facebook.com/profile.php?id=12345678901234"},
		{"https://facebook.com/alice", "https://facebook.com/alice"},
		{"", ""},
	}
	for _, c := range cases {
		if got := FormatFacebookLinkForDisplay(c.in); got != c.want {
			t.Errorf("FormatFacebookLinkForDisplay(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEscapeHTML(t *testing.T) {
	if got := EscapeHTML(`<b>&"`); got != "&lt;b&gt;&amp;\"" {
		t.Errorf("EscapeHTML = %q", got)
	}
}
