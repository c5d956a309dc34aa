package language

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"en", "en"},
		{"ENG", "en"},
		{"English", "en"},
		{"fre", "fr"},
		{"fra", "fr"},
		{"  deu  ", "de"},
		{"", ""},
		{"   ", ""},
		{"tlh", "tlh"},
		{"xx", "xx"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToISO2(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"jpn", "ja"},
		{"japanese", "ja"},
		{"chi", "zh"},
		{"xx", "xx"},
		{"tlh", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ToISO2(tc.in); got != tc.want {
			t.Errorf("ToISO2(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("de"); got != "German" {
		t.Fatalf("DisplayName(de) = %q", got)
	}
	if got := DisplayName(""); got != "Auto-detect" {
		t.Fatalf("DisplayName(empty) = %q", got)
	}
	if got := DisplayName("qq"); got != "QQ" {
		t.Fatalf("DisplayName(qq) = %q", got)
	}
}
