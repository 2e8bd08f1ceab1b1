package validation

import (
	"strings"
	"testing"
)

func TestValidEmail(t *testing.T) {
	valids := []string{"a@example.com", "first.last+tag@sub.example.io"}
	for _, v := range valids {
		if !ValidEmail(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	invalids := []string{
		"",
		"plain",
		"@example.com",
		"a@localhost",
		"Name <a@example.com>",
		"a@example.com extra",
		strings.Repeat("a", 250) + "@x.io",
	}
	for _, v := range invalids {
		if ValidEmail(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  A@Example.COM "); got != "a@example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestMaskEmail(t *testing.T) {
	cases := map[string]string{
		"alice@example.com": "a…@e….com",
		"":                  "",
		"ab":                "***",
	}
	for in, want := range cases {
		if got := MaskEmail(in); got != want {
			t.Fatalf("MaskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidApplicationID(t *testing.T) {
	for _, v := range []string{"a", "app-1", "App_2.prod", strings.Repeat("a", 64)} {
		if !ValidApplicationID(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	for _, v := range []string{"", "-lead", "trail.", "bad space", "semi;colon", strings.Repeat("a", 65)} {
		if ValidApplicationID(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}
