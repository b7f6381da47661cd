package gateway

import (
	"testing"

	"github.com/local/forumcast/internal/errs"
)

func TestNormalizeRefLiteralScenarios(t *testing.T) {
	got, err := normalizeRef("https://t.me/c/3301983683/879/9606")
	if err != nil {
		t.Fatalf("normalizeRef: %v", err)
	}
	if got.Kind != RefNumeric || got.ID != -1003301983683 {
		t.Fatalf("expected numeric -1003301983683, got %+v", got)
	}

	got, err = normalizeRef("https://t.me/example_group/123")
	if err != nil {
		t.Fatalf("normalizeRef: %v", err)
	}
	if got.Kind != RefUsername || got.Username != "@example_group" {
		t.Fatalf("expected @example_group, got %+v", got)
	}
}

func TestNormalizeRefVariants(t *testing.T) {
	cases := []struct {
		in   string
		kind RefKind
		id   int64
		user string
	}{
		{"-1001234", RefNumeric, -1001234, ""},
		{"1234", RefNumeric, 1234, ""},
		{"@someone", RefUsername, 0, "@someone"},
		{"someone", RefUsername, 0, "@someone"},
		{"t.me/someone", RefUsername, 0, "@someone"},
		{"t.me/c/555/10", RefNumeric, -100555, ""},
	}
	for _, c := range cases {
		got, err := normalizeRef(c.in)
		if err != nil {
			t.Fatalf("normalizeRef(%q): %v", c.in, err)
		}
		if got.Kind != c.kind || got.ID != c.id || got.Username != c.user {
			t.Errorf("normalizeRef(%q) = %+v, want kind=%v id=%d user=%q", c.in, got, c.kind, c.id, c.user)
		}
	}
}

func TestNormalizeRefEmptyIsInvalidInput(t *testing.T) {
	_, err := normalizeRef("   ")
	if !errs.Is(err, errs.InvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestNormalizeRefIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://t.me/c/3301983683/879/9606",
		"https://t.me/example_group/123",
		"-1001234",
		"@someone",
		"someone",
	}
	for _, in := range inputs {
		first, err := normalizeRef(in)
		if err != nil {
			t.Fatalf("normalizeRef(%q): %v", in, err)
		}
		second, err := normalizeRef(first.String())
		if err != nil {
			t.Fatalf("normalizeRef(%q): %v", first.String(), err)
		}
		if first != second {
			t.Errorf("normalizeRef not idempotent for %q: %+v != %+v", in, first, second)
		}
	}
}
