package services

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"Carto DB Layer - X", "Carto-DB-Layer-X"},
		{"  padded  name  ", "padded-name"},
		{"snake_case_name", "snake-case-name"},
		{"emoji 🌍 dropped", "emoji-dropped"},
		{"trailing hyphen -", "trailing-hyphen"},
		{"UPPER lower 123", "UPPER-lower-123"},
		{"---", ""},
		{"", ""},
	}

	for _, test := range tests {
		if got := slugify(test.name); got != test.expected {
			t.Errorf("slugify(%q) = %q, expected %q", test.name, got, test.expected)
		}
	}
}

func TestNextSlug(t *testing.T) {
	if got := nextSlug("base", 0); got != "base" {
		t.Errorf("expected first attempt to return the base, got %q", got)
	}
	if got := nextSlug("base", 1); got != "base_1" {
		t.Errorf("expected base_1, got %q", got)
	}
	if got := nextSlug("base", 17); got != "base_17" {
		t.Errorf("expected base_17, got %q", got)
	}
}
