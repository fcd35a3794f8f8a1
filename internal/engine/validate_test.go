package engine

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2021-06-01", "2021-06-01", true},
		{"2021-06", "2021-06-01", true},
		{"2021", "2021-01-01", true},
		{" 2021 ", "2021-01-01", true},
		{"June 2021", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseDate(tt.in)
		if ok != tt.ok {
			t.Errorf("parseDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Format("2006-01-02") != tt.want {
			t.Errorf("parseDate(%q) = %s, want %s", tt.in, got.Format("2006-01-02"), tt.want)
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	s := func(v string) *string { return &v }
	if normalizeDate(s("2020-02-29")) != "2020-02-29" {
		t.Error("valid leap day rejected")
	}
	if normalizeDate(s("2021-02-29")) != "" {
		t.Error("invalid date accepted")
	}
	if normalizeDate(s("2021")) != "" {
		t.Error("partial date should be dropped")
	}
	if normalizeDate(nil) != "" {
		t.Error("nil should be empty")
	}
}

func TestClampUnit(t *testing.T) {
	tests := map[float64]float64{-0.5: 0, 0.4: 0.4, 1.7: 1}
	for in, want := range tests {
		if got := clampUnit(in); got != want {
			t.Errorf("clampUnit(%v) = %v, want %v", in, got, want)
		}
	}
	if clampUnit(math.NaN()) != 0 {
		t.Error("NaN should clamp to 0")
	}
}

func TestTruncateClean(t *testing.T) {
	s := "hello world this is a long string"
	result := truncateClean(s, 15)
	if len(result) > 15 {
		t.Errorf("truncateClean result too long: %d", len(result))
	}
	// Should cut at word boundary
	if strings.HasSuffix(result, " ") {
		t.Error("truncated result has trailing space")
	}
	if result != "hello world" {
		t.Errorf("truncateClean = %q, want %q", result, "hello world")
	}

	if truncateClean("short", 100) != "short" {
		t.Error("short strings should pass through")
	}
}

func TestTruncateCleanMultibyte(t *testing.T) {
	s := strings.Repeat("é", 20) // 40 bytes, no spaces
	result := truncateClean(s, 7)
	if !utf8.ValidString(result) {
		t.Errorf("truncateClean split a rune: %q", result)
	}
	if len(result) > 7 {
		t.Errorf("len = %d, want <= 7", len(result))
	}
}
