package engine

import (
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Size limits for model-facing and model-produced text.
const (
	maxContextChars     = 1000
	maxDescriptionChars = 500
)

// dateLayouts are the accepted forms of a temporal bound, most specific first.
var dateLayouts = []string{"2006-01-02", "2006-01", "2006"}

// parseDate parses a temporal bound in any of dateLayouts.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalizeDate returns s as YYYY-MM-DD, or "" when it is not a full date.
// Model output is held to the full form; partial dates are dropped.
func normalizeDate(s *string) string {
	if s == nil {
		return ""
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(*s))
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// clampUnit pins v to [0, 1]. NaN becomes 0.
func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// truncateClean truncates a string to maxLen bytes, cutting at the last word
// boundary to avoid mid-word breaks, and never inside a UTF-8 sequence.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]

	// Back up to last space
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > cut-200 && idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
