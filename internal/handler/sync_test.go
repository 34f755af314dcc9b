package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidLogicalDate(t *testing.T) {
	valid := []string{"2026-01-01", "2026-12-31", "1999-02-28", "2024-02-29"}
	for _, s := range valid {
		assert.True(t, validLogicalDate(s), s)
	}

	invalid := []string{
		"",
		"2026-1-01",              // single-digit month
		"2026-01-1",              // single-digit day
		"26-01-01",               // two-digit year
		"2026/01/01",             // wrong separator
		"2026-01-01T00:00:00Z",   // timestamp
		"2026-01-01 ",            // trailing space
		" 2026-01-01",            // leading space
		"2026-13-01",             // month out of range
		"2026-00-10",             // month zero
		"2026-02-30",             // day out of range for month
		"2025-02-29",             // not a leap year
		"20260101",               // no separators
		"yyyy-mm-dd",             // not numeric
	}
	for _, s := range invalid {
		assert.False(t, validLogicalDate(s), "%q should be rejected", s)
	}
}
