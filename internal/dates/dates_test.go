package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday, 10 September 2025
var now = time.Date(2025, time.September, 10, 14, 30, 0, 0, time.UTC)

func norm(t *testing.T, in string) string {
	t.Helper()
	out, ok := NormalizeString(in, now)
	require.True(t, ok, "expected %q to parse", in)
	return out
}

func TestRoundTrip(t *testing.T) {
	assert.Equal(t, "2025-03-15", norm(t, "15.03.2025"))
	assert.Equal(t, "2025-03-15", norm(t, "2025-03-15"))
}

func TestNotADate(t *testing.T) {
	for _, in := range []string{"not a date", "", "   ", "tbd", "31.02.2025", "32/01/2025", "next blursday", "13.13.2025"} {
		_, ok := Parse(in, now)
		assert.False(t, ok, "input %q", in)
	}
}

func TestNumericFormats(t *testing.T) {
	cases := map[string]string{
		"1.4.2026":             "2026-04-01",
		"15.03.25":             "2025-03-15",
		"15. 03. 2025":         "2025-03-15",
		"05/04/2025":           "2025-04-05", // day first when ambiguous
		"25/12/2025":           "2025-12-25",
		"12/25/2025":           "2025-12-25", // a component over 12 is the day
		"15-03-2025":           "2025-03-15",
		"2025-3-7":             "2025-03-07",
		"2025-03-15T10:00:00Z": "2025-03-15",
		"2025-03-15 08:00:00":  "2025-03-15",
	}
	for in, want := range cases {
		assert.Equal(t, want, norm(t, in), "input %q", in)
	}
}

func TestMonthNames(t *testing.T) {
	assert.Equal(t, "2025-03-15", norm(t, "March 15, 2025"))
	assert.Equal(t, "2025-03-15", norm(t, "15 March 2025"))
	assert.Equal(t, "2025-03-15", norm(t, "15. März 2025"))
	assert.Equal(t, "2026-01-03", norm(t, "3rd of January"))
	assert.Equal(t, "2025-10-01", norm(t, "Oct 1"))
}

func TestEarlyMidLate(t *testing.T) {
	// March has passed relative to September, so it rolls to next year.
	assert.Equal(t, "2026-03-15", norm(t, "mid-March"))
	assert.Equal(t, "2026-03-05", norm(t, "early March"))
	assert.Equal(t, "2025-09-25", norm(t, "late September"))
	assert.Equal(t, "2025-11-05", norm(t, "Early-November"))
	assert.Equal(t, "2027-03-25", norm(t, "late March 2027"))

	// the anchor day itself is not in the past
	onTheDay := time.Date(2025, time.March, 15, 23, 0, 0, 0, time.UTC)
	out, ok := NormalizeString("mid-March", onTheDay)
	require.True(t, ok)
	assert.Equal(t, "2025-03-15", out)
}

func TestRelativeDays(t *testing.T) {
	assert.Equal(t, "2025-09-10", norm(t, "today"))
	assert.Equal(t, "2025-09-11", norm(t, "tomorrow"))
	assert.Equal(t, "2025-09-17", norm(t, "next Wednesday"))
	assert.Equal(t, "2025-09-10", norm(t, "this Wednesday"))
	assert.Equal(t, "2025-09-12", norm(t, "next friday"))
	assert.Equal(t, "2025-09-15", norm(t, "Monday"))
	assert.Equal(t, "2025-09-13", norm(t, "in 3 days"))
	assert.Equal(t, "2025-09-24", norm(t, "in 2 weeks"))
	assert.Equal(t, "2025-09-17", norm(t, "next week"))
}

func TestParseUsesNowLocation(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	got, ok := Parse("15.03.2025", time.Date(2025, 1, 1, 0, 0, 0, 0, berlin))
	require.True(t, ok)
	assert.Equal(t, berlin, got.Location())
	assert.Equal(t, 0, got.Hour())
}
