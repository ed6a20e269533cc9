// Package dates normalizes the date strings found in briefs ("15.03.2025",
// "03/15/2025", "mid-March", "next Wednesday") into calendar dates.
//
// Parsing is best effort: anything unrecognized yields ok == false so callers
// can drop that one value and keep the rest of a record.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical stored form.
const Layout = "2006-01-02"

var (
	dotted     = regexp.MustCompile(`^(\d{1,2})\.\s?(\d{1,2})\.\s?(\d{2}|\d{4})$`)
	slashed    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2}|\d{4})$`)
	dashed     = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	isoLoose   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	monthFirst = regexp.MustCompile(`^([a-zäé]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?(?:\s+(\d{4}))?$`)
	dayFirst   = regexp.MustCompile(`^(\d{1,2})(?:st|nd|rd|th)?\.?\s+(?:of\s+)?([a-zäé]+)\.?,?(?:\s+(\d{4}))?$`)
	relative   = regexp.MustCompile(`^(early|mid|late)[\s-]+([a-zäé]+)\.?(?:\s+(\d{4}))?$`)
	weekdayRel = regexp.MustCompile(`^(?:(next|this)\s+)?([a-z]+)$`)
	inN        = regexp.MustCompile(`^in\s+(\d{1,3})\s+(day|days|week|weeks)$`)
)

var months = map[string]time.Month{
	"january": time.January, "jan": time.January, "januar": time.January, "jänner": time.January,
	"february": time.February, "feb": time.February, "februar": time.February,
	"march": time.March, "mar": time.March, "märz": time.March, "maerz": time.March, "mär": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May, "mai": time.May,
	"june": time.June, "jun": time.June, "juni": time.June,
	"july": time.July, "jul": time.July, "juli": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October, "oktober": time.October, "okt": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December, "dezember": time.December, "dez": time.December,
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
	"sunday": time.Sunday, "sun": time.Sunday,
}

// Anchor days for early, mid and late month.
var anchors = map[string]int{"early": 5, "mid": 15, "late": 25}

// Parse reads input relative to now. The result is midnight in now's location.
func Parse(input string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return time.Time{}, false
	}
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if t, ok := parseISO(strings.TrimSpace(input), loc); ok {
		return t, true
	}
	if m := isoLoose.FindStringSubmatch(s); m != nil {
		return build(atoi(m[1]), atoi(m[2]), atoi(m[3]), loc)
	}
	if m := dotted.FindStringSubmatch(s); m != nil {
		return build(year(m[3]), atoi(m[2]), atoi(m[1]), loc)
	}
	if m := slashed.FindStringSubmatch(s); m != nil {
		a, b := atoi(m[1]), atoi(m[2])
		day, month := a, b
		if b > 12 && a <= 12 {
			day, month = b, a
		}
		return build(year(m[3]), month, day, loc)
	}
	if m := dashed.FindStringSubmatch(s); m != nil {
		return build(atoi(m[3]), atoi(m[2]), atoi(m[1]), loc)
	}
	if m := relative.FindStringSubmatch(s); m != nil {
		month, ok := months[m[2]]
		if !ok {
			return time.Time{}, false
		}
		return rolling(m[3], month, anchors[m[1]], today)
	}
	if m := monthFirst.FindStringSubmatch(s); m != nil {
		if month, ok := months[m[1]]; ok {
			return rolling(m[3], month, atoi(m[2]), today)
		}
	}
	if m := dayFirst.FindStringSubmatch(s); m != nil {
		if month, ok := months[m[2]]; ok {
			return rolling(m[3], month, atoi(m[1]), today)
		}
	}

	switch s {
	case "today", "heute":
		return today, true
	case "tomorrow", "morgen":
		return today.AddDate(0, 0, 1), true
	case "next week":
		return today.AddDate(0, 0, 7), true
	case "next month":
		return today.AddDate(0, 1, 0), true
	}
	if m := inN.FindStringSubmatch(s); m != nil {
		n := atoi(m[1])
		if strings.HasPrefix(m[2], "week") {
			n *= 7
		}
		return today.AddDate(0, 0, n), true
	}
	if m := weekdayRel.FindStringSubmatch(s); m != nil {
		wd, ok := weekdays[m[2]]
		if !ok {
			return time.Time{}, false
		}
		diff := (int(wd) - int(today.Weekday()) + 7) % 7
		if diff == 0 && m[1] != "this" {
			diff = 7
		}
		return today.AddDate(0, 0, diff), true
	}
	return time.Time{}, false
}

// Normalize formats t as YYYY-MM-DD.
func Normalize(t time.Time) string {
	return t.Format(Layout)
}

// NormalizeString parses and formats in one step.
func NormalizeString(input string, now time.Time) (string, bool) {
	t, ok := Parse(input, now)
	if !ok {
		return "", false
	}
	return Normalize(t), true
}

func parseISO(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.ParseInLocation(Layout, s, loc); err == nil {
		return t, true
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// build rejects dates that time.Date would silently roll over (31.02.).
func build(y, m, d int, loc *time.Location) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1900 || y > 2200 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// rolling builds a date in an explicit year, or without one in the current
// year, moving to next year when that date has already passed.
func rolling(rawYear string, month time.Month, day int, today time.Time) (time.Time, bool) {
	if rawYear != "" {
		return build(atoi(rawYear), int(month), day, today.Location())
	}
	t, ok := build(today.Year(), int(month), day, today.Location())
	if !ok {
		return time.Time{}, false
	}
	if t.Before(today) {
		return build(today.Year()+1, int(month), day, today.Location())
	}
	return t, true
}

func year(raw string) int {
	y := atoi(raw)
	if len(raw) == 2 {
		y += 2000
	}
	return y
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
