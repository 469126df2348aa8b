package models

import (
	"strings"
	"time"
)

const (
	// DateLayout is the calendar-day format used for due dates and the date filter.
	DateLayout = "2006-01-02"
	// TimestampLayout matches the ISO-8601 form browsers produce with millisecond precision.
	TimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	DateLayout,
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime accepts date-only and RFC3339-style values. It reports false for empty or
// unparsable input.
func ParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DayOf normalises a date or timestamp string to DateLayout.
func DayOf(value string) (string, bool) {
	t, ok := ParseTime(value)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}
