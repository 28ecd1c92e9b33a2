package model

import (
	"errors"
	"strings"
	"time"
)

// Naive layouts are read as wall clock time; they carry no zone.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDateTime parses an entry date-time into a wall clock reading carried
// in time.UTC, so adding durations never crosses a DST transition.
//
// Naive values ("2024-03-10T09:30:00", "2024-03-10T09:30") are the wall
// clock as written. Values with an offset or a trailing Z (RFC 3339, as
// browsers send from toISOString) are first converted into loc, so the
// returned wall clock is what a viewer in loc would see.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date-time")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return Wall(t.In(loc)), nil
}

// Wall drops the zone from t, keeping its wall clock reading in UTC.
func Wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// FormatDateTime renders t as the canonical naive form stored on entries.
func FormatDateTime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}

// ValidationError lists every problem found in a record.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid record: " + strings.Join(e.Problems, "; ")
}
