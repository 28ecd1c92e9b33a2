package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "medtrack/internal/log"
	"medtrack/internal/model"
)

const (
	defaultSeriesHorizonDays   = 90
	defaultMaxSeriesOccurrence = 500

	// boundedHorizonDays caps rules that carry their own COUNT or UNTIL.
	boundedHorizonDays = 3650
)

// SeriesConfig controls how a dose schedule is expanded.
type SeriesConfig struct {
	// Location is used to read offset-bearing template times. Nil means
	// time.Local.
	Location *time.Location

	// HorizonDays bounds open-ended rules (no COUNT, no UNTIL).
	HorizonDays int

	// MaxOccurrences is a safety cap on the number of generated entries.
	MaxOccurrences int
}

// SeriesResult holds the generated entries.
type SeriesResult struct {
	Entries []model.Entry
	// Truncated is set when MaxOccurrences cut the series short.
	Truncated bool
}

// ExpandSeries turns a template entry and an RRULE (e.g.
// "FREQ=HOURLY;INTERVAL=8;COUNT=21") into one planned entry per occurrence.
//
// Recurrence runs on wall clock time: "every 8 hours" stays on the same
// local hours across daylight saving changes. Each generated entry gets a
// fresh id; an explicit end on the template is carried over as the same
// duration.
func ExpandSeries(template model.Entry, rule string, cfg SeriesConfig) (SeriesResult, error) {
	var result SeriesResult

	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = defaultSeriesHorizonDays
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = defaultMaxSeriesOccurrence
	}

	rule = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if rule == "" {
		return result, errors.New("series: empty recurrence rule")
	}

	start, err := model.ParseDateTime(template.DateTime, cfg.Location)
	if err != nil {
		return result, &ValidationError{Problems: []string{"template dateTime is not a valid date-time"}}
	}

	var dur time.Duration
	if template.EndDateTime != nil && *template.EndDateTime != "" {
		end, err := model.ParseDateTime(*template.EndDateTime, cfg.Location)
		if err != nil {
			return result, &ValidationError{Problems: []string{"template endDateTime is not a valid date-time"}}
		}
		dur = end.Sub(start)
	}

	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return result, fmt.Errorf("series: invalid recurrence rule: %w", err)
	}

	// ParseDateTime already yields wall clock time in UTC.
	wallStart := start.Truncate(time.Second)
	r.DTStart(wallStart)

	horizon := cfg.HorizonDays
	upper := strings.ToUpper(rule)
	if strings.Contains(upper, "COUNT=") || strings.Contains(upper, "UNTIL=") {
		horizon = boundedHorizonDays
	}
	times := r.Between(wallStart, wallStart.AddDate(0, 0, horizon), true)

	if len(times) > cfg.MaxOccurrences {
		times = times[:cfg.MaxOccurrences]
		result.Truncated = true
		appLog.Warn("series truncated at cap", "rule", rule, "cap", cfg.MaxOccurrences)
	}

	result.Entries = make([]model.Entry, 0, len(times))
	for _, occ := range times {
		e := template
		e.ID = uuid.NewString()
		e.Status = model.StatusPlanned
		e.DateTime = model.FormatDateTime(occ)
		e.EndDateTime = nil
		if dur > 0 {
			s := model.FormatDateTime(occ.Add(dur))
			e.EndDateTime = &s
		}
		e.Attachments = nil
		e.CreatedAt = time.Time{}
		e.UpdatedAt = time.Time{}
		result.Entries = append(result.Entries, e)
	}

	return result, nil
}
