package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "medtrack/internal/log"
	"medtrack/internal/model"
)

// ImportedEvent is one VEVENT turned into a planned entry.
type ImportedEvent struct {
	// UID is the VEVENT UID as found in the file.
	UID   string
	Entry model.Entry
}

// ParseEntries parses a calendar payload into entries.
//
//   - SUMMARY becomes the title, DESCRIPTION the notes.
//   - DTSTART/DTEND in UTC or with a TZID are converted into loc; floating
//     values are kept as written; DATE values start at 00:00.
//   - A UID of the form "<id>@<uidDomain>" (as written by Formatter) maps
//     back to entry id <id>, so re-importing an export updates in place.
//     Any other UID gets a fresh id.
//   - VEVENTs without SUMMARY or DTSTART are skipped.
func ParseEntries(body []byte, loc *time.Location, uidDomain string) ([]ImportedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}
	if uidDomain == "" {
		uidDomain = defaultUIDDomain
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	out := make([]ImportedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc, uidDomain)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Warn("ics vevent skipped", "reason", perr.Error())
			continue
		}
		out = append(out, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(out))
	return out, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location, uidDomain string) (ImportedEvent, error) {
	var out ImportedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}

	summary := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		summary = strings.TrimSpace(UnescapeText(p.Value))
	}
	if summary == "" {
		return out, errors.New("missing SUMMARY")
	}

	startProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if startProp == nil || strings.TrimSpace(startProp.Value) == "" {
		return out, errors.New("missing DTSTART")
	}
	start, err := propertyTime(startProp, loc)
	if err != nil {
		return out, err
	}

	entry := model.Entry{
		ID:       entryIDFromUID(out.UID, uidDomain),
		Type:     model.TypeControl,
		Title:    summary,
		DateTime: model.FormatDateTime(start),
		Status:   model.StatusPlanned,
	}

	if endProp := ve.GetProperty(ical.ComponentPropertyDtEnd); endProp != nil && strings.TrimSpace(endProp.Value) != "" {
		if end, err := propertyTime(endProp, loc); err == nil {
			s := model.FormatDateTime(end)
			entry.EndDateTime = &s
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		entry.Location = strings.TrimSpace(UnescapeText(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		entry.Notes = strings.TrimSpace(UnescapeText(p.Value))
	}

	out.Entry = entry
	return out, nil
}

func entryIDFromUID(uid, uidDomain string) string {
	suffix := "@" + uidDomain
	if id, ok := strings.CutSuffix(uid, suffix); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// propertyTime reads a DTSTART/DTEND style property as a wall clock time in
// loc, honoring a TZID parameter when present. Floating values and dates
// without a TZID are kept as written.
func propertyTime(p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	var src *time.Location
	if params := p.ICalParameters; params != nil {
		if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
			if tz, err := time.LoadLocation(tzs[0]); err == nil {
				src = tz
			} else {
				appLog.Warn("unknown TZID; reading as floating time", "tzid", tzs[0])
			}
		}
	}
	if src == nil && !strings.HasSuffix(strings.TrimSpace(p.Value), "Z") {
		return parseICSTime(p.Value, time.UTC)
	}
	if src == nil {
		src = time.UTC
	}
	t, err := parseICSTime(p.Value, src)
	if err != nil {
		return time.Time{}, err
	}
	return model.Wall(t.In(loc)), nil
}

// parseICSTime parses a basic ICS date/date-time string. Floating values and
// dates are read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation(floatingLayout, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	return time.ParseInLocation("20060102", v, loc)
}
