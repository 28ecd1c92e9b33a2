package ics

import (
	"strconv"
	"strings"
	"time"

	"medtrack/internal/model"
)

const (
	defaultDuration  = 30 * time.Minute
	defaultUIDDomain = "medtrack"
	defaultProdID    = "-//medtrack//ES"

	// floatingLayout renders a wall clock time with no zone suffix, so
	// calendar apps place the event in the viewer's own zone.
	floatingLayout = "20060102T150405"
)

// DefaultAlarms are the reminder offsets in minutes before start: one day
// and one hour.
var DefaultAlarms = []int{1440, 60}

// Options configures the export formatter.
type Options struct {
	// DefaultDuration is used when an entry has no end. Zero means 30 minutes.
	DefaultDuration time.Duration

	// AlarmsMinutesBefore lists one VALARM per value. Nil means DefaultAlarms;
	// an empty non-nil slice disables alarms.
	AlarmsMinutesBefore []int

	// UIDDomain is appended to the entry id to build the event UID.
	UIDDomain string

	// ProdID is written as the calendar PRODID.
	ProdID string

	// Location is the display zone used to read offset-bearing date-times
	// and to stamp DTSTAMP. Nil means time.Local.
	Location *time.Location

	// Now returns the current time. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns the normative export settings.
func DefaultOptions() Options {
	return Options{
		DefaultDuration:     defaultDuration,
		AlarmsMinutesBefore: append([]int(nil), DefaultAlarms...),
		UIDDomain:           defaultUIDDomain,
		ProdID:              defaultProdID,
		Location:            time.Local,
		Now:                 time.Now,
	}
}

// Payload is a rendered calendar file.
type Payload struct {
	Body []byte
	// FileName is a filesystem-safe name ending in ".ics".
	FileName string
}

// Formatter turns one entry into a single-event calendar file. It holds no
// mutable state and is safe for concurrent use.
type Formatter struct {
	opts Options
}

// NewFormatter fills zero fields of opts with defaults.
func NewFormatter(opts Options) *Formatter {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = defaultDuration
	}
	if opts.AlarmsMinutesBefore == nil {
		opts.AlarmsMinutesBefore = append([]int(nil), DefaultAlarms...)
	}
	if opts.UIDDomain == "" {
		opts.UIDDomain = defaultUIDDomain
	}
	if opts.ProdID == "" {
		opts.ProdID = defaultProdID
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Formatter{opts: opts}
}

// UID returns the stable event identity for an entry id.
func (f *Formatter) UID(entryID string) string {
	return entryID + "@" + f.opts.UIDDomain
}

// Build renders entry (and the optional professional) as a VCALENDAR with
// one VEVENT. It returns a *ValidationError and no payload if the entry
// lacks an id, a title or a parseable start.
func (f *Formatter) Build(entry model.Entry, pro *model.Professional) (Payload, error) {
	start, end, err := f.eventTimes(entry)
	if err != nil {
		return Payload{}, err
	}

	summary := strings.TrimSpace(entry.Title)
	location := strings.TrimSpace(entry.Location)
	if location == "" && pro != nil {
		location = strings.TrimSpace(pro.Center)
	}
	description := describe(entry, pro)

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + f.opts.ProdID,
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:" + f.UID(strings.TrimSpace(entry.ID)),
		"DTSTAMP:" + f.opts.Now().In(f.opts.Location).Format(floatingLayout),
		"DTSTART:" + start.Format(floatingLayout),
		"DTEND:" + end.Format(floatingLayout),
		"SUMMARY:" + EscapeText(summary),
	}
	if location != "" {
		lines = append(lines, "LOCATION:"+EscapeText(location))
	}
	if description != "" {
		lines = append(lines, "DESCRIPTION:"+EscapeText(description))
	}
	for _, m := range f.opts.AlarmsMinutesBefore {
		if m <= 0 {
			continue
		}
		lines = append(lines,
			"BEGIN:VALARM",
			"ACTION:DISPLAY",
			"DESCRIPTION:"+EscapeText(summary),
			"TRIGGER:-PT"+strconv.Itoa(m)+"M",
			"END:VALARM",
		)
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR")

	return Payload{
		Body:     []byte(strings.Join(lines, "\r\n")),
		FileName: FileName(summary),
	}, nil
}

// eventTimes validates the required fields and resolves start and end.
func (f *Formatter) eventTimes(entry model.Entry) (time.Time, time.Time, error) {
	var problems []string
	if strings.TrimSpace(entry.ID) == "" {
		problems = append(problems, "entry id is required")
	}
	if strings.TrimSpace(entry.Title) == "" {
		problems = append(problems, "entry title is required")
	}

	var start, end time.Time
	if strings.TrimSpace(entry.DateTime) == "" {
		problems = append(problems, "entry dateTime is required")
	} else if t, err := model.ParseDateTime(entry.DateTime, f.opts.Location); err != nil {
		problems = append(problems, "entry dateTime is not a valid date-time")
	} else {
		start = t
		end = start.Add(f.opts.DefaultDuration)
	}

	if entry.EndDateTime != nil && strings.TrimSpace(*entry.EndDateTime) != "" {
		t, err := model.ParseDateTime(*entry.EndDateTime, f.opts.Location)
		if err != nil {
			problems = append(problems, "entry endDateTime is not a valid date-time")
		} else {
			end = t
		}
	}

	if len(problems) > 0 {
		return time.Time{}, time.Time{}, &ValidationError{Problems: problems}
	}
	return start, end, nil
}

// describe joins the professional, dose and notes lines, skipping empty ones.
func describe(entry model.Entry, pro *model.Professional) string {
	var parts []string
	if pro != nil {
		line := "Profesional: " + strings.TrimSpace(pro.Name)
		if s := strings.TrimSpace(pro.Specialty); s != "" {
			line += " (" + s + ")"
		}
		parts = append(parts, strings.TrimSpace(line))
	}
	if entry.HasDose() {
		amount := strconv.FormatFloat(*entry.DoseAmount, 'f', -1, 64)
		parts = append(parts, "Cantidad: "+amount+" "+strings.TrimSpace(entry.DoseUnit))
	}
	if n := strings.TrimSpace(entry.Notes); n != "" {
		parts = append(parts, "Notas: "+n)
	}
	return strings.Join(parts, "\n")
}

// ValidationError reports why an entry cannot be exported.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "ics: " + strings.Join(e.Problems, "; ")
}
