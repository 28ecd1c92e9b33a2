package ics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/model"
)

func testFormatter(mod ...func(*Options)) *Formatter {
	opts := DefaultOptions()
	opts.Location = time.UTC
	opts.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	for _, m := range mod {
		m(&opts)
	}
	return NewFormatter(opts)
}

func lines(p Payload) []string {
	return strings.Split(string(p.Body), "\r\n")
}

func lineWithPrefix(t *testing.T, p Payload, prefix string) string {
	t.Helper()
	for _, l := range lines(p) {
		if strings.HasPrefix(l, prefix) {
			return l
		}
	}
	t.Fatalf("no line with prefix %q in:\n%s", prefix, p.Body)
	return ""
}

func ptr[T any](v T) *T { return &v }

func TestBuildControlVisit(t *testing.T) {
	entry := model.Entry{
		ID:       "e1",
		Title:    "Control Urología",
		DateTime: "2024-03-10T09:30:00",
		Location: "Clínica X",
	}

	p, err := testFormatter().Build(entry, nil)
	require.NoError(t, err)

	want := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//medtrack//ES",
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"BEGIN:VEVENT",
		"UID:e1@medtrack",
		"DTSTAMP:20240301T120000",
		"DTSTART:20240310T093000",
		"DTEND:20240310T100000",
		"SUMMARY:Control Urología",
		"LOCATION:Clínica X",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:Control Urología",
		"TRIGGER:-PT1440M",
		"END:VALARM",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:Control Urología",
		"TRIGGER:-PT60M",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}
	assert.Equal(t, want, lines(p))
	assert.False(t, strings.HasSuffix(string(p.Body), "\r\n"))
	assert.Equal(t, "control-urologia.ics", p.FileName)
}

func TestBuildDefaultDuration(t *testing.T) {
	tests := []struct {
		start, end string
	}{
		{"2024-03-10T09:30:00", "DTEND:20240310T100000"},
		{"2024-03-10T23:45:00", "DTEND:20240311T001500"},
		{"2024-12-31T23:50", "DTEND:20250101T002000"},
	}
	for _, tt := range tests {
		p, err := testFormatter().Build(model.Entry{ID: "x", Title: "t", DateTime: tt.start}, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.end, lineWithPrefix(t, p, "DTEND:"))
	}

	p, err := testFormatter(func(o *Options) { o.DefaultDuration = 90 * time.Minute }).
		Build(model.Entry{ID: "x", Title: "t", DateTime: "2024-03-10T09:30:00"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "DTEND:20240310T110000", lineWithPrefix(t, p, "DTEND:"))
}

func TestBuildWallClockAcrossDST(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)
	f := testFormatter(func(o *Options) { o.Location = santiago })

	// Santiago springs forward at 2024-09-08 00:00 and falls back at
	// 2024-04-07 00:00.
	tests := []struct {
		name, start, dtstart, dtend string
	}{
		{"before spring forward", "2024-09-07T23:45:00", "DTSTART:20240907T234500", "DTEND:20240908T001500"},
		{"inside skipped hour", "2024-09-08T00:15:00", "DTSTART:20240908T001500", "DTEND:20240908T004500"},
		{"before fall back", "2024-04-06T23:45:00", "DTSTART:20240406T234500", "DTEND:20240407T001500"},
		{"repeated hour", "2024-04-06T23:15", "DTSTART:20240406T231500", "DTEND:20240406T234500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.Build(model.Entry{ID: "x", Title: "t", DateTime: tt.start}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.dtstart, lineWithPrefix(t, p, "DTSTART:"))
			assert.Equal(t, tt.dtend, lineWithPrefix(t, p, "DTEND:"))
		})
	}
}

func TestBuildExplicitEnd(t *testing.T) {
	entry := model.Entry{
		ID:          "e2",
		Title:       "Quimio ciclo 2",
		DateTime:    "2024-03-10T09:30:00",
		EndDateTime: ptr("2024-03-10T14:00:00"),
	}
	p, err := testFormatter(func(o *Options) { o.DefaultDuration = 5 * time.Minute }).Build(entry, nil)
	require.NoError(t, err)
	assert.Equal(t, "DTEND:20240310T140000", lineWithPrefix(t, p, "DTEND:"))
}

func TestBuildFloatingFromUTC(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	f := testFormatter(func(o *Options) { o.Location = santiago })
	p, err := f.Build(model.Entry{ID: "e", Title: "t", DateTime: "2024-03-10T12:30:00.000Z"}, nil)
	require.NoError(t, err)

	start := lineWithPrefix(t, p, "DTSTART:")
	assert.Equal(t, "DTSTART:20240310T093000", start)
	assert.NotContains(t, string(p.Body), "Z\r\n")
}

func TestBuildStableUID(t *testing.T) {
	entry := model.Entry{ID: "abc-123", Title: "Examen PSA", DateTime: "2024-05-01T08:00:00"}

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := testFormatter(func(o *Options) {
		o.Now = func() time.Time {
			now = now.Add(time.Hour)
			return now
		}
	})

	first, err := f.Build(entry, nil)
	require.NoError(t, err)
	entry.Title = "Examen PSA (repetido)"
	second, err := f.Build(entry, nil)
	require.NoError(t, err)

	assert.Equal(t, "UID:abc-123@medtrack", lineWithPrefix(t, first, "UID:"))
	assert.Equal(t, lineWithPrefix(t, first, "UID:"), lineWithPrefix(t, second, "UID:"))
	assert.NotEqual(t, lineWithPrefix(t, first, "DTSTAMP:"), lineWithPrefix(t, second, "DTSTAMP:"))
}

func TestBuildEscapesSummary(t *testing.T) {
	p, err := testFormatter().Build(model.Entry{ID: "e", Title: "Chemo, cycle 2; extra", DateTime: "2024-03-10T09:30:00"}, nil)
	require.NoError(t, err)
	assert.Equal(t, `SUMMARY:Chemo\, cycle 2\; extra`, lineWithPrefix(t, p, "SUMMARY:"))

	p, err = testFormatter().Build(model.Entry{ID: "e", Title: "a;b,c\\d\ne", DateTime: "2024-03-10T09:30:00"}, nil)
	require.NoError(t, err)
	summary := lineWithPrefix(t, p, "SUMMARY:")
	assert.Equal(t, `SUMMARY:a\;b\,c\\d\ne`, summary)

	// Every ; , and \ left in the value must be part of an escape pair.
	value := strings.TrimPrefix(summary, "SUMMARY:")
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '\\':
			require.Less(t, i+1, len(value))
			assert.Contains(t, `\;,n`, string(value[i+1]))
			i++
		case ';', ',', '\n':
			t.Fatalf("unescaped %q at %d in %q", value[i], i, value)
		}
	}
}

func TestBuildDescription(t *testing.T) {
	entry := model.Entry{
		ID:         "e3",
		Title:      "Quimio",
		DateTime:   "2024-03-10T09:30:00",
		DoseAmount: ptr(500.0),
		DoseUnit:   "mg",
	}
	pro := &model.Professional{Name: "Dr. Pérez", Specialty: "Oncología", Center: "Hospital Y"}

	p, err := testFormatter().Build(entry, pro)
	require.NoError(t, err)

	assert.Equal(t, `DESCRIPTION:Profesional: Dr. Pérez (Oncología)\nCantidad: 500 mg`, lineWithPrefix(t, p, "DESCRIPTION:Profesional"))
	// Entry has no location so the professional's center is used.
	assert.Equal(t, "LOCATION:Hospital Y", lineWithPrefix(t, p, "LOCATION:"))

	entry.Notes = "Ayuno; traer exámenes"
	entry.DoseUnit = ""
	entry.Location = "Box 3"
	p, err = testFormatter().Build(entry, pro)
	require.NoError(t, err)
	assert.Equal(t, `DESCRIPTION:Profesional: Dr. Pérez (Oncología)\nNotas: Ayuno\; traer exámenes`, lineWithPrefix(t, p, "DESCRIPTION:Profesional"))
	assert.Equal(t, "LOCATION:Box 3", lineWithPrefix(t, p, "LOCATION:"))
}

func TestBuildDescriptionProfessionalWithoutName(t *testing.T) {
	entry := model.Entry{ID: "e4", Title: "Control", DateTime: "2024-03-10T09:30:00"}

	p, err := testFormatter().Build(entry, &model.Professional{Specialty: "Oncología"})
	require.NoError(t, err)
	assert.Equal(t, "DESCRIPTION:Profesional: (Oncología)", lineWithPrefix(t, p, "DESCRIPTION:Profesional"))

	p, err = testFormatter().Build(entry, &model.Professional{})
	require.NoError(t, err)
	assert.Equal(t, "DESCRIPTION:Profesional:", lineWithPrefix(t, p, "DESCRIPTION:Profesional"))
}

func TestBuildOmitsEmptyOptionalLines(t *testing.T) {
	p, err := testFormatter().Build(model.Entry{ID: "e", Title: "Solo", DateTime: "2024-03-10T09:30:00"}, nil)
	require.NoError(t, err)

	body := string(p.Body)
	assert.NotContains(t, body, "LOCATION:")
	// Only the alarm descriptions remain.
	assert.Equal(t, 2, strings.Count(body, "DESCRIPTION:"))
	assert.NotContains(t, body, "\r\n\r\n")
}

func TestBuildAlarmSettings(t *testing.T) {
	entry := model.Entry{ID: "e", Title: "t", DateTime: "2024-03-10T09:30:00"}

	p, err := testFormatter(func(o *Options) { o.AlarmsMinutesBefore = []int{30} }).Build(entry, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(p.Body), "BEGIN:VALARM"))
	assert.Contains(t, string(p.Body), "TRIGGER:-PT30M")

	p, err = testFormatter(func(o *Options) { o.AlarmsMinutesBefore = []int{} }).Build(entry, nil)
	require.NoError(t, err)
	assert.NotContains(t, string(p.Body), "VALARM")
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name  string
		entry model.Entry
	}{
		{"missing id", model.Entry{Title: "t", DateTime: "2024-03-10T09:30:00"}},
		{"blank title", model.Entry{ID: "e", Title: "  \t", DateTime: "2024-03-10T09:30:00"}},
		{"missing dateTime", model.Entry{ID: "e", Title: "t"}},
		{"bad dateTime", model.Entry{ID: "e", Title: "t", DateTime: "10/03/2024"}},
		{"bad endDateTime", model.Entry{ID: "e", Title: "t", DateTime: "2024-03-10T09:30:00", EndDateTime: ptr("later")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := testFormatter().Build(tt.entry, nil)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.NotEmpty(t, verr.Problems)
			assert.Empty(t, p.Body)
			assert.Empty(t, p.FileName)
		})
	}
}

func TestBuildConcurrent(t *testing.T) {
	f := testFormatter()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := f.Build(model.Entry{ID: "e", Title: "Control", DateTime: "2024-03-10T09:30:00"}, nil)
			assert.NoError(t, err)
			assert.Contains(t, string(p.Body), "DTSTART:20240310T093000")
		}()
	}
	wg.Wait()
}
