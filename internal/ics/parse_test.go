package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/model"
)

func TestParseEntriesRoundTrip(t *testing.T) {
	f := testFormatter()
	p, err := f.Build(model.Entry{
		ID:       "e1",
		Title:    "Control Urología",
		DateTime: "2024-03-10T09:30:00",
		Location: "Clínica X",
	}, nil)
	require.NoError(t, err)

	events, err := ParseEntries(p.Body, time.UTC, "medtrack")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "e1@medtrack", ev.UID)
	assert.Equal(t, "e1", ev.Entry.ID)
	assert.Equal(t, "Control Urología", ev.Entry.Title)
	assert.Equal(t, "2024-03-10T09:30:00", ev.Entry.DateTime)
	require.NotNil(t, ev.Entry.EndDateTime)
	assert.Equal(t, "2024-03-10T10:00:00", *ev.Entry.EndDateTime)
	assert.Equal(t, "Clínica X", ev.Entry.Location)
	assert.Equal(t, model.StatusPlanned, ev.Entry.Status)
	assert.Equal(t, model.TypeControl, ev.Entry.Type)
}

func TestParseEntriesZones(t *testing.T) {
	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:remote-1@example.com",
		"DTSTAMP:20240301T120000Z",
		"DTSTART:20240310T123000Z",
		"SUMMARY:Examen PSA",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:remote-2@example.com",
		"DTSTAMP:20240301T120000Z",
		"DTSTART;TZID=UTC:20240311T150000",
		"DTEND;TZID=UTC:20240311T160000",
		"SUMMARY:Scanner",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:remote-3@example.com",
		"DTSTAMP:20240301T120000Z",
		"DTSTART;VALUE=DATE:20240312",
		"SUMMARY:Día completo",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:remote-4@example.com",
		"DTSTAMP:20240301T120000Z",
		"DTSTART:20240908T001500",
		"SUMMARY:Hora inexistente en Santiago",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	events, err := ParseEntries([]byte(body), santiago, "medtrack")
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, "2024-03-10T09:30:00", events[0].Entry.DateTime)
	assert.Equal(t, "2024-03-11T12:00:00", events[1].Entry.DateTime)
	require.NotNil(t, events[1].Entry.EndDateTime)
	assert.Equal(t, "2024-03-11T13:00:00", *events[1].Entry.EndDateTime)
	assert.Equal(t, "2024-03-12T00:00:00", events[2].Entry.DateTime)
	assert.Equal(t, "2024-09-08T00:15:00", events[3].Entry.DateTime)

	// Foreign UIDs get fresh ids.
	assert.NotEqual(t, "remote-1", events[0].Entry.ID)
	assert.NotEmpty(t, events[0].Entry.ID)
	assert.NotEqual(t, events[0].Entry.ID, events[1].Entry.ID)
}

func TestParseEntriesSkipsIncompleteEvents(t *testing.T) {
	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:a",
		"DTSTART:20240310T090000",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b",
		"SUMMARY:sin fecha",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:c",
		"DTSTART:20240310T090000",
		"SUMMARY:ok",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	events, err := ParseEntries([]byte(body), time.UTC, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Entry.Title)
}

func TestParseEntriesEmpty(t *testing.T) {
	_, err := ParseEntries(nil, time.UTC, "medtrack")
	assert.Error(t, err)
}

func TestEntryIDFromUID(t *testing.T) {
	assert.Equal(t, "abc", entryIDFromUID("abc@medtrack", "medtrack"))
	assert.NotEqual(t, "abc", entryIDFromUID("abc@other", "medtrack"))
	assert.NotEqual(t, "", entryIDFromUID("@medtrack", "medtrack"))
}
