package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/attach"
	"medtrack/internal/ics"
	"medtrack/internal/model"
	"medtrack/internal/storage"
	"medtrack/internal/storage/sqlstore"
)

const (
	owner  = "ana"
	editor = "luis"
	viewer = "sofia"
)

type fixture struct {
	svc    *Service
	caseID string
	ctx    context.Context
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := sqlstore.OpenSQLite(ctx, filepath.Join(dir, "medtrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	santiago, err := time.LoadLocation("America/Santiago")
	require.NoError(t, err)

	fopts := ics.DefaultOptions()
	fopts.Location = santiago
	fopts.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	clock := func() time.Time { return time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC) }
	opts = append([]Option{WithClock(clock), WithMaxUpload(1 << 10)}, opts...)
	svc := New(store, attach.New(filepath.Join(dir, "files")), ics.NewFormatter(fopts), santiago, opts...)

	c, err := svc.CreateCase(ctx, owner, "  Mamá  ")
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, owner, c.ID, editor, model.RoleEditor)
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, owner, c.ID, viewer, model.RoleViewer)
	require.NoError(t, err)

	return fixture{svc: svc, caseID: c.ID, ctx: ctx}
}

func isValidation(err error) bool {
	var verr *model.ValidationError
	return errors.As(err, &verr)
}

func TestCases(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.GetCase(f.ctx, viewer, f.caseID)
	require.NoError(t, err)
	assert.Equal(t, "Mamá", c.Name)
	assert.Equal(t, owner, c.OwnerID)
	assert.Equal(t, model.BaseTypes(), c.Types)
	assert.Len(t, c.Members, 3)

	cases, err := f.svc.ListCases(f.ctx, editor)
	require.NoError(t, err)
	assert.Len(t, cases, 1)

	cases, err = f.svc.ListCases(f.ctx, "stranger")
	require.NoError(t, err)
	assert.Empty(t, cases)

	_, err = f.svc.GetCase(f.ctx, "stranger", f.caseID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.GetCase(f.ctx, owner, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.CreateCase(f.ctx, owner, "   ")
	assert.True(t, isValidation(err))
}

func TestAddMemberRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddMember(f.ctx, editor, f.caseID, "x", model.RoleViewer)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.AddMember(f.ctx, owner, f.caseID, "x", model.RoleOwner)
	assert.True(t, isValidation(err))
	_, err = f.svc.AddMember(f.ctx, owner, f.caseID, owner, model.RoleViewer)
	assert.True(t, isValidation(err))

	// Promote the viewer.
	c, err := f.svc.AddMember(f.ctx, owner, f.caseID, viewer, model.RoleEditor)
	require.NoError(t, err)
	role, _ := c.RoleOf(viewer)
	assert.Equal(t, model.RoleEditor, role)
	assert.Len(t, c.Members, 3)
}

func TestAddType(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.AddType(f.ctx, editor, f.caseID, " radioterapia ")
	require.NoError(t, err)
	assert.True(t, c.HasType("radioterapia"))

	c, err = f.svc.AddType(f.ctx, editor, f.caseID, "radioterapia")
	require.NoError(t, err)
	assert.Len(t, c.Types, 5)

	_, err = f.svc.AddType(f.ctx, viewer, f.caseID, "otro")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSaveEntry(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.SaveEntry(f.ctx, editor, f.caseID, model.Entry{
		Title:    "  Control Urología ",
		DateTime: "2024-03-10T09:30",
		Location: "Clínica X",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "Control Urología", e.Title)
	assert.Equal(t, model.TypeControl, e.Type)
	assert.Equal(t, model.StatusPlanned, e.Status)
	assert.Equal(t, "2024-03-10T09:30:00", e.DateTime)
	assert.Equal(t, editor, e.CreatedBy)

	// Update from another member keeps creation metadata.
	e.Title = "Control Urología (reprogramado)"
	e.CreatedBy = "forged"
	updated, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, e)
	require.NoError(t, err)
	assert.Equal(t, editor, updated.CreatedBy)
	assert.Equal(t, owner, updated.UpdatedBy)

	got, err := f.svc.GetEntry(f.ctx, viewer, f.caseID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Control Urología (reprogramado)", got.Title)

	_, err = f.svc.SaveEntry(f.ctx, viewer, f.caseID, e)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSaveEntryNormalizesOffsets(t *testing.T) {
	f := newFixture(t)

	end := "2024-03-10T13:00:00.000Z"
	e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{
		Title:       "Examen PSA",
		Type:        model.TypeExam,
		DateTime:    "2024-03-10T12:30:00.000Z",
		EndDateTime: &end,
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10T09:30:00", e.DateTime)
	require.NotNil(t, e.EndDateTime)
	assert.Equal(t, "2024-03-10T10:00:00", *e.EndDateTime)
}

func TestSaveEntryKeepsWallClockAcrossDST(t *testing.T) {
	f := newFixture(t)

	for _, dt := range []string{"2024-09-07T23:45:00", "2024-09-08T00:15:00", "2024-04-06T23:30:00"} {
		e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{Title: "Control", DateTime: dt})
		require.NoError(t, err)
		assert.Equal(t, dt, e.DateTime)

		got, err := f.svc.GetEntry(f.ctx, owner, f.caseID, e.ID)
		require.NoError(t, err)
		assert.Equal(t, dt, got.DateTime)
	}

	end := "2024-09-08T00:45:00"
	e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{Title: "Control", DateTime: "2024-09-08T00:15:00", EndDateTime: &end})
	require.NoError(t, err)
	p, err := f.svc.ExportEntry(f.ctx, owner, f.caseID, e.ID)
	require.NoError(t, err)
	assert.Contains(t, string(p.Body), "DTSTART:20240908T001500\r\nDTEND:20240908T004500\r\n")
}

func TestSaveEntryValidation(t *testing.T) {
	f := newFixture(t)
	neg := -1.0
	early := "2024-03-10T08:00:00"

	tests := []struct {
		name  string
		entry model.Entry
	}{
		{"no title", model.Entry{DateTime: "2024-03-10T09:30:00"}},
		{"bad date", model.Entry{Title: "x", DateTime: "10-03-2024"}},
		{"unknown type", model.Entry{Title: "x", DateTime: "2024-03-10T09:30:00", Type: "yoga"}},
		{"bad status", model.Entry{Title: "x", DateTime: "2024-03-10T09:30:00", Status: "maybe"}},
		{"end before start", model.Entry{Title: "x", DateTime: "2024-03-10T09:30:00", EndDateTime: &early}},
		{"negative dose", model.Entry{Title: "x", DateTime: "2024-03-10T09:30:00", DoseAmount: &neg, DoseUnit: "mg"}},
		{"missing professional", model.Entry{Title: "x", DateTime: "2024-03-10T09:30:00", ProfessionalID: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, tt.entry)
			assert.True(t, isValidation(err), "got %v", err)
		})
	}

	list, err := f.svc.ListEntries(f.ctx, owner, f.caseID, storage.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestToggleDeleteAndSummary(t *testing.T) {
	f := newFixture(t)

	var ids []string
	for i, typ := range []string{model.TypeControl, model.TypeControl, model.TypeChemo} {
		e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{
			Title:    "e",
			Type:     typ,
			DateTime: time.Date(2024, 3, 10+i, 9, 0, 0, 0, time.UTC).Format("2006-01-02T15:04:05"),
		})
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}

	e, err := f.svc.ToggleDone(f.ctx, editor, f.caseID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, e.Status)

	sum, err := f.svc.Summary(f.ctx, viewer, f.caseID)
	require.NoError(t, err)
	require.Len(t, sum, 4)
	assert.Equal(t, model.TypeSummary{Type: model.TypeControl, Done: 1, Planned: 1}, sum[0])
	assert.Equal(t, model.TypeSummary{Type: model.TypeChemo, Done: 0, Planned: 1}, sum[1])

	e, err = f.svc.ToggleDone(f.ctx, editor, f.caseID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.StatusPlanned, e.Status)

	controls, err := f.svc.ListEntries(f.ctx, viewer, f.caseID, storage.EntryFilter{Type: model.TypeControl})
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, ids[1], controls[0].ID)

	require.NoError(t, f.svc.DeleteEntry(f.ctx, owner, f.caseID, ids[0]))
	_, err = f.svc.GetEntry(f.ctx, owner, f.caseID, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteEntry(f.ctx, viewer, f.caseID, ids[1]), ErrForbidden)
}

func TestProfessionals(t *testing.T) {
	f := newFixture(t)

	uro, err := f.svc.SaveProfessional(f.ctx, owner, f.caseID, model.Professional{Name: "Dra. Soto", Specialty: "Urología"})
	require.NoError(t, err)
	onco, err := f.svc.SaveProfessional(f.ctx, owner, f.caseID, model.Professional{Name: "Dr. Pérez", Specialty: "Oncología"})
	require.NoError(t, err)
	_, err = f.svc.SaveProfessional(f.ctx, owner, f.caseID, model.Professional{Name: "Dr. Rojas", Specialty: "Oncología"})
	require.NoError(t, err)

	_, err = f.svc.SaveProfessional(f.ctx, owner, f.caseID, model.Professional{Name: "Sin especialidad"})
	assert.True(t, isValidation(err))

	counts, err := f.svc.SpecialtySummary(f.ctx, viewer, f.caseID)
	require.NoError(t, err)
	assert.Equal(t, []model.SpecialtyCount{{Specialty: "Oncología", Count: 2}, {Specialty: "Urología", Count: 1}}, counts)

	e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{
		Title: "Control", DateTime: "2024-03-10T09:30:00", ProfessionalID: uro.ID,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteProfessional(f.ctx, owner, f.caseID, uro.ID), ErrInUse)
	require.NoError(t, f.svc.DeleteProfessional(f.ctx, owner, f.caseID, onco.ID))

	require.NoError(t, f.svc.DeleteEntry(f.ctx, owner, f.caseID, e.ID))
	require.NoError(t, f.svc.DeleteProfessional(f.ctx, owner, f.caseID, uro.ID))

	pros, err := f.svc.ListProfessionals(f.ctx, owner, f.caseID)
	require.NoError(t, err)
	require.Len(t, pros, 1)
	assert.Equal(t, "Dr. Rojas", pros[0].Name)
}

func TestExportEntry(t *testing.T) {
	f := newFixture(t)

	pro, err := f.svc.SaveProfessional(f.ctx, owner, f.caseID, model.Professional{
		Name: "Dr. Pérez", Specialty: "Oncología", Center: "Hospital Y",
	})
	require.NoError(t, err)
	dose := 500.0
	e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{
		Title:          "Quimio, ciclo 2",
		Type:           model.TypeChemo,
		DateTime:       "2024-03-10T09:30:00",
		DoseAmount:     &dose,
		DoseUnit:       "mg",
		ProfessionalID: pro.ID,
	})
	require.NoError(t, err)

	p, err := f.svc.ExportEntry(f.ctx, viewer, f.caseID, e.ID)
	require.NoError(t, err)
	body := string(p.Body)
	assert.Contains(t, body, "UID:"+e.ID+"@medtrack\r\n")
	assert.Contains(t, body, "SUMMARY:Quimio\\, ciclo 2\r\n")
	assert.Contains(t, body, "LOCATION:Hospital Y\r\n")
	assert.Contains(t, body, `DESCRIPTION:Profesional: Dr. Pérez (Oncología)\nCantidad: 500 mg`)
	assert.Equal(t, "quimio-ciclo-2.ics", p.FileName)

	_, err = f.svc.ExportEntry(f.ctx, "stranger", f.caseID, e.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.ExportEntry(f.ctx, owner, f.caseID, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestImportRoundTrip(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{
		Title: "Control", Type: model.TypeExam, DateTime: "2024-03-10T09:30:00", Status: model.StatusDone,
		Notes: "traer orden",
	})
	require.NoError(t, err)
	p, err := f.svc.ExportEntry(f.ctx, owner, f.caseID, e.ID)
	require.NoError(t, err)

	// Moved one hour in a calendar app.
	moved := strings.Replace(string(p.Body), "DTSTART:20240310T093000", "DTSTART:20240310T103000", 1)
	moved = strings.Replace(moved, "DTEND:20240310T100000", "DTEND:20240310T110000", 1)

	res, err := f.svc.Import(f.ctx, editor, f.caseID, []byte(moved))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Updated: 1}, res)

	got, err := f.svc.GetEntry(f.ctx, owner, f.caseID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10T10:30:00", got.DateTime)
	assert.Equal(t, model.TypeExam, got.Type)
	assert.Equal(t, model.StatusDone, got.Status)
	assert.Equal(t, "traer orden", got.Notes)
	assert.Equal(t, owner, got.CreatedBy)
	assert.Equal(t, editor, got.UpdatedBy)
}

func TestImportForeignCalendar(t *testing.T) {
	f := newFixture(t)

	body := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//other//EN",
		"BEGIN:VEVENT",
		"UID:abc@hospital.example",
		"DTSTAMP:20240301T120000Z",
		"DTSTART:20240315T130000Z",
		"SUMMARY:Scanner",
		"LOCATION:Hospital Y",
		"END:VEVENT",
		"END:VCALENDAR",
		"",
	}, "\r\n")

	res, err := f.svc.Import(f.ctx, owner, f.caseID, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	list, err := f.svc.ListEntries(f.ctx, owner, f.caseID, storage.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Scanner", list[0].Title)
	assert.Equal(t, "2024-03-15T10:00:00", list[0].DateTime)
	assert.Equal(t, model.TypeControl, list[0].Type)
	assert.Equal(t, model.StatusPlanned, list[0].Status)

	_, err = f.svc.Import(f.ctx, viewer, f.caseID, []byte(body))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Import(f.ctx, owner, f.caseID, []byte("garbage"))
	assert.Error(t, err)
}

func TestImportURLNotConfigured(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ImportURL(f.ctx, owner, f.caseID, "https://example.com/cal.ics")
	assert.Error(t, err)
}

func TestCreateSeries(t *testing.T) {
	f := newFixture(t, WithSeries(ics.SeriesConfig{MaxOccurrences: 10}))

	dose := 8.0
	res, err := f.svc.CreateSeries(f.ctx, editor, f.caseID, model.Entry{
		Title: "Ondansetrón", Type: model.TypeMed, DateTime: "2024-03-10T08:00", DoseAmount: &dose, DoseUnit: "mg",
	}, "FREQ=HOURLY;INTERVAL=8;COUNT=3")
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)

	list, err := f.svc.ListEntries(f.ctx, owner, f.caseID, storage.EntryFilter{Type: model.TypeMed})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2024-03-11T00:00:00", list[0].DateTime)
	assert.Equal(t, editor, list[0].CreatedBy)

	res, err = f.svc.CreateSeries(f.ctx, owner, f.caseID, model.Entry{
		Title: "x", Type: model.TypeMed, DateTime: "2024-03-10T08:00",
	}, "FREQ=DAILY;COUNT=30")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Entries, 10)

	_, err = f.svc.CreateSeries(f.ctx, owner, f.caseID, model.Entry{Title: "x", DateTime: "2024-03-10T08:00"}, "FREQ=NEVER")
	assert.True(t, isValidation(err))
}

func TestAttachments(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.SaveEntry(f.ctx, owner, f.caseID, model.Entry{Title: "Biopsia", Type: model.TypeExam, DateTime: "2024-03-10T09:30:00"})
	require.NoError(t, err)

	att, err := f.svc.AddAttachment(f.ctx, editor, f.caseID, e.ID, "resultado.txt", strings.NewReader("negativo"))
	require.NoError(t, err)
	assert.Equal(t, "resultado.txt", att.Name)

	// Saving the entry again keeps its attachments.
	got, err := f.svc.GetEntry(f.ctx, owner, f.caseID, e.ID)
	require.NoError(t, err)
	got.Attachments = nil
	got.Notes = "ok"
	_, err = f.svc.SaveEntry(f.ctx, owner, f.caseID, got)
	require.NoError(t, err)
	got, err = f.svc.GetEntry(f.ctx, owner, f.caseID, e.ID)
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)

	file, mime, err := f.svc.OpenAttachment(f.ctx, viewer, att.Path)
	require.NoError(t, err)
	defer file.Close()
	assert.True(t, strings.HasPrefix(mime, "text/plain"))
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "negativo", string(data))

	_, _, err = f.svc.OpenAttachment(f.ctx, "stranger", att.Path)
	assert.ErrorIs(t, err, ErrForbidden)
	_, _, err = f.svc.OpenAttachment(f.ctx, owner, "cases/"+f.caseID+"/entries/"+e.ID+"/nope.txt")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.AddAttachment(f.ctx, owner, f.caseID, e.ID, "big.bin", bytes.NewReader(make([]byte, 2<<10)))
	assert.ErrorIs(t, err, attach.ErrTooLarge)
	_, err = f.svc.AddAttachment(f.ctx, viewer, f.caseID, e.ID, "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrForbidden)
}
