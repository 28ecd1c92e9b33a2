// Package storagetest holds the behavior every storage.Store must share.
// Backend test files call Run with a constructor for a fresh, empty store.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medtrack/internal/model"
	"medtrack/internal/storage"
)

// Run exercises store against the shared contract.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("Cases", func(t *testing.T) { testCases(t, newStore(t)) })
	t.Run("Entries", func(t *testing.T) { testEntries(t, newStore(t)) })
	t.Run("EntryOptionals", func(t *testing.T) { testEntryOptionals(t, newStore(t)) })
	t.Run("Professionals", func(t *testing.T) { testProfessionals(t, newStore(t)) })
	t.Run("CaseIsolation", func(t *testing.T) { testCaseIsolation(t, newStore(t)) })
}

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// NewCase returns a case owned by owner with the base types.
func NewCase(id, name, owner string) model.Case {
	return model.Case{
		ID:        id,
		Name:      name,
		OwnerID:   owner,
		Types:     model.BaseTypes(),
		Members:   []model.Member{{UserID: owner, Role: model.RoleOwner}},
		CreatedAt: epoch,
	}
}

func testCases(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateCase(ctx, NewCase("c2", "Papá", "ana")))
	require.NoError(t, s.CreateCase(ctx, NewCase("c1", "Mamá", "ana")))
	require.NoError(t, s.CreateCase(ctx, NewCase("c3", "Otro", "luis")))

	got, err := s.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Mamá", got.Name)
	assert.Equal(t, "ana", got.OwnerID)
	assert.Equal(t, model.BaseTypes(), got.Types)
	assert.True(t, got.CreatedAt.Equal(epoch))
	role, ok := got.RoleOf("ana")
	assert.True(t, ok)
	assert.Equal(t, model.RoleOwner, role)

	_, err = s.GetCase(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	cases, err := s.ListCasesForUser(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "Mamá", cases[0].Name)
	assert.Equal(t, "Papá", cases[1].Name)

	got.Types = append(got.Types, "radio")
	got.Members = append(got.Members, model.Member{UserID: "luis", Role: model.RoleViewer})
	require.NoError(t, s.UpdateCase(ctx, got))

	updated, err := s.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, updated.HasType("radio"))
	role, ok = updated.RoleOf("luis")
	assert.True(t, ok)
	assert.Equal(t, model.RoleViewer, role)

	cases, err = s.ListCasesForUser(ctx, "luis")
	require.NoError(t, err)
	assert.Len(t, cases, 2)

	missing := NewCase("nope", "x", "ana")
	assert.True(t, errors.Is(s.UpdateCase(ctx, missing), storage.ErrNotFound))
}

func entry(id, typ, dateTime string) model.Entry {
	return model.Entry{
		ID:        id,
		Type:      typ,
		Title:     "Entry " + id,
		DateTime:  dateTime,
		Status:    model.StatusPlanned,
		CreatedAt: epoch,
		UpdatedAt: epoch,
		CreatedBy: "ana",
		UpdatedBy: "ana",
	}
}

func testEntries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, NewCase("c1", "Mamá", "ana")))

	require.NoError(t, s.PutEntry(ctx, "c1", entry("e1", model.TypeControl, "2024-03-10T09:30:00")))
	require.NoError(t, s.PutEntry(ctx, "c1", entry("e2", model.TypeChemo, "2024-04-01T08:00:00")))
	require.NoError(t, s.PutEntry(ctx, "c1", entry("e3", model.TypeControl, "2024-02-15T11:00:00")))

	all, err := s.ListEntries(ctx, "c1", storage.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"e2", "e1", "e3"}, []string{all[0].ID, all[1].ID, all[2].ID})

	controls, err := s.ListEntries(ctx, "c1", storage.EntryFilter{Type: model.TypeControl})
	require.NoError(t, err)
	require.Len(t, controls, 2)
	assert.Equal(t, "e1", controls[0].ID)

	// Upsert replaces in place.
	e1 := entry("e1", model.TypeControl, "2024-03-10T09:30:00")
	e1.Title = "Control Urología"
	e1.Status = model.StatusDone
	e1.UpdatedBy = "luis"
	require.NoError(t, s.PutEntry(ctx, "c1", e1))

	got, err := s.GetEntry(ctx, "c1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "Control Urología", got.Title)
	assert.Equal(t, model.StatusDone, got.Status)
	assert.Equal(t, "ana", got.CreatedBy)
	assert.Equal(t, "luis", got.UpdatedBy)
	assert.True(t, got.CreatedAt.Equal(epoch))

	all, err = s.ListEntries(ctx, "c1", storage.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteEntry(ctx, "c1", "e3"))
	_, err = s.GetEntry(ctx, "c1", "e3")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteEntry(ctx, "c1", "e3"), storage.ErrNotFound))

	empty, err := s.ListEntries(ctx, "c1", storage.EntryFilter{Type: model.TypeExam})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func testEntryOptionals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, NewCase("c1", "Mamá", "ana")))

	bare := entry("bare", model.TypeControl, "2024-03-10T09:30:00")
	require.NoError(t, s.PutEntry(ctx, "c1", bare))
	got, err := s.GetEntry(ctx, "c1", "bare")
	require.NoError(t, err)
	assert.Nil(t, got.EndDateTime)
	assert.Nil(t, got.DoseAmount)
	assert.Empty(t, got.DoseUnit)
	assert.Empty(t, got.Attachments)

	end := "2024-03-10T14:00:00"
	dose := 500.0
	full := entry("full", model.TypeChemo, "2024-03-10T09:30:00")
	full.EndDateTime = &end
	full.DoseAmount = &dose
	full.DoseUnit = "mg"
	full.ProfessionalID = "p1"
	full.Location = "Hospital Y"
	full.Notes = "Ayuno"
	full.Attachments = []model.Attachment{{
		ID: "a1", Name: "informe.pdf", URL: "/api/files/a1", MIME: "application/pdf", Size: 1234,
		UploadedAt: epoch,
	}}
	require.NoError(t, s.PutEntry(ctx, "c1", full))

	got, err = s.GetEntry(ctx, "c1", "full")
	require.NoError(t, err)
	require.NotNil(t, got.EndDateTime)
	assert.Equal(t, end, *got.EndDateTime)
	require.NotNil(t, got.DoseAmount)
	assert.Equal(t, 500.0, *got.DoseAmount)
	assert.Equal(t, "mg", got.DoseUnit)
	assert.Equal(t, "p1", got.ProfessionalID)
	assert.Equal(t, "Hospital Y", got.Location)
	assert.Equal(t, "Ayuno", got.Notes)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "informe.pdf", got.Attachments[0].Name)
	assert.True(t, got.Attachments[0].UploadedAt.Equal(epoch))

	n, err := s.CountEntriesByProfessional(ctx, "c1", "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountEntriesByProfessional(ctx, "c1", "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testProfessionals(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, NewCase("c1", "Mamá", "ana")))

	pros := []model.Professional{
		{ID: "p1", Name: "Bruno Soto", Specialty: "Urología", CreatedAt: epoch, UpdatedAt: epoch},
		{ID: "p2", Name: "Ana Pérez", Specialty: "Oncología", Center: "Hospital Y", CreatedAt: epoch, UpdatedAt: epoch},
	}
	for _, p := range pros {
		require.NoError(t, s.PutProfessional(ctx, "c1", p))
	}

	list, err := s.ListProfessionals(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ana Pérez", list[0].Name)
	assert.Equal(t, "Bruno Soto", list[1].Name)

	p2 := pros[1]
	p2.Phone = "+56 9 1234 5678"
	require.NoError(t, s.PutProfessional(ctx, "c1", p2))
	got, err := s.GetProfessional(ctx, "c1", "p2")
	require.NoError(t, err)
	assert.Equal(t, "+56 9 1234 5678", got.Phone)
	assert.Equal(t, "Hospital Y", got.Center)

	require.NoError(t, s.DeleteProfessional(ctx, "c1", "p1"))
	_, err = s.GetProfessional(ctx, "c1", "p1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteProfessional(ctx, "c1", "p1"), storage.ErrNotFound))
}

func testCaseIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateCase(ctx, NewCase("c1", "Mamá", "ana")))
	require.NoError(t, s.CreateCase(ctx, NewCase("c2", "Papá", "ana")))

	require.NoError(t, s.PutEntry(ctx, "c1", entry("e1", model.TypeControl, "2024-03-10T09:30:00")))
	require.NoError(t, s.PutEntry(ctx, "c2", entry("e1", model.TypeExam, "2024-05-10T09:30:00")))
	require.NoError(t, s.PutProfessional(ctx, "c1", model.Professional{ID: "p1", Name: "A", Specialty: "X", CreatedAt: epoch, UpdatedAt: epoch}))

	a, err := s.GetEntry(ctx, "c1", "e1")
	require.NoError(t, err)
	b, err := s.GetEntry(ctx, "c2", "e1")
	require.NoError(t, err)
	assert.Equal(t, model.TypeControl, a.Type)
	assert.Equal(t, model.TypeExam, b.Type)

	list, err := s.ListEntries(ctx, "c2", storage.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetProfessional(ctx, "c2", "p1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.True(t, errors.Is(s.DeleteEntry(ctx, "c2", "nope"), storage.ErrNotFound))
}
