// Package storage defines the persistence contract shared by every backend.
//
// Exactly one Store is opened at startup from configuration and passed to
// the components that need it. Every case-scoped method takes the case id
// explicitly; there is no ambient "current case".
package storage

import (
	"context"
	"errors"

	"medtrack/internal/model"
)

// ErrNotFound is returned when a case, entry or professional does not exist
// in the given case.
var ErrNotFound = errors.New("not found")

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	Type string
}

// Store is implemented by sqlstore (sqlite, postgres) and mongostore.
type Store interface {
	// Cases
	CreateCase(ctx context.Context, c model.Case) error
	GetCase(ctx context.Context, caseID string) (model.Case, error)
	// ListCasesForUser returns the cases userID is a member of, by name.
	ListCasesForUser(ctx context.Context, userID string) ([]model.Case, error)
	UpdateCase(ctx context.Context, c model.Case) error

	// Entries
	PutEntry(ctx context.Context, caseID string, e model.Entry) error
	GetEntry(ctx context.Context, caseID, entryID string) (model.Entry, error)
	// ListEntries returns entries ordered by DateTime, newest first.
	ListEntries(ctx context.Context, caseID string, filter EntryFilter) ([]model.Entry, error)
	DeleteEntry(ctx context.Context, caseID, entryID string) error
	CountEntriesByProfessional(ctx context.Context, caseID, professionalID string) (int, error)

	// Professionals
	PutProfessional(ctx context.Context, caseID string, p model.Professional) error
	GetProfessional(ctx context.Context, caseID, professionalID string) (model.Professional, error)
	// ListProfessionals returns professionals ordered by name.
	ListProfessionals(ctx context.Context, caseID string) ([]model.Professional, error)
	DeleteProfessional(ctx context.Context, caseID, professionalID string) error

	Ping(ctx context.Context) error
	Close() error
}
