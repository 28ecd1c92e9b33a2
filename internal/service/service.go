// Package service holds the tracker's use cases on top of a storage.Store:
// case membership, entries, professionals, attachments and calendar
// export/import.
//
// Every call names the acting user and the case explicitly.
package service

import (
	"context"
	"errors"
	"time"

	"medtrack/internal/attach"
	"medtrack/internal/ics"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

var (
	// ErrForbidden is returned when the user is not a member of the case or
	// their role does not allow the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInUse is returned when deleting a professional still referenced by
	// entries.
	ErrInUse = errors.New("in use")
)

// Service implements the tracker operations.
type Service struct {
	store     storage.Store
	files     *attach.Store
	formatter *ics.Formatter
	loc       *time.Location

	fetcher   *ics.Fetcher
	series    ics.SeriesConfig
	uidDomain string
	maxUpload int64
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithFetcher enables importing calendars by URL.
func WithFetcher(f *ics.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithSeries sets the dose schedule expansion limits.
func WithSeries(cfg ics.SeriesConfig) Option {
	return func(s *Service) { s.series = cfg }
}

// WithUIDDomain must match the formatter's UID domain so re-imported
// exports map back to their entries.
func WithUIDDomain(domain string) Option {
	return func(s *Service) { s.uidDomain = domain }
}

// WithMaxUpload limits attachment size in bytes.
func WithMaxUpload(n int64) Option {
	return func(s *Service) { s.maxUpload = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New wires a Service. loc is the display zone offset-bearing date-times
// are converted into.
func New(store storage.Store, files *attach.Store, formatter *ics.Formatter, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		store:     store,
		files:     files,
		formatter: formatter,
		loc:       loc,
		maxUpload: 20 << 20,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.series.Location = loc
	return s
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// access loads the case and checks userID's role in it.
func (s *Service) access(ctx context.Context, userID, caseID string, write bool) (model.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	role, ok := c.RoleOf(userID)
	if !ok {
		return model.Case{}, ErrForbidden
	}
	if write && !role.CanWrite() {
		return model.Case{}, ErrForbidden
	}
	return c, nil
}

func invalid(problems ...string) error {
	return &model.ValidationError{Problems: problems}
}
