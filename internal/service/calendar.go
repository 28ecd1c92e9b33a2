package service

import (
	"context"
	"errors"
	"strings"

	"medtrack/internal/ics"
	appLog "medtrack/internal/log"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

// ImportResult counts what an import did.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// RenderICS formats a caller-supplied entry without touching storage.
func (s *Service) RenderICS(entry model.Entry, pro *model.Professional) (ics.Payload, error) {
	return s.formatter.Build(entry, pro)
}

// ExportEntry renders a stored entry, with its professional when it has
// one, as a single-event calendar file.
func (s *Service) ExportEntry(ctx context.Context, userID, caseID, entryID string) (ics.Payload, error) {
	if _, err := s.access(ctx, userID, caseID, false); err != nil {
		return ics.Payload{}, err
	}
	e, err := s.store.GetEntry(ctx, caseID, entryID)
	if err != nil {
		return ics.Payload{}, err
	}

	var pro *model.Professional
	if e.ProfessionalID != "" {
		p, err := s.store.GetProfessional(ctx, caseID, e.ProfessionalID)
		switch {
		case err == nil:
			pro = &p
		case errors.Is(err, storage.ErrNotFound):
			appLog.Warn("entry references a missing professional", "case", caseID, "entry", entryID, "professional", e.ProfessionalID)
		default:
			return ics.Payload{}, err
		}
	}
	return s.formatter.Build(e, pro)
}

// Import upserts the events of a calendar file as entries. Events exported
// by this application update their original entry; other events become new
// planned entries.
func (s *Service) Import(ctx context.Context, userID, caseID string, body []byte) (ImportResult, error) {
	var res ImportResult
	c, err := s.access(ctx, userID, caseID, true)
	if err != nil {
		return res, err
	}
	events, err := ics.ParseEntries(body, s.loc, s.uidDomain)
	if err != nil {
		return res, invalid("calendar could not be parsed: " + err.Error())
	}

	defaultType := model.TypeControl
	if !c.HasType(defaultType) && len(c.Types) > 0 {
		defaultType = c.Types[0]
	}

	now := s.now().UTC()
	for _, ev := range events {
		e := ev.Entry
		prev, err := s.store.GetEntry(ctx, caseID, e.ID)
		switch {
		case err == nil:
			prev.Title = e.Title
			prev.DateTime = e.DateTime
			prev.EndDateTime = e.EndDateTime
			// DESCRIPTION of an exported event is generated text and an
			// empty location was filled from the professional's center, so
			// both stay as stored.
			if prev.Location != "" && e.Location != "" {
				prev.Location = e.Location
			}
			e = prev
		case errors.Is(err, storage.ErrNotFound):
			e.Type = defaultType
			e.CreatedAt, e.CreatedBy = now, userID
		default:
			return res, err
		}

		if err := s.normalizeEntry(ctx, c, &e); err != nil {
			appLog.Warn("imported event skipped", "case", caseID, "uid", ev.UID, "reason", err.Error())
			res.Skipped++
			continue
		}
		e.UpdatedAt, e.UpdatedBy = now, userID
		if err := s.store.PutEntry(ctx, caseID, e); err != nil {
			return res, err
		}
		if prev.ID != "" {
			res.Updated++
		} else {
			res.Created++
		}
	}

	appLog.Info("calendar imported", "case", caseID, "created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// ImportURL downloads a calendar (http, https or webcal) and imports it.
func (s *Service) ImportURL(ctx context.Context, userID, caseID, url string) (ImportResult, error) {
	if s.fetcher == nil {
		return ImportResult{}, errors.New("remote import is not configured")
	}
	if _, err := s.access(ctx, userID, caseID, true); err != nil {
		return ImportResult{}, err
	}
	fr, err := s.fetcher.Fetch(ctx, strings.TrimSpace(url))
	if err != nil {
		return ImportResult{}, invalid("calendar could not be fetched: " + err.Error())
	}
	return s.Import(ctx, userID, caseID, fr.Body)
}

// CreateSeries expands a dose schedule into planned entries and stores
// them.
func (s *Service) CreateSeries(ctx context.Context, userID, caseID string, template model.Entry, rule string) (ics.SeriesResult, error) {
	c, err := s.access(ctx, userID, caseID, true)
	if err != nil {
		return ics.SeriesResult{}, err
	}
	if err := s.normalizeEntry(ctx, c, &template); err != nil {
		return ics.SeriesResult{}, err
	}

	res, err := ics.ExpandSeries(template, rule, s.series)
	if err != nil {
		var verr *ics.ValidationError
		if errors.As(err, &verr) {
			return ics.SeriesResult{}, err
		}
		return ics.SeriesResult{}, invalid(err.Error())
	}

	now := s.now().UTC()
	for i := range res.Entries {
		e := &res.Entries[i]
		e.CreatedAt, e.CreatedBy = now, userID
		e.UpdatedAt, e.UpdatedBy = now, userID
		if err := s.store.PutEntry(ctx, caseID, *e); err != nil {
			return ics.SeriesResult{}, err
		}
	}
	appLog.Info("series created", "case", caseID, "entries", len(res.Entries), "truncated", res.Truncated)
	return res, nil
}
