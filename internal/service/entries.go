package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"medtrack/internal/attach"
	appLog "medtrack/internal/log"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

// SaveEntry creates e (empty id) or replaces the stored entry with the same
// id. Creation metadata and attachments of an existing entry are kept.
func (s *Service) SaveEntry(ctx context.Context, userID, caseID string, e model.Entry) (model.Entry, error) {
	c, err := s.access(ctx, userID, caseID, true)
	if err != nil {
		return model.Entry{}, err
	}
	if err := s.normalizeEntry(ctx, c, &e); err != nil {
		return model.Entry{}, err
	}

	now := s.now().UTC()
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = uuid.NewString()
		e.CreatedAt, e.CreatedBy = now, userID
		e.Attachments = nil
	} else {
		prev, err := s.store.GetEntry(ctx, caseID, e.ID)
		switch {
		case err == nil:
			e.CreatedAt, e.CreatedBy = prev.CreatedAt, prev.CreatedBy
			e.Attachments = prev.Attachments
		case errors.Is(err, storage.ErrNotFound):
			e.CreatedAt, e.CreatedBy = now, userID
			e.Attachments = nil
		default:
			return model.Entry{}, err
		}
	}
	e.UpdatedAt, e.UpdatedBy = now, userID

	if err := s.store.PutEntry(ctx, caseID, e); err != nil {
		return model.Entry{}, err
	}
	appLog.Debug("entry saved", "case", caseID, "entry", e.ID, "user", userID)
	return e, nil
}

// normalizeEntry validates e against the case and rewrites its date-times
// as naive wall clock values in the display zone.
func (s *Service) normalizeEntry(ctx context.Context, c model.Case, e *model.Entry) error {
	e.Title = strings.TrimSpace(e.Title)
	e.Type = strings.TrimSpace(e.Type)
	e.DoseUnit = strings.TrimSpace(e.DoseUnit)
	e.ProfessionalID = strings.TrimSpace(e.ProfessionalID)
	if e.Type == "" {
		e.Type = model.TypeControl
	}
	if e.Status == "" {
		e.Status = model.StatusPlanned
	}
	if err := e.Validate(); err != nil {
		return err
	}

	var problems []string
	if !c.HasType(e.Type) {
		problems = append(problems, fmt.Sprintf("type %q is not defined for this case", e.Type))
	}

	start, err := model.ParseDateTime(e.DateTime, s.loc)
	if err != nil {
		return invalid(fmt.Sprintf("dateTime %q is not a valid date-time", e.DateTime))
	}
	e.DateTime = model.FormatDateTime(start)
	if e.EndDateTime != nil && strings.TrimSpace(*e.EndDateTime) == "" {
		e.EndDateTime = nil
	}
	if e.EndDateTime != nil {
		end, err := model.ParseDateTime(*e.EndDateTime, s.loc)
		if err != nil {
			return invalid(fmt.Sprintf("endDateTime %q is not a valid date-time", *e.EndDateTime))
		}
		if end.Before(start) {
			problems = append(problems, "endDateTime is before dateTime")
		}
		v := model.FormatDateTime(end)
		e.EndDateTime = &v
	}

	if e.DoseAmount != nil && *e.DoseAmount < 0 {
		problems = append(problems, "doseAmount must not be negative")
	}
	if e.ProfessionalID != "" {
		if _, err := s.store.GetProfessional(ctx, c.ID, e.ProfessionalID); errors.Is(err, storage.ErrNotFound) {
			problems = append(problems, fmt.Sprintf("professional %q does not exist", e.ProfessionalID))
		} else if err != nil {
			return err
		}
	}

	if len(problems) > 0 {
		return invalid(problems...)
	}
	return nil
}

func (s *Service) GetEntry(ctx context.Context, userID, caseID, entryID string) (model.Entry, error) {
	if _, err := s.access(ctx, userID, caseID, false); err != nil {
		return model.Entry{}, err
	}
	return s.store.GetEntry(ctx, caseID, entryID)
}

// ListEntries returns the case's entries, newest first.
func (s *Service) ListEntries(ctx context.Context, userID, caseID string, filter storage.EntryFilter) ([]model.Entry, error) {
	if _, err := s.access(ctx, userID, caseID, false); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, caseID, filter)
}

// ToggleDone flips planned to done and done to planned. A cancelled entry
// becomes done.
func (s *Service) ToggleDone(ctx context.Context, userID, caseID, entryID string) (model.Entry, error) {
	if _, err := s.access(ctx, userID, caseID, true); err != nil {
		return model.Entry{}, err
	}
	e, err := s.store.GetEntry(ctx, caseID, entryID)
	if err != nil {
		return model.Entry{}, err
	}
	if e.Status == model.StatusDone {
		e.Status = model.StatusPlanned
	} else {
		e.Status = model.StatusDone
	}
	e.UpdatedAt, e.UpdatedBy = s.now().UTC(), userID
	if err := s.store.PutEntry(ctx, caseID, e); err != nil {
		return model.Entry{}, err
	}
	return e, nil
}

// DeleteEntry removes the entry and its stored files.
func (s *Service) DeleteEntry(ctx context.Context, userID, caseID, entryID string) error {
	if _, err := s.access(ctx, userID, caseID, true); err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, caseID, entryID); err != nil {
		return err
	}
	if s.files != nil {
		if err := s.files.RemoveEntry(caseID, entryID); err != nil {
			appLog.Error("attachment cleanup failed", err, "case", caseID, "entry", entryID)
		}
	}
	appLog.Info("entry deleted", "case", caseID, "entry", entryID, "user", userID)
	return nil
}

// AddAttachment stores r as a new file of the entry.
func (s *Service) AddAttachment(ctx context.Context, userID, caseID, entryID, name string, r io.Reader) (model.Attachment, error) {
	if s.files == nil {
		return model.Attachment{}, errors.New("attachments are not configured")
	}
	if _, err := s.access(ctx, userID, caseID, true); err != nil {
		return model.Attachment{}, err
	}
	e, err := s.store.GetEntry(ctx, caseID, entryID)
	if err != nil {
		return model.Attachment{}, err
	}

	att, err := s.files.Save(caseID, entryID, name, r, s.maxUpload)
	if err != nil {
		return model.Attachment{}, err
	}
	e.Attachments = append(e.Attachments, att)
	e.UpdatedAt, e.UpdatedBy = s.now().UTC(), userID
	if err := s.store.PutEntry(ctx, caseID, e); err != nil {
		return model.Attachment{}, err
	}
	return att, nil
}

// OpenAttachment opens a stored file after checking the user belongs to the
// case it was uploaded to.
func (s *Service) OpenAttachment(ctx context.Context, userID, path string) (*os.File, string, error) {
	if s.files == nil {
		return nil, "", storage.ErrNotFound
	}
	caseID, err := attach.CaseOf(path)
	if err != nil {
		return nil, "", storage.ErrNotFound
	}
	if _, err := s.access(ctx, userID, caseID, false); err != nil {
		return nil, "", err
	}
	f, mime, err := s.files.Open(path)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, attach.ErrInvalidPath) {
		return nil, "", storage.ErrNotFound
	}
	return f, mime, err
}
