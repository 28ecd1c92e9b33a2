package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	appLog "medtrack/internal/log"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

// SaveProfessional creates p (empty id) or replaces the stored one.
func (s *Service) SaveProfessional(ctx context.Context, userID, caseID string, p model.Professional) (model.Professional, error) {
	if _, err := s.access(ctx, userID, caseID, true); err != nil {
		return model.Professional{}, err
	}

	p.Name = strings.TrimSpace(p.Name)
	p.Specialty = strings.TrimSpace(p.Specialty)
	p.Center = strings.TrimSpace(p.Center)
	if err := p.Validate(); err != nil {
		return model.Professional{}, err
	}

	now := s.now().UTC()
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.NewString()
		p.CreatedAt = now
	} else {
		prev, err := s.store.GetProfessional(ctx, caseID, p.ID)
		switch {
		case err == nil:
			p.CreatedAt = prev.CreatedAt
		case errors.Is(err, storage.ErrNotFound):
			p.CreatedAt = now
		default:
			return model.Professional{}, err
		}
	}
	p.UpdatedAt = now

	if err := s.store.PutProfessional(ctx, caseID, p); err != nil {
		return model.Professional{}, err
	}
	return p, nil
}

func (s *Service) GetProfessional(ctx context.Context, userID, caseID, professionalID string) (model.Professional, error) {
	if _, err := s.access(ctx, userID, caseID, false); err != nil {
		return model.Professional{}, err
	}
	return s.store.GetProfessional(ctx, caseID, professionalID)
}

// ListProfessionals returns the case's professionals by name.
func (s *Service) ListProfessionals(ctx context.Context, userID, caseID string) ([]model.Professional, error) {
	if _, err := s.access(ctx, userID, caseID, false); err != nil {
		return nil, err
	}
	return s.store.ListProfessionals(ctx, caseID)
}

// DeleteProfessional refuses with ErrInUse while any entry references the
// professional.
func (s *Service) DeleteProfessional(ctx context.Context, userID, caseID, professionalID string) error {
	if _, err := s.access(ctx, userID, caseID, true); err != nil {
		return err
	}
	n, err := s.store.CountEntriesByProfessional(ctx, caseID, professionalID)
	if err != nil {
		return err
	}
	if n > 0 {
		appLog.Warn("professional delete refused", "case", caseID, "professional", professionalID, "entries", n)
		return ErrInUse
	}
	return s.store.DeleteProfessional(ctx, caseID, professionalID)
}

// SpecialtySummary counts the case's professionals per specialty.
func (s *Service) SpecialtySummary(ctx context.Context, userID, caseID string) ([]model.SpecialtyCount, error) {
	pros, err := s.ListProfessionals(ctx, userID, caseID)
	if err != nil {
		return nil, err
	}
	return model.CountBySpecialty(pros), nil
}
