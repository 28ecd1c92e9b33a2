package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"medtrack/internal/model"
	"medtrack/internal/storage"
)

const professionalColumns = `id, name, specialty, center, phone, email, address, notes, created_at, updated_at`

func (s *Store) PutProfessional(ctx context.Context, caseID string, p model.Professional) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO professionals (case_id, `+professionalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, id) DO UPDATE SET
			name = excluded.name,
			specialty = excluded.specialty,
			center = excluded.center,
			phone = excluded.phone,
			email = excluded.email,
			address = excluded.address,
			notes = excluded.notes,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		caseID, p.ID, p.Name, p.Specialty, p.Center, p.Phone, p.Email, p.Address, p.Notes,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put professional %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetProfessional(ctx context.Context, caseID, professionalID string) (model.Professional, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+professionalColumns+` FROM professionals WHERE case_id = ? AND id = ?`),
		caseID, professionalID)
	p, err := scanProfessional(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Professional{}, storage.ErrNotFound
	}
	return p, err
}

func (s *Store) ListProfessionals(ctx context.Context, caseID string) ([]model.Professional, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+professionalColumns+` FROM professionals WHERE case_id = ? ORDER BY name, id`), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pros := []model.Professional{}
	for rows.Next() {
		p, err := scanProfessional(rows)
		if err != nil {
			return nil, err
		}
		pros = append(pros, p)
	}
	return pros, rows.Err()
}

func (s *Store) DeleteProfessional(ctx context.Context, caseID, professionalID string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM professionals WHERE case_id = ? AND id = ?`, caseID, professionalID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func scanProfessional(row rowScanner) (model.Professional, error) {
	var p model.Professional
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.Specialty, &p.Center, &p.Phone, &p.Email, &p.Address, &p.Notes,
		&createdAt, &updatedAt)
	if err != nil {
		return model.Professional{}, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
