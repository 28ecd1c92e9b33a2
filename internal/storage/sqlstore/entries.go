package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"medtrack/internal/model"
	"medtrack/internal/storage"
)

const entryColumns = `id, type, title, date_time, end_date_time, status, dose_amount, dose_unit,
	professional_id, location, notes, attachments, created_at, updated_at, created_by, updated_by`

// PutEntry inserts e or replaces the stored entry with the same id.
func (s *Store) PutEntry(ctx context.Context, caseID string, e model.Entry) error {
	attachments := e.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	attJSON, err := json.Marshal(attachments)
	if err != nil {
		return err
	}

	var end sql.NullString
	if e.EndDateTime != nil && *e.EndDateTime != "" {
		end = sql.NullString{String: *e.EndDateTime, Valid: true}
	}
	var dose sql.NullFloat64
	if e.DoseAmount != nil {
		dose = sql.NullFloat64{Float64: *e.DoseAmount, Valid: true}
	}

	_, err = s.exec(ctx, s.db, `
		INSERT INTO entries (case_id, `+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id, id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			date_time = excluded.date_time,
			end_date_time = excluded.end_date_time,
			status = excluded.status,
			dose_amount = excluded.dose_amount,
			dose_unit = excluded.dose_unit,
			professional_id = excluded.professional_id,
			location = excluded.location,
			notes = excluded.notes,
			attachments = excluded.attachments,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			created_by = excluded.created_by,
			updated_by = excluded.updated_by`,
		caseID, e.ID, e.Type, e.Title, e.DateTime, end, string(e.Status), dose, e.DoseUnit,
		e.ProfessionalID, e.Location, e.Notes, string(attJSON),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt), e.CreatedBy, e.UpdatedBy)
	if err != nil {
		return fmt.Errorf("put entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, caseID, entryID string) (model.Entry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+entryColumns+` FROM entries WHERE case_id = ? AND id = ?`), caseID, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Entry{}, storage.ErrNotFound
	}
	return e, err
}

func (s *Store) ListEntries(ctx context.Context, caseID string, filter storage.EntryFilter) ([]model.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM entries WHERE case_id = ?`
	args := []any{caseID}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY date_time DESC, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) DeleteEntry(ctx context.Context, caseID, entryID string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM entries WHERE case_id = ? AND id = ?`, caseID, entryID)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (s *Store) CountEntriesByProfessional(ctx context.Context, caseID, professionalID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT COUNT(*) FROM entries WHERE case_id = ? AND professional_id = ?`),
		caseID, professionalID).Scan(&n)
	return n, err
}

func scanEntry(row rowScanner) (model.Entry, error) {
	var (
		e                    model.Entry
		status, attachments  string
		createdAt, updatedAt string
		end                  sql.NullString
		dose                 sql.NullFloat64
	)
	err := row.Scan(&e.ID, &e.Type, &e.Title, &e.DateTime, &end, &status, &dose, &e.DoseUnit,
		&e.ProfessionalID, &e.Location, &e.Notes, &attachments, &createdAt, &updatedAt,
		&e.CreatedBy, &e.UpdatedBy)
	if err != nil {
		return model.Entry{}, err
	}

	e.Status = model.EntryStatus(status)
	if end.Valid {
		v := end.String
		e.EndDateTime = &v
	}
	if dose.Valid {
		v := dose.Float64
		e.DoseAmount = &v
	}
	if attachments != "" && attachments != "[]" {
		if err := json.Unmarshal([]byte(attachments), &e.Attachments); err != nil {
			return model.Entry{}, fmt.Errorf("decode attachments of entry %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return e, nil
}
