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

func (s *Store) CreateCase(ctx context.Context, c model.Case) error {
	types, err := json.Marshal(nonNilTypes(c.Types))
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, `
			INSERT INTO cases (id, name, owner_id, types, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.OwnerID, string(types), formatTime(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert case: %w", err)
		}
		return s.replaceMembers(ctx, tx, c.ID, c.Members)
	})
}

func (s *Store) GetCase(ctx context.Context, caseID string) (model.Case, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, owner_id, types, created_at FROM cases WHERE id = ?`), caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Case{}, storage.ErrNotFound
	}
	if err != nil {
		return model.Case{}, err
	}
	members, err := s.members(ctx, caseID)
	if err != nil {
		return model.Case{}, err
	}
	c.Members = members
	return c, nil
}

func (s *Store) ListCasesForUser(ctx context.Context, userID string) ([]model.Case, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT c.id, c.name, c.owner_id, c.types, c.created_at
		FROM cases c JOIN case_members m ON m.case_id = c.id
		WHERE m.user_id = ?
		ORDER BY c.name, c.id`), userID)
	if err != nil {
		return nil, err
	}

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before issuing more queries; sqlite runs on one connection.
	rows.Close()

	for i := range cases {
		members, err := s.members(ctx, cases[i].ID)
		if err != nil {
			return nil, err
		}
		cases[i].Members = members
	}
	return cases, nil
}

func (s *Store) UpdateCase(ctx context.Context, c model.Case) error {
	types, err := json.Marshal(nonNilTypes(c.Types))
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := s.exec(ctx, tx, `UPDATE cases SET name = ?, types = ? WHERE id = ?`,
			c.Name, string(types), c.ID)
		if err != nil {
			return fmt.Errorf("update case: %w", err)
		}
		if err := affectedOrNotFound(res); err != nil {
			return err
		}
		return s.replaceMembers(ctx, tx, c.ID, c.Members)
	})
}

func (s *Store) replaceMembers(ctx context.Context, tx *sql.Tx, caseID string, members []model.Member) error {
	if _, err := s.exec(ctx, tx, `DELETE FROM case_members WHERE case_id = ?`, caseID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	for _, m := range members {
		if _, err := s.exec(ctx, tx, `INSERT INTO case_members (case_id, user_id, role) VALUES (?, ?, ?)`,
			caseID, m.UserID, string(m.Role)); err != nil {
			return fmt.Errorf("insert member %s: %w", m.UserID, err)
		}
	}
	return nil
}

func (s *Store) members(ctx context.Context, caseID string) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT user_id, role FROM case_members WHERE case_id = ? ORDER BY user_id`), caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []model.Member{}
	for rows.Next() {
		var m model.Member
		var role string
		if err := rows.Scan(&m.UserID, &role); err != nil {
			return nil, err
		}
		m.Role = model.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (model.Case, error) {
	var c model.Case
	var types, createdAt string
	if err := row.Scan(&c.ID, &c.Name, &c.OwnerID, &types, &createdAt); err != nil {
		return model.Case{}, err
	}
	if err := json.Unmarshal([]byte(types), &c.Types); err != nil {
		return model.Case{}, fmt.Errorf("decode types of case %s: %w", c.ID, err)
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func nonNilTypes(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}
