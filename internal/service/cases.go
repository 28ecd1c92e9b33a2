package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	appLog "medtrack/internal/log"
	"medtrack/internal/model"
	"medtrack/internal/storage"
)

// CreateCase starts a case owned by userID with the base entry types.
func (s *Service) CreateCase(ctx context.Context, userID, name string) (model.Case, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Case{}, invalid("name is required")
	}
	c := model.Case{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   userID,
		Types:     model.BaseTypes(),
		Members:   []model.Member{{UserID: userID, Role: model.RoleOwner}},
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateCase(ctx, c); err != nil {
		return model.Case{}, err
	}
	appLog.Info("case created", "case", c.ID, "owner", userID)
	return c, nil
}

// ListCases returns the cases userID belongs to.
func (s *Service) ListCases(ctx context.Context, userID string) ([]model.Case, error) {
	return s.store.ListCasesForUser(ctx, userID)
}

func (s *Service) GetCase(ctx context.Context, userID, caseID string) (model.Case, error) {
	return s.access(ctx, userID, caseID, false)
}

// AddMember grants memberID a role in the case, or changes an existing
// member's role. Only the owner may do this and the owner's own role is
// fixed.
func (s *Service) AddMember(ctx context.Context, userID, caseID, memberID string, role model.Role) (model.Case, error) {
	c, err := s.access(ctx, userID, caseID, true)
	if err != nil {
		return model.Case{}, err
	}
	if c.OwnerID != userID {
		return model.Case{}, ErrForbidden
	}

	memberID = strings.TrimSpace(memberID)
	switch {
	case memberID == "":
		return model.Case{}, invalid("userId is required")
	case role != model.RoleEditor && role != model.RoleViewer:
		return model.Case{}, invalid("role must be editor or viewer")
	case memberID == c.OwnerID:
		return model.Case{}, invalid("the owner's role cannot be changed")
	}

	found := false
	for i := range c.Members {
		if c.Members[i].UserID == memberID {
			c.Members[i].Role = role
			found = true
		}
	}
	if !found {
		c.Members = append(c.Members, model.Member{UserID: memberID, Role: role})
	}
	if err := s.store.UpdateCase(ctx, c); err != nil {
		return model.Case{}, err
	}
	appLog.Info("case member set", "case", caseID, "member", memberID, "role", role)
	return c, nil
}

// AddType adds a custom entry type to the case. Adding an existing type is
// a no-op.
func (s *Service) AddType(ctx context.Context, userID, caseID, typ string) (model.Case, error) {
	c, err := s.access(ctx, userID, caseID, true)
	if err != nil {
		return model.Case{}, err
	}
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return model.Case{}, invalid("type is required")
	}
	if c.HasType(typ) {
		return c, nil
	}
	c.Types = append(c.Types, typ)
	if err := s.store.UpdateCase(ctx, c); err != nil {
		return model.Case{}, err
	}
	return c, nil
}

// Summary counts done and planned entries per case type.
func (s *Service) Summary(ctx context.Context, userID, caseID string) ([]model.TypeSummary, error) {
	c, err := s.access(ctx, userID, caseID, false)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, caseID, storage.EntryFilter{})
	if err != nil {
		return nil, err
	}
	return model.Summarize(c.Types, entries), nil
}
