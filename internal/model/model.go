package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type EntryStatus string

const (
	StatusPlanned   EntryStatus = "planned"
	StatusDone      EntryStatus = "done"
	StatusCancelled EntryStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Base entry type tags every new case starts with.
const (
	TypeControl = "control"
	TypeChemo   = "chemo"
	TypeExam    = "exam"
	TypeMed     = "med"
)

// BaseTypes returns a fresh copy of the default type list for a new case.
func BaseTypes() []string {
	return []string{TypeControl, TypeChemo, TypeExam, TypeMed}
}

// Attachment describes one uploaded file. Attachments are only ever appended
// to an entry.
type Attachment struct {
	ID         string    `json:"id" bson:"id"`
	Name       string    `json:"name" bson:"name"`
	URL        string    `json:"url" bson:"url"`
	Path       string    `json:"path,omitempty" bson:"path,omitempty"`
	MIME       string    `json:"mime" bson:"mime"`
	Size       int64     `json:"size" bson:"size"`
	UploadedAt time.Time `json:"uploadedAt" bson:"uploadedAt"`
}

// Entry is one medical event: a visit, a dose, an exam or a treatment.
//
// DateTime and EndDateTime are timezone-naive wall clock strings; see
// ParseDateTime for the accepted forms. Empty strings mean "absent" for the
// optional text fields.
type Entry struct {
	ID             string       `json:"id" bson:"id"`
	Type           string       `json:"type" bson:"type"`
	Title          string       `json:"title" bson:"title"`
	DateTime       string       `json:"dateTime" bson:"dateTime"`
	EndDateTime    *string      `json:"endDateTime,omitempty" bson:"endDateTime,omitempty"`
	Status         EntryStatus  `json:"status" bson:"status"`
	DoseAmount     *float64     `json:"doseAmount,omitempty" bson:"doseAmount,omitempty"`
	DoseUnit       string       `json:"doseUnit,omitempty" bson:"doseUnit,omitempty"`
	ProfessionalID string       `json:"professionalId,omitempty" bson:"professionalId,omitempty"`
	Location       string       `json:"location,omitempty" bson:"location,omitempty"`
	Notes          string       `json:"notes,omitempty" bson:"notes,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	CreatedBy string    `json:"createdBy,omitempty" bson:"createdBy,omitempty"`
	UpdatedBy string    `json:"updatedBy,omitempty" bson:"updatedBy,omitempty"`
}

// Validate checks the invariants every stored entry must hold.
func (e Entry) Validate() error {
	var problems []string
	if strings.TrimSpace(e.Title) == "" {
		problems = append(problems, "title is required")
	}
	if strings.TrimSpace(e.DateTime) == "" {
		problems = append(problems, "dateTime is required")
	} else if _, err := ParseDateTime(e.DateTime, time.UTC); err != nil {
		problems = append(problems, fmt.Sprintf("dateTime %q is not a valid date-time", e.DateTime))
	}
	if e.EndDateTime != nil && *e.EndDateTime != "" {
		if _, err := ParseDateTime(*e.EndDateTime, time.UTC); err != nil {
			problems = append(problems, fmt.Sprintf("endDateTime %q is not a valid date-time", *e.EndDateTime))
		}
	}
	if e.Status != "" && !e.Status.Valid() {
		problems = append(problems, fmt.Sprintf("status %q is not one of planned, done, cancelled", e.Status))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// HasDose reports whether both dose fields are present, which is the only
// case in which they are shown together.
func (e Entry) HasDose() bool {
	return e.DoseAmount != nil && strings.TrimSpace(e.DoseUnit) != ""
}

// Professional is a care provider referenced by entries.
type Professional struct {
	ID        string `json:"id" bson:"id"`
	Name      string `json:"name" bson:"name"`
	Specialty string `json:"specialty" bson:"specialty"`
	Center    string `json:"center,omitempty" bson:"center,omitempty"`
	Phone     string `json:"phone,omitempty" bson:"phone,omitempty"`
	Email     string `json:"email,omitempty" bson:"email,omitempty"`
	Address   string `json:"address,omitempty" bson:"address,omitempty"`
	Notes     string `json:"notes,omitempty" bson:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

func (p Professional) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Name) == "" {
		problems = append(problems, "name is required")
	}
	if strings.TrimSpace(p.Specialty) == "" {
		problems = append(problems, "specialty is required")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may modify case data.
func (r Role) CanWrite() bool {
	return r == RoleOwner || r == RoleEditor
}

type Member struct {
	UserID string `json:"userId" bson:"userId"`
	Role   Role   `json:"role" bson:"role"`
}

// Case groups the entries and professionals shared by a family.
type Case struct {
	ID        string    `json:"id" bson:"id"`
	Name      string    `json:"name" bson:"name"`
	OwnerID   string    `json:"ownerId" bson:"ownerId"`
	Types     []string  `json:"types" bson:"types"`
	Members   []Member  `json:"members" bson:"members"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// RoleOf returns the role userID holds in the case, if any.
func (c Case) RoleOf(userID string) (Role, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m.Role, true
		}
	}
	return "", false
}

// HasType reports whether t is one of the case's entry types.
func (c Case) HasType(t string) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// TypeSummary holds done/pending counts for one entry type.
type TypeSummary struct {
	Type    string `json:"type"`
	Done    int    `json:"done"`
	Planned int    `json:"planned"`
}

// Summarize counts done and planned entries per type, in the order of
// types. Cancelled entries are not counted. Entries whose type is not in
// types are ignored.
func Summarize(types []string, entries []Entry) []TypeSummary {
	out := make([]TypeSummary, len(types))
	idx := make(map[string]int, len(types))
	for i, t := range types {
		out[i].Type = t
		idx[t] = i
	}
	for _, e := range entries {
		i, ok := idx[e.Type]
		if !ok {
			continue
		}
		switch e.Status {
		case StatusDone:
			out[i].Done++
		case StatusPlanned:
			out[i].Planned++
		}
	}
	return out
}

// SpecialtyCount is the number of professionals sharing one specialty.
type SpecialtyCount struct {
	Specialty string `json:"specialty"`
	Count     int    `json:"count"`
}

// CountBySpecialty groups professionals by specialty, sorted by name.
func CountBySpecialty(pros []Professional) []SpecialtyCount {
	counts := make(map[string]int)
	for _, p := range pros {
		counts[p.Specialty]++
	}
	out := make([]SpecialtyCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, SpecialtyCount{Specialty: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Specialty < out[j].Specialty })
	return out
}
