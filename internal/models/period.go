package models

import "time"

// PeriodVisibility defines which role an enrollment window applies to.
type PeriodVisibility string

// Visibility scopes. HIDDEN periods are only visible to oversight roles.
const (
	VisibilityHidden   PeriodVisibility = "OCULTO"
	VisibilityStudents PeriodVisibility = "ALUMNOS"
	VisibilityTeachers PeriodVisibility = "DOCENTES"
	VisibilityAll      PeriodVisibility = "TODOS"
)

// AppliesTo reports whether a period with this visibility gates the role.
// Oversight roles match every scope so they can always inspect the calendar.
func (v PeriodVisibility) AppliesTo(role UserRole) bool {
	switch role {
	case RoleProgramHead, RoleAdmin:
		return true
	case RoleStudent:
		return v == VisibilityStudents || v == VisibilityAll
	case RoleTeacher:
		return v == VisibilityTeachers || v == VisibilityAll
	default:
		return false
	}
}

// Period is an administrator-defined time window during which
// enrollment-affecting actions are permitted for the scoped role.
type Period struct {
	ID         string           `db:"id" json:"id"`
	Name       string           `db:"name" json:"name"`
	StartsAt   time.Time        `db:"starts_at" json:"starts_at"`
	EndsAt     time.Time        `db:"ends_at" json:"ends_at"`
	Visibility PeriodVisibility `db:"visibility" json:"visibility"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Contains reports whether the instant falls inside the window, inclusive on
// both bounds.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.StartsAt) && !t.After(p.EndsAt)
}
