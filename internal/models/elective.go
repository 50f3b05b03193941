package models

import "time"

// ElectiveStatus represents the review lifecycle of an elective.
type ElectiveStatus string

// Review states an elective moves through. The literal values are kept in
// Spanish because they are part of the persisted contract with the frontend.
const (
	ElectiveStatusPending  ElectiveStatus = "Pendiente"
	ElectiveStatusApproved ElectiveStatus = "Aprobado"
	ElectiveStatusRejected ElectiveStatus = "Rechazado"
)

// Elective is a course proposed by a teacher. Quotas holds the seats still
// available, not the original capacity; it is mutated by the seat ledger on
// every enrollment transition.
type Elective struct {
	ID            string         `db:"id" json:"id"`
	Name          string         `db:"name" json:"name"`
	Description   string         `db:"description" json:"description"`
	Objectives    string         `db:"objectives" json:"objectives"`
	Prerequisites string         `db:"prerequisites" json:"prerequisites"`
	Schedule      string         `db:"schedule" json:"schedule"`
	Quotas        int            `db:"quotas" json:"quotas"`
	Status        ElectiveStatus `db:"status" json:"status"`
	TeacherID     string         `db:"teacher_id" json:"teacher_id"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// ElectiveFilter provides filters for listing electives. When OwnOrApproved
// is set together with TeacherID, the filter matches electives owned by that
// teacher plus every approved one, which is the teacher-facing catalog view.
type ElectiveFilter struct {
	Status        ElectiveStatus
	TeacherID     string
	OwnOrApproved bool
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
