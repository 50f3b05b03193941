package models

import "time"

// RequestStatus represents the lifecycle of an exception request.
type RequestStatus string

// Exception request states, persisted in Spanish like the elective workflow.
const (
	RequestStatusPending  RequestStatus = "pendiente"
	RequestStatusApproved RequestStatus = "aprobado"
	RequestStatusRejected RequestStatus = "rechazado"
)

// IsActive reports whether the status blocks a new request for the same
// (student, elective) pair.
func (s RequestStatus) IsActive() bool {
	return s == RequestStatusPending || s == RequestStatusApproved
}

// ExceptionRequest is the manual-override enrollment channel. It bypasses the
// seat ledger at creation; the seat is claimed only when a reviewer approves.
type ExceptionRequest struct {
	ID            string        `db:"id" json:"id"`
	StudentID     string        `db:"student_id" json:"student_id"`
	ElectiveID    string        `db:"elective_id" json:"elective_id"`
	Justification string        `db:"justification" json:"justification"`
	Status        RequestStatus `db:"status" json:"status"`
	ReviewerID    *string       `db:"reviewer_id" json:"reviewer_id,omitempty"`
	ReviewComment *string       `db:"review_comment" json:"review_comment,omitempty"`
	ReviewedAt    *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// RequestFilter provides filters for listing exception requests.
type RequestFilter struct {
	StudentID  string
	ElectiveID string
	Status     RequestStatus
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
