package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/electivas-ubb/electivas-api/internal/models"
)

// ErrDuplicateActive is returned by the conditional inserts when an active
// record already exists for the (student, elective) pair.
var ErrDuplicateActive = errors.New("active record already exists")

// ErrAlreadyDecided is returned by the conditional review and withdraw writes
// when the row left the pending state before the write landed. Exactly one
// concurrent decision wins; the losers get this error and must not touch the
// seat ledger.
var ErrAlreadyDecided = errors.New("record already left the pending state")

// EnrollmentRepository handles persistence of enrollment records.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments en
LEFT JOIN users u ON u.id = en.student_id
LEFT JOIN electives el ON el.id = en.elective_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("en.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ElectiveID != "" {
		conditions = append(conditions, fmt.Sprintf("en.elective_id = $%d", len(args)+1))
		args = append(args, filter.ElectiveID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("en.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":    "en.created_at",
		"student_name":  "u.full_name",
		"elective_name": "el.name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "en.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT en.id, en.student_id, en.elective_id, en.status, en.reject_reason, en.reviewed_at, en.created_at,
        u.full_name AS student_name, el.name AS elective_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, elective_id, status, reject_reason, reviewed_at, created_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsActive checks if a pending or approved record exists for the pair.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND elective_id = $2 AND status IN ($3, $4) LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, studentID, electiveID, models.EnrollmentStatusPending, models.EnrollmentStatusApproved)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// Create inserts a new record guarded against a concurrent duplicate: the
// insert only lands when no active record exists for the pair, closing the
// read-then-insert race at the storage layer.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, student_id, elective_id, status, reject_reason, reviewed_at, created_at)
        SELECT $1, $2, $3, $4, $5, $6, $7
        WHERE NOT EXISTS (
            SELECT 1 FROM enrollments WHERE student_id = $2 AND elective_id = $3 AND status IN ($8, $9)
        )`
	res, err := r.db.ExecContext(ctx, query,
		enrollment.ID, enrollment.StudentID, enrollment.ElectiveID, enrollment.Status,
		enrollment.RejectReason, enrollment.ReviewedAt, enrollment.CreatedAt,
		models.EnrollmentStatusPending, models.EnrollmentStatusApproved)
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create enrollment result: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateActive
	}
	return nil
}

// UpdateStatus records a review decision. The write is conditional on the row
// still being pending, so concurrent decisions on the same record serialize at
// the storage layer the same way seat reservations do.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason *string, reviewedAt time.Time) error {
	const query = `UPDATE enrollments SET status = $2, reject_reason = $3, reviewed_at = $4 WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, status, reason, reviewedAt, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

// DeletePending removes an enrollment row only while it is still pending.
// Zero rows means the record was already decided or withdrawn by a concurrent
// caller; the held seat must then stay where that caller left it.
func (r *EnrollmentRepository) DeletePending(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusPending)
	if err != nil {
		return fmt.Errorf("withdraw enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

// Delete removes an enrollment row regardless of state. Used to unwind a
// synthesized enrollment when a request approval fails halfway.
func (r *EnrollmentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM enrollments WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByElective returns how many records reference the elective, any state.
func (r *EnrollmentRepository) CountByElective(ctx context.Context, electiveID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE elective_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, electiveID); err != nil {
		return 0, fmt.Errorf("count elective enrollments: %w", err)
	}
	return count, nil
}

// ListDetailByElective returns enriched records for an elective roster.
func (r *EnrollmentRepository) ListDetailByElective(ctx context.Context, electiveID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT en.id, en.student_id, en.elective_id, en.status, en.reject_reason, en.reviewed_at, en.created_at,
        u.full_name AS student_name, el.name AS elective_name
        FROM enrollments en
        LEFT JOIN users u ON u.id = en.student_id
        LEFT JOIN electives el ON el.id = en.elective_id
        WHERE en.elective_id = $1
        ORDER BY u.full_name ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, electiveID); err != nil {
		return nil, fmt.Errorf("list elective roster: %w", err)
	}
	return enrollments, nil
}
