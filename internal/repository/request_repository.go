package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/electivas-ubb/electivas-api/internal/models"
)

// RequestRepository handles persistence of exception requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, student_id, elective_id, justification, status, reviewer_id, review_comment, reviewed_at, created_at`

// List returns exception requests filtered by the provided criteria.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.ExceptionRequest, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.ElectiveID != "" {
		conditions = append(conditions, fmt.Sprintf("elective_id = $%d", len(args)+1))
		args = append(args, filter.ElectiveID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
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

	query := fmt.Sprintf("SELECT %s FROM exception_requests%s ORDER BY created_at %s LIMIT %d OFFSET %d",
		requestColumns, clause, order, size, offset)

	var requests []models.ExceptionRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM exception_requests" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}
	return requests, total, nil
}

// FindByID returns an exception request by its ID.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.ExceptionRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM exception_requests WHERE id = $1", requestColumns)
	var request models.ExceptionRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// ExistsActive checks if a pendiente or aprobado request exists for the pair.
func (r *RequestRepository) ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error) {
	const query = `SELECT 1 FROM exception_requests WHERE student_id = $1 AND elective_id = $2 AND status IN ($3, $4) LIMIT 1`
	var exists int
	err := r.db.GetContext(ctx, &exists, query, studentID, electiveID, models.RequestStatusPending, models.RequestStatusApproved)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active request: %w", err)
	}
	return true, nil
}

// Create inserts a new request guarded by the same conditional-insert rule as
// enrollments: only one active request per (student, elective) pair.
func (r *RequestRepository) Create(ctx context.Context, request *models.ExceptionRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	const query = `INSERT INTO exception_requests (id, student_id, elective_id, justification, status, reviewer_id, review_comment, reviewed_at, created_at)
        SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
        WHERE NOT EXISTS (
            SELECT 1 FROM exception_requests WHERE student_id = $2 AND elective_id = $3 AND status IN ($10, $11)
        )`
	res, err := r.db.ExecContext(ctx, query,
		request.ID, request.StudentID, request.ElectiveID, request.Justification, request.Status,
		request.ReviewerID, request.ReviewComment, request.ReviewedAt, request.CreatedAt,
		models.RequestStatusPending, models.RequestStatusApproved)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create request result: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateActive
	}
	return nil
}

// Review records a reviewer decision on a request. Conditional on the row
// still being pendiente so only one of two concurrent reviewers wins.
func (r *RequestRepository) Review(ctx context.Context, id string, status models.RequestStatus, reviewerID string, comment *string, reviewedAt time.Time) error {
	const query = `UPDATE exception_requests SET status = $2, reviewer_id = $3, review_comment = $4, reviewed_at = $5 WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, id, status, reviewerID, comment, reviewedAt, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("review request: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

// Delete removes a request row. Administrator-only operation.
func (r *RequestRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM exception_requests WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
