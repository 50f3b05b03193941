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

// ErrNoSeats is returned by ReserveSeat when the elective exists but its
// remaining quota is zero.
var ErrNoSeats = errors.New("no seats available")

// ElectiveRepository handles persistence of electives and owns the seat
// ledger: quota mutations happen only through ReserveSeat and ReleaseSeat.
type ElectiveRepository struct {
	db *sqlx.DB
}

// NewElectiveRepository constructs the repository.
func NewElectiveRepository(db *sqlx.DB) *ElectiveRepository {
	return &ElectiveRepository{db: db}
}

const electiveColumns = `id, name, description, objectives, prerequisites, schedule, quotas, status, teacher_id, created_at, updated_at`

// List returns electives filtered by the provided criteria.
func (r *ElectiveRepository) List(ctx context.Context, filter models.ElectiveFilter) ([]models.Elective, int, error) {
	var conditions []string
	var args []interface{}

	if filter.OwnOrApproved && filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("(teacher_id = $%d OR status = $%d)", len(args)+1, len(args)+2))
		args = append(args, filter.TeacherID, models.ElectiveStatusApproved)
	} else {
		if filter.TeacherID != "" {
			conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
			args = append(args, filter.TeacherID)
		}
		if filter.Status != "" {
			conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
			args = append(args, filter.Status)
		}
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at": "created_at",
		"name":       "name",
		"quotas":     "quotas",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
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

	query := fmt.Sprintf("SELECT %s FROM electives%s ORDER BY %s %s LIMIT %d OFFSET %d",
		electiveColumns, clause, orderBy, order, size, offset)

	var electives []models.Elective
	if err := r.db.SelectContext(ctx, &electives, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list electives: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM electives" + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count electives: %w", err)
	}
	return electives, total, nil
}

// FindByID returns an elective by its ID.
func (r *ElectiveRepository) FindByID(ctx context.Context, id string) (*models.Elective, error) {
	query := fmt.Sprintf("SELECT %s FROM electives WHERE id = $1", electiveColumns)
	var elective models.Elective
	if err := r.db.GetContext(ctx, &elective, query, id); err != nil {
		return nil, err
	}
	return &elective, nil
}

// Create persists a new elective.
func (r *ElectiveRepository) Create(ctx context.Context, elective *models.Elective) error {
	if elective.ID == "" {
		elective.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if elective.CreatedAt.IsZero() {
		elective.CreatedAt = now
	}
	elective.UpdatedAt = now
	const query = `INSERT INTO electives (id, name, description, objectives, prerequisites, schedule, quotas, status, teacher_id, created_at, updated_at)
        VALUES (:id, :name, :description, :objectives, :prerequisites, :schedule, :quotas, :status, :teacher_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, elective); err != nil {
		return fmt.Errorf("create elective: %w", err)
	}
	return nil
}

// Update persists content and status changes for an elective. Quotas are not
// written here; the seat ledger owns that column once records exist.
func (r *ElectiveRepository) Update(ctx context.Context, elective *models.Elective) error {
	elective.UpdatedAt = time.Now().UTC()
	const query = `UPDATE electives SET name = :name, description = :description, objectives = :objectives,
        prerequisites = :prerequisites, schedule = :schedule, quotas = :quotas, status = :status, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, elective); err != nil {
		return fmt.Errorf("update elective: %w", err)
	}
	return nil
}

// UpdateStatus changes only the review status of an elective.
func (r *ElectiveRepository) UpdateStatus(ctx context.Context, id string, status models.ElectiveStatus) error {
	const query = `UPDATE electives SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update elective status: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an elective row.
func (r *ElectiveRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM electives WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete elective: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReserveSeat atomically claims one seat. The conditional decrement is the
// only serialization point for concurrent reservations on the same elective;
// two racing callers for the last seat resolve inside the database, never in
// application code.
func (r *ElectiveRepository) ReserveSeat(ctx context.Context, id string) error {
	const query = `UPDATE electives SET quotas = quotas - 1, updated_at = $2 WHERE id = $1 AND quotas > 0`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reserve seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve seat result: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing was updated: either the elective is missing or it is full.
	var exists int
	if err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM electives WHERE id = $1", id); err != nil {
		return err
	}
	return ErrNoSeats
}

// ReleaseSeat returns one seat to the pool. It is the undo of a successful
// ReserveSeat and therefore carries no upper-bound check.
func (r *ElectiveRepository) ReleaseSeat(ctx context.Context, id string) error {
	const query = `UPDATE electives SET quotas = quotas + 1, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release seat: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
