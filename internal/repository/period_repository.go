package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/electivas-ubb/electivas-api/internal/models"
)

// PeriodRepository handles persistence of enrollment periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

const periodColumns = `id, name, starts_at, ends_at, visibility, created_at, updated_at`

// List returns every period ordered by start instant.
func (r *PeriodRepository) List(ctx context.Context) ([]models.Period, error) {
	query := fmt.Sprintf("SELECT %s FROM periods ORDER BY starts_at ASC", periodColumns)
	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

// FindByID returns a period by its ID.
func (r *PeriodRepository) FindByID(ctx context.Context, id string) (*models.Period, error) {
	query := fmt.Sprintf("SELECT %s FROM periods WHERE id = $1", periodColumns)
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// ActiveAt returns every period whose window contains the instant, ordered
// ascending by end instant so the soonest-closing window comes first. Role
// scoping is applied by the caller.
func (r *PeriodRepository) ActiveAt(ctx context.Context, now time.Time) ([]models.Period, error) {
	query := fmt.Sprintf("SELECT %s FROM periods WHERE starts_at <= $1 AND ends_at >= $1 ORDER BY ends_at ASC", periodColumns)
	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query, now); err != nil {
		return nil, fmt.Errorf("active periods: %w", err)
	}
	return periods, nil
}

// ExistsOverlapping checks whether another period with the same visibility
// intersects the [startsAt, endsAt] window.
func (r *PeriodRepository) ExistsOverlapping(ctx context.Context, startsAt, endsAt time.Time, visibility models.PeriodVisibility, excludeID string) (bool, error) {
	query := `SELECT 1 FROM periods WHERE visibility = $1 AND starts_at <= $3 AND ends_at >= $2`
	args := []interface{}{visibility, startsAt, endsAt}
	if excludeID != "" {
		query += fmt.Sprintf(" AND id <> $%d", len(args)+1)
		args = append(args, excludeID)
	}
	query += " LIMIT 1"
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check period overlap: %w", err)
	}
	return true, nil
}

// Create persists a new period.
func (r *PeriodRepository) Create(ctx context.Context, period *models.Period) error {
	if period.ID == "" {
		period.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if period.CreatedAt.IsZero() {
		period.CreatedAt = now
	}
	period.UpdatedAt = now
	const query = `INSERT INTO periods (id, name, starts_at, ends_at, visibility, created_at, updated_at)
        VALUES (:id, :name, :starts_at, :ends_at, :visibility, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create period: %w", err)
	}
	return nil
}

// Update persists changes to a period.
func (r *PeriodRepository) Update(ctx context.Context, period *models.Period) error {
	period.UpdatedAt = time.Now().UTC()
	const query = `UPDATE periods SET name = :name, starts_at = :starts_at, ends_at = :ends_at, visibility = :visibility, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("update period: %w", err)
	}
	return nil
}

// Delete removes a period row.
func (r *PeriodRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM periods WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete period: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
