package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electivas-ubb/electivas-api/internal/models"
)

func newPeriodMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPeriodRepositoryActiveAt(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "name", "starts_at", "ends_at", "visibility", "created_at", "updated_at"}).
		AddRow("p1", "Inscripcion 2025-2",
			time.Date(2025, 12, 11, 1, 0, 0, 0, time.UTC),
			time.Date(2026, 1, 11, 1, 0, 0, 0, time.UTC),
			models.VisibilityStudents, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, starts_at, ends_at, visibility, created_at, updated_at FROM periods WHERE starts_at <= $1 AND ends_at >= $1 ORDER BY ends_at ASC")).
		WithArgs(now).
		WillReturnRows(rows)

	periods, err := repo.ActiveAt(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, "p1", periods[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryExistsOverlapping(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM periods WHERE visibility = $1 AND starts_at <= $3 AND ends_at >= $2 LIMIT 1")).
		WithArgs(models.VisibilityStudents, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	overlap, err := repo.ExistsOverlapping(context.Background(), start, end, models.VisibilityStudents, "")
	require.NoError(t, err)
	assert.True(t, overlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryExistsOverlappingExcludesSelf(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM periods WHERE visibility = $1 AND starts_at <= $3 AND ends_at >= $2 AND id <> $4 LIMIT 1")).
		WithArgs(models.VisibilityStudents, start, end, "p1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	overlap, err := repo.ExistsOverlapping(context.Background(), start, end, models.VisibilityStudents, "p1")
	require.NoError(t, err)
	assert.False(t, overlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newPeriodMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	mock.ExpectExec("INSERT INTO periods").
		WithArgs(sqlmock.AnyArg(), "Inscripcion 2026-1", sqlmock.AnyArg(), sqlmock.AnyArg(), models.VisibilityAll, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	period := &models.Period{
		Name:       "Inscripcion 2026-1",
		StartsAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Visibility: models.VisibilityAll,
	}
	require.NoError(t, repo.Create(context.Background(), period))
	assert.NotEmpty(t, period.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
