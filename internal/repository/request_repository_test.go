package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electivas-ubb/electivas-api/internal/models"
)

func newRequestMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRequestMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec("INSERT INTO exception_requests").
		WithArgs(sqlmock.AnyArg(), "s1", "el1", "I need this course to graduate", models.RequestStatusPending,
			nil, nil, nil, sqlmock.AnyArg(),
			models.RequestStatusPending, models.RequestStatusApproved).
		WillReturnResult(sqlmock.NewResult(0, 1))

	request := &models.ExceptionRequest{
		StudentID:     "s1",
		ElectiveID:    "el1",
		Justification: "I need this course to graduate",
	}
	require.NoError(t, repo.Create(context.Background(), request))
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCreateLosesDuplicateRace(t *testing.T) {
	db, mock, cleanup := newRequestMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec("INSERT INTO exception_requests").
		WithArgs(sqlmock.AnyArg(), "s1", "el1", "I need this course to graduate", models.RequestStatusPending,
			nil, nil, nil, sqlmock.AnyArg(),
			models.RequestStatusPending, models.RequestStatusApproved).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Create(context.Background(), &models.ExceptionRequest{
		StudentID:     "s1",
		ElectiveID:    "el1",
		Justification: "I need this course to graduate",
	})
	assert.ErrorIs(t, err, ErrDuplicateActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReview(t *testing.T) {
	db, mock, cleanup := newRequestMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	comment := "prerequisites are not met"
	reviewedAt := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE exception_requests SET status = $2, reviewer_id = $3, review_comment = $4, reviewed_at = $5 WHERE id = $1 AND status = $6")).
		WithArgs("r1", models.RequestStatusRejected, "jc1", &comment, reviewedAt, models.RequestStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Review(context.Background(), "r1", models.RequestStatusRejected, "jc1", &comment, reviewedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryReviewLosesDecisionRace(t *testing.T) {
	db, mock, cleanup := newRequestMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec("UPDATE exception_requests SET status").
		WithArgs("r1", models.RequestStatusApproved, "jc1", nil, sqlmock.AnyArg(), models.RequestStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Review(context.Background(), "r1", models.RequestStatusApproved, "jc1", nil, time.Now().UTC())
	assert.ErrorIs(t, err, ErrAlreadyDecided)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newRequestMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM exception_requests WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
