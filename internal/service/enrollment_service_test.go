package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	"github.com/electivas-ubb/electivas-api/internal/repository"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
)

const testElectiveID = "a1b2c3d4-e5f6-4a7b-8c9d-0e1f2a3b4c5d"

type mockEnrollmentRepo struct {
	enrollments map[string]models.Enrollment
	active      bool
	createErr   error
	updateErr   error
	deleteErr   error
	created     *models.Enrollment
	status      map[string]models.EnrollmentStatus
	deleted     []string
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error) {
	return m.active, nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if enrollment.ID == "" {
		enrollment.ID = "new-enrollment"
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]models.Enrollment)
	}
	m.enrollments[enrollment.ID] = *enrollment
	m.created = enrollment
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason *string, reviewedAt time.Time) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusPending {
		return repository.ErrAlreadyDecided
	}
	if m.status == nil {
		m.status = make(map[string]models.EnrollmentStatus)
	}
	m.status[id] = status
	e.Status = status
	e.RejectReason = reason
	e.ReviewedAt = &reviewedAt
	m.enrollments[id] = e
	return nil
}

func (m *mockEnrollmentRepo) DeletePending(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	e, ok := m.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusPending {
		return repository.ErrAlreadyDecided
	}
	delete(m.enrollments, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockSeatLedger struct {
	elective   *models.Elective
	reserveErr error
	reserved   int
	released   int
}

func (m *mockSeatLedger) FindByID(ctx context.Context, id string) (*models.Elective, error) {
	if m.elective == nil || m.elective.ID != id {
		return nil, sql.ErrNoRows
	}
	e := *m.elective
	return &e, nil
}

func (m *mockSeatLedger) ReserveSeat(ctx context.Context, id string) error {
	if m.reserveErr != nil {
		return m.reserveErr
	}
	m.reserved++
	return nil
}

func (m *mockSeatLedger) ReleaseSeat(ctx context.Context, id string) error {
	m.released++
	return nil
}

type mockRequestLane struct {
	active bool
}

func (m *mockRequestLane) ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error) {
	return m.active, nil
}

type stubGate struct {
	open bool
}

func (g stubGate) OpenFor(ctx context.Context, role models.UserRole, now time.Time) (bool, error) {
	return g.open, nil
}

func approvedElective() *models.Elective {
	return &models.Elective{
		ID:        testElectiveID,
		Name:      "Robotica",
		Quotas:    3,
		Status:    models.ElectiveStatusApproved,
		TeacherID: "t1",
	}
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func newEnrollmentService(repo *mockEnrollmentRepo, ledger *mockSeatLedger, requests *mockRequestLane, gate stubGate) *EnrollmentService {
	return NewEnrollmentService(repo, ledger, requests, gate, nil, nil, validator.New(), zap.NewNop())
}

func TestEnrollmentCreateReservesSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	enrollment, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPending, enrollment.Status)
	assert.Equal(t, "s1", enrollment.StudentID)
	assert.Equal(t, 1, ledger.reserved)
	assert.Equal(t, 0, ledger.released)
	require.NotNil(t, repo.created)
}

func TestEnrollmentCreateDeniedWhenPeriodClosed(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: false})

	_, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.reserved)
}

func TestEnrollmentCreateRequiresApprovedElective(t *testing.T) {
	pending := approvedElective()
	pending.Status = models.ElectiveStatusPending
	ledger := &mockSeatLedger{elective: pending}
	svc := newEnrollmentService(&mockEnrollmentRepo{}, ledger, &mockRequestLane{}, stubGate{open: true})

	_, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrElectiveNotApproved.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.reserved)
}

func TestEnrollmentCreateNoSeats(t *testing.T) {
	repo := &mockEnrollmentRepo{}
	ledger := &mockSeatLedger{elective: approvedElective(), reserveErr: repository.ErrNoSeats}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	_, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoSeats.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created, "no record is written without a seat")
}

func TestEnrollmentCreateDuplicateBeforeSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{active: true}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	_, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.reserved)
}

func TestEnrollmentCreateCrossLaneDuplicate(t *testing.T) {
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(&mockEnrollmentRepo{}, ledger, &mockRequestLane{active: true}, stubGate{open: true})

	_, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.reserved)
}

func TestEnrollmentCreateReleasesSeatOnInsertRace(t *testing.T) {
	repo := &mockEnrollmentRepo{createErr: repository.ErrDuplicateActive}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	_, err := svc.Create(context.Background(), studentClaims("s1"), EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 1, ledger.reserved)
	assert.Equal(t, 1, ledger.released, "the seat claimed for the losing insert goes back")
}

func TestEnrollmentCreateForbiddenForTeacher(t *testing.T) {
	svc := newEnrollmentService(&mockEnrollmentRepo{}, &mockSeatLedger{}, &mockRequestLane{}, stubGate{open: true})

	_, err := svc.Create(context.Background(), &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}, EnrollmentCreateRequest{ElectiveID: testElectiveID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentReviewApproveKeepsSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	claims := &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher}
	enrollment, err := svc.Review(context.Background(), claims, "e1", EnrollmentReviewRequest{Status: models.EnrollmentStatusApproved})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusApproved, enrollment.Status)
	assert.NotNil(t, enrollment.ReviewedAt)
	assert.Equal(t, 0, ledger.released, "approval keeps the seat already held")
}

func TestEnrollmentReviewRejectReleasesSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	claims := &models.JWTClaims{UserID: "p1", Role: models.RoleProgramHead}
	enrollment, err := svc.Review(context.Background(), claims, "e1", EnrollmentReviewRequest{
		Status: models.EnrollmentStatusRejected,
		Reason: "schedule conflict with a mandatory course",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRejected, enrollment.Status)
	require.NotNil(t, enrollment.RejectReason)
	assert.Equal(t, 1, ledger.released)
}

func TestEnrollmentReviewRejectRequiresReason(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentService(repo, &mockSeatLedger{elective: approvedElective()}, &mockRequestLane{}, stubGate{open: true})

	claims := &models.JWTClaims{UserID: "p1", Role: models.RoleProgramHead}
	_, err := svc.Review(context.Background(), claims, "e1", EnrollmentReviewRequest{Status: models.EnrollmentStatusRejected})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentReviewAlreadyReviewed(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusApproved},
	}}
	svc := newEnrollmentService(repo, &mockSeatLedger{elective: approvedElective()}, &mockRequestLane{}, stubGate{open: true})

	claims := &models.JWTClaims{UserID: "p1", Role: models.RoleProgramHead}
	_, err := svc.Review(context.Background(), claims, "e1", EnrollmentReviewRequest{Status: models.EnrollmentStatusApproved})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentReviewLosesDecisionRace(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
		},
		updateErr: repository.ErrAlreadyDecided,
	}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	claims := &models.JWTClaims{UserID: "p1", Role: models.RoleProgramHead}
	_, err := svc.Review(context.Background(), claims, "e1", EnrollmentReviewRequest{
		Status: models.EnrollmentStatusRejected,
		Reason: "schedule conflict with a mandatory course",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.released, "the losing decision must not release the seat")
}

func TestEnrollmentReviewTeacherOwnsElective(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentService(repo, &mockSeatLedger{elective: approvedElective()}, &mockRequestLane{}, stubGate{open: true})

	claims := &models.JWTClaims{UserID: "other-teacher", Role: models.RoleTeacher}
	_, err := svc.Review(context.Background(), claims, "e1", EnrollmentReviewRequest{Status: models.EnrollmentStatusApproved})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentDeleteReleasesSeat(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	require.NoError(t, svc.Delete(context.Background(), studentClaims("s1"), "e1"))
	assert.Contains(t, repo.deleted, "e1")
	assert.Equal(t, 1, ledger.released)
}

func TestEnrollmentDeleteOnlyOwner(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentService(repo, &mockSeatLedger{elective: approvedElective()}, &mockRequestLane{}, stubGate{open: true})

	err := svc.Delete(context.Background(), studentClaims("s2"), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestEnrollmentDeleteOnlyPending(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusApproved},
	}}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	err := svc.Delete(context.Background(), studentClaims("s1"), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.released)
}

func TestEnrollmentDeleteLosesWithdrawRace(t *testing.T) {
	repo := &mockEnrollmentRepo{
		enrollments: map[string]models.Enrollment{
			"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
		},
		deleteErr: repository.ErrAlreadyDecided,
	}
	ledger := &mockSeatLedger{elective: approvedElective()}
	svc := newEnrollmentService(repo, ledger, &mockRequestLane{}, stubGate{open: true})

	err := svc.Delete(context.Background(), studentClaims("s1"), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, ledger.released, "a withdraw that lost to a concurrent decision releases nothing")
}

func TestEnrollmentDeleteClosedPeriod(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]models.Enrollment{
		"e1": {ID: "e1", StudentID: "s1", ElectiveID: testElectiveID, Status: models.EnrollmentStatusPending},
	}}
	svc := newEnrollmentService(repo, &mockSeatLedger{elective: approvedElective()}, &mockRequestLane{}, stubGate{open: false})

	err := svc.Delete(context.Background(), studentClaims("s1"), "e1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)
}
