package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
)

type mockElectiveRepo struct {
	electives  map[string]models.Elective
	lastFilter models.ElectiveFilter
	created    *models.Elective
	updated    *models.Elective
	status     map[string]models.ElectiveStatus
	deleted    []string
}

func (m *mockElectiveRepo) List(ctx context.Context, filter models.ElectiveFilter) ([]models.Elective, int, error) {
	m.lastFilter = filter
	var list []models.Elective
	for _, e := range m.electives {
		list = append(list, e)
	}
	return list, len(list), nil
}

func (m *mockElectiveRepo) FindByID(ctx context.Context, id string) (*models.Elective, error) {
	if e, ok := m.electives[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockElectiveRepo) Create(ctx context.Context, elective *models.Elective) error {
	if elective.ID == "" {
		elective.ID = "new-elective"
	}
	if m.electives == nil {
		m.electives = make(map[string]models.Elective)
	}
	m.electives[elective.ID] = *elective
	m.created = elective
	return nil
}

func (m *mockElectiveRepo) Update(ctx context.Context, elective *models.Elective) error {
	m.electives[elective.ID] = *elective
	m.updated = elective
	return nil
}

func (m *mockElectiveRepo) UpdateStatus(ctx context.Context, id string, status models.ElectiveStatus) error {
	if _, ok := m.electives[id]; !ok {
		return sql.ErrNoRows
	}
	if m.status == nil {
		m.status = make(map[string]models.ElectiveStatus)
	}
	m.status[id] = status
	e := m.electives[id]
	e.Status = status
	m.electives[id] = e
	return nil
}

func (m *mockElectiveRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.electives[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.electives, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockEnrollmentCounter struct {
	counts map[string]int
}

func (m *mockEnrollmentCounter) CountByElective(ctx context.Context, electiveID string) (int, error) {
	return m.counts[electiveID], nil
}

func validElectiveRequest() ElectiveRequest {
	return ElectiveRequest{
		Name:        "Robotica Aplicada",
		Description: "Hands-on robotics workshop for senior students",
		Objectives:  "Build and program an autonomous robot",
		Schedule:    "Tue 14:00-16:00",
		Quotas:      30,
	}
}

func newElectiveService(repo *mockElectiveRepo, counter *mockEnrollmentCounter) *ElectiveService {
	if counter == nil {
		counter = &mockEnrollmentCounter{}
	}
	return NewElectiveService(repo, counter, stubGate{open: true}, nil, validator.New(), zap.NewNop())
}

func teacherClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTeacher}
}

func TestElectiveCreateForcesPendingStatus(t *testing.T) {
	repo := &mockElectiveRepo{}
	svc := newElectiveService(repo, nil)

	elective, err := svc.Create(context.Background(), teacherClaims("t1"), validElectiveRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ElectiveStatusPending, elective.Status)
	assert.Equal(t, "t1", elective.TeacherID)
}

func TestElectiveCreateClosedPeriod(t *testing.T) {
	repo := &mockElectiveRepo{}
	svc := NewElectiveService(repo, &mockEnrollmentCounter{}, stubGate{open: false}, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), teacherClaims("t1"), validElectiveRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPeriodClosed.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestElectiveCreateQuotaBounds(t *testing.T) {
	repo := &mockElectiveRepo{}
	svc := newElectiveService(repo, nil)

	req := validElectiveRequest()
	req.Quotas = 0
	_, err := svc.Create(context.Background(), teacherClaims("t1"), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	req.Quotas = 201
	_, err = svc.Create(context.Background(), teacherClaims("t1"), req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestElectiveUpdateResetsReviewedStatus(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusApproved, Quotas: 30},
	}}
	svc := newElectiveService(repo, nil)

	elective, err := svc.Update(context.Background(), teacherClaims("t1"), "el1", validElectiveRequest())
	require.NoError(t, err)
	assert.Equal(t, models.ElectiveStatusPending, elective.Status, "edits re-enter review")
}

func TestElectiveUpdateOnlyOwner(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusPending, Quotas: 30},
	}}
	svc := newElectiveService(repo, nil)

	_, err := svc.Update(context.Background(), teacherClaims("t2"), "el1", validElectiveRequest())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestElectiveSetStatusValidDecisionsOnly(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusPending},
	}}
	svc := newElectiveService(repo, nil)
	head := &models.JWTClaims{UserID: "jc1", Role: models.RoleProgramHead}

	_, err := svc.SetStatus(context.Background(), head, "el1", models.ElectiveStatusPending)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	elective, err := svc.SetStatus(context.Background(), head, "el1", models.ElectiveStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.ElectiveStatusApproved, elective.Status)
}

func TestElectiveSetStatusForbiddenForTeacher(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusPending},
	}}
	svc := newElectiveService(repo, nil)

	_, err := svc.SetStatus(context.Background(), teacherClaims("t1"), "el1", models.ElectiveStatusApproved)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestElectiveDeleteBlockedWithEnrollments(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusApproved},
	}}
	counter := &mockEnrollmentCounter{counts: map[string]int{"el1": 4}}
	svc := newElectiveService(repo, counter)

	err := svc.Delete(context.Background(), teacherClaims("t1"), "el1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)
}

func TestElectiveDeleteWithoutEnrollments(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusPending},
	}}
	svc := newElectiveService(repo, nil)

	require.NoError(t, svc.Delete(context.Background(), teacherClaims("t1"), "el1"))
	assert.Contains(t, repo.deleted, "el1")
}

func TestElectiveListScopedByRole(t *testing.T) {
	repo := &mockElectiveRepo{}
	svc := newElectiveService(repo, nil)

	_, _, err := svc.List(context.Background(), studentClaims("s1"), models.ElectiveFilter{})
	require.NoError(t, err)
	assert.Equal(t, models.ElectiveStatusApproved, repo.lastFilter.Status, "students only see approved electives")

	_, _, err = svc.List(context.Background(), teacherClaims("t1"), models.ElectiveFilter{})
	require.NoError(t, err)
	assert.True(t, repo.lastFilter.OwnOrApproved)
	assert.Equal(t, "t1", repo.lastFilter.TeacherID)

	admin := &models.JWTClaims{UserID: "a1", Role: models.RoleAdmin}
	_, _, err = svc.List(context.Background(), admin, models.ElectiveFilter{Status: models.ElectiveStatusPending})
	require.NoError(t, err)
	assert.Equal(t, models.ElectiveStatusPending, repo.lastFilter.Status)
}

func TestElectiveGetHidesUnapprovedFromStudents(t *testing.T) {
	repo := &mockElectiveRepo{electives: map[string]models.Elective{
		"el1": {ID: "el1", Name: "Robotica", TeacherID: "t1", Status: models.ElectiveStatusPending},
	}}
	svc := newElectiveService(repo, nil)

	_, err := svc.Get(context.Background(), studentClaims("s1"), "el1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	elective, err := svc.Get(context.Background(), teacherClaims("t1"), "el1")
	require.NoError(t, err)
	assert.Equal(t, "el1", elective.ID)
}
