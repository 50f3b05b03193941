package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
)

type mockPeriodRepo struct {
	periods map[string]models.Period
	overlap bool
	created *models.Period
	updated *models.Period
	deleted []string
}

func (m *mockPeriodRepo) List(ctx context.Context) ([]models.Period, error) {
	var list []models.Period
	for _, p := range m.periods {
		list = append(list, p)
	}
	return list, nil
}

func (m *mockPeriodRepo) FindByID(ctx context.Context, id string) (*models.Period, error) {
	if p, ok := m.periods[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPeriodRepo) ActiveAt(ctx context.Context, now time.Time) ([]models.Period, error) {
	var list []models.Period
	for _, p := range m.periods {
		if p.Contains(now) {
			list = append(list, p)
		}
	}
	return list, nil
}

func (m *mockPeriodRepo) ExistsOverlapping(ctx context.Context, startsAt, endsAt time.Time, visibility models.PeriodVisibility, excludeID string) (bool, error) {
	return m.overlap, nil
}

func (m *mockPeriodRepo) Create(ctx context.Context, period *models.Period) error {
	if period.ID == "" {
		period.ID = "new-period"
	}
	if m.periods == nil {
		m.periods = make(map[string]models.Period)
	}
	m.periods[period.ID] = *period
	m.created = period
	return nil
}

func (m *mockPeriodRepo) Update(ctx context.Context, period *models.Period) error {
	m.periods[period.ID] = *period
	m.updated = period
	return nil
}

func (m *mockPeriodRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.periods[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.periods, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func studentWindow() models.Period {
	return models.Period{
		ID:         "p1",
		Name:       "Inscripcion 2025-2",
		StartsAt:   time.Date(2025, 12, 11, 1, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2026, 1, 11, 1, 0, 0, 0, time.UTC),
		Visibility: models.VisibilityStudents,
	}
}

func TestPeriodServiceOpenForInsideWindow(t *testing.T) {
	repo := &mockPeriodRepo{periods: map[string]models.Period{"p1": studentWindow()}}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	open, err := svc.OpenFor(context.Background(), models.RoleStudent, time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, open)
}

func TestPeriodServiceWindowBoundsInclusive(t *testing.T) {
	repo := &mockPeriodRepo{periods: map[string]models.Period{"p1": studentWindow()}}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	start := time.Date(2025, 12, 11, 1, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 11, 1, 0, 0, 0, time.UTC)

	open, err := svc.OpenFor(context.Background(), models.RoleStudent, start)
	require.NoError(t, err)
	assert.True(t, open, "start instant is inside the window")

	open, err = svc.OpenFor(context.Background(), models.RoleStudent, end)
	require.NoError(t, err)
	assert.True(t, open, "end instant is inside the window")

	open, err = svc.OpenFor(context.Background(), models.RoleStudent, end.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, open)

	open, err = svc.OpenFor(context.Background(), models.RoleStudent, start.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, open)
}

func TestPeriodServiceFailsClosedWithoutWindows(t *testing.T) {
	repo := &mockPeriodRepo{}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	open, err := svc.OpenFor(context.Background(), models.RoleStudent, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, open)
}

func TestPeriodServiceVisibilityScoping(t *testing.T) {
	teacherWindow := studentWindow()
	teacherWindow.ID = "p2"
	teacherWindow.Visibility = models.VisibilityTeachers
	repo := &mockPeriodRepo{periods: map[string]models.Period{"p2": teacherWindow}}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	inside := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)

	open, err := svc.OpenFor(context.Background(), models.RoleStudent, inside)
	require.NoError(t, err)
	assert.False(t, open, "teacher window does not open the student gate")

	open, err = svc.OpenFor(context.Background(), models.RoleTeacher, inside)
	require.NoError(t, err)
	assert.True(t, open)

	open, err = svc.OpenFor(context.Background(), models.RoleProgramHead, inside)
	require.NoError(t, err)
	assert.True(t, open, "program staff match any visibility")

	open, err = svc.OpenFor(context.Background(), models.RoleAdmin, inside)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestPeriodServiceHiddenWindowOnlyStaff(t *testing.T) {
	hidden := studentWindow()
	hidden.Visibility = models.VisibilityHidden
	repo := &mockPeriodRepo{periods: map[string]models.Period{"p1": hidden}}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	inside := time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)

	open, err := svc.OpenFor(context.Background(), models.RoleStudent, inside)
	require.NoError(t, err)
	assert.False(t, open)

	open, err = svc.OpenFor(context.Background(), models.RoleAdmin, inside)
	require.NoError(t, err)
	assert.True(t, open)
}

func TestPeriodServiceCreateValidatesBounds(t *testing.T) {
	repo := &mockPeriodRepo{}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), PeriodRequest{
		Name:       "Ventana invertida",
		StartsAt:   time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2025, 12, 11, 0, 0, 0, 0, time.UTC),
		Visibility: models.VisibilityAll,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Nil(t, repo.created)
}

func TestPeriodServiceCreateRejectsOverlap(t *testing.T) {
	repo := &mockPeriodRepo{overlap: true}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), PeriodRequest{
		Name:       "Inscripcion 2026-1",
		StartsAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Visibility: models.VisibilityStudents,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestPeriodServiceCreateAndDelete(t *testing.T) {
	repo := &mockPeriodRepo{}
	svc := NewPeriodService(repo, nil, 0, nil, validator.New(), zap.NewNop())

	period, err := svc.Create(context.Background(), PeriodRequest{
		Name:       "Inscripcion 2026-1",
		StartsAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:     time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Visibility: models.VisibilityAll,
	})
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.NotEmpty(t, period.ID)

	require.NoError(t, svc.Delete(context.Background(), period.ID))
	assert.Contains(t, repo.deleted, period.ID)

	err = svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestPeriodServiceCacheMissRecorded(t *testing.T) {
	repo := &mockPeriodRepo{periods: map[string]models.Period{"p1": studentWindow()}}
	metrics := NewMetricsService()
	// Nothing listens on port 1, so every cache read misses.
	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer unreachable.Close()
	svc := NewPeriodService(repo, unreachable, 0, metrics, validator.New(), zap.NewNop())

	open, err := svc.OpenFor(context.Background(), models.RoleStudent, time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, open)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.cacheHits))
}

func TestPeriodServiceNoCacheNoObservation(t *testing.T) {
	repo := &mockPeriodRepo{periods: map[string]models.Period{"p1": studentWindow()}}
	metrics := NewMetricsService()
	svc := NewPeriodService(repo, nil, 0, metrics, validator.New(), zap.NewNop())

	_, err := svc.OpenFor(context.Background(), models.RoleStudent, time.Date(2025, 12, 20, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.cacheMisses))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.cacheHits))
}
