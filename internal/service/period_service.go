package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
)

type periodRepository interface {
	List(ctx context.Context) ([]models.Period, error)
	FindByID(ctx context.Context, id string) (*models.Period, error)
	ActiveAt(ctx context.Context, now time.Time) ([]models.Period, error)
	ExistsOverlapping(ctx context.Context, startsAt, endsAt time.Time, visibility models.PeriodVisibility, excludeID string) (bool, error)
	Create(ctx context.Context, period *models.Period) error
	Update(ctx context.Context, period *models.Period) error
	Delete(ctx context.Context, id string) error
}

const activePeriodsCacheKey = "periods:active"

// PeriodRequest describes the payload for creating or updating a period.
type PeriodRequest struct {
	Name       string                  `json:"name" validate:"required,min=3,max=255"`
	StartsAt   time.Time               `json:"starts_at" validate:"required"`
	EndsAt     time.Time               `json:"ends_at" validate:"required"`
	Visibility models.PeriodVisibility `json:"visibility" validate:"required,oneof=OCULTO ALUMNOS DOCENTES TODOS"`
}

// PeriodService is the enrollment period gate: it answers whether
// enrollment-affecting actions are currently permitted for a role, and owns
// the administrative period CRUD. The gate fails closed: no matching window
// means denied.
type PeriodService struct {
	repo      periodRepository
	cache     *redis.Client
	cacheTTL  time.Duration
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPeriodService constructs PeriodService. The redis client and metrics
// are optional; without the client every gate check goes straight to the
// repository.
func NewPeriodService(repo periodRepository, cache *redis.Client, cacheTTL time.Duration, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *PeriodService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &PeriodService{repo: repo, cache: cache, cacheTTL: cacheTTL, metrics: metrics, validator: validate, logger: logger}
}

// OpenFor reports whether at least one enrollment window is open for the
// role at the given instant.
func (s *PeriodService) OpenFor(ctx context.Context, role models.UserRole, now time.Time) (bool, error) {
	periods, err := s.ActiveFor(ctx, role, now)
	if err != nil {
		return false, err
	}
	return len(periods) > 0, nil
}

// ActiveFor returns the periods gating the role at the given instant,
// ordered ascending by end instant so callers surface the soonest-closing
// window first.
func (s *PeriodService) ActiveFor(ctx context.Context, role models.UserRole, now time.Time) ([]models.Period, error) {
	active, err := s.activeAt(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active periods")
	}
	scoped := make([]models.Period, 0, len(active))
	for _, p := range active {
		if p.Visibility.AppliesTo(role) && p.Contains(now) {
			scoped = append(scoped, p)
		}
	}
	return scoped, nil
}

// activeAt loads the candidate windows for an instant, serving from the
// short-TTL cache when possible. A slightly stale window set near a boundary
// is acceptable; cache failures always fall through to Postgres.
func (s *PeriodService) activeAt(ctx context.Context, now time.Time) ([]models.Period, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, activePeriodsCacheKey).Bytes(); err == nil {
			var cached []models.Period
			if err := json.Unmarshal(raw, &cached); err == nil {
				s.metrics.RecordCacheOperation(true)
				return cached, nil
			}
		}
		s.metrics.RecordCacheOperation(false)
	}

	periods, err := s.repo.ActiveAt(ctx, now)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(periods); err == nil {
			if err := s.cache.Set(ctx, activePeriodsCacheKey, raw, s.cacheTTL).Err(); err != nil {
				s.logger.Debug("failed to cache active periods", zap.Error(err))
			}
		}
	}
	return periods, nil
}

func (s *PeriodService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, activePeriodsCacheKey).Err(); err != nil {
		s.logger.Debug("failed to invalidate period cache", zap.Error(err))
	}
}

// List returns every configured period.
func (s *PeriodService) List(ctx context.Context) ([]models.Period, error) {
	periods, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods")
	}
	return periods, nil
}

// Get returns a period by ID.
func (s *PeriodService) Get(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return period, nil
}

// Create adds a new enrollment window after validating bounds and overlap.
func (s *PeriodService) Create(ctx context.Context, req PeriodRequest) (*models.Period, error) {
	if err := s.validatePeriod(req); err != nil {
		return nil, err
	}
	overlap, err := s.repo.ExistsOverlapping(ctx, req.StartsAt, req.EndsAt, req.Visibility, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check period overlap")
	}
	if overlap {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an active period already covers those dates")
	}

	period := &models.Period{
		Name:       req.Name,
		StartsAt:   req.StartsAt.UTC(),
		EndsAt:     req.EndsAt.UTC(),
		Visibility: req.Visibility,
	}
	if err := s.repo.Create(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create period")
	}
	s.invalidateCache(ctx)
	return period, nil
}

// Update modifies an existing window with the same rules as Create.
func (s *PeriodService) Update(ctx context.Context, id string, req PeriodRequest) (*models.Period, error) {
	if err := s.validatePeriod(req); err != nil {
		return nil, err
	}
	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	overlap, err := s.repo.ExistsOverlapping(ctx, req.StartsAt, req.EndsAt, req.Visibility, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check period overlap")
	}
	if overlap {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an active period already covers those dates")
	}

	period.Name = req.Name
	period.StartsAt = req.StartsAt.UTC()
	period.EndsAt = req.EndsAt.UTC()
	period.Visibility = req.Visibility
	if err := s.repo.Update(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update period")
	}
	s.invalidateCache(ctx)
	return period, nil
}

// Delete removes a window.
func (s *PeriodService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete period")
	}
	s.invalidateCache(ctx)
	return nil
}

func (s *PeriodService) validatePeriod(req PeriodRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid period payload")
	}
	if !req.StartsAt.Before(req.EndsAt) {
		return appErrors.Clone(appErrors.ErrValidation, "starts_at must be before ends_at")
	}
	return nil
}
