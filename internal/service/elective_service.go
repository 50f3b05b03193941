package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
	"github.com/electivas-ubb/electivas-api/pkg/notify"
)

// notifier is the outbound event port shared by the services. Emission is
// fire and forget; implementations must not block the request path.
type notifier interface {
	Notify(event string, payload interface{})
}

type electiveRepository interface {
	List(ctx context.Context, filter models.ElectiveFilter) ([]models.Elective, int, error)
	FindByID(ctx context.Context, id string) (*models.Elective, error)
	Create(ctx context.Context, elective *models.Elective) error
	Update(ctx context.Context, elective *models.Elective) error
	UpdateStatus(ctx context.Context, id string, status models.ElectiveStatus) error
	Delete(ctx context.Context, id string) error
}

type electiveEnrollmentCounter interface {
	CountByElective(ctx context.Context, electiveID string) (int, error)
}

// ElectiveRequest describes the payload for creating or updating an elective.
type ElectiveRequest struct {
	Name          string `json:"name" validate:"required,min=3,max=255"`
	Description   string `json:"description" validate:"required,min=10"`
	Objectives    string `json:"objectives" validate:"required,min=10"`
	Prerequisites string `json:"prerequisites"`
	Schedule      string `json:"schedule" validate:"required"`
	Quotas        int    `json:"quotas" validate:"required,min=1,max=200"`
}

// ElectiveService owns the elective review workflow. Every new or edited
// elective re-enters the Pendiente state so a program head always signs off
// on the version students can see.
type ElectiveService struct {
	repo        electiveRepository
	enrollments electiveEnrollmentCounter
	gate        periodGate
	notifier    notifier
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewElectiveService constructs ElectiveService.
func NewElectiveService(repo electiveRepository, enrollments electiveEnrollmentCounter, gate periodGate, events notifier, validate *validator.Validate, logger *zap.Logger) *ElectiveService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &ElectiveService{repo: repo, enrollments: enrollments, gate: gate, notifier: events, validator: validate, logger: logger}
}

// List returns electives scoped to what the caller's role may see: students
// only approved ones, teachers their own plus approved, staff everything.
func (s *ElectiveService) List(ctx context.Context, claims *models.JWTClaims, filter models.ElectiveFilter) ([]models.Elective, *models.Pagination, error) {
	switch claims.Role {
	case models.RoleStudent:
		filter.Status = models.ElectiveStatusApproved
		filter.TeacherID = ""
		filter.OwnOrApproved = false
	case models.RoleTeacher:
		filter.TeacherID = claims.UserID
		filter.OwnOrApproved = true
	}

	electives, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list electives")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return electives, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single elective, hiding non-approved ones from students.
func (s *ElectiveService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Elective, error) {
	elective, err := s.findElective(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims.Role == models.RoleStudent && elective.Status != models.ElectiveStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "elective not found")
	}
	return elective, nil
}

// Create registers a new elective owned by the calling teacher. The status is
// always Pendiente regardless of the payload.
func (s *ElectiveService) Create(ctx context.Context, claims *models.JWTClaims, req ElectiveRequest) (*models.Elective, error) {
	if !Allowed(ActionElectiveCreate, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can create electives")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid elective payload")
	}

	open, err := s.gate.OpenFor(ctx, claims.Role, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, appErrors.Clone(appErrors.ErrPeriodClosed, "no elective submission period is currently open")
	}

	elective := &models.Elective{
		Name:          req.Name,
		Description:   req.Description,
		Objectives:    req.Objectives,
		Prerequisites: req.Prerequisites,
		Schedule:      req.Schedule,
		Quotas:        req.Quotas,
		Status:        models.ElectiveStatusPending,
		TeacherID:     claims.UserID,
	}
	if err := s.repo.Create(ctx, elective); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create elective")
	}

	s.logger.Info("elective created",
		zap.String("elective_id", elective.ID),
		zap.String("teacher_id", claims.UserID))
	return elective, nil
}

// Update edits an elective's content. Editing an already reviewed elective
// resets it to Pendiente so the changes go through review again.
func (s *ElectiveService) Update(ctx context.Context, claims *models.JWTClaims, id string, req ElectiveRequest) (*models.Elective, error) {
	if !Allowed(ActionElectiveUpdate, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can update electives")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid elective payload")
	}

	open, err := s.gate.OpenFor(ctx, claims.Role, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, appErrors.Clone(appErrors.ErrPeriodClosed, "no elective submission period is currently open")
	}

	elective, err := s.findElective(ctx, id)
	if err != nil {
		return nil, err
	}
	if elective.TeacherID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only update your own electives")
	}

	elective.Name = req.Name
	elective.Description = req.Description
	elective.Objectives = req.Objectives
	elective.Prerequisites = req.Prerequisites
	elective.Schedule = req.Schedule
	elective.Quotas = req.Quotas
	if elective.Status != models.ElectiveStatusPending {
		elective.Status = models.ElectiveStatusPending
	}

	if err := s.repo.Update(ctx, elective); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update elective")
	}

	s.logger.Info("elective updated",
		zap.String("elective_id", elective.ID),
		zap.String("teacher_id", claims.UserID))
	return elective, nil
}

// SetStatus records the program head's review decision. Only Aprobado and
// Rechazado are valid decisions; Pendiente is never set by hand.
func (s *ElectiveService) SetStatus(ctx context.Context, claims *models.JWTClaims, id string, status models.ElectiveStatus) (*models.Elective, error) {
	if !Allowed(ActionElectiveSetStatus, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only program heads can review electives")
	}
	if status != models.ElectiveStatusApproved && status != models.ElectiveStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be Aprobado or Rechazado")
	}

	elective, err := s.findElective(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "elective not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update elective status")
	}
	elective.Status = status

	s.notifier.Notify(notify.EventElectiveStatusChanged, map[string]interface{}{
		"elective_id": elective.ID,
		"teacher_id":  elective.TeacherID,
		"status":      status,
	})
	s.logger.Info("elective status changed",
		zap.String("elective_id", id),
		zap.String("status", string(status)),
		zap.String("reviewer_id", claims.UserID))
	return elective, nil
}

// Delete removes an elective. Deletion is blocked while enrollment records
// reference it so the seat ledger and history stay consistent.
func (s *ElectiveService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	if !Allowed(ActionElectiveDelete, claims.Role) {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete electives")
	}

	elective, err := s.findElective(ctx, id)
	if err != nil {
		return err
	}
	if claims.Role == models.RoleTeacher && elective.TeacherID != claims.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "you can only delete your own electives")
	}

	count, err := s.enrollments.CountByElective(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check elective enrollments")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "elective has enrollment records and cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "elective not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete elective")
	}

	s.logger.Info("elective deleted",
		zap.String("elective_id", id),
		zap.String("user_id", claims.UserID))
	return nil
}

func (s *ElectiveService) findElective(ctx context.Context, id string) (*models.Elective, error) {
	elective, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "elective not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load elective")
	}
	return elective, nil
}
