package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/electivas-ubb/electivas-api/internal/models"
	"github.com/electivas-ubb/electivas-api/internal/repository"
	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
	"github.com/electivas-ubb/electivas-api/pkg/notify"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus, reason *string, reviewedAt time.Time) error
	DeletePending(ctx context.Context, id string) error
}

// seatLedger is the slice of the elective repository the enrollment flows
// need: looking up the elective and moving seats in and out of its quota.
type seatLedger interface {
	FindByID(ctx context.Context, id string) (*models.Elective, error)
	ReserveSeat(ctx context.Context, id string) error
	ReleaseSeat(ctx context.Context, id string) error
}

// requestLane answers whether the exception channel already holds an active
// record for a (student, elective) pair.
type requestLane interface {
	ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error)
}

// periodGate answers whether enrollment-affecting actions are open for a
// role right now.
type periodGate interface {
	OpenFor(ctx context.Context, role models.UserRole, now time.Time) (bool, error)
}

// EnrollmentCreateRequest is the payload for a student claiming a seat.
type EnrollmentCreateRequest struct {
	ElectiveID string `json:"elective_id" validate:"required,uuid4"`
}

// EnrollmentReviewRequest is a reviewer decision on a pending enrollment.
type EnrollmentReviewRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required,oneof=approved rejected"`
	Reason string                  `json:"reason" validate:"omitempty,min=5,max=300"`
}

// EnrollmentService implements the direct enrollment lane. A seat is reserved
// the moment a record is created, held through review, and returned to the
// pool only on rejection or withdrawal.
type EnrollmentService struct {
	repo      enrollmentRepository
	ledger    seatLedger
	requests  requestLane
	gate      periodGate
	notifier  notifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, ledger seatLedger, requests requestLane, gate periodGate, events notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &EnrollmentService{
		repo:      repo,
		ledger:    ledger,
		requests:  requests,
		gate:      gate,
		notifier:  events,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns enrollments scoped to the caller: students only see their own
// records, everyone else sees whatever the filter selects.
func (s *EnrollmentService) List(ctx context.Context, claims *models.JWTClaims, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create claims a seat for the calling student. The seat is reserved before
// the record is written; if the write then loses a duplicate race, the seat
// goes straight back so the ledger never leaks.
func (s *EnrollmentService) Create(ctx context.Context, claims *models.JWTClaims, req EnrollmentCreateRequest) (*models.Enrollment, error) {
	if !Allowed(ActionEnrollmentCreate, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can enroll")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	open, err := s.gate.OpenFor(ctx, claims.Role, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, appErrors.Clone(appErrors.ErrPeriodClosed, "no enrollment period is currently open")
	}

	elective, err := s.ledger.FindByID(ctx, req.ElectiveID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "elective not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load elective")
	}
	if elective.Status != models.ElectiveStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrElectiveNotApproved, "the elective is not open for enrollment")
	}

	if err := s.checkDuplicate(ctx, claims.UserID, req.ElectiveID); err != nil {
		return nil, err
	}

	if err := s.ledger.ReserveSeat(ctx, req.ElectiveID); err != nil {
		switch err {
		case repository.ErrNoSeats:
			s.metrics.IncSeatDenied()
			return nil, appErrors.Clone(appErrors.ErrNoSeats, "the elective has no seats left")
		case sql.ErrNoRows:
			return nil, appErrors.Clone(appErrors.ErrNotFound, "elective not found")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reserve seat")
		}
	}

	enrollment := &models.Enrollment{
		StudentID:  claims.UserID,
		ElectiveID: req.ElectiveID,
		Status:     models.EnrollmentStatusPending,
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		s.releaseSeat(ctx, req.ElectiveID)
		if err == repository.ErrDuplicateActive {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you already have an active enrollment for this elective")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	s.metrics.IncSeatReserved()
	s.notifier.Notify(notify.EventEnrollmentCreated, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"student_id":    enrollment.StudentID,
		"elective_id":   enrollment.ElectiveID,
	})
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("elective_id", enrollment.ElectiveID))
	return enrollment, nil
}

// Review records a reviewer decision on a pending enrollment. Approval keeps
// the seat already held by the record; rejection returns it to the pool.
func (s *EnrollmentService) Review(ctx context.Context, claims *models.JWTClaims, id string, req EnrollmentReviewRequest) (*models.Enrollment, error) {
	if !Allowed(ActionEnrollmentReview, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot review enrollments")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if req.Status == models.EnrollmentStatusRejected && req.Reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a rejection reason is required")
	}

	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "the enrollment has already been reviewed")
	}

	if claims.Role == models.RoleTeacher {
		elective, err := s.ledger.FindByID(ctx, enrollment.ElectiveID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load elective")
		}
		if elective.TeacherID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "you can only review enrollments for your own electives")
		}
	}

	var reason *string
	if req.Status == models.EnrollmentStatusRejected {
		reason = &req.Reason
	}
	reviewedAt := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, req.Status, reason, reviewedAt); err != nil {
		if err == repository.ErrAlreadyDecided {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "the enrollment has already been reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}
	if req.Status == models.EnrollmentStatusRejected {
		s.releaseSeat(ctx, enrollment.ElectiveID)
		s.metrics.IncSeatReleased()
	}

	enrollment.Status = req.Status
	enrollment.RejectReason = reason
	enrollment.ReviewedAt = &reviewedAt

	s.notifier.Notify(notify.EventEnrollmentReviewed, map[string]interface{}{
		"enrollment_id": enrollment.ID,
		"student_id":    enrollment.StudentID,
		"elective_id":   enrollment.ElectiveID,
		"status":        enrollment.Status,
	})
	s.logger.Info("enrollment reviewed",
		zap.String("enrollment_id", id),
		zap.String("status", string(req.Status)),
		zap.String("reviewer_id", claims.UserID))
	return enrollment, nil
}

// Delete lets a student withdraw a pending enrollment while the period is
// open. The row is removed first so only one caller wins, then the held seat
// goes back to the pool.
func (s *EnrollmentService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	if !Allowed(ActionEnrollmentDelete, claims.Role) {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot withdraw enrollments")
	}

	enrollment, err := s.findEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if enrollment.StudentID != claims.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "you can only withdraw your own enrollments")
	}
	if enrollment.Status != models.EnrollmentStatusPending {
		return appErrors.Clone(appErrors.ErrConflict, "only pending enrollments can be withdrawn")
	}

	open, err := s.gate.OpenFor(ctx, claims.Role, time.Now().UTC())
	if err != nil {
		return err
	}
	if !open {
		return appErrors.Clone(appErrors.ErrPeriodClosed, "no enrollment period is currently open")
	}

	if err := s.repo.DeletePending(ctx, id); err != nil {
		if err == repository.ErrAlreadyDecided {
			return appErrors.Clone(appErrors.ErrConflict, "only pending enrollments can be withdrawn")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	s.releaseSeat(ctx, enrollment.ElectiveID)
	s.metrics.IncSeatReleased()

	s.notifier.Notify(notify.EventEnrollmentDeleted, map[string]interface{}{
		"enrollment_id": id,
		"student_id":    enrollment.StudentID,
		"elective_id":   enrollment.ElectiveID,
	})
	s.logger.Info("enrollment withdrawn",
		zap.String("enrollment_id", id),
		zap.String("student_id", claims.UserID))
	return nil
}

// checkDuplicate rejects a new enrollment when either lane already holds an
// active record for the pair. The same-lane race is closed again by the
// conditional insert; this read keeps the cross-lane rule and gives callers a
// clean conflict before a seat is touched.
func (s *EnrollmentService) checkDuplicate(ctx context.Context, studentID, electiveID string) error {
	exists, err := s.repo.ExistsActive(ctx, studentID, electiveID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollments")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "you already have an active enrollment for this elective")
	}
	exists, err = s.requests.ExistsActive(ctx, studentID, electiveID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing requests")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "you already have an active exception request for this elective")
	}
	return nil
}

func (s *EnrollmentService) findEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

// releaseSeat best-effort returns a seat. A failure here means the quota
// drifts low, never negative, and is loud in the logs.
func (s *EnrollmentService) releaseSeat(ctx context.Context, electiveID string) {
	if err := s.ledger.ReleaseSeat(ctx, electiveID); err != nil {
		s.logger.Error("failed to release seat",
			zap.String("elective_id", electiveID),
			zap.Error(err))
	}
}
