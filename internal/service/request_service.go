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

type requestRepository interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.ExceptionRequest, int, error)
	FindByID(ctx context.Context, id string) (*models.ExceptionRequest, error)
	ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error)
	Create(ctx context.Context, request *models.ExceptionRequest) error
	Review(ctx context.Context, id string, status models.RequestStatus, reviewerID string, comment *string, reviewedAt time.Time) error
	Delete(ctx context.Context, id string) error
}

// enrollmentLane is the slice of the enrollment repository the exception
// channel needs: the cross-lane duplicate check, the synthesis of an approved
// enrollment when a request is granted, and its removal when the grant has to
// be unwound.
type enrollmentLane interface {
	ExistsActive(ctx context.Context, studentID, electiveID string) (bool, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id string) error
}

// RequestCreateRequest is the payload for filing an exception request.
type RequestCreateRequest struct {
	ElectiveID    string `json:"elective_id" validate:"required,uuid4"`
	Justification string `json:"justification" validate:"required,min=5,max=300"`
}

// RequestReviewRequest is a reviewer decision on a pending request.
type RequestReviewRequest struct {
	Status  models.RequestStatus `json:"status" validate:"required,oneof=aprobado rechazado"`
	Comment string               `json:"comment" validate:"omitempty,min=5,max=300"`
}

// RequestService implements the exception lane. Filing a request costs no
// seat; the seat is claimed only at approval time, and approval also
// materializes the enrollment record the student would otherwise have
// created themselves.
type RequestService struct {
	repo        requestRepository
	enrollments enrollmentLane
	ledger      seatLedger
	gate        periodGate
	notifier    notifier
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewRequestService constructs RequestService.
func NewRequestService(repo requestRepository, enrollments enrollmentLane, ledger seatLedger, gate periodGate, events notifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &RequestService{
		repo:        repo,
		enrollments: enrollments,
		ledger:      ledger,
		gate:        gate,
		notifier:    events,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// List returns requests scoped to the caller: students only their own.
func (s *RequestService) List(ctx context.Context, claims *models.JWTClaims, filter models.RequestFilter) ([]models.ExceptionRequest, *models.Pagination, error) {
	if claims.Role == models.RoleStudent {
		filter.StudentID = claims.UserID
	}
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Create files an exception request for the calling student. No seat moves
// here; a full elective is exactly the case this lane exists for.
func (s *RequestService) Create(ctx context.Context, claims *models.JWTClaims, req RequestCreateRequest) (*models.ExceptionRequest, error) {
	if !Allowed(ActionRequestCreate, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can file exception requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
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

	request := &models.ExceptionRequest{
		StudentID:     claims.UserID,
		ElectiveID:    req.ElectiveID,
		Justification: req.Justification,
		Status:        models.RequestStatusPending,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		if err == repository.ErrDuplicateActive {
			return nil, appErrors.Clone(appErrors.ErrConflict, "you already have an active request for this elective")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.logger.Info("exception request created",
		zap.String("request_id", request.ID),
		zap.String("student_id", request.StudentID),
		zap.String("elective_id", request.ElectiveID))
	return request, nil
}

// Review records a decision on a pending request. Approval claims a seat
// first and then materializes an approved enrollment; if no seat is left the
// request stays pendiente so the reviewer can retry once seats free up.
func (s *RequestService) Review(ctx context.Context, claims *models.JWTClaims, id string, req RequestReviewRequest) (*models.ExceptionRequest, error) {
	if !Allowed(ActionRequestReview, claims.Role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you cannot review exception requests")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	if req.Status == models.RequestStatusRejected && req.Comment == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a review comment is required to reject")
	}

	request, err := s.findRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status != models.RequestStatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "the request has already been reviewed")
	}

	reviewedAt := time.Now().UTC()
	var comment *string
	if req.Comment != "" {
		comment = &req.Comment
	}

	var granted *models.Enrollment
	if req.Status == models.RequestStatusApproved {
		granted, err = s.approve(ctx, request, reviewedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := s.repo.Review(ctx, id, req.Status, claims.UserID, comment, reviewedAt); err != nil {
		if granted != nil {
			s.unwindApproval(ctx, granted)
		}
		if err == repository.ErrAlreadyDecided {
			return nil, appErrors.Clone(appErrors.ErrAlreadyReviewed, "the request has already been reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}

	request.Status = req.Status
	request.ReviewerID = &claims.UserID
	request.ReviewComment = comment
	request.ReviewedAt = &reviewedAt

	s.notifier.Notify(notify.EventRequestReviewed, map[string]interface{}{
		"request_id":  request.ID,
		"student_id":  request.StudentID,
		"elective_id": request.ElectiveID,
		"status":      request.Status,
	})
	s.logger.Info("exception request reviewed",
		zap.String("request_id", id),
		zap.String("status", string(req.Status)),
		zap.String("reviewer_id", claims.UserID))
	return request, nil
}

// approve claims the seat and writes the enrollment the approval stands for.
// Both happen before the request row flips so a failure leaves the request
// pendiente and the ledger untouched.
func (s *RequestService) approve(ctx context.Context, request *models.ExceptionRequest, reviewedAt time.Time) (*models.Enrollment, error) {
	if err := s.ledger.ReserveSeat(ctx, request.ElectiveID); err != nil {
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
		StudentID:  request.StudentID,
		ElectiveID: request.ElectiveID,
		Status:     models.EnrollmentStatusApproved,
		ReviewedAt: &reviewedAt,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if releaseErr := s.ledger.ReleaseSeat(ctx, request.ElectiveID); releaseErr != nil {
			s.logger.Error("failed to release seat after approval rollback",
				zap.String("elective_id", request.ElectiveID),
				zap.Error(releaseErr))
		}
		if err == repository.ErrDuplicateActive {
			return nil, appErrors.Clone(appErrors.ErrConflict, "the student already has an active enrollment for this elective")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.metrics.IncSeatReserved()
	return enrollment, nil
}

// unwindApproval removes the synthesized enrollment and returns its seat when
// the request row could not be flipped after the grant. Without this the
// request would stay pendiente forever: a retry would hit the duplicate
// conflict against the orphaned enrollment and roll its own seat back.
func (s *RequestService) unwindApproval(ctx context.Context, granted *models.Enrollment) {
	if err := s.enrollments.Delete(ctx, granted.ID); err != nil {
		s.logger.Error("failed to remove enrollment after approval unwind",
			zap.String("enrollment_id", granted.ID),
			zap.Error(err))
		return
	}
	if err := s.ledger.ReleaseSeat(ctx, granted.ElectiveID); err != nil {
		s.logger.Error("failed to release seat after approval unwind",
			zap.String("elective_id", granted.ElectiveID),
			zap.Error(err))
		return
	}
	s.metrics.IncSeatReleased()
}

// Delete removes a request row. Administrative cleanup only.
func (s *RequestService) Delete(ctx context.Context, claims *models.JWTClaims, id string) error {
	if !Allowed(ActionRequestDelete, claims.Role) {
		return appErrors.Clone(appErrors.ErrForbidden, "you cannot delete exception requests")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete request")
	}
	s.logger.Info("exception request deleted",
		zap.String("request_id", id),
		zap.String("user_id", claims.UserID))
	return nil
}

func (s *RequestService) checkDuplicate(ctx context.Context, studentID, electiveID string) error {
	exists, err := s.repo.ExistsActive(ctx, studentID, electiveID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing requests")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "you already have an active request for this elective")
	}
	exists, err = s.enrollments.ExistsActive(ctx, studentID, electiveID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollments")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "you already have an active enrollment for this elective")
	}
	return nil
}

func (s *RequestService) findRequest(ctx context.Context, id string) (*models.ExceptionRequest, error) {
	request, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}
