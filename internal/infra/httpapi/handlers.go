package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"course_rewards/internal/app"
	"course_rewards/internal/domain/chain"
	"course_rewards/internal/domain/course"
	"course_rewards/internal/domain/enrollment"
	"course_rewards/internal/domain/reward"
	"course_rewards/internal/domain/student"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type CompletionAPI interface {
	Enroll(ctx context.Context, studentID, courseID int64) (*app.CompletionOutcome, error)
	HandleLessonCompleted(ctx context.Context, ev app.LessonCompletionEvent) (*app.CompletionOutcome, error)
	Progress(ctx context.Context, studentID, courseID int64) (enrollment.Progress, error)
}

type RewardAPI interface {
	GetRewardStatus(ctx context.Context, studentID, courseID int64) (*reward.Record, error)
	RetryAward(ctx context.Context, studentID, courseID int64) (*reward.Record, error)
}

type ChainAPI interface {
	ReadAwardStatus(ctx context.Context, studentID, courseID int64) (bool, error)
	CompletedCourses(ctx context.Context, studentID int64) ([]int64, error)
}

// Handler serves the REST boundary. chain is nil when on-chain rewards are
// disabled.
type Handler struct {
	completion CompletionAPI
	rewards    RewardAPI
	chain      ChainAPI
	validator  *Validator
	logger     *logrus.Entry
}

func NewHandler(completion CompletionAPI, rewards RewardAPI, chainAPI ChainAPI, logger *logrus.Entry) *Handler {
	return &Handler{
		completion: completion,
		rewards:    rewards,
		chain:      chainAPI,
		validator:  NewValidator(),
		logger:     logger.WithField("component", "http_api"),
	}
}

type EnrollRequest struct {
	StudentID int64 `json:"student_id" validate:"required,gt=0"`
	CourseID  int64 `json:"course_id" validate:"required,gt=0"`
}

type LessonCompletedRequest struct {
	StudentID        int64 `json:"student_id" validate:"required,gt=0"`
	CourseID         int64 `json:"course_id" validate:"required,gt=0"`
	LessonID         int64 `json:"lesson_id" validate:"required,gt=0"`
	TimeSpentSeconds int64 `json:"time_spent_seconds" validate:"gte=0"`
}

type CompletionResponse struct {
	JustCompleted bool                `json:"just_completed"`
	TokensEarned  int64               `json:"tokens_earned"`
	Progress      enrollment.Progress `json:"progress"`
	Reward        *RewardView         `json:"reward,omitempty"`
}

type RewardView struct {
	ID            string    `json:"id"`
	StudentID     int64     `json:"student_id"`
	CourseID      int64     `json:"course_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	TxHash        string    `json:"tx_hash,omitempty"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func newRewardView(rec *reward.Record) *RewardView {
	if rec == nil {
		return nil
	}
	return &RewardView{
		ID:            rec.ID.String(),
		StudentID:     rec.StudentID,
		CourseID:      rec.CourseID,
		Amount:        rec.Amount,
		Status:        string(rec.Status),
		TxHash:        rec.TxHash.String,
		FailureKind:   string(rec.FailureKind),
		FailureReason: rec.FailureReason.String,
		Attempts:      rec.Attempts,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func newCompletionResponse(out *app.CompletionOutcome) CompletionResponse {
	return CompletionResponse{
		JustCompleted: out.JustCompleted,
		TokensEarned:  out.TokensEarned,
		Progress:      out.Progress,
		Reward:        newRewardView(out.Reward),
	}
}

func (h *Handler) Health(c *fiber.Ctx) error {
	return Success(c, fiber.Map{"status": "ok"})
}

func (h *Handler) Enroll(c *fiber.Ctx) error {
	var req EnrollRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	out, err := h.completion.Enroll(c.UserContext(), req.StudentID, req.CourseID)
	if err != nil {
		return h.fail(c, err, out)
	}
	return Created(c, newCompletionResponse(out))
}

func (h *Handler) CompleteLesson(c *fiber.Ctx) error {
	var req LessonCompletedRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}

	out, err := h.completion.HandleLessonCompleted(c.UserContext(), app.LessonCompletionEvent{
		StudentID: req.StudentID,
		CourseID:  req.CourseID,
		LessonID:  req.LessonID,
		TimeSpent: time.Duration(req.TimeSpentSeconds) * time.Second,
	})
	if err != nil {
		return h.fail(c, err, out)
	}
	return Success(c, newCompletionResponse(out))
}

func (h *Handler) Progress(c *fiber.Ctx) error {
	studentID, courseID, err := pairParams(c)
	if err != nil {
		return err
	}
	progress, err := h.completion.Progress(c.UserContext(), studentID, courseID)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return Success(c, progress)
}

func (h *Handler) Reward(c *fiber.Ctx) error {
	studentID, courseID, err := pairParams(c)
	if err != nil {
		return err
	}
	rec, err := h.rewards.GetRewardStatus(c.UserContext(), studentID, courseID)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return Success(c, newRewardView(rec))
}

func (h *Handler) RetryReward(c *fiber.Ctx) error {
	studentID, courseID, err := pairParams(c)
	if err != nil {
		return err
	}
	rec, err := h.rewards.RetryAward(c.UserContext(), studentID, courseID)
	if err != nil {
		var data interface{}
		if rec != nil {
			data = newRewardView(rec)
		}
		return h.failWithData(c, err, data)
	}
	return Success(c, newRewardView(rec))
}

func (h *Handler) ChainStatus(c *fiber.Ctx) error {
	if h.chain == nil {
		return Error(c, fiber.StatusServiceUnavailable, CodeChainDisabled, "on-chain rewards are disabled")
	}
	studentID, courseID, err := pairParams(c)
	if err != nil {
		return err
	}
	done, err := h.chain.ReadAwardStatus(c.UserContext(), studentID, courseID)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return Success(c, fiber.Map{"student_id": studentID, "course_id": courseID, "completed": done})
}

func (h *Handler) ChainCourses(c *fiber.Ctx) error {
	if h.chain == nil {
		return Error(c, fiber.StatusServiceUnavailable, CodeChainDisabled, "on-chain rewards are disabled")
	}
	studentID, err := idParam(c, "studentID")
	if err != nil {
		return err
	}
	courses, err := h.chain.CompletedCourses(c.UserContext(), studentID)
	if err != nil {
		return h.fail(c, err, nil)
	}
	return Success(c, fiber.Map{"student_id": studentID, "course_ids": courses})
}

func (h *Handler) bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return &validationError{fields: FormatValidationErrors(err)}
	}
	return nil
}

// validationError is rendered by the app's error handler.
type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string {
	return "validation failed"
}

func (h *Handler) fail(c *fiber.Ctx, err error, out *app.CompletionOutcome) error {
	var data interface{}
	if out != nil {
		data = newCompletionResponse(out)
	}
	return h.failWithData(c, err, data)
}

func (h *Handler) failWithData(c *fiber.Ctx, err error, data interface{}) error {
	status, code := classify(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{"method": c.Method(), "path": c.Path()}).Error("Request failed")
		message = "internal error"
	}
	if data != nil {
		return ErrorWithData(c, status, code, message, data)
	}
	return Error(c, status, code, message)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, enrollment.ErrNotEnrolled):
		return fiber.StatusNotFound, CodeNotEnrolled
	case errors.Is(err, enrollment.ErrUnknownLesson):
		return fiber.StatusUnprocessableEntity, CodeUnknownLesson
	case errors.Is(err, reward.ErrNotAwarded):
		return fiber.StatusNotFound, CodeNotAwarded
	case errors.Is(err, reward.ErrRetryNotAllowed):
		return fiber.StatusConflict, CodeRetryNotAllowed
	case errors.Is(err, reward.ErrInvalidAddress):
		return fiber.StatusConflict, CodeInvalidAddress
	case errors.Is(err, student.ErrStudentNotFound):
		return fiber.StatusNotFound, CodeStudentNotFound
	case errors.Is(err, course.ErrCourseNotFound):
		return fiber.StatusNotFound, CodeCourseNotFound
	case errors.Is(err, chain.ErrUnavailable):
		return fiber.StatusServiceUnavailable, CodeChainUnavailable
	default:
		return fiber.StatusInternalServerError, CodeInternal
	}
}

func pairParams(c *fiber.Ctx) (int64, int64, error) {
	studentID, err := idParam(c, "studentID")
	if err != nil {
		return 0, 0, err
	}
	courseID, err := idParam(c, "courseID")
	if err != nil {
		return 0, 0, err
	}
	return studentID, courseID, nil
}

func idParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, name+" must be a positive integer")
	}
	return id, nil
}
