package app

import (
	"context"
	"errors"
	"time"

	"course_rewards/internal/domain/enrollment"
	"course_rewards/internal/domain/reward"

	"github.com/sirupsen/logrus"
)

// LessonCompletionEvent is emitted when a student finishes a lesson.
type LessonCompletionEvent struct {
	StudentID int64
	CourseID  int64
	LessonID  int64
	TimeSpent time.Duration
}

// CompletionOutcome is returned to the lesson-completion caller.
// TokensEarned is non-zero only on the call that created the reward.
type CompletionOutcome struct {
	JustCompleted bool
	TokensEarned  int64
	Progress      enrollment.Progress
	Reward        *reward.Record
}

// CompletionService connects the enrollment tracker to the reward ledger:
// the tracker's JustCompleted flag is the only award trigger.
type CompletionService struct {
	tracker *EnrollmentTracker
	ledger  *RewardLedger
	logger  *logrus.Entry
}

func NewCompletionService(tracker *EnrollmentTracker, ledger *RewardLedger, logger *logrus.Entry) *CompletionService {
	return &CompletionService{
		tracker: tracker,
		ledger:  ledger,
		logger:  logger.WithField("component", "completion_service"),
	}
}

func (s *CompletionService) HandleLessonCompleted(ctx context.Context, ev LessonCompletionEvent) (*CompletionOutcome, error) {
	res, err := s.tracker.CompleteLesson(ctx, ev.StudentID, ev.CourseID, ev.LessonID, ev.TimeSpent)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, ev.StudentID, ev.CourseID, res)
}

// Enroll enrolls the student; a course without lessons is rewarded here.
func (s *CompletionService) Enroll(ctx context.Context, studentID, courseID int64) (*CompletionOutcome, error) {
	res, err := s.tracker.Enroll(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, studentID, courseID, res)
}

func (s *CompletionService) Progress(ctx context.Context, studentID, courseID int64) (enrollment.Progress, error) {
	return s.tracker.GetProgress(ctx, studentID, courseID)
}

// settle awards the course on a fresh completion. When the award fails with
// ErrInvalidAddress the outcome is still returned alongside the error. Any
// other failure leaves the enrollment completed without a record, which
// AwardMissedCompletions picks up later.
func (s *CompletionService) settle(ctx context.Context, studentID, courseID int64, res *TrackResult) (*CompletionOutcome, error) {
	out := &CompletionOutcome{JustCompleted: res.JustCompleted, Progress: res.Progress}
	if !res.JustCompleted {
		return out, nil
	}

	rec, created, err := s.ledger.AwardIfEligible(ctx, studentID, courseID)
	out.Reward = rec
	if err != nil {
		if errors.Is(err, reward.ErrInvalidAddress) && rec != nil {
			s.logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID}).
				Warn("Course completed but student has no valid wallet")
			return out, err
		}
		s.logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID}).
			WithError(err).Error("Failed to award completed course")
		return out, err
	}
	if created {
		out.TokensEarned = rec.Amount
	}
	return out, nil
}

// AwardMissedCompletions awards enrollments that completed more than
// staleAfter ago but never got a reward record, for example because the
// award failed after the completion was committed. It returns the number
// of rewards created.
func (s *CompletionService) AwardMissedCompletions(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	missed, err := s.tracker.CompletedWithoutReward(ctx, staleAfter, limit)
	if err != nil {
		return 0, err
	}

	awarded := 0
	for _, e := range missed {
		log := s.logger.WithFields(logrus.Fields{"student_id": e.StudentID, "course_id": e.CourseID})
		_, created, err := s.ledger.AwardIfEligible(ctx, e.StudentID, e.CourseID)
		if created {
			awarded++
		}
		if err != nil {
			log.WithError(err).Warn("Failed to award missed course completion")
			continue
		}
		if created {
			log.Info("Awarded missed course completion")
		}
	}
	return awarded, nil
}
