package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course_rewards/internal/domain/course"
	"course_rewards/internal/domain/reward"

	"github.com/sirupsen/logrus"
)

// PairLocker serializes work on one (student, course) pair.
type PairLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

func pairKey(studentID, courseID int64) string {
	return fmt.Sprintf("reward:%d:%d", studentID, courseID)
}

// RewardLedger guarantees at most one reward per (student, course) and
// drives issuance according to its Mode.
type RewardLedger struct {
	rewards    reward.Repository
	courses    course.Repository
	wallets    *walletResolver
	reconciler *ChainReconciler
	locker     PairLocker
	notifier   Notifier
	mode       reward.Mode
	logger     *logrus.Entry
	now        func() time.Time
}

func NewRewardLedger(
	rr reward.Repository,
	cr course.Repository,
	reconciler *ChainReconciler,
	locker PairLocker,
	notifier Notifier,
	mode reward.Mode,
	logger *logrus.Entry,
) *RewardLedger {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	l := &RewardLedger{
		rewards:    rr,
		courses:    cr,
		reconciler: reconciler,
		locker:     locker,
		notifier:   notifier,
		mode:       mode,
		logger:     logger.WithField("component", "reward_ledger"),
		now:        time.Now,
	}
	if reconciler != nil {
		l.wallets = reconciler.wallets
	}
	return l
}

func (l *RewardLedger) Mode() reward.Mode {
	return l.mode
}

// AwardIfEligible is called when the enrollment tracker reports a fresh
// completion. An existing record for the pair is returned unchanged with
// created=false. Otherwise a PENDING record for the course reward is created
// and issued.
func (l *RewardLedger) AwardIfEligible(ctx context.Context, studentID, courseID int64) (rec *reward.Record, created bool, err error) {
	log := l.logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID})

	unlock, err := l.locker.Lock(ctx, pairKey(studentID, courseID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock reward pair: %w", err)
	}
	defer unlock()

	existing, err := l.rewards.Get(ctx, studentID, courseID)
	if err == nil {
		log.WithField("status", existing.Status).Info("Reward already exists, skipping award")
		return existing, false, nil
	}
	if !errors.Is(err, reward.ErrNotAwarded) {
		return nil, false, fmt.Errorf("failed to look up reward: %w", err)
	}

	c, err := l.courses.GetByID(ctx, courseID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get course %d: %w", courseID, err)
	}

	rec = reward.NewPending(studentID, courseID, c.TokenReward, l.now())
	if err := l.rewards.Create(ctx, rec); err != nil {
		if errors.Is(err, reward.ErrDuplicateAwardAttempt) {
			// Another writer won the insert; its record is the reward.
			log.Debug("Lost reward create race, reading existing record")
			existing, getErr := l.rewards.Get(ctx, studentID, courseID)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to read reward after duplicate insert: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create reward: %w", err)
	}
	log.WithFields(logrus.Fields{"amount": rec.Amount, "mode": l.mode}).Info("Reward record created")

	return rec, true, l.issue(ctx, rec)
}

// RetryAward re-issues a FAILED reward on the same record.
func (l *RewardLedger) RetryAward(ctx context.Context, studentID, courseID int64) (*reward.Record, error) {
	unlock, err := l.locker.Lock(ctx, pairKey(studentID, courseID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock reward pair: %w", err)
	}
	defer unlock()

	rec, err := l.rewards.Get(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	if rec.Status != reward.StatusFailed {
		return rec, fmt.Errorf("%w: status is %s", reward.ErrRetryNotAllowed, rec.Status)
	}

	t, err := rec.ResetForRetry(l.now())
	if err != nil {
		return rec, err
	}
	if err := l.rewards.Save(ctx, rec, t); err != nil {
		return nil, fmt.Errorf("failed to reset reward for retry: %w", err)
	}
	l.logger.WithFields(logrus.Fields{
		"student_id": studentID,
		"course_id":  courseID,
		"attempt":    rec.Attempts,
	}).Info("Retrying reward issuance")

	return rec, l.issue(ctx, rec)
}

// GetRewardStatus returns the record for the pair, or reward.ErrNotAwarded.
func (l *RewardLedger) GetRewardStatus(ctx context.Context, studentID, courseID int64) (*reward.Record, error) {
	return l.rewards.Get(ctx, studentID, courseID)
}

func (l *RewardLedger) History(ctx context.Context, studentID, courseID int64) ([]reward.Transition, error) {
	return l.rewards.History(ctx, studentID, courseID)
}

func (l *RewardLedger) ListFailed(ctx context.Context, limit int) ([]*reward.Record, error) {
	return l.rewards.ListByStatus(ctx, []reward.Status{reward.StatusFailed}, l.now(), limit)
}

// issue settles a PENDING record. Off-chain credit is synchronous; on-chain
// submission is handed to the reconciler and settles in the background.
func (l *RewardLedger) issue(ctx context.Context, rec *reward.Record) error {
	switch l.mode {
	case reward.ModeOffChainOnly:
		t, err := rec.MarkCredited(l.now())
		if err != nil {
			return err
		}
		if err := l.rewards.Save(ctx, rec, t); err != nil {
			return fmt.Errorf("failed to credit reward: %w", err)
		}
		l.notifier.RewardSettled(ctx, rec)
		return nil

	case reward.ModeOnChain:
		if l.reconciler == nil {
			return fmt.Errorf("on-chain mode requires a chain reconciler")
		}
		if _, err := l.wallets.resolve(ctx, rec.StudentID); err != nil {
			if !errors.Is(err, reward.ErrInvalidAddress) {
				return fmt.Errorf("failed to resolve wallet: %w", err)
			}
			t, markErr := rec.MarkFailed(reward.FailureInvalidAddress, err.Error(), l.now())
			if markErr != nil {
				return markErr
			}
			if saveErr := l.rewards.Save(ctx, rec, t); saveErr != nil {
				return fmt.Errorf("failed to record invalid address: %w", saveErr)
			}
			l.notifier.RewardSettled(ctx, rec)
			return err
		}
		l.reconciler.SubmitAsync(rec.StudentID, rec.CourseID, rec.Amount)
		return nil

	default:
		return fmt.Errorf("unsupported reward mode %q", l.mode)
	}
}

// CreditStalePending settles PENDING records left behind by an interrupted
// off-chain credit. It is a no-op in on-chain mode, where the reconciler's
// sweep owns pending records.
func (l *RewardLedger) CreditStalePending(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	if l.mode != reward.ModeOffChainOnly {
		return 0, nil
	}
	records, err := l.rewards.ListByStatus(ctx, []reward.Status{reward.StatusPending}, l.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale pending rewards: %w", err)
	}

	credited := 0
	for _, rec := range records {
		err := func() error {
			unlock, err := l.locker.Lock(ctx, pairKey(rec.StudentID, rec.CourseID))
			if err != nil {
				return err
			}
			defer unlock()
			return l.issue(ctx, rec)
		}()
		if err != nil {
			l.logger.WithFields(logrus.Fields{"student_id": rec.StudentID, "course_id": rec.CourseID}).
				WithError(err).Warn("Failed to credit stale pending reward")
			continue
		}
		credited++
	}
	return credited, nil
}
