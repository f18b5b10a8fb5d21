package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"course_rewards/internal/domain/chain"
	"course_rewards/internal/domain/reward"
	"course_rewards/internal/domain/student"

	"github.com/sirupsen/logrus"
)

const defaultConfirmTimeout = 10 * time.Minute

// walletResolver maps a student to a valid on-chain address.
type walletResolver struct {
	students student.Repository
	ledger   chain.AwardLedger
}

func (w *walletResolver) resolve(ctx context.Context, studentID int64) (string, error) {
	s, err := w.students.GetByID(ctx, studentID)
	if err != nil {
		return "", fmt.Errorf("failed to get student %d: %w", studentID, err)
	}
	if !s.HasWallet() || !w.ledger.ValidAddress(s.WalletAddress.String) {
		return "", fmt.Errorf("%w: student %d", reward.ErrInvalidAddress, studentID)
	}
	return s.WalletAddress.String, nil
}

// ChainReconciler keeps RewardRecords consistent with the token contract's
// award state. Chain failures are captured into the record status; returned
// errors are storage errors only.
type ChainReconciler struct {
	rewards        reward.Repository
	ledger         chain.AwardLedger
	wallets        *walletResolver
	notifier       Notifier
	logger         *logrus.Entry
	confirmTimeout time.Duration
	now            func() time.Time

	mu       sync.Mutex
	active   map[string]*pairTask
	inflight sync.WaitGroup
}

func NewChainReconciler(
	rr reward.Repository,
	sr student.Repository,
	ledger chain.AwardLedger,
	notifier Notifier,
	confirmTimeout time.Duration,
	logger *logrus.Entry,
) *ChainReconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	return &ChainReconciler{
		rewards:        rr,
		ledger:         ledger,
		wallets:        &walletResolver{students: sr, ledger: ledger},
		notifier:       notifier,
		logger:         logger.WithField("component", "chain_reconciler"),
		confirmTimeout: confirmTimeout,
		now:            time.Now,
		active:         make(map[string]*pairTask),
	}
}

// SubmitAward issues the award for a PENDING record: it checks the chain
// first, submits awardTokens only if the award is not already recorded, and
// waits for confirmation. Records in any other status are returned as is.
func (r *ChainReconciler) SubmitAward(ctx context.Context, studentID, courseID, amount int64) (*reward.Record, error) {
	log := r.logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID})

	rec, err := r.rewards.Get(ctx, studentID, courseID)
	if err != nil {
		return nil, err
	}
	if rec.Status != reward.StatusPending {
		log.WithField("status", rec.Status).Info("Reward is not pending, nothing to submit")
		return rec, nil
	}
	if rec.Amount != amount {
		log.WithFields(logrus.Fields{"record_amount": rec.Amount, "requested_amount": amount}).
			Warn("Submit amount differs from recorded amount, using recorded amount")
	}

	addr, err := r.wallets.resolve(ctx, studentID)
	if err != nil {
		if errors.Is(err, reward.ErrInvalidAddress) {
			return rec, r.fail(ctx, rec, reward.FailureInvalidAddress, err)
		}
		return rec, err
	}
	log = log.WithField("wallet", addr)

	// The contract reverts duplicate awards; checking first also covers a
	// previous attempt whose transaction landed after we gave up on it.
	done, err := r.ledger.HasCourseCompleted(ctx, addr, courseID)
	if err != nil {
		log.WithError(err).Warn("Failed to read on-chain award state before submission")
		return rec, r.fail(ctx, rec, failureKind(err), err)
	}
	if done {
		log.Info("Award already recorded on chain, confirming without a transaction")
		return rec, r.confirm(ctx, rec)
	}

	txHash, err := r.ledger.AwardTokens(ctx, addr, courseID)
	if err != nil {
		if chain.AlreadyCompleted(err) {
			log.WithError(err).Info("Chain reports course already completed, re-verifying")
			return rec, r.settleFromChain(ctx, rec, addr, err)
		}
		log.WithError(err).Warn("awardTokens submission failed")
		return rec, r.fail(ctx, rec, failureKind(err), err)
	}

	t, err := rec.MarkSubmitted(txHash, r.now())
	if err != nil {
		return rec, err
	}
	if err := r.rewards.Save(ctx, rec, t); err != nil {
		// The transaction is broadcast regardless; the sweep finds it on chain.
		log.WithError(err).WithField("tx_hash", txHash).Error("Failed to persist submitted reward")
		return rec, fmt.Errorf("failed to save submitted reward: %w", err)
	}
	log.WithField("tx_hash", txHash).Info("Award transaction submitted")

	return rec, r.awaitConfirmation(ctx, rec, addr)
}

// SubmitAsync runs SubmitAward in the background, detached from any caller's
// cancellation and bounded by the confirmation timeout. A pair that already
// has a task running gets the submission queued behind it.
func (r *ChainReconciler) SubmitAsync(studentID, courseID, amount int64) {
	r.runDetached(studentID, courseID, true, func(ctx context.Context) error {
		_, err := r.SubmitAward(ctx, studentID, courseID, amount)
		return err
	})
}

// ReadAwardStatus reads hasCourseCompleted for the pair.
func (r *ChainReconciler) ReadAwardStatus(ctx context.Context, studentID, courseID int64) (bool, error) {
	addr, err := r.wallets.resolve(ctx, studentID)
	if err != nil {
		return false, err
	}
	return r.ledger.HasCourseCompleted(ctx, addr, courseID)
}

// CompletedCourses reads getCompletedCourses for the student's wallet.
func (r *ChainReconciler) CompletedCourses(ctx context.Context, studentID int64) ([]int64, error) {
	addr, err := r.wallets.resolve(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return r.ledger.CompletedCourses(ctx, addr)
}

// Shutdown waits for background submissions to finish or for ctx to expire.
func (r *ChainReconciler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pairTask tracks the background work of one pair. next holds a follow-up
// queued while the current run was still in progress.
type pairTask struct {
	next func(ctx context.Context) error
}

// runDetached starts fn in the background unless the pair already has a
// task. With queue set, a busy pair gets fn as its follow-up instead; the
// follow-up runs after the current one and replaces any earlier follow-up.
// It reports whether fn will run.
func (r *ChainReconciler) runDetached(studentID, courseID int64, queue bool, fn func(ctx context.Context) error) bool {
	key := pairKey(studentID, courseID)
	log := r.logger.WithFields(logrus.Fields{"student_id": studentID, "course_id": courseID})

	r.mu.Lock()
	if task, busy := r.active[key]; busy {
		if queue {
			task.next = fn
		}
		r.mu.Unlock()
		log.WithField("queued", queue).Debug("Chain task already running for pair")
		return queue
	}
	task := &pairTask{}
	r.active[key] = task
	r.inflight.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.inflight.Done()
		for fn != nil {
			r.runBounded(log, fn)

			// Release and follow-up hand-off share the lock with queueing.
			r.mu.Lock()
			fn, task.next = task.next, nil
			if fn == nil {
				delete(r.active, key)
			}
			r.mu.Unlock()
		}
	}()
	return true
}

func (r *ChainReconciler) runBounded(log *logrus.Entry, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.confirmTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.WithError(err).Error("Background chain task failed")
	}
}

func (r *ChainReconciler) isActive(studentID, courseID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.active[pairKey(studentID, courseID)]
	return busy
}

func (r *ChainReconciler) awaitConfirmation(ctx context.Context, rec *reward.Record, addr string) error {
	log := r.logger.WithFields(logrus.Fields{
		"student_id": rec.StudentID,
		"course_id":  rec.CourseID,
		"tx_hash":    rec.TxHash.String,
	})

	err := r.ledger.WaitConfirmed(ctx, rec.TxHash.String)
	if err == nil {
		log.Info("Award transaction confirmed")
		return r.confirm(ctx, rec)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.WithError(err).Warn("Stopped waiting for award confirmation")
		return r.fail(ctx, rec, reward.FailureChainUnavailable, fmt.Errorf("confirmation not observed: %w", err))
	}
	if errors.Is(err, chain.ErrRejected) {
		log.WithError(err).Warn("Award transaction rejected, re-verifying chain state")
		return r.settleFromChain(ctx, rec, addr, err)
	}
	log.WithError(err).Warn("Failed waiting for award confirmation")
	return r.fail(ctx, rec, failureKind(err), err)
}

// settleFromChain resolves a rejection by reading the chain: if the award is
// there, the record is confirmed, otherwise it fails with cause.
func (r *ChainReconciler) settleFromChain(ctx context.Context, rec *reward.Record, addr string, cause error) error {
	done, err := r.ledger.HasCourseCompleted(ctx, addr, rec.CourseID)
	if err == nil && done {
		return r.confirm(ctx, rec)
	}
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"student_id": rec.StudentID, "course_id": rec.CourseID}).
			Warn("Failed to re-verify on-chain award state")
	}
	return r.fail(ctx, rec, failureKind(cause), cause)
}

func (r *ChainReconciler) confirm(ctx context.Context, rec *reward.Record) error {
	t, err := rec.MarkConfirmed(r.now())
	if err != nil {
		return err
	}
	if err := r.save(ctx, rec, t); err != nil {
		return err
	}
	r.notifier.RewardSettled(ctx, rec)
	return nil
}

func (r *ChainReconciler) fail(ctx context.Context, rec *reward.Record, kind reward.FailureKind, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	t, err := rec.MarkFailed(kind, reason, r.now())
	if err != nil {
		return err
	}
	if err := r.save(ctx, rec, t); err != nil {
		return err
	}
	r.notifier.RewardSettled(ctx, rec)
	return nil
}

// save persists a settlement even when the triggering request has gone away.
func (r *ChainReconciler) save(ctx context.Context, rec *reward.Record, t reward.Transition) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
	}
	if err := r.rewards.Save(ctx, rec, t); err != nil {
		return fmt.Errorf("failed to save reward %s -> %s: %w", t.From, t.To, err)
	}
	return nil
}

func failureKind(err error) reward.FailureKind {
	if errors.Is(err, chain.ErrRejected) {
		return reward.FailureChainRejected
	}
	return reward.FailureChainUnavailable
}
