package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"course_rewards/internal/domain/reward"

	"github.com/sirupsen/logrus"
)

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Checked   int
	Confirmed int
	Resumed   int
	Failed    int
	Skipped   int
	Errors    int
}

// Sweep re-checks stale records against the chain. Unsettled records
// (PENDING, ON_CHAIN_SUBMITTED) are handled before FAILED ones so that a
// backlog of failures cannot starve them. The sweep never submits a
// transaction; resubmission is always an explicit RetryAward.
func (r *ChainReconciler) Sweep(ctx context.Context, staleAfter time.Duration, limit int) (SweepReport, error) {
	var report SweepReport
	cutoff := r.now().Add(-staleAfter)

	batches := [][]reward.Status{
		{reward.StatusPending, reward.StatusOnChainSubmitted},
		{reward.StatusFailed},
	}
	for _, statuses := range batches {
		records, err := r.rewards.ListByStatus(ctx, statuses, cutoff, limit)
		if err != nil {
			return report, fmt.Errorf("failed to list records for reconciliation: %w", err)
		}
		for _, rec := range records {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Checked++
			if r.isActive(rec.StudentID, rec.CourseID) {
				report.Skipped++
				continue
			}
			outcome, err := r.Reconcile(ctx, rec)
			if err != nil {
				report.Errors++
				r.logger.WithFields(logrus.Fields{
					"student_id": rec.StudentID,
					"course_id":  rec.CourseID,
					"status":     rec.Status,
				}).WithError(err).Warn("Failed to reconcile reward")
				continue
			}
			switch outcome {
			case OutcomeConfirmed:
				report.Confirmed++
			case OutcomeResumed:
				report.Resumed++
			case OutcomeFailed:
				report.Failed++
			}
		}
	}

	r.logger.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"confirmed": report.Confirmed,
		"resumed":   report.Resumed,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"errors":    report.Errors,
	}).Info("Reward reconciliation sweep finished")
	return report, nil
}

type ReconcileOutcome int

const (
	OutcomeUnchanged ReconcileOutcome = iota
	OutcomeConfirmed
	OutcomeResumed
	OutcomeFailed
)

// Reconcile brings one record in line with the chain.
func (r *ChainReconciler) Reconcile(ctx context.Context, rec *reward.Record) (ReconcileOutcome, error) {
	if rec.Status.IsTerminal() {
		return OutcomeUnchanged, nil
	}

	addr, err := r.wallets.resolve(ctx, rec.StudentID)
	if err != nil {
		if !errors.Is(err, reward.ErrInvalidAddress) {
			return OutcomeUnchanged, err
		}
		if rec.Status == reward.StatusPending {
			return OutcomeFailed, r.fail(ctx, rec, reward.FailureInvalidAddress, err)
		}
		return OutcomeUnchanged, nil
	}

	done, err := r.ledger.HasCourseCompleted(ctx, addr, rec.CourseID)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to read on-chain award state: %w", err)
	}
	if done {
		return OutcomeConfirmed, r.confirm(ctx, rec)
	}

	switch rec.Status {
	case reward.StatusOnChainSubmitted:
		if !rec.TxHash.Valid {
			return OutcomeFailed, r.fail(ctx, rec, reward.FailureChainUnavailable, errors.New("submitted reward has no transaction hash"))
		}
		snapshot := *rec
		started := r.runDetached(rec.StudentID, rec.CourseID, false, func(ctx context.Context) error {
			return r.awaitConfirmation(ctx, &snapshot, addr)
		})
		if started {
			return OutcomeResumed, nil
		}
		return OutcomeUnchanged, nil
	case reward.StatusPending:
		// A pending record this old lost its submitter before broadcasting.
		return OutcomeFailed, r.fail(ctx, rec, reward.FailureChainUnavailable, errors.New("submission interrupted before broadcast"))
	default:
		return OutcomeUnchanged, nil
	}
}
