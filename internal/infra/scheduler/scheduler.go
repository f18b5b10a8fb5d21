package scheduler

import (
	"context"
	"fmt"
	"time"

	"course_rewards/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepTimeout = 4 * time.Minute

// Sweeper re-checks unsettled on-chain rewards.
type Sweeper interface {
	Sweep(ctx context.Context, staleAfter time.Duration, limit int) (app.SweepReport, error)
}

// PendingCreditor settles off-chain rewards left PENDING by a crash.
type PendingCreditor interface {
	CreditStalePending(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

// MissedAwardRecoverer awards completed enrollments that have no reward.
type MissedAwardRecoverer interface {
	AwardMissedCompletions(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

type ReconciliationScheduler struct {
	cronEngine *cron.Cron
	recoverer  MissedAwardRecoverer
	sweeper    Sweeper // nil in off-chain-only mode
	creditor   PendingCreditor
	logger     *logrus.Entry
	cronSpec   string
	staleAfter time.Duration
	batchSize  int
}

func NewReconciliationScheduler(
	recoverer MissedAwardRecoverer,
	sweeper Sweeper,
	creditor PendingCreditor,
	logger *logrus.Entry,
	cronSpec string, // e.g., "*/5 * * * *" (every 5 minutes)
	staleAfter time.Duration,
	batchSize int,
) *ReconciliationScheduler {
	return &ReconciliationScheduler{
		cronEngine: cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		recoverer:  recoverer,
		sweeper:    sweeper,
		creditor:   creditor,
		logger:     logger.WithField("component", "reconciliation_scheduler"),
		cronSpec:   cronSpec,
		staleAfter: staleAfter,
		batchSize:  batchSize,
	}
}

func (s *ReconciliationScheduler) Start() error {
	s.logger.Info("Starting reconciliation scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpec, func() {
		s.logger.Debug("Cron job triggered for reward reconciliation.")
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("could not add reconciliation cron job %q: %w", s.cronSpec, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("cron_spec", s.cronSpec).Info("Reconciliation scheduler started.")
	return nil
}

// RunOnce performs one reconciliation pass for the configured mode.
func (s *ReconciliationScheduler) RunOnce(ctx context.Context) {
	if s.recoverer != nil {
		awarded, err := s.recoverer.AwardMissedCompletions(ctx, s.staleAfter, s.batchSize)
		if err != nil {
			s.logger.WithError(err).Error("Error while awarding missed course completions")
		} else if awarded > 0 {
			s.logger.WithField("awarded", awarded).Info("Awarded missed course completions")
		}
	}
	if s.creditor != nil {
		credited, err := s.creditor.CreditStalePending(ctx, s.staleAfter, s.batchSize)
		if err != nil {
			s.logger.WithError(err).Error("Error while crediting stale pending rewards")
		} else if credited > 0 {
			s.logger.WithField("credited", credited).Info("Credited stale pending rewards")
		}
	}
	if s.sweeper != nil {
		if _, err := s.sweeper.Sweep(ctx, s.staleAfter, s.batchSize); err != nil {
			s.logger.WithError(err).Error("Error during reward reconciliation sweep")
		}
	}
}

func (s *ReconciliationScheduler) Stop() {
	s.logger.Info("Stopping reconciliation scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Reconciliation scheduler gracefully stopped.")
}
