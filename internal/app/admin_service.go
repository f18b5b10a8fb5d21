package app

import (
	"context"
	"fmt"

	"course_rewards/internal/domain/reward"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrChainDisabled = fmt.Errorf("chain access is not configured")

const defaultFailedListLimit = 20

// AdminService exposes reward operations to the operator bot.
type AdminService struct {
	ledger          *RewardLedger
	reconciler      *ChainReconciler // nil in off-chain-only mode
	adminTelegramID int64
}

func NewAdminService(ledger *RewardLedger, reconciler *ChainReconciler, adminID int64) *AdminService {
	return &AdminService{
		ledger:          ledger,
		reconciler:      reconciler,
		adminTelegramID: adminID,
	}
}

func (s *AdminService) authorize(performingAdminID int64) error {
	if performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// RewardStatus returns the record and its audit trail.
func (s *AdminService) RewardStatus(ctx context.Context, performingAdminID, studentID, courseID int64) (*reward.Record, []reward.Transition, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, nil, err
	}
	rec, err := s.ledger.GetRewardStatus(ctx, studentID, courseID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.ledger.History(ctx, studentID, courseID)
	if err != nil {
		return rec, nil, fmt.Errorf("failed to load reward history: %w", err)
	}
	return rec, history, nil
}

func (s *AdminService) RetryAward(ctx context.Context, performingAdminID, studentID, courseID int64) (*reward.Record, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	return s.ledger.RetryAward(ctx, studentID, courseID)
}

func (s *AdminService) ListFailedAwards(ctx context.Context, performingAdminID int64) ([]*reward.Record, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, err
	}
	return s.ledger.ListFailed(ctx, defaultFailedListLimit)
}

// ChainStatus reads the on-chain award flag for the pair.
func (s *AdminService) ChainStatus(ctx context.Context, performingAdminID, studentID, courseID int64) (bool, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return false, err
	}
	if s.reconciler == nil {
		return false, ErrChainDisabled
	}
	return s.reconciler.ReadAwardStatus(ctx, studentID, courseID)
}
