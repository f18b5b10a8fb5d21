package chain

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable covers network and RPC failures reaching the chain.
	ErrUnavailable = errors.New("chain unavailable")
	// ErrRejected covers reverted transactions and refused signing.
	ErrRejected = errors.New("chain rejected transaction")
)

// Revert reasons emitted by the token contract.
const (
	ReasonCourseAlreadyCompleted = "Course already completed"
	ReasonInvalidStudentAddress  = "Invalid student address"
)

// RejectedError carries the revert or rejection reason reported by the chain.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + e.Reason
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// AlreadyCompleted reports whether err is a rejection meaning the award is
// already recorded on chain.
func AlreadyCompleted(err error) bool {
	var rej *RejectedError
	if !errors.As(err, &rej) {
		return false
	}
	return strings.Contains(strings.ToLower(rej.Reason), strings.ToLower(ReasonCourseAlreadyCompleted))
}

// AwardLedger is the on-chain award state of the token contract. Addresses
// are hex strings; transaction references are tx hashes.
type AwardLedger interface {
	HasCourseCompleted(ctx context.Context, studentAddress string, courseID int64) (bool, error)
	AwardTokens(ctx context.Context, studentAddress string, courseID int64) (txHash string, err error)
	// WaitConfirmed blocks until txHash is mined with enough confirmations.
	// A reverted receipt yields a *RejectedError.
	WaitConfirmed(ctx context.Context, txHash string) error
	CompletedCourses(ctx context.Context, studentAddress string) ([]int64, error)
	// ValidAddress reports whether addr is a well-formed account address.
	ValidAddress(addr string) bool
}
