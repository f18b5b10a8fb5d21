package ethereum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"course_rewards/internal/domain/chain"
)

const revertPrefix = "execution reverted"

// classify maps go-ethereum and JSON-RPC errors onto the chain error kinds.
// Reverts and refused transactions become *chain.RejectedError, everything
// else is treated as the chain being unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, chain.ErrUnavailable, err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, revertPrefix):
		return fmt.Errorf("%s: %w", op, &chain.RejectedError{Reason: revertReason(msg)})
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "invalid sender"),
		strings.Contains(lower, "gas required exceeds allowance"),
		strings.Contains(lower, "intrinsic gas too low"):
		return fmt.Errorf("%s: %w", op, &chain.RejectedError{Reason: msg})
	default:
		return fmt.Errorf("%s: %w: %w", op, chain.ErrUnavailable, err)
	}
}

// revertReason extracts the contract's reason from
// "execution reverted: <reason>".
func revertReason(msg string) string {
	idx := strings.Index(strings.ToLower(msg), revertPrefix)
	if idx < 0 {
		return msg
	}
	reason := strings.TrimSpace(msg[idx+len(revertPrefix):])
	reason = strings.TrimPrefix(reason, ":")
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return revertPrefix
	}
	return reason
}
