package reward

import (
	"fmt"
	"strings"
)

// Status is the issuance status of a RewardRecord.
type Status string

const (
	StatusPending          Status = "PENDING"
	StatusOffChainCredited Status = "OFF_CHAIN_CREDITED"
	StatusOnChainSubmitted Status = "ON_CHAIN_SUBMITTED"
	StatusOnChainConfirmed Status = "ON_CHAIN_CONFIRMED"
	StatusFailed           Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:          {StatusOffChainCredited, StatusOnChainSubmitted, StatusOnChainConfirmed, StatusFailed},
	StatusOnChainSubmitted: {StatusOnChainConfirmed, StatusFailed},
	StatusFailed:           {StatusPending, StatusOnChainConfirmed},
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusOffChainCredited || s == StatusOnChainConfirmed
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FailureKind classifies why a record ended up FAILED.
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureChainUnavailable FailureKind = "CHAIN_UNAVAILABLE"
	FailureChainRejected    FailureKind = "CHAIN_REJECTED"
	FailureInvalidAddress   FailureKind = "INVALID_ADDRESS"
)

// Mode is the issuance policy of the ledger.
type Mode string

const (
	ModeOffChainOnly Mode = "off-chain-only"
	ModeOnChain      Mode = "on-chain"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOffChainOnly:
		return ModeOffChainOnly, nil
	case ModeOnChain:
		return ModeOnChain, nil
	default:
		return "", fmt.Errorf("unknown reward mode %q (want %q or %q)", s, ModeOffChainOnly, ModeOnChain)
	}
}
