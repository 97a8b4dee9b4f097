package model

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by adapters, executor and registry
var (
	ErrUnsupportedChain  = errors.New("unsupported chain")
	ErrUnknownProtocol   = errors.New("unknown protocol")
	ErrMarketUnlisted    = errors.New("market not listed")
	ErrFeedUnavailable   = errors.New("market data feed unavailable")
	ErrApprovalFailed    = errors.New("approval transaction failed")
	ErrSubmissionFailed  = errors.New("transaction submission failed")
	ErrPending           = errors.New("transaction outcome pending")
	ErrInvalidRate       = errors.New("invalid rate")
	ErrUnsupportedMethod = errors.New("unsupported method")
	ErrInvalidParams     = errors.New("invalid parameters")
	ErrNotApplicable     = errors.New("operation not applicable")
)

// Stage names the executor step at which a pipeline stopped
type Stage string

// Pipeline stages
const (
	StageInit              Stage = "INIT"
	StageApproving         Stage = "APPROVING"
	StageApprovalConfirmed Stage = "APPROVAL_CONFIRMED"
	StageSubmitting        Stage = "SUBMITTING"
	StageSubmitted         Stage = "SUBMITTED"
	StageConfirmed         Stage = "CONFIRMED"
	StageFailed            Stage = "FAILED"
	StagePending           Stage = "PENDING"
)

// StageError reports which stage of a transaction pipeline failed
type StageError struct {
	Stage  Stage
	TxHash string
	Err    error
}

func (e *StageError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s (tx %s): %v", e.Stage, e.TxHash, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// UnsupportedChainError wraps ErrUnsupportedChain with the offending chain id
func UnsupportedChainError(component, chainID string) error {
	return fmt.Errorf("%s: chain %s: %w", component, chainID, ErrUnsupportedChain)
}
