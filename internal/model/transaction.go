package model

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxStatus is the normalized outcome of a state-changing call
type TxStatus string

// Transaction statuses
const (
	TxSuccess       TxStatus = "success"
	TxFailed        TxStatus = "failed"
	TxPending       TxStatus = "pending"
	TxNotFound      TxStatus = "not_found"
	TxNotApplicable TxStatus = "not_applicable"
	TxNoRewards     TxStatus = "no_rewards"
)

// TransactionResult is produced exactly once per submission attempt.
// A deliberate retry by the caller produces a new result whose PriorAttemptID
// points at the earlier attempt.
type TransactionResult struct {
	AttemptID      string            `json:"attemptId"`
	PriorAttemptID string            `json:"priorAttemptId,omitempty"`
	Operation      string            `json:"operation"`
	ChainID        string            `json:"chainId"`
	Hash           string            `json:"transactionHash,omitempty"`
	BlockNumber    uint64            `json:"blockNumber,omitempty"`
	GasUsed        uint64            `json:"gasUsed,omitempty"`
	Status         TxStatus          `json:"status"`
	Message        string            `json:"message,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
	SubmittedAt    time.Time         `json:"submittedAt"`
}

// NewTransactionResult starts a result for a new attempt
func NewTransactionResult(operation, chainID, priorAttemptID string) TransactionResult {
	return TransactionResult{
		AttemptID:      uuid.NewString(),
		PriorAttemptID: priorAttemptID,
		Operation:      operation,
		ChainID:        chainID,
		SubmittedAt:    time.Now().UTC(),
	}
}

// NotApplicable builds a result for an operation that needs no transaction
func NotApplicable(operation, chainID, message string) TransactionResult {
	r := NewTransactionResult(operation, chainID, "")
	r.Status = TxNotApplicable
	r.Message = message
	return r
}

// GasEstimate is an ephemeral cost estimate for one call
type GasEstimate struct {
	GasUnits   uint64          `json:"gasEstimate"`
	GasPrice   *big.Int        `json:"gasPrice"`
	CostWei    *big.Int        `json:"costWei"`
	CostNative decimal.Decimal `json:"costNative"`
}

// BalanceSnapshot is the current value of an investment
type BalanceSnapshot struct {
	ReceiptBalance      *big.Int        `json:"receiptBalance"`
	Underlying          *big.Int        `json:"amount"`
	UnderlyingFormatted decimal.Decimal `json:"amountFormatted"`
	ValueUSD            decimal.Decimal `json:"amountUsd"`
}
