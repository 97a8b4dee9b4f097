// Package executor runs the approve-then-act transaction pipeline shared by all adapters.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/contracts"
	"github.com/TadashiJei/OrbitYield/internal/metrics"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/otel"
	"github.com/TadashiJei/OrbitYield/internal/signer"
)

// Default gas limits
const (
	DefaultApprovalGasLimit = 100_000
	DefaultActionGasLimit   = 250_000
)

// Config tunes gas defaults and confirmation waiting
type Config struct {
	ApprovalGasLimit uint64
	DefaultGasLimit  uint64
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ApprovalGasLimit: DefaultApprovalGasLimit,
		DefaultGasLimit:  DefaultActionGasLimit,
		ConfirmTimeout:   2 * time.Minute,
		PollInterval:     2 * time.Second,
	}
}

// Approval describes the ERC20 allowance a call needs. A zero token address
// denotes the native currency, which needs no approval.
type Approval struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Request is one state-changing operation
type Request struct {
	ChainID   string
	Operation string
	Backend   chain.Backend
	Signer    signer.Signer
	Approval  *Approval
	Call      chain.TxRequest
	RetryOf   string
	Payload   map[string]string
}

// Outcome records every result and stage of one Execute call
type Outcome struct {
	Approval *model.TransactionResult `json:"approval,omitempty"`
	Result   model.TransactionResult  `json:"result"`
	Stages   []model.Stage            `json:"stages"`
}

// Skipped builds an outcome for an operation that needed no transaction
func Skipped(result model.TransactionResult) *Outcome {
	return &Outcome{Result: result, Stages: []model.Stage{model.StageInit}}
}

// Executor submits transactions and waits for their receipts
type Executor struct {
	cfg Config
}

// New creates an executor, filling zero config values with defaults
func New(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.ApprovalGasLimit == 0 {
		cfg.ApprovalGasLimit = def.ApprovalGasLimit
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = def.DefaultGasLimit
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = def.ConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Executor{cfg: cfg}
}

// Execute runs INIT → [APPROVING → APPROVAL_CONFIRMED] → SUBMITTING → SUBMITTED →
// CONFIRMED | FAILED | PENDING. The outcome is returned even when err is non-nil.
// Nothing here resubmits a transaction; only receipt reads are repeated.
func (e *Executor) Execute(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := otel.StartSpan(ctx, "executor."+req.Operation, req.ChainID, "")
	defer span.End()

	out := &Outcome{}
	e.advance(out, req, model.StageInit)

	log := logrus.WithFields(logrus.Fields{
		"chain":     req.ChainID,
		"operation": req.Operation,
		"wallet":    req.Signer.Address().Hex(),
	})

	if req.Approval != nil && req.Approval.Token != (common.Address{}) {
		if err := e.approve(ctx, req, out, log); err != nil {
			otel.RecordError(ctx, err)
			return out, err
		}
	}

	out.Result = model.NewTransactionResult(req.Operation, req.ChainID, req.RetryOf)
	out.Result.Payload = copyPayload(req.Payload)

	call := req.Call
	if call.GasLimit == 0 {
		call.GasLimit = e.cfg.DefaultGasLimit
	}

	e.advance(out, req, model.StageSubmitting)
	tx, err := chain.Send(ctx, req.Backend, req.Signer, call)
	if err != nil {
		e.advance(out, req, model.StageFailed)
		out.Result.Status = model.TxFailed
		out.Result.Message = err.Error()
		stageErr := &model.StageError{Stage: model.StageSubmitting, Err: fmt.Errorf("%w: %v", model.ErrSubmissionFailed, err)}
		otel.RecordError(ctx, stageErr)
		return out, stageErr
	}
	out.Result.Hash = tx.Hash().Hex()
	e.advance(out, req, model.StageSubmitted)
	log.WithField("tx", out.Result.Hash).Info("Transaction submitted")

	receipt, confirmed := e.wait(ctx, req, tx.Hash())
	if !confirmed {
		e.advance(out, req, model.StagePending)
		out.Result.Status = model.TxPending
		out.Result.Message = "transaction submitted, confirmation pending"
		log.WithField("tx", out.Result.Hash).Warn("Confirmation wait ended without receipt")
		return out, nil
	}

	chain.ApplyReceipt(&out.Result, receipt)
	if out.Result.Status != model.TxSuccess {
		e.advance(out, req, model.StageFailed)
		out.Result.Message = "transaction reverted"
		stageErr := &model.StageError{Stage: model.StageSubmitted, TxHash: out.Result.Hash, Err: model.ErrSubmissionFailed}
		otel.RecordError(ctx, stageErr)
		return out, stageErr
	}

	e.advance(out, req, model.StageConfirmed)
	log.WithFields(logrus.Fields{"tx": out.Result.Hash, "block": out.Result.BlockNumber}).Info("Transaction confirmed")
	return out, nil
}

func (e *Executor) approve(ctx context.Context, req Request, out *Outcome, log *logrus.Entry) error {
	token := chain.NewContract(req.Backend, req.Approval.Token, contracts.ERC20)
	owner := req.Signer.Address()

	allowance, err := token.CallBigInt(ctx, "allowance", owner, req.Approval.Spender)
	if err != nil {
		return e.approvalFailed(out, req, nil, err)
	}
	if allowance.Cmp(req.Approval.Amount) >= 0 {
		log.Debug("Allowance sufficient, skipping approval")
		return nil
	}

	e.advance(out, req, model.StageApproving)

	result := model.NewTransactionResult("approve", req.ChainID, "")
	out.Approval = &result

	data, err := token.Pack("approve", req.Approval.Spender, math.MaxBig256)
	if err != nil {
		return e.approvalFailed(out, req, &result, err)
	}

	tx, err := chain.Send(ctx, req.Backend, req.Signer, chain.TxRequest{
		To:       req.Approval.Token,
		Data:     data,
		GasLimit: e.cfg.ApprovalGasLimit,
		GasPrice: req.Call.GasPrice,
	})
	if err != nil {
		return e.approvalFailed(out, req, &result, err)
	}
	result.Hash = tx.Hash().Hex()
	log.WithField("tx", result.Hash).Info("Approval submitted")

	receipt, confirmed := e.wait(ctx, req, tx.Hash())
	if !confirmed {
		e.advance(out, req, model.StagePending)
		result.Status = model.TxPending
		result.Message = "approval submitted, confirmation pending"
		return &model.StageError{Stage: model.StageApproving, TxHash: result.Hash, Err: model.ErrPending}
	}

	chain.ApplyReceipt(&result, receipt)
	if result.Status != model.TxSuccess {
		e.advance(out, req, model.StageFailed)
		result.Message = "approval reverted"
		return &model.StageError{Stage: model.StageApproving, TxHash: result.Hash, Err: model.ErrApprovalFailed}
	}

	e.advance(out, req, model.StageApprovalConfirmed)
	return nil
}

// approvalFailed closes the outcome for an approval that never reached the chain
func (e *Executor) approvalFailed(out *Outcome, req Request, result *model.TransactionResult, err error) error {
	e.advance(out, req, model.StageFailed)
	if result != nil {
		result.Status = model.TxFailed
		result.Message = err.Error()
	}
	return &model.StageError{Stage: model.StageApproving, Err: fmt.Errorf("%w: %v", model.ErrApprovalFailed, err)}
}

// wait polls for a receipt with exponential backoff until the confirmation
// timeout. Any error while waiting is reported as unconfirmed.
func (e *Executor) wait(ctx context.Context, req Request, hash common.Hash) (*ethtypes.Receipt, bool) {
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.PollInterval
	policy.MaxInterval = e.cfg.PollInterval * 8

	receipt, err := backoff.Retry(waitCtx, func() (*ethtypes.Receipt, error) {
		return req.Backend.TransactionReceipt(waitCtx, hash)
	}, backoff.WithBackOff(policy), backoff.WithMaxElapsedTime(e.cfg.ConfirmTimeout))
	if err != nil || receipt == nil {
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logrus.WithError(err).WithField("tx", hash.Hex()).Debug("Receipt wait failed")
		}
		return nil, false
	}

	metrics.ConfirmationLatency.WithLabelValues(req.ChainID, req.Operation).Observe(time.Since(start).Seconds())
	return receipt, true
}

func (e *Executor) advance(out *Outcome, req Request, stage model.Stage) {
	out.Stages = append(out.Stages, stage)
	metrics.StageTransitions.WithLabelValues(req.ChainID, req.Operation, string(stage)).Inc()
}

func copyPayload(payload map[string]string) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	return out
}
