// Package adapter defines the uniform contract every protocol integration implements,
// the registry that routes to them, and the helpers they share.
package adapter

import (
	"context"
	"iter"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/TadashiJei/OrbitYield/internal/executor"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/signer"
)

// Adapter is a protocol integration. Every method taking a chain id returns
// model.ErrUnsupportedChain for chains the adapter is not configured for,
// except GetYieldOpportunities which yields nothing.
type Adapter interface {
	Name() string
	SupportsChain(chainID string) bool

	// GetYieldOpportunities returns a lazy, finite, single-use sequence.
	// Failing markets are logged and skipped.
	GetYieldOpportunities(ctx context.Context, chainID string) iter.Seq[model.YieldOpportunity]
	GetApyData(ctx context.Context, opp model.YieldOpportunity) (model.APY, error)
	GetTvl(ctx context.Context, opp model.YieldOpportunity) (decimal.Decimal, error)

	Deposit(ctx context.Context, opp model.YieldOpportunity, params DepositParams) (*executor.Outcome, error)
	Withdraw(ctx context.Context, inv model.Investment, params WithdrawParams) (*executor.Outcome, error)
	Harvest(ctx context.Context, inv model.Investment, params TxParams) (*executor.Outcome, error)
	Compound(ctx context.Context, inv model.Investment, params TxParams) (*executor.Outcome, error)

	GetBalance(ctx context.Context, inv model.Investment) (model.BalanceSnapshot, error)
	GetTransactionStatus(ctx context.Context, chainID string, txHash string) (model.TransactionResult, error)
	ValidateAddress(opp model.YieldOpportunity, address string) bool
	EstimateGas(ctx context.Context, chainID string, method string, params GasParams) (model.GasEstimate, error)
}

// TxParams carries the per-call signing capability and gas overrides.
// Adapters never retain the signer beyond the call.
type TxParams struct {
	Signer   signer.Signer
	GasPrice *big.Int
	GasLimit uint64

	// RetryOf is the attempt id of an earlier result this call deliberately retries
	RetryOf string
}

// DepositParams is a deposit of Amount base units of the opportunity's asset
type DepositParams struct {
	TxParams
	Amount *big.Int
}

// RedeemType selects the unit of a withdrawal amount
type RedeemType string

// Redeem types
const (
	RedeemUnderlying RedeemType = "underlying"
	RedeemReceipt    RedeemType = "receipt"
)

// WithdrawParams is a withdrawal of Amount, denominated per RedeemType
type WithdrawParams struct {
	TxParams
	Amount     *big.Int
	RedeemType RedeemType
}

// GasParams describes a call to estimate
type GasParams struct {
	From     common.Address
	Contract string
	Asset    string
	Amount   *big.Int
}

// Validate checks the common transaction parameters
func (p TxParams) Validate() error {
	if p.Signer == nil {
		return invalidParams("signer is required")
	}
	return nil
}

// Validate checks deposit parameters
func (p DepositParams) Validate() error {
	if err := p.TxParams.Validate(); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return invalidParams("amount must be positive")
	}
	return nil
}

// Validate checks withdraw parameters
func (p WithdrawParams) Validate() error {
	if err := p.TxParams.Validate(); err != nil {
		return err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return invalidParams("amount must be positive")
	}
	switch p.RedeemType {
	case "", RedeemUnderlying, RedeemReceipt:
		return nil
	default:
		return invalidParams("unknown redeem type " + string(p.RedeemType))
	}
}
