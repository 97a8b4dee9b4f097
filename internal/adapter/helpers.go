package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/executor"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/types"
)

func invalidParams(msg string) error {
	return fmt.Errorf("%s: %w", msg, model.ErrInvalidParams)
}

// IsValidAddress reports whether s is a non-zero hex address
func IsValidAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	return common.HexToAddress(s) != (common.Address{})
}

// SameAddress compares two hex addresses case-insensitively
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// TransactionStatus is the shared GetTransactionStatus implementation
func TransactionStatus(ctx context.Context, provider *chain.Provider, chainID, txHash string) (model.TransactionResult, error) {
	backend, err := provider.Backend(ctx, chainID)
	if err != nil {
		return model.TransactionResult{}, err
	}
	if len(strings.TrimPrefix(txHash, "0x")) != 2*common.HashLength {
		return model.TransactionResult{}, invalidParams("malformed transaction hash")
	}
	return chain.Status(ctx, backend, chainID, common.HexToHash(txHash))
}

// GasCost turns a gas estimate into a model.GasEstimate using the node's gas price
func GasCost(ctx context.Context, backend chain.Backend, gas uint64, nativeDecimals int32) (model.GasEstimate, error) {
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return model.GasEstimate{}, fmt.Errorf("failed to get gas price: %w", err)
	}
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gas))
	return model.GasEstimate{
		GasUnits:   gas,
		GasPrice:   gasPrice,
		CostWei:    cost,
		CostNative: chain.FormatUnits(cost, nativeDecimals),
	}, nil
}

// Call builds the executor call for a packed method, applying caller overrides
func Call(to common.Address, data []byte, value *big.Int, p TxParams) chain.TxRequest {
	return chain.TxRequest{
		To:       to,
		Data:     data,
		Value:    value,
		GasLimit: p.GasLimit,
		GasPrice: p.GasPrice,
	}
}

// NotApplicable builds the outcome of an operation a market does not support
func NotApplicable(operation, chainID, message string) *executor.Outcome {
	return executor.Skipped(model.NotApplicable(operation, chainID, message))
}

// NoRewards builds the outcome of a harvest with nothing to claim
func NoRewards(chainID, message string) *executor.Outcome {
	r := model.NewTransactionResult("harvest", chainID, "")
	r.Status = model.TxNoRewards
	r.Message = message
	return executor.Skipped(r)
}

// Resolve returns the shared backend and chain config for a chain the adapter
// supports, or model.ErrUnsupportedChain
func Resolve(ctx context.Context, a Adapter, provider *chain.Provider, chainID string) (chain.Backend, types.ChainConfig, error) {
	if !a.SupportsChain(chainID) {
		return nil, types.ChainConfig{}, model.UnsupportedChainError(a.Name(), chainID)
	}
	cfg, err := provider.Config(chainID)
	if err != nil {
		return nil, types.ChainConfig{}, err
	}
	backend, err := provider.Backend(ctx, chainID)
	if err != nil {
		return nil, types.ChainConfig{}, err
	}
	return backend, cfg, nil
}

// Holder parses an investment's wallet address
func Holder(inv model.Investment) (common.Address, error) {
	if !IsValidAddress(inv.WalletAddress) {
		return common.Address{}, invalidParams("invalid wallet address " + inv.WalletAddress)
	}
	return common.HexToAddress(inv.WalletAddress), nil
}

// AssetAddress returns the ERC20 address of an opportunity's asset, or the zero
// address for the native currency
func AssetAddress(opp model.YieldOpportunity) common.Address {
	if opp.IsNative() {
		return common.Address{}
	}
	return common.HexToAddress(opp.Asset.Address)
}
