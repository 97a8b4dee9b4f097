package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/signer"
)

// TxRequest is an unsigned state-changing call
type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

// Send signs and broadcasts a legacy transaction. A nil gas price is filled from
// the node's suggestion.
func Send(ctx context.Context, backend Backend, s signer.Signer, req TxRequest) (*ethtypes.Transaction, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	nonce, err := backend.PendingNonceAt(ctx, s.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}

	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice, err = backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	to := req.To
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      req.GasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := s.SignTx(tx, chainID)
	if err != nil {
		return nil, err
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed, nil
}

// Status looks up a transaction and maps it to not_found, pending, success or failed
func Status(ctx context.Context, backend Backend, chainID string, hash common.Hash) (model.TransactionResult, error) {
	result := model.NewTransactionResult("status", chainID, "")
	result.Hash = hash.Hex()

	receipt, err := backend.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		ApplyReceipt(&result, receipt)
		return result, nil
	case !errors.Is(err, ethereum.NotFound):
		return result, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	_, _, err = backend.TransactionByHash(ctx, hash)
	switch {
	case err == nil:
		result.Status = model.TxPending
		result.Message = "transaction is pending"
	case errors.Is(err, ethereum.NotFound):
		result.Status = model.TxNotFound
		result.Message = "transaction not found"
	default:
		return result, fmt.Errorf("failed to fetch transaction: %w", err)
	}
	return result, nil
}

// ApplyReceipt copies the mined outcome of a receipt into a result
func ApplyReceipt(result *model.TransactionResult, receipt *ethtypes.Receipt) {
	result.Hash = receipt.TxHash.Hex()
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	result.GasUsed = receipt.GasUsed
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		result.Status = model.TxSuccess
	} else {
		result.Status = model.TxFailed
	}
	if result.Payload == nil {
		result.Payload = map[string]string{}
	}
	result.Payload["blockNumber"] = strconv.FormatUint(result.BlockNumber, 10)
}

// FormatUnits converts a base-unit amount into a decimal with the token's precision
func FormatUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// ParseUnits converts a decimal token amount into base units, truncating extra precision
func ParseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}
