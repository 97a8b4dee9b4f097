package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

// limitedBackend charges every RPC against a per-chain token bucket
type limitedBackend struct {
	Backend
	limiter *rate.Limiter
}

func newLimitedBackend(backend Backend, rps float64, burst int) Backend {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &limitedBackend{
		Backend: backend,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func unwrap(backend Backend) Backend {
	if lb, ok := backend.(*limitedBackend); ok {
		return lb.Backend
	}
	return backend
}

func (b *limitedBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Backend.CallContract(ctx, msg, blockNumber)
}

func (b *limitedBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return b.Backend.EstimateGas(ctx, msg)
}

func (b *limitedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Backend.SuggestGasPrice(ctx)
}

func (b *limitedBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	return b.Backend.SendTransaction(ctx, tx)
}

func (b *limitedBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return b.Backend.TransactionByHash(ctx, hash)
}

func (b *limitedBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Backend.TransactionReceipt(ctx, hash)
}

func (b *limitedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return b.Backend.PendingNonceAt(ctx, account)
}

func (b *limitedBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Backend.BalanceAt(ctx, account, blockNumber)
}

func (b *limitedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.Backend.ChainID(ctx)
}
