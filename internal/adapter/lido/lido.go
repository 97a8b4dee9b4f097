// Package lido integrates Lido stETH liquid staking.
package lido

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/adapter"
	"github.com/TadashiJei/OrbitYield/internal/apy"
	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/config"
	"github.com/TadashiJei/OrbitYield/internal/contracts"
	"github.com/TadashiJei/OrbitYield/internal/executor"
	"github.com/TadashiJei/OrbitYield/internal/fetch"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/price"
)

// Contract roles in the protocol config
const (
	RoleStETH           = "steth"
	RoleWithdrawalQueue = "withdrawal_queue"
)

// Methods EstimateGas understands
const (
	MethodSubmit             = "submit"
	MethodRequestWithdrawals = "requestWithdrawals"
)

const nativeAddress = "0x0000000000000000000000000000000000000000"

// Options wires the adapter to its collaborators
type Options struct {
	Provider *chain.Provider
	Executor *executor.Executor
	Feed     *fetch.LidoClient
	Prices   price.Oracle
	Protocol config.ProtocolConfig
}

// Adapter implements adapter.Adapter for Lido
type Adapter struct {
	provider *chain.Provider
	executor *executor.Executor
	feed     *fetch.LidoClient
	prices   price.Oracle
	protocol config.ProtocolConfig
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a Lido adapter
func New(opts Options) *Adapter {
	return &Adapter{
		provider: opts.Provider,
		executor: opts.Executor,
		feed:     opts.Feed,
		prices:   opts.Prices,
		protocol: opts.Protocol,
	}
}

// Name returns the protocol name
func (a *Adapter) Name() string {
	return config.ProtocolLido
}

// SupportsChain reports whether stETH is configured on a connected chain
func (a *Adapter) SupportsChain(chainID string) bool {
	if !a.protocol.Enabled || !a.provider.Supports(chainID) {
		return false
	}
	_, ok := a.protocol.Address(chainID, RoleStETH)
	return ok
}

func (a *Adapter) stETH(backend chain.Backend, chainID string) *chain.Contract {
	addr, _ := a.protocol.Address(chainID, RoleStETH)
	return chain.NewContract(backend, common.HexToAddress(addr), contracts.StETH)
}

func (a *Adapter) queue(backend chain.Backend, chainID string) (*chain.Contract, error) {
	addr, ok := a.protocol.Address(chainID, RoleWithdrawalQueue)
	if !ok {
		return nil, fmt.Errorf("no withdrawal queue on chain %s: %w", chainID, model.ErrNotApplicable)
	}
	return chain.NewContract(backend, common.HexToAddress(addr), contracts.WithdrawalQueue), nil
}

// GetYieldOpportunities yields the single stETH staking market
func (a *Adapter) GetYieldOpportunities(ctx context.Context, chainID string) iter.Seq[model.YieldOpportunity] {
	if !a.SupportsChain(chainID) {
		return adapter.Empty()
	}

	return adapter.Discovery[fetch.LidoAPR]{
		Protocol: a.Name(),
		ChainID:  chainID,
		Load: func(ctx context.Context) ([]fetch.LidoAPR, error) {
			apr, err := a.feed.APR(ctx)
			if err != nil {
				return nil, err
			}
			return []fetch.LidoAPR{apr}, nil
		},
		Build: func(ctx context.Context, apr fetch.LidoAPR) (model.YieldOpportunity, error) {
			return a.buildOpportunity(ctx, chainID, apr)
		},
		Key: func(fetch.LidoAPR) string { return "stETH" },
	}.Seq(ctx)
}

func (a *Adapter) buildOpportunity(ctx context.Context, chainID string, apr fetch.LidoAPR) (model.YieldOpportunity, error) {
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, chainID)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	stETH := a.stETH(backend, chainID)
	paused, err := stETH.CallBool(ctx, "isStakingPaused")
	if err != nil {
		return model.YieldOpportunity{}, fmt.Errorf("failed to read staking state: %w", err)
	}

	rates, err := bands(apr)
	if err != nil {
		return model.YieldOpportunity{}, err
	}

	status := model.StatusActive
	if paused {
		status = model.StatusPaused
	}

	opp := model.YieldOpportunity{
		ID:       model.OpportunityID(a.Name(), chainID, stETH.Address().Hex()),
		Protocol: a.Name(),
		Name:     "Lido Staked " + cfg.NativeSymbol,
		Asset: model.Asset{
			Address:  nativeAddress,
			Symbol:   cfg.NativeSymbol,
			Name:     "Ether",
			Decimals: cfg.NativeDecimals,
		},
		ChainID:  chainID,
		APY:      rates,
		Risk:     model.RiskMedium,
		Strategy: model.StrategyStaking,
		Implementation: model.Implementation{
			ContractAddress: stETH.Address().Hex(),
			Adapter:         a.Name(),
			DepositMethod:   MethodSubmit,
			WithdrawMethod:  MethodRequestWithdrawals,
			ExtraData: map[string]string{
				"receiptToken": "stETH",
				"version":      a.protocol.Version,
			},
		},
		Fees: model.Fees{DepositFee: decimal.Zero, WithdrawalFee: decimal.Zero},
		Capabilities: model.Capabilities{
			Harvestable:     false,
			Compoundable:    false,
			Autocompounding: true,
		},
		Liquidity: model.LiquidityProfile{WithdrawalWindow: "withdrawal queue"},
		Status:    status,
		Tags:      []string{"staking", "liquid-staking", "lido"},
	}
	if queue, ok := a.protocol.Address(chainID, RoleWithdrawalQueue); ok {
		opp.Implementation.ExtraData["withdrawalQueue"] = common.HexToAddress(queue).Hex()
	}

	opp.TVLUSD, err = a.GetTvl(ctx, opp)
	if err != nil {
		logrus.WithError(err).Warn("Lido TVL unavailable")
		opp.TVLUSD = decimal.Zero
	}
	return adapter.Stamp(opp), nil
}

// bands measures the 7d/30d bands from the feed's daily samples. Without samples
// the spread policy is used.
func bands(apr fetch.LidoAPR) (model.APY, error) {
	current, err := apy.FromAPRPercent(apr.SMA, apy.EpochsPerYear)
	if err != nil {
		return model.APY{}, err
	}
	if len(apr.Samples) == 0 {
		return apy.EstimateBands(current), nil
	}

	var newest int64
	for _, s := range apr.Samples {
		newest = max(newest, s.TimeUnix)
	}

	min7, mean7, max7, ok7 := window(apr.Samples, newest, 7)
	min30, mean30, max30, ok30 := window(apr.Samples, newest, 30)
	if !ok7 || !ok30 {
		return apy.EstimateBands(current), nil
	}

	return model.APY{
		Current: current,
		Min7d:   min7,
		Mean7d:  mean7,
		Max7d:   max7,
		Min30d:  min30,
		Mean30d: mean30,
		Max30d:  max30,
	}, nil
}

func window(samples []fetch.APRSample, newest int64, days int) (lo, mean, hi float64, ok bool) {
	since := newest - int64((time.Duration(days)*24*time.Hour)/time.Second)
	var sum float64
	var n int
	for _, s := range samples {
		if s.TimeUnix <= since {
			continue
		}
		v, err := apy.FromAPRPercent(s.APR, apy.EpochsPerYear)
		if err != nil {
			continue
		}
		if n == 0 || v < lo {
			lo = v
		}
		if n == 0 || v > hi {
			hi = v
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, 0, 0, false
	}
	return lo, sum / float64(n), hi, true
}

// GetApyData compounds the feed's moving-average APR per beacon epoch
func (a *Adapter) GetApyData(ctx context.Context, opp model.YieldOpportunity) (model.APY, error) {
	if !a.SupportsChain(opp.ChainID) {
		return model.APY{}, model.UnsupportedChainError(a.Name(), opp.ChainID)
	}
	apr, err := a.feed.APR(ctx)
	if err != nil {
		return model.APY{}, err
	}
	return bands(apr)
}

// GetTvl values the total pooled ether at the native price
func (a *Adapter) GetTvl(ctx context.Context, opp model.YieldOpportunity) (decimal.Decimal, error) {
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return decimal.Zero, err
	}

	pooled, err := a.stETH(backend, opp.ChainID).CallBigInt(ctx, "getTotalPooledEther")
	if err != nil {
		return decimal.Zero, err
	}
	usd, err := a.prices.PriceUSD(ctx, opp.ChainID, nativeAddress)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FormatUnits(pooled, cfg.NativeDecimals).Mul(usd), nil
}

// Deposit stakes native currency via submit. No approval is needed.
func (a *Adapter) Deposit(ctx context.Context, opp model.YieldOpportunity, params adapter.DepositParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}

	stETH := a.stETH(backend, opp.ChainID)
	paused, err := stETH.CallBool(ctx, "isStakingPaused")
	if err != nil {
		return nil, fmt.Errorf("failed to read staking state: %w", err)
	}
	if paused {
		return nil, fmt.Errorf("lido staking is paused: %w", model.ErrNotApplicable)
	}

	data, err := stETH.Pack(MethodSubmit, common.Address{})
	if err != nil {
		return nil, err
	}
	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "deposit",
		Backend:   backend,
		Signer:    params.Signer,
		Call:      adapter.Call(stETH.Address(), data, params.Amount, params.TxParams),
		RetryOf:   params.RetryOf,
		Payload:   map[string]string{"amount": params.Amount.String()},
	})
}

// Withdraw queues an unstaking request. The queue pulls stETH from the signer,
// so it needs an allowance; amounts above the per-request maximum are split.
// A receipt-denominated amount is in stETH shares and is converted first.
func (a *Adapter) Withdraw(ctx context.Context, inv model.Investment, params adapter.WithdrawParams) (*executor.Outcome, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	opp := inv.Opportunity
	backend, _, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return nil, err
	}
	queue, err := a.queue(backend, opp.ChainID)
	if err != nil {
		return nil, err
	}

	stETH := a.stETH(backend, opp.ChainID)
	amount := params.Amount
	if params.RedeemType == adapter.RedeemReceipt {
		amount, err = stETH.CallBigInt(ctx, "getPooledEthByShares", params.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to convert shares to stETH: %w", err)
		}
	}

	minAmount, err := queue.CallBigInt(ctx, "MIN_STETH_WITHDRAWAL_AMOUNT")
	if err != nil {
		return nil, err
	}
	maxAmount, err := queue.CallBigInt(ctx, "MAX_STETH_WITHDRAWAL_AMOUNT")
	if err != nil {
		return nil, err
	}
	amounts, err := split(amount, minAmount, maxAmount)
	if err != nil {
		return nil, err
	}

	owner := params.Signer.Address()
	data, err := queue.Pack(MethodRequestWithdrawals, amounts, owner)
	if err != nil {
		return nil, err
	}

	payload := map[string]string{
		"amount":   amount.String(),
		"requests": fmt.Sprint(len(amounts)),
	}
	if params.RedeemType == adapter.RedeemReceipt {
		payload["shares"] = params.Amount.String()
	}

	return a.executor.Execute(ctx, executor.Request{
		ChainID:   opp.ChainID,
		Operation: "withdraw",
		Backend:   backend,
		Signer:    params.Signer,
		Approval: &executor.Approval{
			Token:   stETH.Address(),
			Spender: queue.Address(),
			Amount:  amount,
		},
		Call:    adapter.Call(queue.Address(), data, nil, params.TxParams),
		RetryOf: params.RetryOf,
		Payload: payload,
	})
}

// split breaks amount into requests of at most maxAmount. Every request,
// including the remainder, must reach minAmount.
func split(amount, minAmount, maxAmount *big.Int) ([]*big.Int, error) {
	if amount.Cmp(minAmount) < 0 {
		return nil, fmt.Errorf("amount %s below minimum withdrawal %s: %w", amount, minAmount, model.ErrInvalidParams)
	}
	if maxAmount.Sign() <= 0 {
		return []*big.Int{new(big.Int).Set(amount)}, nil
	}

	var out []*big.Int
	rest := new(big.Int).Set(amount)
	for rest.Cmp(maxAmount) > 0 {
		out = append(out, new(big.Int).Set(maxAmount))
		rest.Sub(rest, maxAmount)
	}
	if rest.Cmp(minAmount) < 0 {
		return nil, fmt.Errorf("remainder %s below minimum withdrawal %s: %w", rest, minAmount, model.ErrInvalidParams)
	}
	return append(out, rest), nil
}

// Harvest is not applicable: staking rewards rebase into stETH balances
func (a *Adapter) Harvest(ctx context.Context, inv model.Investment, params adapter.TxParams) (*executor.Outcome, error) {
	if !a.SupportsChain(inv.Opportunity.ChainID) {
		return nil, model.UnsupportedChainError(a.Name(), inv.Opportunity.ChainID)
	}
	return adapter.NotApplicable("harvest", inv.Opportunity.ChainID, "staking rewards rebase into stETH"), nil
}

// Compound is not applicable for the same reason
func (a *Adapter) Compound(ctx context.Context, inv model.Investment, params adapter.TxParams) (*executor.Outcome, error) {
	if !a.SupportsChain(inv.Opportunity.ChainID) {
		return nil, model.UnsupportedChainError(a.Name(), inv.Opportunity.ChainID)
	}
	return adapter.NotApplicable("compound", inv.Opportunity.ChainID, "staking rewards rebase into stETH"), nil
}

// GetBalance reads stETH balance and shares. One stETH is redeemable for one ether.
func (a *Adapter) GetBalance(ctx context.Context, inv model.Investment) (model.BalanceSnapshot, error) {
	opp := inv.Opportunity
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, opp.ChainID)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	holder, err := adapter.Holder(inv)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	stETH := a.stETH(backend, opp.ChainID)
	balance, err := stETH.CallBigInt(ctx, "balanceOf", holder)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}
	shares, err := stETH.CallBigInt(ctx, "sharesOf", holder)
	if err != nil {
		return model.BalanceSnapshot{}, err
	}

	snap := model.BalanceSnapshot{
		ReceiptBalance:      shares,
		Underlying:          balance,
		UnderlyingFormatted: chain.FormatUnits(balance, cfg.NativeDecimals),
		ValueUSD:            decimal.Zero,
	}
	usd, err := a.prices.PriceUSD(ctx, opp.ChainID, nativeAddress)
	if err != nil {
		logrus.WithError(err).Warn("No native price for stETH valuation")
		return snap, nil
	}
	snap.ValueUSD = snap.UnderlyingFormatted.Mul(usd)
	return snap, nil
}

// GetTransactionStatus looks a transaction up on the chain
func (a *Adapter) GetTransactionStatus(ctx context.Context, chainID string, txHash string) (model.TransactionResult, error) {
	if !a.SupportsChain(chainID) {
		return model.TransactionResult{}, model.UnsupportedChainError(a.Name(), chainID)
	}
	return adapter.TransactionStatus(ctx, a.provider, chainID, txHash)
}

// ValidateAddress accepts any non-zero hex address
func (a *Adapter) ValidateAddress(_ model.YieldOpportunity, address string) bool {
	return adapter.IsValidAddress(address)
}

// EstimateGas estimates submit or requestWithdrawals
func (a *Adapter) EstimateGas(ctx context.Context, chainID string, method string, params adapter.GasParams) (model.GasEstimate, error) {
	backend, cfg, err := adapter.Resolve(ctx, a, a.provider, chainID)
	if err != nil {
		return model.GasEstimate{}, err
	}
	amount := params.Amount
	if amount == nil {
		amount = new(big.Int)
	}

	var gas uint64
	switch method {
	case MethodSubmit:
		gas, err = a.stETH(backend, chainID).EstimateGas(ctx, params.From, amount, method, common.Address{})
	case MethodRequestWithdrawals:
		queue, qerr := a.queue(backend, chainID)
		if qerr != nil {
			return model.GasEstimate{}, qerr
		}
		gas, err = queue.EstimateGas(ctx, params.From, nil, method, []*big.Int{amount}, params.From)
	default:
		return model.GasEstimate{}, fmt.Errorf("lido: %s: %w", method, model.ErrUnsupportedMethod)
	}
	if err != nil {
		return model.GasEstimate{}, err
	}
	return adapter.GasCost(ctx, backend, gas, cfg.NativeDecimals)
}
