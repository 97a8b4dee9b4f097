// Package model defines the canonical data structures shared by every protocol adapter.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is an ordinal risk classification; higher is riskier
type RiskLevel int

// Risk levels
const (
	RiskLow RiskLevel = iota + 1
	RiskMedium
	RiskHigh
)

// String returns the lower-case name of the risk level
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText encodes the risk level by name
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// StrategyType describes how an opportunity generates yield
type StrategyType string

// Strategy types
const (
	StrategyLending   StrategyType = "lending"
	StrategyLiquidity StrategyType = "liquidity"
	StrategyStaking   StrategyType = "staking"
)

// OpportunityStatus is the lifecycle status of a market
type OpportunityStatus string

// Opportunity statuses
const (
	StatusActive     OpportunityStatus = "active"
	StatusPaused     OpportunityStatus = "paused"
	StatusDeprecated OpportunityStatus = "deprecated"
)

// Asset identifies the underlying token of a market.
// The zero address denotes the chain's native currency.
type Asset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Decimals int32  `json:"decimals"`
}

// APY holds annualized yields as percentages (5.0 means 5%).
// When Estimated is true the 7d/30d bands were derived from Current with a fixed
// spread policy rather than measured from historical samples.
type APY struct {
	Current   float64 `json:"current"`
	Min7d     float64 `json:"min7d"`
	Mean7d    float64 `json:"mean7d"`
	Max7d     float64 `json:"max7d"`
	Min30d    float64 `json:"min30d"`
	Mean30d   float64 `json:"mean30d"`
	Max30d    float64 `json:"max30d"`
	Estimated bool    `json:"estimated"`
}

// Implementation describes the contract entry points used to transact with a market
type Implementation struct {
	ContractAddress string            `json:"contractAddress"`
	ApprovalAddress string            `json:"approvalAddress"`
	Adapter         string            `json:"adapter"`
	DepositMethod   string            `json:"methodName"`
	WithdrawMethod  string            `json:"withdrawMethodName"`
	ExtraData       map[string]string `json:"extraData,omitempty"`
}

// Fees are fractions of the amount moved (0.001 = 0.1%)
type Fees struct {
	DepositFee    decimal.Decimal `json:"depositFee"`
	WithdrawalFee decimal.Decimal `json:"withdrawalFee"`
}

// Capabilities flags the optional operations a market supports
type Capabilities struct {
	Harvestable     bool `json:"harvestable"`
	Compoundable    bool `json:"compoundable"`
	Autocompounding bool `json:"autocompounding"`
}

// LiquidityProfile describes how quickly a position can be exited
type LiquidityProfile struct {
	LockTime         time.Duration `json:"lockTime"`
	WithdrawalWindow string        `json:"withdrawalWindow"`
	UnlockTime       *time.Time    `json:"unlockTime"`
}

// YieldOpportunity is the canonical snapshot of one investable market.
// It must not be mutated once handed to the registry.
type YieldOpportunity struct {
	ID             string            `json:"id"`
	Protocol       string            `json:"protocol"`
	Name           string            `json:"name"`
	Asset          Asset             `json:"asset"`
	ChainID        string            `json:"chainId"`
	APY            APY               `json:"apy"`
	TVLUSD         decimal.Decimal   `json:"tvlUsd"`
	Risk           RiskLevel         `json:"riskLevel"`
	Strategy       StrategyType      `json:"strategyType"`
	Implementation Implementation    `json:"implementationDetails"`
	Fees           Fees              `json:"fees"`
	Capabilities   Capabilities      `json:"capabilities"`
	Liquidity      LiquidityProfile  `json:"liquidityProfile"`
	Status         OpportunityStatus `json:"status"`
	Tags           []string          `json:"tags,omitempty"`
	DiscoveredAt   time.Time         `json:"discoveredAt"`
}

// OpportunityID builds the stable identity of a market
func OpportunityID(protocol, chainID, marketAddress string) string {
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(protocol), chainID, strings.ToLower(marketAddress))
}

// IsNative reports whether the underlying asset is the chain's native currency
func (o YieldOpportunity) IsNative() bool {
	return IsNativeAsset(o.Asset.Address)
}

// IsNativeAsset reports whether an asset address denotes the native currency
func IsNativeAsset(address string) bool {
	trimmed := strings.TrimLeft(strings.TrimPrefix(strings.ToLower(address), "0x"), "0")
	return trimmed == ""
}
