// Package types contains shared type definitions used across multiple packages
package types

import "time"

// ChainID is the decimal EVM chain identifier, e.g. "1" for Ethereum mainnet
type ChainID = string

// Supported blockchain networks
const (
	ChainEthereum ChainID = "1"
	ChainPolygon  ChainID = "137"
	ChainArbitrum ChainID = "42161"
)

// ChainNames maps chain ids to the names used by external data feeds
var ChainNames = map[ChainID]string{
	ChainEthereum: "ethereum",
	ChainPolygon:  "polygon",
	ChainArbitrum: "arbitrum",
}

// ChainConfig holds configuration for a specific blockchain network
type ChainConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	Name        string `json:"name" mapstructure:"name"`
	RPCEndpoint string `json:"rpc_endpoint" mapstructure:"rpc_endpoint"`

	// BlockTime and BlocksPerDay describe the chain's cadence; BlocksPerDay wins when both are set
	BlockTime    time.Duration `json:"block_time" mapstructure:"block_time"`
	BlocksPerDay uint64        `json:"blocks_per_day" mapstructure:"blocks_per_day"`

	NativeSymbol   string `json:"native_symbol" mapstructure:"native_symbol"`
	NativeDecimals int32  `json:"native_decimals" mapstructure:"native_decimals"`

	// Upstream RPC budget shared by every adapter on this chain
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst"`
}

// DailyBlocks returns the number of blocks the chain produces per day
func (c ChainConfig) DailyBlocks() uint64 {
	if c.BlocksPerDay > 0 {
		return c.BlocksPerDay
	}
	if c.BlockTime > 0 {
		return uint64((24 * time.Hour) / c.BlockTime)
	}
	return 0
}

// DefaultChains mirrors the public chain table the adapters were first deployed against
func DefaultChains() map[ChainID]ChainConfig {
	return map[ChainID]ChainConfig{
		ChainEthereum: {
			Enabled:           true,
			Name:              "ethereum",
			RPCEndpoint:       "https://eth.llamarpc.com",
			BlockTime:         13 * time.Second,
			BlocksPerDay:      6570,
			NativeSymbol:      "ETH",
			NativeDecimals:    18,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		ChainPolygon: {
			Enabled:           true,
			Name:              "polygon",
			RPCEndpoint:       "https://polygon-rpc.com",
			BlockTime:         2 * time.Second,
			BlocksPerDay:      43200,
			NativeSymbol:      "MATIC",
			NativeDecimals:    18,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		ChainArbitrum: {
			Enabled:           true,
			Name:              "arbitrum",
			RPCEndpoint:       "https://arb1.arbitrum.io/rpc",
			BlockTime:         500 * time.Millisecond,
			BlocksPerDay:      175000,
			NativeSymbol:      "ETH",
			NativeDecimals:    18,
			RequestsPerSecond: 10,
			Burst:             20,
		},
	}
}
