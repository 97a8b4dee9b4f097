package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/TadashiJei/OrbitYield/internal/types"
)

// Protocol names used as registry keys
const (
	ProtocolCompound = "compound"
	ProtocolAave     = "aave-v3"
	ProtocolLido     = "lido"
)

// ProtocolConfig describes where a protocol is deployed
type ProtocolConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Contracts maps chain id -> contract role -> address,
	// e.g. {"1": {"comptroller": "0x3d98..."}}
	Contracts map[types.ChainID]map[string]string `json:"contracts" mapstructure:"contracts"`

	// Version is carried into opportunity metadata
	Version string `json:"version" mapstructure:"version"`
}

// Chains returns the chain ids this protocol is deployed on
func (p ProtocolConfig) Chains() []types.ChainID {
	chains := make([]types.ChainID, 0, len(p.Contracts))
	for chainID := range p.Contracts {
		chains = append(chains, chainID)
	}
	return chains
}

// Address returns the contract address registered for a role on a chain
func (p ProtocolConfig) Address(chainID types.ChainID, role string) (string, bool) {
	contracts, ok := p.Contracts[chainID]
	if !ok {
		return "", false
	}
	addr, ok := contracts[role]
	return addr, ok && addr != ""
}

// AppConfig holds the chain and protocol deployment tables
type AppConfig struct {
	Chains    map[types.ChainID]types.ChainConfig `json:"chains" mapstructure:"chains"`
	Protocols map[string]ProtocolConfig           `json:"protocols" mapstructure:"protocols"`
}

// EnabledChains returns only the chains marked as enabled
func (c *AppConfig) EnabledChains() map[types.ChainID]types.ChainConfig {
	chains := make(map[types.ChainID]types.ChainConfig)
	for chainID, chainConfig := range c.Chains {
		if chainConfig.Enabled {
			chains[chainID] = chainConfig
		}
	}
	return chains
}

// DefaultAppConfig returns the built-in deployment tables
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Chains: types.DefaultChains(),
		Protocols: map[string]ProtocolConfig{
			ProtocolCompound: {
				Enabled: true,
				Version: "v2",
				Contracts: map[types.ChainID]map[string]string{
					types.ChainEthereum: {"comptroller": "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B"},
				},
			},
			ProtocolAave: {
				Enabled: true,
				Version: "v3",
				Contracts: map[types.ChainID]map[string]string{
					types.ChainEthereum: {
						"pool":               "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
						"rewards_controller": "0x8164Cc65827dcFe994AB23944CBC90e0aa80bFcb",
					},
					types.ChainPolygon: {
						"pool":               "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
						"rewards_controller": "0x929EC64c34a17401F460460D4B9390518E5B473e",
					},
					types.ChainArbitrum: {
						"pool":               "0x794a61358D6845594F94dc1DB02A252b5b4814aD",
						"rewards_controller": "0x929EC64c34a17401F460460D4B9390518E5B473e",
					},
				},
			},
			ProtocolLido: {
				Enabled: true,
				Version: "v2",
				Contracts: map[types.ChainID]map[string]string{
					types.ChainEthereum: {
						"steth":            "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84",
						"withdrawal_queue": "0x889edC2eDab5f40e902b864aD4d7AdE8E412F9B1",
					},
				},
			},
		},
	}
}

// LoadAppConfig loads chain and protocol tables from a YAML/JSON file.
// An empty path yields the defaults. Environment overrides are applied in both cases.
func LoadAppConfig(configPath string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetEnvPrefix("ORBIT")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		loaded := &AppConfig{}
		if err := v.Unmarshal(loaded); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		// A file section replaces the built-in table wholesale
		if len(loaded.Chains) > 0 {
			cfg.Chains = loaded.Chains
		}
		if len(loaded.Protocols) > 0 {
			cfg.Protocols = loaded.Protocols
		}
		logrus.Infof("Loaded deployment configuration from %s", configPath)
	}

	cfg = applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every enabled protocol points at a configured chain
func (c *AppConfig) Validate() error {
	for name, protocol := range c.Protocols {
		if !protocol.Enabled {
			continue
		}
		for chainID := range protocol.Contracts {
			if _, ok := c.Chains[chainID]; !ok {
				return fmt.Errorf("protocol %s references unknown chain %s", name, chainID)
			}
		}
	}
	return nil
}

// applyEnvOverrides applies per-chain environment overrides such as CHAIN_1_RPC_ENDPOINT
func applyEnvOverrides(cfg *AppConfig) *AppConfig {
	for chainID, chainConfig := range cfg.Chains {
		envPrefix := "CHAIN_" + strings.ToUpper(chainID) + "_"

		if endpoint := os.Getenv(envPrefix + "RPC_ENDPOINT"); endpoint != "" {
			chainConfig.RPCEndpoint = endpoint
		}
		chainConfig.Enabled = GetEnvAsBool(envPrefix+"ENABLED", chainConfig.Enabled)
		chainConfig.RequestsPerSecond = GetEnvAsFloat(envPrefix+"RPS", chainConfig.RequestsPerSecond)
		chainConfig.Burst = GetEnvAsInt(envPrefix+"BURST", chainConfig.Burst)

		cfg.Chains[chainID] = chainConfig
	}

	for name, protocol := range cfg.Protocols {
		envKey := "PROTOCOL_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_ENABLED"
		protocol.Enabled = GetEnvAsBool(envKey, protocol.Enabled)
		cfg.Protocols[name] = protocol
	}

	return cfg
}
