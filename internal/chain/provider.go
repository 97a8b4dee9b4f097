// Package chain manages rate-limited connections to EVM chains and typed contract access.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/types"
)

// Backend is the subset of an Ethereum JSON-RPC client the adapters use.
// *ethclient.Client satisfies it.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	ethereum.TransactionReader
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dialer opens a backend for an RPC endpoint
type Dialer func(ctx context.Context, endpoint string) (Backend, error)

// DialEthclient is the default Dialer
func DialEthclient(ctx context.Context, endpoint string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Provider hands out one shared, rate-limited backend per configured chain
type Provider struct {
	mu       sync.Mutex
	chains   map[types.ChainID]types.ChainConfig
	backends map[types.ChainID]Backend
	dial     Dialer
}

// Option configures a Provider
type Option func(*Provider)

// WithDialer replaces the ethclient dialer
func WithDialer(dial Dialer) Option {
	return func(p *Provider) {
		p.dial = dial
	}
}

// WithBackend installs a pre-built backend for a chain. It is still rate limited.
func WithBackend(chainID types.ChainID, backend Backend) Option {
	return func(p *Provider) {
		if cfg, ok := p.chains[chainID]; ok {
			p.backends[chainID] = newLimitedBackend(backend, cfg.RequestsPerSecond, cfg.Burst)
		}
	}
}

// NewProvider creates a provider for the given chain table
func NewProvider(chains map[types.ChainID]types.ChainConfig, opts ...Option) *Provider {
	p := &Provider{
		chains:   make(map[types.ChainID]types.ChainConfig, len(chains)),
		backends: make(map[types.ChainID]Backend),
		dial:     DialEthclient,
	}
	for chainID, cfg := range chains {
		p.chains[chainID] = cfg
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Supports reports whether the chain is configured
func (p *Provider) Supports(chainID types.ChainID) bool {
	_, ok := p.chains[chainID]
	return ok
}

// Config returns the configuration of a chain
func (p *Provider) Config(chainID types.ChainID) (types.ChainConfig, error) {
	cfg, ok := p.chains[chainID]
	if !ok {
		return types.ChainConfig{}, model.UnsupportedChainError("chain provider", chainID)
	}
	return cfg, nil
}

// Chains returns the configured chain ids in ascending order
func (p *Provider) Chains() []types.ChainID {
	chains := make([]types.ChainID, 0, len(p.chains))
	for chainID := range p.chains {
		chains = append(chains, chainID)
	}
	sort.Strings(chains)
	return chains
}

// Backend returns the connection for a chain, dialling it on first use
func (p *Provider) Backend(ctx context.Context, chainID types.ChainID) (Backend, error) {
	cfg, err := p.Config(chainID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if backend, ok := p.backends[chainID]; ok {
		return backend, nil
	}

	raw, err := p.dial(ctx, cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %s: %w", chainID, err)
	}

	backend := newLimitedBackend(raw, cfg.RequestsPerSecond, cfg.Burst)
	p.backends[chainID] = backend

	logrus.WithFields(logrus.Fields{
		"chain":    chainID,
		"name":     cfg.Name,
		"rps":      cfg.RequestsPerSecond,
		"endpoint": cfg.RPCEndpoint,
	}).Info("Connected to chain")

	return backend, nil
}

// Close closes every dialled connection
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for chainID, backend := range p.backends {
		if closer, ok := unwrap(backend).(interface{ Close() }); ok {
			closer.Close()
		}
		delete(p.backends, chainID)
	}
}
