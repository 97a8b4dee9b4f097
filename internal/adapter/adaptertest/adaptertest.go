// Package adaptertest wires protocol adapters to the in-memory chain backend.
package adaptertest

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/chain/chaintest"
	"github.com/TadashiJei/OrbitYield/internal/executor"
	"github.com/TadashiJei/OrbitYield/internal/signer"
	"github.com/TadashiJei/OrbitYield/internal/types"
)

// Env is one fake chain with a provider, executor and funded signer
type Env struct {
	ChainID  types.ChainID
	Backend  *chaintest.Backend
	Provider *chain.Provider
	Executor *executor.Executor
	Signer   *signer.KeySigner
}

// New builds an environment for one of the default chains. RPCs are not rate limited.
func New(t *testing.T, chainID types.ChainID) *Env {
	t.Helper()

	chains := types.DefaultChains()
	cfg, ok := chains[chainID]
	require.True(t, ok, "unknown chain %s", chainID)
	cfg.RequestsPerSecond = 0

	id, ok := new(big.Int).SetString(chainID, 10)
	require.True(t, ok)

	backend := chaintest.NewBackend(id.Int64())
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := signer.FromKey(key)
	backend.SetBalance(s.Address(), new(big.Int).Exp(big.NewInt(10), big.NewInt(21), nil))

	only := map[types.ChainID]types.ChainConfig{chainID: cfg}
	return &Env{
		ChainID:  chainID,
		Backend:  backend,
		Provider: chain.NewProvider(only, chain.WithBackend(chainID, backend)),
		Executor: executor.New(executor.Config{
			ConfirmTimeout: 50 * time.Millisecond,
			PollInterval:   5 * time.Millisecond,
		}),
		Signer: s,
	}
}

// Ether returns n whole units at 18 decimals
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}
