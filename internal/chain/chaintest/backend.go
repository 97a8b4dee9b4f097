// Package chaintest provides an in-memory chain backend for adapter and executor tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReverted is returned for calls to unknown contracts or methods
var ErrReverted = errors.New("execution reverted")

// Handler computes the outputs of a read-only call
type Handler func(args []interface{}) ([]interface{}, error)

// SendHook observes a mined transaction's decoded arguments
type SendHook func(from common.Address, value *big.Int, args []interface{})

// Contract is a programmable fake contract
type Contract struct {
	abi      abi.ABI
	handlers map[string]Handler
	hooks    map[string]SendHook
	reverts  map[string]bool
	pending  map[string]bool
	gas      map[string]uint64
}

// On installs a handler for a read-only method
func (c *Contract) On(method string, h Handler) *Contract {
	c.handlers[method] = h
	return c
}

// Returns installs a handler that always returns the given values
func (c *Contract) Returns(method string, values ...interface{}) *Contract {
	return c.On(method, func([]interface{}) ([]interface{}, error) {
		return values, nil
	})
}

// Fails makes a read-only method revert
func (c *Contract) Fails(method string) *Contract {
	return c.On(method, func([]interface{}) ([]interface{}, error) {
		return nil, ErrReverted
	})
}

// OnSend runs hook when a transaction calling method is mined successfully
func (c *Contract) OnSend(method string, hook SendHook) *Contract {
	c.hooks[method] = hook
	return c
}

// Revert makes transactions calling method mine with status 0
func (c *Contract) Revert(method string) *Contract {
	c.reverts[method] = true
	return c
}

// Stall leaves transactions calling method in the mempool forever
func (c *Contract) Stall(method string) *Contract {
	c.pending[method] = true
	return c
}

// Gas sets the gas estimate for a method
func (c *Contract) Gas(method string, gas uint64) *Contract {
	c.gas[method] = gas
	return c
}

// SentTx records a broadcast transaction
type SentTx struct {
	Tx     *types.Transaction
	From   common.Address
	To     common.Address
	Method string
	Args   []interface{}
}

// Backend implements chain.Backend in memory
type Backend struct {
	mu        sync.Mutex
	chainID   *big.Int
	gasPrice  *big.Int
	block     uint64
	contracts map[common.Address]*Contract
	balances  map[common.Address]*big.Int
	nonces    map[common.Address]uint64
	sent      []SentTx
	receipts  map[common.Hash]*types.Receipt
	known     map[common.Hash]*types.Transaction

	// SendErr makes every SendTransaction fail
	SendErr error
	// ReceiptErr makes every TransactionReceipt fail
	ReceiptErr error
	// DefaultGas is returned by EstimateGas when no per-method value is set
	DefaultGas uint64
}

// NewBackend creates an empty backend for a chain id
func NewBackend(chainID int64) *Backend {
	return &Backend{
		chainID:    big.NewInt(chainID),
		gasPrice:   big.NewInt(20_000_000_000),
		block:      100,
		contracts:  make(map[common.Address]*Contract),
		balances:   make(map[common.Address]*big.Int),
		nonces:     make(map[common.Address]uint64),
		receipts:   make(map[common.Hash]*types.Receipt),
		known:      make(map[common.Hash]*types.Transaction),
		DefaultGas: 120_000,
	}
}

// Deploy registers a fake contract at an address
func (b *Backend) Deploy(address common.Address, contractABI abi.ABI) *Contract {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &Contract{
		abi:      contractABI,
		handlers: make(map[string]Handler),
		hooks:    make(map[string]SendHook),
		reverts:  make(map[string]bool),
		pending:  make(map[string]bool),
		gas:      make(map[string]uint64),
	}
	b.contracts[address] = c
	return c
}

// SetGasPrice changes the suggested gas price
func (b *Backend) SetGasPrice(price *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gasPrice = price
}

// SetBalance sets the native balance of an account
func (b *Backend) SetBalance(account common.Address, balance *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[account] = balance
}

// Sent returns every broadcast transaction in order
func (b *Backend) Sent() []SentTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentTx(nil), b.sent...)
}

// SentMethods returns the method names of broadcast transactions in order
func (b *Backend) SentMethods() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	methods := make([]string, 0, len(b.sent))
	for _, s := range b.sent {
		methods = append(methods, s.Method)
	}
	return methods
}

func (b *Backend) decode(to *common.Address, data []byte) (*Contract, *abi.Method, []interface{}, error) {
	if to == nil {
		return nil, nil, nil, fmt.Errorf("contract creation not supported: %w", ErrReverted)
	}
	c, ok := b.contracts[*to]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no contract at %s: %w", to.Hex(), ErrReverted)
	}
	if len(data) < 4 {
		return nil, nil, nil, fmt.Errorf("missing selector: %w", ErrReverted)
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%v: %w", err, ErrReverted)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bad calldata for %s: %w", method.Name, err)
	}
	return c, method, args, nil
}

// CallContract dispatches to the installed read handler
func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	c, method, args, err := b.decode(msg.To, msg.Data)
	var handler Handler
	if err == nil {
		handler = c.handlers[method.Name]
	}
	b.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, fmt.Errorf("no handler for %s: %w", method.Name, ErrReverted)
	}

	values, err := handler(args)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(values...)
}

// EstimateGas returns the per-method or default estimate
func (b *Backend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.To != nil {
		if _, ok := b.contracts[*msg.To]; !ok {
			return 21_000, nil
		}
	}
	c, method, _, err := b.decode(msg.To, msg.Data)
	if err != nil {
		return 0, err
	}
	if c.reverts[method.Name] {
		return 0, fmt.Errorf("%s: %w", method.Name, ErrReverted)
	}
	if gas, ok := c.gas[method.Name]; ok {
		return gas, nil
	}
	return b.DefaultGas, nil
}

// SuggestGasPrice returns the configured gas price
func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.gasPrice), nil
}

// SendTransaction records the transaction and mines it immediately unless stalled
func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()

	if b.SendErr != nil {
		b.mu.Unlock()
		return b.SendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(b.chainID), tx)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("invalid signature: %w", err)
	}

	c, method, args, err := b.decode(tx.To(), tx.Data())
	if err != nil {
		b.mu.Unlock()
		return err
	}

	b.nonces[from] = tx.Nonce() + 1
	b.sent = append(b.sent, SentTx{Tx: tx, From: from, To: *tx.To(), Method: method.Name, Args: args})
	b.known[tx.Hash()] = tx

	if c.pending[method.Name] {
		b.mu.Unlock()
		return nil
	}

	b.block++
	status := types.ReceiptStatusSuccessful
	if c.reverts[method.Name] {
		status = types.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(b.block),
		GasUsed:     tx.Gas() / 2,
	}
	hook := c.hooks[method.Name]
	b.mu.Unlock()

	if hook != nil && status == types.ReceiptStatusSuccessful {
		hook(from, tx.Value(), args)
	}
	return nil
}

// TransactionByHash returns a broadcast transaction
func (b *Backend) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, ok := b.known[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := b.receipts[hash]
	return tx, !mined, nil
}

// TransactionReceipt returns the receipt of a mined transaction
func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ReceiptErr != nil {
		return nil, b.ReceiptErr
	}
	receipt, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// PendingNonceAt returns the next nonce for an account
func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

// BalanceAt returns the native balance of an account
func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if balance, ok := b.balances[account]; ok {
		return new(big.Int).Set(balance), nil
	}
	return new(big.Int), nil
}

// ChainID returns the configured chain id
func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}
