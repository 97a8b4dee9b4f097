package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract gives typed read and estimate access to one deployed contract
type Contract struct {
	address common.Address
	abi     abi.ABI
	backend Backend
}

// NewContract binds an ABI to an address on a backend
func NewContract(backend Backend, address common.Address, contractABI abi.ABI) *Contract {
	return &Contract{
		address: address,
		abi:     contractABI,
		backend: backend,
	}
}

// Address returns the contract address
func (c *Contract) Address() common.Address {
	return c.address
}

// Pack encodes a method call
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

// Call executes a read-only call against the latest block and decodes its outputs
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	to := c.address
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s failed: %w", method, c.address.Hex(), err)
	}

	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

// CallBigInt calls a method returning a single integer
func (c *Contract) CallBigInt(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T, expected integer", method, out[0])
	}
	return value, nil
}

// CallAddress calls a method returning a single address
func (c *Contract) CallAddress(ctx context.Context, method string, args ...interface{}) (common.Address, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("%s returned no values", method)
	}
	value, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s returned %T, expected address", method, out[0])
	}
	return value, nil
}

// CallBool calls a method returning a single bool
func (c *Contract) CallBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	out, err := c.Call(ctx, method, args...)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, fmt.Errorf("%s returned no values", method)
	}
	value, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s returned %T, expected bool", method, out[0])
	}
	return value, nil
}

// CallDecimals reads an ERC20-style decimals() value
func (c *Contract) CallDecimals(ctx context.Context) (int32, error) {
	out, err := c.Call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("decimals returned no values")
	}
	value, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals returned %T, expected uint8", out[0])
	}
	return int32(value), nil
}

// EstimateGas estimates the gas needed for a method call sent from an address
func (c *Contract) EstimateGas(ctx context.Context, from common.Address, value *big.Int, method string, args ...interface{}) (uint64, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return 0, err
	}

	to := c.address
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
	}
	return gas, nil
}
