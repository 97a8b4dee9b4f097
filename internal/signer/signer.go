// Package signer provides the scoped signing capability passed to state-changing adapter calls
package signer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// ErrReleased is returned when a signer is used after its key was wiped
var ErrReleased = errors.New("signer released")

// Signer signs transactions on behalf of one wallet
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySigner is a Signer backed by an in-memory private key
type KeySigner struct {
	mu      sync.Mutex
	key     *ecdsa.PrivateKey
	address common.Address
}

// FromHexKey builds a signer from a hex-encoded secp256k1 private key
func FromHexKey(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return FromKey(key), nil
}

// FromKey wraps an existing private key
func FromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the wallet address derived from the key
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx signs a transaction with the latest signer for the chain
func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return nil, ErrReleased
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Release zeroes the key material. The signer is unusable afterwards.
func (s *KeySigner) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.key == nil {
		return
	}
	s.key.D.SetInt64(0)
	s.key = nil
}

// Released reports whether Release was called
func (s *KeySigner) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key == nil
}

// WithKey runs fn with a signer built from hexKey and wipes the key when fn returns
func WithKey(hexKey string, fn func(Signer) error) error {
	s, err := FromHexKey(hexKey)
	if err != nil {
		return err
	}
	defer func() {
		s.Release()
		logrus.WithField("wallet", s.Address().Hex()).Debug("Signing key released")
	}()

	return fn(s)
}
