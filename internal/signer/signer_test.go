package signer

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyHex(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func TestFromHexKey(t *testing.T) {
	keyHex := testKeyHex(t)

	s, err := FromHexKey("0x" + keyHex)
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, s.Address())

	_, err = FromHexKey("not-a-key")
	assert.Error(t, err)
}

func TestSignTxRecoversSender(t *testing.T) {
	s, err := FromHexKey(testKeyHex(t))
	require.NoError(t, err)

	chainID := big.NewInt(1)
	to := common.HexToAddress("0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})

	signed, err := s.SignTx(tx, chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
}

func TestWithKeyReleasesKey(t *testing.T) {
	var captured *KeySigner

	err := WithKey(testKeyHex(t), func(s Signer) error {
		captured = s.(*KeySigner)
		assert.False(t, captured.Released())
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.True(t, captured.Released())

	to := common.Address{1}
	_, err = captured.SignTx(types.NewTx(&types.LegacyTx{To: &to, Gas: 21000, GasPrice: big.NewInt(1)}), big.NewInt(1))
	assert.ErrorIs(t, err, ErrReleased)
}
