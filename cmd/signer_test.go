package cmd

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amm-swap/pkg/chain"
)

func testSigner(t *testing.T, autoConfirm bool, answer bool) (*promptSigner, *int) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	asked := 0
	s := newPromptSigner(chain.NewKeySignerFromKey(key, big.NewInt(1337)), autoConfirm)
	s.ask = func(string) bool {
		asked++
		return answer
	}
	return s, &asked
}

func approveTx(t *testing.T) *types.Transaction {
	t.Helper()
	data, err := chain.ERC20ABI.Pack("approve", common.HexToAddress("0x01"), big.NewInt(1))
	require.NoError(t, err)
	to := common.HexToAddress("0x02")
	return types.NewTx(&types.LegacyTx{To: &to, Gas: 21000, GasPrice: big.NewInt(1), Data: data})
}

func TestPromptSigner_Declined(t *testing.T) {
	s, asked := testSigner(t, false, false)

	_, err := s.SignTx(context.Background(), approveTx(t))
	assert.ErrorIs(t, err, chain.ErrUserRejected)
	assert.Equal(t, 1, *asked)
	assert.True(t, chain.IsUserRejected(err))
}

func TestPromptSigner_Accepted(t *testing.T) {
	s, asked := testSigner(t, false, true)

	signed, err := s.SignTx(context.Background(), approveTx(t))
	require.NoError(t, err)
	assert.Equal(t, 1, *asked)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
}

func TestPromptSigner_AutoConfirmSkipsPrompt(t *testing.T) {
	s, asked := testSigner(t, true, false)

	_, err := s.SignTx(context.Background(), approveTx(t))
	require.NoError(t, err)
	assert.Zero(t, *asked)
}

func TestDescribeTx(t *testing.T) {
	assert.Equal(t, "approve", describeTx(approveTx(t)))

	to := common.HexToAddress("0x02")
	assert.Equal(t, "unknown", describeTx(types.NewTx(&types.LegacyTx{To: &to, Data: []byte{1, 2}})))
}
