package executor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/chain/chaintest"
	"github.com/TadashiJei/OrbitYield/internal/contracts"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/signer"
)

var (
	tokenAddr  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	marketAddr = common.HexToAddress("0x5d3a536E4D6DbD6114cc1Ead35777bAB948E3643")
)

type fixture struct {
	backend *chaintest.Backend
	token   *chaintest.Contract
	market  *chaintest.Contract
	signer  *signer.KeySigner
	exec    *Executor

	mu        sync.Mutex
	allowance *big.Int
}

func newFixture(t *testing.T, allowance int64) *fixture {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &fixture{
		backend:   chaintest.NewBackend(1),
		signer:    signer.FromKey(key),
		allowance: big.NewInt(allowance),
		exec: New(Config{
			ConfirmTimeout: 50 * time.Millisecond,
			PollInterval:   5 * time.Millisecond,
		}),
	}

	f.token = f.backend.Deploy(tokenAddr, contracts.ERC20).
		On("allowance", func([]interface{}) ([]interface{}, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return []interface{}{new(big.Int).Set(f.allowance)}, nil
		}).
		OnSend("approve", func(_ common.Address, _ *big.Int, args []interface{}) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.allowance = args[1].(*big.Int)
		})
	f.market = f.backend.Deploy(marketAddr, contracts.CToken)
	return f
}

func (f *fixture) depositRequest(t *testing.T, amount int64) Request {
	t.Helper()
	data, err := chain.NewContract(f.backend, marketAddr, contracts.CToken).Pack("mint", big.NewInt(amount))
	require.NoError(t, err)
	return Request{
		ChainID:   "1",
		Operation: "deposit",
		Backend:   f.backend,
		Signer:    f.signer,
		Approval:  &Approval{Token: tokenAddr, Spender: marketAddr, Amount: big.NewInt(amount)},
		Call:      chain.TxRequest{To: marketAddr, Data: data},
		Payload:   map[string]string{"amount": "1000"},
	}
}

func TestExecuteFullStageSequence(t *testing.T) {
	f := newFixture(t, 0)

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.NoError(t, err)

	assert.Equal(t, []model.Stage{
		model.StageInit,
		model.StageApproving,
		model.StageApprovalConfirmed,
		model.StageSubmitting,
		model.StageSubmitted,
		model.StageConfirmed,
	}, out.Stages)

	require.NotNil(t, out.Approval)
	assert.Equal(t, model.TxSuccess, out.Approval.Status)
	assert.Equal(t, model.TxSuccess, out.Result.Status)
	assert.NotEqual(t, out.Approval.AttemptID, out.Result.AttemptID)
	assert.Equal(t, "1000", out.Result.Payload["amount"])
	assert.Equal(t, []string{"approve", "mint"}, f.backend.SentMethods())

	sent := f.backend.Sent()
	assert.Equal(t, uint64(DefaultApprovalGasLimit), sent[0].Tx.Gas())
	assert.Equal(t, uint64(DefaultActionGasLimit), sent[1].Tx.Gas())
	assert.Equal(t, 0, sent[0].Args[1].(*big.Int).Cmp(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))))
}

func TestExecuteApprovalCount(t *testing.T) {
	tests := []struct {
		name      string
		allowance int64
		approvals int
	}{
		{name: "insufficient allowance approves once", allowance: 999, approvals: 1},
		{name: "sufficient allowance skips approval", allowance: 1000, approvals: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.allowance)

			out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
			require.NoError(t, err)
			assert.Equal(t, model.TxSuccess, out.Result.Status)

			approvals := 0
			for _, method := range f.backend.SentMethods() {
				if method == "approve" {
					approvals++
				}
			}
			assert.Equal(t, tt.approvals, approvals)
			assert.Equal(t, tt.approvals == 1, out.Approval != nil)
		})
	}
}

func TestExecuteNativeAssetSkipsApproval(t *testing.T) {
	f := newFixture(t, 0)
	f.token.Fails("allowance")

	req := f.depositRequest(t, 1000)
	req.Approval = &Approval{Spender: marketAddr, Amount: big.NewInt(1000)}

	out, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, out.Approval)
	assert.Equal(t, []string{"mint"}, f.backend.SentMethods())
	assert.NotContains(t, out.Stages, model.StageApproving)
}

func TestExecuteApprovalFailureStopsPipeline(t *testing.T) {
	f := newFixture(t, 0)
	f.token.Revert("approve")

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrApprovalFailed)

	var stageErr *model.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.StageApproving, stageErr.Stage)
	assert.NotEmpty(t, stageErr.TxHash)

	assert.Equal(t, []string{"approve"}, f.backend.SentMethods())
	require.NotNil(t, out.Approval)
	assert.Equal(t, model.TxFailed, out.Approval.Status)
	assert.Equal(t, model.StageFailed, out.Stages[len(out.Stages)-1])
}

func TestExecuteApprovalErrorsEndInFailed(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture)
		sent  bool
	}{
		{
			name:  "allowance read fails",
			setup: func(f *fixture) { f.token.Fails("allowance") },
		},
		{
			name:  "approval send fails",
			setup: func(f *fixture) { f.backend.SendErr = errors.New("nonce too low") },
			sent:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 0)
			tc.setup(f)

			out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrApprovalFailed)

			var stageErr *model.StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, model.StageApproving, stageErr.Stage)

			require.NotEmpty(t, out.Stages)
			assert.Equal(t, model.StageFailed, out.Stages[len(out.Stages)-1])
			assert.Empty(t, f.backend.SentMethods())
			if tc.sent {
				require.NotNil(t, out.Approval)
				assert.Equal(t, model.TxFailed, out.Approval.Status)
				assert.Contains(t, out.Approval.Message, "nonce too low")
			} else {
				assert.Nil(t, out.Approval)
			}
		})
	}
}

func TestExecuteApprovalTimeoutIsPending(t *testing.T) {
	f := newFixture(t, 0)
	f.token.Stall("approve")

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPending)
	require.NotNil(t, out.Approval)
	assert.Equal(t, model.TxPending, out.Approval.Status)
	assert.Equal(t, []string{"approve"}, f.backend.SentMethods())
}

func TestExecuteConfirmationTimeoutIsPending(t *testing.T) {
	f := newFixture(t, 1000)
	f.market.Stall("mint")

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, out.Result.Status)
	assert.NotEmpty(t, out.Result.Hash)
	assert.Equal(t, model.StagePending, out.Stages[len(out.Stages)-1])
	assert.Equal(t, []string{"mint"}, f.backend.SentMethods())
}

func TestExecuteReceiptErrorIsPending(t *testing.T) {
	f := newFixture(t, 1000)
	f.backend.ReceiptErr = errors.New("rpc unavailable")

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.NoError(t, err)
	assert.Equal(t, model.TxPending, out.Result.Status)
	assert.Len(t, f.backend.Sent(), 1)
}

func TestExecuteRevertedAction(t *testing.T) {
	f := newFixture(t, 1000)
	f.market.Revert("mint")

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
	assert.Equal(t, model.TxFailed, out.Result.Status)
	assert.Len(t, f.backend.Sent(), 1)
}

func TestExecuteSendFailure(t *testing.T) {
	f := newFixture(t, 1000)
	f.backend.SendErr = errors.New("nonce too low")

	out, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)

	var stageErr *model.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, model.StageSubmitting, stageErr.Stage)
	assert.Equal(t, model.TxFailed, out.Result.Status)
}

func TestExecuteRetryLinksPriorAttempt(t *testing.T) {
	f := newFixture(t, 1000)

	first, err := f.exec.Execute(context.Background(), f.depositRequest(t, 1000))
	require.NoError(t, err)

	req := f.depositRequest(t, 1000)
	req.RetryOf = first.Result.AttemptID
	second, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Result.AttemptID, second.Result.PriorAttemptID)
	assert.NotEqual(t, first.Result.AttemptID, second.Result.AttemptID)
}

func TestExecuteCallerGasOverrides(t *testing.T) {
	f := newFixture(t, 1000)

	req := f.depositRequest(t, 1000)
	req.Call.GasLimit = 300_000
	req.Call.GasPrice = big.NewInt(7)

	_, err := f.exec.Execute(context.Background(), req)
	require.NoError(t, err)

	sent := f.backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(300_000), sent[0].Tx.Gas())
	assert.Equal(t, int64(7), sent[0].Tx.GasPrice().Int64())
}
