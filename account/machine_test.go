package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

func newTestPair(t *testing.T) (left, right *Machine) {
	t.Helper()
	provider := xsig.NewDevProvider()
	leftEntity := xtypes.EntityID{1}
	rightEntity := xtypes.EntityID{2}
	_, err := provider.Register("left")
	require.NoError(t, err)
	_, err = provider.Register("right")
	require.NoError(t, err)

	l := New(leftEntity, rightEntity, provider, "left", "right", nil)
	r := New(rightEntity, leftEntity, provider, "right", "left", nil)
	require.True(t, l.IsLeft())
	require.False(t, r.IsLeft())
	return l, r
}

func seedCollateral(t *testing.T, m *Machine, tokenID xtypes.TokenID, amount int64) {
	t.Helper()
	require.NoError(t, m.EnqueueAccountTx(AccountTx{
		Kind: TxJSync,
		JSync: &JSyncTx{
			TokenID:    tokenID,
			Collateral: xtypes.FromInt64(amount),
			Ondelta:    xtypes.Zero(),
		},
	}))
}

func TestProposeAndReceiveFrameCommitsBothSides(t *testing.T) {
	left, right := newTestPair(t)
	seedCollateral(t, left, 1, 1000)

	input, err := left.ProposeFrame(1000, 0)
	require.NoError(t, err)
	require.NotNil(t, input)
	require.Equal(t, uint64(1), left.SendCounter)

	ack, events, err := right.ReceiveAccountInput(*input, 1001)
	require.NoError(t, err)
	require.Nil(t, events)
	require.NotNil(t, ack)
	require.Equal(t, uint64(1), right.CurrentHeight)

	_, _, err = left.ReceiveAccountInput(*ack, 1002)
	require.NoError(t, err)
	require.Equal(t, uint64(1), left.CurrentHeight)
	require.Nil(t, left.PendingFrame)

	require.True(t, left.deltas[1].Collateral.Cmp(xtypes.FromInt64(1000)) == 0)
	require.True(t, right.deltas[1].Collateral.Cmp(xtypes.FromInt64(1000)) == 0)
}

func TestReceiveAccountInputRejectsBadCounter(t *testing.T) {
	left, right := newTestPair(t)
	seedCollateral(t, left, 1, 1000)

	input, err := left.ProposeFrame(1000, 0)
	require.NoError(t, err)
	input.Counter = 5

	_, _, err = right.ReceiveAccountInput(*input, 1001)
	require.Error(t, err)
}

func TestConflictingProposalsResolveToCanonicalLeft(t *testing.T) {
	left, right := newTestPair(t)
	seedCollateral(t, left, 1, 1000)
	seedCollateral(t, right, 1, 1000)

	leftInput, err := left.ProposeFrame(1000, 0)
	require.NoError(t, err)
	_, err = right.ProposeFrame(1000, 0)
	require.NoError(t, err)
	require.NotNil(t, right.PendingFrame)

	// right receives left's competing proposal at the same height: right
	// rolls its own pending frame back into its mempool and applies left's.
	ack, _, err := right.ReceiveAccountInput(*leftInput, 1001)
	require.NoError(t, err)
	require.NotNil(t, ack)
	require.Equal(t, 1, right.RollbackCount)
	require.Equal(t, uint64(1), right.CurrentHeight)
}

func TestHtlcLockRevealSettlesPayment(t *testing.T) {
	left, right := newTestPair(t)
	seedCollateral(t, left, 1, 1000)

	input, err := left.ProposeFrame(1000, 0)
	require.NoError(t, err)
	ack, _, err := right.ReceiveAccountInput(*input, 1001)
	require.NoError(t, err)
	_, _, err = left.ReceiveAccountInput(*ack, 1002)
	require.NoError(t, err)

	secret := []byte("preimage")
	hashlock := xhash.H(secret)
	require.NoError(t, left.EnqueueAccountTx(AccountTx{
		Kind: TxHtlcLock,
		HtlcLock: &HtlcLockTx{
			LockID:   "lock-1",
			TokenID:  1,
			Amount:   xtypes.FromInt64(100),
			Hashlock: hashlock,
			Timelock: 10,
			FromLeft: true,
		},
	}))

	input2, err := left.ProposeFrame(2000, 0)
	require.NoError(t, err)
	ack2, events, err := right.ReceiveAccountInput(*input2, 2001)
	require.NoError(t, err)
	require.Nil(t, events)
	_, _, err = left.ReceiveAccountInput(*ack2, 2002)
	require.NoError(t, err)

	require.True(t, right.locks["lock-1"].Amount.Cmp(xtypes.FromInt64(100)) == 0)

	require.NoError(t, right.EnqueueAccountTx(AccountTx{
		Kind:       TxHtlcReveal,
		HtlcReveal: &HtlcRevealTx{LockID: "lock-1", Secret: secret},
	}))
	input3, err := right.ProposeFrame(3000, 0)
	require.NoError(t, err)
	ack3, events3, err := left.ReceiveAccountInput(*input3, 3001)
	require.NoError(t, err)
	require.Len(t, events3, 1)
	require.Equal(t, EventHtlcRevealed, events3[0].Kind)
	_, _, err = right.ReceiveAccountInput(*ack3, 3002)
	require.NoError(t, err)

	_, ok := left.locks["lock-1"]
	require.False(t, ok)
	require.True(t, left.deltas[1].Offdelta.Cmp(xtypes.FromInt64(-100)) == 0)
}
