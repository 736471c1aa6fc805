package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xtypes"
)

func TestWithdrawalRequestRejectsDuplicateAndSelfApproval(t *testing.T) {
	left, right := newTestPair(t)
	seedCollateral(t, left, 1, 1000)

	input, err := left.ProposeFrame(1000, 0)
	require.NoError(t, err)
	ack, _, err := right.ReceiveAccountInput(*input, 1001)
	require.NoError(t, err)
	_, _, err = left.ReceiveAccountInput(*ack, 1002)
	require.NoError(t, err)

	require.NoError(t, left.RequestWithdrawal("w1", 1, xtypes.FromInt64(100)))
	require.Error(t, left.RequestWithdrawal("w1", 1, xtypes.FromInt64(50)))

	require.Error(t, left.ApproveWithdrawal("w1", []byte("sig")))
	require.NoError(t, right.RequestWithdrawal("w1-mirror", 1, xtypes.FromInt64(1)))

	pw := left.PendingWithdrawals["w1"]
	require.Equal(t, "w1", pw.WithdrawalID)
	require.False(t, pw.Approved)
}

func TestRequestWithdrawalRejectsOverOwnCollateralShare(t *testing.T) {
	left, right := newTestPair(t)
	seedCollateral(t, left, 1, 1000)

	input, err := left.ProposeFrame(1000, 0)
	require.NoError(t, err)
	ack, _, err := right.ReceiveAccountInput(*input, 1001)
	require.NoError(t, err)
	_, _, err = left.ReceiveAccountInput(*ack, 1002)
	require.NoError(t, err)

	err = left.RequestWithdrawal("w1", 1, xtypes.FromInt64(5000))
	require.Error(t, err)
}
