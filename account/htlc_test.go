package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

func TestHtlcLockHoldsAmountAndRejectsDuplicateLockID(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d

	lock := &HtlcLockTx{
		LockID: "l1", TokenID: 1, Amount: xtypes.FromInt64(200),
		Hashlock: xhash.H([]byte("secret")), Timelock: 50, FromLeft: true,
	}
	require.NoError(t, applyHtlcLock(state, lock))
	require.True(t, state.deltas[1].LeftHtlcHold.Cmp(xtypes.FromInt64(200)) == 0)

	require.Error(t, applyHtlcLock(state, lock))
}

func TestHtlcRevealRejectsWrongPreimage(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d
	require.NoError(t, applyHtlcLock(state, &HtlcLockTx{
		LockID: "l1", TokenID: 1, Amount: xtypes.FromInt64(200),
		Hashlock: xhash.H([]byte("secret")), Timelock: 50, FromLeft: true,
	}))

	_, _, err := applyHtlcReveal(state, &HtlcRevealTx{LockID: "l1", Secret: []byte("wrong")})
	require.Error(t, err)
	kind, ok := xerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, xerrors.HtlcHashMismatch, kind)
}

func TestHtlcTimeoutBeforeTimelockFails(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d
	require.NoError(t, applyHtlcLock(state, &HtlcLockTx{
		LockID: "l1", TokenID: 1, Amount: xtypes.FromInt64(200),
		Hashlock: xhash.H([]byte("secret")), Timelock: 50, RevealBeforeHeight: 50, FromLeft: true,
	}))

	_, _, err := applyHtlcTimeout(state, &HtlcTimeoutTx{LockID: "l1"}, 10)
	require.Error(t, err)
}

func TestHtlcTimeoutReleasesHoldAfterExpiry(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d
	require.NoError(t, applyHtlcLock(state, &HtlcLockTx{
		LockID: "l1", TokenID: 1, Amount: xtypes.FromInt64(200),
		Hashlock: xhash.H([]byte("secret")), Timelock: 50, RevealBeforeHeight: 50, FromLeft: true,
	}))

	_, events, err := applyHtlcTimeout(state, &HtlcTimeoutTx{LockID: "l1"}, 60)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, EventHtlcTimedOut, events[0].Kind)
	require.True(t, state.deltas[1].LeftHtlcHold.IsZero())
	_, ok := state.locks["l1"]
	require.False(t, ok)
}

func TestMatchesSecret(t *testing.T) {
	secret := []byte("s3cr3t")
	require.True(t, matchesSecret(xhash.H(secret), secret))
	require.False(t, matchesSecret(xhash.H(secret), []byte("other")))
}
