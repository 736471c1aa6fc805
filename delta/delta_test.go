package delta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xtypes"
)

func mustLimit(t *testing.T, n int64) xtypes.Amount {
	t.Helper()
	a, err := xtypes.MustNonNegative(n)
	require.NoError(t, err)
	return a
}

func TestDeriveSymmetricCapacity(t *testing.T) {
	d := AddTokenIfMissing(1)
	d.Collateral = mustLimit(t, 1000)

	left := Derive(d, true)
	right := Derive(d, false)

	require.True(t, left.OutCapacity.Cmp(xtypes.FromInt64(1000)) == 0)
	require.True(t, right.OutCapacity.Cmp(xtypes.FromInt64(1000)) == 0)
}

func TestApplyPaymentMovesOffdelta(t *testing.T) {
	d := AddTokenIfMissing(1)
	d.Collateral = mustLimit(t, 1000)

	next, err := ApplyPayment(d, true, xtypes.FromInt64(100))
	require.NoError(t, err)
	require.True(t, next.Offdelta.Cmp(xtypes.FromInt64(-100)) == 0)
	require.True(t, next.Ondelta.IsZero())
	require.True(t, next.Collateral.Cmp(d.Collateral) == 0)
}

func TestApplyPaymentRejectsOverCapacity(t *testing.T) {
	d := AddTokenIfMissing(1)
	d.Collateral = mustLimit(t, 100)

	_, err := ApplyPayment(d, true, xtypes.FromInt64(101))
	require.Error(t, err)
	kind, ok := xerrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, xerrors.InsufficientCapacity, kind)
}

func TestCreditExtendsOutCapacity(t *testing.T) {
	d := AddTokenIfMissing(1)
	d.Collateral = mustLimit(t, 0)
	d.RightCreditLimit = mustLimit(t, 500) // extended to left's outgoing side

	left := Derive(d, true)
	require.True(t, left.OutCapacity.Cmp(xtypes.FromInt64(500)) == 0)
}

func TestCapacitySafetyRejectsOverdrawnHold(t *testing.T) {
	d := AddTokenIfMissing(1)
	d.Collateral = mustLimit(t, 100)
	d.LeftHtlcHold = mustLimit(t, 200)

	err := CheckCapacitySafety(d)
	require.Error(t, err)
}

func TestCapacitySafetyAcceptsWithinBounds(t *testing.T) {
	d := AddTokenIfMissing(1)
	d.Collateral = mustLimit(t, 100)
	d.LeftHtlcHold = mustLimit(t, 50)

	require.NoError(t, CheckCapacitySafety(d))
}
