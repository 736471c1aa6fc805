package jurisdiction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xtypes"
)

func mustAmount(t *testing.T, n int64) xtypes.Amount {
	t.Helper()
	a, err := xtypes.MustNonNegative(n)
	require.NoError(t, err)
	return a
}

func TestProduceBlockAppliesMintAndReserveToReserveFIFO(t *testing.T) {
	j := New("test", 100, 16)
	alice := xtypes.EntityID{1}
	bob := xtypes.EntityID{2}
	j.RegisterEntity(alice)
	j.RegisterEntity(bob)

	j.SubmitBatch(JTxBatch{Txs: []JTx{{
		Kind:         JTxMintReserves,
		MintReserves: &MintReservesOp{To: alice, TokenID: 1, Amount: mustAmount(t, 1000)},
	}}})
	j.SubmitBatch(JTxBatch{Txs: []JTx{{
		Kind:              JTxReserveToReserve,
		ReserveToReserve:  &ReserveToReserveOp{From: alice, To: bob, TokenID: 1, Amount: mustAmount(t, 300)},
	}}})

	require.True(t, j.ReadyToProduce(100))
	events, errs := j.ProduceBlock(100)
	require.Empty(t, errs)
	require.NotEmpty(t, events)
	require.Equal(t, uint64(1), j.BlockNumber)
	require.Equal(t, int64(700), j.Reserve(alice, 1).Big().Int64())
	require.Equal(t, int64(300), j.Reserve(bob, 1).Big().Int64())
}

func TestReserveToReserveRejectsUnknownRecipient(t *testing.T) {
	j := New("test", 100, 16)
	alice := xtypes.EntityID{1}
	stranger := xtypes.EntityID{3}
	j.RegisterEntity(alice)
	j.SubmitBatch(JTxBatch{Txs: []JTx{{
		Kind:         JTxMintReserves,
		MintReserves: &MintReservesOp{To: alice, TokenID: 1, Amount: mustAmount(t, 100)},
	}}})
	j.ProduceBlock(0)

	j.SubmitBatch(JTxBatch{Txs: []JTx{{
		Kind:             JTxReserveToReserve,
		ReserveToReserve: &ReserveToReserveOp{From: alice, To: stranger, TokenID: 1, Amount: mustAmount(t, 10)},
	}}})
	_, errs := j.ProduceBlock(200)
	require.Len(t, errs, 1)
	// Block still advances despite the rejected batch.
	require.Equal(t, uint64(2), j.BlockNumber)
	require.Equal(t, int64(100), j.Reserve(alice, 1).Big().Int64())
}

func TestDepositCollateralMovesReserveIntoCollateralLine(t *testing.T) {
	j := New("test", 0, 16)
	alice := xtypes.EntityID{1}
	bob := xtypes.EntityID{2}
	j.RegisterEntity(alice)
	j.RegisterEntity(bob)
	j.SubmitBatch(JTxBatch{Txs: []JTx{
		{Kind: JTxMintReserves, MintReserves: &MintReservesOp{To: alice, TokenID: 1, Amount: mustAmount(t, 500)}},
		{Kind: JTxDepositCollateral, DepositCollateral: &DepositCollateralOp{Left: alice, Right: bob, TokenID: 1, Amount: mustAmount(t, 500)}},
	}})
	_, errs := j.ProduceBlock(0)
	require.Empty(t, errs)
	collateral, _ := j.Collateral(alice, bob, 1)
	require.Equal(t, int64(500), collateral.Big().Int64())
	require.Equal(t, int64(0), j.Reserve(alice, 1).Big().Int64())
}

func TestFIFODebtRepaidOnNextReserveIncrease(t *testing.T) {
	j := New("test", 0, 16)
	alice := xtypes.EntityID{1}
	bob := xtypes.EntityID{2}
	j.RegisterEntity(alice)
	j.RegisterEntity(bob)
	j.queueDebt(alice, bob, 1, mustAmount(t, 40))

	events := j.creditReserve(alice, 1, mustAmount(t, 100))
	require.NotNil(t, events)
	require.Equal(t, int64(60), j.Reserve(alice, 1).Big().Int64())
	require.Equal(t, int64(40), j.Reserve(bob, 1).Big().Int64())
	require.Empty(t, j.debts[alice])
}
