package account

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xtypes"
)

func freshState() ledgerState {
	return ledgerState{
		deltas:     map[xtypes.TokenID]delta.Delta{},
		locks:      map[string]HtlcLock{},
		swapOffers: map[string]SwapOffer{},
	}
}

func TestSwapOfferHoldsGiveAmount(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d

	err := applySwapOffer(state, &SwapOfferTx{
		OfferID:     "o1",
		MakerIsLeft: true,
		GiveTokenID: 1,
		GiveAmount:  xtypes.FromInt64(300),
		WantTokenID: 2,
		WantAmount:  xtypes.FromInt64(300),
	})
	require.NoError(t, err)
	require.True(t, state.deltas[1].LeftSwapHold.Cmp(xtypes.FromInt64(300)) == 0)
	_, ok := state.swapOffers["o1"]
	require.True(t, ok)
}

func TestSwapResolveFullFillMovesBothSides(t *testing.T) {
	state := freshState()
	give := delta.AddTokenIfMissing(1)
	give.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = give
	want := delta.AddTokenIfMissing(2)
	want.Collateral = xtypes.FromInt64(1000)
	state.deltas[2] = want

	require.NoError(t, applySwapOffer(state, &SwapOfferTx{
		OfferID: "o1", MakerIsLeft: true,
		GiveTokenID: 1, GiveAmount: xtypes.FromInt64(300),
		WantTokenID: 2, WantAmount: xtypes.FromInt64(150),
	}))

	require.NoError(t, applySwapResolve(state, &SwapResolveTx{OfferID: "o1", FillRatio: 65535}))

	_, exists := state.swapOffers["o1"]
	require.False(t, exists)
	require.True(t, state.deltas[1].LeftSwapHold.IsZero())
	require.True(t, state.deltas[1].Offdelta.Cmp(xtypes.FromInt64(-300)) == 0)
	require.True(t, state.deltas[2].Offdelta.Cmp(xtypes.FromInt64(150)) == 0)
}

func TestSwapResolveRejectsBelowMinFillRatio(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d

	require.NoError(t, applySwapOffer(state, &SwapOfferTx{
		OfferID: "o1", MakerIsLeft: true,
		GiveTokenID: 1, GiveAmount: xtypes.FromInt64(300),
		WantTokenID: 2, WantAmount: xtypes.FromInt64(150),
		MinFillRatio: 40000,
	}))

	err := applySwapResolve(state, &SwapResolveTx{OfferID: "o1", FillRatio: 1000})
	require.Error(t, err)
}

func TestSwapResolvePartialFillHoldsOnlyRemainder(t *testing.T) {
	state := freshState()
	give := delta.AddTokenIfMissing(1)
	give.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = give
	want := delta.AddTokenIfMissing(2)
	want.Collateral = xtypes.FromInt64(1000)
	state.deltas[2] = want

	require.NoError(t, applySwapOffer(state, &SwapOfferTx{
		OfferID: "o1", MakerIsLeft: true,
		GiveTokenID: 1, GiveAmount: xtypes.FromInt64(500),
		WantTokenID: 2, WantAmount: xtypes.FromInt64(250),
	}))

	// FillRatio 13107 = 65535/5: a clean 20% fill, giveFilled=100,
	// wantFilled=50.
	require.NoError(t, applySwapResolve(state, &SwapResolveTx{OfferID: "o1", FillRatio: 13107}))

	offer, ok := state.swapOffers["o1"]
	require.True(t, ok, "partial fill must leave the offer open")
	require.True(t, offer.GiveAmount.Cmp(xtypes.FromInt64(400)) == 0)
	require.True(t, offer.WantAmount.Cmp(xtypes.FromInt64(200)) == 0)

	// Only the filled 100 is released from hold; the remaining 400 the
	// still-open offer promises stays held.
	require.True(t, state.deltas[1].LeftSwapHold.Cmp(xtypes.FromInt64(400)) == 0)
	require.True(t, state.deltas[1].Offdelta.Cmp(xtypes.FromInt64(-100)) == 0)

	// A second resolve fully filling the remainder must not drive the
	// hold negative.
	require.NoError(t, applySwapResolve(state, &SwapResolveTx{OfferID: "o1", FillRatio: 65535}))
	_, exists := state.swapOffers["o1"]
	require.False(t, exists)
	require.True(t, state.deltas[1].LeftSwapHold.IsZero())
	require.False(t, state.deltas[1].LeftSwapHold.IsNegative())
	require.True(t, state.deltas[1].Offdelta.Cmp(xtypes.FromInt64(-500)) == 0)
}

func TestSwapCancelReleasesHold(t *testing.T) {
	state := freshState()
	d := delta.AddTokenIfMissing(1)
	d.Collateral = xtypes.FromInt64(1000)
	state.deltas[1] = d

	require.NoError(t, applySwapOffer(state, &SwapOfferTx{
		OfferID: "o1", MakerIsLeft: true,
		GiveTokenID: 1, GiveAmount: xtypes.FromInt64(300),
		WantTokenID: 2, WantAmount: xtypes.FromInt64(150),
	}))
	require.NoError(t, applySwapCancel(state, &SwapCancelTx{OfferID: "o1"}))
	require.True(t, state.deltas[1].LeftSwapHold.IsZero())
	_, exists := state.swapOffers["o1"]
	require.False(t, exists)
}
