package account

import (
	"math/big"

	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xtypes"
)

// applySwapOffer implements spec.md §4.3 swap_offer: the maker holds
// giveAmount of giveTokenId against their own capacity until the offer
// resolves or is cancelled.
func applySwapOffer(state ledgerState, tx *SwapOfferTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil swap_offer payload")
	}
	if _, exists := state.swapOffers[tx.OfferID]; exists {
		return xerrors.Newf(xerrors.InvalidFrame, "account: offerId %q already exists", tx.OfferID)
	}
	if err := tx.GiveAmount.CheckNonNegative(); err != nil {
		return xerrors.Wrap(err, xerrors.InvalidFrame, "account: negative swap give amount")
	}

	d := getOrCreateDelta(state, tx.GiveTokenID)
	if tx.MakerIsLeft {
		d.LeftSwapHold = d.LeftSwapHold.Add(tx.GiveAmount)
	} else {
		d.RightSwapHold = d.RightSwapHold.Add(tx.GiveAmount)
	}
	if err := delta.CheckCapacitySafety(d); err != nil {
		return err
	}

	state.deltas[tx.GiveTokenID] = d
	state.swapOffers[tx.OfferID] = SwapOffer{
		OfferID:      tx.OfferID,
		MakerIsLeft:  tx.MakerIsLeft,
		GiveTokenID:  tx.GiveTokenID,
		GiveAmount:   tx.GiveAmount,
		WantTokenID:  tx.WantTokenID,
		WantAmount:   tx.WantAmount,
		MinFillRatio: tx.MinFillRatio,
	}
	return nil
}

// applySwapResolve implements spec.md §4.3 swap_resolve: the taker
// fills fillRatio/65535 of the offer. Give-side tokens move maker -> taker,
// want-side tokens move taker -> maker, both pro-rated by fillRatio. Any
// unfilled remainder is released from hold (full cancel if
// cancelRemainder, otherwise left open for a future partial fill).
func applySwapResolve(state ledgerState, tx *SwapResolveTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil swap_resolve payload")
	}
	offer, ok := state.swapOffers[tx.OfferID]
	if !ok {
		return xerrors.Newf(xerrors.InvalidFrame, "account: unknown offerId %q", tx.OfferID)
	}
	if tx.FillRatio < offer.MinFillRatio {
		return xerrors.New(xerrors.InvalidFrame, "account: fillRatio below offer minimum")
	}

	giveFilled := prorate(offer.GiveAmount, tx.FillRatio)
	wantFilled := prorate(offer.WantAmount, tx.FillRatio)

	// give side: maker -> taker. Only the filled portion of the hold is
	// released here; a partial fill that leaves the offer open keeps
	// the remainder held so a later payment cannot draw the capacity
	// the still-open offer reserves (spec.md §4.1 P5).
	closesOffer := tx.FillRatio == 65535 || tx.CancelRemainder
	holdRelease := giveFilled
	if closesOffer {
		holdRelease = offer.GiveAmount
	}
	giveDelta := getOrCreateDelta(state, offer.GiveTokenID)
	if offer.MakerIsLeft {
		giveDelta.LeftSwapHold = giveDelta.LeftSwapHold.Sub(holdRelease)
	} else {
		giveDelta.RightSwapHold = giveDelta.RightSwapHold.Sub(holdRelease)
	}
	if err := delta.CheckCapacitySafety(giveDelta); err != nil {
		return err
	}
	next, err := delta.ApplyPayment(giveDelta, offer.MakerIsLeft, giveFilled)
	if err != nil {
		return err
	}
	state.deltas[offer.GiveTokenID] = next

	// want side: taker -> maker.
	if !wantFilled.IsZero() {
		wantDelta := getOrCreateDelta(state, offer.WantTokenID)
		next, err := delta.ApplyPayment(wantDelta, !offer.MakerIsLeft, wantFilled)
		if err != nil {
			return err
		}
		state.deltas[offer.WantTokenID] = next
	}

	if closesOffer {
		delete(state.swapOffers, tx.OfferID)
	} else {
		remaining := offer.GiveAmount.Sub(giveFilled)
		offer.GiveAmount = remaining
		offer.WantAmount = offer.WantAmount.Sub(wantFilled)
		state.swapOffers[tx.OfferID] = offer
	}
	return nil
}

// applySwapCancel releases the maker's hold and removes the offer
// (spec.md §4.3 swap_cancel).
func applySwapCancel(state ledgerState, tx *SwapCancelTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil swap_cancel payload")
	}
	offer, ok := state.swapOffers[tx.OfferID]
	if !ok {
		return xerrors.Newf(xerrors.InvalidFrame, "account: unknown offerId %q", tx.OfferID)
	}
	d := getOrCreateDelta(state, offer.GiveTokenID)
	if offer.MakerIsLeft {
		d.LeftSwapHold = d.LeftSwapHold.Sub(offer.GiveAmount)
	} else {
		d.RightSwapHold = d.RightSwapHold.Sub(offer.GiveAmount)
	}
	state.deltas[offer.GiveTokenID] = d
	delete(state.swapOffers, tx.OfferID)
	return nil
}

// prorate computes amount*ratio/65535 using arbitrary-precision
// arithmetic so large balances never overflow during partial fills.
func prorate(amount xtypes.Amount, ratio uint16) xtypes.Amount {
	if ratio >= 65535 {
		return amount
	}
	if ratio == 0 {
		return xtypes.Zero()
	}
	num := new(big.Int).Mul(amount.Big(), big.NewInt(int64(ratio)))
	num.Div(num, big.NewInt(65535))
	return xtypes.FromBigInt(num)
}
