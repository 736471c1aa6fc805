// Package delta implements spec.md §4.1, the Delta Algebra: pure
// per-token bilateral balance math with no side effects beyond the
// Delta value itself. Grounded on the teacher's overflow-checked
// arithmetic idiom (consensus/util.go's addUint64/subUint64 bounds
// checks), generalized from native uint64 to xtypes.Amount
// (arbitrary-precision signed, per spec.md §9 "implicit big-integer
// arithmetic" redesign note).
package delta

import (
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xtypes"
)

// Delta is the per-token bilateral balance object of spec.md §3.
type Delta struct {
	TokenID xtypes.TokenID

	Collateral xtypes.Amount // >= 0
	Ondelta    xtypes.Amount // signed, settled on-ledger
	Offdelta   xtypes.Amount // signed, off-chain movement

	LeftCreditLimit  xtypes.Amount // >= 0
	RightCreditLimit xtypes.Amount // >= 0

	LeftAllowance  xtypes.Amount
	RightAllowance xtypes.Amount

	LeftHtlcHold  xtypes.Amount // >= 0
	RightHtlcHold xtypes.Amount // >= 0

	LeftSwapHold  xtypes.Amount // >= 0
	RightSwapHold xtypes.Amount // >= 0
}

// AddTokenIfMissing returns a zeroed Delta for tokenID with default
// (zero) credit limits; idempotent insertion per spec.md §4.2
// add_delta.
func AddTokenIfMissing(tokenID xtypes.TokenID) Delta {
	z := xtypes.Zero()
	return Delta{
		TokenID:          tokenID,
		Collateral:       z,
		Ondelta:          z,
		Offdelta:         z,
		LeftCreditLimit:  z,
		RightCreditLimit: z,
		LeftAllowance:    z,
		RightAllowance:   z,
		LeftHtlcHold:     z,
		RightHtlcHold:    z,
		LeftSwapHold:     z,
		RightSwapHold:    z,
	}
}

// Delta returns ondelta+offdelta, the signed net position, positive
// meaning the left side is owed by the right side.
func (d Delta) Delta() xtypes.Amount { return d.Ondelta.Add(d.Offdelta) }

// Derived is the view spec.md §4.1 returns from deriveDelta.
type Derived struct {
	Delta            xtypes.Amount
	Collateral       xtypes.Amount
	InCapacity       xtypes.Amount
	OutCapacity      xtypes.Amount
	OwnCreditLimit   xtypes.Amount
	PeerCreditLimit  xtypes.Amount
	InOwnCredit      xtypes.Amount
	OutOwnCredit     xtypes.Amount
	InPeerCredit     xtypes.Amount
	OutPeerCredit    xtypes.Amount
	InCollateral     xtypes.Amount
	OutCollateral    xtypes.Amount
	InAllowance      xtypes.Amount
	OutAllowance     xtypes.Amount
	TotalCapacity    xtypes.Amount

	// OutCapacityBeforeHolds/InCapacityBeforeHolds are the capacities
	// that would exist if no htlc/swap hold were outstanding; holds
	// safety (spec.md P5) checks the outstanding hold against this,
	// not against the (already hold-reduced, zero-clamped) capacity.
	OutCapacityBeforeHolds xtypes.Amount
	InCapacityBeforeHolds  xtypes.Amount
}

// outgoingHolds nets the outgoing hold (htlc+swap) relevant to side
// isLeft.
func outgoingHolds(d Delta, isLeft bool) xtypes.Amount {
	if isLeft {
		return d.LeftHtlcHold.Add(d.LeftSwapHold)
	}
	return d.RightHtlcHold.Add(d.RightSwapHold)
}

func incomingHolds(d Delta, isLeft bool) xtypes.Amount {
	if isLeft {
		return d.RightHtlcHold.Add(d.RightSwapHold)
	}
	return d.LeftHtlcHold.Add(d.LeftSwapHold)
}

// Derive implements spec.md §4.1 deriveDelta: a pure function of
// (Delta, isLeft) returning every view a caller needs to decide
// whether a payment/hold/withdrawal can proceed.
func Derive(d Delta, isLeft bool) Derived {
	net := d.Delta()
	ownCredit := d.LeftCreditLimit
	peerCredit := d.RightCreditLimit
	if !isLeft {
		ownCredit, peerCredit = d.RightCreditLimit, d.LeftCreditLimit
	}

	// ownClaim/peerClaim: which side net currently favors. At most one
	// is nonzero. Collateral already backing a claim is "used"; the
	// rest is free and, until claimed, available to either side (a
	// balanced account with untouched collateral lets both sides send
	// up to the full collateral amount).
	var ownClaim, peerClaim xtypes.Amount
	if isLeft {
		ownClaim, peerClaim = xtypes.MaxAmount0(net), xtypes.MaxAmount0(net.Neg())
	} else {
		ownClaim, peerClaim = xtypes.MaxAmount0(net.Neg()), xtypes.MaxAmount0(net)
	}

	usedCollateral := xtypes.Min(d.Collateral, net.Abs())
	freeCollateral := xtypes.MaxAmount0(d.Collateral.Sub(usedCollateral))

	ownCollateralShare := xtypes.Min(ownClaim, d.Collateral).Add(freeCollateral)
	peerCollateralShare := xtypes.Min(peerClaim, d.Collateral).Add(freeCollateral)

	// usedOwnCredit: how much of the claim against self is already
	// drawn beyond collateral, against the credit the claimant's
	// counterparty extended them.
	usedOwnCredit := xtypes.MaxAmount0(net.Abs().Sub(d.Collateral))

	outHolds := outgoingHolds(d, isLeft)
	inHolds := incomingHolds(d, isLeft)

	// ownClaim can always be given back for free (it only unwinds an
	// existing claim); beyond that, sending draws on freeCollateral
	// then peerCredit, bounded by what's already drawn via usedOwnCredit.
	outBeforeHolds := xtypes.MaxAmount0(ownClaim.Add(freeCollateral).Add(peerCredit).Sub(usedOwnCredit))
	inBeforeHolds := xtypes.MaxAmount0(peerClaim.Add(freeCollateral).Add(ownCredit).Sub(usedOwnCredit))
	outCapacity := xtypes.MaxAmount0(outBeforeHolds.Sub(outHolds))
	inCapacity := xtypes.MaxAmount0(inBeforeHolds.Sub(inHolds))

	return Derived{
		Delta:           net,
		Collateral:      d.Collateral,
		InCapacity:      inCapacity,
		OutCapacity:     outCapacity,
		OwnCreditLimit:  ownCredit,
		PeerCreditLimit: peerCredit,
		InOwnCredit:     ownCredit,
		OutOwnCredit:    xtypes.MaxAmount0(ownCredit.Sub(usedOwnCredit)),
		InPeerCredit:    peerCredit,
		OutPeerCredit:   xtypes.MaxAmount0(peerCredit.Sub(usedOwnCredit)),
		InCollateral:    peerCollateralShare,
		OutCollateral:   ownCollateralShare,
		InAllowance:     d.RightAllowance,
		OutAllowance:    d.LeftAllowance,
		TotalCapacity:   inCapacity.Add(outCapacity),

		OutCapacityBeforeHolds: outBeforeHolds,
		InCapacityBeforeHolds:  inBeforeHolds,
	}
}

// CanApplyPayment reports whether amount can move out along side
// isLeft without exceeding outCapacity (spec.md §4.1 canApplyPayment).
func CanApplyPayment(d Delta, isLeft bool, amount xtypes.Amount) bool {
	if amount.IsNegative() {
		return false
	}
	return amount.Cmp(Derive(d, isLeft).OutCapacity) <= 0
}

// ApplyPayment moves offdelta by +-amount; it never mutates collateral
// or ondelta (spec.md §4.1 applyPayment). Returns InsufficientCapacity
// if the move would exceed outCapacity.
func ApplyPayment(d Delta, isLeft bool, amount xtypes.Amount) (Delta, error) {
	if amount.IsNegative() {
		return d, xerrors.New(xerrors.InsufficientCapacity, "delta: negative payment amount")
	}
	if !CanApplyPayment(d, isLeft, amount) {
		return d, xerrors.New(xerrors.InsufficientCapacity, "delta: amount exceeds outCapacity")
	}
	out := d
	if isLeft {
		out.Offdelta = d.Offdelta.Sub(amount)
	} else {
		out.Offdelta = d.Offdelta.Add(amount)
	}
	return out, nil
}

// CheckCapacitySafety validates P5: |ondelta+offdelta| <= collateral +
// creditLimitOnDebtorSide, and both holds stay within the owner's
// remaining capacity. Used by the account tx appliers (set_credit_limit,
// j_sync, htlc_lock, swap_offer, swap_resolve) after each tx they apply.
func CheckCapacitySafety(d Delta) error {
	net := d.Delta()
	var creditOnDebtorSide xtypes.Amount
	if net.IsNegative() {
		creditOnDebtorSide = d.RightCreditLimit
	} else {
		creditOnDebtorSide = d.LeftCreditLimit
	}
	limit := d.Collateral.Add(creditOnDebtorSide)
	if net.Abs().Cmp(limit) > 0 {
		return xerrors.Newf(xerrors.CapacityExceeded,
			"token %d: |delta|=%s exceeds collateral+credit=%s", d.TokenID, net, limit)
	}
	leftDerived := Derive(d, true)
	leftOutHolds := d.LeftHtlcHold.Add(d.LeftSwapHold)
	if leftOutHolds.Cmp(leftDerived.OutCapacityBeforeHolds) > 0 {
		return xerrors.New(xerrors.CapacityExceeded, "token: left holds exceed remaining capacity")
	}
	rightDerived := Derive(d, false)
	rightOutHolds := d.RightHtlcHold.Add(d.RightSwapHold)
	if rightOutHolds.Cmp(rightDerived.OutCapacityBeforeHolds) > 0 {
		return xerrors.New(xerrors.CapacityExceeded, "token: right holds exceed remaining capacity")
	}
	if d.Collateral.IsNegative() {
		return xerrors.New(xerrors.CapacityExceeded, "token: negative collateral")
	}
	return nil
}
