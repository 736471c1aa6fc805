package account

import (
	"bytes"

	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
)

// applyHtlcLock implements spec.md §4.3 htlc_lock: grounded on the
// teacher's consensus/htlc.go hashlock/timelock validation shape,
// rewritten from a UTXO-spend covenant into a bilateral hold against
// the payer's own capacity.
func applyHtlcLock(state ledgerState, tx *HtlcLockTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil htlc_lock payload")
	}
	if _, exists := state.locks[tx.LockID]; exists {
		return xerrors.Newf(xerrors.InvalidFrame, "account: lockId %q already exists", tx.LockID)
	}
	if tx.Hashlock.IsZero() {
		return xerrors.New(xerrors.InvalidFrame, "account: zero hashlock")
	}
	if err := tx.Amount.CheckNonNegative(); err != nil {
		return xerrors.Wrap(err, xerrors.InvalidFrame, "account: negative htlc amount")
	}

	d := getOrCreateDelta(state, tx.TokenID)
	if tx.FromLeft {
		d.LeftHtlcHold = d.LeftHtlcHold.Add(tx.Amount)
	} else {
		d.RightHtlcHold = d.RightHtlcHold.Add(tx.Amount)
	}
	if err := delta.CheckCapacitySafety(d); err != nil {
		return err
	}

	state.deltas[tx.TokenID] = d
	state.locks[tx.LockID] = HtlcLock{
		LockID:             tx.LockID,
		TokenID:            tx.TokenID,
		Amount:             tx.Amount,
		Hashlock:           tx.Hashlock,
		Timelock:           tx.Timelock,
		RevealBeforeHeight: tx.RevealBeforeHeight,
		FromLeft:           tx.FromLeft,
		Envelope:           tx.Envelope,
	}
	return nil
}

// applyHtlcReveal releases the hold and settles the payment on
// preimage match (spec.md §4.3 htlc_reveal). Emits EventHtlcRevealed
// so the owning entity can forward the secret to the next hop in a
// multi-hop payment.
func applyHtlcReveal(state ledgerState, tx *HtlcRevealTx) (ledgerState, []AccountEvent, error) {
	if tx == nil {
		return state, nil, xerrors.New(xerrors.InvalidFrame, "account: nil htlc_reveal payload")
	}
	lock, ok := state.locks[tx.LockID]
	if !ok {
		return state, nil, xerrors.Newf(xerrors.InvalidFrame, "account: unknown lockId %q", tx.LockID)
	}
	if xhash.H(tx.Secret) != lock.Hashlock {
		return state, nil, xerrors.New(xerrors.HtlcHashMismatch, "account: preimage does not match hashlock")
	}

	d := getOrCreateDelta(state, lock.TokenID)
	if lock.FromLeft {
		d.LeftHtlcHold = d.LeftHtlcHold.Sub(lock.Amount)
	} else {
		d.RightHtlcHold = d.RightHtlcHold.Sub(lock.Amount)
	}
	next, err := delta.ApplyPayment(d, lock.FromLeft, lock.Amount)
	if err != nil {
		return state, nil, err
	}
	state.deltas[lock.TokenID] = next
	delete(state.locks, tx.LockID)

	return state, []AccountEvent{{
		Kind:     EventHtlcRevealed,
		Hashlock: lock.Hashlock,
		LockID:   lock.LockID,
		Secret:   append([]byte(nil), tx.Secret...),
	}}, nil
}

// applyHtlcTimeout releases the hold back to the locker once jHeight
// has passed the lock's RevealBeforeHeight without a reveal (spec.md §4.3
// htlc_timeout edge case).
func applyHtlcTimeout(state ledgerState, tx *HtlcTimeoutTx, jHeight uint64) (ledgerState, []AccountEvent, error) {
	if tx == nil {
		return state, nil, xerrors.New(xerrors.InvalidFrame, "account: nil htlc_timeout payload")
	}
	lock, ok := state.locks[tx.LockID]
	if !ok {
		return state, nil, xerrors.Newf(xerrors.InvalidFrame, "account: unknown lockId %q", tx.LockID)
	}
	if jHeight <= lock.RevealBeforeHeight {
		return state, nil, xerrors.New(xerrors.HtlcExpired, "account: timelock not yet reached")
	}

	d := getOrCreateDelta(state, lock.TokenID)
	if lock.FromLeft {
		d.LeftHtlcHold = d.LeftHtlcHold.Sub(lock.Amount)
	} else {
		d.RightHtlcHold = d.RightHtlcHold.Sub(lock.Amount)
	}
	state.deltas[lock.TokenID] = d
	delete(state.locks, tx.LockID)

	return state, []AccountEvent{{
		Kind:     EventHtlcTimedOut,
		Hashlock: lock.Hashlock,
		LockID:   lock.LockID,
	}}, nil
}

// matchesSecret is a small helper kept separate from applyHtlcReveal's
// inline check so tests can probe the hashing rule directly.
func matchesSecret(hashlock xhash.Hash, secret []byte) bool {
	return bytes.Equal(xhash.H(secret).Bytes(), hashlock.Bytes())
}
