package account

import (
	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xtypes"
)

// applyAccountTx dispatches one AccountTx against state, mutating it
// in place on success. selfIsLeft is the perspective of the Machine
// doing the applying; the appliers do not read it, since each payload
// carries its own direction flag (FromLeft, MakerIsLeft, ...). Returns any AccountEvents the tx
// produced (e.g. an HTLC reveal that must propagate to the entity).
func applyAccountTx(state ledgerState, selfIsLeft bool, tx AccountTx, jHeight uint64) (ledgerState, []AccountEvent, error) {
	switch tx.Kind {
	case TxDirectPayment:
		return state, nil, applyDirectPayment(state, tx.DirectPayment)
	case TxAddDelta:
		return state, nil, applyAddDelta(state, tx.AddDelta)
	case TxSetCreditLimit:
		return state, nil, applySetCreditLimit(state, tx.SetCreditLimit)
	case TxHtlcLock:
		return state, nil, applyHtlcLock(state, tx.HtlcLock)
	case TxHtlcReveal:
		return applyHtlcReveal(state, tx.HtlcReveal)
	case TxHtlcTimeout:
		return applyHtlcTimeout(state, tx.HtlcTimeout, jHeight)
	case TxSwapOffer:
		return state, nil, applySwapOffer(state, tx.SwapOffer)
	case TxSwapResolve:
		return state, nil, applySwapResolve(state, tx.SwapResolve)
	case TxSwapCancel:
		return state, nil, applySwapCancel(state, tx.SwapCancel)
	case TxJSync:
		return state, nil, applyJSync(state, tx.JSync)
	case TxRequestWithdrawal:
		return state, nil, xerrors.New(xerrors.InvalidFrame, "account: request_withdrawal has no ledger-state effect")
	case TxApproveWithdrawal:
		return state, nil, xerrors.New(xerrors.InvalidFrame, "account: approve_withdrawal has no ledger-state effect")
	default:
		return state, nil, xerrors.Newf(xerrors.InvalidFrame, "account: unknown tx kind %q", tx.Kind)
	}
}

func deriveFor(d delta.Delta, isLeft bool) delta.Derived {
	return delta.Derive(d, isLeft)
}

func getOrCreateDelta(state ledgerState, tokenID xtypes.TokenID) delta.Delta {
	if d, ok := state.deltas[tokenID]; ok {
		return d
	}
	return delta.AddTokenIfMissing(tokenID)
}

func applyDirectPayment(state ledgerState, tx *DirectPaymentTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil direct_payment payload")
	}
	d := getOrCreateDelta(state, tx.TokenID)
	next, err := delta.ApplyPayment(d, tx.FromLeft, tx.Amount)
	if err != nil {
		return err
	}
	state.deltas[tx.TokenID] = next
	return nil
}

func applyAddDelta(state ledgerState, tx *AddDeltaTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil add_delta payload")
	}
	if _, ok := state.deltas[tx.TokenID]; !ok {
		state.deltas[tx.TokenID] = delta.AddTokenIfMissing(tx.TokenID)
	}
	return nil
}

func applySetCreditLimit(state ledgerState, tx *SetCreditLimitTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil set_credit_limit payload")
	}
	if err := tx.Amount.CheckNonNegative(); err != nil {
		return xerrors.Wrap(err, xerrors.InvalidFrame, "account: negative credit limit")
	}
	d := getOrCreateDelta(state, tx.TokenID)
	if tx.Left {
		d.LeftCreditLimit = tx.Amount
	} else {
		d.RightCreditLimit = tx.Amount
	}
	if err := delta.CheckCapacitySafety(d); err != nil {
		return err
	}
	state.deltas[tx.TokenID] = d
	return nil
}

func applyJSync(state ledgerState, tx *JSyncTx) error {
	if tx == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: nil j_sync payload")
	}
	d := getOrCreateDelta(state, tx.TokenID)
	d.Collateral = tx.Collateral
	d.Ondelta = tx.Ondelta
	if err := delta.CheckCapacitySafety(d); err != nil {
		return err
	}
	state.deltas[tx.TokenID] = d
	return nil
}
