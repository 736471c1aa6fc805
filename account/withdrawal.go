package account

import (
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xtypes"
)

// RequestWithdrawal implements spec.md §4.2 request_withdrawal: either
// side may request a unilateral withdrawal of tokenId/amount against
// their own capacity share; grounded on the teacher's
// consensus/vault.go owner/recovery two-path spend-delay covenant,
// here rewritten as a bilateral two-phase handshake instead of an
// on-chain timelocked script.
func (m *Machine) RequestWithdrawal(withdrawalID string, tokenID xtypes.TokenID, amount xtypes.Amount) error {
	if _, exists := m.PendingWithdrawals[withdrawalID]; exists {
		return xerrors.Newf(xerrors.InvalidFrame, "account: withdrawalId %q already pending", withdrawalID)
	}
	if err := amount.CheckNonNegative(); err != nil {
		return xerrors.Wrap(err, xerrors.InvalidFrame, "account: negative withdrawal amount")
	}
	d, ok := m.deltas[tokenID]
	if !ok {
		return xerrors.Newf(xerrors.InvalidFrame, "account: unknown tokenId %d", tokenID)
	}
	derived := deriveFor(d, m.selfIsLeft)
	if amount.Cmp(derived.OutCollateral) > 0 {
		return xerrors.New(xerrors.InsufficientCapacity, "account: withdrawal exceeds own collateral share")
	}
	m.PendingWithdrawals[withdrawalID] = PendingWithdrawal{
		WithdrawalID: withdrawalID,
		TokenID:      tokenID,
		Amount:       amount,
		RequestedBy:  m.selfIsLeft,
	}
	return nil
}

// ApproveWithdrawal implements spec.md §4.2 approve_withdrawal: the
// counterparty co-signs, completing the two-phase handshake. The
// signature is opaque here; jurisdiction.Adapter is responsible for
// verifying it against the on-chain reserve/collateral contract.
func (m *Machine) ApproveWithdrawal(withdrawalID string, sig []byte) error {
	pw, ok := m.PendingWithdrawals[withdrawalID]
	if !ok {
		return xerrors.Newf(xerrors.InvalidFrame, "account: unknown withdrawalId %q", withdrawalID)
	}
	if pw.RequestedBy == m.selfIsLeft {
		return xerrors.New(xerrors.InvalidFrame, "account: cannot approve own withdrawal request")
	}
	pw.Approved = true
	pw.Signature = sig
	m.PendingWithdrawals[withdrawalID] = pw
	return nil
}

// SettleWithdrawal removes an approved withdrawal from
// PendingWithdrawals and returns it. It does not change collateral;
// the reduced collateral arrives separately through a j_sync tx.
func (m *Machine) SettleWithdrawal(withdrawalID string) (PendingWithdrawal, error) {
	pw, ok := m.PendingWithdrawals[withdrawalID]
	if !ok {
		return PendingWithdrawal{}, xerrors.Newf(xerrors.InvalidFrame, "account: unknown withdrawalId %q", withdrawalID)
	}
	if !pw.Approved {
		return PendingWithdrawal{}, xerrors.New(xerrors.InvalidFrame, "account: withdrawal not yet approved")
	}
	delete(m.PendingWithdrawals, withdrawalID)
	return pw, nil
}
