// Package account implements spec.md §4.2 (Account Machine, 2-of-2
// frame consensus) and §4.3 (HTLC + swap subsystem). Grounded on the
// teacher's consensus/htlc.go (hashlock/timelock validation shape) and
// consensus/vault.go (owner/recovery two-path, spend-delay covenant,
// the basis for the two-phase withdrawal flow), both rewritten from
// UTXO-spend covenants into bilateral ledger operations.
package account

import (
	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// AccountTxKind is the closed tagged-union discriminator for bilateral
// account transactions (spec.md §9 "duck-typed event objects"
// redesign note: replaced with a sealed tagged union).
type AccountTxKind string

const (
	TxDirectPayment      AccountTxKind = "direct_payment"
	TxAddDelta           AccountTxKind = "add_delta"
	TxSetCreditLimit     AccountTxKind = "set_credit_limit"
	TxHtlcLock           AccountTxKind = "htlc_lock"
	TxHtlcReveal         AccountTxKind = "htlc_reveal"
	TxHtlcTimeout        AccountTxKind = "htlc_timeout"
	TxSwapOffer          AccountTxKind = "swap_offer"
	TxSwapResolve        AccountTxKind = "swap_resolve"
	TxSwapCancel         AccountTxKind = "swap_cancel"
	TxJSync              AccountTxKind = "j_sync"
	TxRequestWithdrawal  AccountTxKind = "request_withdrawal"
	TxApproveWithdrawal  AccountTxKind = "approve_withdrawal"
)

// AccountTx is one mempool entry. Exactly one of the typed payload
// fields is populated, selected by Kind; this mirrors the teacher's
// preference for explicit parsed structs (HTLCCovenant, VaultCovenant)
// over an untyped map.
type AccountTx struct {
	Kind AccountTxKind

	DirectPayment     *DirectPaymentTx     `json:"direct_payment,omitempty"`
	AddDelta          *AddDeltaTx          `json:"add_delta,omitempty"`
	SetCreditLimit    *SetCreditLimitTx    `json:"set_credit_limit,omitempty"`
	HtlcLock          *HtlcLockTx          `json:"htlc_lock,omitempty"`
	HtlcReveal        *HtlcRevealTx        `json:"htlc_reveal,omitempty"`
	HtlcTimeout       *HtlcTimeoutTx       `json:"htlc_timeout,omitempty"`
	SwapOffer         *SwapOfferTx         `json:"swap_offer,omitempty"`
	SwapResolve       *SwapResolveTx       `json:"swap_resolve,omitempty"`
	SwapCancel        *SwapCancelTx        `json:"swap_cancel,omitempty"`
	JSync             *JSyncTx             `json:"j_sync,omitempty"`
	RequestWithdrawal *RequestWithdrawalTx `json:"request_withdrawal,omitempty"`
	ApproveWithdrawal *ApproveWithdrawalTx `json:"approve_withdrawal,omitempty"`
}

type DirectPaymentTx struct {
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
	// FromLeft records who is paying, so both sides apply the same
	// direction regardless of which side's mempool originated it.
	FromLeft bool
}

type AddDeltaTx struct {
	TokenID xtypes.TokenID
}

type SetCreditLimitTx struct {
	TokenID xtypes.TokenID
	Left    bool // true sets LeftCreditLimit, false sets RightCreditLimit
	Amount  xtypes.Amount
}

type HtlcLockTx struct {
	LockID            string
	TokenID           xtypes.TokenID
	Amount            xtypes.Amount
	Hashlock          xhash.Hash
	Timelock          uint64 // recorded and hashed; refunds are gated on RevealBeforeHeight
	RevealBeforeHeight uint64
	FromLeft          bool // who is locking the outgoing amount
	Envelope          []byte
}

type HtlcRevealTx struct {
	LockID string
	Secret []byte
}

type HtlcTimeoutTx struct {
	LockID string
}

type SwapOfferTx struct {
	OfferID      string
	MakerIsLeft  bool
	GiveTokenID  xtypes.TokenID
	GiveAmount   xtypes.Amount
	WantTokenID  xtypes.TokenID
	WantAmount   xtypes.Amount
	MinFillRatio uint16 // out of 65535
}

type SwapResolveTx struct {
	OfferID         string
	FillRatio       uint16 // 0..65535
	CancelRemainder bool
}

type SwapCancelTx struct {
	OfferID string
}

type JSyncTx struct {
	JBlockNumber uint64
	TokenID      xtypes.TokenID
	Collateral   xtypes.Amount
	Ondelta      xtypes.Amount
}

type RequestWithdrawalTx struct {
	WithdrawalID string
	TokenID      xtypes.TokenID
	Amount       xtypes.Amount
	RequestedBy  bool // true = left side requests
}

type ApproveWithdrawalTx struct {
	WithdrawalID string
	Signature    xsig.Signature
}

// HtlcLock is the committed record in the Machine's ledgerState locks map.
type HtlcLock struct {
	LockID             string
	TokenID            xtypes.TokenID
	Amount             xtypes.Amount
	Hashlock           xhash.Hash
	Timelock           uint64
	RevealBeforeHeight uint64
	FromLeft           bool
	Envelope           []byte
}

// SwapOffer is the committed record in the Machine's ledgerState swapOffers map.
type SwapOffer struct {
	OfferID      string
	MakerIsLeft  bool
	GiveTokenID  xtypes.TokenID
	GiveAmount   xtypes.Amount
	WantTokenID  xtypes.TokenID
	WantAmount   xtypes.Amount
	MinFillRatio uint16
}

// PendingWithdrawal tracks the two-phase withdrawal of spec.md §4.2
// request_withdrawal/approve_withdrawal, modeled on the teacher's
// VaultCovenant owner/recovery + spend-delay shape: a request starts
// the clock, an approval (carrying a signature usable for on-chain
// submission) completes it.
type PendingWithdrawal struct {
	WithdrawalID string
	TokenID      xtypes.TokenID
	Amount       xtypes.Amount
	RequestedBy  bool
	Approved     bool
	Signature    xsig.Signature
}

// ProofHeader / ProofBody are the dispute-proof components of spec.md
// §4.2: proofBody is (tokenIds, deltas, htlcLocks[]) sorted
// canonically; proofHeader tracks the nonces used to pick the
// highest-priority signed tuple on dispute.
type ProofHeader struct {
	CooperativeNonce uint64
	DisputeNonce     uint64
}

type ProofBody struct {
	TokenIDs []xtypes.TokenID
	Deltas   []delta.Delta
	Locks    []HtlcLock
}

// Hash returns the deterministic digest of the proof body, used as
// the signed commitment (spec.md §4.2 proofBodyHash).
func (p ProofBody) Hash() xhash.Hash {
	parts := make([][]byte, 0, len(p.TokenIDs)*2+len(p.Locks))
	for i, tid := range p.TokenIDs {
		parts = append(parts, xhash.Uint32LE(uint32(tid)))
		d := p.Deltas[i]
		parts = append(parts, []byte(d.Ondelta.String()), []byte(d.Offdelta.String()), []byte(d.Collateral.String()))
	}
	for _, l := range p.Locks {
		parts = append(parts, []byte(l.LockID), l.Hashlock.Bytes())
	}
	return xhash.H(parts...)
}
