// Package entity implements spec.md §4.4 Entity Machine (proposer-based
// BFT threshold consensus) and §4.5 J-Block Observation. Grounded on
// the teacher's consensus/fork_choice.go (weighted-vote tallying against
// a threshold) generalized from a single fork-choice vote into a full
// propose/precommit/commit cycle, and node/p2p_runtime.go (per-peer
// message dispatch loop) generalized from peer messages to EntityTx.
package entity

import (
	"github.com/xlnfinance/xln-core/account"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// EntityTxKind is the sealed tagged union of spec.md §4.4's EntityTx
// kinds list.
type EntityTxKind string

const (
	TxChat              EntityTxKind = "chat"
	TxPropose           EntityTxKind = "propose"
	TxVote              EntityTxKind = "vote"
	TxProfileUpdate     EntityTxKind = "profile_update"
	TxOpenAccount       EntityTxKind = "open_account"
	TxAccountInput      EntityTxKind = "account_input"
	TxDirectPayment     EntityTxKind = "direct_payment"
	TxHtlcPayment       EntityTxKind = "htlc_payment"
	TxJEvent            EntityTxKind = "j_event"
	TxReserveToReserve  EntityTxKind = "reserve_to_reserve"
	TxCreateSettlement  EntityTxKind = "create_settlement"
	TxJBroadcast        EntityTxKind = "j_broadcast"
	TxMintReserves      EntityTxKind = "mint_reserves"
	TxExtendCredit      EntityTxKind = "extend_credit"
	TxDepositCollateral EntityTxKind = "deposit_collateral"
	TxRequestWithdrawal EntityTxKind = "request_withdrawal"
	TxSettleDiffs       EntityTxKind = "settle_diffs"
	TxPlaceSwapOffer    EntityTxKind = "place_swap_offer"
	TxResolveSwap       EntityTxKind = "resolve_swap"
	TxCancelSwap        EntityTxKind = "cancel_swap"
	TxInitOrderbookExt  EntityTxKind = "init_orderbook_ext"
)

// EntityTx is the sealed tagged union every entity tx belongs to
// (spec.md §9 redesign note: typed payload fields, not duck-typed
// event objects).
type EntityTx struct {
	Kind   EntityTxKind
	Signer xtypes.SignerID
	Nonce  uint64

	Chat              *ChatTx              `json:"chat,omitempty"`
	Propose           *ProposeTx           `json:"propose,omitempty"`
	Vote              *VoteTx              `json:"vote,omitempty"`
	ProfileUpdate     *ProfileUpdateTx     `json:"profile_update,omitempty"`
	OpenAccount       *OpenAccountTx       `json:"open_account,omitempty"`
	AccountInput      *AccountInputTx      `json:"account_input,omitempty"`
	DirectPayment     *DirectPaymentTx     `json:"direct_payment,omitempty"`
	HtlcPayment       *HtlcPaymentTx       `json:"htlc_payment,omitempty"`
	JEvent            *JEventTx            `json:"j_event,omitempty"`
	ReserveToReserve  *ReserveToReserveTx  `json:"reserve_to_reserve,omitempty"`
	CreateSettlement  *CreateSettlementTx  `json:"create_settlement,omitempty"`
	JBroadcast        *JBroadcastTx        `json:"j_broadcast,omitempty"`
	MintReserves      *MintReservesTx      `json:"mint_reserves,omitempty"`
	ExtendCredit      *ExtendCreditTx      `json:"extend_credit,omitempty"`
	DepositCollateral *DepositCollateralTx `json:"deposit_collateral,omitempty"`
	RequestWithdrawal *RequestWithdrawalTx `json:"request_withdrawal,omitempty"`
	SettleDiffs       *SettleDiffsTx       `json:"settle_diffs,omitempty"`
	PlaceSwapOffer    *PlaceSwapOfferTx    `json:"place_swap_offer,omitempty"`
	ResolveSwap       *ResolveSwapTx       `json:"resolve_swap,omitempty"`
	CancelSwap        *CancelSwapTx        `json:"cancel_swap,omitempty"`
	InitOrderbookExt  *InitOrderbookExtTx  `json:"init_orderbook_ext,omitempty"`
}

type ChatTx struct{ Message string }

type ProposeTx struct {
	Action      string
	Description string
}

type VoteTx struct {
	ProposalID string
	Choice     string
}

type ProfileUpdateTx struct {
	Field string
	Value string
}

type OpenAccountTx struct{ TargetEntityID xtypes.EntityID }

type AccountInputTx struct {
	Peer  xtypes.EntityID
	Input account.AccountInput
}

type DirectPaymentTx struct {
	Target  xtypes.EntityID
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
	Route   []xtypes.EntityID
}

type HtlcPaymentTx struct {
	Target   xtypes.EntityID
	TokenID  xtypes.TokenID
	Amount   xtypes.Amount
	Route    []xtypes.EntityID
	Secret   []byte
	Hashlock xhash.Hash
}

type JEventTx struct {
	BlockNumber uint64
	BlockHash   xhash.Hash
	Events      []JObservedEvent
	ObservedAt  uint64
}

// JObservedEvent is the entity-scoped projection of a jurisdiction.Event
// an observer extracted for this entity from a J block.
type JObservedEvent struct {
	Kind    string
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
	Peer    xtypes.EntityID
}

type ReserveToReserveTx struct {
	To      xtypes.EntityID
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
}

type CreateSettlementTx struct {
	Counterparty xtypes.EntityID
	Diffs        []SettleDiff
}

type SettleDiff struct {
	TokenID    xtypes.TokenID
	Collateral xtypes.Amount
	Ondelta    xtypes.Amount
}

type JBroadcastTx struct{ HankoSignature []byte }

type MintReservesTx struct {
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
}

type ExtendCreditTx struct {
	Peer      xtypes.EntityID
	TokenID   xtypes.TokenID
	NewLimit  xtypes.Amount
}

type DepositCollateralTx struct {
	Peer    xtypes.EntityID
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
}

type RequestWithdrawalTx struct {
	Peer           xtypes.EntityID
	TokenID        xtypes.TokenID
	Amount         xtypes.Amount
	WithdrawalID   string
}

type SettleDiffsTx struct {
	Peer  xtypes.EntityID
	Diffs []SettleDiff
}

type PlaceSwapOfferTx struct {
	Peer          xtypes.EntityID
	OfferID       string
	GiveTokenID   xtypes.TokenID
	GiveAmount    xtypes.Amount
	WantTokenID   xtypes.TokenID
	WantAmount    xtypes.Amount
	MinFillRatio  uint16
}

type ResolveSwapTx struct {
	Peer            xtypes.EntityID
	OfferID         string
	FillRatio       uint16
	CancelRemainder bool
}

type CancelSwapTx struct {
	Peer    xtypes.EntityID
	OfferID string
}

type InitOrderbookExtTx struct{ Enabled bool }
