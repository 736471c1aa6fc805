// Package jurisdiction implements spec.md §4.6: a time-delayed,
// deterministic block producer holding reserves, collateral, and
// registered entities; insurance lines are not modelled. Grounded on the teacher's
// node/chainstate.go (deterministic state transition over a batch of
// transactions, producing a new state root) and node/store (manifest
// versioning for the state); FIFO debt enforcement is modeled on the
// teacher's mempool eviction-by-age ordering generalized from tx
// eviction to entity debt repayment order.
package jurisdiction

import (
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// JTxKind is the sealed tagged union of spec.md §9 "JurisdictionEvent"
// (batch operation variant).
type JTxKind string

const (
	JTxReserveToReserve  JTxKind = "reserve_to_reserve"
	JTxSettle            JTxKind = "settle"
	JTxMintReserves      JTxKind = "mint_reserves"
	JTxDepositCollateral JTxKind = "deposit_collateral"
	JTxRegisterEntity    JTxKind = "register_entity"
)

type JTx struct {
	Kind JTxKind

	ReserveToReserve  *ReserveToReserveOp  `json:"reserve_to_reserve,omitempty"`
	Settle            *SettleOp            `json:"settle,omitempty"`
	MintReserves      *MintReservesOp      `json:"mint_reserves,omitempty"`
	DepositCollateral *DepositCollateralOp `json:"deposit_collateral,omitempty"`
	RegisterEntity    *RegisterEntityOp    `json:"register_entity,omitempty"`
}

type ReserveToReserveOp struct {
	From, To xtypes.EntityID
	TokenID  xtypes.TokenID
	Amount   xtypes.Amount
}

// SettleDiff is one token's delta-settlement line inside a Settle
// batch (spec.md §4.4 createSettlement's diffs[]).
type SettleDiff struct {
	TokenID   xtypes.TokenID
	Collateral xtypes.Amount
	Ondelta    xtypes.Amount
}

type SettleOp struct {
	Left, Right xtypes.EntityID
	Diffs       []SettleDiff
}

type MintReservesOp struct {
	To      xtypes.EntityID
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
}

type DepositCollateralOp struct {
	Left, Right xtypes.EntityID
	TokenID     xtypes.TokenID
	Amount      xtypes.Amount
}

type RegisterEntityOp struct {
	EntityID xtypes.EntityID
}

// JTxBatch is the unit J's mempool queues: one j_broadcast's worth of
// JTxs plus the Hanko signature authorizing it (spec.md §4.4
// j_broadcast).
type JTxBatch struct {
	Txs             []JTx
	HankoSignature  []byte
	BatchSize       int
	SubmittedEntity xtypes.EntityID
}

// EventKind enumerates the four event kinds spec.md §4.6 names.
type EventKind string

const (
	EventReserveUpdated   EventKind = "ReserveUpdated"
	EventAccountSettled   EventKind = "AccountSettled"
	EventInsuranceClaimed EventKind = "InsuranceClaimed"
	EventGovernanceEnabled EventKind = "GovernanceEnabled"
)

type Event struct {
	Kind        EventKind
	BlockNumber uint64
	BlockHash   xhash.Hash

	Entity  xtypes.EntityID
	Peer    xtypes.EntityID
	TokenID xtypes.TokenID
	Amount  xtypes.Amount
}

// BatchError reports why a batch was rejected (spec.md §4.6 failure:
// "unreservable transfer -> BatchRejected with reason; block still
// advances so replay protection holds").
type BatchError struct {
	Reason string
}

func (e *BatchError) Error() string { return e.Reason }

func newBatchRejected(reason string) error {
	return xerrors.New(xerrors.BatchRejected, reason)
}
