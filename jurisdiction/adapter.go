package jurisdiction

import (
	"github.com/holiman/uint256"

	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// Adapter is spec.md §6's JurisdictionAdapter external contract: the
// boundary where internal arbitrary-precision xtypes.Amount crosses
// into the u256 domain a settlement-layer contract call would expect.
// Grounded on the uint256 usage idiom in the pack's erigon/dex example
// files (amounts marshalled as fixed-width u256 at the chain
// boundary, never carried as u256 through internal logic).
type Adapter interface {
	ApplyBatch(batch JTxBatch) (BatchResult, error)
	GetBlockNumber() uint64
	GetBlockHash(blockNumber uint64) (xhash.Hash, bool)
	GetReserves(entity xtypes.EntityID, tokenID xtypes.TokenID) *uint256.Int
	GetCollateral(left, right xtypes.EntityID, tokenID xtypes.TokenID) (collateral, ondelta *uint256.Int)
	SubscribeBlocks() <-chan BlockNotification
}

type BatchResult struct {
	Events    []Event
	Rejected  []error
	BlockNumber uint64
}

type BlockNotification struct {
	BlockNumber uint64
	BlockHash   xhash.Hash
	Events      []Event
}

// LocalAdapter wires a JReplica as an Adapter without any actual
// network/contract hop, for single-process runtime wiring and tests.
type LocalAdapter struct {
	replica   *JReplica
	blockFeed chan BlockNotification
}

func NewLocalAdapter(replica *JReplica) *LocalAdapter {
	return &LocalAdapter{replica: replica, blockFeed: make(chan BlockNotification, 64)}
}

func (a *LocalAdapter) ApplyBatch(batch JTxBatch) (BatchResult, error) {
	a.replica.SubmitBatch(batch)
	return BatchResult{BlockNumber: a.replica.BlockNumber}, nil
}

// ProduceBlockIfReady drains the mempool when the block-delay window
// has elapsed, publishing a BlockNotification for subscribers (spec.md
// §4.7 runtime step 4: "deliver jInputs, check block production").
func (a *LocalAdapter) ProduceBlockIfReady(now uint64) (BatchResult, bool) {
	if !a.replica.ReadyToProduce(now) {
		return BatchResult{}, false
	}
	events, errs := a.replica.ProduceBlock(now)
	result := BatchResult{Events: events, Rejected: errs, BlockNumber: a.replica.BlockNumber}
	select {
	case a.blockFeed <- BlockNotification{BlockNumber: a.replica.BlockNumber, BlockHash: a.replica.StateRoot, Events: events}:
	default:
	}
	return result, true
}

func (a *LocalAdapter) GetBlockNumber() uint64 { return a.replica.BlockNumber }

func (a *LocalAdapter) GetBlockHash(blockNumber uint64) (xhash.Hash, bool) {
	if blockNumber == a.replica.BlockNumber {
		return a.replica.StateRoot, true
	}
	return xhash.Hash{}, false
}

func (a *LocalAdapter) GetReserves(entity xtypes.EntityID, tokenID xtypes.TokenID) *uint256.Int {
	return amountToU256(a.replica.Reserve(entity, tokenID))
}

func (a *LocalAdapter) GetCollateral(left, right xtypes.EntityID, tokenID xtypes.TokenID) (*uint256.Int, *uint256.Int) {
	collateral, ondelta := a.replica.Collateral(left, right, tokenID)
	return amountToU256(collateral), amountToU256(ondelta.Abs())
}

func (a *LocalAdapter) SubscribeBlocks() <-chan BlockNotification { return a.blockFeed }

// amountToU256 converts the magnitude (absolute value) of an
// xtypes.Amount: u256 boundary values (reserves, collateral) are
// non-negative by construction, and signed quantities like ondelta
// cross as (magnitude, sign-elsewhere).
func amountToU256(a xtypes.Amount) *uint256.Int {
	v, _ := uint256.FromBig(a.Abs().Big())
	return v
}
