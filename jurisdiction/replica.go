package jurisdiction

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// collateralKey addresses one token's collateral line between the
// canonical-left/right pair, mirroring xtypes.Canonical.
type collateralKey struct {
	Key     xtypes.CanonicalKey
	TokenID xtypes.TokenID
}

// collateralLine is J's view of a bilateral account's settled state:
// collateral backing it plus the ondelta split between the two sides.
// It is the J-side counterpart of account.Delta, updated only by
// Settle/DepositCollateral batches, never by A-machine frames.
type collateralLine struct {
	Collateral xtypes.Amount
	Ondelta    xtypes.Amount
}

// debt is one FIFO-queued shortfall: left unpaid by a rejected or
// partial settlement, repaid automatically out of the debtor's next
// reserve increases (spec.md §4.6 "FIFO debt enforcement").
type debt struct {
	Creditor xtypes.EntityID
	TokenID  xtypes.TokenID
	Amount   xtypes.Amount
}

// JReplica is one jurisdiction's full state: reserves, collateral
// lines, registered entities, and the delayed block-production
// machine. Grounded on the teacher's node/chainstate.go (a single
// authoritative state struct advanced by AppendBlock) generalized from
// UTXO set + block index to reserve ledger + collateral lines.
type JReplica struct {
	Name        string
	BlockNumber uint64
	StateRoot   xhash.Hash
	PrevHash    xhash.Hash

	BlockDelayMs       uint64
	LastBlockTimestamp uint64

	Mempool []JTxBatch

	reserves    map[xtypes.EntityID]map[xtypes.TokenID]xtypes.Amount
	collaterals map[collateralKey]collateralLine
	registered  map[xtypes.EntityID]bool
	debts       map[xtypes.EntityID][]debt

	// blockChain retains recent finalized blocks for fork/replay
	// checks without unbounded memory growth.
	blockChain *lru.Cache[uint64, xhash.Hash]
}

func New(name string, blockDelayMs uint64, historyRetention int) *JReplica {
	chain, _ := lru.New[uint64, xhash.Hash](historyRetention)
	return &JReplica{
		Name:         name,
		BlockDelayMs: blockDelayMs,
		reserves:     make(map[xtypes.EntityID]map[xtypes.TokenID]xtypes.Amount),
		collaterals:  make(map[collateralKey]collateralLine),
		registered:   make(map[xtypes.EntityID]bool),
		debts:        make(map[xtypes.EntityID][]debt),
		blockChain:   chain,
	}
}

func (j *JReplica) RegisterEntity(id xtypes.EntityID) { j.registered[id] = true }

func (j *JReplica) IsRegistered(id xtypes.EntityID) bool { return j.registered[id] }

func (j *JReplica) Reserve(entity xtypes.EntityID, tokenID xtypes.TokenID) xtypes.Amount {
	byToken, ok := j.reserves[entity]
	if !ok {
		return xtypes.Zero()
	}
	return byToken[tokenID]
}

func (j *JReplica) Collateral(left, right xtypes.EntityID, tokenID xtypes.TokenID) (xtypes.Amount, xtypes.Amount) {
	_, _, key := xtypes.Canonical(left, right)
	line := j.collaterals[collateralKey{key, tokenID}]
	return line.Collateral, line.Ondelta
}

func (j *JReplica) setReserve(entity xtypes.EntityID, tokenID xtypes.TokenID, v xtypes.Amount) {
	byToken, ok := j.reserves[entity]
	if !ok {
		byToken = make(map[xtypes.TokenID]xtypes.Amount)
		j.reserves[entity] = byToken
	}
	byToken[tokenID] = v
}

// creditReserve adds amount to entity's reserve, then repays queued
// debts owed by entity at index 0 first, in order, until the
// increase is exhausted (spec.md §4.6 FIFO debt enforcement).
func (j *JReplica) creditReserve(entity xtypes.EntityID, tokenID xtypes.TokenID, amount xtypes.Amount) []Event {
	j.setReserve(entity, tokenID, j.Reserve(entity, tokenID).Add(amount))

	var events []Event
	queue := j.debts[entity]
	remaining := amount
	i := 0
	for i < len(queue) && remaining.IsPositive() {
		d := queue[i]
		if d.TokenID != tokenID {
			i++
			continue
		}
		pay := xtypes.Min(remaining, d.Amount)
		j.setReserve(entity, tokenID, j.Reserve(entity, tokenID).Sub(pay))
		j.setReserve(d.Creditor, tokenID, j.Reserve(d.Creditor, tokenID).Add(pay))
		events = append(events, Event{Kind: EventReserveUpdated, Entity: d.Creditor, TokenID: tokenID, Amount: j.Reserve(d.Creditor, tokenID)})
		remaining = remaining.Sub(pay)
		queue[i].Amount = d.Amount.Sub(pay)
		if queue[i].Amount.IsZero() {
			queue = append(queue[:i], queue[i+1:]...)
			continue
		}
		i++
	}
	j.debts[entity] = queue
	return events
}

func (j *JReplica) queueDebt(debtor, creditor xtypes.EntityID, tokenID xtypes.TokenID, amount xtypes.Amount) {
	j.debts[debtor] = append(j.debts[debtor], debt{Creditor: creditor, TokenID: tokenID, Amount: amount})
}

// SubmitBatch enqueues a j_broadcast for the next eligible block
// (spec.md §4.6 FIFO mempool).
func (j *JReplica) SubmitBatch(b JTxBatch) {
	j.Mempool = append(j.Mempool, b)
}

// ReadyToProduce reports whether enough time has elapsed since the
// last block to produce another (spec.md §4.6: time-delayed,
// deterministic block producer).
func (j *JReplica) ReadyToProduce(now uint64) bool {
	return len(j.Mempool) > 0 && now-j.LastBlockTimestamp >= j.BlockDelayMs
}

// ProduceBlock drains the mempool into one block, applying each batch
// in FIFO order; a rejected batch does not halt the block, it simply
// contributes no state change beyond its own BatchRejected event
// (spec.md §4.6: "block still advances so replay protection holds").
func (j *JReplica) ProduceBlock(now uint64) ([]Event, []error) {
	batches := j.Mempool
	j.Mempool = nil

	var events []Event
	var errs []error
	for _, batch := range batches {
		batchEvents, err := j.applyBatch(batch)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, batchEvents...)
	}

	j.BlockNumber++
	j.LastBlockTimestamp = now
	j.PrevHash = j.StateRoot
	j.StateRoot = j.computeStateRoot()
	if j.blockChain != nil {
		j.blockChain.Add(j.BlockNumber, j.StateRoot)
	}
	for i := range events {
		events[i].BlockNumber = j.BlockNumber
		events[i].BlockHash = j.StateRoot
	}
	return events, errs
}

// applyBatch runs every tx in batch against a snapshot of the
// mutable ledger state, committing it only if the whole batch
// succeeds (spec.md §4.6: "the whole batch fails atomically").
func (j *JReplica) applyBatch(batch JTxBatch) ([]Event, error) {
	snapshot := j.snapshotState()
	var events []Event
	for _, tx := range batch.Txs {
		ev, err := j.applyTx(tx)
		if err != nil {
			j.restoreState(snapshot)
			return nil, err
		}
		events = append(events, ev...)
	}
	return events, nil
}

type ledgerSnapshot struct {
	reserves    map[xtypes.EntityID]map[xtypes.TokenID]xtypes.Amount
	collaterals map[collateralKey]collateralLine
	debts       map[xtypes.EntityID][]debt
}

func (j *JReplica) snapshotState() ledgerSnapshot {
	reserves := make(map[xtypes.EntityID]map[xtypes.TokenID]xtypes.Amount, len(j.reserves))
	for entity, byToken := range j.reserves {
		cp := make(map[xtypes.TokenID]xtypes.Amount, len(byToken))
		for tokenID, amount := range byToken {
			cp[tokenID] = amount
		}
		reserves[entity] = cp
	}
	collaterals := make(map[collateralKey]collateralLine, len(j.collaterals))
	for k, v := range j.collaterals {
		collaterals[k] = v
	}
	debts := make(map[xtypes.EntityID][]debt, len(j.debts))
	for entity, queue := range j.debts {
		debts[entity] = append([]debt(nil), queue...)
	}
	return ledgerSnapshot{reserves: reserves, collaterals: collaterals, debts: debts}
}

func (j *JReplica) restoreState(s ledgerSnapshot) {
	j.reserves = s.reserves
	j.collaterals = s.collaterals
	j.debts = s.debts
}

func (j *JReplica) applyTx(tx JTx) ([]Event, error) {
	switch tx.Kind {
	case JTxRegisterEntity:
		j.RegisterEntity(tx.RegisterEntity.EntityID)
		return nil, nil
	case JTxMintReserves:
		op := tx.MintReserves
		events := j.creditReserve(op.To, op.TokenID, op.Amount)
		return append(events, Event{Kind: EventReserveUpdated, Entity: op.To, TokenID: op.TokenID, Amount: op.Amount}), nil
	case JTxReserveToReserve:
		return j.applyReserveToReserve(tx.ReserveToReserve)
	case JTxDepositCollateral:
		return j.applyDepositCollateral(tx.DepositCollateral)
	case JTxSettle:
		return j.applySettle(tx.Settle)
	default:
		return nil, newBatchRejected("unknown jtx kind")
	}
}

func (j *JReplica) applyReserveToReserve(op *ReserveToReserveOp) ([]Event, error) {
	if !j.registered[op.To] {
		return nil, newBatchRejected("unknown recipient")
	}
	have := j.Reserve(op.From, op.TokenID)
	if have.Cmp(op.Amount) < 0 {
		return nil, newBatchRejected("reserve_to_reserve: insufficient reserve")
	}
	j.setReserve(op.From, op.TokenID, have.Sub(op.Amount))
	events := j.creditReserve(op.To, op.TokenID, op.Amount)
	return append(events,
		Event{Kind: EventReserveUpdated, Entity: op.From, TokenID: op.TokenID, Amount: have.Sub(op.Amount)},
		Event{Kind: EventReserveUpdated, Entity: op.To, TokenID: op.TokenID, Amount: j.Reserve(op.To, op.TokenID)},
	), nil
}

func (j *JReplica) applyDepositCollateral(op *DepositCollateralOp) ([]Event, error) {
	have := j.Reserve(op.Left, op.TokenID)
	if have.Cmp(op.Amount) < 0 {
		return nil, newBatchRejected("deposit_collateral: insufficient reserve")
	}
	j.setReserve(op.Left, op.TokenID, have.Sub(op.Amount))
	_, _, key := xtypes.Canonical(op.Left, op.Right)
	k := collateralKey{key, op.TokenID}
	line := j.collaterals[k]
	line.Collateral = line.Collateral.Add(op.Amount)
	j.collaterals[k] = line
	return []Event{{Kind: EventReserveUpdated, Entity: op.Left, TokenID: op.TokenID, Amount: j.Reserve(op.Left, op.TokenID)}}, nil
}

// applySettle implements spec.md §4.4 createSettlement: each diff
// re-splits one token's (collateral, ondelta) line between the pair,
// crediting any freed collateral back to the reserves of the side the
// new ondelta favors. It does not create debts.
func (j *JReplica) applySettle(op *SettleOp) ([]Event, error) {
	var events []Event
	for _, diff := range op.Diffs {
		left, right, key := xtypes.Canonical(op.Left, op.Right)
		k := collateralKey{key, diff.TokenID}
		prev := j.collaterals[k]
		if diff.Collateral.IsNegative() {
			return nil, newBatchRejected("settle: negative collateral")
		}
		released := prev.Collateral.Sub(diff.Collateral)
		j.collaterals[k] = collateralLine{Collateral: diff.Collateral, Ondelta: diff.Ondelta}
		if released.IsPositive() {
			// Freed collateral returns to whichever side is net owed
			// at the new ondelta split; left is owed when ondelta>0.
			beneficiary := right
			if diff.Ondelta.IsPositive() {
				beneficiary = left
			}
			j.creditReserve(beneficiary, diff.TokenID, released)
		}
		events = append(events, Event{Kind: EventAccountSettled, Entity: left, Peer: right, TokenID: diff.TokenID, Amount: diff.Collateral})
	}
	return events, nil
}

// computeStateRoot hashes reserves and collateral lines in
// deterministic (sorted) order, matching the canonical-hash idiom
// account.AccountFrame.computeStateHash uses for its own snapshots.
func (j *JReplica) computeStateRoot() xhash.Hash {
	type reserveEntry struct {
		Entity  xtypes.EntityID
		TokenID xtypes.TokenID
		Amount  xtypes.Amount
	}
	var reserveEntries []reserveEntry
	for entity, byToken := range j.reserves {
		for tokenID, amount := range byToken {
			reserveEntries = append(reserveEntries, reserveEntry{entity, tokenID, amount})
		}
	}
	sort.Slice(reserveEntries, func(i, k int) bool {
		if reserveEntries[i].Entity != reserveEntries[k].Entity {
			return reserveEntries[i].Entity.Less(reserveEntries[k].Entity)
		}
		return reserveEntries[i].TokenID < reserveEntries[k].TokenID
	})

	var parts [][]byte
	parts = append(parts, j.PrevHash.Bytes(), xhash.Uint64LE(j.BlockNumber))
	for _, e := range reserveEntries {
		parts = append(parts, e.Entity[:], xhash.Uint32LE(uint32(e.TokenID)), []byte(e.Amount.String()))
	}

	var lineKeys []collateralKey
	for k := range j.collaterals {
		lineKeys = append(lineKeys, k)
	}
	sort.Slice(lineKeys, func(i, k int) bool {
		if lineKeys[i].Key != lineKeys[k].Key {
			return lineKeys[i].Key < lineKeys[k].Key
		}
		return lineKeys[i].TokenID < lineKeys[k].TokenID
	})
	for _, k := range lineKeys {
		line := j.collaterals[k]
		parts = append(parts, []byte(k.Key), xhash.Uint32LE(uint32(k.TokenID)), []byte(line.Collateral.String()), []byte(line.Ondelta.String()))
	}
	return xhash.H(parts...)
}
