package runtime

import (
	"sort"

	"github.com/xlnfinance/xln-core/entity"
	"github.com/xlnfinance/xln-core/jurisdiction"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// sortEntityInputs breaks ties lexicographically by (entityId,
// signerId) as spec.md §5's ordering guarantee requires. Go's sort is
// not required to be stable for our purposes since the tie-break key
// already includes every field input order could otherwise matter on,
// but sort.SliceStable preserves submission order among genuinely
// identical (entity,signer) pairs.
func sortEntityInputs(in []EntityInput) {
	sort.SliceStable(in, func(i, k int) bool {
		if in[i].EntityID != in[k].EntityID {
			return in[i].EntityID.Less(in[k].EntityID)
		}
		return in[i].SignerID < in[k].SignerID
	})
}

// dispatchEntityInput delivers one message to its target replica and
// returns every output it produces, destined for the *next* tick
// (spec.md §4.7 step 5).
func (e *Env) dispatchEntityInput(in EntityInput, now int64) (entityOut []EntityInput, jOut []JInput) {
	bySigner, ok := e.eReplicas[in.EntityID]
	if !ok {
		e.log.Warn(in.EntityID.String(), "runtime: entity input for unknown entity", nil)
		return nil, nil
	}
	r, ok := bySigner[in.SignerID]
	if !ok {
		e.log.Warn(in.EntityID.String(), "runtime: entity input for unknown signer", map[string]any{"signer": string(in.SignerID)})
		return nil, nil
	}

	jHeight := e.latestJHeight(r.State)

	switch in.Kind {
	case MsgEnqueueTx:
		tx := *in.Tx
		if in.internal {
			tx.Nonce = r.State.Nonces[tx.Signer] + 1
		}
		r.EnqueueTx(tx)
		if !r.IsProposer() || len(r.Mempool) == 0 {
			return nil, nil
		}
		frame, err := r.ProposeEntityFrame(jHeight)
		if err != nil {
			e.log.Err(in.EntityID.String(), err)
			return nil, nil
		}
		for signer := range r.State.Config.Shares {
			if signer == r.SignerID {
				continue
			}
			entityOut = append(entityOut, EntityInput{EntityID: in.EntityID, SignerID: signer, Kind: MsgPropose, Propose: frame})
		}
		return entityOut, nil

	case MsgPropose:
		sig, err := r.ReceivePropose(*in.Propose, jHeight)
		if err != nil {
			e.log.Err(in.EntityID.String(), err)
			return nil, nil
		}
		entityOut = append(entityOut, EntityInput{
			EntityID: in.EntityID, SignerID: in.Propose.ProposerID, Kind: MsgPrecommit,
			Precommit: &PrecommitMsg{Signer: r.SignerID, Signature: sig},
		})
		return entityOut, nil

	case MsgPrecommit:
		committed, err := r.ReceivePrecommit(in.Precommit.Signer, in.Precommit.Signature, jHeight)
		if err != nil {
			e.log.Err(in.EntityID.String(), err)
			return nil, nil
		}
		if !committed {
			return nil, nil
		}
		for signer := range r.State.Config.Shares {
			if signer == r.SignerID {
				continue
			}
			entityOut = append(entityOut, EntityInput{EntityID: in.EntityID, SignerID: signer, Kind: MsgCommit, Commit: r.LastCommittedFrame})
		}
		if len(r.State.LastFlushedJBatch) > 0 {
			jOut = append(jOut, e.buildJInput(r.State))
		}
		return entityOut, jOut

	case MsgCommit:
		if in.Commit.Height <= r.State.Height {
			return nil, nil // already applied, redelivered broadcast
		}
		if err := r.Commit(*in.Commit, jHeight); err != nil {
			e.log.Err(in.EntityID.String(), err)
			return nil, nil
		}
		if len(r.State.LastFlushedJBatch) > 0 {
			jOut = append(jOut, e.buildJInput(r.State))
		}
		return nil, jOut

	default:
		e.log.Warn(in.EntityID.String(), "runtime: unknown entity message kind", map[string]any{"kind": string(in.Kind)})
		return nil, nil
	}
}

// latestJHeight reports the jHeight a replica's next frame should
// carry: its own last-finalized J observation.
func (e *Env) latestJHeight(s *entity.State) uint64 { return s.LastFinalizedJHeight }

// buildJInput converts a just-flushed jBatchState into a JTxBatch
// destined for the jurisdiction named by the first settlement
// counterparty lookup the runtime has a xlnomy for; in this
// single-jurisdiction-per-entity-set deployment model every entity's
// batches target the same named jurisdiction the entity was imported
// against (SPEC_FULL.md simplification: multi-jurisdiction entities
// are out of scope, same as spec.md's own single-J examples).
func (e *Env) buildJInput(s *entity.State) JInput {
	var txs []jurisdiction.JTx
	for _, op := range s.LastFlushedJBatch {
		switch op.Kind {
		case "reserve_to_reserve":
			txs = append(txs, jurisdiction.JTx{
				Kind: jurisdiction.JTxReserveToReserve,
				ReserveToReserve: &jurisdiction.ReserveToReserveOp{
					From: s.Self, To: op.ReserveToReserve.To,
					TokenID: op.ReserveToReserve.TokenID, Amount: op.ReserveToReserve.Amount,
				},
			})
		case "settle":
			diffs := make([]jurisdiction.SettleDiff, len(op.Settlement.Diffs))
			for i, d := range op.Settlement.Diffs {
				diffs[i] = jurisdiction.SettleDiff{TokenID: d.TokenID, Collateral: d.Collateral, Ondelta: d.Ondelta}
			}
			txs = append(txs, jurisdiction.JTx{
				Kind:   jurisdiction.JTxSettle,
				Settle: &jurisdiction.SettleOp{Left: s.Self, Right: op.Settlement.Counterparty, Diffs: diffs},
			})
		case "deposit_collateral":
			txs = append(txs, jurisdiction.JTx{
				Kind: jurisdiction.JTxDepositCollateral,
				DepositCollateral: &jurisdiction.DepositCollateralOp{
					Left: s.Self, Right: op.DepositCollateral.Peer,
					TokenID: op.DepositCollateral.TokenID, Amount: op.DepositCollateral.Amount,
				},
			})
		}
	}
	s.LastFlushedJBatch = nil
	return JInput{Jurisdiction: e.jurisdictionFor(s.Self), Batch: jurisdiction.JTxBatch{Txs: txs, SubmittedEntity: s.Self, BatchSize: len(txs)}}
}

// jurisdictionFor picks the (only) jurisdiction self is registered
// against. With more than one matching jurisdiction the one returned
// depends on Go map iteration order and is not defined; see
// buildJInput's comment.
func (e *Env) jurisdictionFor(self xtypes.EntityID) string {
	for name, j := range e.jReplicas {
		if j.IsRegistered(self) {
			return name
		}
	}
	for name := range e.jReplicas {
		return name
	}
	return ""
}

// projectJEvents turns a produced J block's events into j_event
// EntityTx enqueue inputs for every (entity, signer) replica the event
// concerns, one per validator since each signer independently submits
// its own observation (spec.md §4.5: "observations aggregated per
// signer"). Every signer's observation is addressed to the entity's
// current proposer's mailbox rather than the signer's own, since only
// a proposer's mempool ever turns into a frame; a signer's own replica
// would otherwise hold an observation it can never propose until
// proposer rotation reaches it.
func (e *Env) projectJEvents(blockNumber uint64, blockHash xhash.Hash, events []jurisdiction.Event) []EntityInput {
	byEntity := make(map[xtypes.EntityID][]jurisdiction.Event)
	for _, ev := range events {
		byEntity[ev.Entity] = append(byEntity[ev.Entity], ev)
		if !ev.Peer.IsZero() {
			byEntity[ev.Peer] = append(byEntity[ev.Peer], ev)
		}
	}

	var out []EntityInput
	for entityID, evs := range byEntity {
		bySigner, ok := e.eReplicas[entityID]
		if !ok {
			continue
		}
		observed := make([]entity.JObservedEvent, len(evs))
		for i, ev := range evs {
			observed[i] = entity.JObservedEvent{Kind: string(ev.Kind), TokenID: ev.TokenID, Amount: ev.Amount, Peer: ev.Peer}
		}

		var proposer xtypes.SignerID
		signers := make([]xtypes.SignerID, 0, len(bySigner))
		for signer, r := range bySigner {
			signers = append(signers, signer)
			proposer = r.State.Config.ProposerAt(r.State.Height)
		}
		sort.Slice(signers, func(i, k int) bool { return signers[i] < signers[k] })

		for _, signer := range signers {
			tx := entity.EntityTx{
				Kind:   entity.TxJEvent,
				Signer: signer,
				JEvent: &entity.JEventTx{BlockNumber: blockNumber, BlockHash: blockHash, Events: observed},
			}
			out = append(out, EntityInput{EntityID: entityID, SignerID: proposer, Kind: MsgEnqueueTx, Tx: &tx, internal: true})
		}
	}
	return out
}
