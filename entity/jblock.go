package entity

import (
	"fmt"

	"github.com/xlnfinance/xln-core/account"
	"github.com/xlnfinance/xln-core/xerrors"
)

// tryFinalizeJBlock implements spec.md §4.5: once observations from
// >= board-threshold signers agree on an identical (blockNumber,
// blockHash, events) tuple, finalize. If two distinct tuples both
// reach threshold for the same height, safety requires rejecting both
// and halting the entity's J-view (JBlockForkDetected).
func tryFinalizeJBlock(s *State, blockNumber uint64, dryRun bool) error {
	byHeight := s.jObservations[blockNumber]

	type candidate struct {
		obs    JObservation
		weight uint64
		count  int
	}
	byHash := make(map[string]*candidate)
	for signer, obs := range byHeight {
		key := obs.BlockHash.String() + fmt.Sprint(obs.Events)
		c, ok := byHash[key]
		if !ok {
			c = &candidate{obs: obs}
			byHash[key] = c
		}
		c.weight += s.Config.Shares[signer]
		c.count++
	}

	var reaching []*candidate
	for _, c := range byHash {
		if c.weight >= s.Config.Threshold {
			reaching = append(reaching, c)
		}
	}

	if len(reaching) > 1 {
		if !dryRun {
			s.jForkedHeights[blockNumber] = true
			s.incrementDivergence(blockNumber)
		}
		return xerrors.Newf(xerrors.JBlockForkDetected, "entity: %d distinct observations reached threshold at height %d", len(reaching), blockNumber)
	}
	if len(reaching) == 0 {
		return nil
	}

	winner := reaching[0]
	// jBlockChain is shared with the committed State even on a
	// speculative clone (cloneForSpeculation copies the pointer, not
	// the cache), so finalization can only touch it for real.
	if !dryRun {
		s.jBlockChain.Add(blockNumber, JBlockFinalized{BlockNumber: blockNumber, BlockHash: winner.obs.BlockHash, Events: winner.obs.Events})
		s.LastFinalizedJHeight = blockNumber
		delete(s.jObservations, blockNumber)
	}
	applyFinalizedJEvents(s, winner.obs.Events, dryRun)
	return nil
}

// applyFinalizedJEvents emits j_sync account txs for accounts affected
// by the finalized block's events (spec.md §4.4 j_event contract). The
// account.Machine mutation is skipped during a dry run, same reasoning
// as every other account-touching tx kind in apply.go.
func applyFinalizedJEvents(s *State, events []JObservedEvent, dryRun bool) {
	for _, ev := range events {
		switch ev.Kind {
		case "ReserveUpdated":
			s.Reserves[ev.TokenID] = s.Reserve(ev.TokenID).Add(ev.Amount)
		case "AccountSettled":
			if dryRun {
				continue
			}
			if m := s.accountFor(ev.Peer); m != nil {
				_ = m.EnqueueAccountTx(account.AccountTx{
					Kind:  account.TxJSync,
					JSync: &account.JSyncTx{JBlockNumber: s.LastFinalizedJHeight, TokenID: ev.TokenID, Ondelta: ev.Amount},
				})
			}
		}
	}
}

// DivergenceScore returns the per-height count of forked-observation
// incidents recorded in divergenceScores. It is keyed by block number
// only; divergence is not attributed to individual signers.
func (s *State) DivergenceScore(blockNumber uint64) int {
	if s.divergenceScores == nil {
		return 0
	}
	return s.divergenceScores[blockNumber]
}

func (s *State) incrementDivergence(blockNumber uint64) {
	if s.divergenceScores == nil {
		s.divergenceScores = make(map[uint64]int)
	}
	s.divergenceScores[blockNumber]++
}
