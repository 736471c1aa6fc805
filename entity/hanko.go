package entity

import (
	"github.com/xlnfinance/xln-core/hanko"
	"github.com/xlnfinance/xln-core/xsig"
)

// ExportHanko packages a committed frame's collected precommit
// signatures into a hanko.Hanko usable as the entity's aggregated
// commit signature on downstream consumers (spec.md §4.4 "commits
// carry the aggregated signature (§4.8)").
func (r *Replica) ExportHanko(frame ProposedFrame) hanko.Hanko {
	indexes := make([]int, 0, len(r.State.Config.Validators))
	weights := make([]uint64, 0, len(r.State.Config.Validators))
	sigs := make([]xsig.Signature, 0, len(r.State.Config.Validators))
	for _, signer := range r.State.Config.Validators {
		sig, ok := frame.Signatures[signer]
		if !ok {
			continue
		}
		indexes = append(indexes, len(sigs))
		weights = append(weights, r.State.Config.Shares[signer])
		sigs = append(sigs, sig)
	}
	return hanko.Hanko{
		PackedSignatures: sigs,
		Claims: []hanko.Claim{{
			EntityID:      r.EntityID,
			EntityIndexes: indexes,
			Weights:       weights,
			Threshold:     r.State.Config.Threshold,
		}},
	}
}
