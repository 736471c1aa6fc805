package store

import (
	"sort"

	"github.com/xlnfinance/xln-core/runtime"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

// EntityRecord is one (entity, signer) replica's committed position at
// the height a HeightRecord was captured for, matching
// runtime.EntitySummary.
type EntityRecord struct {
	EntityID  xtypes.EntityID `json:"entity_id"`
	SignerID  xtypes.SignerID `json:"signer_id"`
	Height    uint64          `json:"height"`
	StateHash xhash.Hash      `json:"state_hash"`
}

// JurisdictionRecord is one named jurisdiction's position at the
// height a HeightRecord was captured for, matching runtime.JSummary.
type JurisdictionRecord struct {
	Name        string     `json:"name"`
	BlockNumber uint64     `json:"block_number"`
	StateRoot   xhash.Hash `json:"state_root"`
}

// HeightRecord is the persisted projection of one runtime.EnvSnapshot:
// every replica's compact summary, not its full state, for the same
// reason EnvSnapshot itself only keeps summaries (types.go's doc
// comment on EnvSnapshot) — a process that replays from genesis can
// reconstruct full state, but history kept merely for P1/P2/P7 checks
// and restart bookkeeping never needs to. RuntimeInput/RuntimeOutputs
// and Logs are deliberately dropped: they are replay input, not
// settled state, and keeping them here would make on-disk history grow
// without the same bound xconfig.Config.SnapshotRetention already
// places on the in-memory copy.
type HeightRecord struct {
	Height        uint64               `json:"height"`
	Timestamp     int64                `json:"timestamp"`
	Entities      []EntityRecord       `json:"entities"`
	Jurisdictions []JurisdictionRecord `json:"jurisdictions"`
}

// FromSnapshot flattens a runtime.EnvSnapshot's nested summary maps
// into a HeightRecord with a fixed iteration order, so the same
// snapshot always serializes to the same bytes regardless of Go's
// randomized map iteration.
func FromSnapshot(snap runtime.EnvSnapshot) HeightRecord {
	rec := HeightRecord{Height: snap.Height, Timestamp: snap.Timestamp}

	for entityID, bySigner := range snap.EReplicas {
		for signerID, sum := range bySigner {
			rec.Entities = append(rec.Entities, EntityRecord{
				EntityID:  entityID,
				SignerID:  signerID,
				Height:    sum.Height,
				StateHash: sum.StateHash,
			})
		}
	}
	sort.Slice(rec.Entities, func(i, k int) bool {
		a, b := rec.Entities[i], rec.Entities[k]
		if a.EntityID != b.EntityID {
			return a.EntityID.Less(b.EntityID)
		}
		return a.SignerID < b.SignerID
	})

	for name, sum := range snap.JReplicas {
		rec.Jurisdictions = append(rec.Jurisdictions, JurisdictionRecord{
			Name:        name,
			BlockNumber: sum.BlockNumber,
			StateRoot:   sum.StateRoot,
		})
	}
	sort.Slice(rec.Jurisdictions, func(i, k int) bool { return rec.Jurisdictions[i].Name < rec.Jurisdictions[k].Name })

	return rec
}
