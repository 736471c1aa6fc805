package account

import (
	"sort"

	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// AccountFrame is the immutable committed state transition of spec.md
// §3.
type AccountFrame struct {
	Height        uint64
	Timestamp     int64
	JHeight       uint64
	AccountTxs    []AccountTx
	PrevFrameHash xhash.Hash
	StateHash     xhash.Hash
	ByLeft        bool // true if the canonical-left side proposed this frame

	TokenIDs []xtypes.TokenID
	Deltas   []delta.Delta

	// hashValue caches frameHash(height, txsDigest, prevFrameHash); set
	// by whoever constructs or replays the frame.
	hashValue xhash.Hash
}

// tokenSnapshot returns TokenIDs/Deltas sorted by TokenID, the
// canonical ordering spec.md §6 "Persisted formats" requires for
// stateHash inputs (sort_by_tokenId).
func tokenSnapshot(deltas map[xtypes.TokenID]delta.Delta) ([]xtypes.TokenID, []delta.Delta) {
	ids := make([]xtypes.TokenID, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]delta.Delta, len(ids))
	for i, id := range ids {
		out[i] = deltas[id]
	}
	return ids, out
}

func lockSnapshot(locks map[string]HtlcLock) []HtlcLock {
	ids := make([]string, 0, len(locks))
	for id := range locks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]HtlcLock, len(ids))
	for i, id := range ids {
		out[i] = locks[id]
	}
	return out
}

func offerSnapshot(offers map[string]SwapOffer) []SwapOffer {
	ids := make([]string, 0, len(offers))
	for id := range offers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]SwapOffer, len(ids))
	for i, id := range ids {
		out[i] = offers[id]
	}
	return out
}

// computeStateHash implements spec.md §6:
// AccountFrame.stateHash = H(concat(sort_by_tokenId(tokenIds,deltas), sort_by_lockId(locks), sort_by_offerId(swapOffers))).
func computeStateHash(deltas map[xtypes.TokenID]delta.Delta, locks map[string]HtlcLock, offers map[string]SwapOffer) xhash.Hash {
	ids, ds := tokenSnapshot(deltas)
	parts := make([][]byte, 0, len(ids)*4+len(locks)*3+len(offers)*4)
	for i, id := range ids {
		d := ds[i]
		parts = append(parts,
			xhash.Uint32LE(uint32(id)),
			[]byte(d.Collateral.String()),
			[]byte(d.Ondelta.String()),
			[]byte(d.Offdelta.String()),
			[]byte(d.LeftCreditLimit.String()),
			[]byte(d.RightCreditLimit.String()),
			[]byte(d.LeftHtlcHold.String()),
			[]byte(d.RightHtlcHold.String()),
			[]byte(d.LeftSwapHold.String()),
			[]byte(d.RightSwapHold.String()),
		)
	}
	for _, l := range lockSnapshot(locks) {
		parts = append(parts, []byte(l.LockID), l.Hashlock.Bytes(), xhash.Uint64LE(l.Timelock))
	}
	for _, o := range offerSnapshot(offers) {
		parts = append(parts,
			[]byte(o.OfferID),
			xhash.Uint32LE(uint32(o.GiveTokenID)),
			[]byte(o.GiveAmount.String()),
			xhash.Uint32LE(uint32(o.WantTokenID)),
			[]byte(o.WantAmount.String()),
		)
	}
	return xhash.H(parts...)
}

// frameHash implements spec.md §6: EntityFrame.hash-style digest
// reused for account frames: H(height || txs-hash || prevFrameHash).
func frameHash(height uint64, txsDigest xhash.Hash, prevHash xhash.Hash) xhash.Hash {
	return xhash.H(xhash.Uint64LE(height), txsDigest.Bytes(), prevHash.Bytes())
}

func txsDigest(txs []AccountTx) xhash.Hash {
	parts := make([][]byte, 0, len(txs))
	for _, tx := range txs {
		parts = append(parts, []byte(tx.Kind))
	}
	return xhash.H(parts...)
}

// SignedFrame pairs a committed/proposed frame with the signatures
// collected for it so far (spec.md §4.2 pendingSignatures).
type SignedFrame struct {
	Frame      AccountFrame
	Signatures []xsig.Signature
}
