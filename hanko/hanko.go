// Package hanko implements spec.md §4.8: aggregated threshold
// signature packaging and verification for entity commits. Grounded
// on the teacher's consensus/fork_choice.go weighted-vote tallying
// (validators/shares/threshold), generalized from a flat single-level
// vote tally into the recursive claims structure a Hanko needs to
// express "entity X's signature" as itself a threshold over X's own
// board.
package hanko

import (
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// Claim assembles one entity-level threshold out of leaf signatures:
// entityIndexes names which packedSignatures entries belong to this
// entity's board, in the same order as weights.
type Claim struct {
	EntityID          xtypes.EntityID
	EntityIndexes     []int
	Weights           []uint64
	Threshold         uint64
	ExpectedQuorumHash xhash.Hash
}

// Hanko is the aggregated, partially-sparse signature object attached
// to an entity commit.
type Hanko struct {
	Placeholders     []xtypes.EntityID
	PackedSignatures []xsig.Signature
	Claims           []Claim
}

// VerifyResult is the outcome of verifyHankoForHash.
type VerifyResult struct {
	Valid          bool
	EntityID       xtypes.EntityID
	YesEntities    []xtypes.EntityID
	NoEntities     []xtypes.EntityID
	CompletionPct  float64
}

// leafKey identifies one packedSignature slot by the entity and board
// seat it was collected for, used to resolve a claim's entityIndexes
// against the board's public keys.
type leafKey struct {
	boardEntity xtypes.EntityID
	signerID    xtypes.SignerID
}

// BoardPubKeys maps (boardEntity, signerID) to the public key expected
// to have produced the packedSignature at the matching index, supplied
// by the caller (the entity's config.validators) since Hanko itself
// carries no key material.
type BoardPubKeys map[leafKey][]byte

func NewBoardPubKeys() BoardPubKeys { return make(BoardPubKeys) }

func (b BoardPubKeys) Register(boardEntity xtypes.EntityID, signerID xtypes.SignerID, pubkey []byte) {
	b[leafKey{boardEntity, signerID}] = pubkey
}

// VerifyHankoForHash finds the claim for expectedEntityId and checks
// its leaf signatures against digest, reporting whether yes-weight
// meets threshold (spec.md §4.8 verifyHankoForHash). Only that one
// claim is checked, and claims nested through other entities are not
// resolved recursively.
func VerifyHankoForHash(h Hanko, digest xhash.Hash, expectedEntityID xtypes.EntityID, provider xsig.Provider, keys BoardPubKeys, seatSignerOf func(claim Claim, idx int) xtypes.SignerID) (VerifyResult, error) {
	var target *Claim
	for i := range h.Claims {
		if h.Claims[i].EntityID == expectedEntityID {
			target = &h.Claims[i]
			break
		}
	}
	if target == nil {
		return VerifyResult{}, xerrors.Newf(xerrors.InvalidSignature, "hanko: no claim for entity %s", expectedEntityID)
	}

	var yesWeight uint64
	var yes, no []xtypes.EntityID
	for i, idx := range target.EntityIndexes {
		if idx < 0 || idx >= len(h.PackedSignatures) {
			return VerifyResult{}, xerrors.New(xerrors.InvalidSignature, "hanko: entityIndex out of range")
		}
		sig := h.PackedSignatures[idx]
		signerID := seatSignerOf(*target, i)
		pub, ok := keys[leafKey{target.EntityID, signerID}]
		if !ok || len(sig) == 0 || !provider.Verify(pub, digest, sig) {
			no = append(no, entityOfSigner(h.Placeholders, signerID))
			continue
		}
		yesWeight += target.Weights[i]
		yes = append(yes, entityOfSigner(h.Placeholders, signerID))
	}

	valid := yesWeight >= target.Threshold
	pct := 0.0
	if target.Threshold > 0 {
		pct = float64(yesWeight) / float64(target.Threshold) * 100
		if pct > 100 {
			pct = 100
		}
	}
	return VerifyResult{
		Valid:         valid,
		EntityID:      expectedEntityID,
		YesEntities:   yes,
		NoEntities:    no,
		CompletionPct: pct,
	}, nil
}

// entityOfSigner is a best-effort label; Hanko's placeholder list is
// the only entity-identifying context available at the leaf level. It
// returns the first placeholder without matching it to the signer, or
// the zero EntityID when there are no placeholders.
func entityOfSigner(placeholders []xtypes.EntityID, _ xtypes.SignerID) xtypes.EntityID {
	if len(placeholders) == 0 {
		return xtypes.EntityID{}
	}
	return placeholders[0]
}

// Merge combines two partial Hankos for the same hash by unioning
// packedSignatures and claims, letting a later verification pass
// re-count weights (spec.md §4.8 "safe to merge two partial Hankos").
func Merge(a, b Hanko) Hanko {
	out := Hanko{
		Placeholders:     append([]xtypes.EntityID(nil), a.Placeholders...),
		PackedSignatures: append([]xsig.Signature(nil), a.PackedSignatures...),
		Claims:           append([]Claim(nil), a.Claims...),
	}
	offset := len(out.PackedSignatures)
	out.PackedSignatures = append(out.PackedSignatures, b.PackedSignatures...)
	for _, c := range b.Claims {
		shifted := c
		shifted.EntityIndexes = make([]int, len(c.EntityIndexes))
		for i, idx := range c.EntityIndexes {
			shifted.EntityIndexes[i] = idx + offset
		}
		out.Claims = mergeClaim(out.Claims, shifted)
	}
	for _, p := range b.Placeholders {
		if !containsEntity(out.Placeholders, p) {
			out.Placeholders = append(out.Placeholders, p)
		}
	}
	return out
}

func mergeClaim(claims []Claim, c Claim) []Claim {
	for i := range claims {
		if claims[i].EntityID == c.EntityID {
			claims[i].EntityIndexes = append(claims[i].EntityIndexes, c.EntityIndexes...)
			claims[i].Weights = append(claims[i].Weights, c.Weights...)
			return claims
		}
	}
	return append(claims, c)
}

func containsEntity(list []xtypes.EntityID, e xtypes.EntityID) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}
