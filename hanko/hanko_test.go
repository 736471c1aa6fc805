package hanko

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

func TestVerifyHankoForHashReachesThreshold(t *testing.T) {
	provider := xsig.NewDevProvider()
	entity := xtypes.EntityID{9}
	signers := []xtypes.SignerID{"a", "b", "c"}
	for _, s := range signers {
		_, err := provider.Register(s)
		require.NoError(t, err)
	}

	digest := xhash.H([]byte("commit"))
	keys := NewBoardPubKeys()
	sigs := make([]xsig.Signature, len(signers))
	for i, s := range signers {
		pub, err := provider.PublicKey(s)
		require.NoError(t, err)
		keys.Register(entity, s, pub)
		if s != "c" {
			sig, err := provider.Sign(s, digest)
			require.NoError(t, err)
			sigs[i] = sig
		}
	}

	h := Hanko{
		PackedSignatures: sigs,
		Claims: []Claim{{
			EntityID:      entity,
			EntityIndexes: []int{0, 1, 2},
			Weights:       []uint64{1, 1, 1},
			Threshold:     2,
		}},
	}

	result, err := VerifyHankoForHash(h, digest, entity, provider, keys, func(c Claim, idx int) xtypes.SignerID {
		return signers[idx]
	})
	require.NoError(t, err)
	require.True(t, result.Valid)
	require.Len(t, result.YesEntities, 2)
	require.Len(t, result.NoEntities, 1)
}

func TestMergeUnionsSignaturesAndClaims(t *testing.T) {
	entity := xtypes.EntityID{1}
	a := Hanko{
		PackedSignatures: []xsig.Signature{[]byte("sigA")},
		Claims: []Claim{{
			EntityID: entity, EntityIndexes: []int{0}, Weights: []uint64{1}, Threshold: 2,
		}},
	}
	b := Hanko{
		PackedSignatures: []xsig.Signature{[]byte("sigB")},
		Claims: []Claim{{
			EntityID: entity, EntityIndexes: []int{0}, Weights: []uint64{1}, Threshold: 2,
		}},
	}
	merged := Merge(a, b)
	require.Len(t, merged.PackedSignatures, 2)
	require.Len(t, merged.Claims, 1)
	require.Equal(t, []int{0, 1}, merged.Claims[0].EntityIndexes)
}
