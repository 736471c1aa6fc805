package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/runtime"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xtypes"
)

func TestPutGetSnapshotRoundTrip(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	entityID := xtypes.EntityID{9}
	rec := HeightRecord{
		Height:    3,
		Timestamp: 1234,
		Entities: []EntityRecord{
			{EntityID: entityID, SignerID: "A", Height: 3, StateHash: xhash.H([]byte("a"))},
		},
		Jurisdictions: []JurisdictionRecord{
			{Name: "devnet", BlockNumber: 1, StateRoot: xhash.H([]byte("b"))},
		},
	}
	require.NoError(t, db.PutSnapshot(rec))

	got, ok, err := db.GetSnapshot(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, *got)

	_, ok, err = db.GetSnapshot(4)
	require.NoError(t, err)
	require.False(t, ok)

	latest, ok, err := db.LatestReplica(entityID, "A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), latest.Height)

	jLatest, ok, err := db.LatestJurisdiction("devnet")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), jLatest.BlockNumber)

	atHeight, ok, err := db.JBlockAtHeight("devnet", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, jLatest.StateRoot, atHeight.StateRoot)

	_, ok, err = db.JBlockAtHeight("devnet", 2)
	require.NoError(t, err)
	require.False(t, ok, "block 2 was never recorded")
}

func TestManifestRoundTrip(t *testing.T) {
	datadir := t.TempDir()
	db, err := Open(datadir)
	require.NoError(t, err)

	require.Nil(t, db.Manifest())
	require.NoError(t, db.SetManifest(&Manifest{SchemaVersion: SchemaVersionV1, TipHeight: 7, TipTimestamp: 555}))
	require.Equal(t, uint64(7), db.Manifest().TipHeight)
	require.NoError(t, db.Close())

	// Reopening must recover the manifest written by a prior process.
	reopened, err := Open(datadir)
	require.NoError(t, err)
	defer reopened.Close()
	require.NotNil(t, reopened.Manifest())
	require.Equal(t, uint64(7), reopened.Manifest().TipHeight)
}

func TestPruneBelow(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	for h := uint64(1); h <= 5; h++ {
		require.NoError(t, db.PutSnapshot(HeightRecord{Height: h}))
	}
	require.NoError(t, db.PruneBelow(3))

	for h := uint64(1); h < 3; h++ {
		_, ok, err := db.GetSnapshot(h)
		require.NoError(t, err)
		require.False(t, ok, "height %d should have been pruned", h)
	}
	for h := uint64(3); h <= 5; h++ {
		_, ok, err := db.GetSnapshot(h)
		require.NoError(t, err)
		require.True(t, ok, "height %d must survive the prune", h)
	}
}

func TestFromSnapshotDeterministicOrdering(t *testing.T) {
	entityA := xtypes.EntityID{1}
	entityB := xtypes.EntityID{2}
	snap := runtime.EnvSnapshot{
		Height: 1,
		EReplicas: map[xtypes.EntityID]map[xtypes.SignerID]runtime.EntitySummary{
			entityB: {"Z": {Height: 1}, "A": {Height: 1}},
			entityA: {"A": {Height: 1}},
		},
		JReplicas: map[string]runtime.JSummary{
			"zchain": {BlockNumber: 1},
			"achain": {BlockNumber: 2},
		},
	}
	rec := FromSnapshot(snap)
	require.Len(t, rec.Entities, 3)
	require.Equal(t, entityA, rec.Entities[0].EntityID, "entityA sorts before entityB")
	require.Equal(t, entityB, rec.Entities[1].EntityID)
	require.Equal(t, xtypes.SignerID("A"), rec.Entities[1].SignerID, "within entityB, A sorts before Z")
	require.Equal(t, []string{"achain", "zchain"}, []string{rec.Jurisdictions[0].Name, rec.Jurisdictions[1].Name})
}
