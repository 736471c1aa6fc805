// Package store persists a Runtime's EnvSnapshot feed to disk, adapted
// from the teacher's node/store package: the same bucket-per-kind
// bbolt layout and atomic-manifest-write idiom, generalized from one
// UTXO chain's headers/blocks/utxo/undo to XLN's per-height entity and
// jurisdiction replica summaries.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/xlnfinance/xln-core/xtypes"
)

var (
	bucketSnapshots    = []byte("snapshots_by_height")
	bucketReplicaState = []byte("replica_state_by_key")
	bucketJBlockHeight = []byte("jblock_by_height")
)

// SnapshotStore is the on-disk store for one Runtime's EnvSnapshot
// feed (spec.md §6.2). Time-travel to any height still within
// SnapshotRetention is a bucket read here; beyond that bound, §8 P8
// deterministic replay from the RuntimeInput log is the fallback —
// this store never claims to be the sole source of truth.
type SnapshotStore struct {
	dir      string
	db       *bolt.DB
	manifest *Manifest
}

// Open opens (creating if absent) the runtime store rooted at
// datadir. A freshly created store has a nil Manifest; the caller
// must SetManifest once genesis state exists.
func Open(datadir string) (*SnapshotStore, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}

	dir := RuntimeDir(datadir)
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Join(dir, "db")); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, "db", "kv.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &SnapshotStore{dir: dir, db: bdb}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSnapshots, bucketReplicaState, bucketJBlockHeight} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m
	return d, nil
}

func (d *SnapshotStore) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *SnapshotStore) Dir() string { return d.dir }

func (d *SnapshotStore) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *SnapshotStore) SetManifest(m *Manifest) error {
	if d == nil {
		return fmt.Errorf("store: nil")
	}
	if err := writeManifestAtomic(d.dir, m); err != nil {
		return err
	}
	d.manifest = m
	return nil
}

// heightKey encodes height big-endian so bbolt's byte-ordered cursor
// iterates a height-keyed bucket in ascending order; the teacher's
// hash-keyed buckets have no such ordering requirement since nothing
// range-scans them, but PruneBelow does.
func heightKey(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

// entityReplicaKey and jurisdictionReplicaKey share bucketReplicaState
// under disjoint prefixes, the way the teacher shares one keyspace
// across logically distinct record shapes only when a single "latest
// known position" index is all that's needed (contrast
// bucketJBlockHeight, which keeps every height, not just the latest).
func entityReplicaKey(entityID xtypes.EntityID, signerID xtypes.SignerID) []byte {
	key := append([]byte{'e'}, entityID[:]...)
	return append(key, []byte(signerID)...)
}

func jurisdictionReplicaKey(name string) []byte {
	return append([]byte{'j'}, []byte(name)...)
}

func jblockKey(name string, height uint64) []byte {
	return append(append([]byte(name), ':'), heightKey(height)...)
}

// PutSnapshot persists one HeightRecord: the full record keyed by
// height, each jurisdiction's summary additionally keyed by
// (name, blockNumber) for time-travel to a specific past J block, and
// both replica kinds' latest-known position, all in one transaction.
func (d *SnapshotStore) PutSnapshot(rec HeightRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSnapshots).Put(heightKey(rec.Height), val); err != nil {
			return err
		}
		rb := tx.Bucket(bucketReplicaState)
		for _, e := range rec.Entities {
			ev, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("entity record encode: %w", err)
			}
			if err := rb.Put(entityReplicaKey(e.EntityID, e.SignerID), ev); err != nil {
				return err
			}
		}
		jb := tx.Bucket(bucketJBlockHeight)
		for _, j := range rec.Jurisdictions {
			jv, err := json.Marshal(j)
			if err != nil {
				return fmt.Errorf("jurisdiction record encode: %w", err)
			}
			if err := rb.Put(jurisdictionReplicaKey(j.Name), jv); err != nil {
				return err
			}
			if err := jb.Put(jblockKey(j.Name, j.BlockNumber), jv); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *SnapshotStore) GetSnapshot(height uint64) (*HeightRecord, bool, error) {
	var out *HeightRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(heightKey(height))
		if v == nil {
			return nil
		}
		var rec HeightRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("snapshot decode: %w", err)
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (d *SnapshotStore) LatestReplica(entityID xtypes.EntityID, signerID xtypes.SignerID) (*EntityRecord, bool, error) {
	var out *EntityRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketReplicaState).Get(entityReplicaKey(entityID, signerID))
		if v == nil {
			return nil
		}
		var rec EntityRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("entity record decode: %w", err)
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (d *SnapshotStore) LatestJurisdiction(name string) (*JurisdictionRecord, bool, error) {
	var out *JurisdictionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketReplicaState).Get(jurisdictionReplicaKey(name))
		if v == nil {
			return nil
		}
		var rec JurisdictionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("jurisdiction record decode: %w", err)
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

// JBlockAtHeight looks up a named jurisdiction's summary as of the
// block number it had at some past tick, independent of that
// jurisdiction's current (possibly later) position.
func (d *SnapshotStore) JBlockAtHeight(name string, blockNumber uint64) (*JurisdictionRecord, bool, error) {
	var out *JurisdictionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketJBlockHeight).Get(jblockKey(name, blockNumber))
		if v == nil {
			return nil
		}
		var rec JurisdictionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("jurisdiction record decode: %w", err)
		}
		out = &rec
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

// PruneBelow deletes every persisted snapshot strictly below cutoff,
// the on-disk counterpart of xconfig.Config.SnapshotRetention's bound
// on the in-memory history slice. jblock_by_height and
// replica_state_by_key are untouched: they hold the latest/per-height
// positions time-travel and restart bookkeeping need regardless of how
// far back the full snapshot log itself still reaches.
func (d *SnapshotStore) PruneBelow(cutoff uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if binary.BigEndian.Uint64(k) >= cutoff {
				break
			}
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
