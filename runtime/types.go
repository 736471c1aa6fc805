// Package runtime implements spec.md §4.7's Runtime (R): a
// single-threaded, cooperative tick loop that is the sole mutator of
// env, merging external input, dispatching it to entity and
// jurisdiction replicas, and deferring every output to the following
// tick so no same-tick cascade can occur. Grounded on the teacher's
// node/p2p_runtime.go per-peer dispatch loop, generalized from
// peer-keyed network messages to the three RuntimeInput categories
// spec.md §6 names.
package runtime

import (
	"github.com/xlnfinance/xln-core/entity"
	"github.com/xlnfinance/xln-core/jurisdiction"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xlog"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// RuntimeTxKind enumerates spec.md §4.7 step 2's non-consensus
// replica-lifecycle txs.
type RuntimeTxKind string

const (
	TxImportReplica RuntimeTxKind = "import_replica"
	TxCreateXlnomy  RuntimeTxKind = "create_xlnomy"
)

type RuntimeTx struct {
	Kind RuntimeTxKind

	ImportReplica *ImportReplicaTx `json:"import_replica,omitempty"`
	CreateXlnomy  *CreateXlnomyTx  `json:"create_xlnomy,omitempty"`
}

// ImportReplicaTx instantiates one validator's view of an entity.
type ImportReplicaTx struct {
	EntityID xtypes.EntityID
	SignerID xtypes.SignerID
	Config   entity.Config
}

// CreateXlnomyTx instantiates a fresh jurisdiction (spec.md's informal
// "xlnomy" = one self-contained jurisdiction + its registered
// entities).
type CreateXlnomyTx struct {
	Name         string
	BlockDelayMs uint64
}

// EntityMessageKind is the sealed union of what an EntityInput
// delivers to a Replica (spec.md §4.4's propose/precommit/commit
// cycle, driven one message at a time).
type EntityMessageKind string

const (
	MsgEnqueueTx EntityMessageKind = "enqueue_tx"
	MsgPropose   EntityMessageKind = "propose"
	MsgPrecommit EntityMessageKind = "precommit"

	// MsgCommit carries a just-committed frame from the proposer to
	// every other validator, who never otherwise learn the frame was
	// finalized: ReceivePropose only locks a provisional copy on a
	// dry-run clone, it never advances the follower's real State.
	MsgCommit EntityMessageKind = "commit"
)

// PrecommitMsg carries one validator's signature on a proposed frame
// back to the proposer (spec.md §4.4 precommit phase).
type PrecommitMsg struct {
	Signer    xtypes.SignerID
	Signature xsig.Signature
}

// EntityInput targets exactly one (EntityID, SignerID) replica, the
// granularity spec.md §4.7 step 3 delivers at.
type EntityInput struct {
	EntityID xtypes.EntityID
	SignerID xtypes.SignerID

	Kind      EntityMessageKind
	Tx        *entity.EntityTx
	Propose   *entity.ProposedFrame
	Precommit *PrecommitMsg
	Commit    *entity.ProposedFrame

	// internal marks an input the runtime generated itself (e.g. a
	// j_event projection), whose Tx.Nonce is stamped fresh at delivery
	// time rather than trusted from the caller.
	internal bool

	// CancelAfter is spec.md §4.7's per-input deadline; zero means no
	// deadline.
	CancelAfter uint64
}

// JInput targets one named jurisdiction with a batch to enqueue
// (spec.md §4.7 step 4).
type JInput struct {
	Jurisdiction string
	Batch        jurisdiction.JTxBatch
	CancelAfter  uint64
}

// RuntimeInput is spec.md §6's submit(RuntimeInput) payload, merged
// once per tick from every externally delivered record plus the prior
// tick's deferred outputs.
type RuntimeInput struct {
	RuntimeTxs   []RuntimeTx
	EntityInputs []EntityInput
	JInputs      []JInput
}

func (r *RuntimeInput) merge(o RuntimeInput) {
	r.RuntimeTxs = append(r.RuntimeTxs, o.RuntimeTxs...)
	r.EntityInputs = append(r.EntityInputs, o.EntityInputs...)
	r.JInputs = append(r.JInputs, o.JInputs...)
}

// EnvSnapshot is spec.md §6.2's append-only history record. Full
// replica state is not duplicated per snapshot (that would make
// history retention unbounded in practice); instead each replica
// contributes a compact, hash-addressed summary sufficient to drive
// P1/P2/P7 checks and to locate the authoritative replica for a
// time-travel restore, matching the teacher's block-index idiom of
// indexing blocks by hash rather than embedding full block bodies.
type EnvSnapshot struct {
	Height    uint64
	Timestamp int64

	EReplicas map[xtypes.EntityID]map[xtypes.SignerID]EntitySummary
	JReplicas map[string]JSummary

	RuntimeInput   RuntimeInput
	RuntimeOutputs RuntimeInput
	Logs           []xlog.Entry
}

type EntitySummary struct {
	Height    uint64
	StateHash xhash.Hash
}

type JSummary struct {
	BlockNumber uint64
	StateRoot   xhash.Hash
}
