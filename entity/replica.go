package entity

import (
	"github.com/xlnfinance/xln-core/hanko"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// ProposedFrame is spec.md §4.4's ProposedEntityFrame.
type ProposedFrame struct {
	Height        uint64
	Txs           []EntityTx
	Hash          xhash.Hash
	PrevStateHash xhash.Hash
	ProposerID    xtypes.SignerID
	Signatures    map[xtypes.SignerID]xsig.Signature
}

// Replica is one validator's view of an entity (spec.md §3
// EntityReplica): its own state, mempool, outstanding proposal, and
// precommit lock. Multiple Replicas (one per validator) model the
// same EntityID as independent, separately-driven copies; Runtime
// delivers EntityInputs to each in turn.
type Replica struct {
	EntityID xtypes.EntityID
	SignerID xtypes.SignerID

	State *State

	Mempool     []EntityTx
	Proposal    *ProposedFrame
	LockedFrame *ProposedFrame

	// LastHanko is the aggregated commit signature from the most
	// recently committed frame (spec.md §4.4/§4.8).
	LastHanko hanko.Hanko

	// LastCommittedFrame is the frame most recently applied by Commit,
	// so a proposer can rebroadcast it to followers who only ever saw
	// the provisional ReceivePropose lock, never the real commit.
	LastCommittedFrame *ProposedFrame
}

func NewReplica(entityID xtypes.EntityID, signerID xtypes.SignerID, state *State) *Replica {
	return &Replica{EntityID: entityID, SignerID: signerID, State: state}
}

func (r *Replica) IsProposer() bool {
	return r.State.Config.ProposerAt(r.State.Height) == r.SignerID
}

// EnqueueTx admits tx to the local mempool without mutating state
// (the propose phase applies it speculatively; a tx that fails there
// simply never makes it into a frame).
func (r *Replica) EnqueueTx(tx EntityTx) { r.Mempool = append(r.Mempool, tx) }

// ProposeEntityFrame implements spec.md §4.4's propose phase: only
// the current height's proposer builds a frame from its mempool.
func (r *Replica) ProposeEntityFrame(jHeight uint64) (*ProposedFrame, error) {
	if !r.IsProposer() {
		return nil, xerrors.New(xerrors.InvalidFrame, "entity: not proposer for this height")
	}
	if r.Proposal != nil {
		return nil, xerrors.New(xerrors.InvalidFrame, "entity: proposal already outstanding")
	}
	if len(r.Mempool) == 0 {
		return nil, xerrors.New(xerrors.InvalidFrame, "entity: mempool empty")
	}

	prevHash := computeStateHash(r.State)
	txs := append([]EntityTx(nil), r.Mempool...)
	applied := make([]EntityTx, 0, len(txs))
	scratch := r.State.cloneForSpeculation()
	for _, tx := range txs {
		if err := applyEntityTx(scratch, tx, jHeight, true); err != nil {
			continue // an individually-invalid tx is dropped, not fatal to the frame
		}
		applied = append(applied, tx)
	}
	if len(applied) == 0 {
		return nil, xerrors.New(xerrors.InvalidFrame, "entity: no mempool tx applied cleanly")
	}

	frame := &ProposedFrame{
		Height:        r.State.Height + 1,
		Txs:           applied,
		PrevStateHash: prevHash,
		ProposerID:    r.SignerID,
		Signatures:    make(map[xtypes.SignerID]xsig.Signature),
	}
	frame.Hash = frameHash(frame.Height, applied, prevHash)

	sig, err := r.State.Signer.Sign(r.SignerID, frame.Hash)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.InvalidSignature, "entity: sign proposed frame")
	}
	frame.Signatures[r.SignerID] = sig
	r.Proposal = frame
	return frame, nil
}

// frameHash implements spec.md §4.4's hash=H(height,txs,prevStateHash).
func frameHash(height uint64, txs []EntityTx, prevStateHash xhash.Hash) xhash.Hash {
	parts := [][]byte{xhash.Uint64LE(height), prevStateHash.Bytes()}
	for _, tx := range txs {
		parts = append(parts, []byte(tx.Kind), []byte(tx.Signer), xhash.Uint64LE(tx.Nonce))
	}
	return xhash.H(parts...)
}

// ReceivePropose implements spec.md §4.4's precommit phase: re-derive
// newState independently; if the hash matches and no conflicting
// lockedFrame exists at this height, sign and lock.
func (r *Replica) ReceivePropose(proposed ProposedFrame, jHeight uint64) (xsig.Signature, error) {
	if proposed.Height != r.State.Height+1 {
		return nil, xerrors.Newf(xerrors.InvalidFrame, "entity: proposed height %d != current+1 %d", proposed.Height, r.State.Height+1)
	}
	if r.LockedFrame != nil && r.LockedFrame.Height == proposed.Height && r.LockedFrame.Hash != proposed.Hash {
		return nil, xerrors.New(xerrors.InvalidFrame, "entity: already locked on a different frame at this height")
	}

	prevHash := computeStateHash(r.State)
	if proposed.PrevStateHash != prevHash {
		return nil, xerrors.New(xerrors.ConsensusDivergence, "entity: prevStateHash mismatch")
	}

	scratch := r.State.cloneForSpeculation()
	for _, tx := range proposed.Txs {
		if err := applyEntityTx(scratch, tx, jHeight, true); err != nil {
			return nil, xerrors.Wrap(err, xerrors.ConsensusDivergence, "entity: replay of proposed frame failed")
		}
	}
	gotHash := frameHash(proposed.Height, proposed.Txs, prevHash)
	if gotHash != proposed.Hash {
		return nil, xerrors.New(xerrors.ConsensusDivergence, "entity: proposed frame hash mismatch")
	}

	sig, err := r.State.Signer.Sign(r.SignerID, proposed.Hash)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.InvalidSignature, "entity: precommit sign")
	}
	locked := proposed
	locked.Signatures = map[xtypes.SignerID]xsig.Signature{r.SignerID: sig}
	r.LockedFrame = &locked
	return sig, nil
}

// ReceivePrecommit accumulates a precommit signature into the
// proposer's tally; when collected weight reaches threshold, the
// frame commits for real. jHeight is the replica's current J view,
// the same value ProposeEntityFrame used to build this frame, and is
// recorded on the committed accounts touched by it.
func (r *Replica) ReceivePrecommit(signerID xtypes.SignerID, sig xsig.Signature, jHeight uint64) (bool, error) {
	if r.Proposal == nil {
		return false, xerrors.New(xerrors.InvalidFrame, "entity: no outstanding proposal")
	}
	r.Proposal.Signatures[signerID] = sig

	var weight uint64
	for signer := range r.Proposal.Signatures {
		weight += r.State.Config.Shares[signer]
	}
	if weight < r.State.Config.Threshold {
		return false, nil
	}
	frame := *r.Proposal
	r.LastHanko = r.ExportHanko(frame)
	if err := r.Commit(frame, jHeight); err != nil {
		return false, err
	}
	return true, nil
}

// Commit applies frame for real, advances height, clears mempool of
// applied txs, and clears both Proposal and LockedFrame (spec.md §4.4
// commit + safety: "after commit, lockedFrame is cleared").
func (r *Replica) Commit(frame ProposedFrame, jHeight uint64) error {
	for _, tx := range frame.Txs {
		if err := applyEntityTx(r.State, tx, jHeight, false); err != nil {
			return xerrors.Wrap(err, xerrors.ConsensusDivergence, "entity: commit apply failed")
		}
	}
	r.State.Height = frame.Height
	r.removeApplied(frame.Txs)
	r.Proposal = nil
	r.LockedFrame = nil
	committed := frame
	r.LastCommittedFrame = &committed
	return nil
}

func (r *Replica) removeApplied(applied []EntityTx) {
	if len(applied) == 0 {
		return
	}
	applySet := make(map[EntityTxKind]int, len(applied))
	for _, tx := range applied {
		applySet[tx.Kind]++
	}
	remaining := r.Mempool[:0]
	for _, tx := range r.Mempool {
		if applySet[tx.Kind] > 0 {
			applySet[tx.Kind]--
			continue
		}
		remaining = append(remaining, tx)
	}
	r.Mempool = remaining
}
