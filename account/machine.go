package account

import (
	"github.com/xlnfinance/xln-core/delta"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xlog"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// ledgerState is the mutable working set a frame is applied against:
// deltas/locks/swapOffers, cloned before a speculative apply so a
// failed validation never mutates the committed Machine state
// (spec.md §4.2 "validates the tx against deltas/locks/swapOffers in
// a cloned copy").
type ledgerState struct {
	deltas     map[xtypes.TokenID]delta.Delta
	locks      map[string]HtlcLock
	swapOffers map[string]SwapOffer
}

func (s ledgerState) clone() ledgerState {
	out := ledgerState{
		deltas:     make(map[xtypes.TokenID]delta.Delta, len(s.deltas)),
		locks:      make(map[string]HtlcLock, len(s.locks)),
		swapOffers: make(map[string]SwapOffer, len(s.swapOffers)),
	}
	for k, v := range s.deltas {
		out.deltas[k] = v
	}
	for k, v := range s.locks {
		out.locks[k] = v
	}
	for k, v := range s.swapOffers {
		out.swapOffers[k] = v
	}
	return out
}

// Machine is one entity's replica of a bilateral account (spec.md §3
// Account). Both peers hold a structurally-identical Machine; neither
// holds a pointer into the other's copy (spec.md §9 "bidirectional
// references" redesign: accounts reference peers by entityId lookup,
// never by pointer).
type Machine struct {
	Left, Right xtypes.EntityID
	Self        xtypes.EntityID
	selfIsLeft  bool

	CurrentFrame  *AccountFrame
	CurrentHeight uint64

	Mempool []AccountTx
	// admissionAttempts counts, per mempool slot (by index at
	// enqueue time, keyed here by a synthetic id), how many proposal
	// rounds it has survived without being committed; evicted at
	// m.MempoolRetryLimit (SPEC_FULL.md mempool eviction
	// accounting supplement).
	admissionAttempts map[int]int
	nextMempoolID     int
	mempoolIDs        []int

	ledgerState

	PendingFrame      *AccountFrame
	PendingSignatures []xsig.Signature

	SendCounter    uint64
	ReceiveCounter uint64

	SentTransitions  uint64
	AckedTransitions uint64

	ProofHeader ProofHeader
	ProofBody   ProofBody

	FrameHistory []AccountFrame

	PendingWithdrawals map[string]PendingWithdrawal

	RollbackCount int
	LastJHeight   uint64

	MempoolRetryLimit int

	Signer       xsig.Provider
	SelfSigner   xtypes.SignerID
	PeerSigner   xtypes.SignerID

	Log *xlog.Logger
}

// New constructs a fresh Machine for the canonical pair (left,right)
// from self's point of view. Per DESIGN.md's Open Question decision,
// the entity layer creates the local Machine when its open_account tx
// is applied (first-message semantics); the counterparty builds its own mirror when it admits
// the openAccount entity tx.
func New(self, peer xtypes.EntityID, signer xsig.Provider, selfSigner, peerSigner xtypes.SignerID, log *xlog.Logger) *Machine {
	left, right, _ := xtypes.Canonical(self, peer)
	return &Machine{
		Left:               left,
		Right:              right,
		Self:               self,
		selfIsLeft:         xtypes.IsLeft(self, peer),
		admissionAttempts:  make(map[int]int),
		ledgerState: ledgerState{
			deltas:     make(map[xtypes.TokenID]delta.Delta),
			locks:      make(map[string]HtlcLock),
			swapOffers: make(map[string]SwapOffer),
		},
		PendingWithdrawals: make(map[string]PendingWithdrawal),
		MempoolRetryLimit:  8,
		Signer:             signer,
		SelfSigner:         selfSigner,
		PeerSigner:         peerSigner,
		Log:                log,
	}
}

func (m *Machine) IsLeft() bool { return m.selfIsLeft }

func (m *Machine) peerEntity() xtypes.EntityID {
	if m.selfIsLeft {
		return m.Right
	}
	return m.Left
}

// CanonicalKey returns spec.md §3's "left:right" string key.
func (m *Machine) CanonicalKey() xtypes.CanonicalKey {
	_, _, key := xtypes.Canonical(m.Left, m.Right)
	return key
}

// EnqueueAccountTx validates tx against a cloned copy of the current
// ledger state and, on success, appends it to the mempool (spec.md
// §4.2 enqueueAccountTx).
func (m *Machine) EnqueueAccountTx(tx AccountTx) error {
	clone := m.ledgerState.clone()
	if _, _, err := applyAccountTx(clone, m.selfIsLeft, tx, m.LastJHeight); err != nil {
		return err
	}
	m.Mempool = append(m.Mempool, tx)
	id := m.nextMempoolID
	m.nextMempoolID++
	m.mempoolIDs = append(m.mempoolIDs, id)
	m.admissionAttempts[id] = 0
	return nil
}

// ProposeFrame implements spec.md §4.2 proposeFrame: only when no
// pendingFrame is outstanding and the mempool is non-empty. It builds
// the frame against a clone, signs it, and returns the AccountInput to
// send to the peer.
func (m *Machine) ProposeFrame(timestamp int64, jHeight uint64) (*AccountInput, error) {
	if m.PendingFrame != nil {
		return nil, xerrors.New(xerrors.InvalidFrame, "account: frame already pending")
	}
	if len(m.Mempool) == 0 {
		return nil, xerrors.New(xerrors.InvalidFrame, "account: mempool empty")
	}

	clone := m.ledgerState.clone()
	txs := append([]AccountTx(nil), m.Mempool...)
	applied := make([]AccountTx, 0, len(txs))
	for _, tx := range txs {
		if _, _, err := applyAccountTx(clone, m.selfIsLeft, tx, jHeight); err != nil {
			// an individual tx's validation failure doesn't block the
			// rest of the frame (spec.md §4.2 failure semantics).
			continue
		}
		applied = append(applied, tx)
	}
	if len(applied) == 0 {
		return nil, xerrors.New(xerrors.InvalidFrame, "account: no mempool tx applied cleanly")
	}

	prevHash := m.currentFrameHash()
	frame := AccountFrame{
		Height:        m.CurrentHeight + 1,
		Timestamp:     timestamp,
		JHeight:       jHeight,
		AccountTxs:    applied,
		PrevFrameHash: prevHash,
		ByLeft:        m.selfIsLeft,
	}
	frame.TokenIDs, frame.Deltas = tokenSnapshot(clone.deltas)
	frame.StateHash = computeStateHash(clone.deltas, clone.locks, clone.swapOffers)
	frame.hashValue = frameHash(frame.Height, txsDigest(applied), prevHash)

	sig, err := m.Signer.Sign(m.SelfSigner, frame.StateHash)
	if err != nil {
		return nil, xerrors.Wrap(err, xerrors.InvalidSignature, "account: sign proposed frame")
	}

	m.PendingFrame = &frame
	m.PendingSignatures = []xsig.Signature{sig}
	m.SendCounter++

	return &AccountInput{
		Counter:         m.SendCounter,
		NewAccountFrame: &frame,
		NewSignatures:   []xsig.Signature{sig},
	}, nil
}

func (m *Machine) currentFrameHash() xhash.Hash {
	if m.CurrentFrame == nil {
		return xhash.Hash{}
	}
	return m.CurrentFrame.hashValue
}

// AccountInput is the bilateral wire message of spec.md §3/§4.2.
type AccountInput struct {
	Counter uint64

	NewAccountFrame *AccountFrame
	NewSignatures   []xsig.Signature

	PrevSignatures []xsig.Signature
}

// ReceiveAccountInput implements spec.md §4.2 receiveAccountInput,
// including the strict counter check (P10), the conflict tie-break
// (DESIGN.md Open Question #1: lower canonical key wins), and the
// commit-on-ack path.
func (m *Machine) ReceiveAccountInput(input AccountInput, timestamp int64) (*AccountInput, []AccountEvent, error) {
	if input.Counter != m.ReceiveCounter+1 {
		return nil, nil, xerrors.Newf(xerrors.ReplayProtectionFailure,
			"account: counter %d != receiveCounter+1 %d", input.Counter, m.ReceiveCounter+1)
	}

	if input.NewAccountFrame != nil {
		return m.receiveProposedFrame(*input.NewAccountFrame, input.NewSignatures, timestamp)
	}

	if input.PrevSignatures != nil {
		if err := m.commitPendingWithAck(input.PrevSignatures); err != nil {
			return nil, nil, err
		}
		m.ReceiveCounter++
		return nil, nil, nil
	}

	return nil, nil, xerrors.New(xerrors.InvalidFrame, "account: empty account input")
}

func (m *Machine) receiveProposedFrame(frame AccountFrame, sigs []xsig.Signature, timestamp int64) (*AccountInput, []AccountEvent, error) {
	// Conflict: we also have an outstanding proposal at the same
	// height. Lower canonical key wins (DESIGN.md decision #1).
	rolledBack := false
	if m.PendingFrame != nil && m.PendingFrame.Height == frame.Height {
		if m.selfIsLeft {
			// self is canonical-left: self's proposal wins, reject the
			// peer's competing frame and let the peer roll back when
			// it eventually receives ours.
			return nil, nil, xerrors.New(xerrors.InvalidFrame, "account: conflicting frame, canonical-left wins")
		}
		// self is canonical-right: roll back and fall through to apply
		// the peer's frame. The dropped frame's txs never left the
		// mempool (ProposeFrame does not remove them).
		m.PendingFrame = nil
		m.PendingSignatures = nil
		m.RollbackCount++
		rolledBack = true
	}

	if frame.Height != m.CurrentHeight+1 {
		return nil, nil, xerrors.Newf(xerrors.InvalidFrame, "account: height %d != current+1 %d", frame.Height, m.CurrentHeight+1)
	}
	if frame.PrevFrameHash != m.currentFrameHash() {
		return nil, nil, xerrors.New(xerrors.InvalidFrame, "account: prevFrameHash mismatch")
	}
	if frame.JHeight < m.LastJHeight {
		return nil, nil, xerrors.New(xerrors.InvalidFrame, "account: jHeight regression")
	}

	clone := m.ledgerState.clone()
	events, err := replayFrame(clone, frame, m.selfIsLeft)
	if err != nil {
		return nil, nil, err
	}
	gotHash := computeStateHash(clone.deltas, clone.locks, clone.swapOffers)
	if gotHash != frame.StateHash {
		return nil, nil, xerrors.New(xerrors.ConsensusDivergence, "account: replayed stateHash mismatch")
	}
	frame.hashValue = frameHash(frame.Height, txsDigest(frame.AccountTxs), frame.PrevFrameHash)

	selfSig, err := m.Signer.Sign(m.SelfSigner, frame.StateHash)
	if err != nil {
		return nil, nil, xerrors.Wrap(err, xerrors.InvalidSignature, "account: countersign frame")
	}

	m.commitFrame(clone, frame)
	m.ReceiveCounter++
	if !rolledBack {
		m.RollbackCount = 0
	}

	both := append(append([]xsig.Signature(nil), sigs...), selfSig)
	m.SendCounter++
	return &AccountInput{Counter: m.SendCounter, PrevSignatures: both}, events, nil
}

func (m *Machine) commitPendingWithAck(sigs []xsig.Signature) error {
	if m.PendingFrame == nil {
		return xerrors.New(xerrors.InvalidFrame, "account: no pending frame to ack")
	}
	frame := *m.PendingFrame
	clone := m.ledgerState.clone()
	if _, err := replayFrame(clone, frame, m.selfIsLeft); err != nil {
		return err
	}
	got := computeStateHash(clone.deltas, clone.locks, clone.swapOffers)
	if got != frame.StateHash {
		return xerrors.New(xerrors.ConsensusDivergence, "account: ack replay mismatch")
	}
	m.commitFrame(clone, frame)
	m.clearMempoolApplied(frame.AccountTxs)
	m.PendingFrame = nil
	m.PendingSignatures = sigs
	return nil
}

func (m *Machine) commitFrame(next ledgerState, frame AccountFrame) {
	m.ledgerState = next
	m.CurrentFrame = &frame
	m.CurrentHeight = frame.Height
	m.LastJHeight = frame.JHeight
	m.FrameHistory = append(m.FrameHistory, frame)
	m.clearMempoolApplied(frame.AccountTxs)
	// every commitFrame call is a cooperatively-signed frame (a
	// unilateral dispute never goes through here), so the cooperative
	// nonce always advances; disputeNonce only moves when a dispute is
	// actually filed, outside this path.
	m.ProofHeader.CooperativeNonce++
}

// clearMempoolApplied removes committed txs from the mempool by kind
// count: for each committed tx it drops one mempool entry of the same
// Kind, oldest first. Tx contents are not compared.
func (m *Machine) clearMempoolApplied(applied []AccountTx) {
	if len(applied) == 0 {
		return
	}
	appliedSet := make(map[AccountTxKind]int, len(applied))
	for _, tx := range applied {
		appliedSet[tx.Kind]++
	}
	remaining := m.Mempool[:0]
	remainingIDs := m.mempoolIDs[:0]
	for i, tx := range m.Mempool {
		if appliedSet[tx.Kind] > 0 {
			appliedSet[tx.Kind]--
			delete(m.admissionAttempts, m.mempoolIDs[i])
			continue
		}
		remaining = append(remaining, tx)
		remainingIDs = append(remainingIDs, m.mempoolIDs[i])
	}
	m.Mempool = remaining
	m.mempoolIDs = remainingIDs
}

// VerifyAndApplyFrame implements spec.md §4.2 verifyAndApplyFrame: a
// deterministic replay used by collaborators (e.g. dispute resolution
// tooling) to confirm a frame's stateHash without mutating Machine.
func (m *Machine) VerifyAndApplyFrame(frame AccountFrame) error {
	clone := m.ledgerState.clone()
	if _, err := replayFrame(clone, frame, m.selfIsLeft); err != nil {
		return err
	}
	got := computeStateHash(clone.deltas, clone.locks, clone.swapOffers)
	if got != frame.StateHash {
		return xerrors.New(xerrors.ConsensusDivergence, "account: stateHash mismatch on verify")
	}
	return nil
}

// EvictStaleMempool drops mempool entries that have survived more
// proposal rounds than MempoolRetryLimit allows (SPEC_FULL.md mempool
// eviction accounting supplement).
func (m *Machine) EvictStaleMempool() {
	if m.MempoolRetryLimit <= 0 {
		return
	}
	remaining := m.Mempool[:0]
	remainingIDs := m.mempoolIDs[:0]
	for i, tx := range m.Mempool {
		id := m.mempoolIDs[i]
		m.admissionAttempts[id]++
		if m.admissionAttempts[id] > m.MempoolRetryLimit {
			delete(m.admissionAttempts, id)
			if m.Log != nil {
				m.Log.Warn(m.Self.String(), "account: evicting stale mempool tx", map[string]any{"kind": string(tx.Kind)})
			}
			continue
		}
		remaining = append(remaining, tx)
		remainingIDs = append(remainingIDs, id)
	}
	m.Mempool = remaining
	m.mempoolIDs = remainingIDs
}

func replayFrame(state ledgerState, frame AccountFrame, selfIsLeft bool) ([]AccountEvent, error) {
	var events []AccountEvent
	for _, tx := range frame.AccountTxs {
		_, evs, err := applyAccountTx(state, selfIsLeft, tx, frame.JHeight)
		if err != nil {
			return nil, xerrors.Wrap(err, xerrors.InvalidFrame, "account: replay tx failed")
		}
		events = append(events, evs...)
	}
	return events, nil
}
