package entity

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xlnfinance/xln-core/account"
	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xlog"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// Config is spec.md §4.4's config.{validators,shares,threshold}.
type Config struct {
	Validators []xtypes.SignerID
	Shares     map[xtypes.SignerID]uint64
	Threshold  uint64
}

func (c Config) SumShares() uint64 {
	var sum uint64
	for _, s := range c.Shares {
		sum += s
	}
	return sum
}

func (c Config) ProposerAt(height uint64) xtypes.SignerID {
	if len(c.Validators) == 0 {
		return ""
	}
	return c.Validators[height%uint64(len(c.Validators))]
}

// Proposal is spec.md §4.4's governance proposal object.
type Proposal struct {
	ID          string
	Action      string
	Description string
	Proposer    xtypes.SignerID
	Votes       map[xtypes.SignerID]string
	Status      string // "pending" | "executed"
}

// JObservation is one signer's claim about a J block, keyed by height
// in State.jObservations (spec.md §4.5).
type JObservation struct {
	BlockHash xhash.Hash
	Events    []JObservedEvent
}

// JBlockFinalized is spec.md §4.5's finalized cross-signer agreement.
type JBlockFinalized struct {
	BlockNumber uint64
	BlockHash   xhash.Hash
	Events      []JObservedEvent
}

// HtlcRouteRef tracks multihop bookkeeping the entity layer needs
// beyond what a single bilateral account sees: which account a
// forwarded HTLC leg came from, for cascading
// reveal/timeout propagation (spec.md §4.3 htlcRoutes, SPEC_FULL.md
// supplement).
type HtlcRouteRef struct {
	InboundPeer  xtypes.EntityID
	OutboundPeer xtypes.EntityID
	LockID       string
}

// State is one entity's full consensus-relevant state (spec.md §3
// Entity + EntityReplica.state).
type State struct {
	Height    uint64
	Timestamp int64
	Nonces    map[xtypes.SignerID]uint64

	Messages  []string
	Proposals map[string]*Proposal

	Config Config

	Reserves map[xtypes.TokenID]xtypes.Amount
	Accounts map[xtypes.CanonicalKey]*account.Machine

	LastFinalizedJHeight uint64
	jObservations        map[uint64]map[xtypes.SignerID]JObservation
	jBlockChain          *lru.Cache[uint64, JBlockFinalized]
	jForkedHeights       map[uint64]bool
	divergenceScores     map[uint64]int

	// jBatchState accumulates reserve_to_reserve/settlement operations
	// until j_broadcast flushes them to J (spec.md §4.4 j_broadcast).
	jBatchState []JBatchOp

	// LastFlushedJBatch holds the batch a j_broadcast tx just flushed,
	// for the runtime to pick up and submit to the target JReplica as a
	// JInput; the runtime clears it once consumed.
	LastFlushedJBatch []JBatchOp

	HtlcRoutes map[string]HtlcRouteRef

	OrderbookExtEnabled bool
	Orderbook           *OrderbookExt
	Profile             map[string]string

	Self   xtypes.EntityID
	Signer xsig.Provider
	Log    *xlog.Logger
}

// JBatchOp is one operation queued into jBatchState, mirroring
// jurisdiction.JTx's kinds that originate from entity-level txs.
type JBatchOp struct {
	Kind              string // "reserve_to_reserve" | "settle" | "deposit_collateral"
	ReserveToReserve  *ReserveToReserveTx
	Settlement        *CreateSettlementTx
	DepositCollateral *DepositCollateralTx
}

func NewState(self xtypes.EntityID, config Config, signer xsig.Provider, log *xlog.Logger, jHistoryRetention int) *State {
	chain, _ := lru.New[uint64, JBlockFinalized](jHistoryRetention)
	return &State{
		Nonces:        make(map[xtypes.SignerID]uint64),
		Proposals:     make(map[string]*Proposal),
		Config:        config,
		Reserves:      make(map[xtypes.TokenID]xtypes.Amount),
		Accounts:      make(map[xtypes.CanonicalKey]*account.Machine),
		jObservations: make(map[uint64]map[xtypes.SignerID]JObservation),
		jBlockChain:   chain,
		jForkedHeights: make(map[uint64]bool),
		HtlcRoutes:    make(map[string]HtlcRouteRef),
		Profile:       make(map[string]string),
		Self:          self,
		Signer:        signer,
		Log:           log,
	}
}

func (s *State) Reserve(tokenID xtypes.TokenID) xtypes.Amount { return s.Reserves[tokenID] }

// StateHash exposes computeStateHash to collaborators (runtime's
// EnvSnapshot needs it per replica; spec.md §8 P2 is defined in terms
// of it).
func (s *State) StateHash() xhash.Hash { return computeStateHash(s) }

// cloneForSpeculation copies every entity-level field a tx can mutate
// (the fields computeStateHash covers, plus J-observation bookkeeping)
// so propose/precommit re-derivation never touches the committed
// State. Accounts is intentionally NOT deep-copied: account-touching
// side effects are skipped entirely during a dry run (see apply.go),
// so the shared *account.Machine pointers are never written to.
// jBlockChain and Orderbook are likewise shared rather than copied;
// both are only ever written to when dryRun is false (tryFinalizeJBlock,
// the orderbookExt bookkeeping in apply.go), so the shared pointers are
// never mutated from a speculative clone.
func (s *State) cloneForSpeculation() *State {
	out := &State{
		Height:               s.Height,
		Timestamp:            s.Timestamp,
		Nonces:               make(map[xtypes.SignerID]uint64, len(s.Nonces)),
		Messages:             append([]string(nil), s.Messages...),
		Proposals:            make(map[string]*Proposal, len(s.Proposals)),
		Config:               s.Config,
		Reserves:             make(map[xtypes.TokenID]xtypes.Amount, len(s.Reserves)),
		Accounts:             s.Accounts,
		LastFinalizedJHeight: s.LastFinalizedJHeight,
		jObservations:        make(map[uint64]map[xtypes.SignerID]JObservation, len(s.jObservations)),
		jBlockChain:          s.jBlockChain,
		jForkedHeights:       make(map[uint64]bool, len(s.jForkedHeights)),
		divergenceScores:     make(map[uint64]int, len(s.divergenceScores)),
		jBatchState:          append([]JBatchOp(nil), s.jBatchState...),
		LastFlushedJBatch:    append([]JBatchOp(nil), s.LastFlushedJBatch...),
		HtlcRoutes:           make(map[string]HtlcRouteRef, len(s.HtlcRoutes)),
		OrderbookExtEnabled:  s.OrderbookExtEnabled,
		Orderbook:            s.Orderbook,
		Profile:              make(map[string]string, len(s.Profile)),
		Self:                 s.Self,
		Signer:               s.Signer,
		Log:                  s.Log,
	}
	for k, v := range s.Nonces {
		out.Nonces[k] = v
	}
	for id, p := range s.Proposals {
		cp := *p
		cp.Votes = make(map[xtypes.SignerID]string, len(p.Votes))
		for signer, choice := range p.Votes {
			cp.Votes[signer] = choice
		}
		out.Proposals[id] = &cp
	}
	for k, v := range s.Reserves {
		out.Reserves[k] = v
	}
	for height, byHeight := range s.jObservations {
		cp := make(map[xtypes.SignerID]JObservation, len(byHeight))
		for signer, obs := range byHeight {
			cp[signer] = obs
		}
		out.jObservations[height] = cp
	}
	for height, forked := range s.jForkedHeights {
		out.jForkedHeights[height] = forked
	}
	for height, score := range s.divergenceScores {
		out.divergenceScores[height] = score
	}
	for lockID, ref := range s.HtlcRoutes {
		out.HtlcRoutes[lockID] = ref
	}
	for field, value := range s.Profile {
		out.Profile[field] = value
	}
	return out
}

func (s *State) accountFor(peer xtypes.EntityID) *account.Machine {
	_, _, key := xtypes.Canonical(s.Self, peer)
	return s.Accounts[key]
}

// computeStateHash hashes the entity-level fields consensus operates
// over: nonces, reserves, proposal statuses, message count. Bilateral
// account state is deliberately excluded (it is independently
// consensus-checked by account.Machine's own 2-of-2 protocol; spec.md
// §4.2/§4.4 are separate layers).
func computeStateHash(s *State) xhash.Hash {
	var parts [][]byte
	parts = append(parts, xhash.Uint64LE(s.Height))

	signers := make([]string, 0, len(s.Nonces))
	for signer := range s.Nonces {
		signers = append(signers, string(signer))
	}
	sort.Strings(signers)
	for _, signer := range signers {
		parts = append(parts, []byte(signer), xhash.Uint64LE(s.Nonces[xtypes.SignerID(signer)]))
	}

	tokens := make([]xtypes.TokenID, 0, len(s.Reserves))
	for t := range s.Reserves {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, k int) bool { return tokens[i] < tokens[k] })
	for _, t := range tokens {
		parts = append(parts, xhash.Uint32LE(uint32(t)), []byte(s.Reserves[t].String()))
	}

	ids := make([]string, 0, len(s.Proposals))
	for id := range s.Proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.Proposals[id]
		parts = append(parts, []byte(id), []byte(p.Status))
	}

	parts = append(parts, xhash.Uint64LE(uint64(len(s.Messages))))
	return xhash.H(parts...)
}
