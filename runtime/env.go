package runtime

import (
	"github.com/xlnfinance/xln-core/entity"
	"github.com/xlnfinance/xln-core/jurisdiction"
	"github.com/xlnfinance/xln-core/xconfig"
	"github.com/xlnfinance/xln-core/xerrors"
	"github.com/xlnfinance/xln-core/xlog"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

// Env owns every replica (spec.md §5: "env.eReplicas, env.jReplicas
// owned by R; no other component mutates them") and the tick history.
// Grounded on the teacher's node/chainstate.go single authoritative
// state struct, generalized from one UTXO chain to many entity and
// jurisdiction replicas advanced by one tick loop.
type Env struct {
	cfg xconfig.Config

	signer xsig.Provider
	log    *xlog.Logger

	eReplicas map[xtypes.EntityID]map[xtypes.SignerID]*entity.Replica
	jReplicas map[string]*jurisdiction.JReplica
	jAdapters map[string]*jurisdiction.LocalAdapter

	inbox RuntimeInput

	pendingEntityInputs []EntityInput
	pendingJInputs      []JInput

	height    uint64
	timestamp int64

	history []EnvSnapshot

	// tickLog buffers structured log entries emitted during the tick
	// currently in progress; it implements xlog.Sink.
	tickLog []xlog.Entry
}

func New(cfg xconfig.Config, signer xsig.Provider, log *xlog.Logger) *Env {
	e := &Env{
		cfg:       cfg,
		signer:    signer,
		eReplicas: make(map[xtypes.EntityID]map[xtypes.SignerID]*entity.Replica),
		jReplicas: make(map[string]*jurisdiction.JReplica),
		jAdapters: make(map[string]*jurisdiction.LocalAdapter),
	}
	e.log = log
	return e
}

// Record implements xlog.Sink: every Logger built against this Env
// attaches its entries to the tick currently being processed (spec.md
// §6.2 EnvSnapshot.logs).
func (e *Env) Record(entry xlog.Entry) { e.tickLog = append(e.tickLog, entry) }

// Submit is spec.md §6's only mutator entry point: it queues input for
// the next Tick and returns nothing synchronously.
func (e *Env) Submit(input RuntimeInput) { e.inbox.merge(input) }

func (e *Env) Height() uint64 { return e.height }

func (e *Env) History() []EnvSnapshot { return e.history }

func (e *Env) Replica(id xtypes.EntityID, signer xtypes.SignerID) *entity.Replica {
	return e.eReplicas[id][signer]
}

func (e *Env) Jurisdiction(name string) *jurisdiction.JReplica { return e.jReplicas[name] }

// Adapter exposes the spec.md §6 JurisdictionAdapter contract for the
// named xlnomy, the read surface collaborators (balance UIs, dispute
// tooling) use instead of reaching into JReplica internals directly.
func (e *Env) Adapter(name string) jurisdiction.Adapter { return e.jAdapters[name] }

// Tick runs one full spec.md §4.7 cycle. now is the tick's wall-clock
// timestamp in milliseconds (caller-supplied so replay is
// deterministic, per spec.md §5 "this gives deterministic replay").
func (e *Env) Tick(now int64) EnvSnapshot {
	e.tickLog = nil

	// Step 1: merge externally delivered input with the previous
	// tick's deferred outputs into this tick's RuntimeInput record.
	merged := e.inbox
	merged.EntityInputs = append(append([]EntityInput(nil), merged.EntityInputs...), e.pendingEntityInputs...)
	merged.JInputs = append(append([]JInput(nil), merged.JInputs...), e.pendingJInputs...)
	e.inbox = RuntimeInput{}
	e.pendingEntityInputs = nil
	e.pendingJInputs = nil

	var nextEntityInputs []EntityInput
	var nextJInputs []JInput

	// Step 2: dispatch runtimeTxs.
	for _, tx := range merged.RuntimeTxs {
		e.applyRuntimeTx(tx)
	}

	// Step 3: deliver entityInputs, ordered lexicographically by
	// (entityId, signerId) as spec.md §5 requires.
	sortEntityInputs(merged.EntityInputs)
	for _, in := range merged.EntityInputs {
		if e.expired(in.CancelAfter, now) {
			e.log.Warn(in.EntityID.String(), "runtime: dropped expired entity input", map[string]any{"kind": string(in.Kind)})
			continue
		}
		eOut, jOut := e.dispatchEntityInput(in, now)
		nextEntityInputs = append(nextEntityInputs, eOut...)
		nextJInputs = append(nextJInputs, jOut...)
	}

	// Step 4: enqueue jInputs, then check block production.
	for _, in := range merged.JInputs {
		if e.expired(in.CancelAfter, now) {
			e.log.Warn("", "runtime: dropped expired j input", map[string]any{"jurisdiction": in.Jurisdiction})
			continue
		}
		j, ok := e.jReplicas[in.Jurisdiction]
		if !ok {
			e.log.Warn("", "runtime: j input for unknown jurisdiction", map[string]any{"jurisdiction": in.Jurisdiction})
			continue
		}
		j.SubmitBatch(in.Batch)
	}
	for _, adapter := range e.jAdapters {
		result, produced := adapter.ProduceBlockIfReady(uint64(now))
		if !produced {
			continue
		}
		for _, err := range result.Rejected {
			e.log.Err("", err)
		}
		if len(result.Events) == 0 {
			continue
		}
		blockHash, _ := adapter.GetBlockHash(adapter.GetBlockNumber())
		nextEntityInputs = append(nextEntityInputs, e.projectJEvents(adapter.GetBlockNumber(), blockHash, result.Events)...)
	}

	// Step 5: same-tick cascade prevention + bounded backpressure.
	e.pendingEntityInputs = e.capEntityInputs(nextEntityInputs)
	e.pendingJInputs = e.capJInputs(nextJInputs)

	// Step 6: advance height/timestamp, record snapshot.
	e.height++
	e.timestamp = now
	snap := EnvSnapshot{
		Height:         e.height,
		Timestamp:      e.timestamp,
		EReplicas:      e.summarizeEntities(),
		JReplicas:      e.summarizeJurisdictions(),
		RuntimeInput:   merged,
		RuntimeOutputs: RuntimeInput{EntityInputs: e.pendingEntityInputs, JInputs: e.pendingJInputs},
		Logs:           e.tickLog,
	}
	e.history = append(e.history, snap)
	if e.cfg.SnapshotRetention > 0 && len(e.history) > e.cfg.SnapshotRetention {
		e.history = e.history[len(e.history)-e.cfg.SnapshotRetention:]
	}
	return snap
}

func (e *Env) expired(cancelAfter uint64, now int64) bool {
	return cancelAfter != 0 && uint64(now) > cancelAfter
}

func (e *Env) applyRuntimeTx(tx RuntimeTx) {
	switch tx.Kind {
	case TxImportReplica:
		op := tx.ImportReplica
		if _, ok := e.eReplicas[op.EntityID]; !ok {
			e.eReplicas[op.EntityID] = make(map[xtypes.SignerID]*entity.Replica)
		}
		state := entity.NewState(op.EntityID, op.Config, e.signer, e.log, e.cfg.SnapshotRetention)
		e.eReplicas[op.EntityID][op.SignerID] = entity.NewReplica(op.EntityID, op.SignerID, state)
	case TxCreateXlnomy:
		op := tx.CreateXlnomy
		replica := jurisdiction.New(op.Name, op.BlockDelayMs, e.cfg.SnapshotRetention)
		e.jReplicas[op.Name] = replica
		e.jAdapters[op.Name] = jurisdiction.NewLocalAdapter(replica)
	default:
		e.log.Warn("", "runtime: unknown runtime tx kind", map[string]any{"kind": string(tx.Kind)})
	}
}

func (e *Env) capEntityInputs(in []EntityInput) []EntityInput {
	limit := e.cfg.PendingOutputCap
	if limit <= 0 || len(in) <= limit {
		return in
	}
	dropped := len(in) - limit
	e.log.Err("", xerrors.Newf(xerrors.QueuePressure, "runtime: dropping %d oldest pending entity outputs", dropped))
	return in[dropped:]
}

func (e *Env) capJInputs(in []JInput) []JInput {
	limit := e.cfg.PendingOutputCap
	if limit <= 0 || len(in) <= limit {
		return in
	}
	dropped := len(in) - limit
	e.log.Warn("", "runtime: pending j outputs exceeded cap, dropping oldest",
		map[string]any{"dropped": dropped, "cap": limit})
	return in[dropped:]
}

func (e *Env) summarizeEntities() map[xtypes.EntityID]map[xtypes.SignerID]EntitySummary {
	out := make(map[xtypes.EntityID]map[xtypes.SignerID]EntitySummary, len(e.eReplicas))
	for id, bySigner := range e.eReplicas {
		inner := make(map[xtypes.SignerID]EntitySummary, len(bySigner))
		for signer, r := range bySigner {
			inner[signer] = EntitySummary{Height: r.State.Height, StateHash: r.State.StateHash()}
		}
		out[id] = inner
	}
	return out
}

func (e *Env) summarizeJurisdictions() map[string]JSummary {
	out := make(map[string]JSummary, len(e.jReplicas))
	for name, j := range e.jReplicas {
		out[name] = JSummary{BlockNumber: j.BlockNumber, StateRoot: j.StateRoot}
	}
	return out
}
