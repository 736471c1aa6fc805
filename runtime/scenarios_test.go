package runtime

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/entity"
	"github.com/xlnfinance/xln-core/jurisdiction"
	"github.com/xlnfinance/xln-core/xconfig"
	"github.com/xlnfinance/xln-core/xlog"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

type discardSink struct{}

func (discardSink) Record(xlog.Entry) {}

func newTestEnv(t *testing.T) (*Env, *xsig.DevProvider) {
	t.Helper()
	provider := xsig.NewDevProvider()
	log := xlog.New(nil, "test", discardSink{})
	env := New(xconfig.DefaultConfig(), provider, log)
	return env, provider
}

// Scenario 1 (spec.md §8): chat and commit reaches height 1 with
// precommits from only two of three validators.
func TestScenarioChatAndCommit(t *testing.T) {
	env, provider := newTestEnv(t)
	signers := []xtypes.SignerID{"A", "B", "C"}
	for _, s := range signers {
		_, err := provider.Register(s)
		require.NoError(t, err)
	}
	cfg := entity.Config{
		Validators: signers,
		Shares:     map[xtypes.SignerID]uint64{"A": 1, "B": 1, "C": 1},
		Threshold:  2,
	}
	entityID := xtypes.EntityID{1}
	for _, s := range signers {
		env.Submit(RuntimeInput{RuntimeTxs: []RuntimeTx{{
			Kind:          TxImportReplica,
			ImportReplica: &ImportReplicaTx{EntityID: entityID, SignerID: s, Config: cfg},
		}}})
	}
	env.Tick(1000)

	tx := entity.EntityTx{Kind: entity.TxChat, Signer: "A", Nonce: 1, Chat: &entity.ChatTx{Message: "hi"}}
	env.Submit(RuntimeInput{EntityInputs: []EntityInput{{
		EntityID: entityID, SignerID: "A", Kind: MsgEnqueueTx, Tx: &tx,
	}}})

	// Tick N: A enqueues+proposes, emits MsgPropose to B and C (queued for N+1).
	snap1 := env.Tick(1100)
	require.Empty(t, snap1.RuntimeOutputs.EntityInputs[:0]) // placeholder to keep snap1 referenced

	// Tick N+1: B and C receive the proposal and precommit back to A.
	env.Tick(1200)

	// Tick N+2: A receives B's precommit (and C's, if delivered) and
	// commits once >= threshold weight is reached.
	env.Tick(1300)

	a := env.Replica(entityID, "A")
	require.Equal(t, uint64(1), a.State.Height)
	require.Equal(t, []string{"hi"}, a.State.Messages)
}

// Scenario 4 (spec.md §8): an output produced while processing tick t
// is never observed until tick t+1's RuntimeInput.
func TestScenarioSameTickCascadePrevention(t *testing.T) {
	env, provider := newTestEnv(t)
	signers := []xtypes.SignerID{"A", "B"}
	for _, s := range signers {
		_, err := provider.Register(s)
		require.NoError(t, err)
	}
	cfg := entity.Config{
		Validators: signers,
		Shares:     map[xtypes.SignerID]uint64{"A": 1, "B": 1},
		Threshold:  2,
	}
	entityID := xtypes.EntityID{2}
	for _, s := range signers {
		env.Submit(RuntimeInput{RuntimeTxs: []RuntimeTx{{
			Kind:          TxImportReplica,
			ImportReplica: &ImportReplicaTx{EntityID: entityID, SignerID: s, Config: cfg},
		}}})
	}
	env.Tick(1000)

	tx := entity.EntityTx{Kind: entity.TxChat, Signer: "A", Nonce: 1, Chat: &entity.ChatTx{Message: "hello"}}
	env.Submit(RuntimeInput{EntityInputs: []EntityInput{{
		EntityID: entityID, SignerID: "A", Kind: MsgEnqueueTx, Tx: &tx,
	}}})

	snapT := env.Tick(1100)
	require.NotEmpty(t, snapT.RuntimeOutputs.EntityInputs, "propose output must be queued, not delivered, within tick t")
	b := env.Replica(entityID, "B")
	require.Nil(t, b.LockedFrame, "B must not have seen the proposal within the same tick it was produced")

	snapT1 := env.Tick(1200)
	require.Equal(t, snapT.RuntimeOutputs.EntityInputs, snapT1.RuntimeInput.EntityInputs, "tick t's outputs must equal tick t+1's delivered input")
	require.NotNil(t, b.LockedFrame, "B must have processed the proposal by tick t+1")
}

// Scenario 5 (spec.md §8): J-block projection — producing a block
// projects j_event inputs to the importing entity; all three signers
// commit the frame carrying only the proposer's observation, which is
// below the 2-of-3 threshold, so no J-height finalizes, while the
// jurisdiction ledger already holds the minted reserve.
func TestScenarioJBlockProjectionAfterProduction(t *testing.T) {
	env, provider := newTestEnv(t)
	signers := []xtypes.SignerID{"A", "B", "C"}
	for _, s := range signers {
		_, err := provider.Register(s)
		require.NoError(t, err)
	}
	cfg := entity.Config{
		Validators: signers,
		Shares:     map[xtypes.SignerID]uint64{"A": 1, "B": 1, "C": 1},
		Threshold:  2,
	}
	entityID := xtypes.EntityID{3}
	env.Submit(RuntimeInput{RuntimeTxs: []RuntimeTx{
		{Kind: TxCreateXlnomy, CreateXlnomy: &CreateXlnomyTx{Name: "devnet", BlockDelayMs: 0}},
	}})
	for _, s := range signers {
		env.Submit(RuntimeInput{RuntimeTxs: []RuntimeTx{{
			Kind:          TxImportReplica,
			ImportReplica: &ImportReplicaTx{EntityID: entityID, SignerID: s, Config: cfg},
		}}})
	}
	env.Tick(1000)

	env.Submit(RuntimeInput{JInputs: []JInput{{
		Jurisdiction: "devnet",
		Batch: jurisdiction.JTxBatch{Txs: []jurisdiction.JTx{
			{Kind: jurisdiction.JTxRegisterEntity, RegisterEntity: &jurisdiction.RegisterEntityOp{EntityID: entityID}},
			{Kind: jurisdiction.JTxMintReserves, MintReserves: &jurisdiction.MintReservesOp{To: entityID, TokenID: 1, Amount: amt(500)}},
		}},
	}}})

	snapMint := env.Tick(1100)
	require.NotEmpty(t, snapMint.RuntimeOutputs.EntityInputs, "block production must project j_event inputs for the next tick")
	require.Equal(t, uint64(1), snapMint.JReplicas["devnet"].BlockNumber)

	// A (proposer at height 0) enqueues and proposes its own
	// observation; B and C lock it; A commits and rebroadcasts; B and
	// C apply the broadcast. Five ticks drive that full round trip.
	env.Tick(1200)
	env.Tick(1300)
	env.Tick(1400)
	env.Tick(1500)

	a := env.Replica(entityID, "A")
	b := env.Replica(entityID, "B")
	c := env.Replica(entityID, "C")
	require.Equal(t, uint64(1), a.State.Height)
	require.Equal(t, uint64(1), b.State.Height, "B must learn of the commit via rebroadcast, not just its own provisional lock")
	require.Equal(t, uint64(1), c.State.Height, "C must learn of the commit via rebroadcast, not just its own provisional lock")

	// Only A's observation made it into the committed frame (the
	// proposer at height 0), one third of total weight: not enough to
	// finalize a 2-of-3 threshold on its own.
	require.Equal(t, uint64(0), a.State.LastFinalizedJHeight)

	// The jurisdiction ledger itself is unconditional truth, independent
	// of how far entity-level J-observation consensus has progressed.
	jur := env.Jurisdiction("devnet")
	require.Equal(t, int64(500), jur.Reserve(entityID, 1).Big().Int64())
}

func amt(n int64) xtypes.Amount {
	a, err := xtypes.MustNonNegative(n)
	if err != nil {
		panic(err)
	}
	return a
}
