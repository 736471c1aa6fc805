package entity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xhash"
	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

func newThreeValidatorReplicas(t *testing.T) (provider *xsig.DevProvider, replicas map[xtypes.SignerID]*Replica) {
	t.Helper()
	provider = xsig.NewDevProvider()
	signers := []xtypes.SignerID{"a", "b", "c"}
	for _, s := range signers {
		_, err := provider.Register(s)
		require.NoError(t, err)
	}
	config := Config{
		Validators: signers,
		Shares:     map[xtypes.SignerID]uint64{"a": 1, "b": 1, "c": 1},
		Threshold:  2,
	}
	entityID := xtypes.EntityID{7}
	replicas = make(map[xtypes.SignerID]*Replica, len(signers))
	for _, s := range signers {
		state := NewState(entityID, config, provider, nil, 16)
		replicas[s] = NewReplica(entityID, s, state)
	}
	return provider, replicas
}

func TestBFTCommitReachesThresholdWithoutAllValidators(t *testing.T) {
	_, replicas := newThreeValidatorReplicas(t)
	proposer := replicas["a"]

	tx := EntityTx{Kind: TxChat, Signer: "a", Nonce: 1, Chat: &ChatTx{Message: "hello"}}
	proposer.EnqueueTx(tx)

	frame, err := proposer.ProposeEntityFrame(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), frame.Height)

	// b precommits; c never does.
	sigB, err := replicas["b"].ReceivePropose(*frame, 0)
	require.NoError(t, err)

	committed, err := proposer.ReceivePrecommit("b", sigB, 0)
	require.NoError(t, err)
	require.True(t, committed)
	require.Equal(t, uint64(1), proposer.State.Height)
	require.Equal(t, []string{"hello"}, proposer.State.Messages)
	require.Nil(t, proposer.Proposal)
	require.Len(t, proposer.LastHanko.PackedSignatures, 2)
}

func TestPrecommitLockRejectsConflictingFrameAtSameHeight(t *testing.T) {
	_, replicas := newThreeValidatorReplicas(t)
	proposer := replicas["a"]
	follower := replicas["b"]

	tx := EntityTx{Kind: TxChat, Signer: "a", Nonce: 1, Chat: &ChatTx{Message: "one"}}
	proposer.EnqueueTx(tx)
	frame1, err := proposer.ProposeEntityFrame(0)
	require.NoError(t, err)
	_, err = follower.ReceivePropose(*frame1, 0)
	require.NoError(t, err)
	require.NotNil(t, follower.LockedFrame)

	conflicting := *frame1
	conflicting.Hash = xhash.H([]byte("different"))
	_, err = follower.ReceivePropose(conflicting, 0)
	require.Error(t, err)
}

func TestJBlockFinalizesOnBoardThresholdAgreement(t *testing.T) {
	_, replicas := newThreeValidatorReplicas(t)
	r := replicas["a"]

	blockHash := xhash.H([]byte("jblock-1"))
	events := []JObservedEvent{{Kind: "ReserveUpdated", TokenID: 1, Amount: xtypesAmount(100)}}

	err := applyEntityTx(r.State, EntityTx{
		Kind: TxJEvent, Signer: "a", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 1, BlockHash: blockHash, Events: events},
	}, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(0), r.State.LastFinalizedJHeight) // only 1 of 3 weight so far

	err = applyEntityTx(r.State, EntityTx{
		Kind: TxJEvent, Signer: "b", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 1, BlockHash: blockHash, Events: events},
	}, 0, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), r.State.LastFinalizedJHeight)
	require.Equal(t, int64(100), r.State.Reserve(1).Big().Int64())
}

func TestJBlockFinalizesDespiteDivergentMinority(t *testing.T) {
	_, replicas := newThreeValidatorReplicas(t)
	r := replicas["a"]

	hashA := xhash.H([]byte("fork-a"))
	hashB := xhash.H([]byte("fork-b"))

	require.NoError(t, applyEntityTx(r.State, EntityTx{
		Kind: TxJEvent, Signer: "a", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 1, BlockHash: hashA},
	}, 0, false))
	require.NoError(t, applyEntityTx(r.State, EntityTx{
		Kind: TxJEvent, Signer: "b", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 1, BlockHash: hashA},
	}, 0, false))
	require.Equal(t, uint64(1), r.State.LastFinalizedJHeight)

	// On a fresh state at height 5, c observes a different hash than
	// a and b; the a+b majority still finalizes and c's lone
	// observation never reaches threshold, so no fork is declared.
	r2State := NewState(r.EntityID, r.State.Config, r.State.Signer, nil, 16)
	require.NoError(t, applyEntityTx(r2State, EntityTx{
		Kind: TxJEvent, Signer: "a", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 5, BlockHash: hashA},
	}, 0, false))
	require.NoError(t, applyEntityTx(r2State, EntityTx{
		Kind: TxJEvent, Signer: "c", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 5, BlockHash: hashB},
	}, 0, false))
	err := applyEntityTx(r2State, EntityTx{
		Kind: TxJEvent, Signer: "b", Nonce: 1,
		JEvent: &JEventTx{BlockNumber: 5, BlockHash: hashA},
	}, 0, false)
	require.NoError(t, err) // a+b reach 2/3 on hashA first; c alone never reaches threshold on hashB
	require.Equal(t, uint64(5), r2State.LastFinalizedJHeight)
}

func xtypesAmount(n int64) xtypes.Amount { a, _ := xtypes.MustNonNegative(n); return a }
