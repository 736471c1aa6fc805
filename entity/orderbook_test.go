package entity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlnfinance/xln-core/xsig"
	"github.com/xlnfinance/xln-core/xtypes"
)

func newStateWithOpenAccount(t *testing.T) (*State, xtypes.EntityID) {
	t.Helper()
	provider := xsig.NewDevProvider()
	_, err := provider.Register("a")
	require.NoError(t, err)

	self := xtypes.EntityID{1}
	peer := xtypes.EntityID{2}
	config := Config{Validators: []xtypes.SignerID{"a"}, Shares: map[xtypes.SignerID]uint64{"a": 1}, Threshold: 1}
	s := NewState(self, config, provider, nil, 16)

	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxOpenAccount, Signer: "a", Nonce: 1,
		OpenAccount: &OpenAccountTx{TargetEntityID: peer},
	}, 0, false))
	return s, peer
}

func TestOrderbookExtIndexesPlacedOfferUntilResolved(t *testing.T) {
	s, peer := newStateWithOpenAccount(t)

	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxInitOrderbookExt, Signer: "a", Nonce: 2,
		InitOrderbookExt: &InitOrderbookExtTx{Enabled: true},
	}, 0, false))
	require.True(t, s.OrderbookExtEnabled)
	require.NotNil(t, s.Orderbook)

	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxPlaceSwapOffer, Signer: "a", Nonce: 3,
		PlaceSwapOffer: &PlaceSwapOfferTx{
			Peer: peer, OfferID: "o1",
			GiveTokenID: 1, GiveAmount: xtypesAmount(100),
			WantTokenID: 2, WantAmount: xtypesAmount(100),
		},
	}, 0, false))

	pair := bookPair{Low: 1, High: 2}
	_, ok := s.Orderbook.BestAsk(pair)
	require.True(t, ok, "an even 100:100 offer giving the low token should post as an ask")
	loc, indexed := s.Orderbook.index["o1"]
	require.True(t, indexed)
	require.False(t, loc.IsBid)

	// a partial resolve shrinks the cached entry but keeps it indexed.
	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxResolveSwap, Signer: "a", Nonce: 4,
		ResolveSwap: &ResolveSwapTx{Peer: peer, OfferID: "o1", FillRatio: 32767},
	}, 0, false))
	_, stillIndexed := s.Orderbook.index["o1"]
	require.True(t, stillIndexed)
	entry := s.Orderbook.sideFor(loc).levels[loc.Tick]
	require.Len(t, entry, 1)
	require.True(t, entry[0].GiveAmount.Cmp(xtypesAmount(100)) < 0)

	// a full resolve drops the entry and the bitmap clears.
	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxResolveSwap, Signer: "a", Nonce: 5,
		ResolveSwap: &ResolveSwapTx{Peer: peer, OfferID: "o1", FillRatio: 65535},
	}, 0, false))
	_, goneFromIndex := s.Orderbook.index["o1"]
	require.False(t, goneFromIndex)
	_, stillAsk := s.Orderbook.BestAsk(pair)
	require.False(t, stillAsk)
}

func TestOrderbookExtCancelRemovesOffer(t *testing.T) {
	s, peer := newStateWithOpenAccount(t)
	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxInitOrderbookExt, Signer: "a", Nonce: 2,
		InitOrderbookExt: &InitOrderbookExtTx{Enabled: true},
	}, 0, false))
	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxPlaceSwapOffer, Signer: "a", Nonce: 3,
		PlaceSwapOffer: &PlaceSwapOfferTx{
			Peer: peer, OfferID: "o1",
			GiveTokenID: 2, GiveAmount: xtypesAmount(50),
			WantTokenID: 1, WantAmount: xtypesAmount(200),
		},
	}, 0, false))
	pair := bookPair{Low: 1, High: 2}
	_, ok := s.Orderbook.BestBid(pair)
	require.True(t, ok, "giving the high token of the pair posts as a bid")

	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxCancelSwap, Signer: "a", Nonce: 4,
		CancelSwap: &CancelSwapTx{Peer: peer, OfferID: "o1"},
	}, 0, false))
	_, indexed := s.Orderbook.index["o1"]
	require.False(t, indexed)
	_, stillBid := s.Orderbook.BestBid(pair)
	require.False(t, stillBid)
}

func TestOrderbookExtDisabledNeverIndexes(t *testing.T) {
	s, peer := newStateWithOpenAccount(t)
	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxPlaceSwapOffer, Signer: "a", Nonce: 2,
		PlaceSwapOffer: &PlaceSwapOfferTx{
			Peer: peer, OfferID: "o1",
			GiveTokenID: 1, GiveAmount: xtypesAmount(10),
			WantTokenID: 2, WantAmount: xtypesAmount(10),
		},
	}, 0, false))
	require.Nil(t, s.Orderbook)
}

func TestOrderbookSpeculativeCloneNeverLeaksBookMutation(t *testing.T) {
	s, peer := newStateWithOpenAccount(t)
	require.NoError(t, applyEntityTx(s, EntityTx{
		Kind: TxInitOrderbookExt, Signer: "a", Nonce: 2,
		InitOrderbookExt: &InitOrderbookExtTx{Enabled: true},
	}, 0, false))

	scratch := s.cloneForSpeculation()
	// a dry run must not create index entries on the shared book, since
	// the frame it's speculating over may never commit.
	err := applyEntityTx(scratch, EntityTx{
		Kind: TxPlaceSwapOffer, Signer: "a", Nonce: 2,
		PlaceSwapOffer: &PlaceSwapOfferTx{
			Peer: peer, OfferID: "o1",
			GiveTokenID: 1, GiveAmount: xtypesAmount(10),
			WantTokenID: 2, WantAmount: xtypesAmount(10),
		},
	}, 0, true)
	require.NoError(t, err)
	require.Empty(t, s.Orderbook.index)
}
