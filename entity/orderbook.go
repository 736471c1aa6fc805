package entity

import (
	"math/big"
	"math/bits"

	"github.com/xlnfinance/xln-core/xtypes"
)

// OrderbookExt is spec.md §4.3's optional aggregation of swap offers
// into price-time priority: bid/ask entries per tick level with a
// 32-bit bitmap for O(1) best-price lookup. It is a read-side index
// over the entity's own outstanding offers, maintained alongside (never
// instead of) the authoritative per-account SwapOffer bookkeeping in
// account.Machine — settlement always goes through swap_offer /
// swap_resolve / swap_cancel on the bilateral ledger; this only lets a
// signer find its best offer for a pair in O(1) instead of scanning
// every open account.
type OrderbookExt struct {
	books map[bookPair]*bookSides
	// index maps an open offerId to the pair/side it was inserted
	// under, since swap_cancel/resolve_swap entity txs only carry the
	// offerId, not the traded tokens.
	index map[string]orderLocation
}

type orderLocation struct {
	Pair   bookPair
	IsBid  bool
	Tick   uint8
}

type bookPair struct {
	Low, High xtypes.TokenID
}

type bookSides struct {
	Bids bookSide // offers wanting Low, priced in High
	Asks bookSide // offers giving Low, priced in High
}

// bookSide buckets offers into 32 price ticks with a bitmap tracking
// which ticks are non-empty, so the best price is a single
// TrailingZeros32/LeadingZeros32 scan rather than a linked-list walk.
type bookSide struct {
	bitmap uint32
	levels [32][]bookEntry
}

type bookEntry struct {
	OfferID    string
	GiveAmount xtypes.Amount
	WantAmount xtypes.Amount
}

func newOrderbookExt() *OrderbookExt {
	return &OrderbookExt{
		books: make(map[bookPair]*bookSides),
		index: make(map[string]orderLocation),
	}
}

// pairFor canonically orders a token pair and reports whether give is
// the pair's Low side (an Ask) or its High side (a Bid). Identical
// tokens never form a valid pair.
func pairFor(give, want xtypes.TokenID) (bookPair, bool, bool) {
	if give == want {
		return bookPair{}, false, false
	}
	if give < want {
		return bookPair{Low: give, High: want}, true, true
	}
	return bookPair{Low: want, High: give}, false, true
}

func (ob *OrderbookExt) sidesFor(pair bookPair) *bookSides {
	s, ok := ob.books[pair]
	if !ok {
		s = &bookSides{}
		ob.books[pair] = s
	}
	return s
}

// place indexes a newly-placed offer on whichever side of the pair's
// book it belongs to.
func (ob *OrderbookExt) place(offerID string, giveTokenID, wantTokenID xtypes.TokenID, giveAmount, wantAmount xtypes.Amount) {
	pair, giveIsLow, ok := pairFor(giveTokenID, wantTokenID)
	if !ok {
		return
	}
	t := tick(giveAmount, wantAmount)
	entry := bookEntry{OfferID: offerID, GiveAmount: giveAmount, WantAmount: wantAmount}
	sides := ob.sidesFor(pair)
	isAsk := giveIsLow
	if isAsk {
		sides.Asks.insert(t, entry)
	} else {
		sides.Bids.insert(t, entry)
	}
	ob.index[offerID] = orderLocation{Pair: pair, IsBid: !isAsk, Tick: t}
}

// resolve applies a swap_resolve's fillRatio to the cached entry:
// mirrors the account layer's own prorate math against the book's last
// known size so the index's remaining amount tracks a partial fill,
// and drops the entry outright on a full fill or an explicit cancel of
// the remainder.
func (ob *OrderbookExt) resolve(offerID string, fillRatio uint16, cancelRemainder bool) {
	loc, ok := ob.index[offerID]
	if !ok {
		return
	}
	if fillRatio == 65535 || cancelRemainder {
		ob.cancel(offerID)
		return
	}
	side := ob.sideFor(loc)
	for _, e := range side.levels[loc.Tick] {
		if e.OfferID != offerID {
			continue
		}
		giveFilled := prorateAmount(e.GiveAmount, fillRatio)
		wantFilled := prorateAmount(e.WantAmount, fillRatio)
		side.update(loc.Tick, offerID, giveFilled, wantFilled)
		return
	}
}

// cancel removes an indexed offer outright (swap_cancel, or a resolve
// that closes out the remainder).
func (ob *OrderbookExt) cancel(offerID string) {
	loc, ok := ob.index[offerID]
	if !ok {
		return
	}
	ob.sideFor(loc).remove(offerID)
	delete(ob.index, offerID)
}

func (ob *OrderbookExt) sideFor(loc orderLocation) *bookSide {
	sides := ob.sidesFor(loc.Pair)
	if loc.IsBid {
		return &sides.Bids
	}
	return &sides.Asks
}

// BestAsk reports the pair's cheapest outstanding ask tick, if any.
func (ob *OrderbookExt) BestAsk(pair bookPair) (uint8, bool) {
	s, ok := ob.books[pair]
	if !ok {
		return 0, false
	}
	return s.Asks.best(false)
}

// BestBid reports the pair's richest outstanding bid tick, if any.
func (ob *OrderbookExt) BestBid(pair bookPair) (uint8, bool) {
	s, ok := ob.books[pair]
	if !ok {
		return 0, false
	}
	return s.Bids.best(false)
}

func (s *bookSide) insert(t uint8, e bookEntry) {
	s.levels[t] = append(s.levels[t], e)
	s.bitmap |= 1 << t
}

func (s *bookSide) update(t uint8, offerID string, giveFilled, wantFilled xtypes.Amount) {
	lvl := s.levels[t]
	for i, e := range lvl {
		if e.OfferID != offerID {
			continue
		}
		lvl[i].GiveAmount = e.GiveAmount.Sub(giveFilled)
		lvl[i].WantAmount = e.WantAmount.Sub(wantFilled)
		return
	}
}

func (s *bookSide) remove(offerID string) {
	for t, lvl := range s.levels {
		for i, e := range lvl {
			if e.OfferID != offerID {
				continue
			}
			s.levels[t] = append(lvl[:i], lvl[i+1:]...)
			if len(s.levels[t]) == 0 {
				s.bitmap &^= 1 << uint(t)
			}
			return
		}
	}
}

// best finds the lowest (lowest=true) or highest occupied tick. Since
// a tick is the maker's give share, the highest tick is the front of
// the book on both sides: the cheapest ask and the richest bid.
func (s *bookSide) best(lowest bool) (uint8, bool) {
	if s.bitmap == 0 {
		return 0, false
	}
	if lowest {
		return uint8(bits.TrailingZeros32(s.bitmap)), true
	}
	return uint8(31 - bits.LeadingZeros32(s.bitmap)), true
}

// tick quantizes a give/want ratio into one of 32 buckets via
// give*32/(give+want), so an offer with want=0 sits at tick 31
// (clamped) and one with give=0 sits at tick 0.
func tick(give, want xtypes.Amount) uint8 {
	denom := new(big.Int).Add(give.Big(), want.Big())
	if denom.Sign() == 0 {
		return 0
	}
	num := new(big.Int).Mul(give.Big(), big.NewInt(32))
	ratio := new(big.Int).Div(num, denom)
	if ratio.Cmp(big.NewInt(31)) > 0 {
		return 31
	}
	if ratio.Sign() < 0 {
		return 0
	}
	return uint8(ratio.Int64())
}

// prorateAmount mirrors account's swap fill-ratio math (amount *
// ratio/65535) so the book's cached offer size tracks a partial fill
// without reaching into the account package's unexported helper.
func prorateAmount(amount xtypes.Amount, ratio uint16) xtypes.Amount {
	if ratio >= 65535 {
		return amount
	}
	if ratio == 0 {
		return xtypes.Zero()
	}
	num := new(big.Int).Mul(amount.Big(), big.NewInt(int64(ratio)))
	num.Div(num, big.NewInt(65535))
	return xtypes.FromBigInt(num)
}
