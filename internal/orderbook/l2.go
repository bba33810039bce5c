// Package orderbook maintains a single venue's level-2 book: two
// price-ordered sides of (price, qty) levels. One book is owned by exactly
// one sequencer; there is no internal locking.
package orderbook

import (
	"github.com/google/btree"

	"github.com/atrimo/torrent/internal/model"
)

const btreeDegree = 32

// L2 is a standard level-2 book. Bids iterate highest price first, asks
// lowest price first.
type L2 struct {
	bids *btree.BTreeG[model.Level]
	asks *btree.BTreeG[model.Level]
}

func byPrice(a, b model.Level) bool { return a.Price < b.Price }

// NewL2 creates an empty book.
func NewL2() *L2 {
	return &L2{
		bids: btree.NewG(btreeDegree, byPrice),
		asks: btree.NewG(btreeDegree, byPrice),
	}
}

func (b *L2) side(side model.Side) *btree.BTreeG[model.Level] {
	if side == model.SideBuy {
		return b.bids
	}
	return b.asks
}

// Add inserts a level, replacing any existing level at the same price.
func (b *L2) Add(side model.Side, price, qty uint64) {
	b.side(side).ReplaceOrInsert(model.Level{Price: price, Qty: qty})
}

// Delete removes the level at price, if present.
func (b *L2) Delete(side model.Side, price uint64) {
	b.side(side).Delete(model.Level{Price: price})
}

// IsEmpty reports whether both sides are empty.
func (b *L2) IsEmpty() bool {
	return b.bids.Len() == 0 && b.asks.Len() == 0
}

// Clear drops both sides.
func (b *L2) Clear() {
	b.bids.Clear(false)
	b.asks.Clear(false)
}

// Len returns the number of levels on a side.
func (b *L2) Len(side model.Side) int {
	return b.side(side).Len()
}

// BestBid returns the highest bid.
func (b *L2) BestBid() (model.Level, bool) {
	return b.bids.Max()
}

// BestAsk returns the lowest ask.
func (b *L2) BestAsk() (model.Level, bool) {
	return b.asks.Min()
}

// Qty returns the quantity at an exact price, zero when absent.
func (b *L2) Qty(side model.Side, price uint64) uint64 {
	lvl, ok := b.side(side).Get(model.Level{Price: price})
	if !ok {
		return 0
	}
	return lvl.Qty
}

// Mid returns (bestBid + bestAsk) / 2, false when either side is empty or
// the sum overflows.
func (b *L2) Mid() (uint64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	if bid.Price > ^uint64(0)-ask.Price {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Bids iterates bid levels highest price first. Return false to stop.
func (b *L2) Bids(fn func(model.Level) bool) {
	b.bids.Descend(fn)
}

// Asks iterates ask levels lowest price first. Return false to stop.
func (b *L2) Asks(fn func(model.Level) bool) {
	b.asks.Ascend(fn)
}

// Levels flattens a side in iteration order. Used when emitting snapshots.
func (b *L2) Levels(side model.Side) []model.Level {
	out := make([]model.Level, 0, b.side(side).Len())
	collect := func(lvl model.Level) bool {
		out = append(out, lvl)
		return true
	}
	if side == model.SideBuy {
		b.bids.Descend(collect)
	} else {
		b.asks.Ascend(collect)
	}
	return out
}

// Apply folds one wire level into the book: qty 0 deletes, anything else
// replaces or inserts.
func (b *L2) Apply(side model.Side, price, qty uint64) {
	if qty == 0 {
		b.Delete(side, price)
		return
	}
	b.Add(side, price, qty)
}
