// Package book implements the per-instrument aggregated order book: every
// price level tracks both the pooled quantity and each venue's contribution,
// so one venue's snapshot can be replaced without disturbing the others.
package book

import (
	"github.com/google/btree"

	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
)

const btreeDegree = 32

// levelMeta is the per-price bookkeeping. The invariant maintained after
// every Reset/Update call: totalQty == sum(perVenue values), and a level
// exists in its side iff totalQty > 0.
type levelMeta struct {
	totalQty uint64
	perVenue map[model.Venue]uint64
}

type aggLevel struct {
	price uint64
	meta  *levelMeta
}

func byPrice(a, b aggLevel) bool { return a.price < b.price }

// Book is the aggregated book for one instrument. It is owned by the
// aggregator goroutine; no internal locking.
type Book struct {
	pair model.CcyPair
	bids *btree.BTreeG[aggLevel]
	asks *btree.BTreeG[aggLevel]
}

// NewBook creates an empty aggregated book for an instrument.
func NewBook(pair model.CcyPair) *Book {
	return &Book{
		pair: pair,
		bids: btree.NewG(btreeDegree, byPrice),
		asks: btree.NewG(btreeDegree, byPrice),
	}
}

// Pair returns the instrument identity.
func (b *Book) Pair() model.CcyPair { return b.pair }

// Clear drops all levels on both sides.
func (b *Book) Clear() {
	b.bids.Clear(false)
	b.asks.Clear(false)
}

// ContributingVenues returns every venue currently holding quantity
// anywhere in the book.
func (b *Book) ContributingVenues() []model.Venue {
	seen := make(map[model.Venue]struct{})
	collect := func(lvl aggLevel) bool {
		for v := range lvl.meta.perVenue {
			seen[v] = struct{}{}
		}
		return true
	}
	b.bids.Ascend(collect)
	b.asks.Ascend(collect)
	venues := make([]model.Venue, 0, len(seen))
	for v := range seen {
		venues = append(venues, v)
	}
	return venues
}

// Reset replaces every contribution of venue on both sides with the supplied
// snapshot levels. Incoming levels with qty 0 are skipped. Snapshot
// semantics: after Reset, venue's contribution at every price equals exactly
// the snapshot's levels and zero elsewhere.
func (b *Book) Reset(venue model.Venue, bids, asks []model.Level) error {
	if err := b.resetSide(b.bids, venue, bids); err != nil {
		return err
	}
	return b.resetSide(b.asks, venue, asks)
}

func (b *Book) resetSide(side *btree.BTreeG[aggLevel], venue model.Venue, incoming []model.Level) error {
	// Withdraw the venue's existing contribution from every level.
	var toRemove []uint64
	var walkErr error
	side.Ascend(func(lvl aggLevel) bool {
		qty, ok := lvl.meta.perVenue[venue]
		if !ok {
			return true
		}
		if qty > lvl.meta.totalQty {
			walkErr = errs.Inconsistent("%s: venue %s holds %d of %d at price %d",
				b.pair, venue, qty, lvl.meta.totalQty, lvl.price)
			return false
		}
		lvl.meta.totalQty -= qty
		delete(lvl.meta.perVenue, venue)
		if lvl.meta.totalQty == 0 {
			toRemove = append(toRemove, lvl.price)
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	for _, price := range toRemove {
		side.Delete(aggLevel{price: price})
	}

	// Install the snapshot.
	for _, in := range incoming {
		if in.Qty == 0 {
			continue
		}
		if err := b.setVenueQty(side, venue, in.Price, in.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Update applies incremental deltas for venue. Qty 0 removes the venue's
// contribution at that price; the level itself is pruned when its aggregate
// reaches zero.
func (b *Book) Update(venue model.Venue, bids, asks []model.Level) error {
	if err := b.updateSide(b.bids, venue, bids); err != nil {
		return err
	}
	return b.updateSide(b.asks, venue, asks)
}

func (b *Book) updateSide(side *btree.BTreeG[aggLevel], venue model.Venue, deltas []model.Level) error {
	for _, d := range deltas {
		if d.Qty == 0 {
			lvl, ok := side.Get(aggLevel{price: d.Price})
			if !ok {
				continue // deleting an absent level is a no-op
			}
			prev, held := lvl.meta.perVenue[venue]
			if !held {
				continue
			}
			if prev > lvl.meta.totalQty {
				return errs.Inconsistent("%s: venue %s holds %d of %d at price %d",
					b.pair, venue, prev, lvl.meta.totalQty, d.Price)
			}
			lvl.meta.totalQty -= prev
			delete(lvl.meta.perVenue, venue)
			if lvl.meta.totalQty == 0 {
				side.Delete(aggLevel{price: d.Price})
			}
			continue
		}
		if err := b.setVenueQty(side, venue, d.Price, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

// setVenueQty makes venue's contribution at price exactly qty (> 0),
// inserting the level if needed.
func (b *Book) setVenueQty(side *btree.BTreeG[aggLevel], venue model.Venue, price, qty uint64) error {
	lvl, ok := side.Get(aggLevel{price: price})
	if !ok {
		meta := &levelMeta{
			totalQty: qty,
			perVenue: map[model.Venue]uint64{venue: qty},
		}
		side.ReplaceOrInsert(aggLevel{price: price, meta: meta})
		return nil
	}
	if prev, held := lvl.meta.perVenue[venue]; held {
		if prev > lvl.meta.totalQty {
			return errs.Inconsistent("%s: venue %s holds %d of %d at price %d",
				b.pair, venue, prev, lvl.meta.totalQty, price)
		}
		lvl.meta.totalQty -= prev
	}
	if qty > ^uint64(0)-lvl.meta.totalQty {
		return errs.Inconsistent("%s: qty overflow at price %d", b.pair, price)
	}
	lvl.meta.totalQty += qty
	lvl.meta.perVenue[venue] = qty
	return nil
}

// Snapshot flattens both sides in iteration order (bids high→low, asks
// low→high) with aggregate quantities.
func (b *Book) Snapshot() (bids, asks []model.Level) {
	bids = make([]model.Level, 0, b.bids.Len())
	b.bids.Descend(func(lvl aggLevel) bool {
		bids = append(bids, model.Level{Price: lvl.price, Qty: lvl.meta.totalQty})
		return true
	})
	asks = make([]model.Level, 0, b.asks.Len())
	b.asks.Ascend(func(lvl aggLevel) bool {
		asks = append(asks, model.Level{Price: lvl.price, Qty: lvl.meta.totalQty})
		return true
	})
	return bids, asks
}

// DepthBid returns the number of aggregated bid levels.
func (b *Book) DepthBid() int { return b.bids.Len() }

// DepthAsk returns the number of aggregated ask levels.
func (b *Book) DepthAsk() int { return b.asks.Len() }

// venueQty returns venue's contribution at an exact price, zero when absent.
func (b *Book) venueQty(side *btree.BTreeG[aggLevel], price uint64, venue model.Venue) uint64 {
	lvl, ok := side.Get(aggLevel{price: price})
	if !ok {
		return 0
	}
	return lvl.meta.perVenue[venue]
}
