package book

import (
	"github.com/atrimo/torrent/internal/model"
)

// ImbalanceWindows are the top-k windows reported in pricing events.
var ImbalanceWindows = [5]int{1, 25, 50, 75, 100}

// BestBid returns the highest aggregated bid level.
func (b *Book) BestBid() (model.Level, bool) {
	lvl, ok := b.bids.Max()
	if !ok {
		return model.Level{}, false
	}
	return model.Level{Price: lvl.price, Qty: lvl.meta.totalQty}, true
}

// BestAsk returns the lowest aggregated ask level.
func (b *Book) BestAsk() (model.Level, bool) {
	lvl, ok := b.asks.Min()
	if !ok {
		return model.Level{}, false
	}
	return model.Level{Price: lvl.price, Qty: lvl.meta.totalQty}, true
}

// WorstBid returns the lowest aggregated bid level.
func (b *Book) WorstBid() (model.Level, bool) {
	lvl, ok := b.bids.Min()
	if !ok {
		return model.Level{}, false
	}
	return model.Level{Price: lvl.price, Qty: lvl.meta.totalQty}, true
}

// WorstAsk returns the highest aggregated ask level.
func (b *Book) WorstAsk() (model.Level, bool) {
	lvl, ok := b.asks.Max()
	if !ok {
		return model.Level{}, false
	}
	return model.Level{Price: lvl.price, Qty: lvl.meta.totalQty}, true
}

// Mid returns (bestBid + bestAsk) / 2. False when either side is empty or
// the sum would overflow.
func (b *Book) Mid() (uint64, bool) {
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

// ExecutionBid returns the average fill price obtained when selling qty into
// the bids, walking levels high to low. False when the book lacks the
// liquidity. Prices and quantities are scaled down into float64 before
// multiplying so the notional sum cannot overflow.
func (b *Book) ExecutionBid(qty uint64) (uint64, bool) {
	if qty == 0 {
		return 0, false
	}
	target := model.Unscale(qty)
	var notional, cum float64
	b.bids.Descend(func(lvl aggLevel) bool {
		p := model.Unscale(lvl.price)
		q := model.Unscale(lvl.meta.totalQty)
		if cum+q >= target {
			notional += p * (target - cum)
			cum = target
			return false
		}
		notional += p * q
		cum += q
		return true
	})
	if cum < target {
		return 0, false
	}
	return uint64(notional / target * float64(model.ScaleFactor)), true
}

// ExecutionAsk returns the average fill price obtained when buying qty from
// the asks, walking levels low to high.
func (b *Book) ExecutionAsk(qty uint64) (uint64, bool) {
	if qty == 0 {
		return 0, false
	}
	target := model.Unscale(qty)
	var notional, cum float64
	b.asks.Ascend(func(lvl aggLevel) bool {
		p := model.Unscale(lvl.price)
		q := model.Unscale(lvl.meta.totalQty)
		if cum+q >= target {
			notional += p * (target - cum)
			cum = target
			return false
		}
		notional += p * q
		cum += q
		return true
	})
	if cum < target {
		return 0, false
	}
	return uint64(notional / target * float64(model.ScaleFactor)), true
}

// bpsDelta computes mid * bps / 10000 without overflowing.
func bpsDelta(mid, bps uint64) uint64 {
	return mid/10000*bps + mid%10000*bps/10000
}

// BidQtyTill sums aggregate bid quantity at prices strictly greater than
// mid * (1 - bps/10000). False when the book has no mid.
func (b *Book) BidQtyTill(bps uint64) (uint64, bool) {
	mid, ok := b.Mid()
	if !ok {
		return 0, false
	}
	delta := bpsDelta(mid, bps)
	var sum uint64
	b.bids.Descend(func(lvl aggLevel) bool {
		// A band wider than the mid reaches below zero: every level counts.
		if delta <= mid && lvl.price <= mid-delta {
			return false
		}
		sum += lvl.meta.totalQty
		return true
	})
	return sum, true
}

// AskQtyTill sums aggregate ask quantity at prices strictly less than
// mid * (1 + bps/10000). The boundary price is excluded on both sides.
func (b *Book) AskQtyTill(bps uint64) (uint64, bool) {
	mid, ok := b.Mid()
	if !ok {
		return 0, false
	}
	delta := bpsDelta(mid, bps)
	if delta > ^uint64(0)-mid {
		return 0, false
	}
	threshold := mid + delta
	var sum uint64
	b.asks.Ascend(func(lvl aggLevel) bool {
		if lvl.price >= threshold {
			return false
		}
		sum += lvl.meta.totalQty
		return true
	})
	return sum, true
}

// BidLiquidity returns the aggregate quantity at an exact bid price.
func (b *Book) BidLiquidity(price uint64) (uint64, bool) {
	lvl, ok := b.bids.Get(aggLevel{price: price})
	if !ok {
		return 0, false
	}
	return lvl.meta.totalQty, true
}

// AskLiquidity returns the aggregate quantity at an exact ask price.
func (b *Book) AskLiquidity(price uint64) (uint64, bool) {
	lvl, ok := b.asks.Get(aggLevel{price: price})
	if !ok {
		return 0, false
	}
	return lvl.meta.totalQty, true
}

// topQty sums the aggregate quantity of the first k levels of a side in
// base-asset units.
func (b *Book) topQty(descend bool, k int) float64 {
	mult := model.BaseMultiplier(b.pair.Base)
	var sum float64
	n := 0
	visit := func(lvl aggLevel) bool {
		if n >= k {
			return false
		}
		sum += float64(lvl.meta.totalQty) / mult
		n++
		return true
	}
	if descend {
		b.bids.Descend(visit)
	} else {
		b.asks.Ascend(visit)
	}
	return sum
}

// Imbalance returns (A_k - B_k) / (A_k + B_k) over the top k levels of each
// side, in base units. False when both sums are zero.
func (b *Book) Imbalance(k int) (float32, bool) {
	bidQty := b.topQty(true, k)
	askQty := b.topQty(false, k)
	total := bidQty + askQty
	if total <= 0 {
		return 0, false
	}
	return float32((askQty - bidQty) / total), true
}

// PricingDetails bundles the analytics published downstream. Prices are
// unscaled floats; Depth counts aggregated bid levels.
type PricingDetails struct {
	BestBid      float32
	BestAsk      float32
	WorstBid     float32
	WorstAsk     float32
	ExecutionBid float32
	ExecutionAsk float32
	Imbalances   [5]float32
	Depth        uint64
}

// Pricing computes the full analytics bundle for the configured execution
// size. Missing figures (empty side, insufficient liquidity) come out as 0.
func (b *Book) Pricing(executionQty uint64) PricingDetails {
	var d PricingDetails
	if lvl, ok := b.BestBid(); ok {
		d.BestBid = float32(model.Unscale(lvl.Price))
	}
	if lvl, ok := b.BestAsk(); ok {
		d.BestAsk = float32(model.Unscale(lvl.Price))
	}
	if lvl, ok := b.WorstBid(); ok {
		d.WorstBid = float32(model.Unscale(lvl.Price))
	}
	if lvl, ok := b.WorstAsk(); ok {
		d.WorstAsk = float32(model.Unscale(lvl.Price))
	}
	if px, ok := b.ExecutionBid(executionQty); ok {
		d.ExecutionBid = float32(model.Unscale(px))
	}
	if px, ok := b.ExecutionAsk(executionQty); ok {
		d.ExecutionAsk = float32(model.Unscale(px))
	}
	for i, k := range ImbalanceWindows {
		if imb, ok := b.Imbalance(k); ok {
			d.Imbalances[i] = imb
		}
	}
	d.Depth = uint64(b.DepthBid())
	return d
}
