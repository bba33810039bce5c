package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
)

const scale = model.ScaleFactor

var btcUsdtSpot = model.CcyPair{Base: "btc", Quote: "usdt", Product: model.ProductSpot}

// levels builds (price*scale, price*10*scale) pairs from integer prices.
func levels(prices ...uint64) []model.Level {
	out := make([]model.Level, 0, len(prices))
	for _, p := range prices {
		out = append(out, model.Level{Price: p * scale, Qty: p * 10 * scale})
	}
	return out
}

func sideKeys(b *Book, side model.Side) []uint64 {
	var keys []uint64
	bids, asks := b.Snapshot()
	src := bids
	if side == model.SideSell {
		src = asks
	}
	for _, lvl := range src {
		keys = append(keys, lvl.Price/scale)
	}
	return keys
}

// checkInvariants verifies the sum and non-empty invariants on every level.
func checkInvariants(t *testing.T, b *Book) {
	t.Helper()
	verify := func(lvl aggLevel) bool {
		var sum uint64
		for _, q := range lvl.meta.perVenue {
			sum += q
		}
		assert.Equal(t, lvl.meta.totalQty, sum, "sum invariant at price %d", lvl.price)
		assert.NotZero(t, lvl.meta.totalQty, "level with zero aggregate must be pruned")
		assert.NotEmpty(t, lvl.meta.perVenue, "level with no contributors must be pruned")
		return true
	}
	b.bids.Ascend(verify)
	b.asks.Ascend(verify)
}

func TestScenarioASingleSnapshot(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))
	checkInvariants(t, b)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 6*scale, bid.Price)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 1*scale, ask.Price)

	mid, ok := b.Mid()
	require.True(t, ok)
	assert.Equal(t, 35*scale/10, mid)

	px, ok := b.ExecutionBid(80 * scale)
	require.True(t, ok)
	assert.Equal(t, 55*scale/10, px)

	px, ok = b.ExecutionBid(100 * scale)
	require.True(t, ok)
	assert.Equal(t, 52*scale/10, px)

	_, ok = b.ExecutionBid(130 * scale)
	assert.False(t, ok, "book holds 120 in bids, 130 cannot fill")
}

func TestScenarioBReSnapshot(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))
	require.NoError(t, b.Reset(model.VenueBinance, levels(2, 8, 10, 12), levels(5, 7, 9, 11)))
	checkInvariants(t, b)

	assert.Equal(t, []uint64{12, 10, 8, 2}, sideKeys(b, model.SideBuy))
	assert.Equal(t, []uint64{5, 7, 9, 11}, sideKeys(b, model.SideSell))

	bid, _ := b.BestBid()
	assert.Equal(t, 12*scale, bid.Price)
	ask, _ := b.BestAsk()
	assert.Equal(t, 5*scale, ask.Price)

	mid, ok := b.Mid()
	require.True(t, ok)
	assert.Equal(t, 85*scale/10, mid)

	px, ok := b.ExecutionBid(310 * scale)
	require.True(t, ok)
	assert.Equal(t, 10*scale, px)

	_, ok = b.ExecutionBid(400 * scale)
	assert.False(t, ok)
}

func TestScenarioCSingleVenueUpdate(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))

	require.NoError(t, b.Update(model.VenueBinance,
		[]model.Level{{Price: 6 * scale, Qty: 0}},
		[]model.Level{{Price: 5 * scale, Qty: 0}}))
	checkInvariants(t, b)

	assert.Equal(t, []uint64{4, 2}, sideKeys(b, model.SideBuy))
	assert.Equal(t, []uint64{1, 3}, sideKeys(b, model.SideSell))
}

func TestScenarioDTwoVenuesIndependent(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))
	require.NoError(t, b.Reset(model.VenueOkx, levels(8, 10, 12), levels(7, 9, 11)))
	checkInvariants(t, b)

	assert.Equal(t, []uint64{12, 10, 8, 6, 4, 2}, sideKeys(b, model.SideBuy))
	bid, _ := b.BestBid()
	assert.Equal(t, 12*scale, bid.Price)

	qty, ok := b.BidLiquidity(2 * scale)
	require.True(t, ok)
	assert.Equal(t, 20*scale, qty)
	assert.Equal(t, 20*scale, b.venueQty(b.bids, 2*scale, model.VenueBinance))
	assert.Zero(t, b.venueQty(b.bids, 2*scale, model.VenueOkx))

	qty, ok = b.BidLiquidity(12 * scale)
	require.True(t, ok)
	assert.Equal(t, 120*scale, qty)
	assert.Equal(t, 120*scale, b.venueQty(b.bids, 12*scale, model.VenueOkx))
	assert.Zero(t, b.venueQty(b.bids, 12*scale, model.VenueBinance))
}

func TestScenarioETwoVenuesOverlapping(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, []model.Level{{Price: 10, Qty: 100}}, nil))
	require.NoError(t, b.Reset(model.VenueOkx, []model.Level{{Price: 10, Qty: 50}}, nil))
	checkInvariants(t, b)

	qty, ok := b.BidLiquidity(10)
	require.True(t, ok)
	assert.Equal(t, uint64(150), qty)
	assert.Equal(t, uint64(100), b.venueQty(b.bids, 10, model.VenueBinance))
	assert.Equal(t, uint64(50), b.venueQty(b.bids, 10, model.VenueOkx))

	require.NoError(t, b.Update(model.VenueBinance, []model.Level{{Price: 10, Qty: 0}}, nil))
	checkInvariants(t, b)
	qty, ok = b.BidLiquidity(10)
	require.True(t, ok)
	assert.Equal(t, uint64(50), qty)
	assert.Zero(t, b.venueQty(b.bids, 10, model.VenueBinance))

	require.NoError(t, b.Update(model.VenueOkx, []model.Level{{Price: 10, Qty: 0}}, nil))
	checkInvariants(t, b)
	_, ok = b.BidLiquidity(10)
	assert.False(t, ok, "level must vanish once every venue is gone")
	assert.Zero(t, b.DepthBid())
}

func TestSnapshotIdempotence(t *testing.T) {
	b1 := NewBook(btcUsdtSpot)
	require.NoError(t, b1.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))

	b2 := NewBook(btcUsdtSpot)
	require.NoError(t, b2.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))
	require.NoError(t, b2.Reset(model.VenueBinance, levels(2, 4, 6), levels(1, 3, 5)))

	bids1, asks1 := b1.Snapshot()
	bids2, asks2 := b2.Snapshot()
	assert.Equal(t, bids1, bids2)
	assert.Equal(t, asks1, asks2)
	checkInvariants(t, b2)
}

func TestSnapshotReplacement(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2, 4), nil))
	require.NoError(t, b.Reset(model.VenueOkx, levels(4, 8), nil))

	// A new binance snapshot must leave exactly its own levels behind and
	// untouched okx contributions everywhere else.
	require.NoError(t, b.Reset(model.VenueBinance, levels(3), nil))
	checkInvariants(t, b)

	assert.Equal(t, []uint64{8, 4, 3}, sideKeys(b, model.SideBuy))
	assert.Equal(t, 30*scale, b.venueQty(b.bids, 3*scale, model.VenueBinance))
	assert.Zero(t, b.venueQty(b.bids, 4*scale, model.VenueBinance))
	assert.Equal(t, 40*scale, b.venueQty(b.bids, 4*scale, model.VenueOkx))
}

func TestSnapshotSkipsZeroQty(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance,
		[]model.Level{{Price: 10, Qty: 0}, {Price: 20, Qty: 5}}, nil))
	checkInvariants(t, b)
	assert.Equal(t, 1, b.DepthBid())
	_, ok := b.BidLiquidity(10)
	assert.False(t, ok)
}

func TestUpdateDeleteAbsentLevelIsNoop(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2), nil))
	require.NoError(t, b.Update(model.VenueBinance, []model.Level{{Price: 999, Qty: 0}}, nil))
	checkInvariants(t, b)
	assert.Equal(t, 1, b.DepthBid())
}

func TestUpdateSamePriceLastWriteWins(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	require.NoError(t, b.Reset(model.VenueBinance, levels(2), nil))

	require.NoError(t, b.Update(model.VenueBinance, []model.Level{
		{Price: 2 * scale, Qty: 7},
		{Price: 2 * scale, Qty: 9},
	}, nil))
	checkInvariants(t, b)

	qty, ok := b.BidLiquidity(2 * scale)
	require.True(t, ok)
	assert.Equal(t, uint64(9), qty)
}

func TestCrossedBooksTolerated(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	// One venue resyncing can legitimately cross another's view.
	require.NoError(t, b.Reset(model.VenueBinance, levels(10), levels(12)))
	require.NoError(t, b.Reset(model.VenueOkx, levels(13), levels(14)))
	checkInvariants(t, b)

	bid, _ := b.BestBid()
	ask, _ := b.BestAsk()
	assert.Greater(t, bid.Price, ask.Price, "aggregated book may cross between venues")
}

func TestUpdateOverflowReportsInconsistent(t *testing.T) {
	b := NewBook(btcUsdtSpot)
	max := ^uint64(0)
	require.NoError(t, b.Reset(model.VenueBinance, []model.Level{{Price: 10, Qty: max}}, nil))

	err := b.Update(model.VenueOkx, []model.Level{{Price: 10, Qty: 1}}, nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInconsistent, errs.KindOf(err))
}
