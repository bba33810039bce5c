package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrimo/torrent/internal/codec"
	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
)

const instrument = "btc-usdt-spot"

type capture struct {
	events []model.Event
}

func (c *capture) emit(ev model.Event) { c.events = append(c.events, ev) }

func (c *capture) byStream(id uint8) []model.Event {
	var out []model.Event
	for _, ev := range c.events {
		if ev.StreamID == id {
			out = append(out, ev)
		}
	}
	return out
}

func snapshotEvent(exchange string, bids, asks []model.Level) model.Event {
	return model.Event{
		StreamID: model.StreamSnapshot,
		Buff:     codec.EncodeSnapshot(1, exchange, instrument, bids, asks),
	}
}

func updateEvent(exchange string, bids, asks []model.Level) model.Event {
	return model.Event{
		StreamID: model.StreamUpdate,
		Buff:     codec.EncodeUpdate(2, exchange, instrument, bids, asks),
	}
}

func pricingRequest() model.Event {
	return model.Event{
		StreamID: model.StreamPricingRequest,
		Buff:     codec.EncodePricingRequest(3, instrument),
	}
}

func TestProcessSnapshotCreatesBook(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)

	require.NoError(t, agg.Process(snapshotEvent("binance", levels(2, 4, 6), levels(1, 3, 5))))

	bk := agg.Book(instrument)
	require.NotNil(t, bk)
	bid, ok := bk.BestBid()
	require.True(t, ok)
	assert.Equal(t, 6*scale, bid.Price)
	assert.True(t, agg.InSync())
	assert.Equal(t, uint64(1), agg.Processed())
}

func TestProcessUpdateBeforeSnapshot(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)

	err := agg.Process(updateEvent("binance", levels(2), nil))
	require.Error(t, err)
	assert.Equal(t, errs.KindUnknownInstrument, errs.KindOf(err))
	assert.Nil(t, agg.Book(instrument))
	assert.True(t, agg.InSync(), "early update is dropped, not a desync")
	assert.Equal(t, uint64(1), agg.Errored())
}

func TestProcessUpdateEmitsAggregatedSnapshot(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)

	require.NoError(t, agg.Process(snapshotEvent("binance", levels(2, 4, 6), levels(1, 3, 5))))
	require.NoError(t, agg.Process(updateEvent("binance",
		[]model.Level{{Price: 6 * scale, Qty: 0}}, nil)))

	snaps := sink.byStream(model.StreamSnapshot)
	require.Len(t, snaps, 1)
	ev, err := codec.DecodeBookEvent(snaps[0].Buff)
	require.NoError(t, err)
	assert.Equal(t, "aggregated", ev.Exchange)
	assert.Equal(t, instrument, ev.Instrument)
	require.Len(t, ev.Bids, 2)
	assert.Equal(t, 4*scale, ev.Bids[0].Price, "bids come out high to low")
}

func TestPricingRequestPublishes(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)

	require.NoError(t, agg.Process(snapshotEvent("binance", levels(2, 4, 6), levels(1, 3, 5))))
	require.NoError(t, agg.Process(pricingRequest()))

	events := sink.byStream(model.StreamPricing)
	require.Len(t, events, 1)
	pe, err := codec.DecodePricing(events[0].Buff)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, float64(pe.BestBid), 1e-6)
	assert.InDelta(t, 5.5, float64(pe.ExecutionBid), 1e-6)
	assert.Equal(t, uint64(3), pe.Depth)
}

func TestPricingSuppressedWhenOutOfSync(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)

	require.NoError(t, agg.Process(snapshotEvent("binance", levels(2, 4, 6), levels(1, 3, 5))))

	// A malformed envelope clears the flag.
	err := agg.Process(model.Event{StreamID: model.StreamSnapshot, Buff: []byte{0}})
	require.Error(t, err)
	assert.False(t, agg.InSync())

	require.NoError(t, agg.Process(pricingRequest()))
	assert.Empty(t, sink.byStream(model.StreamPricing), "no pricing while out of sync")

	// The next complete snapshot cycle restores publication.
	require.NoError(t, agg.Process(snapshotEvent("binance", levels(2, 4, 6), levels(1, 3, 5))))
	assert.True(t, agg.InSync())
	require.NoError(t, agg.Process(pricingRequest()))
	assert.Len(t, sink.byStream(model.StreamPricing), 1)
}

func TestUnknownVenueDropped(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)

	err := agg.Process(snapshotEvent("nyse", levels(2), nil))
	require.Error(t, err)
	assert.Equal(t, errs.KindBadParse, errs.KindOf(err))
	assert.Nil(t, agg.Book(instrument), "no partial mutation on bad events")
}

func TestInconsistentQuarantinesBook(t *testing.T) {
	sink := &capture{}
	agg := NewAggregator(80*scale, sink.emit)
	max := ^uint64(0)

	require.NoError(t, agg.Process(snapshotEvent("binance",
		[]model.Level{{Price: 10, Qty: max}}, nil)))
	require.NoError(t, agg.Process(snapshotEvent("okx", levels(4), levels(6))))

	err := agg.Process(updateEvent("okx", []model.Level{{Price: 10, Qty: 1}}, nil))
	require.Error(t, err)
	assert.Equal(t, errs.KindInconsistent, errs.KindOf(err))
	assert.False(t, agg.InSync())
	assert.Zero(t, agg.Book(instrument).DepthBid(), "inconsistent book is cleared")

	// Both venues contributed, so both must resnapshot before pricing resumes.
	require.NoError(t, agg.Process(snapshotEvent("binance", levels(2), levels(3))))
	assert.False(t, agg.InSync())
	require.NoError(t, agg.Process(snapshotEvent("okx", levels(4), levels(6))))
	assert.True(t, agg.InSync())
}
