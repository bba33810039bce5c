package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
)

func TestSnapshotRoundTrip(t *testing.T) {
	bids := []model.Level{{Price: 60, Qty: 600}, {Price: 40, Qty: 400}}
	asks := []model.Level{{Price: 10, Qty: 100}, {Price: 30, Qty: 300}}

	buf := EncodeSnapshot(1700000000000001, "binance", "btc-usdt-spot", bids, asks)

	typ, err := PeekType(buf)
	require.NoError(t, err)
	assert.Equal(t, model.StreamSnapshot, typ)

	ev, err := DecodeBookEvent(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700000000000001), ev.Timestamp)
	assert.Equal(t, "binance", ev.Exchange)
	assert.Equal(t, "btc-usdt-spot", ev.Instrument)
	assert.Equal(t, bids, ev.Bids)
	assert.Equal(t, asks, ev.Asks)
}

func TestUpdateRoundTripEmptySides(t *testing.T) {
	buf := EncodeUpdate(42, "okx", "eth-usdt-spot", nil, []model.Level{{Price: 5, Qty: 0}})

	ev, err := DecodeBookEvent(buf)
	require.NoError(t, err)
	assert.Equal(t, model.StreamUpdate, ev.Type)
	assert.Empty(t, ev.Bids)
	require.Len(t, ev.Asks, 1)
	assert.Equal(t, uint64(0), ev.Asks[0].Qty, "qty 0 delete sentinel must survive the wire")
}

func TestPricingRoundTrip(t *testing.T) {
	in := &PricingEvent{
		Envelope:     Envelope{Timestamp: 7, Exchange: "aggregated", Instrument: "btc-usdt-spot"},
		BestBid:      6.0,
		BestAsk:      1.0,
		WorstBid:     2.0,
		WorstAsk:     5.0,
		ExecutionBid: 5.5,
		ExecutionAsk: 2.25,
		Imbalance1:   -0.5,
		Imbalance25:  0.1,
		Imbalance50:  0.2,
		Imbalance75:  0.3,
		Imbalance100: -1.0,
		Depth:        3,
	}
	buf := EncodePricing(in)

	out, err := DecodePricing(buf)
	require.NoError(t, err)
	out.Type = 0
	in.Type = 0
	assert.Equal(t, in, out)
}

func TestPricingRequestRoundTrip(t *testing.T) {
	buf := EncodePricingRequest(99, "btc-usdt-spot")
	env, err := DecodePricingRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, "btc-usdt-spot", env.Instrument)
	assert.Equal(t, uint64(99), env.Timestamp)
}

func TestDecodeMalformed(t *testing.T) {
	bids := []model.Level{{Price: 1, Qty: 2}}
	good := EncodeSnapshot(1, "bybit", "btc-usdt-spot", bids, nil)

	// Every truncation of a valid buffer must fail cleanly, never panic.
	for n := 0; n < len(good); n++ {
		_, err := DecodeBookEvent(good[:n])
		assert.Error(t, err, "truncated at %d bytes", n)
		assert.Equal(t, errs.KindBadParse, errs.KindOf(err), "truncated at %d bytes", n)
	}
}

func TestDecodeRejectsWrongType(t *testing.T) {
	buf := EncodePricingRequest(1, "btc-usdt-spot")
	_, err := DecodeBookEvent(buf)
	assert.Equal(t, errs.KindBadParse, errs.KindOf(err))

	snap := EncodeSnapshot(1, "binance", "btc-usdt-spot", nil, nil)
	_, err = DecodePricing(snap)
	assert.Equal(t, errs.KindBadParse, errs.KindOf(err))
}

func TestDecodeRejectsMissingInstrument(t *testing.T) {
	buf := EncodeSnapshot(1, "binance", "", nil, nil)
	_, err := DecodeBookEvent(buf)
	require.Error(t, err)
	assert.Equal(t, errs.KindBadParse, errs.KindOf(err))
}

func TestDecodeRejectsBogusLevelCount(t *testing.T) {
	buf := EncodeSnapshot(1, "binance", "btc-usdt-spot", nil, nil)
	// Claim 2^31-1 bids with no payload behind the count.
	buf[len(buf)-8] = 0xff
	buf[len(buf)-7] = 0xff
	buf[len(buf)-6] = 0xff
	buf[len(buf)-5] = 0x7f
	_, err := DecodeBookEvent(buf)
	assert.Equal(t, errs.KindBadParse, errs.KindOf(err))
}
