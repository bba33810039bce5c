package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrimo/torrent/internal/codec"
	"github.com/atrimo/torrent/internal/model"
)

const scale = model.ScaleFactor

type fakePublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (f *fakePublisher) Publish(ev model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) byStream(id uint8) []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, ev := range f.events {
		if ev.StreamID == id {
			out = append(out, ev)
		}
	}
	return out
}

func levels(prices ...uint64) []model.Level {
	out := make([]model.Level, 0, len(prices))
	for _, p := range prices {
		out = append(out, model.Level{Price: p * scale, Qty: p * 10 * scale})
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}

func newTestPipeline(pub Publisher) *Pipeline {
	return New(Config{
		RingCapacity:    1024,
		ExecutionQty:    80 * scale,
		PricingInterval: 10 * time.Millisecond,
		Instruments:     []string{"btc-usdt-spot"},
	}, pub)
}

func TestEndToEndFlow(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(pub)
	p.Start()
	defer p.Stop()

	// Feed a venue snapshot, then an update.
	p.Ingest(model.Event{
		StreamID: model.StreamSnapshot,
		Buff:     codec.EncodeSnapshot(1, "binance", "btc-usdt-spot", levels(2, 4, 6), levels(1, 3, 5)),
	})
	p.Ingest(model.Event{
		StreamID: model.StreamUpdate,
		Buff: codec.EncodeUpdate(2, "binance", "btc-usdt-spot",
			[]model.Level{{Price: 6 * scale, Qty: 0}}, nil),
	})

	// The update produces an aggregated snapshot; the ticker produces
	// pricing events.
	waitFor(t, func() bool { return len(pub.byStream(model.StreamSnapshot)) >= 1 })
	waitFor(t, func() bool { return len(pub.byStream(model.StreamPricing)) >= 1 })

	snap, err := codec.DecodeBookEvent(pub.byStream(model.StreamSnapshot)[0].Buff)
	require.NoError(t, err)
	assert.Equal(t, "aggregated", snap.Exchange)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, 4*scale, snap.Bids[0].Price)

	// The ticker may have fired between snapshot and update; wait for a
	// pricing event that reflects the applied update.
	waitFor(t, func() bool {
		for _, ev := range pub.byStream(model.StreamPricing) {
			pricing, err := codec.DecodePricing(ev.Buff)
			if err != nil {
				return false
			}
			if pricing.Instrument == "btc-usdt-spot" && pricing.BestBid > 3.9 && pricing.BestBid < 4.1 {
				return true
			}
		}
		return false
	})
}

func TestPricingOrderFollowsUpdates(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(pub)
	p.Start()
	defer p.Stop()

	p.Ingest(model.Event{
		StreamID: model.StreamSnapshot,
		Buff:     codec.EncodeSnapshot(1, "binance", "btc-usdt-spot", levels(2, 4, 6), levels(1, 3, 5)),
	})
	waitFor(t, func() bool { return len(pub.byStream(model.StreamPricing)) >= 2 })

	for _, ev := range pub.byStream(model.StreamPricing) {
		pricing, err := codec.DecodePricing(ev.Buff)
		require.NoError(t, err)
		assert.InDelta(t, 6.0, float64(pricing.BestBid), 1e-6)
	}
}

func TestVarzCounters(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(pub)
	p.Start()
	defer p.Stop()

	p.Ingest(model.Event{
		StreamID: model.StreamSnapshot,
		Buff:     codec.EncodeSnapshot(1, "binance", "btc-usdt-spot", levels(2), levels(3)),
	})
	waitFor(t, func() bool { return p.Aggregator().Processed() >= 1 })

	varz := p.Varz()
	assert.Equal(t, true, varz["in_sync"])
	assert.NotNil(t, varz["ingress_dropped"])
	assert.NotNil(t, varz["published"])
}

func TestStopTerminates(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestPipeline(pub)
	p.Start()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}
