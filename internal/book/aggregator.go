package book

import (
	"sync/atomic"
	"time"

	"github.com/atrimo/torrent/internal/codec"
	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/pkg/logger"
)

// Aggregator owns every per-instrument aggregated book and consumes the
// canonical event stream. All mutable state lives on the goroutine calling
// Process; only the inSync flag and the processed/errored counters are
// readable from outside.
type Aggregator struct {
	books map[string]*Book

	// dirty holds venues whose aggregated contributions are suspect.
	// Pricing publication stays suppressed until each has delivered a
	// fresh snapshot.
	dirty  map[model.Venue]struct{}
	inSync atomic.Bool

	// executionQty is the configured size for execution-price analytics,
	// in fixed-point units.
	executionQty uint64

	// emit hands a finished event to the egress side. It must not block.
	emit func(model.Event)

	processed atomic.Uint64
	errored   atomic.Uint64
}

// NewAggregator creates an aggregator publishing through emit.
func NewAggregator(executionQty uint64, emit func(model.Event)) *Aggregator {
	a := &Aggregator{
		books:        make(map[string]*Book),
		dirty:        make(map[model.Venue]struct{}),
		executionQty: executionQty,
		emit:         emit,
	}
	a.inSync.Store(true)
	return a
}

// InSync reports whether aggregated state is consistent with the stream.
// Safe to call from any goroutine.
func (a *Aggregator) InSync() bool { return a.inSync.Load() }

// Processed returns the number of events consumed.
func (a *Aggregator) Processed() uint64 { return a.processed.Load() }

// Errored returns the number of events that failed processing.
func (a *Aggregator) Errored() uint64 { return a.errored.Load() }

// Book returns the aggregated book for an instrument, nil when none exists.
func (a *Aggregator) Book(instrument string) *Book { return a.books[instrument] }

// Process consumes one canonical event. Every failure is handled here:
// nothing propagates to the caller beyond the returned error, which is for
// logging only.
func (a *Aggregator) Process(ev model.Event) error {
	a.processed.Add(1)
	var err error
	switch ev.StreamID {
	case model.StreamSnapshot:
		err = a.processSnapshot(ev.Buff)
	case model.StreamUpdate:
		err = a.processUpdate(ev.Buff)
	case model.StreamPricingRequest:
		err = a.processPricingRequest(ev.Buff)
	default:
		err = errs.BadParse(nil, "unknown stream id %d", ev.StreamID)
	}
	if err != nil {
		a.errored.Add(1)
		logger.Log.Warn().Err(err).Uint8("stream", ev.StreamID).Msg("event dropped")
	}
	return err
}

func (a *Aggregator) processSnapshot(buf []byte) error {
	ev, err := codec.DecodeBookEvent(buf)
	if err != nil {
		a.markOutOfSync(model.VenueUnknown)
		return err
	}
	venue := model.NewVenue(ev.Exchange)
	if venue == model.VenueUnknown {
		a.markOutOfSync(model.VenueUnknown)
		return errs.BadParse(nil, "unknown venue %q", ev.Exchange)
	}

	bk, ok := a.books[ev.Instrument]
	if !ok {
		pair, perr := model.ParseCcyPair(ev.Instrument)
		if perr != nil {
			a.markOutOfSync(venue)
			return errs.BadParse(perr, "snapshot instrument %q", ev.Instrument)
		}
		bk = NewBook(pair)
		a.books[ev.Instrument] = bk
		logger.Log.Info().Str("instrument", ev.Instrument).Msg("book created")
	}

	if err := bk.Reset(venue, ev.Bids, ev.Asks); err != nil {
		a.quarantine(ev.Instrument, bk)
		return err
	}

	logger.Log.Debug().
		Str("exchange", ev.Exchange).
		Str("instrument", ev.Instrument).
		Int("bids", len(ev.Bids)).
		Int("asks", len(ev.Asks)).
		Msg("snapshot applied")

	// A fresh snapshot clears this venue's suspicion; once every dirty
	// venue has resnapshotted, pricing resumes.
	delete(a.dirty, venue)
	if len(a.dirty) == 0 && !a.inSync.Load() {
		a.inSync.Store(true)
		logger.Log.Info().Msg("aggregated state back in sync")
	}
	return nil
}

func (a *Aggregator) processUpdate(buf []byte) error {
	ev, err := codec.DecodeBookEvent(buf)
	if err != nil {
		a.markOutOfSync(model.VenueUnknown)
		return err
	}
	venue := model.NewVenue(ev.Exchange)
	if venue == model.VenueUnknown {
		a.markOutOfSync(model.VenueUnknown)
		return errs.BadParse(nil, "unknown venue %q", ev.Exchange)
	}

	bk, ok := a.books[ev.Instrument]
	if !ok {
		// An update before any snapshot: drop, the sequencer refetches.
		return errs.UnknownInstrument(ev.Instrument)
	}

	if err := bk.Update(venue, ev.Bids, ev.Asks); err != nil {
		a.quarantine(ev.Instrument, bk)
		return err
	}

	a.emitAggregatedSnapshot(ev.Instrument, bk)
	return nil
}

func (a *Aggregator) processPricingRequest(buf []byte) error {
	env, err := codec.DecodePricingRequest(buf)
	if err != nil {
		return err
	}
	bk, ok := a.books[env.Instrument]
	if !ok {
		// Requests race the first snapshot at startup; stay quiet.
		logger.Log.Debug().Str("instrument", env.Instrument).Msg("pricing skipped: no book yet")
		return nil
	}
	if !a.inSync.Load() {
		// Out-of-sync pricing must never reach consumers.
		logger.Log.Debug().Str("instrument", env.Instrument).Msg("pricing suppressed: out of sync")
		return nil
	}

	d := bk.Pricing(a.executionQty)
	out := &codec.PricingEvent{
		Envelope: codec.Envelope{
			Timestamp:  uint64(time.Now().UnixMicro()),
			Exchange:   "aggregated",
			Instrument: env.Instrument,
		},
		BestBid:      d.BestBid,
		BestAsk:      d.BestAsk,
		WorstBid:     d.WorstBid,
		WorstAsk:     d.WorstAsk,
		ExecutionBid: d.ExecutionBid,
		ExecutionAsk: d.ExecutionAsk,
		Imbalance1:   d.Imbalances[0],
		Imbalance25:  d.Imbalances[1],
		Imbalance50:  d.Imbalances[2],
		Imbalance75:  d.Imbalances[3],
		Imbalance100: d.Imbalances[4],
		Depth:        d.Depth,
	}
	a.emit(model.Event{StreamID: model.StreamPricing, Buff: codec.EncodePricing(out)})
	return nil
}

// emitAggregatedSnapshot publishes the pooled book downstream after each
// applied update.
func (a *Aggregator) emitAggregatedSnapshot(instrument string, bk *Book) {
	bids, asks := bk.Snapshot()
	buf := codec.EncodeSnapshot(uint64(time.Now().UnixMicro()), "aggregated", instrument, bids, asks)
	a.emit(model.Event{StreamID: model.StreamSnapshot, Buff: buf})
}

// markOutOfSync clears the inSync flag. When the failing venue is known it
// must resnapshot before pricing resumes; an unattributable failure parks
// the flag until the next successful snapshot cycle.
func (a *Aggregator) markOutOfSync(venue model.Venue) {
	if venue != model.VenueUnknown {
		a.dirty[venue] = struct{}{}
	}
	a.inSync.Store(false)
}

// quarantine resets an inconsistent book and requires a fresh snapshot from
// every venue that was contributing to it.
func (a *Aggregator) quarantine(instrument string, bk *Book) {
	for _, v := range bk.ContributingVenues() {
		a.dirty[v] = struct{}{}
	}
	bk.Clear()
	a.inSync.Store(false)
	logger.Log.Error().Str("instrument", instrument).Msg("book inconsistent: cleared, awaiting snapshots")
}
