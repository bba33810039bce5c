// Package sequencer turns a venue's raw snapshot/update protocol into the
// canonical event stream. One Sequencer instance tracks one (venue,
// instrument) pair: it bridges REST snapshots to the live stream, detects
// sequence gaps, and resynchronises without ever emitting partial state.
package sequencer

import (
	"context"
	"sync"
	"time"

	"github.com/atrimo/torrent/internal/codec"
	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/internal/orderbook"
	"github.com/atrimo/torrent/pkg/logger"
)

// Continuity selects how streaming updates chain to one another.
type Continuity int

const (
	// ContinuitySpot expects first_id == last_seen + 1.
	ContinuitySpot Continuity = iota
	// ContinuityFutures expects the update's previous-final id to equal
	// last_seen.
	ContinuityFutures
)

// Snapshot is a full venue book image with its sequence watermark.
type Snapshot struct {
	LastUpdateID uint64
	Bids         []model.Level
	Asks         []model.Level
}

// Update is one incremental message covering sequence ids
// [FirstID, FinalID]. PrevFinalID carries the previous message's FinalID on
// venues that chain updates that way; zero elsewhere.
type Update struct {
	FirstID     uint64
	FinalID     uint64
	PrevFinalID uint64
	Bids        []model.Level
	Asks        []model.Level
}

// Emitter receives finished canonical events. It must not block.
type Emitter func(model.Event)

// Fetcher retrieves a fresh REST snapshot. Nil for venues whose websocket
// delivers snapshots natively; those resync by resubscribing instead.
type Fetcher func(ctx context.Context) (*Snapshot, error)

const (
	fetchRetryInterval = time.Second
	fetchWarnAfter     = 30 * time.Second
)

// Sequencer is the per-(venue, instrument) state machine. Callbacks arrive
// from the venue's read goroutine and the snapshot fetch goroutine; a mutex
// serialises them. This is ingress-side code — the hot path starts after
// the emitter.
type Sequencer struct {
	venue model.Venue
	pair  model.CcyPair
	mode  Continuity
	fetch Fetcher
	emit  Emitter

	mu            sync.Mutex
	book          *orderbook.L2
	lastSeenID    uint64
	isFirstUpdate bool
	pending       *Snapshot
	// generation invalidates in-flight fetches when a newer resync starts.
	generation uint64

	// desync fires on gaps for venues without a REST leg; the adapter
	// resubscribes so the stream replays its snapshot.
	desync func()

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a sequencer. When fetch is non-nil the first snapshot is
// scheduled immediately.
func New(venue model.Venue, pair model.CcyPair, mode Continuity, fetch Fetcher, emit Emitter) *Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sequencer{
		venue:         venue,
		pair:          pair,
		mode:          mode,
		fetch:         fetch,
		emit:          emit,
		book:          orderbook.NewL2(),
		isFirstUpdate: true,
		ctx:           ctx,
		cancel:        cancel,
	}
	if fetch != nil {
		s.mu.Lock()
		s.scheduleFetch()
		s.mu.Unlock()
	}
	return s
}

// SetDesyncHandler installs the resync trigger for ws-native snapshot
// venues. Called once, before any message is delivered.
func (s *Sequencer) SetDesyncHandler(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.desync = fn
}

// Close stops any in-flight snapshot fetch. Called on unsubscribe.
func (s *Sequencer) Close() { s.cancel() }

// Venue returns the venue tag.
func (s *Sequencer) Venue() model.Venue { return s.venue }

// Pair returns the instrument.
func (s *Sequencer) Pair() model.CcyPair { return s.pair }

// Streaming reports whether the snapshot/stream bridge has been crossed.
func (s *Sequencer) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.isFirstUpdate
}

// Resync forces the sequencer back to the bridging state. Venue adapters
// call this on websocket reconnect; it is also the internal gap reaction.
func (s *Sequencer) Resync(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncLocked(reason)
}

func (s *Sequencer) resyncLocked(reason string) {
	logger.Log.Warn().
		Str("venue", s.venue.String()).
		Str("instrument", s.pair.String()).
		Str("reason", reason).
		Msg("resync")
	s.isFirstUpdate = true
	s.pending = nil
	s.generation++
	if s.fetch != nil {
		s.scheduleFetch()
	} else if s.desync != nil {
		go s.desync()
	}
}

// scheduleFetch starts the snapshot retry loop for the current generation.
// Caller holds the mutex.
func (s *Sequencer) scheduleFetch() {
	gen := s.generation
	go s.fetchLoop(gen)
}

func (s *Sequencer) fetchLoop(gen uint64) {
	started := time.Now()
	warned := false
	for {
		if s.ctx.Err() != nil {
			return
		}
		snap, err := s.fetch(s.ctx)
		if err == nil {
			s.deliverSnapshot(gen, snap)
			return
		}
		logger.Log.Warn().Err(err).
			Str("venue", s.venue.String()).
			Str("instrument", s.pair.String()).
			Msg("snapshot fetch failed")
		if !warned && time.Since(started) > fetchWarnAfter {
			warned = true
			logger.Log.Warn().
				Str("venue", s.venue.String()).
				Str("instrument", s.pair.String()).
				Dur("pending", time.Since(started)).
				Msg("snapshot still pending")
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(fetchRetryInterval):
		}
	}
}

func (s *Sequencer) deliverSnapshot(gen uint64, snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return // a newer resync superseded this fetch
	}
	s.pending = snap
	s.isFirstUpdate = true
	logger.Log.Debug().
		Str("venue", s.venue.String()).
		Str("instrument", s.pair.String()).
		Uint64("lastUpdateId", snap.LastUpdateID).
		Msg("snapshot pending bridge")
}

// OnNativeSnapshot handles venues whose websocket delivers the snapshot as
// a stream message: apply and emit immediately, then stream deltas.
func (s *Sequencer) OnNativeSnapshot(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applySnapshotLocked(snap)
	s.lastSeenID = snap.LastUpdateID
	s.isFirstUpdate = false
	s.pending = nil
}

// OnUpdate handles one live update message.
func (s *Sequencer) OnUpdate(u *Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isFirstUpdate {
		snap := s.pending
		if snap == nil {
			return // snapshot still in flight; drop
		}
		if u.FinalID <= snap.LastUpdateID {
			return // predates the snapshot entirely
		}
		if !bridges(snap, u) {
			// Ahead of the snapshot: the book moved past us while the
			// fetch was in flight. Refetch.
			s.resyncLocked("update does not bridge snapshot")
			return
		}
		s.applySnapshotLocked(snap)
		s.pending = nil
		s.isFirstUpdate = false
		s.applyUpdateLocked(u)
		s.lastSeenID = u.FinalID
		return
	}

	if u.FinalID <= s.lastSeenID {
		return // duplicate
	}
	if !s.continuous(u) {
		s.resyncLocked("sequence gap")
		return
	}
	s.applyUpdateLocked(u)
	s.lastSeenID = u.FinalID
}

// bridges implements the snapshot bridge: U ≤ S+1 ≤ u.
func bridges(snap *Snapshot, u *Update) bool {
	next := snap.LastUpdateID + 1
	return u.FirstID <= next && next <= u.FinalID
}

func (s *Sequencer) continuous(u *Update) bool {
	if s.mode == ContinuityFutures {
		return u.PrevFinalID == s.lastSeenID
	}
	return u.FirstID == s.lastSeenID+1
}

// applySnapshotLocked replaces the venue book and emits the canonical
// snapshot event.
func (s *Sequencer) applySnapshotLocked(snap *Snapshot) {
	s.book.Clear()
	for _, lvl := range snap.Bids {
		s.book.Apply(model.SideBuy, lvl.Price, lvl.Qty)
	}
	for _, lvl := range snap.Asks {
		s.book.Apply(model.SideSell, lvl.Price, lvl.Qty)
	}
	buf := codec.EncodeSnapshot(uint64(time.Now().UnixMicro()),
		s.venue.String(), s.pair.String(),
		s.book.Levels(model.SideBuy), s.book.Levels(model.SideSell))
	s.emit(model.Event{StreamID: model.StreamSnapshot, Buff: buf})
}

// applyUpdateLocked folds deltas into the venue book and emits the
// canonical update event.
func (s *Sequencer) applyUpdateLocked(u *Update) {
	for _, lvl := range u.Bids {
		s.book.Apply(model.SideBuy, lvl.Price, lvl.Qty)
	}
	for _, lvl := range u.Asks {
		s.book.Apply(model.SideSell, lvl.Price, lvl.Qty)
	}
	buf := codec.EncodeUpdate(uint64(time.Now().UnixMicro()),
		s.venue.String(), s.pair.String(), u.Bids, u.Asks)
	s.emit(model.Event{StreamID: model.StreamUpdate, Buff: buf})
}
