// Package pipeline wires the three processing goroutines:
//
//	venue feeds → funnel → [ingress ring] → aggregator → [egress ring] → publisher
//
// The two SPSC rings are the only cross-stage mediums. Venue adapters run
// their own read goroutines, so a funnel channel collapses them onto the
// single ring producer; from the ring onward everything is single-writer.
package pipeline

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atrimo/torrent/internal/book"
	"github.com/atrimo/torrent/internal/codec"
	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/pkg/logger"
	"github.com/atrimo/torrent/pkg/spsc"
)

// Publisher is the egress transport seen by the pipeline.
type Publisher interface {
	Publish(ev model.Event) error
}

// Config sizes the pipeline.
type Config struct {
	RingCapacity int
	// ExecutionQty is the fixed-point size used for execution-price
	// analytics.
	ExecutionQty uint64
	// PricingInterval is the cadence of pricing requests per instrument.
	PricingInterval time.Duration
	// Instruments are the canonical keys pricing is requested for.
	Instruments []string
}

const funnelCapacity = 4096

// Pipeline owns the rings, the aggregator and the worker goroutines.
type Pipeline struct {
	cfg Config

	funnel  chan model.Event
	ingress *spsc.Queue[model.Event]
	egress  *spsc.Queue[model.Event]

	agg *book.Aggregator
	pub Publisher

	stop atomic.Bool
	wg   sync.WaitGroup

	ingressDropped atomic.Uint64
	egressDropped  atomic.Uint64
	published      atomic.Uint64
	publishFailed  atomic.Uint64
}

// New builds a pipeline. Nothing runs until Start.
func New(cfg Config, pub Publisher) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		funnel:  make(chan model.Event, funnelCapacity),
		ingress: spsc.New[model.Event](cfg.RingCapacity),
		egress:  spsc.New[model.Event](cfg.RingCapacity),
		pub:     pub,
	}
	p.agg = book.NewAggregator(cfg.ExecutionQty, p.emitEgress)
	return p
}

// Aggregator exposes the aggregator for monitoring.
func (p *Pipeline) Aggregator() *book.Aggregator { return p.agg }

// Ingest receives canonical events from venue sequencers. Never blocks: a
// full funnel drops the event and bumps the counter.
func (p *Pipeline) Ingest(ev model.Event) {
	select {
	case p.funnel <- ev:
	default:
		p.ingressDropped.Add(1)
	}
}

// Start launches the three goroutines.
func (p *Pipeline) Start() {
	p.wg.Add(3)
	go p.runIngress()
	go p.runAggregator()
	go p.runEgress()
}

// Stop flips the shared flag and waits for the goroutines to drain out.
func (p *Pipeline) Stop() {
	p.stop.Store(true)
	p.wg.Wait()
}

// runIngress is the single ring producer: it drains the funnel and, on the
// pricing cadence, injects pricing requests for every instrument.
func (p *Pipeline) runIngress() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PricingInterval)
	defer ticker.Stop()
	for {
		if p.stop.Load() {
			return
		}
		select {
		case ev := <-p.funnel:
			if !p.ingress.TryPush(ev) {
				p.ingressDropped.Add(1)
			}
		case <-ticker.C:
			now := uint64(time.Now().UnixMicro())
			for _, instrument := range p.cfg.Instruments {
				ev := model.Event{
					StreamID: model.StreamPricingRequest,
					Buff:     codec.EncodePricingRequest(now, instrument),
				}
				if !p.ingress.TryPush(ev) {
					p.ingressDropped.Add(1)
				}
			}
		case <-time.After(50 * time.Millisecond):
			// wake up to observe the stop flag
		}
	}
}

// runAggregator spins on the ingress ring. All book state is confined here.
func (p *Pipeline) runAggregator() {
	defer p.wg.Done()
	for {
		ev, ok := p.ingress.Pop()
		if !ok {
			if p.stop.Load() {
				return
			}
			runtime.Gosched()
			continue
		}
		// Errors never unwind past this point; Process logs them.
		_ = p.agg.Process(ev)
	}
}

// emitEgress hands aggregator output to the egress ring without blocking.
func (p *Pipeline) emitEgress(ev model.Event) {
	if !p.egress.TryPush(ev) {
		p.egressDropped.Add(1)
	}
}

// runEgress spins on the egress ring and publishes.
func (p *Pipeline) runEgress() {
	defer p.wg.Done()
	for {
		ev, ok := p.egress.Pop()
		if !ok {
			if p.stop.Load() {
				return
			}
			runtime.Gosched()
			continue
		}
		if err := p.pub.Publish(ev); err != nil {
			p.publishFailed.Add(1)
			logger.Log.Warn().Err(err).Uint8("stream", ev.StreamID).Msg("publish failed, event lost")
			continue
		}
		p.published.Add(1)
	}
}

// Varz returns a point-in-time stats map for the monitor endpoint.
func (p *Pipeline) Varz() map[string]interface{} {
	return map[string]interface{}{
		"in_sync":         p.agg.InSync(),
		"processed":       p.agg.Processed(),
		"process_errors":  p.agg.Errored(),
		"ingress_dropped": p.ingressDropped.Load(),
		"egress_dropped":  p.egressDropped.Load(),
		"published":       p.published.Load(),
		"publish_failed":  p.publishFailed.Load(),
		"ingress_depth":   p.ingress.Len(),
		"egress_depth":    p.egress.Len(),
	}
}
