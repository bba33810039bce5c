// Package bybit feeds bybit v5 orderbook depth. The websocket sends a
// typed "snapshot" message on subscribe and "delta" messages after it, each
// stamped with a monotonically increasing update id.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/internal/sequencer"
	"github.com/atrimo/torrent/internal/venue"
	"github.com/atrimo/torrent/pkg/logger"
	"github.com/atrimo/torrent/pkg/ws"
)

const (
	defaultWsURL = "wss://stream.bybit.com/v5/public/spot"
	depthLevels  = "50"
)

func init() {
	venue.Register(model.VenueBybit, func(cfg venue.Config) venue.Adapter {
		return newAdapter(cfg)
	})
}

// Resolve maps a bybit raw symbol such as "BTCUSDT" onto the canonical pair.
func Resolve(raw string) (model.CcyPair, bool) {
	base, quote, ok := model.SplitSymbol(raw)
	if !ok {
		return model.CcyPair{}, false
	}
	return model.NewCcyPair(base, quote, model.ProductSpot), true
}

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// publicFrame is the v5 public stream envelope.
type publicFrame struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"`
	Ts    int64         `json:"ts"`
	Data  orderbookData `json:"data"`
	Op    string        `json:"op"`
}

type orderbookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
	Seq      uint64     `json:"seq"`
}

type adapter struct {
	cfg venue.Config

	mu   sync.Mutex
	seqs map[string]*sequencer.Sequencer // keyed by raw symbol
	conn *ws.Conn
}

func newAdapter(cfg venue.Config) *adapter {
	if cfg.WsURL == "" {
		cfg.WsURL = defaultWsURL
	}
	return &adapter{
		cfg:  cfg,
		seqs: make(map[string]*sequencer.Sequencer),
	}
}

func (a *adapter) Subscribe(symbols []string, emit sequencer.Emitter) (func(), error) {
	topics := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		pair, ok := Resolve(raw)
		if !ok {
			logger.Log.Warn().Str("symbol", raw).Msg("bybit: unknown symbol, skipping")
			continue
		}
		symbol := strings.ToUpper(raw)
		topic := "orderbook." + depthLevels + "." + symbol
		seq := sequencer.New(model.VenueBybit, pair, sequencer.ContinuitySpot, nil, emit)
		seq.SetDesyncHandler(func() { a.resubscribe(topic) })
		a.seqs[symbol] = seq
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("bybit: no resolvable symbols in %v", symbols)
	}

	a.conn = ws.New(a.cfg.WsURL, a.handleMessage, func() { a.onConnect(topics) })
	go a.conn.Run()

	return func() {
		a.conn.Close()
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, s := range a.seqs {
			s.Close()
		}
	}, nil
}

// resubscribe cycles one topic so the venue replays its snapshot after a
// gap.
func (a *adapter) resubscribe(topic string) {
	for _, op := range []string{"unsubscribe", "subscribe"} {
		payload, err := json.Marshal(subscribeRequest{Op: op, Args: []string{topic}})
		if err != nil {
			logger.Log.Error().Err(err).Msg("bybit: marshal " + op)
			return
		}
		if err := a.conn.Send(payload); err != nil {
			logger.Log.Warn().Err(err).Str("topic", topic).Msg("bybit: " + op + " send failed")
			return
		}
	}
}

func (a *adapter) onConnect(topics []string) {
	payload, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: topics})
	if err != nil {
		logger.Log.Error().Err(err).Msg("bybit: marshal subscribe")
		return
	}
	if err := a.conn.Send(payload); err != nil {
		logger.Log.Warn().Err(err).Msg("bybit: subscribe send failed")
	}
}

func (a *adapter) handleMessage(payload []byte) {
	var frame publicFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		logger.Log.Warn().Err(err).Msg("bybit: bad frame")
		return
	}
	if frame.Op != "" || !strings.HasPrefix(frame.Topic, "orderbook.") {
		return // subscribe acks, pongs
	}
	a.mu.Lock()
	seq := a.seqs[frame.Data.Symbol]
	a.mu.Unlock()
	if seq == nil {
		return
	}

	bids, err := parseLevels(frame.Data.Bids)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", frame.Data.Symbol).Msg("bybit: bad bid level")
		return
	}
	asks, err := parseLevels(frame.Data.Asks)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", frame.Data.Symbol).Msg("bybit: bad ask level")
		return
	}

	switch frame.Type {
	case "snapshot":
		seq.OnNativeSnapshot(&sequencer.Snapshot{
			LastUpdateID: frame.Data.UpdateID,
			Bids:         bids,
			Asks:         asks,
		})
	case "delta":
		// Update ids increment by one per message; the delta covers
		// exactly one id.
		seq.OnUpdate(&sequencer.Update{
			FirstID: frame.Data.UpdateID,
			FinalID: frame.Data.UpdateID,
			Bids:    bids,
			Asks:    asks,
		})
	default:
		logger.Log.Debug().Str("type", frame.Type).Msg("bybit: unknown message type dropped")
	}
}

func parseLevels(raw [][]string) ([]model.Level, error) {
	levels := make([]model.Level, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		price, err := model.Scale(entry[0])
		if err != nil {
			return nil, err
		}
		qty, err := model.Scale(entry[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.Level{Price: price, Qty: qty})
	}
	return levels, nil
}
