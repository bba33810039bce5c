// Package bullish feeds the bullish l2 orderbook channel. Subscription is
// authenticated with an HMAC-SHA256 signature over
// timestamp || channel || symbols; the stream then behaves like the other
// ws-native venues: one "snapshot" message, then "update" messages carrying
// a [first, last] sequence range.
package bullish

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/internal/sequencer"
	"github.com/atrimo/torrent/internal/venue"
	"github.com/atrimo/torrent/pkg/logger"
	"github.com/atrimo/torrent/pkg/ws"
)

const (
	defaultWsURL = "wss://api.exchange.bullish.com/trading-api/v1/market-data"
	channel      = "l2Orderbook"
)

func init() {
	venue.Register(model.VenueBullish, func(cfg venue.Config) venue.Adapter {
		return newAdapter(cfg)
	})
}

// Resolve maps a bullish symbol such as "BTC-USDC" onto the canonical pair.
func Resolve(raw string) (model.CcyPair, bool) {
	parts := strings.Split(strings.ToUpper(raw), "-")
	if len(parts) != 2 {
		return model.CcyPair{}, false
	}
	return model.NewCcyPair(parts[0], parts[1], model.ProductSpot), true
}

type subscribeRequest struct {
	Op        string   `json:"op"`
	Channel   string   `json:"channel"`
	Symbols   []string `json:"symbols"`
	Timestamp string   `json:"timestamp"`
	PublicKey string   `json:"publicKey,omitempty"`
	Signature string   `json:"signature,omitempty"`
}

type streamFrame struct {
	Type string     `json:"type"`
	Data *frameData `json:"data"`
}

type frameData struct {
	Symbol              string     `json:"symbol"`
	Bids                [][]string `json:"bids"`
	Asks                [][]string `json:"asks"`
	SequenceNumberRange []uint64   `json:"sequenceNumberRange"`
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
	subscribed := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		pair, ok := Resolve(raw)
		if !ok {
			logger.Log.Warn().Str("symbol", raw).Msg("bullish: unknown symbol, skipping")
			continue
		}
		symbol := strings.ToUpper(raw)
		seq := sequencer.New(model.VenueBullish, pair, sequencer.ContinuitySpot, nil, emit)
		seq.SetDesyncHandler(func() { a.onConnect([]string{symbol}) })
		a.seqs[symbol] = seq
		subscribed = append(subscribed, symbol)
	}
	if len(subscribed) == 0 {
		return nil, fmt.Errorf("bullish: no resolvable symbols in %v", symbols)
	}

	a.conn = ws.New(a.cfg.WsURL, a.handleMessage, func() { a.onConnect(subscribed) })
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

func (a *adapter) onConnect(symbols []string) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req := subscribeRequest{
		Op:        "subscribe",
		Channel:   channel,
		Symbols:   symbols,
		Timestamp: timestamp,
	}
	if a.cfg.APISecret != "" {
		req.PublicKey = a.cfg.APIKey
		req.Signature = ws.Sign(a.cfg.APISecret, timestamp, channel, symbols)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		logger.Log.Error().Err(err).Msg("bullish: marshal subscribe")
		return
	}
	if err := a.conn.Send(payload); err != nil {
		logger.Log.Warn().Err(err).Msg("bullish: subscribe send failed")
	}
}

func (a *adapter) handleMessage(payload []byte) {
	var frame streamFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		logger.Log.Warn().Err(err).Msg("bullish: bad frame")
		return
	}
	if frame.Data == nil {
		return // acks and heartbeats
	}
	a.mu.Lock()
	seq := a.seqs[strings.ToUpper(frame.Data.Symbol)]
	a.mu.Unlock()
	if seq == nil {
		return
	}
	if len(frame.Data.SequenceNumberRange) != 2 {
		logger.Log.Warn().Str("symbol", frame.Data.Symbol).Msg("bullish: missing sequence range")
		return
	}
	first, last := frame.Data.SequenceNumberRange[0], frame.Data.SequenceNumberRange[1]

	bids, err := parseLevels(frame.Data.Bids)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", frame.Data.Symbol).Msg("bullish: bad bid level")
		return
	}
	asks, err := parseLevels(frame.Data.Asks)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", frame.Data.Symbol).Msg("bullish: bad ask level")
		return
	}

	switch frame.Type {
	case "snapshot":
		seq.OnNativeSnapshot(&sequencer.Snapshot{
			LastUpdateID: last,
			Bids:         bids,
			Asks:         asks,
		})
	case "update":
		seq.OnUpdate(&sequencer.Update{
			FirstID: first,
			FinalID: last,
			Bids:    bids,
			Asks:    asks,
		})
	default:
		logger.Log.Debug().Str("type", frame.Type).Msg("bullish: unknown message type dropped")
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
