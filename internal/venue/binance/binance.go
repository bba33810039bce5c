// Package binance feeds binance spot depth into the canonical stream. The
// local-book recipe is the documented one: open the diff stream, fetch a
// REST snapshot, drop events up to the snapshot watermark, bridge on the
// first event whose [U, u] range straddles lastUpdateId+1.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/internal/sequencer"
	"github.com/atrimo/torrent/internal/venue"
	"github.com/atrimo/torrent/pkg/logger"
	"github.com/atrimo/torrent/pkg/rest"
	"github.com/atrimo/torrent/pkg/ws"
)

const (
	defaultWsURL   = "wss://stream.binance.com:9443"
	defaultRestURL = "https://api.binance.com"
	depthLimit     = "1000"
	streamSuffix   = "@depth@100ms"
)

func init() {
	venue.Register(model.VenueBinance, func(cfg venue.Config) venue.Adapter {
		return newAdapter(cfg)
	})
}

// Resolve maps a binance raw symbol such as "BTCUSDT" onto the canonical
// pair. Unknown quote suffixes fail.
func Resolve(raw string) (model.CcyPair, bool) {
	base, quote, ok := model.SplitSymbol(raw)
	if !ok {
		return model.CcyPair{}, false
	}
	return model.NewCcyPair(base, quote, model.ProductSpot), true
}

// combinedFrame is the /stream?streams= wrapper.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthEvent is the diff-depth stream payload.
type depthEvent struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// depthSnapshot is the REST /api/v3/depth response.
type depthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type adapter struct {
	cfg  venue.Config
	rest *rest.Client

	mu   sync.Mutex
	seqs map[string]*sequencer.Sequencer // keyed by lowercase raw symbol
	conn *ws.Conn
}

func newAdapter(cfg venue.Config) *adapter {
	if cfg.WsURL == "" {
		cfg.WsURL = defaultWsURL
	}
	if cfg.RestURL == "" {
		cfg.RestURL = defaultRestURL
	}
	return &adapter{
		cfg:  cfg,
		rest: rest.NewClient(cfg.RestURL),
		seqs: make(map[string]*sequencer.Sequencer),
	}
}

func (a *adapter) Subscribe(symbols []string, emit sequencer.Emitter) (func(), error) {
	streams := make([]string, 0, len(symbols))
	for _, raw := range symbols {
		pair, ok := Resolve(raw)
		if !ok {
			logger.Log.Warn().Str("symbol", raw).Msg("binance: unknown symbol, skipping")
			continue
		}
		key := strings.ToLower(raw)
		a.seqs[key] = sequencer.New(model.VenueBinance, pair, sequencer.ContinuitySpot,
			a.fetcher(strings.ToUpper(raw)), emit)
		streams = append(streams, key+streamSuffix)
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("binance: no resolvable symbols in %v", symbols)
	}

	url := a.cfg.WsURL + "/stream?streams=" + strings.Join(streams, "/")
	a.conn = ws.New(url, a.handleMessage, a.onConnect)
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

// onConnect runs on every (re)connect: any prior stream position is gone,
// so every streaming sequencer refetches its snapshot. Sequencers that are
// not streaming yet are left alone; they are still waiting on a snapshot.
func (a *adapter) onConnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.seqs {
		if s.Streaming() {
			s.Resync("websocket reconnect")
		}
	}
}

func (a *adapter) handleMessage(payload []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		logger.Log.Warn().Err(err).Msg("binance: bad frame")
		return
	}
	var ev depthEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		logger.Log.Warn().Err(err).Msg("binance: bad depth event")
		return
	}
	if ev.EventType != "depthUpdate" {
		return
	}
	a.mu.Lock()
	seq := a.seqs[strings.ToLower(ev.Symbol)]
	a.mu.Unlock()
	if seq == nil {
		return
	}

	bids, err := parseLevels(ev.Bids)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("binance: bad bid level")
		seq.Resync("unparsable update")
		return
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("binance: bad ask level")
		seq.Resync("unparsable update")
		return
	}
	seq.OnUpdate(&sequencer.Update{
		FirstID: ev.FirstUpdateID,
		FinalID: ev.FinalUpdateID,
		Bids:    bids,
		Asks:    asks,
	})
}

func (a *adapter) fetcher(symbol string) sequencer.Fetcher {
	return func(ctx context.Context) (*sequencer.Snapshot, error) {
		var snap depthSnapshot
		err := a.rest.Get(ctx, "/api/v3/depth",
			map[string]string{"symbol": symbol, "limit": depthLimit}, &snap)
		if err != nil {
			return nil, err
		}
		bids, err := parseLevels(snap.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(snap.Asks)
		if err != nil {
			return nil, err
		}
		return &sequencer.Snapshot{
			LastUpdateID: snap.LastUpdateID,
			Bids:         bids,
			Asks:         asks,
		}, nil
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
