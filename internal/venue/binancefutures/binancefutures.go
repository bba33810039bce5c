// Package binancefutures feeds binance USD-margined futures depth. Same
// shape as the spot feed except the stream chains on pu: each event carries
// the previous event's final update id, and continuity is checked against
// that instead of first_id.
package binancefutures

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
	defaultWsURL   = "wss://fstream.binance.com"
	defaultRestURL = "https://fapi.binance.com"
	depthLimit     = "1000"
	streamSuffix   = "@depth@100ms"
)

func init() {
	venue.Register(model.VenueBinanceFutures, func(cfg venue.Config) venue.Adapter {
		return newAdapter(cfg)
	})
}

// Resolve maps a futures raw symbol such as "BTCUSDT" onto the canonical
// pair with the futures product.
func Resolve(raw string) (model.CcyPair, bool) {
	base, quote, ok := model.SplitSymbol(raw)
	if !ok {
		return model.CcyPair{}, false
	}
	return model.NewCcyPair(base, quote, model.ProductFutures), true
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthEvent struct {
	EventType     string     `json:"e"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	PrevFinalID   uint64     `json:"pu"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type depthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type adapter struct {
	cfg  venue.Config
	rest *rest.Client

	mu   sync.Mutex
	seqs map[string]*sequencer.Sequencer
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
			logger.Log.Warn().Str("symbol", raw).Msg("binance_futures: unknown symbol, skipping")
			continue
		}
		key := strings.ToLower(raw)
		a.seqs[key] = sequencer.New(model.VenueBinanceFutures, pair, sequencer.ContinuityFutures,
			a.fetcher(strings.ToUpper(raw)), emit)
		streams = append(streams, key+streamSuffix)
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("binance_futures: no resolvable symbols in %v", symbols)
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
		logger.Log.Warn().Err(err).Msg("binance_futures: bad frame")
		return
	}
	var ev depthEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		logger.Log.Warn().Err(err).Msg("binance_futures: bad depth event")
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
		logger.Log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("binance_futures: bad bid level")
		seq.Resync("unparsable update")
		return
	}
	asks, err := parseLevels(ev.Asks)
	if err != nil {
		logger.Log.Warn().Err(err).Str("symbol", ev.Symbol).Msg("binance_futures: bad ask level")
		seq.Resync("unparsable update")
		return
	}
	seq.OnUpdate(&sequencer.Update{
		FirstID:     ev.FirstUpdateID,
		FinalID:     ev.FinalUpdateID,
		PrevFinalID: ev.PrevFinalID,
		Bids:        bids,
		Asks:        asks,
	})
}

func (a *adapter) fetcher(symbol string) sequencer.Fetcher {
	return func(ctx context.Context) (*sequencer.Snapshot, error) {
		var snap depthSnapshot
		err := a.rest.Get(ctx, "/fapi/v1/depth",
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
