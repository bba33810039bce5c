// Package okx feeds okx depth from the v5 books channel. The websocket
// delivers the snapshot itself (action "snapshot") followed by deltas that
// chain on prevSeqId, so there is no REST leg.
package okx

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
	defaultWsURL = "wss://ws.okx.com:8443/ws/v5/public"
	channel      = "books"
)

func init() {
	venue.Register(model.VenueOkx, func(cfg venue.Config) venue.Adapter {
		return newAdapter(cfg)
	})
}

// Resolve maps an okx instId such as "BTC-USDT" or "BTC-USDT-SWAP" onto the
// canonical pair.
func Resolve(raw string) (model.CcyPair, bool) {
	parts := strings.Split(strings.ToUpper(raw), "-")
	switch len(parts) {
	case 2:
		return model.NewCcyPair(parts[0], parts[1], model.ProductSpot), true
	case 3:
		if parts[2] == "SWAP" {
			return model.NewCcyPair(parts[0], parts[1], model.ProductFutures), true
		}
	}
	return model.CcyPair{}, false
}

type subscribeRequest struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type booksFrame struct {
	Arg    subscribeArg `json:"arg"`
	Action string       `json:"action"`
	Event  string       `json:"event"`
	Data   []booksData  `json:"data"`
}

type booksData struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Ts        string     `json:"ts"`
	SeqID     uint64     `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"` // -1 on snapshots
}

type adapter struct {
	cfg venue.Config

	mu   sync.Mutex
	seqs map[string]*sequencer.Sequencer // keyed by instId
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
	args := make([]subscribeArg, 0, len(symbols))
	for _, raw := range symbols {
		pair, ok := Resolve(raw)
		if !ok {
			logger.Log.Warn().Str("symbol", raw).Msg("okx: unknown symbol, skipping")
			continue
		}
		instID := strings.ToUpper(raw)
		// No REST leg: the channel replays its own snapshot on subscribe.
		seq := sequencer.New(model.VenueOkx, pair, sequencer.ContinuityFutures, nil, emit)
		seq.SetDesyncHandler(func() { a.resubscribe(instID) })
		a.seqs[instID] = seq
		args = append(args, subscribeArg{Channel: channel, InstID: instID})
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("okx: no resolvable symbols in %v", symbols)
	}

	a.conn = ws.New(a.cfg.WsURL, a.handleMessage, func() { a.onConnect(args) })
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

// resubscribe cycles one instrument's subscription so the venue replays a
// fresh snapshot after a gap.
func (a *adapter) resubscribe(instID string) {
	arg := subscribeArg{Channel: channel, InstID: instID}
	for _, op := range []string{"unsubscribe", "subscribe"} {
		payload, err := json.Marshal(subscribeRequest{Op: op, Args: []subscribeArg{arg}})
		if err != nil {
			logger.Log.Error().Err(err).Msg("okx: marshal " + op)
			return
		}
		if err := a.conn.Send(payload); err != nil {
			logger.Log.Warn().Err(err).Str("instId", instID).Msg("okx: " + op + " send failed")
			return
		}
	}
}

// onConnect resubscribes; the venue answers with a fresh snapshot per
// instrument, which is the resync.
func (a *adapter) onConnect(args []subscribeArg) {
	payload, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: args})
	if err != nil {
		logger.Log.Error().Err(err).Msg("okx: marshal subscribe")
		return
	}
	if err := a.conn.Send(payload); err != nil {
		logger.Log.Warn().Err(err).Msg("okx: subscribe send failed")
	}
}

func (a *adapter) handleMessage(payload []byte) {
	var frame booksFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		logger.Log.Warn().Err(err).Msg("okx: bad frame")
		return
	}
	if frame.Event != "" {
		// subscribe acks and venue errors
		if frame.Event == "error" {
			logger.Log.Warn().RawJSON("frame", payload).Msg("okx: venue error")
		}
		return
	}
	if frame.Arg.Channel != channel || len(frame.Data) == 0 {
		return
	}
	a.mu.Lock()
	seq := a.seqs[frame.Arg.InstID]
	a.mu.Unlock()
	if seq == nil {
		return
	}

	for _, data := range frame.Data {
		bids, err := parseLevels(data.Bids)
		if err != nil {
			logger.Log.Warn().Err(err).Str("instId", frame.Arg.InstID).Msg("okx: bad bid level")
			return
		}
		asks, err := parseLevels(data.Asks)
		if err != nil {
			logger.Log.Warn().Err(err).Str("instId", frame.Arg.InstID).Msg("okx: bad ask level")
			return
		}
		switch frame.Action {
		case "snapshot":
			seq.OnNativeSnapshot(&sequencer.Snapshot{
				LastUpdateID: data.SeqID,
				Bids:         bids,
				Asks:         asks,
			})
		case "update":
			prev := uint64(0)
			if data.PrevSeqID > 0 {
				prev = uint64(data.PrevSeqID)
			}
			seq.OnUpdate(&sequencer.Update{
				FirstID:     prev + 1,
				FinalID:     data.SeqID,
				PrevFinalID: prev,
				Bids:        bids,
				Asks:        asks,
			})
		}
	}
}

// okx levels are [price, qty, liquidatedOrders, orderCount].
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
