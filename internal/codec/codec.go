// Package codec implements the tagged binary encoding of canonical events.
//
// Every buffer starts with a one-byte message type followed by the envelope
// (timestamp, exchange, instrument) and a type-specific body. All integers
// are little-endian; strings are length-prefixed UTF-8 with a u16 length.
// The layout is fixed — it is read by non-Go consumers downstream.
//
//	type u8 | timestamp u64 | exchange lp-str | instrument lp-str | body
//
// Snapshot and update bodies are two level vectors:
//
//	bidCount u32 | (price u64, qty u64)* | askCount u32 | (price u64, qty u64)*
//
// The pricing body is a fixed record of eleven f32 fields and a u64 depth.
package codec

import (
	"encoding/binary"
	"math"

	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
)

// Envelope is the header common to every event.
type Envelope struct {
	Type       uint8
	Timestamp  uint64 // microseconds since epoch
	Exchange   string
	Instrument string
}

// BookEvent is a decoded snapshot (Type 0) or update (Type 1).
type BookEvent struct {
	Envelope
	Bids []model.Level
	Asks []model.Level
}

// PricingEvent is the decoded analytics publication (Type 3).
// A pricing request (Type 2) is an envelope with an empty body.
type PricingEvent struct {
	Envelope
	BestBid      float32
	BestAsk      float32
	WorstBid     float32
	WorstAsk     float32
	ExecutionBid float32
	ExecutionAsk float32
	Imbalance1   float32
	Imbalance25  float32
	Imbalance50  float32
	Imbalance75  float32
	Imbalance100 float32
	Depth        uint64
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendLevels(buf []byte, levels []model.Level) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(levels)))
	for _, lvl := range levels {
		buf = binary.LittleEndian.AppendUint64(buf, lvl.Price)
		buf = binary.LittleEndian.AppendUint64(buf, lvl.Qty)
	}
	return buf
}

func appendEnvelope(buf []byte, typ uint8, ts uint64, exchange, instrument string) []byte {
	buf = append(buf, typ)
	buf = binary.LittleEndian.AppendUint64(buf, ts)
	buf = appendString(buf, exchange)
	return appendString(buf, instrument)
}

// EncodeSnapshot encodes a full book replacement for (exchange, instrument).
func EncodeSnapshot(ts uint64, exchange, instrument string, bids, asks []model.Level) []byte {
	buf := make([]byte, 0, 32+len(exchange)+len(instrument)+16*(len(bids)+len(asks)))
	buf = appendEnvelope(buf, model.StreamSnapshot, ts, exchange, instrument)
	buf = appendLevels(buf, bids)
	return appendLevels(buf, asks)
}

// EncodeUpdate encodes incremental deltas for (exchange, instrument).
func EncodeUpdate(ts uint64, exchange, instrument string, bids, asks []model.Level) []byte {
	buf := make([]byte, 0, 32+len(exchange)+len(instrument)+16*(len(bids)+len(asks)))
	buf = appendEnvelope(buf, model.StreamUpdate, ts, exchange, instrument)
	buf = appendLevels(buf, bids)
	return appendLevels(buf, asks)
}

// EncodePricingRequest encodes the analytics trigger for an instrument.
func EncodePricingRequest(ts uint64, instrument string) []byte {
	buf := make([]byte, 0, 16+len(instrument))
	return appendEnvelope(buf, model.StreamPricingRequest, ts, "", instrument)
}

// EncodePricing encodes the downstream pricing publication.
func EncodePricing(ev *PricingEvent) []byte {
	buf := make([]byte, 0, 80+len(ev.Exchange)+len(ev.Instrument))
	buf = appendEnvelope(buf, model.StreamPricing, ev.Timestamp, ev.Exchange, ev.Instrument)
	for _, f := range []float32{
		ev.BestBid, ev.BestAsk, ev.WorstBid, ev.WorstAsk,
		ev.ExecutionBid, ev.ExecutionAsk,
		ev.Imbalance1, ev.Imbalance25, ev.Imbalance50, ev.Imbalance75, ev.Imbalance100,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return binary.LittleEndian.AppendUint64(buf, ev.Depth)
}

// reader walks a buffer and fails with BadParse on truncation.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (uint8, error) {
	if r.pos+1 > len(r.buf) {
		return 0, errs.BadParse(nil, "buffer truncated at byte %d", r.pos)
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errs.BadParse(nil, "buffer truncated at byte %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errs.BadParse(nil, "buffer truncated at byte %d", r.pos)
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) f32() (float32, error) {
	v, err := r.u32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *reader) str() (string, error) {
	if r.pos+2 > len(r.buf) {
		return "", errs.BadParse(nil, "buffer truncated at byte %d", r.pos)
	}
	n := int(binary.LittleEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	if r.pos+n > len(r.buf) {
		return "", errs.BadParse(nil, "string of %d bytes truncated at byte %d", n, r.pos)
	}
	s := string(r.buf[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

func (r *reader) levels() ([]model.Level, error) {
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if int(count)*16 > len(r.buf)-r.pos {
		return nil, errs.BadParse(nil, "level count %d exceeds buffer", count)
	}
	levels := make([]model.Level, 0, count)
	for i := uint32(0); i < count; i++ {
		price, err := r.u64()
		if err != nil {
			return nil, err
		}
		qty, err := r.u64()
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.Level{Price: price, Qty: qty})
	}
	return levels, nil
}

func (r *reader) envelope() (Envelope, error) {
	var env Envelope
	var err error
	if env.Type, err = r.u8(); err != nil {
		return env, err
	}
	if env.Timestamp, err = r.u64(); err != nil {
		return env, err
	}
	if env.Exchange, err = r.str(); err != nil {
		return env, err
	}
	if env.Instrument, err = r.str(); err != nil {
		return env, err
	}
	if env.Instrument == "" {
		return env, errs.BadParse(nil, "envelope missing instrument")
	}
	return env, nil
}

// PeekType returns the message type without consuming the buffer.
func PeekType(buf []byte) (uint8, error) {
	if len(buf) == 0 {
		return 0, errs.BadParse(nil, "empty buffer")
	}
	return buf[0], nil
}

// DecodeBookEvent decodes a snapshot or update buffer.
func DecodeBookEvent(buf []byte) (*BookEvent, error) {
	r := &reader{buf: buf}
	env, err := r.envelope()
	if err != nil {
		return nil, err
	}
	if env.Type != model.StreamSnapshot && env.Type != model.StreamUpdate {
		return nil, errs.BadParse(nil, "unexpected book event type %d", env.Type)
	}
	if env.Exchange == "" {
		return nil, errs.BadParse(nil, "book event missing exchange")
	}
	ev := &BookEvent{Envelope: env}
	if ev.Bids, err = r.levels(); err != nil {
		return nil, err
	}
	if ev.Asks, err = r.levels(); err != nil {
		return nil, err
	}
	return ev, nil
}

// DecodePricingRequest decodes the analytics trigger.
func DecodePricingRequest(buf []byte) (*Envelope, error) {
	r := &reader{buf: buf}
	env, err := r.envelope()
	if err != nil {
		return nil, err
	}
	if env.Type != model.StreamPricingRequest {
		return nil, errs.BadParse(nil, "unexpected pricing request type %d", env.Type)
	}
	return &env, nil
}

// DecodePricing decodes a pricing publication.
func DecodePricing(buf []byte) (*PricingEvent, error) {
	r := &reader{buf: buf}
	env, err := r.envelope()
	if err != nil {
		return nil, err
	}
	if env.Type != model.StreamPricing {
		return nil, errs.BadParse(nil, "unexpected pricing event type %d", env.Type)
	}
	ev := &PricingEvent{Envelope: env}
	for _, dst := range []*float32{
		&ev.BestBid, &ev.BestAsk, &ev.WorstBid, &ev.WorstAsk,
		&ev.ExecutionBid, &ev.ExecutionAsk,
		&ev.Imbalance1, &ev.Imbalance25, &ev.Imbalance50, &ev.Imbalance75, &ev.Imbalance100,
	} {
		if *dst, err = r.f32(); err != nil {
			return nil, err
		}
	}
	if ev.Depth, err = r.u64(); err != nil {
		return nil, err
	}
	return ev, nil
}
