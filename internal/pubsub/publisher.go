// Package pubsub carries encoded events across process boundaries on NATS.
// The publisher half is owned exclusively by the egress goroutine; the
// subscriber half serves downstream strategy consumers.
package pubsub

import (
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/atrimo/torrent/internal/errs"
	"github.com/atrimo/torrent/internal/model"
)

// Suffixes appended to the configured subject, one per event kind.
const (
	SuffixSnapshot = "snapshot_event"
	SuffixUpdate   = "update_event"
	SuffixPricing  = "pricingDetails"
)

// SubjectSuffix maps a stream id onto its publish suffix.
func SubjectSuffix(streamID uint8) (string, bool) {
	switch streamID {
	case model.StreamSnapshot:
		return SuffixSnapshot, true
	case model.StreamUpdate:
		return SuffixUpdate, true
	case model.StreamPricing:
		return SuffixPricing, true
	}
	return "", false
}

// Publisher publishes encoded events onto one NATS connection. When a
// JetStream stream is configured, publishes go through JetStream with
// de-duplication ids; otherwise plain core NATS.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewPublisher connects and prepares the JetStream context when stream is
// non-empty.
func NewPublisher(url, subject, stream string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, errs.BadConnection(err, "nats connect %s", url)
	}
	p := &Publisher{conn: conn, subject: subject}
	if stream != "" {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, errs.BadConnection(err, "jetstream context")
		}
		p.js = js
	}
	return p, nil
}

// Publish sends one encoded event on subject.<kind-suffix>. Failures map to
// BadPublish; the event is lost by design.
func (p *Publisher) Publish(ev model.Event) error {
	suffix, ok := SubjectSuffix(ev.StreamID)
	if !ok {
		return errs.BadPublish(nil, "unpublishable stream id %d", ev.StreamID)
	}
	subject := p.subject + "." + suffix

	msg := nats.NewMsg(subject)
	msg.Data = ev.Buff
	msg.Header.Set("Nats-Msg-Id", uuid.NewString())

	var err error
	if p.js != nil {
		_, err = p.js.PublishMsg(msg)
	} else {
		err = p.conn.PublishMsg(msg)
	}
	if err != nil {
		return errs.BadPublish(err, "publish %s", subject)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	p.conn.Close()
}
