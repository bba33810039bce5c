package pubsub

import (
	"github.com/nats-io/nats.go"

	"github.com/atrimo/torrent/internal/errs"
)

// Subscriber receives published events on the downstream side.
type Subscriber struct {
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, errs.BadConnection(err, "nats connect %s", url)
	}
	return &Subscriber{conn: conn}, nil
}

// Subscribe delivers raw payloads for subject.<suffix> to handler.
func (s *Subscriber) Subscribe(subject, suffix string, handler func([]byte)) error {
	sub, err := s.conn.Subscribe(subject+"."+suffix, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return errs.BadConnection(err, "subscribe %s.%s", subject, suffix)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
}
