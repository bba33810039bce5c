package pubsub

import (
	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/pkg/logger"
)

// PubManager fans one event out to every configured transport.
type PubManager struct {
	publishers []*Publisher
}

// Target describes one egress transport connection.
type Target struct {
	URL     string
	Subject string
	Stream  string
}

func NewPubManager(targets []Target) (*PubManager, error) {
	publishers := make([]*Publisher, 0, len(targets))
	for _, t := range targets {
		publisher, err := NewPublisher(t.URL, t.Subject, t.Stream)
		if err != nil {
			logger.Log.Error().Err(err).Str("url", t.URL).Msg("failed to create publisher")
			for _, p := range publishers {
				p.Close()
			}
			return nil, err
		}
		publishers = append(publishers, publisher)
	}
	return &PubManager{publishers: publishers}, nil
}

// Publish sends the event on every transport, returning the first failure.
func (p *PubManager) Publish(ev model.Event) error {
	for _, publisher := range p.publishers {
		if err := publisher.Publish(ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *PubManager) Close() {
	for _, publisher := range p.publishers {
		publisher.Close()
	}
}
