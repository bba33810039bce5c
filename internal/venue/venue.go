// Package venue defines the adapter contract between raw exchange feeds and
// the canonical event stream, plus the registry adapters install themselves
// into. Each adapter owns its websocket and REST handles exclusively.
package venue

import (
	"fmt"

	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/internal/sequencer"
)

// Config carries per-venue endpoints and credentials. Zero values fall back
// to the adapter's production defaults.
type Config struct {
	WsURL     string
	RestURL   string
	APIKey    string
	APISecret string
}

// Adapter subscribes to depth feeds for raw venue symbols and drives its
// sequencers until the returned unsubscribe function is called.
type Adapter interface {
	Subscribe(symbols []string, emit sequencer.Emitter) (func(), error)
}

// Factory builds an adapter from its config.
type Factory func(cfg Config) Adapter

var adapterMap = make(map[model.Venue]Factory)

// Register installs a factory for a venue. Called from adapter init().
func Register(v model.Venue, f Factory) {
	adapterMap[v] = f
}

// Create instantiates the adapter registered for a venue.
func Create(v model.Venue, cfg Config) (Adapter, error) {
	f, ok := adapterMap[v]
	if !ok {
		return nil, fmt.Errorf("adapter not found for venue: %s", v)
	}
	return f(cfg), nil
}
