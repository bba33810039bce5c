// The strategy binary is a sample downstream consumer: it subscribes to the
// egress subject and logs decoded pricing events and aggregated snapshots.
package main

import (
	"flag"
	"os"
	"syscall"
	"time"

	"github.com/atrimo/torrent/internal/codec"
	"github.com/atrimo/torrent/internal/pubsub"
	"github.com/atrimo/torrent/pkg/logger"
	"github.com/atrimo/torrent/pkg/shutdown"
)

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	subject := flag.String("subject", "atrimo.datafeeds", "subject prefix to subscribe to")
	dev := flag.Bool("dev", true, "development logging")
	flag.Parse()

	logger.InitLogger(*dev)

	sub, err := pubsub.NewSubscriber(*natsURL)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to connect")
		os.Exit(1)
	}

	sd := shutdown.NewShutdown(logger.Log)
	sd.HookShutdownCallback("subscriber", sub.Close, 5*time.Second)

	err = sub.Subscribe(*subject, pubsub.SuffixPricing, func(payload []byte) {
		ev, err := codec.DecodePricing(payload)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("bad pricing event")
			return
		}
		logger.Log.Info().
			Str("instrument", ev.Instrument).
			Float32("bestBid", ev.BestBid).
			Float32("bestAsk", ev.BestAsk).
			Float32("execBid", ev.ExecutionBid).
			Float32("execAsk", ev.ExecutionAsk).
			Float32("imbalance1", ev.Imbalance1).
			Uint64("depth", ev.Depth).
			Msg("pricing")
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to subscribe to pricing")
		os.Exit(1)
	}

	err = sub.Subscribe(*subject, pubsub.SuffixSnapshot, func(payload []byte) {
		ev, err := codec.DecodeBookEvent(payload)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("bad snapshot event")
			return
		}
		logger.Log.Debug().
			Str("instrument", ev.Instrument).
			Int("bids", len(ev.Bids)).
			Int("asks", len(ev.Asks)).
			Msg("aggregated snapshot")
	})
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to subscribe to snapshots")
		os.Exit(1)
	}

	logger.Log.Info().Str("subject", *subject).Msg("strategy consumer started")
	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
}
