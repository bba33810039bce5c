// The aggregator binary wires the whole pipeline: venue feeds in, the
// aggregated book in the middle, NATS publications out.
package main

import (
	"os"
	"syscall"
	"time"

	"github.com/atrimo/torrent/internal/config"
	"github.com/atrimo/torrent/internal/model"
	"github.com/atrimo/torrent/internal/monitor"
	"github.com/atrimo/torrent/internal/pipeline"
	"github.com/atrimo/torrent/internal/pubsub"
	"github.com/atrimo/torrent/internal/venue"
	"github.com/atrimo/torrent/internal/venue/binance"
	"github.com/atrimo/torrent/internal/venue/binancefutures"
	"github.com/atrimo/torrent/internal/venue/bullish"
	"github.com/atrimo/torrent/internal/venue/bybit"
	"github.com/atrimo/torrent/internal/venue/okx"
	"github.com/atrimo/torrent/pkg/logger"
	"github.com/atrimo/torrent/pkg/shutdown"
)

func main() {
	ingressPath := config.MustPath(config.EnvIngressConfig)
	egressPath := config.MustPath(config.EnvEgressConfig)
	aggregatorPath := config.MustPath(config.EnvAggregatorConfig)

	aggCfg, err := config.LoadAggregator(aggregatorPath)
	if err != nil {
		panic(err)
	}
	logger.InitLogger(aggCfg.Development)

	ingressCfg, err := config.LoadIngress(ingressPath)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to load ingress config")
		os.Exit(1)
	}
	egressCfg, err := config.LoadEgress(egressPath)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to load egress config")
		os.Exit(1)
	}

	executionQty, err := model.Scale(aggCfg.ExecutionSize)
	if err != nil {
		logger.Log.Error().Err(err).Msg("invalid execution_size")
		os.Exit(1)
	}

	sd := shutdown.NewShutdown(logger.Log)

	targets := make([]pubsub.Target, 0, len(egressCfg.Transports))
	for _, t := range egressCfg.Transports {
		targets = append(targets, pubsub.Target{URL: t.URI, Subject: t.Subject, Stream: t.Stream})
	}
	pubManager, err := pubsub.NewPubManager(targets)
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to create pub manager")
		os.Exit(1)
	}
	defer pubManager.Close()

	instruments := collectInstruments(ingressCfg)
	if len(instruments) == 0 {
		logger.Log.Error().Msg("no resolvable instruments configured")
		os.Exit(1)
	}

	pipe := pipeline.New(pipeline.Config{
		RingCapacity:    aggCfg.RingCapacity,
		ExecutionQty:    executionQty,
		PricingInterval: aggCfg.PricingInterval,
		Instruments:     instruments,
	}, pubManager)
	pipe.Start()
	sd.HookShutdownCallback("pipeline", pipe.Stop, 10*time.Second)

	for _, vc := range ingressCfg.Venues {
		tag := model.NewVenue(vc.Name)
		if tag == model.VenueUnknown {
			logger.Log.Error().Str("venue", vc.Name).Msg("unknown venue in config")
			os.Exit(1)
		}
		adapter, err := venue.Create(tag, venue.Config{
			WsURL:     vc.WsURL,
			RestURL:   vc.RestURL,
			APIKey:    vc.APIKey,
			APISecret: vc.APISecret,
		})
		if err != nil {
			logger.Log.Error().Err(err).Str("venue", vc.Name).Msg("failed to create adapter")
			os.Exit(1)
		}
		unsubscribe, err := adapter.Subscribe(vc.Symbols, pipe.Ingest)
		if err != nil {
			logger.Log.Error().Err(err).Str("venue", vc.Name).Msg("failed to subscribe")
			os.Exit(1)
		}
		sd.HookShutdownCallback("unsubscribe-"+vc.Name, unsubscribe, 10*time.Second)
		logger.Log.Info().
			Str("venue", vc.Name).
			Strs("symbols", vc.Symbols).
			Msg("feed subscribed")
	}

	if aggCfg.MonitorPort > 0 {
		mon := monitor.NewServer(aggCfg.MonitorPort, pipe)
		mon.Start()
		sd.HookShutdownCallback("monitor", mon.Stop, 5*time.Second)
	}

	logger.Log.Info().Int("instruments", len(instruments)).Msg("aggregator started")
	sd.WaitForShutdown(syscall.SIGINT, syscall.SIGTERM)
}

// collectInstruments resolves every configured symbol to its canonical key,
// de-duplicated across venues.
func collectInstruments(cfg *config.IngressConfig) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, vc := range cfg.Venues {
		for _, raw := range vc.Symbols {
			pair, ok := resolveFor(model.NewVenue(vc.Name), raw)
			if !ok {
				logger.Log.Warn().Str("venue", vc.Name).Str("symbol", raw).Msg("unresolvable symbol dropped")
				continue
			}
			key := pair.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, key)
		}
	}
	return out
}

func resolveFor(v model.Venue, raw string) (model.CcyPair, bool) {
	switch v {
	case model.VenueBinance:
		return binance.Resolve(raw)
	case model.VenueBinanceFutures:
		return binancefutures.Resolve(raw)
	case model.VenueOkx:
		return okx.Resolve(raw)
	case model.VenueBybit:
		return bybit.Resolve(raw)
	case model.VenueBullish:
		return bullish.Resolve(raw)
	}
	return model.CcyPair{}, false
}
