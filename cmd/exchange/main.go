package main

import (
	"context"
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/config"
	"github.com/joripage/fix-exchange/pkg/engine"
	"github.com/joripage/fix-exchange/pkg/eventstore"
	"github.com/joripage/fix-exchange/pkg/fixserver"
	"github.com/joripage/fix-exchange/pkg/gateway"
	redis_wrapper "github.com/joripage/fix-exchange/pkg/infra/redis"
	"github.com/joripage/fix-exchange/pkg/marketdata"
	"github.com/joripage/fix-exchange/pkg/tradefeed"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() // nolint
	zap.ReplaceGlobals(logger)

	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	if cfg.PprofAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.PprofAddr, nil); err != nil {
				zap.S().Warnw("pprof listener stopped", "err", err)
			}
		}()
	}

	eng, err := engine.NewMatchingEngine(&engine.Config{
		MatchingMode:       engine.MatchingMode(cfg.MatchingMode),
		EnableRiskCheck:    cfg.EnableRiskCheck,
		EnableMarketData:   cfg.EnableMarketDataCallbacks,
		MaxOrderPrice:      cfg.MaxOrderPrice,
		MaxOrderQuantity:   cfg.MaxOrderQuantity,
		MaxOrdersPerSymbol: cfg.MaxOrdersPerSymbol,
		MaxProcessingTime:  time.Duration(cfg.MaxProcessingTimeUs) * time.Microsecond,
	})
	if err != nil {
		panic(err)
	}

	gw := gateway.NewGateway(&gateway.Config{
		LocalCompID:       cfg.LocalCompID,
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
	}, eng)

	eng.SetExecutionCallback(gw.OnExecutionReport)
	eng.SetErrorCallback(func(err error) {
		zap.S().Warnw("engine error", "err", err)
	})

	wireEventStore(cfg, gw)
	wireMarketData(cfg, eng)
	feed := wireTradeFeed(cfg, eng)

	eng.Start()

	server := fixserver.NewServer(&fixserver.Config{
		ListenAddr:     cfg.ListenAddr,
		MaxConnections: cfg.MaxConnections,
	}, gw)
	if err := server.Start(); err != nil {
		panic(err)
	}

	go logStats(eng, gw)

	zap.S().Infow("exchange started", "listen", cfg.ListenAddr, "comp_id", cfg.LocalCompID)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	zap.S().Info("shutting down...")
	_ = server.Stop()
	gw.Stop()
	eng.Stop()
	if feed != nil {
		_ = feed.Close(context.Background())
	}
	zap.S().Info("exited cleanly")
}

// wireEventStore attaches the order-event trail: in memory always, published
// to JetStream when NATS is configured.
func wireEventStore(cfg *config.AppConfig, gw *gateway.Gateway) {
	store := eventstore.EventStore(eventstore.NewInMemoryEventStore())
	if cfg.Nats != nil && cfg.Nats.URL != "" {
		nc, err := nats.Connect(cfg.Nats.URL)
		if err != nil {
			zap.S().Warnw("nats connect failed, events stay in memory", "err", err)
		} else if js, err := nc.JetStream(); err != nil {
			zap.S().Warnw("jetstream init failed, events stay in memory", "err", err)
		} else if jsStore, err := eventstore.NewJetStreamStore(store, js, cfg.Nats.Stream, cfg.Nats.Subject); err != nil {
			zap.S().Warnw("jetstream stream setup failed, events stay in memory", "err", err)
		} else {
			store = jsStore
		}
	}
	gw.SetOrderEventSink(store)
}

func wireMarketData(cfg *config.AppConfig, eng *engine.MatchingEngine) {
	if !cfg.EnableMarketDataCallbacks || cfg.Redis == nil {
		return
	}
	client, err := redis_wrapper.InitRedis(cfg.Redis)
	if err != nil {
		zap.S().Warnw("redis connect failed, market data cache disabled", "err", err)
		return
	}
	eng.SetMarketDataCallback(marketdata.NewRedisPublisher(client, time.Minute).Publish)
}

func wireTradeFeed(cfg *config.AppConfig, eng *engine.MatchingEngine) *tradefeed.Feed {
	if cfg.Kafka == nil || len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	feed := tradefeed.NewFeed(cfg.Kafka.Brokers, cfg.Kafka.TradeTopic)
	eng.SetTradeCallback(feed.Publish)
	return feed
}

func logStats(eng *engine.MatchingEngine, gw *gateway.Gateway) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		zap.S().Infow("engine stats",
			"stats", eng.Statistics().String(),
			"orphaned_reports", gw.OrphanedReports())
	}
}
