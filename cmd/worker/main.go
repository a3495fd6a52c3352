package main

import (
	"context"
	"encoding/json"
	"flag"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/joripage/fix-exchange/config"
	postgres_wrapper "github.com/joripage/fix-exchange/pkg/infra/postgres"
	"github.com/joripage/fix-exchange/pkg/logging"
	"github.com/joripage/fix-exchange/pkg/repo"
	"github.com/joripage/fix-exchange/pkg/worker"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	ctx := context.Background()
	logger, ctx := logging.GetLogger(ctx)

	if cfg.Nats == nil || cfg.OmsDB == nil {
		logger.Fatal(ctx, "worker requires nats and oms_db config blocks")
	}

	nc, err := nats.Connect(cfg.Nats.URL)
	if err != nil {
		logger.Fatal(ctx, "nats connect failed", zap.Error(err))
	}
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal(ctx, "jetstream init failed", zap.Error(err))
	}

	_, _ = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Nats.Stream,
		Subjects: []string{cfg.Nats.Subject},
	})

	db, err := postgres_wrapper.InitPostgres(cfg.OmsDB)
	if err != nil {
		logger.Fatal(ctx, "init db failed", zap.Error(err))
	}

	sqlRepo := repo.NewRepo(db)

	w := worker.NewWorker(sqlRepo)
	logger.Info(ctx, "order event worker started")
	if err := w.StartConsumer(ctx, js, cfg.Nats.Subject, cfg.Nats.Durable); err != nil {
		logger.Fatal(ctx, "consumer stopped", zap.Error(err))
	}
}
