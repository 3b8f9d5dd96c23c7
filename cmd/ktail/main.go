package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hugolhafner/ktail/config"
	"github.com/hugolhafner/ktail/kafka"
	"github.com/hugolhafner/ktail/metrics"
	"github.com/hugolhafner/ktail/plugins/zaplogger"
	"github.com/hugolhafner/ktail/tail"
)

func main() {
	cfgPath := flag.String("config", "ktail.yml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := buildZap(cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer zl.Sync()

	specs, err := cfg.FilterSpecs()
	if err != nil {
		log.Fatalf("parse filters: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewKgoConsumer(
		kafka.WithBootstrapServers(cfg.Brokers),
		kafka.WithGroupID(cfg.GroupID),
		kafka.WithZapLogger(zl),
	)
	defer consumer.Close()

	var taskMetrics metrics.Collector = metrics.NewNop()
	if cfg.MetricsPort > 0 {
		taskMetrics = metrics.NewPrometheus(nil, "ktail")
		metricsSrv := metrics.Expose(cfg.MetricsPort, zaplogger.New(zl))
		defer metricsSrv.Close()
	}

	task := tail.New(
		consumer,
		tail.SubscriptionRequest{
			Topics:    cfg.Topics,
			Filters:   specs,
			FromStart: cfg.FromStart,
		},
		tail.WithBatchSize(cfg.BatchSize),
		tail.WithLogger(zaplogger.New(zl)),
		tail.WithMetrics(taskMetrics),
	)

	enc := json.NewEncoder(os.Stdout)
	task.RegisterSink(func(resp tail.Response) {
		for _, msg := range resp.Messages {
			if err := enc.Encode(msg); err != nil {
				zl.Warn("encode message", zap.Error(err))
			}
		}
	})

	go func() {
		<-ctx.Done()
		task.Close()
	}()

	if err := task.Run(ctx); err != nil {
		zl.Fatal("tail task failed", zap.Error(err))
	}
}

func buildZap(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl

	return cfg.Build()
}
