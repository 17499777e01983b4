package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/predikt/params"
	"github.com/uhyunpark/predikt/pkg/api"
	"github.com/uhyunpark/predikt/pkg/app/core"
	"github.com/uhyunpark/predikt/pkg/app/loadgen"
	"github.com/uhyunpark/predikt/pkg/events"
	"github.com/uhyunpark/predikt/pkg/metrics"
	"github.com/uhyunpark/predikt/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("logger_initialized", zap.String("log_file", cfg.Log.File), zap.String("level", cfg.Log.Level))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("node_failed", zap.Error(err))
	}
}

func run(cfg params.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// ---- Trade event sinks ----
	// WebSocket fan-out always; Kafka when brokers are configured
	hub := api.NewHub(logger)
	sinks := []events.Publisher{hub}
	var kafka *events.KafkaPublisher
	if len(cfg.Events.KafkaBrokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer kafka.Close()
		sinks = append(sinks, kafka)
		logger.Info("kafka_sink_enabled",
			zap.Strings("brokers", cfg.Events.KafkaBrokers),
			zap.String("topic", cfg.Events.KafkaTopic))
	}
	dispatcher := events.NewDispatcher(cfg.Events.Buffer, logger, m, sinks...)

	// ---- Core: store, ledger, markets, engine ----
	app, err := core.Open(core.Options{
		Config:  cfg,
		Log:     logger,
		Metrics: m,
		Sink:    dispatcher,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	srv := api.NewServer(app, cfg.API, hub, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	// ---- Load generator (optional) ----
	if cfg.Loadgen.Enabled {
		lcfg := loadgen.DefaultConfig()
		if cfg.Loadgen.Mode == "high" {
			lcfg = loadgen.HighLoadConfig()
		}
		for _, mk := range app.Markets.ListMarkets() {
			lcfg.Markets = append(lcfg.Markets, mk.ID)
		}
		if len(lcfg.Markets) == 0 {
			logger.Warn("loadgen_skipped", zap.String("reason", "no markets"))
		} else {
			feeder := loadgen.NewFeeder(lcfg, app.Engine, app.Ledger, logger)
			g.Go(func() error { return feeder.Run(gctx) })
		}
	} else {
		logger.Info("loadgen_disabled")
	}

	// Progress logging loop
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Info("node_status",
					zap.Int("markets", app.Markets.Count()),
					zap.Int("ws_clients", hub.Clients()),
					zap.Int("pending_events", dispatcher.Pending()))
			}
		}
	})

	logger.Info("node_started",
		zap.String("api_addr", cfg.API.Addr),
		zap.Int("markets", app.Markets.Count()),
		zap.Int64("taker_fee_bps", cfg.Engine.TakerFeeBps))

	err = g.Wait()
	logger.Info("node_stopping")
	return err
}
