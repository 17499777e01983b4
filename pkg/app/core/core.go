// Package core assembles the trading core from its subpackages
package core

import (
	"errors"
	"fmt"
	"io/fs"

	"go.uber.org/zap"

	"github.com/uhyunpark/predikt/params"
	"github.com/uhyunpark/predikt/pkg/app/core/audit"
	"github.com/uhyunpark/predikt/pkg/app/core/engine"
	"github.com/uhyunpark/predikt/pkg/app/core/ledger"
	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/metrics"
	"github.com/uhyunpark/predikt/pkg/storage"
	"github.com/uhyunpark/predikt/pkg/util"
)

// Options configure Open. Everything except Config is optional.
type Options struct {
	Config  params.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Clock   util.Clock
	Sink    engine.TradeSink
}

// App is an opened trading core sharing one store
type App struct {
	Store    *storage.Store
	Ledger   *ledger.Ledger
	Markets  *market.MarketRegistry
	Recorder *audit.Recorder
	Engine   *engine.Engine
	Metrics  *metrics.Metrics

	log *zap.Logger
}

// EngineConfig maps node configuration onto engine limits
func EngineConfig(p params.Engine) engine.Config {
	return engine.Config{
		MinOrderAmount:   p.MinOrderAmount,
		MaxOrderAmount:   p.MaxOrderAmount,
		MaxFillsPerOrder: p.MaxFillsPerOrder,
		TakerFeeBps:      p.TakerFeeBps,
		LockTimeout:      p.LockTimeout,
	}
}

// Open opens the store, loads the market file and rebuilds every order book
// from persisted resting orders
func Open(opts Options) (*App, error) {
	cfg := opts.Config
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}

	markets := market.NewMarketRegistry()
	if cfg.MarketsFile != "" {
		err := markets.LoadFile(cfg.MarketsFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			opts.Log.Warn("markets_file_missing", zap.String("path", cfg.MarketsFile))
		case err != nil:
			return nil, err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}

	seq := util.NewSequencer(store.Seq())
	l, err := ledger.New(store, seq, opts.Clock, opts.Log, opts.Metrics, cfg.Storage.BalanceCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}
	recorder := audit.NewRecorder(store)

	eng, err := engine.New(EngineConfig(cfg.Engine), engine.Deps{
		Store:    store,
		Ledger:   l,
		Markets:  markets,
		Recorder: recorder,
		Seq:      seq,
		Clock:    opts.Clock,
		Log:      opts.Log,
		Metrics:  opts.Metrics,
		Sink:     opts.Sink,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := eng.Rebuild(); err != nil {
		store.Close()
		return nil, err
	}

	opts.Log.Info("core_opened",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Int("markets", markets.Count()),
		zap.Uint64("seq", seq.Current()))

	return &App{
		Store:    store,
		Ledger:   l,
		Markets:  markets,
		Recorder: recorder,
		Engine:   eng,
		Metrics:  opts.Metrics,
		log:      opts.Log,
	}, nil
}

// Close flushes and closes the store
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	a.log.Info("core_closed")
	return nil
}
