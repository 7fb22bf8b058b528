package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/duskrow/perpbacktest/internal/config"
	"github.com/duskrow/perpbacktest/internal/exchange"
	"github.com/duskrow/perpbacktest/internal/exchange/binance"
	"github.com/duskrow/perpbacktest/internal/exchange/bybit"
	"github.com/duskrow/perpbacktest/internal/exchange/okx"
	applog "github.com/duskrow/perpbacktest/internal/log"
	"github.com/duskrow/perpbacktest/internal/pipeline"
	"github.com/duskrow/perpbacktest/internal/ratelimit"
	"github.com/duskrow/perpbacktest/internal/storage"
	"github.com/duskrow/perpbacktest/internal/strategy"
)

// app bundles every long-lived dependency a subcommand needs, built
// once from the root command's --config/-v flags per §6's CLI surface.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	registry   *strategy.Registry
	connectors map[string]exchange.Connector
	store      *storage.Store
	pipeline   *pipeline.Pipeline
}

// connectorFactories maps an exchange config's name to its Connector
// constructor; every venue in the pack's examples used the same
// (limits, log) constructor shape.
var connectorFactories = map[string]func(*ratelimit.Manager, zerolog.Logger) exchange.Connector{
	"binance": func(l *ratelimit.Manager, log zerolog.Logger) exchange.Connector { return binance.New(l, log) },
	"bybit":   func(l *ratelimit.Manager, log zerolog.Logger) exchange.Connector { return bybit.New(l, log) },
	"okx":     func(l *ratelimit.Manager, log zerolog.Logger) exchange.Connector { return okx.New(l, log) },
}

func buildApp(cfgPath string, pretty bool, verbosity int) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, &userError{err}
	}

	log := applog.New(pretty, verbosity, nil)

	registry, err := builtinRegistry()
	if err != nil {
		return nil, &runtimeError{err}
	}

	limits := ratelimit.NewManager()
	connectors := make(map[string]exchange.Connector, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		if ex.RPS > 0 {
			admit := ex.Burst
			if admit <= 0 {
				admit = int(ex.RPS)
				if admit < 1 {
					admit = 1
				}
			}
			limits.Register(ex.Name, ratelimit.Preset{Window: time.Second, Cap: admit})
		}
		factory, ok := connectorFactories[ex.Name]
		if !ok {
			return nil, &userError{fmt.Errorf("config: unknown exchange %q (supported: binance, bybit, okx)", ex.Name)}
		}
		connectors[ex.Name] = factory(limits, log)
	}

	store, err := storage.New(cfg.Storage.Root, log)
	if err != nil {
		return nil, &runtimeError{err}
	}

	p := pipeline.New(store, connectors, log)

	return &app{cfg: cfg, log: log, registry: registry, connectors: connectors, store: store, pipeline: p}, nil
}
