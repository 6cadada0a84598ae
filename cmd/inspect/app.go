package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/abhiyant/inspect/internal/archive"
	"github.com/abhiyant/inspect/internal/logging"
	"github.com/abhiyant/inspect/internal/metrics"
	"github.com/abhiyant/inspect/internal/service"
	"github.com/abhiyant/inspect/internal/store"
	syncer "github.com/abhiyant/inspect/internal/sync"
)

// app holds the components a command works with.
type app struct {
	logger  *zap.SugaredLogger
	store   *store.Store
	remote  archive.Archive
	coord   syncer.Coordinator
	svc     *service.Service
	metrics *metrics.Registry
}

type appOptions struct {
	// remote connects the archive and builds the sync coordinator.
	remote bool

	// metrics registers Prometheus instruments.
	metrics bool

	// quiet raises the log level to warn unless --verbose is set, so
	// one-shot commands print only their own output.
	quiet bool
}

// openApp opens the local store and, when asked, the remote archive.
func openApp(ctx context.Context, opts appOptions) (*app, error) {
	logCfg := cfg.Log
	switch {
	case verbose:
		logCfg.Level = "debug"
	case opts.quiet:
		logCfg.Level = "warn"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger}

	if opts.metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = metrics.New(reg)
	}

	a.store, err = store.Open(cfg.Store.Path, &store.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	if err := a.store.InitSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if opts.remote {
		a.remote, err = archive.Open(ctx, cfg.Archive(), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.coord = syncer.New(a.store, a.remote, &syncer.Options{
			Policy:  cfg.Policy(),
			Logger:  logger,
			Metrics: a.metrics,
		})
		a.svc = service.New(a.store, a.coord, a.remote, logger, service.WithRemoteTimeout(cfg.Remote.Timeout))
	} else {
		a.svc = service.New(a.store, nil, nil, logger)
	}
	return a, nil
}

// mustOpenApp is openApp for command Run functions.
func mustOpenApp(ctx context.Context, opts appOptions) *app {
	a, err := openApp(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

// Close releases everything openApp acquired.
func (a *app) Close() {
	if a.remote != nil {
		if err := a.remote.Close(); err != nil {
			a.logger.Warnw("failed to close remote archive", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warnw("failed to close store", "error", err)
		}
	}
	_ = a.logger.Sync()
}

// fatalf closes the app, prints an error and exits.
func (a *app) fatalf(format string, args ...any) {
	a.Close()
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
