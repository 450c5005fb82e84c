package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x5487/darkpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dbm "github.com/tendermint/tm-db"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func run(ctx context.Context, cfg Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	darkpool.SetLogger(logger.With("module", "darkpool"))

	db, err := dbm.NewDB("ledger", dbm.BackendType(cfg.DBBackend), cfg.DataDir())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	n, err := newNode(cfg, db, logger, darkpool.PrometheusMetrics(cfg.MetricsNamespace))
	if err != nil {
		return err
	}

	servers := []*http.Server{
		{Addr: cfg.APIAddr, Handler: newAPI(n.pool, n.view), ReadHeaderTimeout: 5 * time.Second},
		{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs := make([]error, 0, len(servers)+1)
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(sctx))
		}
		return errors.Join(append(errs, n.stop(sctx))...)
	})

	if err := n.start(gctx); err != nil {
		stop()
		return errors.Join(err, g.Wait())
	}

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
