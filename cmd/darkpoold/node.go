package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/0x5487/darkpool"
	"github.com/0x5487/darkpool/bank"
	"github.com/0x5487/darkpool/cluster"
	"github.com/0x5487/darkpool/protocol"
	dbm "github.com/tendermint/tm-db"
	"golang.org/x/sync/errgroup"
)

// node is a dark pool with its local compute cluster, bank and event sinks.
type node struct {
	cfg    Config
	logger *slog.Logger

	bank    *bank.Bank
	cluster *cluster.Cluster
	pool    *darkpool.DarkPool
	events  *darkpool.AsyncPublishLog
	view    *darkpool.PoolView

	group errgroup.Group
}

func newNode(cfg Config, db dbm.DB, logger *slog.Logger, metrics *darkpool.Metrics) (*node, error) {
	computeKeys, signKey, err := loadKeys(cfg.KeyDir())
	if err != nil {
		return nil, err
	}

	n := &node{
		cfg:    cfg,
		logger: logger,
		bank:   bank.New(),
		view:   darkpool.NewPoolView(),
	}
	for account, amount := range cfg.Balances {
		if err := n.bank.Deposit(account, amount); err != nil {
			return nil, fmt.Errorf("seed balance of %s: %w", account, err)
		}
	}

	n.cluster, err = cluster.New(computeKeys, signKey,
		func(ctx context.Context, cb *protocol.ComputeCallback) error {
			return n.pool.HandleCallback(ctx, cb)
		},
		cluster.WithWorkers(cfg.Workers),
		cluster.WithQueueSize(cfg.QueueSize),
		cluster.WithLogger(logger.With("module", "cluster")),
	)
	if err != nil {
		return nil, err
	}

	sinks := darkpool.MultiPublishLog{
		darkpool.NewLogPublishLog(logger.With("module", "events")),
		n.view,
	}
	n.events = darkpool.NewAsyncPublishLog(cfg.EventBuffer, sinks)

	n.pool, err = darkpool.NewDarkPool(darkpool.NewLedger(db), n.cluster, n.bank,
		darkpool.WithConfig(cfg.Engine),
		darkpool.WithMetrics(metrics),
		darkpool.WithPublishLog(n.events),
		darkpool.WithProofVerifier(cluster.NewVerifier(n.cluster.VerifyKey())),
	)
	if err != nil {
		_ = n.events.Shutdown(context.Background())
		return nil, err
	}
	return n, nil
}

// start runs the pool and the cluster, then initializes the pool on its first start.
// Call stop even when start fails.
func (n *node) start(ctx context.Context) error {
	n.group.Go(n.pool.Start)
	// The cluster is stopped explicitly so queued computations are aborted while the pool
	// can still record them.
	n.group.Go(func() error {
		return n.cluster.Start(context.WithoutCancel(ctx))
	})
	return ensureInitialized(ctx, n.pool, n.cfg.Pool)
}

// stop shuts the cluster down before the pool, then flushes the event sinks.
func (n *node) stop(ctx context.Context) error {
	err := errors.Join(
		n.cluster.Shutdown(ctx),
		n.pool.Shutdown(ctx),
		n.events.Shutdown(ctx),
	)
	return errors.Join(err, n.group.Wait())
}

// ensureInitialized creates the pool configuration on the first start.
func ensureInitialized(ctx context.Context, pool *darkpool.DarkPool, cfg PoolConfig) error {
	if _, err := pool.Pool(); !errors.Is(err, darkpool.ErrNotInitialized) {
		return err
	}

	_, err := pool.Initialize(ctx, &protocol.InitializeCommand{
		Authority:      cfg.Authority,
		FeeBasisPoints: cfg.FeeBasisPoints,
		FeeAccount:     cfg.FeeAccount,
	})
	return err
}
