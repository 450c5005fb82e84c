package cluster

import (
	"log/slog"
)

type options struct {
	workers   int
	queueSize int
	logger    *slog.Logger
}

// Option configures a Cluster.
type Option func(*options)

// WithWorkers sets how many computations run in parallel. Default 4.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithQueueSize sets how many computations may wait for a worker before Invoke fails with ErrQueueFull. Default 1024.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func defaultOptions() *options {
	return &options{
		workers:   4,
		queueSize: 1024,
		logger:    slog.Default(),
	}
}
