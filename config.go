package darkpool

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Config holds the tunables of a DarkPool. The zero value is not usable; start from DefaultConfig.
type Config struct {
	// CommandBuffer is the capacity of the actor command channel.
	CommandBuffer int `mapstructure:"command_buffer"`
	// ComputeTimeout bounds the call that hands a request to the compute service.
	// It does not bound the computation itself, whose result may arrive at any time.
	ComputeTimeout time.Duration `mapstructure:"compute_timeout"`
	// TransferTimeout bounds the external transfer of a settlement.
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
}

// DefaultConfig returns the configuration used when no option overrides it.
func DefaultConfig() Config {
	return Config{
		CommandBuffer:   4096,
		ComputeTimeout:  5 * time.Second,
		TransferTimeout: 10 * time.Second,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.CommandBuffer <= 0 {
		return fmt.Errorf("%w: command buffer must be positive", ErrInvalidParam)
	}
	if c.ComputeTimeout <= 0 {
		return fmt.Errorf("%w: compute timeout must be positive", ErrInvalidParam)
	}
	if c.TransferTimeout <= 0 {
		return fmt.Errorf("%w: transfer timeout must be positive", ErrInvalidParam)
	}
	return nil
}

// Option configures a DarkPool.
type Option func(*DarkPool)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(d *DarkPool) {
		d.cfg = cfg
	}
}

// WithCommandBuffer sets the capacity of the actor command channel.
func WithCommandBuffer(size int) Option {
	return func(d *DarkPool) {
		d.cfg.CommandBuffer = size
	}
}

// WithPublishLog sets where events are published. Events are discarded by default.
func WithPublishLog(p PublishLog) Option {
	return func(d *DarkPool) {
		d.publisher = p
	}
}

// WithMetrics sets the metrics sink. Metrics are discarded by default.
func WithMetrics(m *Metrics) Option {
	return func(d *DarkPool) {
		d.metrics = m
	}
}

// WithProofVerifier sets the check applied to compute callbacks before they are accepted.
func WithProofVerifier(v ProofVerifier) Option {
	return func(d *DarkPool) {
		d.verifier = v
	}
}

// WithClock overrides the time source, useful for testing.
func WithClock(now func() time.Time) Option {
	return func(d *DarkPool) {
		d.now = now
	}
}

// WithRandom overrides the source of compute nonces.
func WithRandom(r io.Reader) Option {
	return func(d *DarkPool) {
		d.rand = r
	}
}

func defaultOptions(d *DarkPool) {
	d.cfg = DefaultConfig()
	d.publisher = NewDiscardPublishLog()
	d.metrics = NopMetrics()
	d.now = time.Now
	d.rand = rand.Reader
}
