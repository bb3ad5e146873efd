package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

// MemoryConfig configures an in-process outbox.
type MemoryConfig struct {
	Capacity        int
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultMemoryConfig returns the default in-process outbox settings.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:        256,
		MaxAttempts:     8,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Memory is an in-process outbox. Entries are delivered one at a time in
// enqueue order; they are lost if the process exits.
type Memory struct {
	settleHooks

	cfg     MemoryConfig
	entries chan Entry
	logger  *logger.Logger
}

// NewMemory creates an in-process outbox.
func NewMemory(cfg MemoryConfig, log *logger.Logger) *Memory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultMemoryConfig().Capacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Memory{
		cfg:     cfg,
		entries: make(chan Entry, cfg.Capacity),
		logger:  logger.OrNop(log).Named("outbox"),
	}
}

// Enqueue adds e without blocking. It returns ErrFull when the buffer is full.
func (m *Memory) Enqueue(ctx context.Context, e Entry) error {
	select {
	case m.entries <- e:
		metrics.OutboxPending.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

// Run delivers entries until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, d Deliverer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-m.entries:
			metrics.OutboxPending.Dec()
			m.deliver(ctx, d, e)
		}
	}
}

func (m *Memory) deliver(ctx context.Context, d Deliverer, e Entry) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialInterval
	b.MaxInterval = m.cfg.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return d.Deliver(ctx, e)
	}, policy, func(err error, wait time.Duration) {
		metrics.OutboxDeliveries.WithLabelValues(string(e.Kind), "retry").Inc()
		m.logger.Debug("outbox delivery failed, retrying",
			zap.String("entry_id", e.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		metrics.OutboxDeliveries.WithLabelValues(string(e.Kind), "dropped").Inc()
		m.logger.Error("outbox entry dropped",
			zap.String("entry_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.String("session_id", e.SessionID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		m.settled(e, err)
		return
	}

	metrics.OutboxDeliveries.WithLabelValues(string(e.Kind), "delivered").Inc()
	m.logger.Info("outbox entry delivered",
		zap.String("entry_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.Int("attempts", attempt),
	)
	m.settled(e, nil)
}
