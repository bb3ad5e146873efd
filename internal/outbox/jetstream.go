package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	natsclient "github.com/capitalize-ai/campus-assistant/internal/nats"
	"github.com/capitalize-ai/campus-assistant/pkg/logger"
	"github.com/capitalize-ai/campus-assistant/pkg/metrics"
)

const durableName = "campus-assistant-outbox"

// JetStream is an outbox persisted in a NATS JetStream work queue, so pending
// writes survive restarts of the client. The consumer holds one entry at a
// time and retries it in place, so entries are delivered in publish order.
type JetStream struct {
	settleHooks

	streams     *natsclient.StreamManager
	maxAttempts int
	logger      *logger.Logger
}

// NewJetStream creates an outbox on top of the outbox stream. Call
// EnsureStream on the manager first.
func NewJetStream(streams *natsclient.StreamManager, maxAttempts int, log *logger.Logger) *JetStream {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &JetStream{
		streams:     streams,
		maxAttempts: maxAttempts,
		logger:      logger.OrNop(log).Named("outbox"),
	}
}

// Enqueue publishes e to the outbox stream.
func (j *JetStream) Enqueue(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	if _, err := j.streams.Publish(ctx, natsclient.OutboxSubject(string(e.Kind), e.SessionID), data); err != nil {
		return err
	}
	metrics.OutboxPending.Inc()
	return nil
}

// Run consumes the outbox stream and delivers entries until ctx is cancelled.
func (j *JetStream) Run(ctx context.Context, d Deliverer) error {
	consumer, err := j.streams.Consumer(ctx, durableName)
	if err != nil {
		return err
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		j.handle(ctx, d, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to consume outbox: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return ctx.Err()
}

func (j *JetStream) handle(ctx context.Context, d Deliverer, msg jetstream.Msg) {
	var e Entry
	if err := json.Unmarshal(msg.Data(), &e); err != nil {
		j.logger.Error("dropping undecodable outbox entry", zap.Error(err))
		_ = msg.Term()
		metrics.OutboxPending.Dec()
		return
	}

	attempt := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(&redeliveryBackOff{}, uint64(j.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(func() error {
		attempt++
		return d.Deliver(ctx, e)
	}, policy, func(err error, wait time.Duration) {
		_ = msg.InProgress()
		metrics.OutboxDeliveries.WithLabelValues(string(e.Kind), "retry").Inc()
		j.logger.Debug("outbox delivery failed, retrying",
			zap.String("entry_id", e.ID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})

	switch {
	case err == nil:
		_ = msg.Ack()
		metrics.OutboxPending.Dec()
		metrics.OutboxDeliveries.WithLabelValues(string(e.Kind), "delivered").Inc()
		j.logger.Info("outbox entry delivered", zap.String("entry_id", e.ID), zap.Int("attempts", attempt))
		j.settled(e, nil)

	case ctx.Err() != nil:
		// Redelivered on the next run, still ahead of later entries.
		_ = msg.Nak()

	default:
		_ = msg.Term()
		metrics.OutboxPending.Dec()
		metrics.OutboxDeliveries.WithLabelValues(string(e.Kind), "dropped").Inc()
		j.logger.Error("outbox entry dropped",
			zap.String("entry_id", e.ID),
			zap.String("session_id", e.SessionID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		j.settled(e, err)
	}
}

// redeliveryBackOff waits RetryDelay(n) after the n-th failed attempt.
type redeliveryBackOff struct {
	attempt int
}

func (b *redeliveryBackOff) NextBackOff() time.Duration {
	b.attempt++
	return RetryDelay(b.attempt)
}

func (b *redeliveryBackOff) Reset() { b.attempt = 0 }

// RetryDelay returns the wait after the given failed attempt: 1s doubling
// per attempt, capped at one minute.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Second
	for i := 1; i < attempt && d < time.Minute; i++ {
		d *= 2
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}
