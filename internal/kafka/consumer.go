package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-fulfillment/internal/events"
)

const laneBuffer = 256

// Handler returns nil only when the message was handled and its offset may be
// committed. Other errors are retried; a backoff.Permanent error stops the
// consumer.
type Handler func(ctx context.Context, m kafka.Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	log     *zap.Logger
	// retry builds the wait policy for a message whose handler failed.
	retry func() backoff.BackOff
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if log == nil {
		log = zap.NewNop()
	}
	return newConsumer(r, workers, log.With(zap.String("topic", topic), zap.String("group", group)))
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		r:       r,
		workers: workers,
		log:     log,
		retry: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 200 * time.Millisecond
			eb.MaxInterval = 30 * time.Second
			eb.MaxElapsedTime = 0
			return eb
		},
	}
}

// Start fetches messages until ctx ends. Each partition is served by one
// worker in offset order. A message whose handler fails is retried in place
// and holds back the rest of its partition, so no later offset is committed
// over it. Messages still queued at shutdown stay uncommitted.
func (c *Consumer) Start(parent context.Context, h Handler) error {
	defer c.r.Close()
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, laneBuffer)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if err := c.handle(ctx, id, m, h); err != nil {
					cancel(err)
					return
				}
			}
		}(i, lanes[i])
	}
	stop := func() error {
		for _, l := range lanes {
			close(l)
		}
		wg.Wait()
		if parent.Err() != nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if serr := stop(); serr != nil || ctx.Err() != nil {
				return serr
			}
			return err
		}
		select {
		case lanes[m.Partition%c.workers] <- m:
		case <-ctx.Done():
			return stop()
		}
	}
}

// handle runs h until it succeeds, then commits m. It fails only when ctx
// ended or h returned a permanent error.
func (c *Consumer) handle(ctx context.Context, worker int, m kafka.Message, h Handler) error {
	policy := backoff.WithContext(c.retry(), ctx)
	err := backoff.RetryNotify(func() error {
		return h(ctx, m)
	}, policy, func(err error, wait time.Duration) {
		c.log.Warn("handler failed, retrying",
			zap.Int("worker", worker),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Error("handler gave up", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		return fmt.Errorf("partition %d offset %d: %w", m.Partition, m.Offset, err)
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("commit failed", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
	}
	return nil
}

// DecodeEnvelope reads the versioned envelope every event is wrapped in.
func DecodeEnvelope(b []byte) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload decodes the envelope payload into T.
func DecodePayload[T any](env events.Envelope) (T, error) {
	var t T
	if len(env.Payload) == 0 {
		return t, fmt.Errorf("decode payload: %s event %s has no payload", env.EventType, env.EventID)
	}
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
