package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, m := range r.committed {
		if m.Partition == partition {
			out = append(out, m.Offset)
		}
	}
	return out
}

type attempts struct {
	mu   sync.Mutex
	seen map[int][]int64
}

func (a *attempts) add(m kafka.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seen[m.Partition] = append(a.seen[m.Partition], m.Offset)
}

func (a *attempts) of(partition int) []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.seen[partition]...)
}

func messages(partition int, offsets ...int64) []kafka.Message {
	out := make([]kafka.Message, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, kafka.Message{Partition: partition, Offset: off, Key: []byte(fmt.Sprintf("CN-%d", partition))})
	}
	return out
}

func startConsumer(t *testing.T, r *fakeReader, workers int, h Handler) (stop func() error) {
	t.Helper()
	c := newConsumer(r, workers, zap.NewNop())
	c.retry = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("consumer did not stop")
			return nil
		}
	}
}

func TestConsumerRetriesInPlaceAndCommitsInOrder(t *testing.T) {
	r := &fakeReader{pending: append(messages(0, 0, 1, 2), messages(1, 0, 1)...)}
	got := &attempts{seen: map[int][]int64{}}
	var mu sync.Mutex
	failures := 0
	stop := startConsumer(t, r, 2, func(_ context.Context, m kafka.Message) error {
		got.add(m)
		mu.Lock()
		defer mu.Unlock()
		if m.Partition == 0 && m.Offset == 1 && failures < 2 {
			failures++
			return errors.New("store unavailable")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(r.commits(0)) == 3 && len(r.commits(1)) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	require.Equal(t, []int64{0, 1, 1, 1, 2}, got.of(0))
	require.Equal(t, []int64{0, 1, 2}, r.commits(0))
	require.Equal(t, []int64{0, 1}, r.commits(1))
	require.True(t, r.closed)
}

func TestFailingMessageHoldsBackItsPartition(t *testing.T) {
	r := &fakeReader{pending: append(messages(0, 0, 1, 2), messages(1, 0)...)}
	got := &attempts{seen: map[int][]int64{}}
	stop := startConsumer(t, r, 2, func(_ context.Context, m kafka.Message) error {
		got.add(m)
		if m.Partition == 0 && m.Offset == 1 {
			return errors.New("store unavailable")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		return len(got.of(0)) >= 5 && len(r.commits(1)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	require.Equal(t, []int64{0}, r.commits(0))
	require.NotContains(t, got.of(0), int64(2))
}

func TestConsumerStopsWhenHandlerGivesUp(t *testing.T) {
	r := &fakeReader{pending: messages(0, 0, 1)}
	c := newConsumer(r, 1, zap.NewNop())
	c.retry = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	err := c.Start(context.Background(), func(_ context.Context, m kafka.Message) error {
		if m.Offset == 1 {
			return backoff.Permanent(errors.New("schema mismatch"))
		}
		return nil
	})
	require.ErrorContains(t, err, "schema mismatch")
	require.Equal(t, []int64{0}, r.commits(0))
}
