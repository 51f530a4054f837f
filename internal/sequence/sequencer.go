// Package sequence issues human readable order numbers, ORD-YYYYMMDD-XXXX,
// counted per UTC day.
package sequence

import (
	"context"
	"fmt"
	"time"
)

const (
	prefix    = "ORD"
	dayLayout = "20060102"
)

// Store increments the counter of a day and returns the new value. The
// increment must be atomic across processes (an upsert inside the caller's
// transaction), and its result must never be cached.
type Store interface {
	Increment(ctx context.Context, day string) (int, error)
}

type Sequencer struct {
	clock func() time.Time
}

func New(clock func() time.Time) *Sequencer {
	if clock == nil {
		clock = time.Now
	}
	return &Sequencer{clock: clock}
}

func (s *Sequencer) Next(ctx context.Context, store Store) (string, error) {
	day := s.clock().UTC().Format(dayLayout)
	n, err := store.Increment(ctx, day)
	if err != nil {
		return "", fmt.Errorf("order sequence %s: %w", day, err)
	}
	return Format(day, n), nil
}

func Format(day string, n int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day, n)
}
