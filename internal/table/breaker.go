package table

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"clicksync/internal/logging"
)

// Breaker stops hammering the spreadsheet once writes keep failing. While the
// circuit is open writes fail fast with gobreaker.ErrOpenState; reads pass
// straight through.
type Breaker struct {
	next Store
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreaker(next Store, maxFailures uint32, openTimeout time.Duration) *Breaker {
	if maxFailures == 0 {
		maxFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "sheets-write",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit state change")
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) ReadRange(ctx context.Context, ref Range) ([][]string, error) {
	return b.next.ReadRange(ctx, ref)
}

func (b *Breaker) WriteRange(ctx context.Context, ref Range, rows [][]any, mode InputMode) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.WriteRange(ctx, ref, rows, mode)
	})
	return err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
