package table

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

type failingStore struct {
	writes int
}

func (f *failingStore) ReadRange(context.Context, Range) ([][]string, error) {
	return [][]string{{"ok"}}, nil
}

func (f *failingStore) WriteRange(context.Context, Range, [][]any, InputMode) error {
	f.writes++
	return errors.New("quota exceeded")
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &failingStore{}
	b := NewBreaker(next, 3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.WriteRange(ctx, Cell("", "C", i+2), [][]any{{1}}, UserEntered); err == nil {
			t.Fatalf("expected write %d to fail", i)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected open circuit, got %s", b.State())
	}
	err := b.WriteRange(ctx, Cell("", "C", 9), [][]any{{1}}, UserEntered)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected ErrOpenState, got %v", err)
	}
	if next.writes != 3 {
		t.Fatalf("expected 3 forwarded writes, got %d", next.writes)
	}
	if _, err := b.ReadRange(ctx, Row("", 1)); err != nil {
		t.Fatalf("reads should bypass the breaker: %v", err)
	}
}
