package chain

import (
	"context"
	"testing"
)

// linearChain maps block number -> timestamp = number*10, i.e. a
// monotonic chain with 10-second spacing, for exercising the bisection
// search deterministically.
func linearChain(n uint64) (int64, error) {
	return int64(n) * 10, nil
}

func TestBisectBlockByTimestampExactMatch(t *testing.T) {
	got, err := bisectBlockByTimestamp(context.Background(), 1000, 500, func(_ context.Context, n uint64) (int64, error) {
		return linearChain(n)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 50 {
		t.Errorf("got block %d, want 50", got)
	}
}

func TestBisectBlockByTimestampClosest(t *testing.T) {
	// target=504 is between block 50 (ts=500) and block 51 (ts=510);
	// 504 is closer to 500, so block 50 should win.
	got, err := bisectBlockByTimestamp(context.Background(), 1000, 504, func(_ context.Context, n uint64) (int64, error) {
		return linearChain(n)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 50 {
		t.Errorf("got block %d, want 50", got)
	}
}

func TestBisectBlockByTimestampTieBreakEarlier(t *testing.T) {
	// target=505 is equidistant between block 50 (ts=500, diff=5) and
	// block 51 (ts=510, diff=5); the earlier block must win.
	got, err := bisectBlockByTimestamp(context.Background(), 1000, 505, func(_ context.Context, n uint64) (int64, error) {
		return linearChain(n)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 50 {
		t.Errorf("got block %d, want 50 (earlier block should win tie)", got)
	}
}

func TestBisectBlockByTimestampEmptyChain(t *testing.T) {
	_, err := bisectBlockByTimestamp(context.Background(), 0, 100, func(_ context.Context, n uint64) (int64, error) {
		return linearChain(n)
	})
	if err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestBisectBlockByTimestampBeyondTip(t *testing.T) {
	got, err := bisectBlockByTimestamp(context.Background(), 100, 100000, func(_ context.Context, n uint64) (int64, error) {
		return linearChain(n)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 100 {
		t.Errorf("got block %d, want 100 (tip is closest below an out-of-range target)", got)
	}
}
