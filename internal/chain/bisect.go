package chain

import (
	"context"
	"fmt"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

// blockTimestampFn fetches a block's timestamp by number, through the
// facade's rate-limited, retrying pull surface.
type blockTimestampFn func(ctx context.Context, number uint64) (int64, error)

// bisectBlockByTimestamp implements §4.2's central algorithm: binary
// search over [1, currentBlock] for the block whose timestamp is closest
// to target. Exact match returns immediately. Every probe updates the
// best-seen candidate. Ties resolve to the earlier block — the
// Testable Properties §8 "block-search optimality" law.
func bisectBlockByTimestamp(ctx context.Context, currentBlock uint64, target int64, fetch blockTimestampFn) (uint64, error) {
	if currentBlock == 0 {
		return 0, fmt.Errorf("%w: no blocks exist", models.ErrChainRangeOutOfBounds)
	}

	lo, hi := uint64(1), currentBlock
	var bestBlock uint64
	var bestDiff int64 = -1 // -1 sentinel: no candidate yet

	consider := func(n uint64, ts int64) {
		diff := absInt64(ts - target)
		if bestDiff == -1 || diff < bestDiff || (diff == bestDiff && n < bestBlock) {
			bestDiff = diff
			bestBlock = n
		}
	}

	for lo <= hi {
		mid := lo + (hi-lo)/2
		ts, err := fetch(ctx, mid)
		if err != nil {
			return 0, fmt.Errorf("chain: fetch block %d timestamp: %w", mid, err)
		}
		consider(mid, ts)
		switch {
		case ts == target:
			return mid, nil
		case ts < target:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}

	if bestDiff == -1 {
		return 0, fmt.Errorf("%w: bisection produced no candidate", models.ErrChainRangeOutOfBounds)
	}
	return bestBlock, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
