// Package historical implements the Historical Pipeline (C5): per-epoch
// block-range resolution, event fetch, assembly, integrity check, atomic
// commit, hot-table cleanup, and offline detection, run by a main
// backtracking worker and a side recent-scan worker. Structurally
// grounded on the teacher's internal/scanner.BlockScanner (atomic
// progress counters, context-cancellable range loop, periodic progress
// logging) and internal/mempool.Poller (ticker-driven side loop).
package historical

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/predmarket-engine/internal/chain"
	"github.com/rawblock/predmarket-engine/internal/detector"
	"github.com/rawblock/predmarket-engine/internal/store"
	"github.com/rawblock/predmarket-engine/internal/timeutil"
	"github.com/rawblock/predmarket-engine/pkg/models"
)

const (
	treasuryFeeRate   = "0.97" // 1 - 3% per §4.5 step 7
	epochPacingDelay  = 2 * time.Second
	sideWorkerPeriod  = 5 * time.Minute
	sideWorkerWindow  = 5 // epochs currentEpoch-6 .. currentEpoch-2 inclusive
	maxEpochFailures  = 3
	realbetKeepEpochs = 2 // keep realbet for epochs >= currentEpoch - 2
)

// Pipeline is C5. currentEpoch/totalProcessed mirror the teacher's
// BlockScanner's atomic progress fields, repurposed to track epochs
// instead of blocks.
type Pipeline struct {
	facade   *chain.Facade
	store    *store.Store
	detector *detector.Detector

	currentEpoch   atomic.Int64
	totalProcessed atomic.Int64
	running        atomic.Bool

	stop chan struct{}
}

func New(facade *chain.Facade, st *store.Store, det *detector.Detector) *Pipeline {
	return &Pipeline{facade: facade, store: st, detector: det, stop: make(chan struct{}, 1)}
}

// Progress exposes the atomic counters for external observability.
type Progress struct {
	CurrentEpoch   int64
	TotalProcessed int64
	Running        bool
}

func (p *Pipeline) Progress() Progress {
	return Progress{
		CurrentEpoch:   p.currentEpoch.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		Running:        p.running.Load(),
	}
}

// RequestStop signals the main worker to finish its current epoch then
// exit, per §4.5's cooperative stop signal.
func (p *Pipeline) RequestStop() {
	select {
	case p.stop <- struct{}{}:
	default:
	}
}

// RunMain is the backfill worker: starting at currentEpoch-2, decrement
// indefinitely (stopping at epoch 0, the §9 terminating condition the
// spec adds over the unterminated source behavior), pacing 2s between
// epochs.
func (p *Pipeline) RunMain(ctx context.Context) error {
	p.running.Store(true)
	defer p.running.Store(false)

	// Discard a stop request left over from a previous run.
	select {
	case <-p.stop:
	default:
	}

	tip, err := p.facade.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("historical: read current epoch: %w", err)
	}
	epoch := tip - 2

	for epoch > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			log.Printf("[historical] main worker stopping at epoch %d", epoch)
			return nil
		default:
		}

		p.currentEpoch.Store(epoch)
		if err := p.ProcessEpoch(ctx, epoch); err != nil {
			log.Printf("[historical] epoch %d: %v", epoch, err)
		} else {
			p.totalProcessed.Add(1)
		}
		epoch--

		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case <-time.After(epochPacingDelay):
		}
	}
	return nil
}

// RunSide is the recent-check worker: every 5 minutes, re-process the
// window [currentEpoch-6, currentEpoch-2], per §4.5.
func (p *Pipeline) RunSide(ctx context.Context) error {
	ticker := time.NewTicker(sideWorkerPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.scanRecentWindow(ctx); err != nil {
				log.Printf("[historical] side worker: %v", err)
			}
		}
	}
}

func (p *Pipeline) scanRecentWindow(ctx context.Context) error {
	tip, err := p.facade.CurrentEpoch(ctx)
	if err != nil {
		return fmt.Errorf("read current epoch: %w", err)
	}
	from := tip - 6
	to := tip - 2
	for e := from; e <= to; e++ {
		if e <= 0 {
			continue
		}
		exists, err := p.store.RoundExists(ctx, e)
		if err != nil {
			log.Printf("[historical] side worker: check round %d exists: %v", e, err)
			continue
		}
		if exists {
			continue
		}
		if err := p.ProcessEpoch(ctx, e); err != nil {
			log.Printf("[historical] side worker epoch %d: %v", e, err)
		}
	}
	return nil
}

// ProcessEpoch runs the §4.5 per-epoch pipeline for a single closed
// epoch E.
func (p *Pipeline) ProcessEpoch(ctx context.Context, epoch int64) error {
	// Step 1: skip if quarantined or already committed.
	failCount, err := p.store.FailedEpochCount(ctx, epoch)
	if err != nil {
		return fmt.Errorf("check failed_epoch: %w", err)
	}
	if failCount >= maxEpochFailures {
		return nil
	}
	exists, err := p.store.RoundExists(ctx, epoch)
	if err != nil {
		return fmt.Errorf("check round exists: %w", err)
	}
	if exists {
		return nil
	}

	// Step 2: round must be closed.
	round, err := p.facade.Round(ctx, epoch)
	if err != nil {
		return fmt.Errorf("%w: read round %d: %v", models.ErrChainRequestFailed, epoch, err)
	}
	if !round.Closed() {
		return fmt.Errorf("%w: epoch %d", models.ErrRoundNotClosed, epoch)
	}

	// Step 3: the next round must have started to bound the window.
	nextRound, err := p.facade.Round(ctx, epoch+1)
	if err != nil {
		return fmt.Errorf("%w: read round %d: %v", models.ErrChainRequestFailed, epoch+1, err)
	}
	if nextRound.StartTimestamp == 0 {
		return fmt.Errorf("%w: epoch %d", models.ErrNextRoundNotStarted, epoch)
	}

	// Step 4: resolve the block range via bisection search.
	fromBlock, err := p.facade.BlockByTimestamp(ctx, round.StartTimestamp)
	if err != nil {
		return fmt.Errorf("resolve fromBlock: %w", err)
	}
	toBlock, err := p.facade.BlockByTimestamp(ctx, nextRound.StartTimestamp)
	if err != nil {
		return fmt.Errorf("resolve toBlock: %w", err)
	}

	// Step 5: fetch events in parallel (internal to Facade.Events).
	events, err := p.facade.Events(ctx, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	// Step 6-7: assemble round, bets, claims.
	assembled, bets, claims, err := assembleEpoch(epoch, round, events)
	if err != nil {
		return fmt.Errorf("assemble epoch %d: %w", epoch, err)
	}

	// Step 8: integrity check.
	if err := checkIntegrity(assembled, bets); err != nil {
		return p.handleIntegrityFailure(ctx, epoch, err)
	}

	// Step 9: atomic commit.
	if err := p.store.CommitEpoch(ctx, assembled, bets, claims); err != nil {
		return fmt.Errorf("%w: commit epoch %d: %v", models.ErrDatabaseUnavailable, epoch, err)
	}

	// Step 10: hot-table cleanup.
	if err := p.store.DeleteRealBetEpoch(ctx, epoch); err != nil {
		log.Printf("[historical] epoch %d: delete realbet: %v", epoch, err)
	}
	currentEpoch, err := p.facade.CurrentEpoch(ctx)
	if err == nil {
		if err := p.store.SweepRealBet(ctx, currentEpoch-realbetKeepEpochs); err != nil {
			log.Printf("[historical] epoch %d: sweep realbet: %v", epoch, err)
		}
	}

	// Step 11: offline detection.
	findings, err := p.detector.OfflineByDistinctBetEpoch(ctx, epoch)
	if err != nil {
		log.Printf("[historical] epoch %d: offline detection: %v", epoch, err)
	} else if err := p.detector.PersistOfflineFindings(ctx, findings); err != nil {
		log.Printf("[historical] epoch %d: persist offline findings: %v", epoch, err)
	}

	return nil
}

// handleIntegrityFailure deletes the partial row set, increments
// failed_epoch, and quarantines on the third strike, per §4.5 step 8 /
// §7's IntegrityCheckFailed policy.
func (p *Pipeline) handleIntegrityFailure(ctx context.Context, epoch int64, cause error) error {
	if err := p.store.DeletePartialEpoch(ctx, epoch); err != nil {
		log.Printf("[historical] epoch %d: delete partial rows: %v", epoch, err)
	}
	now := time.Now()
	ts, tErr := timeutil.Format(now)
	if tErr != nil {
		ts = now.UTC().Format(time.RFC3339)
	}
	count, err := p.store.RecordFailedEpoch(ctx, epoch, cause.Error(), ts)
	if err != nil {
		return fmt.Errorf("%w: record failure for epoch %d: %v", models.ErrIntegrityCheckFailed, epoch, err)
	}
	if count >= maxEpochFailures {
		log.Printf("[historical] epoch %d quarantined after %d failures: %v", epoch, count, cause)
	}
	return fmt.Errorf("%w: epoch %d: %v", models.ErrIntegrityCheckFailed, epoch, cause)
}

// checkIntegrity is §4.5 step 8: round present (guaranteed by caller),
// both UP and DOWN bets present; claims may be empty.
func checkIntegrity(round models.Round, bets []models.HisBet) error {
	var hasUp, hasDown bool
	for _, b := range bets {
		switch b.BetDirection {
		case models.DirectionUp:
			hasUp = true
		case models.DirectionDown:
			hasDown = true
		}
	}
	if !hasUp || !hasDown {
		return fmt.Errorf("epoch %d: missing %s bets (up=%v down=%v)", round.Epoch, sideMissing(hasUp, hasDown), hasUp, hasDown)
	}
	return nil
}

func sideMissing(hasUp, hasDown bool) string {
	switch {
	case !hasUp && !hasDown:
		return "both sides"
	case !hasUp:
		return "UP"
	default:
		return "DOWN"
	}
}

// assembleEpoch builds the Round/HisBet/Claim rows per §4.5 steps 6-7.
func assembleEpoch(epoch int64, round models.RoundView, events models.EventRange) (models.Round, []models.HisBet, []models.Claim, error) {
	startTS, err := timeutil.FromUnix(round.StartTimestamp)
	if err != nil {
		return models.Round{}, nil, nil, err
	}
	lockTS, err := timeutil.FromUnix(round.LockTimestamp)
	if err != nil {
		return models.Round{}, nil, nil, err
	}
	closeTS, err := timeutil.FromUnix(round.CloseTimestamp)
	if err != nil {
		return models.Round{}, nil, nil, err
	}

	var result models.Result
	switch {
	case round.ClosePrice.GreaterThan(round.LockPrice):
		result = models.ResultUp
	case round.ClosePrice.LessThan(round.LockPrice):
		result = models.ResultDown
	default:
		result = "" // draw, absent per §3
	}

	upPayout, downPayout := computePayouts(round.TotalAmount, round.BullAmount, round.BearAmount)

	r := models.Round{
		Epoch:       epoch,
		StartTS:     startTS,
		LockTS:      lockTS,
		CloseTS:     closeTS,
		LockPrice:   round.LockPrice,
		ClosePrice:  round.ClosePrice,
		Result:      result,
		TotalAmount: round.TotalAmount,
		UpAmount:    round.BullAmount,
		DownAmount:  round.BearAmount,
		UpPayout:    upPayout,
		DownPayout:  downPayout,
	}

	bets := make([]models.HisBet, 0, len(events.BetBull)+len(events.BetBear))
	for _, e := range events.BetBull {
		b, err := buildHisBet(e, models.DirectionUp, result)
		if err != nil {
			return models.Round{}, nil, nil, err
		}
		bets = append(bets, b)
	}
	for _, e := range events.BetBear {
		b, err := buildHisBet(e, models.DirectionDown, result)
		if err != nil {
			return models.Round{}, nil, nil, err
		}
		bets = append(bets, b)
	}

	claims := make([]models.Claim, 0, len(events.Claim))
	for _, e := range events.Claim {
		claimTS, err := timeutil.FromUnix(e.BlockTime)
		if err != nil {
			return models.Round{}, nil, nil, err
		}
		claims = append(claims, models.Claim{
			Epoch:         epoch, // processing epoch
			ClaimTS:       claimTS,
			WalletAddress: e.Sender,
			ClaimAmount:   e.Amount,
			BetEpoch:      e.Epoch, // provenance epoch per §3's Open Question
			TxHash:        e.TxHash,
		})
	}

	return r, bets, claims, nil
}

func buildHisBet(e models.BetEvent, direction models.Direction, roundResult models.Result) (models.HisBet, error) {
	var betResult models.BetResult
	if roundResult != "" {
		if string(direction) == string(roundResult) {
			betResult = models.BetResultWin
		} else {
			betResult = models.BetResultLoss
		}
	}
	betTS, err := timeutil.FromUnix(e.BlockTime)
	if err != nil {
		return models.HisBet{}, err
	}
	return models.HisBet{
		Epoch:         e.Epoch,
		BetTS:         betTS,
		WalletAddress: e.Sender,
		BetDirection:  direction,
		Amount:        e.Amount,
		Result:        betResult,
		TxHash:        e.TxHash,
	}, nil
}

// computePayouts implements §4.5 step 7: 3% treasury fee, four-digit
// fixed precision, zero when the corresponding side has no stake.
func computePayouts(total, up, down decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	fee, _ := decimal.NewFromString(treasuryFeeRate)
	afterFee := total.Mul(fee)

	var upPayout, downPayout decimal.Decimal
	if up.GreaterThan(decimal.Zero) {
		upPayout = afterFee.Div(up).Round(4)
	}
	if down.GreaterThan(decimal.Zero) {
		downPayout = afterFee.Div(down).Round(4)
	}
	return upPayout, downPayout
}
