// Package realtime implements the Real-time Pipeline (C6): consumes the
// Chain Facade's live event stream, deduplicates bets, runs the online
// detector, and drives the fan-out broadcast. Directly grounded on the
// teacher's internal/mempool.Poller: the dedup set keyed by natural
// identity, an hourly fallback cleanup ticker (here dropping entries older
// than an hour rather than resetting the whole set), and a ticker-driven
// Run(ctx) loop.
package realtime

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/predmarket-engine/internal/timeutil"
	"github.com/rawblock/predmarket-engine/pkg/models"
)

// dedupCleanupPeriod mirrors the teacher's hourly seenTXs reset — the
// fallback sweep named in §4.6, independent of the per-epoch prune that
// LockRound performs.
const dedupCleanupPeriod = time.Hour

// warmRestoreLimit bounds how many recent hot bets seed the dedup set on
// startup, per §4.6's "warm restore" note.
const warmRestoreLimit = 1000

// sweepKeepEpochs bounds how many trailing live epochs the hot table
// retains; mirrors the historical pipeline's realbetKeepEpochs.
const sweepKeepEpochs = 2

// broadcaster is the fan-out dependency, narrowed to what this package
// needs so it can be faked in tests the same way detector.noteStore is.
type broadcaster interface {
	BroadcastJSON(v any)
}

// liveChain is the Chain Facade's push-surface dependency: the live event
// stream plus the on-demand round lookup used to refresh round_update
// messages on StartRound/LockRound.
type liveChain interface {
	Subscribe(ctx context.Context) (<-chan models.ChainEvent, error)
	Round(ctx context.Context, epoch int64) (models.RoundView, error)
}

// hotStore is the Store dependency, narrowed to the hot-table operations
// C6 needs.
type hotStore interface {
	InsertRealBet(ctx context.Context, b models.RealBet) error
	SweepRealBet(ctx context.Context, belowEpoch int64) error
	RecentRealBets(ctx context.Context, limit int) ([]models.RealBet, error)
}

// onlineDetector is the Detector dependency used on the hot path.
type onlineDetector interface {
	EvaluateOnline(ctx context.Context, wallet string, epoch int64, amount decimal.Decimal, now time.Time) ([]string, error)
	WalletStats(wallet string) (int64, decimal.Decimal)
}

// Pipeline is the Real-time Pipeline (C6).
type Pipeline struct {
	facade liveChain
	store  hotStore
	det    onlineDetector
	hub    broadcaster

	mu   sync.Mutex
	seen map[string]time.Time
}

func New(facade liveChain, st hotStore, det onlineDetector, hub broadcaster) *Pipeline {
	return &Pipeline{
		facade: facade,
		store:  st,
		det:    det,
		hub:    hub,
		seen:   make(map[string]time.Time),
	}
}

// Run subscribes to the live event stream and processes events until ctx
// is cancelled or the stream closes, per §4.6.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.warmRestore(ctx); err != nil {
		log.Printf("[realtime] warm restore failed (continuing with empty dedup set): %v", err)
	}

	events, err := p.facade.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	cleanup := time.NewTicker(dedupCleanupPeriod)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			cutoff := time.Now().Add(-dedupCleanupPeriod)
			p.mu.Lock()
			for k, seenAt := range p.seen {
				if seenAt.Before(cutoff) {
					delete(p.seen, k)
				}
			}
			p.mu.Unlock()
			log.Printf("[realtime] hourly dedup cleanup: removed entries older than %s", dedupCleanupPeriod)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("%w: live event stream closed", models.ErrSubscriptionLost)
			}
			p.handle(ctx, ev)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, ev models.ChainEvent) {
	switch ev.Kind {
	case models.ChainEventBetBull:
		p.handleBet(ctx, ev, models.DirectionUp)
	case models.ChainEventBetBear:
		p.handleBet(ctx, ev, models.DirectionDown)
	case models.ChainEventStartRound:
		p.handleStartRound(ctx, ev.RoundEpoch)
	case models.ChainEventLockRound:
		p.handleLockRound(ctx, ev.RoundEpoch)
	case models.ChainEventConnectionStatus:
		p.hub.BroadcastJSON(models.ConnectionStatusMessage{
			Type:      "connection_status",
			Connected: ev.Connected,
			Timestamp: p.now(),
		})
	}
}

// dedupKey returns (epoch, lowercase wallet) as the natural key for a hot
// bet, per §3/§4.6.
func dedupKey(epoch int64, wallet string) string {
	return fmt.Sprintf("%d:%s", epoch, strings.ToLower(wallet))
}

func (p *Pipeline) handleBet(ctx context.Context, ev models.ChainEvent, dir models.Direction) {
	wallet := strings.ToLower(ev.Sender)
	key := dedupKey(ev.Epoch, wallet)

	p.mu.Lock()
	if _, dup := p.seen[key]; dup {
		p.mu.Unlock()
		log.Printf("[realtime] %v: wallet %s epoch %d tx %s", models.ErrDuplicateBet, wallet, ev.Epoch, ev.TxHash)
		return
	}
	p.seen[key] = time.Now()
	p.mu.Unlock()

	// Live logs carry no block timestamp (unlike the bounded-range query
	// the Historical Pipeline uses), so a zero BlockTime here just means
	// "use receipt time" rather than an error worth logging.
	betTS, err := timeutil.FromUnix(ev.BlockTime)
	if err != nil {
		betTS = p.now()
	}

	flags, err := p.det.EvaluateOnline(ctx, wallet, ev.Epoch, ev.Amount, time.Now())
	if err != nil {
		log.Printf("[realtime] detector error for wallet %s: %v", wallet, err)
	}

	// Broadcast first, persist second: dashboards must see the bet the
	// instant it arrives even if the write to Postgres is momentarily
	// slow. A failed persist is logged, not retried inline — it's the
	// sweep from the next epoch close that bounds any gap.
	p.hub.BroadcastJSON(models.NewBetMessage{
		Type:       "new_bet",
		Wallet:     wallet,
		Epoch:      ev.Epoch,
		Direction:  string(dir),
		Amount:     ev.Amount.String(),
		Timestamp:  betTS,
		Suspicious: len(flags) > 0,
		Flags:      flags,
	})

	if len(flags) > 0 {
		totalBets, totalAmount := p.det.WalletStats(wallet)
		p.hub.BroadcastJSON(models.SuspiciousActivityMessage{
			Type:        "suspicious_activity",
			Wallet:      wallet,
			Epoch:       ev.Epoch,
			Direction:   string(dir),
			Amount:      ev.Amount.String(),
			Flags:       flags,
			TotalBets:   totalBets,
			TotalAmount: totalAmount.String(),
			Timestamp:   p.now(),
		})
	}

	if err := p.store.InsertRealBet(ctx, models.RealBet{
		Epoch:         ev.Epoch,
		BetTS:         betTS,
		WalletAddress: wallet,
		BetDirection:  dir,
		Amount:        ev.Amount,
	}); err != nil {
		log.Printf("[realtime] failed to persist hot bet for wallet %s epoch %d: %v", wallet, ev.Epoch, err)
	}
}

func (p *Pipeline) handleStartRound(ctx context.Context, epoch int64) {
	p.broadcastRoundUpdate(ctx, epoch)

	// §4.6: sweep stale hot rows on every new round so the table only
	// ever holds the last few live epochs.
	if err := p.store.SweepRealBet(ctx, epoch-sweepKeepEpochs); err != nil {
		log.Printf("[realtime] sweep failed at epoch %d: %v", epoch, err)
	}
}

func (p *Pipeline) handleLockRound(ctx context.Context, epoch int64) {
	p.broadcastRoundUpdate(ctx, epoch+1)

	p.hub.BroadcastJSON(models.RoundLockMessage{
		Type:      "round_lock",
		Epoch:     epoch,
		Timestamp: p.now(),
	})

	// Locked epochs stop accepting bets; purge their dedup entries so the
	// map doesn't grow without bound across a long-running process.
	prefix := fmt.Sprintf("%d:", epoch)
	p.mu.Lock()
	for k := range p.seen {
		if strings.HasPrefix(k, prefix) {
			delete(p.seen, k)
		}
	}
	p.mu.Unlock()
}

func (p *Pipeline) broadcastRoundUpdate(ctx context.Context, epoch int64) {
	round, err := p.facade.Round(ctx, epoch)
	if err != nil {
		log.Printf("[realtime] round(%d) fetch failed: %v", epoch, err)
		return
	}

	p.hub.BroadcastJSON(models.RoundUpdateMessage{
		Type:           "round_update",
		Epoch:          round.Epoch,
		Status:         string(round.Status()),
		StartTimestamp: round.StartTimestamp,
		LockTimestamp:  round.LockTimestamp,
		CloseTimestamp: round.CloseTimestamp,
		LockPrice:      round.LockPrice.String(),
		ClosePrice:     round.ClosePrice.String(),
		TotalAmount:    round.TotalAmount.String(),
		BullAmount:     round.BullAmount.String(),
		BearAmount:     round.BearAmount.String(),
		Timestamp:      p.now(),
	})
}

// warmRestore seeds the dedup set from recently persisted hot bets so a
// process restart doesn't re-broadcast bets the dashboard already saw.
func (p *Pipeline) warmRestore(ctx context.Context) error {
	recent, err := p.store.RecentRealBets(ctx, warmRestoreLimit)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, b := range recent {
		p.seen[dedupKey(b.Epoch, b.WalletAddress)] = now
	}
	return nil
}

func (p *Pipeline) now() string {
	s, err := timeutil.Format(time.Now())
	if err != nil {
		return time.Now().UTC().Format(timeutil.CanonicalLayout)
	}
	return s
}
