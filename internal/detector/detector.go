// Package detector implements the Suspicious-Wallet Detector (C4): an
// online per-live-bet evaluator and an offline per-closed-epoch scan.
// Grounded on the teacher's internal/heuristics package — specifically
// the independently-evaluated-flag composition of watchlist.go's
// WatchListMonitor.Evaluate and the bounded, component-private state of
// alert_system.go's AlertManager — generalized from Bitcoin CoinJoin
// signals to the prediction market's rate/amount/frequency signals.
package detector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/predmarket-engine/internal/timeutil"
	"github.com/rawblock/predmarket-engine/pkg/models"
)

// noteStore is the slice of *store.Store the detector depends on. Accepting
// an interface (rather than the concrete store) lets tests substitute a
// fake, per §9's "tests substitute fakes" construction-graph note.
type noteStore interface {
	HasWalletNote(ctx context.Context, wallet string) (bool, error)
	UpsertWalletNote(ctx context.Context, note models.WalletNote) error
	GetClaimsForEpoch(ctx context.Context, epoch int64) ([]models.Claim, error)
	UpsertMultiClaim(ctx context.Context, mc models.MultiClaim) error
}

const (
	FlagLargeAmount   = "LargeAmount"
	FlagHighTotal     = "HighTotal"
	FlagHighFrequency = "HighFrequency"
	FlagRepeatInRound = "RepeatInRound"
)

// Thresholds holds the §4.4 defaults, overridable for tests.
type Thresholds struct {
	LargeAmount         decimal.Decimal
	HighTotalCount      int64
	HighFrequencyCount  int
	HighFrequencyWindow time.Duration
	MultiClaimThreshold int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeAmount:         decimal.NewFromInt(10),
		HighTotalCount:      100,
		HighFrequencyCount:  10,
		HighFrequencyWindow: 60 * time.Second,
		MultiClaimThreshold: 3,
	}
}

// walletInactivityTTL bounds how long a wallet's state survives without a
// new online bet before Cleanup evicts it outright — the mechanism behind
// §4.4's "never unbounded growth" guarantee, since the wallets map would
// otherwise gain one permanent entry per distinct wallet for the life of
// the process.
const walletInactivityTTL = 24 * time.Hour

// maxTrackedEpochsPerWallet bounds a wallet's perEpoch map to its most
// recent epochs, so a long-lived whale wallet's repeat-in-round tracking
// doesn't grow one entry per epoch forever.
const maxTrackedEpochsPerWallet = 64

type walletState struct {
	totalCount  int64
	totalAmount decimal.Decimal
	window      *slidingWindow
	perEpoch    map[int64]int
	lastActive  time.Time
}

// Detector holds all online state privately; nothing here is shared with
// C5/C6/C7 except through the returned flag list, per §5's "Detector
// state (C4) is private to the component".
type Detector struct {
	mu      sync.Mutex
	store   noteStore
	thresh  Thresholds
	wallets map[string]*walletState
}

func New(st noteStore, thresh Thresholds) *Detector {
	return &Detector{
		store:   st,
		thresh:  thresh,
		wallets: make(map[string]*walletState),
	}
}

// EvaluateOnline is C4-online, invoked from C6's hot path per §4.4/§4.6
// step 5. now is passed in rather than read from the wall clock so tests
// are deterministic.
func (d *Detector) EvaluateOnline(ctx context.Context, wallet string, epoch int64, amount decimal.Decimal, now time.Time) ([]string, error) {
	d.mu.Lock()
	ws, ok := d.wallets[wallet]
	if !ok {
		ws = &walletState{window: newSlidingWindow(), perEpoch: make(map[int64]int)}
		d.wallets[wallet] = ws
	}
	ws.totalCount++
	ws.totalAmount = ws.totalAmount.Add(amount)
	ws.window.record(now)
	ws.perEpoch[epoch]++
	ws.lastActive = now
	trimPerEpoch(ws)

	var flags []string
	if amount.GreaterThan(d.thresh.LargeAmount) {
		flags = append(flags, FlagLargeAmount)
	}
	if ws.totalCount > d.thresh.HighTotalCount {
		flags = append(flags, FlagHighTotal)
	}
	if ws.window.countSince(now.Add(-d.thresh.HighFrequencyWindow)) > d.thresh.HighFrequencyCount {
		flags = append(flags, FlagHighFrequency)
	}
	if ws.perEpoch[epoch] > 1 {
		flags = append(flags, FlagRepeatInRound)
	}
	d.mu.Unlock()

	if len(flags) == 0 {
		return nil, nil
	}

	hasNote, err := d.store.HasWalletNote(ctx, wallet)
	if err != nil {
		return flags, fmt.Errorf("detector: check wallet note: %w", err)
	}
	if hasNote {
		return flags, nil
	}

	ts, err := timeutil.Format(now)
	if err != nil {
		return flags, fmt.Errorf("detector: format note timestamp: %w", err)
	}
	note := models.WalletNote{
		WalletAddress: wallet,
		Note:          fmt.Sprintf("auto-flagged at epoch %d: %v", epoch, flags),
		Flags:         flags,
		UpdatedAt:     ts,
	}
	if err := d.store.UpsertWalletNote(ctx, note); err != nil {
		return flags, fmt.Errorf("detector: upsert wallet note: %w", err)
	}
	return flags, nil
}

// WalletStats returns the running total bet count and amount tracked for
// a wallet, for callers (the fan-out suspicious_activity message) that
// want context alongside the flags EvaluateOnline returns.
func (d *Detector) WalletStats(wallet string) (int64, decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws, ok := d.wallets[wallet]
	if !ok {
		return 0, decimal.Zero
	}
	return ws.totalCount, ws.totalAmount
}

// Cleanup sweeps expired sliding-window entries across all wallets and
// evicts wallets that have gone inactive, run hourly per §4.4's "expired
// sliding-window entries are swept every hour" and "never unbounded
// growth". A wallet whose lastActive has aged past walletInactivityTTL is
// dropped outright; every surviving wallet has its window pruned and its
// perEpoch map trimmed to the most recent entries.
func (d *Detector) Cleanup(now time.Time) {
	windowCutoff := now.Add(-d.thresh.HighFrequencyWindow)
	inactiveCutoff := now.Add(-walletInactivityTTL)

	d.mu.Lock()
	defer d.mu.Unlock()
	for wallet, ws := range d.wallets {
		if ws.lastActive.Before(inactiveCutoff) {
			delete(d.wallets, wallet)
			continue
		}
		ws.window.prune(windowCutoff)
		trimPerEpoch(ws)
	}
}

// trimPerEpoch keeps only the maxTrackedEpochsPerWallet most recent epoch
// keys in ws.perEpoch, dropping the rest.
func trimPerEpoch(ws *walletState) {
	if len(ws.perEpoch) <= maxTrackedEpochsPerWallet {
		return
	}
	epochs := make([]int64, 0, len(ws.perEpoch))
	for e := range ws.perEpoch {
		epochs = append(epochs, e)
	}
	sort.Slice(epochs, func(i, j int) bool { return epochs[i] > epochs[j] })
	for _, e := range epochs[maxTrackedEpochsPerWallet:] {
		delete(ws.perEpoch, e)
	}
}

// claimAgg accumulates one wallet's claim count and total inside an
// offline scan.
type claimAgg struct {
	count int
	total decimal.Decimal
}

// OfflineByRowCount groups epoch's claim rows by wallet and counts raw
// rows — one of the two legitimate offline signals named in §9's Open
// Question.
func (d *Detector) OfflineByRowCount(ctx context.Context, epoch int64) ([]models.MultiClaim, error) {
	claims, err := d.store.GetClaimsForEpoch(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("detector: offline by row count: %w", err)
	}
	byWallet := make(map[string]*claimAgg)
	for _, c := range claims {
		a, ok := byWallet[c.WalletAddress]
		if !ok {
			a = &claimAgg{total: decimal.Zero}
			byWallet[c.WalletAddress] = a
		}
		a.count++
		a.total = a.total.Add(c.ClaimAmount)
	}
	return d.aboveThreshold(epoch, byWallet), nil
}

// OfflineByDistinctBetEpoch groups epoch's claim rows by wallet and
// counts *distinct* bet_epoch values — the other offline signal named in
// §9, specifically flagging a wallet claiming many different prior
// rounds in one operation.
func (d *Detector) OfflineByDistinctBetEpoch(ctx context.Context, epoch int64) ([]models.MultiClaim, error) {
	claims, err := d.store.GetClaimsForEpoch(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("detector: offline by distinct bet epoch: %w", err)
	}
	type seenAgg struct {
		seen  map[int64]bool
		total decimal.Decimal
	}
	byWallet := make(map[string]*seenAgg)
	for _, c := range claims {
		a, ok := byWallet[c.WalletAddress]
		if !ok {
			a = &seenAgg{seen: make(map[int64]bool), total: decimal.Zero}
			byWallet[c.WalletAddress] = a
		}
		a.seen[c.BetEpoch] = true
		a.total = a.total.Add(c.ClaimAmount)
	}
	counted := make(map[string]*claimAgg, len(byWallet))
	for wallet, a := range byWallet {
		counted[wallet] = &claimAgg{count: len(a.seen), total: a.total}
	}
	return d.aboveThreshold(epoch, counted), nil
}

func (d *Detector) aboveThreshold(epoch int64, byWallet map[string]*claimAgg) []models.MultiClaim {
	var findings []models.MultiClaim
	for wallet, a := range byWallet {
		if a.count <= d.thresh.MultiClaimThreshold {
			continue
		}
		findings = append(findings, models.MultiClaim{
			Epoch:         epoch,
			WalletAddress: wallet,
			ClaimCount:    a.count,
			TotalAmount:   a.total,
		})
	}
	return findings
}

// PersistOfflineFindings upserts each finding into multi_claims, the
// write-through step after either offline scan runs.
func (d *Detector) PersistOfflineFindings(ctx context.Context, findings []models.MultiClaim) error {
	for _, f := range findings {
		if err := d.store.UpsertMultiClaim(ctx, f); err != nil {
			return fmt.Errorf("detector: persist offline finding for %s: %w", f.WalletAddress, err)
		}
	}
	return nil
}
