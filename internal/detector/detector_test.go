package detector

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

type fakeStore struct {
	notes       map[string]models.WalletNote
	claims      map[int64][]models.Claim
	multiClaims []models.MultiClaim
}

func newFakeStore() *fakeStore {
	return &fakeStore{notes: make(map[string]models.WalletNote), claims: make(map[int64][]models.Claim)}
}

func (f *fakeStore) HasWalletNote(_ context.Context, wallet string) (bool, error) {
	_, ok := f.notes[wallet]
	return ok, nil
}

func (f *fakeStore) UpsertWalletNote(_ context.Context, note models.WalletNote) error {
	f.notes[note.WalletAddress] = note
	return nil
}

func (f *fakeStore) GetClaimsForEpoch(_ context.Context, epoch int64) ([]models.Claim, error) {
	return f.claims[epoch], nil
}

func (f *fakeStore) UpsertMultiClaim(_ context.Context, mc models.MultiClaim) error {
	f.multiClaims = append(f.multiClaims, mc)
	return nil
}

func TestEvaluateOnlineLargeAmount(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, DefaultThresholds())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	flags, err := d.EvaluateOnline(context.Background(), "0xaaa", 1, decimal.NewFromInt(15), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsFlag(flags, FlagLargeAmount) {
		t.Errorf("expected LargeAmount flag, got %v", flags)
	}
	if _, ok := fs.notes["0xaaa"]; !ok {
		t.Error("expected a wallet note to be written")
	}
}

func TestEvaluateOnlineRepeatInRound(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, DefaultThresholds())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	small := decimal.NewFromInt(1)
	if _, err := d.EvaluateOnline(context.Background(), "0xbbb", 5, small, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	flags, err := d.EvaluateOnline(context.Background(), "0xbbb", 5, small, now.Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !containsFlag(flags, FlagRepeatInRound) {
		t.Errorf("expected RepeatInRound flag on second bet in same epoch, got %v", flags)
	}
}

func TestEvaluateOnlineNoFlagsOnNormalBet(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, DefaultThresholds())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	flags, err := d.EvaluateOnline(context.Background(), "0xccc", 1, decimal.NewFromFloat(0.5), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flags) != 0 {
		t.Errorf("expected no flags, got %v", flags)
	}
}

func TestEvaluateOnlineSkipsNoteWhenAlreadyPresent(t *testing.T) {
	fs := newFakeStore()
	fs.notes["0xddd"] = models.WalletNote{WalletAddress: "0xddd", Note: "existing"}
	d := New(fs, DefaultThresholds())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := d.EvaluateOnline(context.Background(), "0xddd", 1, decimal.NewFromInt(20), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.notes["0xddd"].Note != "existing" {
		t.Errorf("expected existing note to be left untouched, got %q", fs.notes["0xddd"].Note)
	}
}

func TestOfflineByRowCountVsByDistinctBetEpoch(t *testing.T) {
	fs := newFakeStore()
	// Wallet 0xeee claims 4 times for epoch 10, all against the same
	// bet_epoch (e.g. a retry/resubmit pattern): row count signals abuse,
	// distinct-bet-epoch count does not.
	fs.claims[10] = []models.Claim{
		{Epoch: 10, WalletAddress: "0xeee", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 3, TxHash: "a"},
		{Epoch: 10, WalletAddress: "0xeee", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 3, TxHash: "b"},
		{Epoch: 10, WalletAddress: "0xeee", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 3, TxHash: "c"},
		{Epoch: 10, WalletAddress: "0xeee", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 3, TxHash: "d"},
	}
	d := New(fs, DefaultThresholds())

	byRow, err := d.OfflineByRowCount(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byRow) != 1 || byRow[0].ClaimCount != 4 {
		t.Errorf("expected one finding with count 4, got %+v", byRow)
	}

	byDistinct, err := d.OfflineByDistinctBetEpoch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(byDistinct) != 0 {
		t.Errorf("expected no findings by distinct bet_epoch (only one distinct value), got %+v", byDistinct)
	}
}

func TestOfflineByDistinctBetEpochDetectsMultiRoundClaiming(t *testing.T) {
	fs := newFakeStore()
	fs.claims[10] = []models.Claim{
		{Epoch: 10, WalletAddress: "0xfff", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 1, TxHash: "a"},
		{Epoch: 10, WalletAddress: "0xfff", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 2, TxHash: "b"},
		{Epoch: 10, WalletAddress: "0xfff", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 3, TxHash: "c"},
		{Epoch: 10, WalletAddress: "0xfff", ClaimAmount: decimal.NewFromInt(1), BetEpoch: 4, TxHash: "d"},
	}
	d := New(fs, DefaultThresholds())

	findings, err := d.OfflineByDistinctBetEpoch(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 1 || findings[0].ClaimCount != 4 {
		t.Errorf("expected one finding with distinct count 4, got %+v", findings)
	}
}

func TestCleanupEvictsInactiveWallets(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, DefaultThresholds())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := d.EvaluateOnline(context.Background(), "0xstale", 1, decimal.NewFromInt(1), start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.Cleanup(start.Add(walletInactivityTTL + time.Minute))

	if count, _ := d.WalletStats("0xstale"); count != 0 {
		t.Errorf("expected stale wallet state to be evicted, got count %d", count)
	}
}

func TestCleanupKeepsActiveWallets(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, DefaultThresholds())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := d.EvaluateOnline(context.Background(), "0xactive", 1, decimal.NewFromInt(1), start); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d.Cleanup(start.Add(time.Minute))

	count, _ := d.WalletStats("0xactive")
	if count != 1 {
		t.Errorf("expected active wallet state to survive Cleanup, got count %d", count)
	}
}

func TestCleanupTrimsPerEpoch(t *testing.T) {
	fs := newFakeStore()
	d := New(fs, DefaultThresholds())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for epoch := int64(1); epoch <= maxTrackedEpochsPerWallet+10; epoch++ {
		if _, err := d.EvaluateOnline(context.Background(), "0xwhale", epoch, decimal.NewFromInt(1), start); err != nil {
			t.Fatalf("unexpected error at epoch %d: %v", epoch, err)
		}
	}

	d.mu.Lock()
	ws := d.wallets["0xwhale"]
	trimmedDuringEvaluate := len(ws.perEpoch)
	d.mu.Unlock()

	if trimmedDuringEvaluate > maxTrackedEpochsPerWallet {
		t.Errorf("expected perEpoch trimmed to %d entries as bets arrive, got %d", maxTrackedEpochsPerWallet, trimmedDuringEvaluate)
	}

	d.Cleanup(start.Add(time.Minute))

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.wallets["0xwhale"].perEpoch) > maxTrackedEpochsPerWallet {
		t.Errorf("expected perEpoch trimmed to %d entries after Cleanup, got %d", maxTrackedEpochsPerWallet, len(d.wallets["0xwhale"].perEpoch))
	}
}

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
