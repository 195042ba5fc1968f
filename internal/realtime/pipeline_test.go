package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

type fakeChain struct {
	events chan models.ChainEvent
	rounds map[int64]models.RoundView
}

func newFakeChain() *fakeChain {
	return &fakeChain{events: make(chan models.ChainEvent, 8), rounds: make(map[int64]models.RoundView)}
}

func (f *fakeChain) Subscribe(ctx context.Context) (<-chan models.ChainEvent, error) {
	return f.events, nil
}

func (f *fakeChain) Round(ctx context.Context, epoch int64) (models.RoundView, error) {
	return f.rounds[epoch], nil
}

type fakeHotStore struct {
	mu      sync.Mutex
	inserts []models.RealBet
	swept   []int64
	recent  []models.RealBet
}

func (f *fakeHotStore) InsertRealBet(ctx context.Context, b models.RealBet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, b)
	return nil
}

func (f *fakeHotStore) SweepRealBet(ctx context.Context, belowEpoch int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swept = append(f.swept, belowEpoch)
	return nil
}

func (f *fakeHotStore) RecentRealBets(ctx context.Context, limit int) ([]models.RealBet, error) {
	return f.recent, nil
}

type fakeDetector struct{}

func (fakeDetector) EvaluateOnline(ctx context.Context, wallet string, epoch int64, amount decimal.Decimal, now time.Time) ([]string, error) {
	return nil, nil
}

func (fakeDetector) WalletStats(wallet string) (int64, decimal.Decimal) {
	return 0, decimal.Zero
}

type fakeHub struct {
	mu   sync.Mutex
	msgs []any
}

func (h *fakeHub) BroadcastJSON(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, v)
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestHandleBetDedupesSecondOccurrence(t *testing.T) {
	hs := &fakeHotStore{}
	hub := &fakeHub{}
	p := New(newFakeChain(), hs, fakeDetector{}, hub)

	ev := models.ChainEvent{Kind: models.ChainEventBetBull, Epoch: 1, Sender: "0xAAA", Amount: decimal.NewFromInt(1), TxHash: "a", BlockTime: 1700000000}
	p.handle(context.Background(), ev)
	p.handle(context.Background(), ev)

	if len(hs.inserts) != 1 {
		t.Errorf("expected exactly one insert after duplicate event, got %d", len(hs.inserts))
	}
}

func TestHandleBetLowercasesWallet(t *testing.T) {
	hs := &fakeHotStore{}
	p := New(newFakeChain(), hs, fakeDetector{}, &fakeHub{})

	ev := models.ChainEvent{Kind: models.ChainEventBetBear, Epoch: 2, Sender: "0xABCDEF", Amount: decimal.NewFromInt(1), TxHash: "b", BlockTime: 1700000000}
	p.handle(context.Background(), ev)

	if len(hs.inserts) != 1 || hs.inserts[0].WalletAddress != "0xabcdef" {
		t.Errorf("expected lowercased wallet, got %+v", hs.inserts)
	}
}

func TestHandleLockRoundPurgesDedupEntriesForThatEpoch(t *testing.T) {
	hs := &fakeHotStore{}
	p := New(newFakeChain(), hs, fakeDetector{}, &fakeHub{})

	ev := models.ChainEvent{Kind: models.ChainEventBetBull, Epoch: 3, Sender: "0xccc", Amount: decimal.NewFromInt(1), TxHash: "c", BlockTime: 1700000000}
	p.handle(context.Background(), ev)
	if _, ok := p.seen[dedupKey(3, "0xccc")]; !ok {
		t.Fatal("expected dedup entry to be recorded before lock")
	}

	p.handle(context.Background(), models.ChainEvent{Kind: models.ChainEventLockRound, RoundEpoch: 3})

	if _, ok := p.seen[dedupKey(3, "0xccc")]; ok {
		t.Error("expected dedup entry for locked epoch to be purged")
	}
}

func TestHandleStartRoundSweepsHotTable(t *testing.T) {
	hs := &fakeHotStore{}
	p := New(newFakeChain(), hs, fakeDetector{}, &fakeHub{})

	p.handle(context.Background(), models.ChainEvent{Kind: models.ChainEventStartRound, RoundEpoch: 10})

	if len(hs.swept) != 1 || hs.swept[0] != 10-sweepKeepEpochs {
		t.Errorf("expected a sweep call below epoch %d, got %v", 10-sweepKeepEpochs, hs.swept)
	}
}

func TestWarmRestoreSeedsDedupSet(t *testing.T) {
	hs := &fakeHotStore{recent: []models.RealBet{{Epoch: 7, WalletAddress: "0xddd"}}}
	p := New(newFakeChain(), hs, fakeDetector{}, &fakeHub{})

	if err := p.warmRestore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.seen[dedupKey(7, "0xddd")]; !ok {
		t.Error("expected warm-restored bet to seed dedup set")
	}
}

func TestConnectionStatusBroadcasts(t *testing.T) {
	hub := &fakeHub{}
	p := New(newFakeChain(), &fakeHotStore{}, fakeDetector{}, hub)

	p.handle(context.Background(), models.ChainEvent{Kind: models.ChainEventConnectionStatus, Connected: false})

	if hub.count() != 1 {
		t.Errorf("expected one broadcast, got %d", hub.count())
	}
}
