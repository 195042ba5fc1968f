package historical

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rawblock/predmarket-engine/pkg/models"
)

func TestComputePayouts(t *testing.T) {
	total := decimal.NewFromInt(10)
	up := decimal.NewFromInt(6)
	down := decimal.NewFromInt(4)

	upPayout, downPayout := computePayouts(total, up, down)

	want, _ := decimal.NewFromString("1.6167")
	if !upPayout.Equal(want) {
		t.Errorf("upPayout = %s, want %s", upPayout, want)
	}
	wantDown, _ := decimal.NewFromString("2.425")
	if !downPayout.Equal(wantDown) {
		t.Errorf("downPayout = %s, want %s (nonzero when down_amount>0)", downPayout, wantDown)
	}
}

func TestComputePayoutsZeroSide(t *testing.T) {
	total := decimal.NewFromInt(10)
	up := decimal.NewFromInt(10)
	down := decimal.Zero

	upPayout, downPayout := computePayouts(total, up, down)

	if !downPayout.IsZero() {
		t.Errorf("downPayout should be zero when down_amount=0, got %s", downPayout)
	}
	if upPayout.IsZero() {
		t.Errorf("upPayout should be nonzero, got %s", upPayout)
	}
}

func TestCheckIntegrityMissingSide(t *testing.T) {
	bets := []models.HisBet{{BetDirection: models.DirectionUp}}
	if err := checkIntegrity(models.Round{Epoch: 1}, bets); err == nil {
		t.Fatal("expected integrity failure with only UP bets")
	}
}

func TestCheckIntegrityBothSidesPresent(t *testing.T) {
	bets := []models.HisBet{
		{BetDirection: models.DirectionUp},
		{BetDirection: models.DirectionDown},
	}
	if err := checkIntegrity(models.Round{Epoch: 1}, bets); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAssembleEpochDrawResultAbsent(t *testing.T) {
	price, _ := decimal.NewFromString("300.00000000")
	round := models.RoundView{
		Epoch:          5,
		StartTimestamp: 1700000000,
		LockTimestamp:  1700000300,
		CloseTimestamp: 1700000600,
		LockPrice:      price,
		ClosePrice:     price,
		TotalAmount:    decimal.NewFromInt(10),
		BullAmount:     decimal.NewFromInt(6),
		BearAmount:     decimal.NewFromInt(4),
	}
	r, bets, _, err := assembleEpoch(5, round, models.EventRange{
		BetBull: []models.BetEvent{{Epoch: 5, Sender: "0xaaa", Amount: decimal.NewFromInt(6), TxHash: "a", BlockTime: 1700000100}},
		BetBear: []models.BetEvent{{Epoch: 5, Sender: "0xbbb", Amount: decimal.NewFromInt(4), TxHash: "b", BlockTime: 1700000100}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Result != "" {
		t.Errorf("expected absent result on draw, got %q", r.Result)
	}
	for _, b := range bets {
		if b.Result != "" {
			t.Errorf("expected absent bet result on draw, got %q for %s", b.Result, b.WalletAddress)
		}
	}
}

func TestAssembleEpochWinLoss(t *testing.T) {
	lockPrice, _ := decimal.NewFromString("300.00000000")
	closePrice, _ := decimal.NewFromString("301.50000000")
	round := models.RoundView{
		Epoch:          5,
		StartTimestamp: 1700000000,
		LockTimestamp:  1700000300,
		CloseTimestamp: 1700000600,
		LockPrice:      lockPrice,
		ClosePrice:     closePrice,
		TotalAmount:    decimal.NewFromInt(10),
		BullAmount:     decimal.NewFromInt(6),
		BearAmount:     decimal.NewFromInt(4),
	}
	r, bets, _, err := assembleEpoch(5, round, models.EventRange{
		BetBull: []models.BetEvent{{Epoch: 5, Sender: "0xaaa", Amount: decimal.NewFromInt(6), TxHash: "a", BlockTime: 1700000100}},
		BetBear: []models.BetEvent{{Epoch: 5, Sender: "0xbbb", Amount: decimal.NewFromInt(4), TxHash: "b", BlockTime: 1700000100}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Result != models.ResultUp {
		t.Errorf("expected UP result, got %q", r.Result)
	}
	for _, b := range bets {
		switch b.WalletAddress {
		case "0xaaa":
			if b.Result != models.BetResultWin {
				t.Errorf("expected WIN for 0xaaa, got %q", b.Result)
			}
		case "0xbbb":
			if b.Result != models.BetResultLoss {
				t.Errorf("expected LOSS for 0xbbb, got %q", b.Result)
			}
		}
	}
}
