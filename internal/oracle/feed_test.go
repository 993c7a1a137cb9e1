package oracle

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
)

func testBoard() *PriceBoard {
	return NewPriceBoard(time.Minute, nil, zerolog.Nop())
}

func TestPriceBoardApplyAndRead(t *testing.T) {
	b := testBoard()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	err := b.Apply(PriceUpdate{
		CollateralType: "ETH",
		Price:          "2000000000000000000000",
		TimestampMs:    now.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	price, ok := b.Price("ETH", now.Add(30*time.Second))
	if !ok {
		t.Fatalf("expected fresh price")
	}
	if price.Cmp(cdp.MustAmount("2000000000000000000000")) != 0 {
		t.Errorf("unexpected price %s", price)
	}
}

func TestPriceBoardStaleness(t *testing.T) {
	b := testBoard()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if err := b.Apply(PriceUpdate{CollateralType: "ETH", Price: "1", TimestampMs: now.UnixMilli()}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, ok := b.Price("ETH", now.Add(61*time.Second)); ok {
		t.Errorf("stale price must not be served")
	}
	if _, ok := b.Price("BTC", now); ok {
		t.Errorf("unknown collateral must not be served")
	}
}

func TestPriceBoardIgnoresOlderUpdates(t *testing.T) {
	b := testBoard()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	if err := b.Apply(PriceUpdate{CollateralType: "ETH", Price: "200", TimestampMs: now.UnixMilli()}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// A redelivered older tick must not roll the price back.
	if err := b.Apply(PriceUpdate{CollateralType: "ETH", Price: "100", TimestampMs: now.Add(-time.Second).UnixMilli()}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	price, ok := b.Price("ETH", now)
	if !ok {
		t.Fatalf("expected price")
	}
	if price.String() != "200" {
		t.Errorf("price rolled back to %s", price)
	}
}

func TestPriceBoardRejectsMalformedUpdates(t *testing.T) {
	b := testBoard()

	if err := b.Apply(PriceUpdate{CollateralType: "ETH", Price: "not-a-number"}); err == nil {
		t.Errorf("garbage price accepted")
	}
	if err := b.Apply(PriceUpdate{CollateralType: "", Price: "100"}); err == nil {
		t.Errorf("missing collateral type accepted")
	}
	if err := b.Apply(PriceUpdate{CollateralType: "ETH", Price: "-5"}); err == nil {
		t.Errorf("negative price accepted")
	}
}
