package persistence

import (
	"testing"

	"github.com/google/uuid"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
	"github.com/Angleito/nyxusd-sub000/internal/engine"
)

func batchResults(t *testing.T, n int) []engine.Result {
	t.Helper()
	position := cdp.CDP{
		ID:             uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Owner:          "alice",
		CollateralType: "ETH",
		State:          cdp.ActiveState(cdp.InfiniteHealthFactor()),
		UpdatedAt:      cdp.Timestamp(1_700_000_000_000),
	}
	results := make([]engine.Result, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, engine.Result{
			CDP:           position,
			FeesPaid:      cdp.ZeroAmount(),
			PrincipalPaid: cdp.MustAmount("1000000000000000000000"),
			RemainingDebt: cdp.MustAmount("4000000000000000000000"),
		})
	}
	return results
}

// Results in one batch carry the same position timestamp, so the audit key
// (cdp_id, executed_at_ms, burn_index) relies on the index to keep the rows
// distinct.
func TestRowsFromResultsNumbersBatchRows(t *testing.T) {
	results := batchResults(t, 3)

	rows := RowsFromResults(results)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	seen := make(map[int]bool)
	for i, row := range rows {
		if row.BurnIndex != i {
			t.Errorf("row %d has burn index %d", i, row.BurnIndex)
		}
		if seen[row.BurnIndex] {
			t.Errorf("duplicate burn index %d", row.BurnIndex)
		}
		seen[row.BurnIndex] = true

		if row.ExecutedAtMs != rows[0].ExecutedAtMs {
			t.Errorf("row %d executed_at_ms %d differs from %d", i, row.ExecutedAtMs, rows[0].ExecutedAtMs)
		}
		if row.CDPID != "11111111-2222-3333-4444-555555555555" {
			t.Errorf("row %d cdp id %s", i, row.CDPID)
		}
	}
}

func TestRowFromResultFlattensState(t *testing.T) {
	res := batchResults(t, 1)[0]
	res.Closed = true

	row := RowFromResult(res, 0)
	if row.Owner != "alice" || row.CollateralType != "ETH" {
		t.Errorf("unexpected identity fields: %+v", row)
	}
	if row.NewState != "Active" {
		t.Errorf("unexpected state %s", row.NewState)
	}
	if !row.Closed {
		t.Errorf("closed flag not carried")
	}
	if row.ExecutedAtMs != 1_700_000_000_000 {
		t.Errorf("unexpected executed_at_ms %d", row.ExecutedAtMs)
	}
}
