package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Angleito/nyxusd-sub000/internal/engine"
)

// BurnAuditWriter appends executed burns to cdp.burn_audit using multi-row
// INSERT. Rows are keyed by (cdp_id, executed_at_ms, burn_index) so a
// replayed batch is idempotent.
type BurnAuditWriter struct {
	db *sql.DB
}

func NewBurnAuditWriter(db *sql.DB) *BurnAuditWriter {
	return &BurnAuditWriter{db: db}
}

// BurnRow is one audit record for an executed burn.
type BurnRow struct {
	CDPID          string
	Owner          string
	CollateralType string
	FeesPaid       string
	PrincipalPaid  string
	RemainingDebt  string
	NewState       string
	Closed         bool
	ExecutedAtMs   int64
	BurnIndex      int
}

// RowFromResult flattens an engine result into an audit row.
func RowFromResult(res engine.Result, burnIndex int) BurnRow {
	return BurnRow{
		CDPID:          res.CDP.ID.String(),
		Owner:          res.CDP.Owner,
		CollateralType: res.CDP.CollateralType,
		FeesPaid:       res.FeesPaid.String(),
		PrincipalPaid:  res.PrincipalPaid.String(),
		RemainingDebt:  res.RemainingDebt.String(),
		NewState:       res.CDP.State.Kind.String(),
		Closed:         res.Closed,
		ExecutedAtMs:   int64(res.CDP.UpdatedAt),
		BurnIndex:      burnIndex,
	}
}

// RowsFromResults flattens a burn batch, numbering each row by its position
// so rows sharing a cdp_id and executed_at_ms stay distinct under the
// audit table's key.
func RowsFromResults(results []engine.Result) []BurnRow {
	rows := make([]BurnRow, 0, len(results))
	for i, res := range results {
		rows = append(rows, RowFromResult(res, i))
	}
	return rows
}

// WriteBatch appends a batch of burn records.
func (w *BurnAuditWriter) WriteBatch(ctx context.Context, rows []BurnRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO cdp.burn_audit
		(cdp_id, owner, collateral_type, fees_paid, principal_paid, remaining_debt, new_state, closed, executed_at_ms, burn_index)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*10)

	for i, r := range rows {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.CDPID, r.Owner, r.CollateralType,
			r.FeesPaid, r.PrincipalPaid, r.RemainingDebt,
			r.NewState, r.Closed, r.ExecutedAtMs, r.BurnIndex,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (cdp_id, executed_at_ms, burn_index) DO NOTHING"

	_, err := w.db.ExecContext(ctx, query, args...)
	return err
}

// History returns the most recent burns for one position, newest first.
func (w *BurnAuditWriter) History(ctx context.Context, cdpID string, limit int) ([]BurnRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT cdp_id, owner, collateral_type, fees_paid, principal_paid, remaining_debt, new_state, closed, executed_at_ms, burn_index
		FROM cdp.burn_audit
		WHERE cdp_id = $1
		ORDER BY executed_at_ms DESC, burn_index DESC
		LIMIT $2`, cdpID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BurnRow
	for rows.Next() {
		var r BurnRow
		if err := rows.Scan(
			&r.CDPID, &r.Owner, &r.CollateralType,
			&r.FeesPaid, &r.PrincipalPaid, &r.RemainingDebt,
			&r.NewState, &r.Closed, &r.ExecutedAtMs, &r.BurnIndex,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
