// Package persistence stores CDP positions and burn audit records in
// Postgres. Token amounts travel as NUMERIC(78,0) text so 256-bit values
// survive the round trip exactly.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/Angleito/nyxusd-sub000/internal/cdp"
)

var (
	// ErrNotFound is returned when no CDP row matches.
	ErrNotFound = errors.New("cdp not found")

	// ErrVersionConflict is returned when an optimistic update lost the
	// race; the caller should reload and retry.
	ErrVersionConflict = errors.New("cdp version conflict")
)

// StoredCDP pairs a position snapshot with its optimistic-concurrency
// version.
type StoredCDP struct {
	CDP     cdp.CDP
	Version int64
}

// CDPStore persists positions with optimistic versioning: every update names
// the version it read, and a concurrent writer forces a retry instead of a
// lost update.
type CDPStore struct {
	db *sql.DB
}

func NewCDPStore(db *sql.DB) *CDPStore {
	return &CDPStore{db: db}
}

const cdpColumns = `id, owner, collateral_type, collateral_amount, debt_amount, accrued_fees,
	state_kind, health_factor_wad, liquidation_price, state_at,
	min_collateral_ratio_bps, liquidation_ratio_bps, stability_fee_bps, liquidation_penalty_bps,
	debt_ceiling, min_debt, created_at_ms, updated_at_ms, version`

// Insert writes a new position at version 1.
func (s *CDPStore) Insert(ctx context.Context, position cdp.CDP) error {
	if err := position.Validate(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cdp.positions (`+cdpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, 1)`,
		insertArgs(position)...,
	)
	return err
}

// Get loads one position by id.
func (s *CDPStore) Get(ctx context.Context, id uuid.UUID) (StoredCDP, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+cdpColumns+` FROM cdp.positions WHERE id = $1`, id.String())
	return scanCDP(row)
}

// GetByOwner loads all positions held by one owner, newest first.
func (s *CDPStore) GetByOwner(ctx context.Context, owner string) ([]StoredCDP, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cdpColumns+` FROM cdp.positions
		WHERE owner = $1 ORDER BY created_at_ms DESC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCDPs(rows)
}

// ListByState loads positions in one lifecycle state, oldest update first,
// so sweepers work through the stalest positions before fresh ones.
func (s *CDPStore) ListByState(ctx context.Context, kind cdp.StateKind, limit int) ([]StoredCDP, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cdpColumns+` FROM cdp.positions
		WHERE state_kind = $1 ORDER BY updated_at_ms ASC LIMIT $2`,
		kind.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCDPs(rows)
}

// Update writes a position read at expectedVersion. ErrVersionConflict means
// a concurrent writer got there first.
func (s *CDPStore) Update(ctx context.Context, position cdp.CDP, expectedVersion int64) error {
	if err := position.Validate(); err != nil {
		return err
	}

	args := insertArgs(position)
	args = append(args, expectedVersion)
	res, err := s.db.ExecContext(ctx, `
		UPDATE cdp.positions SET
			owner = $2, collateral_type = $3, collateral_amount = $4,
			debt_amount = $5, accrued_fees = $6,
			state_kind = $7, health_factor_wad = $8, liquidation_price = $9, state_at = $10,
			min_collateral_ratio_bps = $11, liquidation_ratio_bps = $12,
			stability_fee_bps = $13, liquidation_penalty_bps = $14,
			debt_ceiling = $15, min_debt = $16,
			created_at_ms = $17, updated_at_ms = $18,
			version = version + 1
		WHERE id = $1 AND version = $19`,
		args...,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing row from a lost race.
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cdp.positions WHERE id = $1)`,
			position.ID.String(),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// CountByState returns position counts per lifecycle state.
func (s *CDPStore) CountByState(ctx context.Context) (map[cdp.StateKind]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state_kind, COUNT(*) FROM cdp.positions GROUP BY state_kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[cdp.StateKind]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[parseStateKind(kind)] = n
	}
	return counts, rows.Err()
}

func insertArgs(c cdp.CDP) []interface{} {
	var healthWad interface{}
	switch {
	case c.State.Kind != cdp.StateActive:
		healthWad = nil
	case c.State.HealthFactor.Infinite():
		healthWad = nil
	default:
		healthWad = c.State.HealthFactor.Wad().String()
	}

	var stateAt interface{}
	if c.State.Kind == cdp.StateLiquidated || c.State.Kind == cdp.StateClosed {
		stateAt = int64(c.State.At)
	}

	return []interface{}{
		c.ID.String(), c.Owner, c.CollateralType,
		c.CollateralAmount.String(), c.DebtAmount.String(), c.AccruedFees.String(),
		c.State.Kind.String(), healthWad, c.State.LiquidationPrice.String(), stateAt,
		int64(c.Config.MinCollateralRatio), int64(c.Config.LiquidationRatio),
		c.Config.StabilityFeeBps, int64(c.Config.LiquidationPenaltyBps),
		c.Config.DebtCeiling.String(), c.Config.MinDebt.String(),
		int64(c.CreatedAt), int64(c.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCDP(row rowScanner) (StoredCDP, error) {
	var (
		id, owner, collateralType                 string
		collateralStr, debtStr, feesStr           string
		stateKind                                 string
		healthWad, liqPriceStr                    sql.NullString
		stateAt                                   sql.NullInt64
		minRatio, liqRatio, feeBps, penaltyBps    int64
		ceilingStr, minDebtStr                    string
		createdAt, updatedAt, version             int64
	)

	err := row.Scan(
		&id, &owner, &collateralType,
		&collateralStr, &debtStr, &feesStr,
		&stateKind, &healthWad, &liqPriceStr, &stateAt,
		&minRatio, &liqRatio, &feeBps, &penaltyBps,
		&ceilingStr, &minDebtStr, &createdAt, &updatedAt, &version,
	)
	if err == sql.ErrNoRows {
		return StoredCDP{}, ErrNotFound
	}
	if err != nil {
		return StoredCDP{}, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return StoredCDP{}, fmt.Errorf("parse cdp id %q: %w", id, err)
	}

	collateral, err := cdp.NewAmountFromString(collateralStr)
	if err != nil {
		return StoredCDP{}, err
	}
	debt, err := cdp.NewAmountFromString(debtStr)
	if err != nil {
		return StoredCDP{}, err
	}
	fees, err := cdp.NewAmountFromString(feesStr)
	if err != nil {
		return StoredCDP{}, err
	}
	ceiling, err := cdp.NewAmountFromString(ceilingStr)
	if err != nil {
		return StoredCDP{}, err
	}
	minDebt, err := cdp.NewAmountFromString(minDebtStr)
	if err != nil {
		return StoredCDP{}, err
	}

	state, err := buildState(stateKind, healthWad, liqPriceStr, stateAt)
	if err != nil {
		return StoredCDP{}, err
	}

	return StoredCDP{
		CDP: cdp.CDP{
			ID:               parsedID,
			Owner:            owner,
			CollateralType:   collateralType,
			CollateralAmount: collateral,
			DebtAmount:       debt,
			AccruedFees:      fees,
			State:            state,
			Config: cdp.Config{
				MinCollateralRatio:    cdp.BasisPoints(minRatio),
				LiquidationRatio:      cdp.BasisPoints(liqRatio),
				StabilityFeeBps:       feeBps,
				LiquidationPenaltyBps: cdp.BasisPoints(penaltyBps),
				DebtCeiling:           ceiling,
				MinDebt:               minDebt,
			},
			CreatedAt: cdp.Timestamp(createdAt),
			UpdatedAt: cdp.Timestamp(updatedAt),
		},
		Version: version,
	}, nil
}

func scanCDPs(rows *sql.Rows) ([]StoredCDP, error) {
	var out []StoredCDP
	for rows.Next() {
		stored, err := scanCDP(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, rows.Err()
}

func buildState(kind string, healthWad, liqPrice sql.NullString, stateAt sql.NullInt64) (cdp.State, error) {
	switch parseStateKind(kind) {
	case cdp.StateActive:
		if !healthWad.Valid {
			return cdp.ActiveState(cdp.InfiniteHealthFactor()), nil
		}
		w, ok := new(big.Int).SetString(healthWad.String, 10)
		if !ok {
			return cdp.State{}, fmt.Errorf("parse health factor %q", healthWad.String)
		}
		return cdp.ActiveState(cdp.HealthFactorFromWad(w)), nil
	case cdp.StateLiquidating:
		price := cdp.ZeroAmount()
		if liqPrice.Valid {
			var err error
			price, err = cdp.NewAmountFromString(liqPrice.String)
			if err != nil {
				return cdp.State{}, err
			}
		}
		return cdp.LiquidatingState(price), nil
	case cdp.StateLiquidated:
		return cdp.LiquidatedState(cdp.Timestamp(stateAt.Int64)), nil
	case cdp.StateClosed:
		return cdp.ClosedState(cdp.Timestamp(stateAt.Int64)), nil
	}
	return cdp.State{}, fmt.Errorf("unknown state kind %q", kind)
}

func parseStateKind(s string) cdp.StateKind {
	switch s {
	case "Active":
		return cdp.StateActive
	case "Liquidating":
		return cdp.StateLiquidating
	case "Liquidated":
		return cdp.StateLiquidated
	case "Closed":
		return cdp.StateClosed
	}
	return cdp.StateKind(-1)
}
