package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/northstar-hq/northstar/pkg/store"
)

// LogTrade implements [store.TradeStore].
func (s *Store) LogTrade(ctx context.Context, trade store.Trade) error {
	const q = `
		INSERT INTO trades (id, symbol, side, quantity, price, fees, notes, executed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		trade.ID,
		trade.Symbol,
		trade.Side,
		trade.Quantity,
		trade.Price,
		trade.Fees,
		trade.Notes,
		trade.ExecutedAt,
		trade.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("trade store: log trade: %w", err)
	}
	return nil
}

// ListTrades implements [store.TradeStore]. Trades are returned newest first
// by execution time.
func (s *Store) ListTrades(ctx context.Context, symbol string, limit int) ([]store.Trade, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := `
		SELECT id, symbol, side, quantity, price, fees, notes, executed_at, created_at
		FROM   trades`
	args := []any{}
	if symbol != "" {
		q += `
		WHERE  symbol = $1`
		args = append(args, symbol)
	}
	q += fmt.Sprintf(`
		ORDER  BY executed_at DESC
		LIMIT  $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("trade store: list trades: %w", err)
	}

	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Trade, error) {
		var t store.Trade
		err := row.Scan(&t.ID, &t.Symbol, &t.Side, &t.Quantity, &t.Price, &t.Fees, &t.Notes, &t.ExecutedAt, &t.CreatedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("trade store: scan rows: %w", err)
	}
	if trades == nil {
		trades = []store.Trade{}
	}
	return trades, nil
}
