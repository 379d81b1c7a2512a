package postgres

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfall/riskgate/errs"
	"github.com/quantfall/riskgate/internal/schema"
	"github.com/quantfall/riskgate/internal/session"
)

// TradeStore persists the append-only closed-trade history. It satisfies the
// router's trade writer so every closed trade lands in one place.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore constructs a TradeStore backed by the provided pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const (
	tradeInsertSQL = `
INSERT INTO trades (
    id,
    session_id,
    symbol,
    exchange,
    strategy,
    side,
    origin,
    quantity,
    lot_size,
    entry_price,
    exit_price,
    stop_loss,
    target,
    gross_pnl,
    charges,
    net_pnl,
    exit_reason,
    trading_day,
    entry_at,
    exit_at,
    record,
    created_at
)
VALUES (
    @id,
    @session_id,
    @symbol,
    @exchange,
    @strategy,
    @side,
    @origin,
    @quantity,
    @lot_size,
    @entry_price,
    @exit_price,
    @stop_loss,
    @target,
    @gross_pnl,
    @charges,
    @net_pnl,
    @exit_reason,
    @trading_day,
    @entry_at,
    @exit_at,
    @record::jsonb,
    NOW()
)
ON CONFLICT (id) DO NOTHING;
`

	tradeSelectBase = `
SELECT record
FROM trades
`

	tradeSummarySQL = `
SELECT
    COUNT(*),
    COALESCE(SUM(gross_pnl), 0),
    COALESCE(SUM(charges), 0),
    COALESCE(SUM(net_pnl), 0)
FROM trades
WHERE session_id = @session_id AND trading_day = @trading_day;
`

	defaultTradeLimit = 100
	maxTradeLimit     = 1000
)

// TradeQuery filters history listings. Zero values match everything.
type TradeQuery struct {
	SessionID  string
	Symbol     string
	TradingDay string
	Limit      int
}

// DaySummary aggregates one session's closed trades for a trading day.
type DaySummary struct {
	Trades   int64
	GrossPnL decimal.Decimal
	Charges  decimal.Decimal
	NetPnL   decimal.Decimal
}

func (s *TradeStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, errs.New("persistence", errs.CodeStorage, errs.WithMessage("trade store: nil pool"))
	}
	return s.pool, nil
}

// Append records one closed trade. Re-appending an already recorded trade is a
// no-op, so retrying callers stay idempotent.
func (s *TradeStore) Append(ctx context.Context, trade schema.Trade) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(trade.ID) == "" {
		return errs.New("persistence", errs.CodeStorage, errs.WithMessage("trade store: trade id required"))
	}
	record, err := json.Marshal(trade)
	if err != nil {
		return errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: encode record"), errs.WithCause(err))
	}
	args := pgx.NamedArgs{
		"id":          trade.ID,
		"session_id":  trade.SessionID,
		"symbol":      trade.Symbol,
		"exchange":    trade.Exchange,
		"strategy":    trade.Strategy,
		"side":        string(trade.Side),
		"origin":      string(trade.Origin),
		"quantity":    trade.Quantity,
		"lot_size":    trade.LotSize,
		"exit_reason": trade.ExitReason,
		"trading_day": session.TradingDay(trade.ExitTime),
		"entry_at":    trade.EntryTime,
		"exit_at":     trade.ExitTime,
		"record":      record,
	}
	for name, value := range map[string]decimal.Decimal{
		"entry_price": trade.EntryPrice,
		"exit_price":  trade.ExitPrice,
		"stop_loss":   trade.StopLoss,
		"target":      trade.Target,
		"gross_pnl":   trade.GrossPnL,
		"charges":     trade.Charges,
		"net_pnl":     trade.NetPnL,
	} {
		numeric, err := numericFromDecimal(value)
		if err != nil {
			return errs.New("persistence", errs.CodeStorage,
				errs.WithMessage(fmt.Sprintf("trade store: %s", name)), errs.WithCause(err))
		}
		args[name] = numeric
	}
	if _, err := pool.Exec(ctx, tradeInsertSQL, args); err != nil {
		return errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: insert trade"), errs.WithCause(err))
	}
	return nil
}

// List retrieves recorded trades matching the supplied filters, most recent
// exits first.
func (s *TradeStore) List(ctx context.Context, query TradeQuery) ([]schema.Trade, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultTradeLimit, maxTradeLimit)

	builder := strings.Builder{}
	builder.WriteString(tradeSelectBase)
	builder.WriteString(" WHERE 1=1")

	args := make([]any, 0, 4)
	argPos := 1

	if trimmed := strings.TrimSpace(query.SessionID); trimmed != "" {
		fmt.Fprintf(&builder, " AND session_id = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	if trimmed := strings.TrimSpace(query.Symbol); trimmed != "" {
		fmt.Fprintf(&builder, " AND symbol = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	if trimmed := strings.TrimSpace(query.TradingDay); trimmed != "" {
		fmt.Fprintf(&builder, " AND trading_day = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY exit_at DESC LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: list trades"), errs.WithCause(err))
	}
	defer rows.Close()

	var trades []schema.Trade
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, errs.New("persistence", errs.CodeStorage,
				errs.WithMessage("trade store: scan trade"), errs.WithCause(err))
		}
		var trade schema.Trade
		if err := json.Unmarshal(record, &trade); err != nil {
			return nil, errs.New("persistence", errs.CodeStorage,
				errs.WithMessage("trade store: decode record"), errs.WithCause(err))
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: iterate trades"), errs.WithCause(err))
	}
	return trades, nil
}

// Summary aggregates one session's closed trades for the given trading day.
func (s *TradeStore) Summary(ctx context.Context, sessionID, tradingDay string) (DaySummary, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return DaySummary{}, err
	}
	args := pgx.NamedArgs{
		"session_id":  strings.TrimSpace(sessionID),
		"trading_day": strings.TrimSpace(tradingDay),
	}
	var (
		count   int64
		gross   pgtype.Numeric
		charges pgtype.Numeric
		net     pgtype.Numeric
	)
	if err := pool.QueryRow(ctx, tradeSummarySQL, args).Scan(&count, &gross, &charges, &net); err != nil {
		return DaySummary{}, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: day summary"), errs.WithCause(err))
	}
	summary := DaySummary{Trades: count}
	if summary.GrossPnL, err = decimalFromNumeric(gross); err != nil {
		return DaySummary{}, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: gross pnl"), errs.WithCause(err))
	}
	if summary.Charges, err = decimalFromNumeric(charges); err != nil {
		return DaySummary{}, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: charges"), errs.WithCause(err))
	}
	if summary.NetPnL, err = decimalFromNumeric(net); err != nil {
		return DaySummary{}, errs.New("persistence", errs.CodeStorage,
			errs.WithMessage("trade store: net pnl"), errs.WithCause(err))
	}
	return summary, nil
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}
