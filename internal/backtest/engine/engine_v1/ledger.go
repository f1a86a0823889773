package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/quantbeam/leverbt/internal/logger"
	"github.com/quantbeam/leverbt/pkg/errors"
	"go.uber.org/zap"
)

// Ledger persists a run's trades, liquidations, equity curve and trade
// log in an in-memory DuckDB database, computes summary statistics over
// them and exports everything as parquet.
type Ledger struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

// Stats summarizes one recorded run.
type Stats struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	TotalPnL       float64
	TotalFees      float64
	ProfitFactor   float64
	AvgHoldingBars float64
	Liquidations   int
	InitialEquity  float64
	FinalEquity    float64
	TotalReturnPct float64
	MaxDrawdown    float64
}

// NewLedger opens an in-memory database and creates the result tables.
func NewLedger(log *logger.Logger) (*Ledger, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		log.Error("failed to open database", zap.Error(err))

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to connect to database", err)
	}

	ledger := &Ledger{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := ledger.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return ledger, nil
}

func (l *Ledger) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT,
			side TEXT,
			entry_time TIMESTAMP,
			exit_time TIMESTAMP,
			entry_price DOUBLE,
			exit_price DOUBLE,
			quantity DOUBLE,
			pnl DOUBLE,
			return_pct DOUBLE,
			leverage DOUBLE,
			fee DOUBLE,
			is_liquidation BOOLEAN
		)`,
		`CREATE TABLE IF NOT EXISTS liquidations (
			time TIMESTAMP,
			side TEXT,
			entry_price DOUBLE,
			liquidation_price DOUBLE,
			quantity DOUBLE,
			lost_margin DOUBLE,
			leverage DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS equity_curve (
			time TIMESTAMP,
			equity DOUBLE
		)`,
		`CREATE TABLE IF NOT EXISTS trade_log (
			trade_id TEXT,
			side TEXT,
			entry_time TIMESTAMP,
			exit_time TIMESTAMP,
			entry_reason TEXT,
			exit_reason TEXT,
			holding_bars INTEGER,
			mae DOUBLE,
			mfe DOUBLE,
			fees DOUBLE,
			equity_after DOUBLE
		)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to create table", err)
		}
	}

	return nil
}

// Record writes a full run result into the database.
func (l *Ledger) Record(result *Result) error {
	for _, trade := range result.Trades {
		query := l.sq.Insert("trades").
			Columns("id", "side", "entry_time", "exit_time", "entry_price", "exit_price",
				"quantity", "pnl", "return_pct", "leverage", "fee", "is_liquidation").
			Values(trade.ID, string(trade.Side), trade.EntryTime, trade.ExitTime, trade.EntryPrice,
				trade.ExitPrice, trade.Quantity, trade.PnL, trade.ReturnPct, trade.Leverage,
				trade.Fee, trade.IsLiquidation)

		if err := l.exec(query); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert trade", err)
		}
	}

	for _, event := range result.Liquidations {
		query := l.sq.Insert("liquidations").
			Columns("time", "side", "entry_price", "liquidation_price", "quantity", "lost_margin", "leverage").
			Values(event.Time, string(event.Side), event.EntryPrice, event.LiquidationPrice,
				event.Quantity, event.LostMargin, event.Leverage)

		if err := l.exec(query); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert liquidation", err)
		}
	}

	for _, point := range result.EquityCurve {
		query := l.sq.Insert("equity_curve").
			Columns("time", "equity").
			Values(point.Time, point.Equity)

		if err := l.exec(query); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert equity point", err)
		}
	}

	for _, entry := range result.TradeLog {
		query := l.sq.Insert("trade_log").
			Columns("trade_id", "side", "entry_time", "exit_time", "entry_reason", "exit_reason",
				"holding_bars", "mae", "mfe", "fees", "equity_after").
			Values(entry.TradeID, string(entry.Side), entry.EntryTime, entry.ExitTime,
				entry.EntryReason, entry.ExitReason, entry.HoldingBars, entry.MAE, entry.MFE,
				entry.Fees, entry.EquityAfter)

		if err := l.exec(query); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to insert trade log entry", err)
		}
	}

	return nil
}

func (l *Ledger) exec(query squirrel.InsertBuilder) error {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}

	_, err = l.db.Exec(sqlStr, args...)

	return err
}

// Stats aggregates the recorded run. Trade aggregates come from SQL;
// the drawdown walks the equity curve in order.
func (l *Ledger) Stats() (Stats, error) {
	var stats Stats

	var grossProfit, grossLoss float64

	err := l.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(fee), 0),
			COALESCE(SUM(CASE WHEN pnl > 0 THEN pnl ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN -pnl ELSE 0 END), 0)
		FROM trades
	`).Scan(&stats.TotalTrades, &stats.WinningTrades, &stats.LosingTrades, &stats.TotalPnL,
		&stats.TotalFees, &grossProfit, &grossLoss)
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeLedgerStatsFailed, "failed to aggregate trades", err)
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}

	if grossLoss > 0 {
		stats.ProfitFactor = grossProfit / grossLoss
	}

	err = l.db.QueryRow(`SELECT COALESCE(AVG(holding_bars), 0) FROM trade_log`).Scan(&stats.AvgHoldingBars)
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeLedgerStatsFailed, "failed to average holding bars", err)
	}

	err = l.db.QueryRow(`SELECT COUNT(*) FROM liquidations`).Scan(&stats.Liquidations)
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeLedgerStatsFailed, "failed to count liquidations", err)
	}

	rows, err := l.db.Query(`SELECT equity FROM equity_curve ORDER BY time`)
	if err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeLedgerStatsFailed, "failed to read equity curve", err)
	}
	defer rows.Close()

	var (
		first, last, peak, maxDrawdown float64
		count                          int
	)

	for rows.Next() {
		var equity float64
		if err := rows.Scan(&equity); err != nil {
			return Stats{}, errors.Wrap(errors.ErrCodeLedgerStatsFailed, "failed to scan equity", err)
		}

		if count == 0 {
			first = equity
			peak = equity
		}

		if equity > peak {
			peak = equity
		}

		if peak > 0 {
			drawdown := (peak - equity) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}

		last = equity
		count++
	}

	if err := rows.Err(); err != nil {
		return Stats{}, errors.Wrap(errors.ErrCodeLedgerStatsFailed, "failed to iterate equity curve", err)
	}

	stats.InitialEquity = first
	stats.FinalEquity = last
	stats.MaxDrawdown = maxDrawdown

	if first > 0 {
		stats.TotalReturnPct = (last - first) / first
	}

	return stats, nil
}

// Write exports every table as parquet into the given directory,
// creating it if needed.
func (l *Ledger) Write(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerWriteFailed, "failed to create results directory", err)
	}

	tables := []string{"trades", "liquidations", "equity_curve", "trade_log"}
	for _, table := range tables {
		target := filepath.Join(path, table+".parquet")

		_, err := l.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, target))
		if err != nil {
			return errors.Wrapf(errors.ErrCodeLedgerWriteFailed, err, "failed to export %s", table)
		}
	}

	l.log.Info("results exported", zap.String("path", path))

	return nil
}

// Cleanup closes the database.
func (l *Ledger) Cleanup() error {
	if err := l.db.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to close database", err)
	}

	return nil
}
