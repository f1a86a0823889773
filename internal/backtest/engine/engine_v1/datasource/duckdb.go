// Package datasource loads bar series into memory through DuckDB, which
// reads parquet and CSV natively.
package datasource

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/quantbeam/leverbt/internal/logger"
	"github.com/quantbeam/leverbt/internal/types"
	"github.com/quantbeam/leverbt/pkg/errors"
	"go.uber.org/zap"
)

// requiredColumns must be present in every data file. Any additional
// numeric column is carried along as an indicator.
var requiredColumns = []string{"time", "open", "high", "low", "close", "volume"}

// DuckDBSource exposes one data file as an ordered bar series.
type DuckDBSource struct {
	db  *sql.DB
	log *logger.Logger
}

func NewDuckDBSource(log *logger.Logger) (*DuckDBSource, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to open database", err)
	}

	return &DuckDBSource{db: db, log: log}, nil
}

// Initialize points the source at a data file. Parquet and CSV are
// selected by extension; everything else is rejected.
func (d *DuckDBSource) Initialize(path string) error {
	var reader string

	switch {
	case strings.HasSuffix(path, ".parquet"):
		reader = fmt.Sprintf("read_parquet('%s')", path)
	case strings.HasSuffix(path, ".csv"):
		reader = fmt.Sprintf("read_csv_auto('%s')", path)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unsupported data file %q, need .parquet or .csv", path)
	}

	if _, err := d.db.Exec(`DROP VIEW IF EXISTS market_data`); err != nil {
		return errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to drop existing view", err)
	}

	query := fmt.Sprintf(`CREATE VIEW market_data AS SELECT * FROM %s`, reader)
	if _, err := d.db.Exec(query); err != nil {
		return errors.Wrap(errors.ErrCodeDataSourceUnavailable, "failed to create market data view", err)
	}

	d.log.Debug("data source initialized", zap.String("path", path))

	return d.checkColumns()
}

func (d *DuckDBSource) checkColumns() error {
	rows, err := d.db.Query(`SELECT * FROM market_data LIMIT 0`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to inspect market data", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to read column names", err)
	}

	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[strings.ToLower(col)] = true
	}

	for _, col := range requiredColumns {
		if !present[col] {
			return errors.Newf(errors.ErrCodeDataColumnMissing, "data file is missing column %q", col)
		}
	}

	return nil
}

// Count returns the number of bars from the optional start time onward.
func (d *DuckDBSource) Count(start optional.Option[time.Time]) (int, error) {
	query := `SELECT COUNT(*) FROM market_data`

	var row *sql.Row

	if start.IsSome() {
		row = d.db.QueryRow(query+` WHERE time >= ?`, start.Unwrap())
	} else {
		row = d.db.QueryRow(query)
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count bars", err)
	}

	return count, nil
}

// Load reads the whole series ordered by time. Columns beyond the
// required six become indicator values; SQL NULLs are skipped so absent
// warmup values stay absent.
func (d *DuckDBSource) Load(start optional.Option[time.Time]) ([]types.MarketData, error) {
	query := `SELECT * FROM market_data ORDER BY time`

	var (
		rows *sql.Rows
		err  error
	)

	if start.IsSome() {
		query = `SELECT * FROM market_data WHERE time >= ? ORDER BY time`
		rows, err = d.db.Query(query, start.Unwrap())
	} else {
		rows, err = d.db.Query(query)
	}

	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query bars", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to read column names", err)
	}

	var bars []types.MarketData

	for rows.Next() {
		values := make([]any, len(columns))
		for i := range values {
			values[i] = new(any)
		}

		if err := rows.Scan(values...); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan bar", err)
		}

		bar, err := barFromRow(columns, values)
		if err != nil {
			return nil, err
		}

		bars = append(bars, bar)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to iterate bars", err)
	}

	if len(bars) == 0 {
		return nil, errors.New(errors.ErrCodeDataEmpty, "data source contains no bars")
	}

	return bars, nil
}

func barFromRow(columns []string, values []any) (types.MarketData, error) {
	var bar types.MarketData

	for i, col := range columns {
		raw := *(values[i].(*any))
		if raw == nil {
			continue
		}

		name := strings.ToLower(col)

		if name == "time" {
			t, ok := raw.(time.Time)
			if !ok {
				return types.MarketData{}, errors.Newf(errors.ErrCodeQueryFailed, "time column has unexpected type %T", raw)
			}

			bar.Time = t

			continue
		}

		value, ok := toFloat(raw)
		if !ok {
			// Non-numeric extra columns (symbols, labels) are ignored.
			continue
		}

		switch name {
		case "open":
			bar.Open = value
		case "high":
			bar.High = value
		case "low":
			bar.Low = value
		case "close":
			bar.Close = value
		case "volume":
			bar.Volume = value
		default:
			if bar.Indicators == nil {
				bar.Indicators = make(map[string]float64)
			}

			bar.Indicators[name] = value
		}
	}

	return bar, nil
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Close releases the database.
func (d *DuckDBSource) Close() error {
	if err := d.db.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeUnknown, "failed to close data source", err)
	}

	return nil
}
