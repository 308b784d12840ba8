package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"time"

	"mlass/internal/domain/models"
	domrepo "mlass/internal/domain/repository"
	pkgch "mlass/pkg/clickhouse"
	applogger "mlass/pkg/logger"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CHPriceSource reads daily closes for a symbol from a ClickHouse candle table
// with columns (bucket, symbol, close).
type CHPriceSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHPriceSource(ch *pkgch.Client, table string, l *applogger.Logger) (domrepo.PriceSource, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &CHPriceSource{db: ch.DB(), table: table, l: l}, nil
}

func (s *CHPriceSource) query(limit int) string {
	q := fmt.Sprintf(`
        SELECT bucket, close
        FROM %s
        WHERE symbol = ?
        ORDER BY bucket ASC`, s.table)
	if limit > 0 {
		q += fmt.Sprintf("\n        LIMIT %d", limit)
	}
	return q
}

func (s *CHPriceSource) Load(ctx context.Context, symbol string, limit int) (models.PriceSeries, error) {
	start := time.Now()
	fail := func(msg string, err error) (models.PriceSeries, error) {
		s.l.Error(msg,
			applogger.String("table", s.table),
			applogger.String("symbol", symbol),
			applogger.Int("limit", limit),
			applogger.Error(err),
		)
		return models.PriceSeries{}, fmt.Errorf("%w: %w", models.ErrDataUnavailable, err)
	}

	rows, err := s.db.QueryContext(ctx, s.query(limit), symbol)
	if err != nil {
		return fail("clickhouse load_prices query error", err)
	}
	defer rows.Close()

	series := models.PriceSeries{Source: s.table + ":" + symbol}
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return fail("clickhouse load_prices scan error", err)
		}
		if math.IsNaN(p.Close) || math.IsInf(p.Close, 0) {
			return fail("clickhouse load_prices bad close", fmt.Errorf("non-finite close %v at %s", p.Close, p.Date.Format(time.DateOnly)))
		}
		series.Points = append(series.Points, p)
	}
	if err := rows.Err(); err != nil {
		return fail("clickhouse load_prices rows error", err)
	}

	s.l.Info("clickhouse load_prices ok",
		applogger.String("table", s.table),
		applogger.String("symbol", symbol),
		applogger.Int("rows", series.Len()),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return series, nil
}
