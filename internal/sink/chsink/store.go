// Package chsink merges forecast records into ClickHouse.
package chsink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink"
)

const table = "hrrr_forecasts"

var (
	columns = []string{"valid_time_utc", "run_time_utc", "latitude", "longitude", "variable", "value", "source"}
	keyCols = []string{"valid_time_utc", "run_time_utc", "latitude", "longitude", "variable", "source"}
)

type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type Store struct {
	conn   driver.Conn
	logger *slog.Logger
}

func NewStore(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Logger: logger,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &Store{conn: conn, logger: logger}, nil
}

// Migrate creates the forecast table if missing.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, createTableStatement()); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// Merge loads the batch into a throwaway staging table and copies across the
// rows whose key is not yet stored. The inserted count is the table size
// difference around the copy, so concurrent writers can skew it.
func (s *Store) Merge(ctx context.Context, records []model.ForecastRecord) (int64, error) {
	records = sink.Dedupe(records)
	if len(records) == 0 {
		return 0, nil
	}

	staging := stagingTableName(uuid.New())
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE TABLE %s AS %s ENGINE = Memory", staging, table)); err != nil {
		return 0, fmt.Errorf("create staging table: %w", err)
	}
	defer func() {
		if err := s.conn.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+staging); err != nil {
			s.logger.Warn("failed to drop staging table", "table", staging, "error", err)
		}
	}()

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+staging)
	if err != nil {
		return 0, fmt.Errorf("prepare staging batch: %w", err)
	}
	for _, r := range records {
		err := batch.Append(
			model.StorageTime(r.ValidTimeUTC),
			model.StorageTime(r.RunTimeUTC),
			r.Lat,
			r.Lon,
			r.Variable,
			r.Value,
			r.Source,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("append staging row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send staging batch: %w", err)
	}

	before, err := s.count(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.conn.Exec(ctx, mergeStatement(staging)); err != nil {
		return 0, fmt.Errorf("merge into %s: %w", table, err)
	}
	after, err := s.count(ctx)
	if err != nil {
		return 0, err
	}

	inserted := int64(after) - int64(before)
	if inserted < 0 {
		inserted = 0
	}
	s.logger.Debug("clickhouse merge complete", "staged", len(records), "inserted", inserted)
	return inserted, nil
}

func (s *Store) count(ctx context.Context) (uint64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func stagingTableName(id uuid.UUID) string {
	return table + "_staging_" + strings.ReplaceAll(id.String(), "-", "")
}

func createTableStatement() string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		valid_time_utc DateTime('UTC'),
		run_time_utc   DateTime('UTC'),
		latitude       Float64,
		longitude      Float64,
		variable       LowCardinality(String),
		value          Float64,
		source         String
	)
	ENGINE = ReplacingMergeTree
	ORDER BY (` + strings.Join([]string{"variable", "valid_time_utc", "run_time_utc", "latitude", "longitude", "source"}, ", ") + `)`
}

func mergeStatement(staging string) string {
	sel := make([]string, len(columns))
	for i, c := range columns {
		sel[i] = "s." + c
	}
	return `INSERT INTO ` + table + ` (` + strings.Join(columns, ", ") + `)
		SELECT ` + strings.Join(sel, ", ") + `
		FROM ` + staging + ` AS s
		LEFT ANTI JOIN ` + table + ` AS t USING (` + strings.Join(keyCols, ", ") + `)`
}
