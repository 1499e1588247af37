// Package sqlsink persists forecast records through database/sql with a
// single set-based anti-join merge per batch.
package sqlsink

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink"
)

// Store merges records into the hrrr_forecasts table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	lock    *flock.Flock
	logger  *slog.Logger
}

// New wraps an open database. The schema is not touched; call Migrate.
// A nil logger means slog.Default().
func New(db *sql.DB, dialect Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: dialect, logger: logger}
}

// Open connects to dsn with the named dialect and ensures the schema.
// SQLite databases on disk get a sibling ".lock" file that serializes
// merges across processes.
func Open(ctx context.Context, dialectName, dsn string, logger *slog.Logger) (*Store, error) {
	dialect, err := DialectFor(dialectName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}

	s := New(db, dialect, logger)
	if dialect.Name == SQLite.Name {
		// Temp staging tables live on a connection; keep exactly one.
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
		if path := sqliteFilePath(dsn); path != "" {
			s.lock = flock.New(path + ".lock")
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// sqliteFilePath extracts the file path from a SQLite DSN, or "" for
// in-memory databases.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	return path
}

// Migrate creates the table and its unique key if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Merge stages the batch and inserts the rows whose key is not yet stored,
// all inside one transaction. Input is deduplicated first; the unique index
// would otherwise reject the whole batch.
func (s *Store) Merge(ctx context.Context, records []model.ForecastRecord) (int64, error) {
	records = sink.Dedupe(records)
	if len(records) == 0 {
		return 0, nil
	}

	if s.lock != nil {
		locked, err := s.lock.TryLockContext(ctx, 100*time.Millisecond)
		if err != nil {
			return 0, fmt.Errorf("acquire sink lock: %w", err)
		}
		if !locked {
			return 0, fmt.Errorf("acquire sink lock %s: not acquired", s.lock.Path())
		}
		defer s.lock.Unlock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range s.dialect.stage {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("prepare staging: %w", err)
		}
	}

	if err := s.stage(ctx, tx, records); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, s.dialect.mergeStatement())
	if err != nil {
		return 0, fmt.Errorf("merge: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("merge rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}

	s.logger.DebugContext(ctx, "merge complete", "dialect", s.dialect.Name, "staged", len(records), "inserted", inserted)
	return inserted, nil
}

func (s *Store) stage(ctx context.Context, tx *sql.Tx, records []model.ForecastRecord) error {
	stmt, err := tx.PrepareContext(ctx, s.dialect.stageInsert())
	if err != nil {
		return fmt.Errorf("prepare staging insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			s.dialect.timeArgument(r.ValidTimeUTC),
			s.dialect.timeArgument(r.RunTimeUTC),
			r.Lat,
			r.Lon,
			r.Variable,
			r.Value,
			r.Source,
		)
		if err != nil {
			return fmt.Errorf("stage record: %w", err)
		}
	}
	return nil
}

// Count returns the number of stored rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
