package sqlsink

import (
	"fmt"
	"strings"
	"time"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
)

const (
	table   = "hrrr_forecasts"
	staging = "hrrr_forecasts_staging"
)

var (
	columns = []string{"valid_time_utc", "run_time_utc", "latitude", "longitude", "variable", "value", "source"}
	keyCols = []string{"valid_time_utc", "run_time_utc", "latitude", "longitude", "variable", "source"}
)

// Dialect holds the SQL that differs between database engines.
type Dialect struct {
	Name string
	// Driver is the database/sql driver name.
	Driver string

	schema       []string
	stage        []string
	mergeSuffix  string
	placeholder  func(n int) string
	timeArgument func(t time.Time) any
}

// SQLite stores timestamps as UTC "YYYY-MM-DD HH:MM:SS" text.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			valid_time_utc TEXT NOT NULL,
			run_time_utc   TEXT NOT NULL,
			latitude       REAL NOT NULL,
			longitude      REAL NOT NULL,
			variable       TEXT NOT NULL,
			value          REAL,
			source         TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_` + table + ` ON ` + table + ` (` + strings.Join(keyCols, ", ") + `)`,
	},
	stage: []string{
		`CREATE TEMP TABLE IF NOT EXISTS ` + staging + ` (
			valid_time_utc TEXT NOT NULL,
			run_time_utc   TEXT NOT NULL,
			latitude       REAL NOT NULL,
			longitude      REAL NOT NULL,
			variable       TEXT NOT NULL,
			value          REAL,
			source         TEXT NOT NULL
		)`,
		`DELETE FROM ` + staging,
	},
	placeholder: func(int) string { return "?" },
	timeArgument: func(t time.Time) any {
		return model.StorageTime(t).Format("2006-01-02 15:04:05")
	},
}

// Postgres uses TIMESTAMPTZ columns and an ON COMMIT DROP staging table.
var Postgres = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS ` + table + ` (
			valid_time_utc TIMESTAMPTZ      NOT NULL,
			run_time_utc   TIMESTAMPTZ      NOT NULL,
			latitude       DOUBLE PRECISION NOT NULL,
			longitude      DOUBLE PRECISION NOT NULL,
			variable       TEXT             NOT NULL,
			value          DOUBLE PRECISION,
			source         TEXT             NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_` + table + ` ON ` + table + ` (` + strings.Join(keyCols, ", ") + `)`,
	},
	stage: []string{
		`CREATE TEMP TABLE ` + staging + ` (LIKE ` + table + ` INCLUDING DEFAULTS) ON COMMIT DROP`,
	},
	mergeSuffix:  `ON CONFLICT (` + strings.Join(keyCols, ", ") + `) DO NOTHING`,
	placeholder:  func(n int) string { return fmt.Sprintf("$%d", n) },
	timeArgument: func(t time.Time) any { return model.StorageTime(t) },
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case SQLite.Name, "sqlite3":
		return SQLite, nil
	case Postgres.Name, "postgresql":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
}

func (d Dialect) stageInsert() string {
	ph := make([]string, len(columns))
	for i := range columns {
		ph[i] = d.placeholder(i + 1)
	}
	return `INSERT INTO ` + staging + ` (` + strings.Join(columns, ", ") + `) VALUES (` + strings.Join(ph, ", ") + `)`
}

// mergeStatement inserts the staging rows whose key is absent from the table.
func (d Dialect) mergeStatement() string {
	sel := make([]string, len(columns))
	for i, c := range columns {
		sel[i] = "s." + c
	}
	on := make([]string, len(keyCols))
	for i, c := range keyCols {
		on[i] = "t." + c + " = s." + c
	}
	stmt := `INSERT INTO ` + table + ` (` + strings.Join(columns, ", ") + `)
		SELECT ` + strings.Join(sel, ", ") + `
		FROM ` + staging + ` s
		LEFT JOIN ` + table + ` t ON ` + strings.Join(on, " AND ") + `
		WHERE t.valid_time_utc IS NULL`
	if d.mergeSuffix != "" {
		stmt += "\n\t\t" + d.mergeSuffix
	}
	return stmt
}
