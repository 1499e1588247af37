package sqlsink

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
)

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Postgres, nil), mock
}

func TestPostgresMerge(t *testing.T) {
	s, mock := newPostgresMock(t)
	batch := []model.ForecastRecord{
		record(0, "temperature_2m", 285.1),
		record(1, "temperature_2m", 286.0),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE hrrr_forecasts_staging \(LIKE hrrr_forecasts INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(`INSERT INTO hrrr_forecasts_staging .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)`)
	for _, r := range batch {
		prep.ExpectExec().
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), r.Lat, r.Lon, r.Variable, r.Value, r.Source).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`INSERT INTO hrrr_forecasts \(.*LEFT JOIN hrrr_forecasts t ON .* WHERE t.valid_time_utc IS NULL ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := s.Merge(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMergeRollsBackOnFailure(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE hrrr_forecasts_staging`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(`INSERT INTO hrrr_forecasts_staging`).
		ExpectExec().
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO hrrr_forecasts \(`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := s.Merge(context.Background(), []model.ForecastRecord{record(0, "temperature_2m", 285.1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMergeEmptyTouchesNothing(t *testing.T) {
	s, mock := newPostgresMock(t)

	inserted, err := s.Merge(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS hrrr_forecasts .*TIMESTAMPTZ`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_hrrr_forecasts`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
