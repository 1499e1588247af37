package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/catalog"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/grib"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/hrrr"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/observability"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink/sqlsink"
)

var (
	runDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	layout  = hrrr.DefaultLayout()

	// 2x2 grid around Denver.
	testLats = [][]float64{{39.0, 39.0}, {40.0, 40.0}}
	testLons = [][]float64{{-105.0, -104.0}, {-105.0, -104.0}}

	denver = model.Point{Lat: 39.1, Lon: -104.1}
)

type stubSource struct {
	mu        sync.Mutex
	objects   map[string][]byte
	existsErr error
	opened    []string
}

func (s *stubSource) Exists(_ context.Context, key string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *stubSource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, key)
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.opened)
}

type stubResolver struct {
	date  time.Time
	err   error
	calls int
}

func (r *stubResolver) LatestCompleteRun(context.Context) (time.Time, error) {
	r.calls++
	return r.date, r.err
}

// stubDecoder maps file contents to in-memory files.
type stubDecoder struct {
	mu      sync.Mutex
	files   map[string]func() *grib.MemoryFile
	err     error
	decoded []*grib.MemoryFile
	// onDecode runs after a file is decoded.
	onDecode func()
}

func (d *stubDecoder) Decode(_ context.Context, r io.Reader) (grib.File, error) {
	if d.err != nil {
		return nil, d.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	build, ok := d.files[string(data)]
	if !ok {
		return nil, fmt.Errorf("unexpected content %q", data)
	}
	f := build()
	d.mu.Lock()
	d.decoded = append(d.decoded, f)
	d.mu.Unlock()
	if d.onDecode != nil {
		d.onDecode()
	}
	return f, nil
}

type stubArchive struct {
	mu      sync.Mutex
	objects map[string]string
}

func (a *stubArchive) Put(_ context.Context, key string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string]string{}
	}
	a.objects[key] = string(b)
	return nil
}

func tmpRecord(hour int, value float64) *grib.Record {
	return &grib.Record{
		Meta: grib.Metadata{
			ShortName:   "TMP",
			TypeOfLevel: "heightAboveGround",
			Level:       grib.IntPtr(2),
			Description: fmt.Sprintf("1:TMP:heightAboveGround:level 2:%d hour fcst", hour),
		},
		Valid: runDate.Add(time.Duration(6+hour) * time.Hour),
		Data:  [][]float64{{value, value + 1}, {value + 2, value + 3}},
		Lats:  testLats,
		Lons:  testLons,
	}
}

func memFile(records ...*grib.Record) func() *grib.MemoryFile {
	return func() *grib.MemoryFile { return &grib.MemoryFile{Records: records} }
}

type fixture struct {
	source   *stubSource
	resolver *stubResolver
	decoder  *stubDecoder
	metrics  *observability.Metrics
	workDir  string
}

// newFixture publishes one file per entry of hours, keyed by forecast hour.
func newFixture(t *testing.T, hours map[int]func() *grib.MemoryFile) *fixture {
	t.Helper()
	f := &fixture{
		source:   &stubSource{objects: map[string][]byte{}},
		resolver: &stubResolver{date: runDate},
		decoder:  &stubDecoder{files: map[string]func() *grib.MemoryFile{}},
		metrics:  observability.NewMetricsForTesting(),
		workDir:  t.TempDir(),
	}
	for hour, build := range hours {
		content := fmt.Sprintf("grib-f%02d", hour)
		f.source.objects[layout.Key(runDate, hour)] = []byte(content)
		f.decoder.files[content] = build
	}
	return f
}

func (f *fixture) service(opts Options) *Service {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Metrics = f.metrics
	opts.WorkDir = f.workDir
	return NewService(f.source, f.resolver, f.decoder, opts)
}

func TestRun_TwoHoursOnePointOneVariable(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280)),
		1: memFile(tmpRecord(1, 290)),
	})
	svc := f.service(Options{})

	records, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver},
		RunDate:   runDate,
		Variables: []string{"temperature_2m"},
		NumHours:  2,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)

	for hour, r := range records {
		assert.Equal(t, runDate.Add(time.Duration(6+hour)*time.Hour), r.ValidTimeUTC)
		assert.Equal(t, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), r.RunTimeUTC)
		assert.Equal(t, 39.0, r.Lat)
		assert.Equal(t, -104.0, r.Lon)
		assert.Equal(t, "temperature_2m", r.Variable)
		assert.Equal(t, layout.Locator(runDate, hour), r.Source)
	}
	// Cell (0, 1) carries value+1.
	assert.Equal(t, 281.0, records[0].Value)
	assert.Equal(t, 291.0, records[1].Value)

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.HoursProcessed))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.RecordsEmitted))
	assert.Zero(t, f.resolver.calls)
}

func TestIngest_RerunInsertsNothing(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280)),
		1: memFile(tmpRecord(1, 290)),
	})
	svc := f.service(Options{})

	store, err := sqlsink.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "data.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	req := Request{
		Points:    []model.Point{denver},
		RunDate:   runDate,
		Variables: []string{"temperature_2m"},
		NumHours:  2,
	}

	first, err := svc.Ingest(context.Background(), req, store)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Records)
	assert.Equal(t, 2, first.Unique)
	assert.Equal(t, int64(2), first.Inserted)
	assert.Equal(t, runDate, first.RunDate)

	second, err := svc.Ingest(context.Background(), req, store)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Records)
	assert.Zero(t, second.Inserted)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.RowsInserted))
}

func TestIngest_DeduplicatesBeforeMerge(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280)),
	})
	svc := f.service(Options{})
	merger := &recordingMerger{}

	// Both points snap to the same cell.
	summary, err := svc.Ingest(context.Background(), Request{
		Points:    []model.Point{denver, {Lat: 39.05, Lon: -104.05}},
		RunDate:   runDate,
		Variables: []string{"temperature_2m"},
		NumHours:  1,
	}, merger)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 1, summary.Unique)
	assert.Len(t, merger.got, 1)
}

func TestIngest_WrapsSinkErrors(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	svc := f.service(Options{})

	_, err := svc.Ingest(context.Background(), Request{
		Points:   []model.Point{denver},
		RunDate:  runDate,
		NumHours: 1,
	}, &recordingMerger{err: errors.New("database is locked")})
	assert.ErrorIs(t, err, ErrSink)
	assert.ErrorContains(t, err, "database is locked")
}

type recordingMerger struct {
	got []model.ForecastRecord
	err error
}

func (m *recordingMerger) Merge(_ context.Context, records []model.ForecastRecord) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.got = append(m.got, records...)
	return int64(len(records)), nil
}

func TestRun_FirstMatchWins(t *testing.T) {
	second := tmpRecord(0, 500)
	second.Meta.Description = "2:TMP:heightAboveGround:level 2:duplicate"
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280), second),
	})
	svc := f.service(Options{})

	records, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver},
		RunDate:   runDate,
		Variables: []string{"temperature_2m"},
		NumHours:  1,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 281.0, records[0].Value)
}

func TestRun_UnknownVariablesFailBeforeIO(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	svc := f.service(Options{})

	_, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver},
		Variables: []string{"temperature_2m", "bogus", "also_bogus"},
		NumHours:  1,
	})

	var unknown *catalog.ErrUnknownVariables
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, []string{"bogus", "also_bogus"}, unknown.Names)
	assert.Zero(t, f.source.openCount())
	assert.Zero(t, f.resolver.calls)
}

func TestRun_SkipsMissingHour(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280)),
		2: memFile(tmpRecord(2, 300)),
	})
	svc := f.service(Options{})

	records, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver},
		RunDate:   runDate,
		Variables: []string{"temperature_2m"},
		NumHours:  3,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, layout.Locator(runDate, 0), records[0].Source)
	assert.Equal(t, layout.Locator(runDate, 2), records[1].Source)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.HoursSkipped))
}

func TestRun_SkipsEmptyFile(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile()})
	svc := f.service(Options{})

	records, err := svc.Run(context.Background(), Request{
		Points:   []model.Point{denver},
		RunDate:  runDate,
		NumHours: 1,
	})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.HoursSkipped))
}

func TestRun_UnmatchedVariableIsSkipped(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280)),
		1: memFile(tmpRecord(1, 290)),
	})
	svc := f.service(Options{})

	records, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver},
		RunDate:   runDate,
		Variables: []string{"temperature_2m", "surface_roughness"},
		NumHours:  2,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "temperature_2m", r.Variable)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.UnmatchedVariables.WithLabelValues("surface_roughness")))
}

func TestRun_ReleasesFilesAndSpools(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{
		0: memFile(tmpRecord(0, 280)),
		1: memFile(tmpRecord(1, 290)),
	})
	svc := f.service(Options{Workers: 2})

	_, err := svc.Run(context.Background(), Request{
		Points:   []model.Point{denver},
		RunDate:  runDate,
		NumHours: 2,
	})
	require.NoError(t, err)

	require.Len(t, f.decoder.decoded, 2)
	for _, file := range f.decoder.decoded {
		assert.True(t, file.Closed())
	}
	left, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRun_ResolvesLatestRun(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	svc := f.service(Options{})

	records, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver},
		Variables: []string{"temperature_2m"},
		NumHours:  1,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, f.resolver.calls)
	assert.Equal(t, time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC), records[0].RunTimeUTC)
}

func TestRun_NoAvailableRun(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.err = fmt.Errorf("%w: searched 5 days back", hrrr.ErrNoAvailableRun)
	svc := f.service(Options{})

	_, err := svc.Run(context.Background(), Request{Points: []model.Point{denver}, NumHours: 1})
	assert.ErrorIs(t, err, hrrr.ErrNoAvailableRun)
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	svc := f.service(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, Request{Points: []model.Point{denver}, RunDate: runDate, NumHours: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.source.openCount())
}

func TestRun_CancelledMidHourIsNotADecodeError(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.decoder.onDecode = cancel
	svc := f.service(Options{})

	_, err := svc.Run(ctx, Request{Points: []model.Point{denver}, RunDate: runDate, NumHours: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrDecode)
	assert.Len(t, f.decoder.decoded, 1)
	assert.True(t, f.decoder.decoded[0].Closed())
}

func TestRun_ArchivesFetchedFiles(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	archive := &stubArchive{}
	runID := model.RunID("01890c24-905b-7122-b170-b60814e6ee06")
	svc := f.service(Options{Archive: archive, RunID: runID})

	_, err := svc.Run(context.Background(), Request{Points: []model.Point{denver}, RunDate: runDate, NumHours: 1})
	require.NoError(t, err)

	expectedKey := "noaa-hrrr-bdp-pds/hrrr/2024-05-01/01890c24-905b-7122-b170-b60814e6ee06/f00.grib2"
	assert.Equal(t, map[string]string{expectedKey: "grib-f00"}, archive.objects)
}

func TestRun_Errors(t *testing.T) {
	short := tmpRecord(0, 280)
	short.Data = [][]float64{{1}}

	tests := []struct {
		name    string
		setup   func(f *fixture)
		numHrs  int
		wantErr error
		wantMsg string
	}{
		{
			name:    "retrieval failure",
			setup:   func(f *fixture) { f.source.existsErr = errors.New("connection reset") },
			numHrs:  1,
			wantErr: ErrRetrieval,
			wantMsg: "connection reset",
		},
		{
			name:    "decode failure",
			setup:   func(f *fixture) { f.decoder.err = errors.New("not a grib file") },
			numHrs:  1,
			wantErr: ErrDecode,
			wantMsg: "not a grib file",
		},
		{
			name: "value grid too small",
			setup: func(f *fixture) {
				f.decoder.files["grib-f00"] = memFile(short)
			},
			numHrs:  1,
			wantErr: ErrDecode,
			wantMsg: "does not cover cell (0, 1)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
			tt.setup(f)
			svc := f.service(Options{})

			_, err := svc.Run(context.Background(), Request{
				Points:    []model.Point{denver},
				RunDate:   runDate,
				Variables: []string{"temperature_2m"},
				NumHours:  tt.numHrs,
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorContains(t, err, tt.wantMsg)
		})
	}
}

func TestRun_HourBounds(t *testing.T) {
	f := newFixture(t, nil)
	svc := f.service(Options{})

	_, err := svc.Run(context.Background(), Request{RunDate: runDate, NumHours: -1})
	assert.ErrorContains(t, err, "must not be negative")

	records, err := svc.Run(context.Background(), Request{RunDate: runDate, NumHours: 0})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Zero(t, f.source.openCount())
}

func TestRun_PointOrderWithinHour(t *testing.T) {
	f := newFixture(t, map[int]func() *grib.MemoryFile{0: memFile(tmpRecord(0, 280))})
	svc := f.service(Options{})

	boulder := model.Point{Lat: 39.9, Lon: -105.2}
	records, err := svc.Run(context.Background(), Request{
		Points:    []model.Point{denver, boulder},
		RunDate:   runDate,
		Variables: []string{"temperature_2m"},
		NumHours:  1,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 281.0, records[0].Value)
	assert.Equal(t, 282.0, records[1].Value)
	assert.Equal(t, 40.0, records[1].Lat)
	assert.Equal(t, -105.0, records[1].Lon)
	assert.True(t, strings.HasPrefix(records[1].Source, "s3://noaa-hrrr-bdp-pds/hrrr.20240501/"))
}
