// Package extraction turns the forecast hour files of one run into point
// forecast records.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/catalog"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/grib"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/grid"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/hrrr"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/matcher"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/observability"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/storage"
)

// DefaultWorkers is the number of forecast hours processed concurrently.
const DefaultWorkers = 4

var (
	ErrRetrieval = errors.New("retrieval failed")
	ErrDecode    = errors.New("decode failed")
	ErrArchive   = errors.New("archive failed")
	ErrSink      = errors.New("sink failed")
)

// Source reads forecast hour files.
type Source interface {
	Exists(ctx context.Context, key string) (bool, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// RunResolver picks a run date when the request leaves it empty.
type RunResolver interface {
	LatestCompleteRun(ctx context.Context) (time.Time, error)
}

// ObjectStorage writes data streams to object storage.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data io.Reader) error
}

// Request describes one extraction. A zero RunDate means the latest complete
// run; empty Variables means every catalog variable.
type Request struct {
	Points    []model.Point
	RunDate   time.Time
	Variables []string
	NumHours  int
}

// Summary reports the outcome of Ingest.
type Summary struct {
	RunDate  time.Time
	RunID    model.RunID
	Records  int
	Unique   int
	Inserted int64
}

type Options struct {
	Catalog *catalog.Catalog
	Layout  hrrr.Layout
	Workers int
	WorkDir string
	// Archive receives a copy of every fetched hour file when set.
	Archive ObjectStorage
	RunID   model.RunID
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Service orchestrates extraction: resolve, fetch, decode, locate, match.
type Service struct {
	source  Source
	runs    RunResolver
	decoder grib.Decoder

	catalog *catalog.Catalog
	layout  hrrr.Layout
	workers int
	workDir string
	archive ObjectStorage
	runID   model.RunID
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewService(source Source, runs RunResolver, decoder grib.Decoder, opts Options) *Service {
	s := &Service{
		source:  source,
		runs:    runs,
		decoder: decoder,
		catalog: opts.Catalog,
		layout:  opts.Layout,
		workers: opts.Workers,
		workDir: opts.WorkDir,
		archive: opts.Archive,
		runID:   opts.RunID,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.layout.Bucket == "" {
		s.layout = hrrr.DefaultLayout()
	}
	if s.workers <= 0 {
		s.workers = DefaultWorkers
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.NewMetricsForTesting()
	}
	if s.runID == "" {
		if id, err := model.NewRunID(); err == nil {
			s.runID = id
		}
	}
	s.logger = s.logger.With("run_id", s.runID.String())
	return s
}

// Run extracts one record per point, matched variable and available hour.
// Records are ordered by hour; they are not deduplicated.
func (s *Service) Run(ctx context.Context, req Request) ([]model.ForecastRecord, error) {
	_, records, err := s.run(ctx, req)
	return records, err
}

// Ingest runs the extraction, deduplicates the batch and merges it into m.
func (s *Service) Ingest(ctx context.Context, req Request, m sink.Merger) (Summary, error) {
	runDate, records, err := s.run(ctx, req)
	if err != nil {
		return Summary{}, err
	}

	unique := sink.Dedupe(records)
	s.logger.InfoContext(ctx, "extraction complete",
		"run_date", runDate.Format("2006-01-02"),
		"records", len(records),
		"unique", len(unique),
	)

	inserted, err := m.Merge(ctx, unique)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Summary{}, ctxErr
		}
		return Summary{}, fmt.Errorf("%w: %w", ErrSink, err)
	}
	s.metrics.RowsInserted.Add(float64(inserted))
	s.metrics.LastSuccess.SetToCurrentTime()

	s.logger.InfoContext(ctx, "ingest complete", "considered", len(unique), "inserted", inserted)
	return Summary{
		RunDate:  runDate,
		RunID:    s.runID,
		Records:  len(records),
		Unique:   len(unique),
		Inserted: inserted,
	}, nil
}

func (s *Service) run(ctx context.Context, req Request) (time.Time, []model.ForecastRecord, error) {
	if req.NumHours < 0 {
		return time.Time{}, nil, fmt.Errorf("num hours must not be negative, got %d", req.NumHours)
	}

	names := req.Variables
	if len(names) == 0 {
		names = s.catalog.IDs()
	}
	specs, err := s.catalog.Resolve(names)
	if err != nil {
		return time.Time{}, nil, err
	}

	runDate, err := s.resolveRunDate(ctx, req.RunDate)
	if err != nil {
		return time.Time{}, nil, err
	}

	s.logger.InfoContext(ctx, "extraction started",
		"run_date", runDate.Format("2006-01-02"),
		"points", len(req.Points),
		"variables", len(specs),
		"hours", req.NumHours,
		"workers", s.workers,
	)

	batches := make([][]model.ForecastRecord, req.NumHours)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for hour := 0; hour < req.NumHours; hour++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records, err := s.processHour(gctx, runDate, hour, specs, req.Points)
			if err != nil {
				return err
			}
			batches[hour] = records
			return nil
		})
	}
	err = g.Wait()
	// A cancelled run surfaces as the context error, not as the failure it
	// interrupted.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return time.Time{}, nil, ctxErr
	}
	if err != nil {
		return time.Time{}, nil, err
	}

	var records []model.ForecastRecord
	for _, batch := range batches {
		records = append(records, batch...)
	}
	return runDate, records, nil
}

func (s *Service) resolveRunDate(ctx context.Context, runDate time.Time) (time.Time, error) {
	if !runDate.IsZero() {
		y, m, d := runDate.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	if s.runs == nil {
		return time.Time{}, fmt.Errorf("%w: no run date given and no resolver configured", hrrr.ErrNoAvailableRun)
	}
	date, err := s.runs.LatestCompleteRun(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return time.Time{}, ctxErr
		}
		if errors.Is(err, hrrr.ErrNoAvailableRun) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("%w: resolve run date: %w", ErrRetrieval, err)
	}
	return date, nil
}

func (s *Service) processHour(ctx context.Context, runDate time.Time, hour int, specs []catalog.Spec, points []model.Point) ([]model.ForecastRecord, error) {
	start := time.Now()
	defer func() { s.metrics.HourDuration.Observe(time.Since(start).Seconds()) }()

	key := s.layout.Key(runDate, hour)
	logger := s.logger.With("hour", hour, "key", key)

	file, ok, err := s.fetch(ctx, runDate, hour, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.WarnContext(ctx, "forecast file missing, skipping hour")
		s.metrics.HoursSkipped.Inc()
		return nil, nil
	}
	defer file.Close()

	msgs := file.Messages()
	s.metrics.MessagesDecoded.Add(float64(len(msgs)))
	if len(msgs) == 0 {
		logger.WarnContext(ctx, "forecast file has no messages, skipping hour")
		s.metrics.HoursSkipped.Inc()
		return nil, nil
	}

	// Every message of a file shares the first message's grid.
	lats, lons, err := msgs[0].LatLons(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read grid: %w", ErrDecode, key, err)
	}
	cells, err := grid.NearestAll(ctx, lats, lons, points)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: locate points: %w", ErrDecode, key, err)
	}

	type column struct {
		spec   catalog.Spec
		valid  time.Time
		values [][]float64
	}
	var columns []column
	for _, sel := range matcher.SelectAll(specs, msgs) {
		s.metrics.MatchCandidates.Observe(float64(sel.Candidates))
		if !sel.Matched() {
			logger.InfoContext(ctx, "no message matched variable", "variable", sel.Spec.ID)
			s.metrics.UnmatchedVariables.WithLabelValues(sel.Spec.ID).Inc()
			continue
		}
		if sel.Candidates > 1 {
			logger.DebugContext(ctx, "variable matched several messages, using the first",
				"variable", sel.Spec.ID,
				"candidates", sel.Candidates,
				"tier", sel.Tier.String(),
				"message", sel.Message.Metadata().Description,
			)
		}
		values, err := sel.Message.Values(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: read %s: %w", ErrDecode, key, sel.Spec.ID, err)
		}
		columns = append(columns, column{spec: sel.Spec, valid: model.StorageTime(sel.Message.ValidTime()), values: values})
	}

	runTime := model.StorageTime(s.layout.RunTime(runDate))
	source := s.layout.Locator(runDate, hour)
	records := make([]model.ForecastRecord, 0, len(points)*len(columns))
	for i := range points {
		c := cells[i]
		lat := model.RoundCoord(lats[c.Row][c.Col])
		lon := model.RoundCoord(lons[c.Row][c.Col])
		for _, col := range columns {
			if c.Row >= len(col.values) || c.Col >= len(col.values[c.Row]) {
				return nil, fmt.Errorf("%w: %s: %s value grid does not cover cell (%d, %d)", ErrDecode, key, col.spec.ID, c.Row, c.Col)
			}
			records = append(records, model.ForecastRecord{
				ValidTimeUTC: col.valid,
				RunTimeUTC:   runTime,
				Lat:          lat,
				Lon:          lon,
				Variable:     col.spec.ID,
				Value:        col.values[c.Row][c.Col],
				Source:       source,
			})
		}
	}

	s.metrics.HoursProcessed.Inc()
	s.metrics.RecordsEmitted.Add(float64(len(records)))
	logger.InfoContext(ctx, "hour processed",
		"messages", len(msgs),
		"variables", len(columns),
		"records", len(records),
		"took", time.Since(start).Round(time.Millisecond).String(),
	)
	return records, nil
}

// hourFile is a decoded hour file backed by a local spool copy.
type hourFile struct {
	grib.File
	spool *os.File
}

func (h *hourFile) Close() error {
	err := h.File.Close()
	_ = h.spool.Close()
	_ = os.Remove(h.spool.Name())
	return err
}

// fetch spools one hour file to disk, optionally archives it and decodes it.
// ok is false when the file is not published.
func (s *Service) fetch(ctx context.Context, runDate time.Time, hour int, archive bool) (*hourFile, bool, error) {
	key := s.layout.Key(runDate, hour)

	exists, err := s.source.Exists(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	if !exists {
		return nil, false, nil
	}

	body, err := s.source.Open(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	spool, err := os.CreateTemp(s.workDir, fmt.Sprintf("hrrr-f%02d-*.%s", hour, s.layout.Extension))
	if err != nil {
		_ = body.Close()
		return nil, false, fmt.Errorf("create spool file: %w", err)
	}
	discard := func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}

	n, err := io.Copy(spool, body)
	_ = body.Close()
	if err != nil {
		discard()
		return nil, false, fmt.Errorf("%w: read %s: %w", ErrRetrieval, key, err)
	}
	s.metrics.BytesFetched.Add(float64(n))
	s.logger.DebugContext(ctx, "forecast file fetched", "hour", hour, "key", key, "size", humanize.IBytes(uint64(n)))

	if archive && s.archive != nil {
		if err := s.archiveSpool(ctx, spool, runDate, hour); err != nil {
			discard()
			return nil, false, err
		}
	}

	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, false, fmt.Errorf("rewind spool file: %w", err)
	}
	file, err := s.decoder.Decode(ctx, spool)
	if err != nil {
		discard()
		return nil, false, fmt.Errorf("%w: %s: %w", ErrDecode, key, err)
	}
	return &hourFile{File: file, spool: spool}, true, nil
}

func (s *Service) archiveSpool(ctx context.Context, spool *os.File, runDate time.Time, hour int) error {
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind spool file: %w", err)
	}
	key := s.layout.ArchiveKey(runDate, hour, s.runID).Key()
	if err := s.archive.Put(ctx, key, spool); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArchive, key, err)
	}
	s.logger.DebugContext(ctx, "forecast file archived", "hour", hour, "archive_key", key)
	return nil
}
