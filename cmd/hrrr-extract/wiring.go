package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/extraction"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/grib"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/hrrr"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/observability"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink/chsink"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/sink/sqlsink"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/storage"
)

func (c *commandContext) layout() hrrr.Layout {
	l := hrrr.DefaultLayout()
	l.Bucket = c.cfg.HRRR.Bucket
	l.Domain = c.cfg.HRRR.Domain
	l.Product = c.cfg.HRRR.Product
	l.InitHour = c.cfg.HRRR.InitHour
	l.MaxHour = c.cfg.HRRR.MaxHour
	return l
}

type serviceOptions struct {
	runID   model.RunID
	workers int
	metrics *observability.Metrics
	archive bool
}

func (c *commandContext) newService(ctx context.Context, opts serviceOptions) (*extraction.Service, error) {
	layout := c.layout()

	source, err := storage.NewMinIOClient(storage.MinIOConfig{
		Endpoint:  c.cfg.Source.Endpoint,
		Region:    c.cfg.Source.Region,
		AccessKey: c.cfg.Source.AccessKey,
		SecretKey: c.cfg.Source.SecretKey,
		Bucket:    layout.Bucket,
		UseSSL:    c.cfg.Source.UseSSL,
	})
	if err != nil {
		return nil, usageError{err}
	}

	var archive extraction.ObjectStorage
	if opts.archive && c.cfg.Archive.Enabled() {
		a, err := storage.NewMinIOArchive(ctx, storage.MinIOConfig{
			Endpoint:  c.cfg.Archive.Endpoint,
			AccessKey: c.cfg.Archive.AccessKey,
			SecretKey: c.cfg.Archive.SecretKey,
			Bucket:    c.cfg.Archive.Bucket,
			UseSSL:    c.cfg.Archive.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", extraction.ErrArchive, err)
		}
		archive = a
	}

	workers := c.cfg.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}

	runs := hrrr.NewRunFinder(source, layout, clockwork.NewRealClock(), c.cfg.HRRR.RunSearchDays, c.logger)
	decoder := &grib.Wgrib2{Path: c.cfg.Wgrib2Path, WorkDir: c.cfg.WorkDir}

	return extraction.NewService(source, runs, decoder, extraction.Options{
		Layout:  layout,
		Workers: workers,
		WorkDir: c.cfg.WorkDir,
		Archive: archive,
		RunID:   opts.runID,
		Logger:  c.logger,
		Metrics: opts.metrics,
	}), nil
}

type mergeCloser interface {
	sink.Merger
	Close() error
}

// openSink connects the configured table and makes sure its schema exists.
func (c *commandContext) openSink(ctx context.Context) (mergeCloser, error) {
	switch c.cfg.Sink.Driver {
	case "clickhouse":
		store, err := chsink.NewStore(ctx, chsink.Config{
			Host:     c.cfg.ClickHouse.Host,
			Port:     c.cfg.ClickHouse.Port,
			User:     c.cfg.ClickHouse.User,
			Password: c.cfg.ClickHouse.Password,
			Database: c.cfg.ClickHouse.Database,
		}, c.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", extraction.ErrSink, err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%w: %w", extraction.ErrSink, err)
		}
		return store, nil
	default:
		store, err := sqlsink.Open(ctx, c.cfg.Sink.Driver, c.cfg.Sink.DSN, c.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", extraction.ErrSink, err)
		}
		return store, nil
	}
}
