// Package hrrr knows where HRRR forecast files live and which run to use.
package hrrr

import (
	"fmt"
	"time"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
)

// Layout describes the object layout of one model product in a bucket:
//
//	{bucket}/{model}.{YYYYMMDD}/{domain}/{model}.t{init}z.{product}f{HH}.{ext}
type Layout struct {
	Bucket    string
	Model     string
	Domain    string
	Product   string
	Extension string
	InitHour  int // fixed daily initialization hour (UTC)
	MaxHour   int // last forecast hour of a complete run
}

// DefaultLayout is the 06z CONUS surface product in the NOAA open data bucket.
func DefaultLayout() Layout {
	return Layout{
		Bucket:    "noaa-hrrr-bdp-pds",
		Model:     "hrrr",
		Domain:    "conus",
		Product:   "wrfsfc",
		Extension: "grib2",
		InitHour:  6,
		MaxHour:   48,
	}
}

// Key returns the object key of a forecast hour within the bucket.
func (l Layout) Key(runDate time.Time, hour int) string {
	return fmt.Sprintf("%s.%s/%s/%s.t%02dz.%sf%02d.%s",
		l.Model, runDate.Format("20060102"), l.Domain,
		l.Model, l.InitHour, l.Product, hour, l.Extension)
}

// Locator returns the provenance string recorded with every extracted row.
func (l Layout) Locator(runDate time.Time, hour int) string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key(runDate, hour))
}

// RunTime returns the initialization time of the run on runDate.
func (l Layout) RunTime(runDate time.Time) time.Time {
	y, m, d := runDate.Date()
	return time.Date(y, m, d, l.InitHour, 0, 0, 0, time.UTC)
}

// ObjectKey addresses a raw forecast file archived by one ingest run.
type ObjectKey struct {
	Source    string
	Model     string
	Date      string // in YYYY-MM-DD format
	Hour      int
	RunID     model.RunID
	Extension string
}

func (k ObjectKey) Key() string {
	return fmt.Sprintf("%s/%s/%s/%s/f%02d.%s", k.Source, k.Model, k.Date, k.RunID, k.Hour, k.Extension)
}

// ArchiveKey builds the archive key for a forecast hour of runDate.
func (l Layout) ArchiveKey(runDate time.Time, hour int, runID model.RunID) ObjectKey {
	return ObjectKey{
		Source:    l.Bucket,
		Model:     l.Model,
		Date:      runDate.Format("2006-01-02"),
		Hour:      hour,
		RunID:     runID,
		Extension: l.Extension,
	}
}
