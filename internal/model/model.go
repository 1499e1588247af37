package model

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Point is a query location in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// ForecastRecord is one sampled value of one variable at one snapped grid
// cell for one valid time of one run.
type ForecastRecord struct {
	ValidTimeUTC time.Time
	RunTimeUTC   time.Time
	Lat          float64 // grid cell latitude, rounded to 1e-6 degrees
	Lon          float64 // grid cell longitude, rounded to 1e-6 degrees
	Variable     string
	Value        float64
	Source       string // locator of the originating file
}

// StorageKey is the uniqueness constraint of a ForecastRecord.
// Times are kept as UTC unix seconds, the precision every sink stores.
type StorageKey struct {
	ValidTime int64
	RunTime   int64
	Lat       float64
	Lon       float64
	Variable  string
	Source    string
}

// Key returns the storage key of the record.
func (r ForecastRecord) Key() StorageKey {
	return StorageKey{
		ValidTime: StorageTime(r.ValidTimeUTC).Unix(),
		RunTime:   StorageTime(r.RunTimeUTC).Unix(),
		Lat:       r.Lat,
		Lon:       r.Lon,
		Variable:  r.Variable,
		Source:    r.Source,
	}
}

// StorageTime converts t to UTC truncated to whole seconds.
func StorageTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// RoundCoord rounds a coordinate to 1e-6 degrees.
func RoundCoord(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// RunID represents a UUIDv7 identifier of one ingest invocation.
type RunID string

// NewRunID generates a fresh UUIDv7 run identifier.
func NewRunID() (RunID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run-id: %w", err)
	}
	return RunID(id.String()), nil
}

// Validate checks that the RunID is a valid UUIDv7.
func (r RunID) Validate() error {
	if r == "" {
		return fmt.Errorf("run-id cannot be empty")
	}
	id, err := uuid.Parse(string(r))
	if err != nil {
		return fmt.Errorf("run-id must be a valid UUID: %w", err)
	}
	if id.Version() != uuid.Version(7) {
		return fmt.Errorf("run-id must be a UUIDv7, got v%d", id.Version())
	}
	return nil
}

// String returns the run ID as a string.
func (r RunID) String() string {
	return string(r)
}
