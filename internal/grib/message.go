// Package grib exposes decoded GRIB2 messages as a read-only view and
// provides decoders that turn a raw forecast file into such messages.
package grib

import (
	"context"
	"io"
	"time"
)

// Metadata is the descriptive part of a message used for matching.
// TypeOfLevel is empty and Level is nil when the decoder could not
// determine them.
type Metadata struct {
	ShortName   string
	TypeOfLevel string
	Level       *int
	Description string
}

// Message is one decoded field of a forecast file. It is only valid until
// the owning File is closed.
type Message interface {
	Metadata() Metadata
	ValidTime() time.Time
	// Values returns the field as rows of the grid.
	Values(ctx context.Context) ([][]float64, error)
	// LatLons returns the coordinate grids shared by every message of the file.
	LatLons(ctx context.Context) (lats, lons [][]float64, err error)
}

// File is a decoded forecast file. Close releases everything acquired while
// decoding it.
type File interface {
	Messages() []Message
	Close() error
}

// Decoder turns a raw forecast file into messages.
type Decoder interface {
	Decode(ctx context.Context, r io.Reader) (File, error)
}

// IntPtr is a helper for building optional levels.
func IntPtr(v int) *int { return &v }

// Record is an in-memory Message.
type Record struct {
	Meta  Metadata
	Valid time.Time
	Data  [][]float64
	Lats  [][]float64
	Lons  [][]float64
}

func (r *Record) Metadata() Metadata   { return r.Meta }
func (r *Record) ValidTime() time.Time { return r.Valid }

func (r *Record) Values(context.Context) ([][]float64, error) {
	return r.Data, nil
}

func (r *Record) LatLons(context.Context) ([][]float64, [][]float64, error) {
	return r.Lats, r.Lons, nil
}

// MemoryFile is a File backed by in-memory records.
type MemoryFile struct {
	Records []*Record
	closed  bool
}

func (f *MemoryFile) Messages() []Message {
	msgs := make([]Message, len(f.Records))
	for i, r := range f.Records {
		msgs[i] = r
	}
	return msgs
}

func (f *MemoryFile) Close() error {
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *MemoryFile) Closed() bool { return f.closed }
