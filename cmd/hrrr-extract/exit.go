package main

import (
	"context"
	"errors"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/catalog"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/exitcode"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/extraction"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/hrrr"
)

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var (
		usage   usageError
		unknown *catalog.ErrUnknownVariables
	)
	switch {
	case err == nil:
		return exitcode.Success
	case errors.Is(err, context.Canceled):
		return exitcode.Interrupted
	case errors.As(err, &usage), errors.As(err, &unknown):
		return exitcode.ConfigError
	case errors.Is(err, hrrr.ErrNoAvailableRun):
		return exitcode.NoRunAvailable
	case errors.Is(err, extraction.ErrDecode):
		return exitcode.DataError
	case errors.Is(err, extraction.ErrSink), errors.Is(err, extraction.ErrArchive):
		return exitcode.StorageError
	case errors.Is(err, extraction.ErrRetrieval):
		return exitcode.NetworkError
	default:
		return exitcode.ConfigError
	}
}
