// Package grid finds the nearest cell of a curvilinear lat/lon grid to a
// query point by great-circle distance.
package grid

import (
	"context"
	"errors"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
)

// EarthRadiusKm is the mean earth radius used by Haversine.
const EarthRadiusKm = 6371.0

var (
	ErrEmptyGrid     = errors.New("grid: empty coordinate array")
	ErrShapeMismatch = errors.New("grid: latitude and longitude shapes differ")
)

// Cell is a located grid cell and its distance to the query point.
type Cell struct {
	Row        int
	Col        int
	DistanceKm float64
}

// Haversine returns the great-circle distance in kilometres between two
// points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := phi1 - phi2
	dLambda := (lon1 - lon2) * math.Pi / 180

	a := math.Pow(math.Sin(dPhi/2), 2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dLambda/2), 2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Nearest scans the grid in row-major order and returns the cell closest to
// p. On ties the first cell scanned wins. Cells with non-finite distance are
// never selected.
func Nearest(lats, lons [][]float64, p model.Point) (Cell, error) {
	if err := checkShape(lats, lons); err != nil {
		return Cell{}, err
	}

	best := Cell{Row: -1, Col: -1, DistanceKm: math.Inf(1)}
	for i, row := range lats {
		for j, lat := range row {
			d := Haversine(lat, lons[i][j], p.Lat, p.Lon)
			if d < best.DistanceKm {
				best = Cell{Row: i, Col: j, DistanceKm: d}
			}
		}
	}
	if best.Row < 0 {
		return Cell{}, ErrEmptyGrid
	}
	return best, nil
}

// NearestAll locates every point independently against the same grid.
// Results are in input order.
func NearestAll(ctx context.Context, lats, lons [][]float64, points []model.Point) ([]Cell, error) {
	if err := checkShape(lats, lons); err != nil {
		return nil, err
	}

	cells := make([]Cell, len(points))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, p := range points {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cell, err := Nearest(lats, lons, p)
			if err != nil {
				return err
			}
			cells[i] = cell
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cells, nil
}

func checkShape(lats, lons [][]float64) error {
	if len(lats) == 0 || len(lons) == 0 || len(lats[0]) == 0 || len(lons[0]) == 0 {
		return ErrEmptyGrid
	}
	if len(lats) != len(lons) {
		return ErrShapeMismatch
	}
	for i := range lats {
		if len(lats[i]) != len(lons[i]) {
			return ErrShapeMismatch
		}
	}
	return nil
}
