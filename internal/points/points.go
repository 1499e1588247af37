// Package points reads query locations from a "lat,lon" text file.
package points

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/model"
)

const bom = "\ufeff"

// ReadFile reads points from path. Only failing to open or read the file is
// an error; malformed lines are skipped.
func ReadFile(path string) ([]model.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open points file: %w", err)
	}
	defer f.Close()

	pts, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read points file %s: %w", path, err)
	}
	return pts, nil
}

// Read parses one "latitude,longitude" pair per line, in input order.
// Blank lines, '#' comments, byte-order marks and lines that are not exactly
// two finite numbers are ignored.
func Read(r io.Reader) ([]model.Point, error) {
	var pts []model.Point
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(strings.ReplaceAll(sc.Text(), bom, ""))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, ok := parseLine(line)
		if !ok {
			continue
		}
		pts = append(pts, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pts, nil
}

func parseLine(line string) (model.Point, bool) {
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return model.Point{}, false
	}
	lat, ok := parseCoord(parts[0])
	if !ok {
		return model.Point{}, false
	}
	lon, ok := parseCoord(parts[1])
	if !ok {
		return model.Point{}, false
	}
	return model.Point{Lat: lat, Lon: lon}, true
}

func parseCoord(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
