package grib

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Wgrib2 decodes GRIB2 files with the wgrib2 command line tool. Metadata is
// read eagerly from the inventory; grids are dumped lazily per message.
type Wgrib2 struct {
	Path    string // wgrib2 binary, "wgrib2" when empty
	WorkDir string // parent of per-file temp dirs, os.TempDir() when empty
}

// Decode reads r into a temp dir unless it already is a file on disk, then
// inventories it. Close the returned File to remove the temp dir.
func (w *Wgrib2) Decode(ctx context.Context, r io.Reader) (File, error) {
	dir, err := os.MkdirTemp(w.WorkDir, "wgrib2-*")
	if err != nil {
		return nil, fmt.Errorf("create decode dir: %w", err)
	}

	f := &wgrib2File{bin: w.Path, dir: dir}
	if f.bin == "" {
		f.bin = "wgrib2"
	}

	if osf, ok := r.(*os.File); ok {
		f.path = osf.Name()
	} else {
		f.path = filepath.Join(dir, "input.grib2")
		if err := spool(f.path, r); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	out, err := f.run(ctx, f.path, "-v", "-s", "-vt")
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	inv, err := parseInventory(bytes.NewReader(out))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	for _, line := range inv {
		typeOfLevel, level := parseLevel(line.level)
		f.messages = append(f.messages, &wgrib2Message{
			file: f,
			num:  line.num,
			meta: Metadata{
				ShortName:   line.shortName,
				TypeOfLevel: typeOfLevel,
				Level:       level,
				Description: describe(line, typeOfLevel, level),
			},
			valid: line.validTime,
		})
	}
	return f, nil
}

func spool(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("spool grib: %w", err)
	}
	return out.Close()
}

type wgrib2File struct {
	bin      string
	dir      string
	path     string
	messages []Message

	mu         sync.Mutex
	lats, lons [][]float64
}

func (f *wgrib2File) Messages() []Message { return f.messages }

func (f *wgrib2File) Close() error {
	return os.RemoveAll(f.dir)
}

func (f *wgrib2File) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.bin, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wgrib2 %s: %w: %s", strings.Join(args[1:], " "), err, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("wgrib2 %s: %w", strings.Join(args[1:], " "), err)
	}
	return out, nil
}

func (f *wgrib2File) dump(ctx context.Context, num string, extra ...string) ([][]float64, error) {
	out := filepath.Join(f.dir, "msg-"+strings.ReplaceAll(num, ".", "_")+".txt")
	defer os.Remove(out)

	args := append([]string{f.path, "-d", num}, extra...)
	args = append(args, "-text", out)
	if _, err := f.run(ctx, args...); err != nil {
		return nil, err
	}
	return readTextGrid(out)
}

func (f *wgrib2File) latLons(ctx context.Context) ([][]float64, [][]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lats != nil {
		return f.lats, f.lons, nil
	}
	if len(f.messages) == 0 {
		return nil, nil, errors.New("wgrib2: file has no messages")
	}
	num := f.messages[0].(*wgrib2Message).num

	lats, err := f.dump(ctx, num, "-rpn", "rcl_lat")
	if err != nil {
		return nil, nil, fmt.Errorf("dump latitudes: %w", err)
	}
	lons, err := f.dump(ctx, num, "-rpn", "rcl_lon")
	if err != nil {
		return nil, nil, fmt.Errorf("dump longitudes: %w", err)
	}
	for _, row := range lons {
		for j, lon := range row {
			row[j] = normalizeLon(lon)
		}
	}
	f.lats, f.lons = lats, lons
	return lats, lons, nil
}

type wgrib2Message struct {
	file  *wgrib2File
	num   string
	meta  Metadata
	valid time.Time
}

func (m *wgrib2Message) Metadata() Metadata   { return m.meta }
func (m *wgrib2Message) ValidTime() time.Time { return m.valid }

func (m *wgrib2Message) Values(ctx context.Context) ([][]float64, error) {
	return m.file.dump(ctx, m.num)
}

func (m *wgrib2Message) LatLons(ctx context.Context) ([][]float64, [][]float64, error) {
	return m.file.latLons(ctx)
}

// normalizeLon maps a longitude into [-180, 180).
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

type inventoryLine struct {
	num       string
	shortName string
	name      string // long name and unit, e.g. "Temperature [K]"
	level     string
	forecast  string
	validTime time.Time
}

// describe renders the message in the ecCodes style used by GRIB tooling,
// e.g. "71:TMP:Temperature [K]:heightAboveGround:level 2:1 hour fcst". The
// raw wgrib2 level text is kept only when it could not be mapped.
func describe(line inventoryLine, typeOfLevel string, level *int) string {
	lev := line.level
	if typeOfLevel != "" && level != nil {
		lev = fmt.Sprintf("%s:level %d", typeOfLevel, *level)
	}
	parts := []string{line.num, line.shortName}
	if line.name != "" {
		parts = append(parts, line.name)
	}
	return strings.Join(append(parts, lev, line.forecast), ":")
}

// parseInventory reads `wgrib2 -v -s -vt` output, e.g.
//
//	1:0:d=2024010106:TMP Temperature [K]:2 m above ground:1 hour fcst::vt=2024010107
//
// The long name after the short name is optional.
func parseInventory(r io.Reader) ([]inventoryLine, error) {
	var lines []inventoryLine
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, ":")
		if len(fields) < 6 {
			return nil, fmt.Errorf("malformed inventory line %q", text)
		}

		shortName, name, _ := strings.Cut(strings.TrimSpace(fields[3]), " ")
		line := inventoryLine{
			num:       fields[0],
			shortName: shortName,
			name:      strings.TrimSpace(name),
			level:     fields[4],
			forecast:  fields[5],
		}

		var ref time.Time
		for _, field := range fields[2:] {
			switch {
			case strings.HasPrefix(field, "vt="):
				t, err := parseInventoryTime(strings.TrimPrefix(field, "vt="))
				if err != nil {
					return nil, fmt.Errorf("inventory line %s: %w", line.num, err)
				}
				line.validTime = t
			case strings.HasPrefix(field, "d="):
				t, err := parseInventoryTime(strings.TrimPrefix(field, "d="))
				if err != nil {
					return nil, fmt.Errorf("inventory line %s: %w", line.num, err)
				}
				ref = t
			}
		}
		if line.validTime.IsZero() {
			line.validTime = ref
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	return lines, nil
}

func parseInventoryTime(s string) (time.Time, error) {
	layout := "2006010215"
	if len(s) == len("20060102150405") {
		layout = "20060102150405"
	}
	return time.ParseInLocation(layout, s, time.UTC)
}

func readTextGrid(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTextGrid(f)
}

// undefinedValue marks missing grid points in wgrib2 dumps.
const undefinedValue = 9.999e20

// parseTextGrid reads a `wgrib2 -text` dump: a "nx ny" header followed by
// nx*ny values with x varying fastest. Rows of the result run along y.
// Undefined points become NaN.
func parseTextGrid(r io.Reader) ([][]float64, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("text grid: missing header")
	}
	var nx, ny int
	if _, err := fmt.Sscanf(sc.Text(), "%d %d", &nx, &ny); err != nil {
		return nil, fmt.Errorf("text grid header %q: %w", sc.Text(), err)
	}
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("text grid: invalid shape %dx%d", nx, ny)
	}

	data := make([]float64, 0, nx*ny)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("text grid value %q: %w", text, err)
		}
		if v == undefinedValue {
			v = math.NaN()
		}
		data = append(data, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(data) != nx*ny {
		return nil, fmt.Errorf("text grid: expected %d values, got %d", nx*ny, len(data))
	}

	rows := make([][]float64, ny)
	for y := range rows {
		rows[y] = data[y*nx : (y+1)*nx : (y+1)*nx]
	}
	return rows, nil
}
