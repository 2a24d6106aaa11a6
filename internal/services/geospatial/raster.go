package geospatial

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

var (
	ErrOutOfBounds = errors.New("coordinate outside raster extent")
	ErrNoData      = errors.New("raster cell has no data")
)

// ElevationSource answers point elevation queries in its own CRS
type ElevationSource interface {
	Elevation(x, y float64) (float64, error)
	// CellSize is the sampling step in CRS units
	CellSize() float64
}

// Grid is an in-memory ESRI ASCII grid. Rows are stored top to bottom.
type Grid struct {
	cols, rows int
	xll, yll   float64 // lower-left corner of the lower-left cell
	cell       float64
	noData     float64
	hasNoData  bool
	values     []float64
}

// LoadGrid reads an ESRI ASCII grid (.asc) file
func LoadGrid(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raster %s: %w", path, err)
	}
	defer f.Close()

	g, err := ParseGrid(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse raster %s: %w", path, err)
	}
	return g, nil
}

// ParseGrid parses ESRI ASCII grid content
func ParseGrid(r io.Reader) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var pending string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			pending = tok
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("header %s has no value", tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", tok, err)
		}
		header[key] = v
	}

	g := &Grid{
		cols: int(header["ncols"]),
		rows: int(header["nrows"]),
		cell: header["cellsize"],
	}
	if g.cols <= 0 || g.rows <= 0 || g.cell <= 0 {
		return nil, errors.New("ncols, nrows and cellsize must be positive")
	}

	if v, ok := header["xllcorner"]; ok {
		g.xll = v
	} else if v, ok := header["xllcenter"]; ok {
		g.xll = v - g.cell/2
	} else {
		return nil, errors.New("missing xllcorner/xllcenter")
	}
	if v, ok := header["yllcorner"]; ok {
		g.yll = v
	} else if v, ok := header["yllcenter"]; ok {
		g.yll = v - g.cell/2
	} else {
		return nil, errors.New("missing yllcorner/yllcenter")
	}
	if v, ok := header["nodata_value"]; ok {
		g.noData, g.hasNoData = v, true
	}

	g.values = make([]float64, 0, g.cols*g.rows)
	if pending != "" {
		v, _ := strconv.ParseFloat(pending, 64)
		g.values = append(g.values, v)
	}
	for sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", len(g.values), err)
		}
		g.values = append(g.values, v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(g.values) != g.cols*g.rows {
		return nil, fmt.Errorf("expected %d cells, found %d", g.cols*g.rows, len(g.values))
	}
	return g, nil
}

func (g *Grid) CellSize() float64 { return g.cell }

// Elevation returns the value of the cell containing (x, y)
func (g *Grid) Elevation(x, y float64) (float64, error) {
	col := int(math.Floor((x - g.xll) / g.cell))
	rowFromBottom := int(math.Floor((y - g.yll) / g.cell))
	if col < 0 || col >= g.cols || rowFromBottom < 0 || rowFromBottom >= g.rows {
		return 0, ErrOutOfBounds
	}

	v := g.values[(g.rows-1-rowFromBottom)*g.cols+col]
	if g.hasNoData && v == g.noData {
		return 0, ErrNoData
	}
	return v, nil
}

// Projector maps WGS84 longitude/latitude into a raster CRS
type Projector func(lon, lat float64) (x, y float64)

// NewProjector returns a WGS84 to EPSG:epsg projector. 4326 and 0 are the
// identity.
func NewProjector(epsg int) (Projector, error) {
	if epsg == 0 || epsg == 4326 {
		return func(lon, lat float64) (float64, float64) { return lon, lat }, nil
	}

	f := wgs84.EPSG().Transform(4326, epsg)
	if !probe(f) {
		return nil, fmt.Errorf("unsupported raster CRS EPSG:%d", epsg)
	}
	return func(lon, lat float64) (float64, float64) {
		x, y, _ := f(lon, lat, 0)
		return x, y
	}, nil
}

// probe checks that f yields finite output for a sample point
func probe(f wgs84.Func) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if f == nil {
		return false
	}
	x, y, _ := f(10, 10, 0)
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsInf(x, 0) && !math.IsInf(y, 0)
}

// MetersPerUnit approximates the ground distance of one CRS unit
func MetersPerUnit(epsg int) float64 {
	if epsg == 0 || epsg == 4326 {
		return 111320
	}
	return 1
}
