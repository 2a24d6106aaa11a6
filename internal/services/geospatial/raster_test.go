package geospatial

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGrid = `ncols 3
nrows 2
xllcorner 0
yllcorner 0
cellsize 10
NODATA_value -9999
1 2 3
4 -9999 6
`

func TestParseGridLookup(t *testing.T) {
	g, err := ParseGrid(strings.NewReader(sampleGrid))
	require.NoError(t, err)
	assert.Equal(t, 10.0, g.CellSize())

	v, err := g.Elevation(5, 15)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = g.Elevation(25, 5)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	_, err = g.Elevation(15, 5)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = g.Elevation(35, 5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	_, err = g.Elevation(-0.5, 5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
}

func TestParseGridCenterOrigin(t *testing.T) {
	src := "ncols 2\nnrows 1\nxllcenter 5\nyllcenter 5\ncellsize 10\n7 8\n"
	g, err := ParseGrid(strings.NewReader(src))
	require.NoError(t, err)

	v, err := g.Elevation(0.1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestParseGridRejectsBadInput(t *testing.T) {
	_, err := ParseGrid(strings.NewReader("ncols 2\nnrows 2\nxllcorner 0\nyllcorner 0\ncellsize 1\n1 2 3\n"))
	assert.Error(t, err, "cell count mismatch")

	_, err = ParseGrid(strings.NewReader("ncols 2\nnrows 1\ncellsize 1\n1 2\n"))
	assert.Error(t, err, "missing origin")

	_, err = ParseGrid(strings.NewReader("ncols 0\nnrows 1\nxllcorner 0\nyllcorner 0\ncellsize 1\n"))
	assert.Error(t, err)
}

func TestLoadGrid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, os.WriteFile(path, []byte(sampleGrid), 0o644))

	g, err := LoadGrid(path)
	require.NoError(t, err)
	v, err := g.Elevation(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)

	_, err = LoadGrid(filepath.Join(t.TempDir(), "missing.asc"))
	assert.Error(t, err)
}

func TestProjector(t *testing.T) {
	identity, err := NewProjector(4326)
	require.NoError(t, err)
	x, y := identity(11.5, 48.1)
	assert.Equal(t, 11.5, x)
	assert.Equal(t, 48.1, y)

	mercator, err := NewProjector(3857)
	require.NoError(t, err)
	x, y = mercator(10, 0)
	assert.InDelta(t, 1113194.9, x, 1)
	assert.InDelta(t, 0, y, 1)

	assert.Equal(t, 111320.0, MetersPerUnit(4326))
	assert.Equal(t, 1.0, MetersPerUnit(3857))
}
