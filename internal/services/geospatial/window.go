package geospatial

import "math"

// Window is a 3x3 elevation sample. Index i steps along x, j along y; the
// fix sits at [1][1].
type Window [3][3]float64

// SampleWindow reads elevations at the fix and its eight neighbours one
// cell apart. A failed lookup reuses the sample from the previous row
// (same j), or 0 on the first row. It returns the number of failed lookups.
func SampleWindow(src ElevationSource, x, y float64) (Window, int) {
	var w Window
	if src == nil {
		return w, 9
	}

	cell := src.CellSize()
	misses := 0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v, err := src.Elevation(x+float64(i-1)*cell, y+float64(j-1)*cell)
			if err != nil {
				misses++
				if i > 0 {
					v = w[i-1][j]
				} else {
					v = 0
				}
			}
			w[i][j] = v
		}
	}
	return w, misses
}

// Center returns the elevation at the fix
func (w Window) Center() float64 {
	return w[1][1]
}

// Slope returns the mean slope in degrees over the window. Gradients use
// central differences inside and one-sided differences on the edges, with
// spacing in metres.
func (w Window) Slope(spacing float64) float64 {
	if spacing <= 0 {
		return 0
	}

	var di, dj Window
	for j := 0; j < 3; j++ {
		di[0][j], di[1][j], di[2][j] = gradient3(w[0][j], w[1][j], w[2][j], spacing)
	}
	for i := 0; i < 3; i++ {
		dj[i][0], dj[i][1], dj[i][2] = gradient3(w[i][0], w[i][1], w[i][2], spacing)
	}

	sum := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sum += math.Atan(math.Hypot(di[i][j], dj[i][j])) * 180 / math.Pi
		}
	}
	return sum / 9
}

func gradient3(a, b, c, h float64) (float64, float64, float64) {
	return (b - a) / h, (c - a) / (2 * h), (c - b) / h
}
