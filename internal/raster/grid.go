package raster

import (
	"image"
	"image/color"

	"github.com/gogpu/binview/internal/bufpool"
)

// bytesPerPixel is the storage size of one grid cell (RGBA).
const bytesPerPixel = 4

// Grid is a finished width x height pixel grid.
//
// Storage is one pooled RGBA byte row per image row, so each rasterize task
// rents and writes only the rows it owns. Grid implements image.Image and is
// read-only once Rasterize returns it. Release returns the rows to the pool.
type Grid struct {
	width  int
	height int
	rows   [][]uint8
	pool   *bufpool.Pool[uint8]
}

// newGrid creates a grid with no rows rented yet.
func newGrid(width, height int, pool *bufpool.Pool[uint8]) *Grid {
	return &Grid{
		width:  width,
		height: height,
		rows:   make([][]uint8, height),
		pool:   pool,
	}
}

// Width returns the width of the grid.
func (g *Grid) Width() int {
	return g.width
}

// Height returns the height of the grid.
func (g *Grid) Height() int {
	return g.height
}

// rentRow rents and returns storage for row y.
func (g *Grid) rentRow(y int) []uint8 {
	row := g.pool.Rent(g.width * bytesPerPixel)
	g.rows[y] = row
	return row
}

// NRGBAAt returns the color at (x, y). Cells outside the grid, or in rows
// that were never built, are transparent.
func (g *Grid) NRGBAAt(x, y int) color.NRGBA {
	if x < 0 || x >= g.width || y < 0 || y >= g.height {
		return color.NRGBA{}
	}
	row := g.rows[y]
	if row == nil {
		return color.NRGBA{}
	}
	i := x * bytesPerPixel
	return color.NRGBA{R: row[i+0], G: row[i+1], B: row[i+2], A: row[i+3]}
}

// Row returns the raw RGBA bytes of row y, or nil.
func (g *Grid) Row(y int) []uint8 {
	if y < 0 || y >= g.height {
		return nil
	}
	return g.rows[y]
}

// At implements the image.Image interface.
func (g *Grid) At(x, y int) color.Color {
	return g.NRGBAAt(x, y)
}

// Bounds implements the image.Image interface.
func (g *Grid) Bounds() image.Rectangle {
	return image.Rect(0, 0, g.width, g.height)
}

// ColorModel implements the image.Image interface.
func (g *Grid) ColorModel() color.Model {
	return color.NRGBAModel
}

// Opaque reports whether every cell has full alpha. Encoders such as
// image/png use it to pick a smaller color type.
func (g *Grid) Opaque() bool {
	for _, row := range g.rows {
		if row == nil {
			return false
		}
		for i := 3; i < len(row); i += bytesPerPixel {
			if row[i] != 0xff {
				return false
			}
		}
	}
	return true
}

// Release returns every rented row to the pool. It is safe to call more
// than once; the grid is empty afterwards.
func (g *Grid) Release() {
	if g == nil {
		return
	}
	for y, row := range g.rows {
		if row != nil {
			g.pool.Return(row)
			g.rows[y] = nil
		}
	}
}
