// Package raster turns rows of pixel triples into a finished pixel grid.
//
// The transform is split into contiguous row bands, one band per task, run
// on a WorkerPool of bounded size. Bands write disjoint grid rows, so the
// only shared state between tasks is the concurrency-safe buffer pool.
// The serial and parallel paths produce identical grids.
package raster

import (
	"context"
	"image/color"
	"log/slog"
	"time"

	"github.com/gogpu/binview/internal/bufpool"
	"github.com/gogpu/binview/internal/rowread"
)

// Options configures a Rasterize call.
type Options struct {
	// MaxConcurrency caps the number of concurrently running bands.
	// Zero or negative selects DefaultConcurrency.
	MaxConcurrency int

	// Serial runs the transform on the calling goroutine.
	Serial bool

	// ReleaseRows returns each source row to its pool as soon as the
	// matching grid row is built.
	ReleaseRows bool

	// Pool supplies grid row storage. Nil creates a private pool.
	Pool *bufpool.Pool[uint8]

	// Logger receives debug diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Band is a half-open range of rows [Start, End).
type Band struct {
	Start, End int
}

// Bands splits height rows into at most n contiguous bands of near equal
// size. It returns nil when height is not positive.
func Bands(height, n int) []Band {
	if height <= 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if n > height {
		n = height
	}

	bands := make([]Band, 0, n)
	size := height / n
	extra := height % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		bands = append(bands, Band{Start: start, End: end})
		start = end
	}
	return bands
}

// Rasterize builds a width x height grid from rows.
//
// A cell takes the color of its populated triple; an unpopulated triple or a
// missing row yields background. Cancellation is checked at each row
// boundary; when ctx is cancelled the partial grid is released and
// ctx.Err() is returned. The caller keeps ownership of rows and must release
// whatever ReleaseRows did not.
func Rasterize(ctx context.Context, rows rowread.Rows, width, height int, background color.NRGBA, opts Options) (*Grid, error) {
	pool := opts.Pool
	if pool == nil {
		pool = bufpool.New[uint8](0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	grid := newGrid(width, height, pool)
	if width <= 0 || height <= 0 {
		return grid, nil
	}

	bg := [bytesPerPixel]uint8{background.R, background.G, background.B, background.A}

	buildBand := func(b Band) {
		started := time.Now()
		for y := b.Start; y < b.End; y++ {
			if ctx.Err() != nil {
				return
			}
			buildRow(grid.rentRow(y), rows.At(y), bg)
			if opts.ReleaseRows {
				rows.ReleaseRow(y)
			}
		}
		logger.Debug("band rasterized",
			"start", b.Start, "end", b.End, "elapsed", time.Since(started))
	}

	if opts.Serial {
		buildBand(Band{Start: 0, End: height})
	} else {
		workers := opts.MaxConcurrency
		if workers <= 0 {
			workers = DefaultConcurrency()
		}
		bands := Bands(height, workers)
		if workers > len(bands) {
			workers = len(bands)
		}

		wp := NewWorkerPool(workers)
		work := make([]func(), len(bands))
		for i, b := range bands {
			work[i] = func() { buildBand(b) }
		}
		wp.ExecuteAll(work)
		wp.Close()
	}

	if err := ctx.Err(); err != nil {
		grid.Release()
		return nil, err
	}
	return grid, nil
}

// buildRow writes one grid row. A nil src row is entirely background.
func buildRow(dst []uint8, src rowread.Row, bg [bytesPerPixel]uint8) {
	for x := 0; x*bytesPerPixel < len(dst); x++ {
		i := x * bytesPerPixel
		if x < len(src) && src[x].Set {
			t := src[x]
			dst[i+0] = t.R
			dst[i+1] = t.G
			dst[i+2] = t.B
			dst[i+3] = 0xff
			continue
		}
		dst[i+0] = bg[0]
		dst[i+1] = bg[1]
		dst[i+2] = bg[2]
		dst[i+3] = bg[3]
	}
}
