// Package rowread decodes a byte stream into pooled rows of pixel triples.
//
// Bytes are consumed in groups of three (R, G, B). Each group fills one
// column of the current row; a new row is rented from the pool the moment the
// column index wraps to zero. A short final group of one or two bytes still
// produces one populated triple with the missing channels set to zero.
package rowread

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/binview/internal/bufpool"
)

// BytesPerPixel is the number of source bytes mapped to one pixel.
const BytesPerPixel = 3

// readBufferSize is the bufio buffer used in front of the input stream.
const readBufferSize = 64 * 1024

// Triple is the record of up to three source bytes for one pixel slot.
// Set is false when no source bytes reached the slot.
type Triple struct {
	Set     bool
	R, G, B byte
}

// Row is one output row of triples. Its length is the image width.
type Row []Triple

// Stats describes what a Read consumed.
type Stats struct {
	// BytesRead is the number of input bytes recorded into triples.
	BytesRead int64
	// Pixels is the number of populated triples.
	Pixels int64
	// Rows is the number of rows started.
	Rows int
	// Truncated reports that input remained after width*height groups.
	Truncated bool
}

// Rows is an index-addressed arena of rows rented from a pool.
//
// A nil slot means the row was never started. Rows is moved by value from
// the reader to the rasterizer; whoever holds it last calls Release.
type Rows struct {
	slots []Row
	pool  *bufpool.Pool[Triple]
}

// NewRows creates an empty arena of height slots backed by pool.
func NewRows(height int, pool *bufpool.Pool[Triple]) Rows {
	return Rows{slots: make([]Row, height), pool: pool}
}

// Height returns the number of slots.
func (r Rows) Height() int {
	return len(r.slots)
}

// At returns row y, or nil if it was never started.
func (r Rows) At(y int) Row {
	if y < 0 || y >= len(r.slots) {
		return nil
	}
	return r.slots[y]
}

// Started returns the number of non-nil rows.
func (r Rows) Started() int {
	n := 0
	for _, row := range r.slots {
		if row != nil {
			n++
		}
	}
	return n
}

// start rents and clears row y.
func (r Rows) start(y, width int) Row {
	row := Row(r.pool.Rent(width))
	clear(row)
	r.slots[y] = row
	return row
}

// ReleaseRow returns row y to the pool and empties its slot.
// Releasing an empty slot is a no-op, so every row is returned exactly once.
func (r Rows) ReleaseRow(y int) {
	if y < 0 || y >= len(r.slots) || r.slots[y] == nil {
		return
	}
	r.pool.Return(r.slots[y])
	r.slots[y] = nil
}

// Release returns every remaining row to the pool.
func (r Rows) Release() {
	for y := range r.slots {
		r.ReleaseRow(y)
	}
}

// Read decodes src into rows of width triples, at most height rows.
//
// Cancellation is checked once per group. When ctx is cancelled Read returns
// the rows filled so far along with ctx.Err(); the caller owns and releases
// them. On an I/O error the rows are released before returning.
func Read(ctx context.Context, src io.Reader, width, height int, pool *bufpool.Pool[Triple]) (Rows, Stats, error) {
	rows := NewRows(height, pool)
	var stats Stats
	if width <= 0 || height <= 0 {
		return rows, stats, nil
	}

	br := bufio.NewReaderSize(src, readBufferSize)
	maxGroups := int64(width) * int64(height)

	var (
		group [BytesPerPixel]byte
		row   Row
		x, y  int
	)
	done := ctx.Done()

	for stats.Pixels < maxGroups {
		select {
		case <-done:
			return rows, stats, ctx.Err()
		default:
		}

		n, err := io.ReadFull(br, group[:])
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				break
			}
			rows.Release()
			return NewRows(height, pool), Stats{}, fmt.Errorf("rowread: read group at pixel %d: %w", stats.Pixels, err)
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			rows.Release()
			return NewRows(height, pool), Stats{}, fmt.Errorf("rowread: read group at pixel %d: %w", stats.Pixels, err)
		}

		// Zero-fill channels a short final group did not reach.
		for i := n; i < BytesPerPixel; i++ {
			group[i] = 0
		}

		if x == 0 {
			row = rows.start(y, width)
			stats.Rows++
		}
		row[x] = Triple{Set: true, R: group[0], G: group[1], B: group[2]}
		stats.Pixels++
		stats.BytesRead += int64(n)

		x++
		if x == width {
			x = 0
			y++
		}

		if n < BytesPerPixel {
			break
		}
	}

	if stats.Pixels == maxGroups {
		if _, err := br.Peek(1); err == nil {
			stats.Truncated = true
		}
	}

	return rows, stats, nil
}
