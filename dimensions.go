package binview

import (
	"fmt"
	"math"

	"github.com/gogpu/binview/internal/rowread"
)

// MaxExtent is the largest width or height an engine will build.
const MaxExtent = math.MaxInt32

// Dimensions is the square layout derived from an input length.
type Dimensions struct {
	// Length is the input length in bytes.
	Length int64
	// PixelCount is ceil(Length/3): one slot per group of up to three bytes.
	PixelCount int64
	// Width and Height are both ceil(sqrt(PixelCount)).
	Width  int
	Height int
}

// Slots returns Width*Height.
func (d Dimensions) Slots() int64 {
	return int64(d.Width) * int64(d.Height)
}

// ComputeDimensions derives the layout for an input of length bytes.
// A width above maxExtent is reported as ErrUnsupportedInput; a
// non-positive maxExtent means MaxExtent.
func ComputeDimensions(length int64, maxExtent int) (Dimensions, error) {
	if length < 0 {
		return Dimensions{}, fmt.Errorf("%w: negative input length %d", ErrInvalidConfig, length)
	}
	if maxExtent <= 0 {
		maxExtent = MaxExtent
	}

	pixels := length / rowread.BytesPerPixel
	if length%rowread.BytesPerPixel != 0 {
		pixels++
	}

	side := ceilSqrt(uint64(pixels))
	if side > uint64(maxExtent) {
		return Dimensions{}, fmt.Errorf("%w: %d bytes need a %dx%d image, the limit is %d", ErrUnsupportedInput, length, side, side, maxExtent)
	}

	return Dimensions{
		Length:     length,
		PixelCount: pixels,
		Width:      int(side),
		Height:     int(side),
	}, nil
}

// ceilSqrt returns the smallest r with r*r >= n.
func ceilSqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	r := uint64(math.Sqrt(float64(n)))
	// Float rounding can be off by one either way for large n.
	for r > 0 && r*r >= n {
		r--
	}
	for r*r < n {
		r++
	}
	return r
}
