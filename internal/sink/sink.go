// Package sink encodes finished images and persists them to disk.
//
// The encoder is chosen from the output path's extension. Files are written
// to a temporary sibling and renamed into place, so the target path either
// holds a complete image or nothing.
package sink

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Sink errors.
var (
	// ErrUnsupportedFormat is returned when no encoder matches the output extension.
	ErrUnsupportedFormat = errors.New("sink: unsupported output format")

	// ErrEmptyImage is returned for images with no pixels.
	ErrEmptyImage = errors.New("sink: empty image")

	// ErrTooLarge is returned when an image side exceeds what the format
	// can encode.
	ErrTooLarge = errors.New("sink: image too large for output format")
)

// maxShortSide is the largest side GIF and JPEG can store in their 16-bit
// dimension fields.
const maxShortSide = 65535

// Format identifies an output encoding.
type Format int

const (
	// FormatUnknown is the zero Format.
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatBMP
	FormatTIFF
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	default:
		return "unknown"
	}
}

// FormatFor returns the format implied by path's extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".gif":
		return FormatGIF, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Sink persists a finished image at path.
type Sink interface {
	Write(ctx context.Context, img image.Image, path string) error
}

// Checker is implemented by sinks that can reject an output before any
// work is done. A zero size checks the path alone.
type Checker interface {
	Check(path string, size image.Point) error
}

// FileSink writes images to the local filesystem.
type FileSink struct {
	// JPEGQuality is the JPEG quality (1-100). Zero selects 90.
	JPEGQuality int

	// PNGCompression is the PNG compression level.
	PNGCompression png.CompressionLevel
}

// NewFileSink returns a FileSink with default encoder settings.
func NewFileSink() *FileSink {
	return &FileSink{JPEGQuality: 90, PNGCompression: png.DefaultCompression}
}

// MaxSide returns the largest width or height f can encode, or 0 when the
// format is limited only by memory.
func (f Format) MaxSide() int {
	switch f {
	case FormatGIF, FormatJPEG:
		return maxShortSide
	default:
		return 0
	}
}

// Check reports whether FileSink can encode an image of size to path.
func (s *FileSink) Check(path string, size image.Point) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	return checkSize(format, size)
}

func checkSize(format Format, size image.Point) error {
	limit := format.MaxSide()
	if limit > 0 && (size.X > limit || size.Y > limit) {
		return fmt.Errorf("%w: %s supports at most %dx%d, got %dx%d",
			ErrTooLarge, format, limit, limit, size.X, size.Y)
	}
	return nil
}

// Write encodes img by the extension of path and renames it into place.
// If ctx is already done Write returns its error without touching the
// filesystem.
func (s *FileSink) Write(ctx context.Context, img image.Image, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	b := img.Bounds()
	if b.Empty() {
		return ErrEmptyImage
	}
	if err := checkSize(format, b.Size()); err != nil {
		return err
	}

	path = filepath.Clean(path)
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("sink: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := s.encode(tmp, img, format); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sink: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sink: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sink: rename into place: %w", err)
	}
	return nil
}

func (s *FileSink) encode(w io.Writer, img image.Image, format Format) error {
	var err error
	switch format {
	case FormatPNG:
		enc := png.Encoder{CompressionLevel: s.PNGCompression}
		err = enc.Encode(w, img)
	case FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: clampQuality(s.JPEGQuality)})
	case FormatGIF:
		err = gif.Encode(w, img, nil)
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return ErrUnsupportedFormat
	}
	if err != nil {
		return fmt.Errorf("sink: encode %s: %w", format, err)
	}
	return nil
}

func clampQuality(q int) int {
	if q == 0 {
		return 90
	}
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}

// ParseCompression maps a config name to a PNG compression level.
func ParseCompression(name string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "none":
		return png.NoCompression, nil
	case "speed", "fast":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	default:
		return png.DefaultCompression, fmt.Errorf("sink: unknown png compression %q", name)
	}
}
