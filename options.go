package binview

import (
	"image/color"
	"time"

	"github.com/gogpu/binview/internal/raster"
	"github.com/gogpu/binview/internal/sink"
	"github.com/gogpu/binview/internal/source"
)

// Codec selects how the input file is decoded before rasterization.
type Codec = source.Codec

// Input codecs.
const (
	CodecNone = source.None
	CodecAuto = source.Auto
	CodecZstd = source.Zstd
	CodecGzip = source.Gzip
	CodecLZ4  = source.LZ4
)

// Sink persists a finished image. The default sink encodes by the output
// extension and writes atomically.
type Sink = sink.Sink

// DefaultBackground is the color of cells no input bytes reached.
var DefaultBackground = color.NRGBA{A: 0xff}

// Option configures an Engine during creation.
//
// Example:
//
//	e, err := binview.New("firmware.bin", "firmware.png",
//	    binview.WithMaxConcurrency(4),
//	    binview.WithBackground(color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}))
type Option func(*options)

// options holds optional configuration for Engine creation.
type options struct {
	maxConcurrency int
	serial         bool
	background     color.NRGBA
	codec          source.Codec
	sink           sink.Sink
	disposeTimeout time.Duration
	maxExtent      int
}

// defaultOptions returns the default engine options.
func defaultOptions() options {
	return options{
		maxConcurrency: raster.DefaultConcurrency(),
		background:     DefaultBackground,
		codec:          source.None,
		disposeTimeout: DefaultDisposeTimeout,
		maxExtent:      MaxExtent,
	}
}

// WithMaxConcurrency caps the number of concurrently rasterized row bands.
// Non-positive values are logged by New and replaced by the default, the
// logical CPU count plus one.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

// WithSerial selects the single-threaded rasterizer. MaxConcurrency is
// ignored when serial processing is on.
func WithSerial(serial bool) Option {
	return func(o *options) {
		o.serial = serial
	}
}

// WithBackground sets the color of cells no input bytes reached.
func WithBackground(c color.NRGBA) Option {
	return func(o *options) {
		o.background = c
	}
}

// WithInputCodec decompresses the input before rasterizing it.
func WithInputCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithSink replaces the default file sink. The sink receives the finished
// grid and the output path.
func WithSink(s Sink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithDisposeTimeout bounds how long Close waits for a run to stop.
func WithDisposeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.disposeTimeout = d
		}
	}
}

// WithMaxExtent lowers the largest accepted image side. Values outside
// (0, MaxExtent] are ignored.
func WithMaxExtent(n int) Option {
	return func(o *options) {
		if n > 0 && n <= MaxExtent {
			o.maxExtent = n
		}
	}
}
