package binview

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/gogpu/binview/internal/bufpool"
	"github.com/gogpu/binview/internal/raster"
	"github.com/gogpu/binview/internal/rowread"
	"github.com/gogpu/binview/internal/sink"
	"github.com/gogpu/binview/internal/source"
)

// maxIdleBuffers caps how many rows of each size class the engine pools
// retain between rents.
const maxIdleBuffers = 256

// Engine turns one input file into one image file.
//
// An Engine is single-use: exactly one Process call is admitted over its
// lifetime. Concurrent or later calls fail immediately with
// ErrAlreadyInProgress, ErrAlreadyFinished or ErrDisposed. Close cancels a
// running Process and releases the engine.
//
// Thread safety: all methods are safe for concurrent use.
type Engine struct {
	inputPath  string
	outputPath string
	format     sink.Format
	dims       Dimensions
	opts       options

	triples *bufpool.Pool[rowread.Triple]
	pixels  *bufpool.Pool[uint8]

	life *lifecycle
}

// Result summarizes one Process run.
type Result struct {
	// RunID identifies the run in log records.
	RunID uuid.UUID

	Dimensions Dimensions

	// BytesRead is the number of input bytes mapped to pixels.
	BytesRead int64
	// PixelsWritten is the number of populated cells.
	PixelsWritten int64
	// Truncated reports input beyond Width*Height groups, which is ignored.
	Truncated bool
	// Digest is the hex BLAKE3 digest of the bytes read from the input.
	Digest string

	OutputPath string
	Format     string

	ReadDuration      time.Duration
	RasterizeDuration time.Duration
	WriteDuration     time.Duration

	// Cancelled reports that the run stopped before writing; no output
	// file was created or modified.
	Cancelled bool
}

// PoolStats aggregates rent/return accounting over the engine's pools.
type PoolStats struct {
	Rented      int64
	Returned    int64
	Outstanding int64
}

// New validates the paths, measures the input and derives the image
// dimensions. No input bytes are rasterized until Process.
//
// The input must exist and be non-empty. The output must not exist and
// must carry an extension the sink can encode.
func New(inputPath, outputPath string, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.maxConcurrency <= 0 {
		def := raster.DefaultConcurrency()
		Logger().Warn("configured max concurrency is invalid, must be greater than zero, falling back to default",
			"max_concurrency", o.maxConcurrency, "default", def)
		o.maxConcurrency = def
	}

	if err := checkPath(inputPath, true, "input"); err != nil {
		return nil, err
	}
	if err := checkPath(outputPath, false, "output"); err != nil {
		return nil, err
	}

	if o.sink == nil {
		o.sink = sink.NewFileSink()
	}
	checker, _ := o.sink.(sink.Checker)
	if checker != nil {
		if err := checker.Check(outputPath, image.Point{}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	// Custom sinks may accept any path; the format is then reported as unknown.
	format, _ := sink.FormatFor(outputPath)

	length, err := source.Length(inputPath, o.codec)
	if err != nil {
		return nil, fmt.Errorf("%w: measure input: %w", ErrInvalidConfig, err)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: input %q is empty", ErrInvalidConfig, inputPath)
	}

	dims, err := ComputeDimensions(length, o.maxExtent)
	if err != nil {
		return nil, err
	}
	if checker != nil {
		if err := checker.Check(outputPath, image.Pt(dims.Width, dims.Height)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedInput, err)
		}
	}

	Logger().Debug("engine created",
		"input", inputPath,
		"output", outputPath,
		"length", length,
		"bytes_per_pixel", rowread.BytesPerPixel,
		"width", dims.Width,
		"height", dims.Height)

	return &Engine{
		inputPath:  inputPath,
		outputPath: outputPath,
		format:     format,
		dims:       dims,
		opts:       o,
		triples:    bufpool.New[rowread.Triple](maxIdleBuffers),
		pixels:     bufpool.New[uint8](maxIdleBuffers),
		life:       newLifecycle(o.disposeTimeout),
	}, nil
}

// checkPath validates a path for New. mustExist selects between an input
// that must be a regular file and an output that must not exist.
func checkPath(path string, mustExist bool, role string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: %s path must be a valid file path", ErrInvalidConfig, role)
	}

	info, err := os.Stat(path)
	switch {
	case mustExist && err != nil:
		return fmt.Errorf("%w: %s file must already exist: %w", ErrInvalidConfig, role, err)
	case mustExist && info.IsDir():
		return fmt.Errorf("%w: %s %q is a directory", ErrInvalidConfig, role, path)
	case !mustExist && err == nil:
		return fmt.Errorf("%w: %s file %q must not already exist", ErrInvalidConfig, role, path)
	case !mustExist && !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s path: %w", ErrInvalidConfig, role, err)
	}
	return nil
}

// InputPath returns the input file path.
func (e *Engine) InputPath() string { return e.inputPath }

// OutputPath returns the output file path.
func (e *Engine) OutputPath() string { return e.outputPath }

// InputLength returns the number of input bytes, after decompression.
func (e *Engine) InputLength() int64 { return e.dims.Length }

// Dimensions returns the image layout computed by New.
func (e *Engine) Dimensions() Dimensions { return e.dims }

// MaxConcurrency returns the rasterize fan-out cap.
func (e *Engine) MaxConcurrency() int { return e.opts.maxConcurrency }

// Serial reports whether the single-threaded rasterizer is used.
func (e *Engine) Serial() bool { return e.opts.serial }

// State returns the current processing state.
func (e *Engine) State() State { return e.life.load() }

// PoolStats returns the combined buffer accounting of the engine's pools.
// Outstanding is zero whenever no run is in progress.
func (e *Engine) PoolStats() PoolStats {
	t := e.triples.Stats()
	p := e.pixels.Stats()
	return PoolStats{
		Rented:      t.Rented + p.Rented,
		Returned:    t.Returned + p.Returned,
		Outstanding: t.Outstanding + p.Outstanding,
	}
}

// Process reads the input, rasterizes it and writes the image.
//
// Cancelling ctx, or calling Close, before the write starts stops the run
// without producing output: Process then returns a Result with Cancelled
// set and a nil error. Either way the engine moves to StateCompleted and
// every pooled buffer is returned.
func (e *Engine) Process(ctx context.Context) (Result, error) {
	runCtx, finish, err := e.life.admit(ctx)
	if err != nil {
		return Result{}, err
	}
	defer finish()

	res := Result{
		RunID:      uuid.New(),
		Dimensions: e.dims,
		OutputPath: e.outputPath,
		Format:     e.format.String(),
	}
	log := Logger().With("run", res.RunID.String())
	log.Info("processing started",
		"input", e.inputPath,
		"width", e.dims.Width,
		"height", e.dims.Height,
		"serial", e.opts.serial,
		"max_concurrency", e.opts.maxConcurrency)

	err = e.run(runCtx, log, &res)
	if err != nil {
		log.Error("processing failed", "err", err)
		return res, err
	}
	if res.Cancelled {
		log.Info("processing cancelled, no output written")
		return res, nil
	}
	log.Info("processing finished",
		"output", e.outputPath,
		"pixels", res.PixelsWritten,
		"elapsed", res.ReadDuration+res.RasterizeDuration+res.WriteDuration)
	return res, nil
}

// run executes the read, rasterize and write phases in order.
func (e *Engine) run(ctx context.Context, log *slog.Logger, res *Result) error {
	w, h := e.dims.Width, e.dims.Height

	// Read.
	started := time.Now()
	src, err := source.Open(e.inputPath, e.opts.codec)
	if err != nil {
		return fmt.Errorf("binview: open input: %w", err)
	}
	defer func() { _ = src.Close() }()

	hasher := blake3.New()
	log.Debug("reading input", "bytes", e.dims.Length, "codec", e.opts.codec.Resolve(e.inputPath))
	rows, stats, err := rowread.Read(ctx, io.TeeReader(src, hasher), w, h, e.triples)
	defer func() {
		rows.Release()
		log.Debug("input rows released")
	}()
	res.ReadDuration = time.Since(started)
	res.BytesRead = stats.BytesRead
	res.PixelsWritten = stats.Pixels
	res.Truncated = stats.Truncated
	res.Digest = hex.EncodeToString(hasher.Sum(nil))
	if err != nil {
		if cancelled(ctx, err) {
			res.Cancelled = true
			return nil
		}
		return fmt.Errorf("binview: read input: %w", err)
	}
	if stats.Truncated {
		log.Warn("input grew after it was measured, extra bytes ignored", "pixels", stats.Pixels)
	}
	log.Debug("input read",
		"bytes", stats.BytesRead,
		"pixels", stats.Pixels,
		"rows", stats.Rows,
		"elapsed", res.ReadDuration)

	// Rasterize.
	started = time.Now()
	grid, err := raster.Rasterize(ctx, rows, w, h, e.opts.background, raster.Options{
		MaxConcurrency: e.opts.maxConcurrency,
		Serial:         e.opts.serial,
		ReleaseRows:    true,
		Pool:           e.pixels,
		Logger:         log,
	})
	res.RasterizeDuration = time.Since(started)
	if err != nil {
		if cancelled(ctx, err) {
			res.Cancelled = true
			return nil
		}
		return fmt.Errorf("binview: rasterize: %w", err)
	}
	defer func() {
		grid.Release()
		log.Debug("image rows released")
	}()
	log.Debug("image built", "elapsed", res.RasterizeDuration)

	// Write gate: nothing is written once cancellation is observed.
	if ctx.Err() != nil {
		res.Cancelled = true
		return nil
	}

	started = time.Now()
	log.Debug("writing output", "path", e.outputPath, "format", res.Format)
	err = e.opts.sink.Write(ctx, grid, e.outputPath)
	res.WriteDuration = time.Since(started)
	if err != nil {
		if cancelled(ctx, err) {
			res.Cancelled = true
			return nil
		}
		return fmt.Errorf("%w: %w", ErrSinkFailure, err)
	}
	return nil
}

// cancelled reports whether err is the run context's own cancellation.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// Close cancels an in-flight run, waits for it to release the engine, and
// marks the engine disposed. It waits at most the dispose timeout (see
// WithDisposeTimeout), or until ctx is done, and then fails with
// ErrDisposeTimeout rather than abandoning a run that will not stop.
// Closing a disposed engine is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.life.close(ctx); err != nil {
		Logger().Error("engine close failed", "err", err)
		return err
	}
	Logger().Debug("engine closed")
	return nil
}
