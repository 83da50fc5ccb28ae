// Command binview renders a binary file as a square image.
//
// Every three input bytes become one RGB pixel, laid out row by row in the
// smallest square that holds them. The output format follows the output
// file extension.
//
// Usage:
//
//	binview -i firmware.bin -o firmware.png [flags]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/binview"
	"github.com/gogpu/binview/internal/config"
	"github.com/gogpu/binview/internal/sink"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitUnsupported = 3
	exitAdmission   = 4
	exitTimeout     = 5
	exitSink        = 6
	exitCancelled   = 130
)

// errCancelled is returned by run when a signal stopped processing.
var errCancelled = errors.New("processing cancelled, no output written")

// exitError attaches an exit code to an error.
type exitError struct {
	code int
	err  error
}

func usageError(format string, args ...any) *exitError {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func main() {
	err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(exitCode(err))
}

// exitCode maps an error returned by run to the process exit status.
func exitCode(err error) int {
	var coder interface{ ExitCode() int }
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &coder):
		return coder.ExitCode()
	case errors.Is(err, errCancelled):
		return exitCancelled
	case errors.Is(err, binview.ErrInvalidConfig), errors.Is(err, config.ErrInvalid):
		return exitUsage
	case errors.Is(err, binview.ErrUnsupportedInput):
		return exitUnsupported
	case errors.Is(err, binview.ErrAlreadyInProgress),
		errors.Is(err, binview.ErrAlreadyFinished),
		errors.Is(err, binview.ErrDisposed):
		return exitAdmission
	case errors.Is(err, binview.ErrDisposeTimeout):
		return exitTimeout
	case errors.Is(err, binview.ErrSinkFailure):
		return exitSink
	default:
		return exitFailure
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) (err error) {
	var (
		inputPath  string
		outputPath string
		configPath string
	)

	required := pflag.NewFlagSet("required", pflag.ContinueOnError)
	required.StringVarP(&inputPath, "input-path", "i", "", "The path to the binary file to read.")
	required.StringVarP(&outputPath, "output-path", "o", "", "The path to write the image to. Must not exist; the extension picks the format (png, jpg, gif, bmp, tif).")

	flags := config.Default()
	optional := pflag.NewFlagSet("optional", pflag.ContinueOnError)
	flags.AddFlags(optional)
	optional.StringVar(&configPath, "config", "", "YAML config file. Defaults to $"+config.EnvConfigPath+".")
	optional.BoolP("help", "h", false, "Show this help.")
	optional.Bool("version", false, "Print the version and exit.")

	fs := pflag.NewFlagSet("binview", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.AddFlagSet(required)
	fs.AddFlagSet(optional)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, required, optional)
			return nil
		}
		return usageError("%w (see --help)", err)
	}
	if help, _ := fs.GetBool("help"); help {
		printHelp(stdout, required, optional)
		return nil
	}
	if version, _ := fs.GetBool("version"); version {
		fmt.Fprintf(stdout, "binview v%s\n", binview.Version)
		return nil
	}
	if rest := fs.Args(); len(rest) > 0 {
		return usageError("unexpected argument: %s", rest[0])
	}
	if inputPath == "" || outputPath == "" {
		return usageError("--input-path and --output-path are required (see --help)")
	}

	cfg := config.Default()
	if path := config.PathFromEnv(configPath); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return &exitError{code: exitUsage, err: err}
		}
	}
	cfg.Override(fs, flags)
	notes := cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	binview.SetLogger(logger)
	defer binview.SetLogger(nil)
	for _, note := range notes {
		logger.Warn(note)
	}

	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	e, err := binview.New(inputPath, outputPath, opts...)
	if err != nil {
		return err
	}
	defer func() {
		// The run context may already be cancelled; disposal has its own bound.
		if cerr := e.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res, err := e.Process(ctx)
	if err != nil {
		return err
	}
	if res.Cancelled {
		return errCancelled
	}

	printSummary(stdout, res, time.Since(started))
	return nil
}

// engineOptions translates a validated config into engine options.
func engineOptions(cfg config.Config) ([]binview.Option, error) {
	bg, err := cfg.BackgroundColor()
	if err != nil {
		return nil, err
	}
	codec, err := cfg.Codec()
	if err != nil {
		return nil, err
	}
	compression, err := sink.ParseCompression(cfg.PNGCompression)
	if err != nil {
		return nil, err
	}

	fileSink := sink.NewFileSink()
	fileSink.JPEGQuality = cfg.JPEGQuality
	fileSink.PNGCompression = compression

	return []binview.Option{
		binview.WithMaxConcurrency(cfg.MaxConcurrency),
		binview.WithSerial(cfg.ProcessInSerial),
		binview.WithBackground(bg),
		binview.WithInputCodec(codec),
		binview.WithSink(fileSink),
	}, nil
}

// newLogger builds the stderr logger. Timestamps are dropped unless
// requested, and the trace level gets its own name.
func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				if !cfg.LogShowTimestamp {
					return slog.Attr{}
				}
			case slog.LevelKey:
				if l, ok := a.Value.Any().(slog.Level); ok && l <= config.LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return a
		},
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), nil
}

func printSummary(w io.Writer, res binview.Result, elapsed time.Duration) {
	p := message.NewPrinter(language.English)
	p.Fprintf(w, "%s: %dx%d %s, %d pixels from %d bytes in %v\n",
		res.OutputPath,
		res.Dimensions.Width, res.Dimensions.Height, res.Format,
		res.PixelsWritten, res.BytesRead,
		elapsed.Round(time.Millisecond))
	p.Fprintf(w, "blake3 %s\n", res.Digest)
	if res.Truncated {
		p.Fprintf(w, "note: input grew while reading, bytes past %d were ignored\n", res.BytesRead)
	}
}

func printHelp(w io.Writer, required, optional *pflag.FlagSet) {
	fmt.Fprintf(w, `binview v%s renders a binary file as a square RGB image.

Every three input bytes become one pixel. Cells past the end of the input
take the background color.

Usage:
  binview -i <input> -o <output> [flags]

Examples:
  # Render a firmware image as PNG
  binview -i firmware.bin -o firmware.png

  # Decompress first, single-threaded, grey background
  binview -i dump.bin.zst -o dump.bmp --input-codec auto --process-in-serial --background '#202020'

Required:
%s
Optional:
%s
Exit codes: 0 ok, 1 failure, 2 invalid configuration, 3 input too large,
4 engine already used, 5 close timed out, 6 output write failed, 130 cancelled.
`, binview.Version, required.FlagUsages(), optional.FlagUsages())
}
