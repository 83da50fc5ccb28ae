// Package config loads binview settings from defaults, an optional YAML
// file, and command-line flags, in that order of precedence.
//
// The config file is named by the --config flag or the BINVIEW_CONFIG
// environment variable. There is no automatic discovery.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/gogpu/binview/internal/raster"
	"github.com/gogpu/binview/internal/sink"
	"github.com/gogpu/binview/internal/source"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "BINVIEW_CONFIG"

// LevelTrace is below slog.LevelDebug and enables per-band timings.
const LevelTrace = slog.LevelDebug - 4

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// Config is the tunable surface of a binview run.
type Config struct {
	// MaxConcurrency caps rasterize tasks. Non-positive values are replaced
	// by the default in Normalize.
	MaxConcurrency int `yaml:"max_concurrency"`

	// ProcessInSerial selects the single-threaded rasterizer.
	ProcessInSerial bool `yaml:"process_in_serial"`

	// Background is the color of unpopulated cells, as #rgb, #rgba,
	// #rrggbb or #rrggbbaa.
	Background string `yaml:"background"`

	// InputCodec is one of none, auto, zstd, gzip, lz4.
	InputCodec string `yaml:"input_codec"`

	// JPEGQuality is used for .jpg/.jpeg output (1-100).
	JPEGQuality int `yaml:"jpeg_quality"`

	// PNGCompression is one of default, none, speed, best.
	PNGCompression string `yaml:"png_compression"`

	// LogLevel is trace, debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// LogShowTimestamp adds timestamps to log records.
	LogShowTimestamp bool `yaml:"log_show_timestamp"`

	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxConcurrency: raster.DefaultConcurrency(),
		Background:     "#000000ff",
		InputCodec:     source.None.String(),
		JPEGQuality:    90,
		PNGCompression: "default",
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load returns Default overlaid with the YAML file at path. Unknown keys
// are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// PathFromEnv returns flagValue if set, otherwise $BINVIEW_CONFIG.
func PathFromEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// AddFlags binds the tunable settings to fs, using c's current values as
// flag defaults.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.MaxConcurrency, "max-concurrency", c.MaxConcurrency, "Integer. The maximum number of rasterize workers to run concurrently. Defaults to the logical processor count plus 1.")
	fs.BoolVar(&c.ProcessInSerial, "process-in-serial", c.ProcessInSerial, "Switch. Process the input data in serial, rather than in parallel. If this is passed, 'max-concurrency' is ignored.")
	fs.StringVar(&c.Background, "background", c.Background, "Color for cells no input bytes reached (#rrggbb or #rrggbbaa).")
	fs.StringVar(&c.InputCodec, "input-codec", c.InputCodec, "Decompress the input first: none, auto, zstd, gzip or lz4.")
	fs.IntVar(&c.JPEGQuality, "jpeg-quality", c.JPEGQuality, "Quality for JPEG output, 1-100.")
	fs.StringVar(&c.PNGCompression, "png-compression", c.PNGCompression, "Compression for PNG output: default, none, speed or best.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Set the log level: trace, debug, info, warn, error, critical, none, or 0-6 in that order.")
	fs.BoolVar(&c.LogShowTimestamp, "log-show-timestamp", c.LogShowTimestamp, "Switch. Show timestamps for log output.")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log output format: text or json.")
}

// Override copies every setting whose flag was set on fs from flags into c.
func (c *Config) Override(fs *pflag.FlagSet, flags Config) {
	if fs.Changed("max-concurrency") {
		c.MaxConcurrency = flags.MaxConcurrency
	}
	if fs.Changed("process-in-serial") {
		c.ProcessInSerial = flags.ProcessInSerial
	}
	if fs.Changed("background") {
		c.Background = flags.Background
	}
	if fs.Changed("input-codec") {
		c.InputCodec = flags.InputCodec
	}
	if fs.Changed("jpeg-quality") {
		c.JPEGQuality = flags.JPEGQuality
	}
	if fs.Changed("png-compression") {
		c.PNGCompression = flags.PNGCompression
	}
	if fs.Changed("log-level") {
		c.LogLevel = flags.LogLevel
	}
	if fs.Changed("log-show-timestamp") {
		c.LogShowTimestamp = flags.LogShowTimestamp
	}
	if fs.Changed("log-format") {
		c.LogFormat = flags.LogFormat
	}
}

// Normalize replaces recoverable bad values with defaults and returns a
// note for each replacement.
func (c *Config) Normalize() []string {
	var notes []string
	if c.MaxConcurrency <= 0 {
		def := raster.DefaultConcurrency()
		notes = append(notes, fmt.Sprintf("configured max concurrency value of %d is invalid, must be an integer greater than zero, falling back to default of %d", c.MaxConcurrency, def))
		c.MaxConcurrency = def
	}
	return notes
}

// Validate checks every setting that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.BackgroundColor(); err != nil {
		errs = append(errs, err)
	}
	if _, err := source.ParseCodec(c.InputCodec); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("%w: jpeg_quality %d not in 1-100", ErrInvalid, c.JPEGQuality))
	}
	if _, err := sink.ParseCompression(c.PNGCompression); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat))
	}
	return errors.Join(errs...)
}

// BackgroundColor parses Background.
func (c *Config) BackgroundColor() (color.NRGBA, error) {
	return ParseColor(c.Background)
}

// Codec parses InputCodec.
func (c *Config) Codec() (source.Codec, error) {
	return source.ParseCodec(c.InputCodec)
}

// ParseColor parses a hex color: #rgb, #rgba, #rrggbb or #rrggbbaa.
// The leading '#' is optional. Alpha defaults to 0xff.
func ParseColor(s string) (color.NRGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")

	var expanded string
	switch len(hex) {
	case 3, 4:
		var b strings.Builder
		for _, r := range hex {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		expanded = b.String()
	case 6, 8:
		expanded = hex
	default:
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalid, s)
	}
	if len(expanded) == 6 {
		expanded += "ff"
	}

	v, err := strconv.ParseUint(expanded, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w: color %q", ErrInvalid, s)
	}
	return color.NRGBA{
		R: uint8(v >> 24),
		G: uint8(v >> 16),
		B: uint8(v >> 8),
		A: uint8(v),
	}, nil
}

// Levels above slog.LevelError. binview never logs at them, so selecting
// either silences output.
const (
	LevelCritical = slog.LevelError + 4
	LevelNone     = slog.LevelError + 8
)

// levelNames maps level names and their numeric forms, 0 (trace) through
// 6 (none), to slog levels.
var levelNames = map[string]slog.Level{
	"trace":       LevelTrace,
	"0":           LevelTrace,
	"1":           slog.LevelDebug,
	"information": slog.LevelInfo,
	"2":           slog.LevelInfo,
	"warning":     slog.LevelWarn,
	"3":           slog.LevelWarn,
	"4":           slog.LevelError,
	"critical":    LevelCritical,
	"5":           LevelCritical,
	"none":        LevelNone,
	"6":           LevelNone,
}

// ParseLevel parses a log level. It accepts trace, debug, info, warn,
// error, critical and none, case-insensitively, or the numbers 0 to 6 in
// that order. slog offsets such as "info+2" also parse.
func ParseLevel(s string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if level, ok := levelNames[name]; ok {
		return level, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalid, s)
	}
	return level, nil
}
