package config

import (
	"errors"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/pflag"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MaxConcurrency != runtime.NumCPU()+1 {
		t.Errorf("MaxConcurrency = %d, want NumCPU+1", cfg.MaxConcurrency)
	}
	if cfg.ProcessInSerial {
		t.Error("ProcessInSerial should default to false")
	}
	bg, err := cfg.BackgroundColor()
	if err != nil {
		t.Fatalf("BackgroundColor: %v", err)
	}
	if bg != (color.NRGBA{A: 0xff}) {
		t.Errorf("background = %v, want opaque black", bg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binview.yaml")
	content := `
max_concurrency: 3
process_in_serial: true
background: "#ff8000"
input_codec: zstd
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrency != 3 || !cfg.ProcessInSerial || cfg.InputCodec != "zstd" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	// Keys absent from the file keep their defaults.
	if cfg.JPEGQuality != 90 || cfg.LogFormat != "text" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	bg, _ := cfg.BackgroundColor()
	if bg != (color.NRGBA{R: 0xff, G: 0x80, A: 0xff}) {
		t.Errorf("background = %v", bg)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("empty file should yield defaults, got %+v", cfg)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_threads: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "/etc/binview.yaml")

	if got := PathFromEnv("cli.yaml"); got != "cli.yaml" {
		t.Errorf("flag should win, got %q", got)
	}
	if got := PathFromEnv(""); got != "/etc/binview.yaml" {
		t.Errorf("env fallback = %q", got)
	}
}

func TestOverride(t *testing.T) {
	fileCfg := Default()
	fileCfg.MaxConcurrency = 3
	fileCfg.Background = "#fff"

	flags := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.AddFlags(fs)
	if err := fs.Parse([]string{"--max-concurrency", "7", "--log-level", "warn"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	fileCfg.Override(fs, flags)

	if fileCfg.MaxConcurrency != 7 {
		t.Errorf("MaxConcurrency = %d, want flag value 7", fileCfg.MaxConcurrency)
	}
	if fileCfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", fileCfg.LogLevel)
	}
	if fileCfg.Background != "#fff" {
		t.Errorf("unset flag overrode file value: %q", fileCfg.Background)
	}
}

func TestNormalize(t *testing.T) {
	for _, n := range []int{0, -2} {
		cfg := Default()
		cfg.MaxConcurrency = n
		notes := cfg.Normalize()
		if len(notes) != 1 {
			t.Errorf("MaxConcurrency=%d: got %d notes, want 1", n, len(notes))
		}
		if cfg.MaxConcurrency != runtime.NumCPU()+1 {
			t.Errorf("MaxConcurrency=%d not replaced by default: %d", n, cfg.MaxConcurrency)
		}
	}

	cfg := Default()
	cfg.MaxConcurrency = 2
	if notes := cfg.Normalize(); len(notes) != 0 {
		t.Errorf("valid concurrency produced notes: %v", notes)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"background", func(c *Config) { c.Background = "#12" }},
		{"codec", func(c *Config) { c.InputCodec = "rar" }},
		{"jpeg quality", func(c *Config) { c.JPEGQuality = 0 }},
		{"png compression", func(c *Config) { c.PNGCompression = "max" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#000", color.NRGBA{A: 0xff}, false},
		{"#f00a", color.NRGBA{R: 0xff, A: 0xaa}, false},
		{"102030", color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, false},
		{"#10203040", color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0x40}, false},
		{"#gggggg", color.NRGBA{}, true},
		{"", color.NRGBA{}, true},
		{"#12345", color.NRGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{" Warning ", slog.LevelWarn},
		{"Information", slog.LevelInfo},
		{"critical", LevelCritical},
		{"none", LevelNone},
		{"0", LevelTrace},
		{"1", slog.LevelDebug},
		{"2", slog.LevelInfo},
		{"3", slog.LevelWarn},
		{"4", slog.LevelError},
		{"5", LevelCritical},
		{"6", LevelNone},
		{"info+2", slog.LevelInfo + 2},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"verbose", "7", "-1"} {
		if _, err := ParseLevel(bad); !errors.Is(err, ErrInvalid) {
			t.Errorf("ParseLevel(%q) err = %v, want ErrInvalid", bad, err)
		}
	}
}
