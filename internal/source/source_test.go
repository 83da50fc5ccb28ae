package source

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

func writeCompressed(t *testing.T, path string, data []byte, wrap func(io.Writer) io.WriteCloser) {
	t.Helper()
	var buf bytes.Buffer
	w := wrap(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("compress close: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", None, false},
		{"none", None, false},
		{"AUTO", Auto, false},
		{"zstd", Zstd, false},
		{"zst", Zstd, false},
		{"gz", Gzip, false},
		{"lz4", LZ4, false},
		{"brotli", None, true},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCodec(%q) err = %v", tt.in, err)
		}
		if err != nil && !errors.Is(err, ErrUnknownCodec) {
			t.Errorf("ParseCodec(%q) err = %v, want ErrUnknownCodec", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCodec(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCodec_Resolve(t *testing.T) {
	tests := []struct {
		codec Codec
		path  string
		want  Codec
	}{
		{Auto, "a.bin.zst", Zstd},
		{Auto, "a.gz", Gzip},
		{Auto, "a.LZ4", LZ4},
		{Auto, "a.bin", None},
		{Gzip, "a.bin", Gzip},
		{None, "a.zst", None},
	}
	for _, tt := range tests {
		if got := tt.codec.Resolve(tt.path); got != tt.want {
			t.Errorf("%v.Resolve(%q) = %v, want %v", tt.codec, tt.path, got, tt.want)
		}
	}
}

func TestOpenAndLength(t *testing.T) {
	data := make([]byte, 10_000)
	rand.New(rand.NewSource(3)).Read(data)
	dir := t.TempDir()

	raw := filepath.Join(dir, "raw.bin")
	if err := os.WriteFile(raw, data, 0o644); err != nil {
		t.Fatal(err)
	}
	zst := filepath.Join(dir, "in.zst")
	writeCompressed(t, zst, data, func(w io.Writer) io.WriteCloser {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			t.Fatal(err)
		}
		return enc
	})
	gz := filepath.Join(dir, "in.gz")
	writeCompressed(t, gz, data, func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) })
	lz := filepath.Join(dir, "in.lz4")
	writeCompressed(t, lz, data, func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) })

	tests := []struct {
		name  string
		path  string
		codec Codec
	}{
		{"raw", raw, None},
		{"zstd explicit", zst, Zstd},
		{"gzip auto", gz, Auto},
		{"lz4 auto", lz, Auto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Length(tt.path, tt.codec)
			if err != nil {
				t.Fatalf("Length: %v", err)
			}
			if n != int64(len(data)) {
				t.Errorf("Length = %d, want %d", n, len(data))
			}

			rc, err := Open(tt.path, tt.codec)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if err := rc.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Error("decoded bytes differ from source")
			}
		})
	}
}

func TestOpen_Missing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope"), None); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Length(filepath.Join(t.TempDir(), "nope"), None); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpen_CorruptGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.gz")
	if err := os.WriteFile(path, []byte("not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, Auto); err == nil {
		t.Error("expected gzip header error")
	}
}
