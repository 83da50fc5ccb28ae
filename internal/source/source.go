// Package source opens the input byte stream, optionally decompressing it.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrUnknownCodec is returned for codec names ParseCodec does not know.
var ErrUnknownCodec = errors.New("source: unknown input codec")

// Codec selects how the input file is decoded before rasterization.
type Codec int

const (
	// None reads the file bytes as-is.
	None Codec = iota
	// Auto picks a codec from the file extension, falling back to None.
	Auto
	Zstd
	Gzip
	LZ4
)

// String returns the codec name as accepted by ParseCodec.
func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case Auto:
		return "auto"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Codec(%d)", int(c))
	}
}

// ParseCodec parses a codec name. The empty string is None.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "raw":
		return None, nil
	case "auto":
		return Auto, nil
	case "zstd", "zst":
		return Zstd, nil
	case "gzip", "gz":
		return Gzip, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Resolve turns Auto into a concrete codec based on path's extension.
func (c Codec) Resolve(path string) Codec {
	if c != Auto {
		return c
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return Zstd
	case ".gz", ".gzip":
		return Gzip
	case ".lz4":
		return LZ4
	default:
		return None
	}
}

// Open opens path and wraps it in the decoder for codec.
// Closing the returned reader closes the decoder and the file.
func Open(path string, codec Codec) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("source: open: %w", err)
	}

	switch codec.Resolve(path) {
	case None:
		return f, nil
	case Zstd:
		dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("source: zstd: %w", err)
		}
		return &decoder{Reader: dec, closeDecoder: func() error { dec.Close(); return nil }, file: f}, nil
	case Gzip:
		dec, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("source: gzip: %w", err)
		}
		return &decoder{Reader: dec, closeDecoder: dec.Close, file: f}, nil
	case LZ4:
		return &decoder{Reader: lz4.NewReader(f), file: f}, nil
	default:
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnknownCodec, codec)
	}
}

// Length returns the number of bytes Open(path, codec) will yield.
// For uncompressed input this is the file size; compressed input is
// decoded once and counted.
func Length(path string, codec Codec) (int64, error) {
	if codec.Resolve(path) == None {
		info, err := os.Stat(filepath.Clean(path))
		if err != nil {
			return 0, fmt.Errorf("source: stat: %w", err)
		}
		return info.Size(), nil
	}

	rc, err := Open(path, codec)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, fmt.Errorf("source: measure %s input: %w", codec.Resolve(path), err)
	}
	return n, nil
}

// decoder couples a decompressing reader with its underlying file.
type decoder struct {
	io.Reader
	closeDecoder func() error
	file         *os.File
}

func (d *decoder) Close() error {
	var errs []error
	if d.closeDecoder != nil {
		errs = append(errs, d.closeDecoder())
	}
	errs = append(errs, d.file.Close())
	return errors.Join(errs...)
}
