// Package binview renders binary files as square images.
//
// # Overview
//
// Every group of three input bytes becomes one pixel: the bytes are the
// red, green and blue channels. A short final group of one or two bytes
// still becomes a pixel, with the missing channels set to zero. Pixels are
// laid out row by row in a square whose side is the smallest integer whose
// square holds them all; cells no bytes reached take a background color.
//
// # Quick Start
//
//	e, err := binview.New("firmware.bin", "firmware.png")
//	if err != nil {
//	    return err
//	}
//	defer e.Close(context.Background())
//
//	res, err := e.Process(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%dx%d, blake3 %s\n", res.Dimensions.Width, res.Dimensions.Height, res.Digest)
//
// # Pipeline
//
// Process runs three phases strictly in order:
//   - Read: the input is decoded into pooled rows of pixel triples.
//   - Rasterize: rows are transformed into the pixel grid by a bounded
//     pool of workers, each owning a disjoint band of rows.
//   - Write: the grid is encoded by the output extension (png, jpeg, gif,
//     bmp, tiff) and renamed into place.
//
// # Lifecycle
//
// An Engine processes exactly one file. A second Process call fails at once
// with ErrAlreadyInProgress or ErrAlreadyFinished instead of waiting.
// Cancelling the context passed to Process, or calling Close, stops the run
// at the next row or byte-group boundary; no output is written and the
// engine still reaches StateCompleted.
package binview

// Version information
const (
	// Version is the current version of binview.
	Version = "0.3.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 3

	// VersionPatch is the patch version
	VersionPatch = 0
)
