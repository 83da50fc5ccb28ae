package binview

import "errors"

// Errors returned by New, Process and Close. Callers match them with
// errors.Is; the returned errors wrap them with context.
var (
	// ErrInvalidConfig reports a blank path, a missing input, an existing
	// output, an unsupported output format, an unknown codec or an empty
	// input. It is raised before any run starts.
	ErrInvalidConfig = errors.New("binview: invalid configuration")

	// ErrUnsupportedInput reports an input whose square dimension exceeds
	// the maximum image extent or what the output format can encode.
	ErrUnsupportedInput = errors.New("binview: input too large")

	// ErrAlreadyInProgress is returned when Process is called while another
	// run on the same engine is admitted.
	ErrAlreadyInProgress = errors.New("binview: processing is already in progress, create a new engine to process another file")

	// ErrAlreadyFinished is returned when Process is called on an engine
	// whose single run has completed.
	ErrAlreadyFinished = errors.New("binview: processing has already finished, create a new engine to process another file")

	// ErrDisposed is returned by any operation on a closed engine.
	ErrDisposed = errors.New("binview: engine is closed")

	// ErrSinkFailure wraps errors from the image sink.
	ErrSinkFailure = errors.New("binview: writing output failed")

	// ErrDisposeTimeout is returned by Close when an in-flight run did not
	// settle within the dispose timeout.
	ErrDisposeTimeout = errors.New("binview: timed out waiting for processing to stop")
)
