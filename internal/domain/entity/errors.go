package entity

import (
	"errors"
	"fmt"
)

// MediaOpenError means the video container could not be opened or decoded.
type MediaOpenError struct {
	Path string
	Err  error
}

func (e *MediaOpenError) Error() string {
	return fmt.Sprintf("open media %q: %v", e.Path, e.Err)
}

func (e *MediaOpenError) Unwrap() error { return e.Err }

func IsMediaOpen(err error) bool {
	var e *MediaOpenError
	return errors.As(err, &e)
}

// ModelInferenceError wraps a failed flow or classifier call. Pair is -1 when the
// call was not tied to a frame pair.
type ModelInferenceError struct {
	Model string
	Pair  int
	Err   error
}

func (e *ModelInferenceError) Error() string {
	if e.Pair < 0 {
		return fmt.Sprintf("%s inference: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("%s inference on pair %d: %v", e.Model, e.Pair, e.Err)
}

func (e *ModelInferenceError) Unwrap() error { return e.Err }

func IsModelInference(err error) bool {
	var e *ModelInferenceError
	return errors.As(err, &e)
}

// DegenerateSequenceError is returned when there is nothing to aggregate.
// FrameCount is negative when the caller only knows the raster count.
type DegenerateSequenceError struct {
	FrameCount int
}

func (e *DegenerateSequenceError) Error() string {
	if e.FrameCount < 0 {
		return "degenerate sequence: no flow rasters to aggregate"
	}
	return fmt.Sprintf("degenerate sequence: %d frame(s) yield no flow pairs", e.FrameCount)
}

func IsDegenerateSequence(err error) bool {
	var e *DegenerateSequenceError
	return errors.As(err, &e)
}
