package vkdecoder

import (
	"errors"
	"fmt"
)

// Conditions detected by the decoder and its collaborators.
var (
	ErrNotInitialized         = errors.New("decoder not initialized")
	ErrUnsupportedCodec       = errors.New("video codec is not supported")
	ErrUnsupportedChroma      = errors.New("unknown chroma subsampling")
	ErrCapabilities           = errors.New("could not get video capabilities")
	ErrSupportedFormats       = errors.New("could not get supported video formats")
	ErrSessionCreation        = errors.New("could not create video session")
	ErrParametersCreation     = errors.New("could not create session parameters")
	ErrParametersUpdate       = errors.New("could not update session parameters")
	ErrInvalidParameterSet    = errors.New("invalid picture parameters")
	ErrParameterSetRebound    = errors.New("parameter set is already bound to a session")
	ErrStaleParameters        = errors.New("stale session parameters binding")
	ErrMissingParameterID     = errors.New("session parameters miss a referenced id")
	ErrFrameData              = errors.New("frame data slot mismatch")
	ErrBitstreamOverflow      = errors.New("bitstream data exceeds buffer size")
	ErrFragmentedBitstream    = errors.New("fragmented bitstream is not supported")
	ErrResourceLookup         = errors.New("image resource lookup failed")
	ErrQueuePicture           = errors.New("queue picture for decode failed")
	ErrFenceTimeout           = errors.New("fence wait timed out")
	ErrFenceNotReady          = errors.New("frame complete fence is not signaled yet")
	ErrFenceReset             = errors.New("frame complete fence reset failed")
	ErrSubmit                 = errors.New("queue submit failed")
	ErrDecodeStatus           = errors.New("decode status query is not complete")
	ErrBitstreamAllocation    = errors.New("bitstream buffer allocation failed")
	ErrTimeout                = errors.New("timeout")
	ErrDecoderClosed          = errors.New("decoder closed")
	ErrUnsupportedPlaneLayout = errors.New("formats with more than two planes are not supported")
)

// FatalError marks a condition the decoder can not recover from.
// Once returned, every later call on the same decoder returns it again.
type FatalError struct {
	Op  string
	Err error
}

// NewFatalError wraps err as a fatal failure of op.
func NewFatalError(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

// Error returns the error message for FatalError.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// SurfaceIndexError reports a picture index outside of the decode surface pool.
type SurfaceIndexError struct {
	Index int
	Count int
}

// Error returns the error message for SurfaceIndexError.
func (e *SurfaceIndexError) Error() string {
	return fmt.Sprintf("surface index %d out of range [0, %d)", e.Index, e.Count)
}

// ShortAllocationError reports an image pool smaller than requested.
type ShortAllocationError struct {
	Requested int
	Allocated int
}

// Error returns the error message for ShortAllocationError.
func (e *ShortAllocationError) Error() string {
	return fmt.Sprintf("image pool allocated %d of %d decode surfaces", e.Allocated, e.Requested)
}
